package access

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/myportal/portal/pkg/auth"
	"github.com/myportal/portal/pkg/orgs"
	"github.com/myportal/portal/pkg/rbac"
	"github.com/myportal/portal/pkg/session"
)

// Intent tells the transport layer where to send a browser when a denial
// should read as navigation rather than an error body.
type Intent string

const (
	// IntentLogin sends an unauthenticated visitor to the login page.
	IntentLogin Intent = "login"
	// IntentRoot sends an authenticated but unauthorized user home.
	IntentRoot Intent = "root"
)

// RedirectError is a denial carrying a navigation intent. It wraps the
// underlying error kind so errors.Is still works for API callers.
type RedirectError struct {
	Intent Intent
	Err    error
}

func (e *RedirectError) Error() string {
	return fmt.Sprintf("redirect to %s: %v", e.Intent, e.Err)
}

func (e *RedirectError) Unwrap() error { return e.Err }

// Identity is the resolved context for one request, stashed on the
// request context by the entry points for handlers downstream.
type Identity struct {
	User       *orgs.User
	Session    *session.Session
	APIKey     *auth.APIKey
	Membership *orgs.Membership
	Company    *orgs.Company
}

// ActiveCompanyID returns the company this request acts within, or 0.
func (id *Identity) ActiveCompanyID() int64 {
	if id.Company != nil {
		return id.Company.ID
	}
	return 0
}

// UserSource is the slice of the tenancy store the service needs.
type UserSource interface {
	GetUser(ctx context.Context, id int64) (*orgs.User, error)
	GetCompany(ctx context.Context, id int64) (*orgs.Company, error)
}

// SessionSource loads sessions from requests and persists the active
// company selection.
type SessionSource interface {
	Load(ctx context.Context, r *http.Request, allowInactive bool) (*session.Session, error)
	SetActiveCompany(ctx context.Context, sess *session.Session, companyID int64) error
}

// KeySource authenticates API-key requests.
type KeySource interface {
	Authenticate(ctx context.Context, r *http.Request) (*auth.APIKey, error)
}

// MembershipResolver yields memberships with projected capabilities.
type MembershipResolver interface {
	Membership(ctx context.Context, userID, companyID int64) (*orgs.Membership, error)
	UserMemberships(ctx context.Context, userID int64) ([]*orgs.Membership, error)
	HasNamedPermission(ctx context.Context, userID, companyID int64, token rbac.Token) (bool, error)
}

// Service makes access decisions. It owns the super-admin bypass.
type Service struct {
	sessions SessionSource
	users    UserSource
	keys     KeySource
	resolver MembershipResolver
}

// NewService wires the decision service over its sources.
func NewService(sessions SessionSource, users UserSource, keys KeySource, resolver MembershipResolver) *Service {
	return &Service{sessions: sessions, users: users, keys: keys, resolver: resolver}
}

// RequireAuthenticated loads the session and its user and resolves the
// active company. A missing or dead session comes back as a RedirectError
// with the login intent.
func (s *Service) RequireAuthenticated(ctx context.Context, r *http.Request) (*Identity, error) {
	sess, err := s.sessions.Load(ctx, r, false)
	if err != nil {
		return nil, &RedirectError{Intent: IntentLogin, Err: err}
	}

	user, err := s.users.GetUser(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			// valid session, vanished user
			return nil, &RedirectError{Intent: IntentLogin, Err: auth.ErrMissingIdentity}
		}
		return nil, err
	}
	if user.Disabled {
		return nil, &RedirectError{Intent: IntentLogin, Err: auth.ErrMissingIdentity}
	}

	id := &Identity{User: user, Session: sess}
	if err := s.resolveActiveCompany(ctx, id); err != nil {
		return nil, err
	}
	return id, nil
}

// resolveActiveCompany picks the tenant the request acts within: the
// session's selection if the user can still use it, else the user's first
// accessible company, else none. The selection is soft state; membership
// is always re-verified.
func (s *Service) resolveActiveCompany(ctx context.Context, id *Identity) error {
	if companyID := id.Session.ActiveCompanyID; companyID != nil {
		if ok, err := s.companyAccessible(ctx, id.User, *companyID); err != nil {
			return err
		} else if ok {
			return s.adoptCompany(ctx, id, *companyID)
		}
	}

	// fall back to the first accessible company
	if id.User.IsSuperAdmin {
		// super-admins act in whatever tenant they navigate to; with no
		// selection they have no active company until they pick one
		return nil
	}
	memberships, err := s.resolver.UserMemberships(ctx, id.User.ID)
	if err != nil {
		return err
	}
	for _, m := range memberships {
		if m.Status == orgs.MembershipActive {
			if err := s.adoptCompany(ctx, id, m.CompanyID); err != nil {
				return err
			}
			id.Membership = m
			return nil
		}
	}
	return nil
}

func (s *Service) companyAccessible(ctx context.Context, user *orgs.User, companyID int64) (bool, error) {
	if user.IsSuperAdmin {
		return true, nil
	}
	m, err := s.resolver.Membership(ctx, user.ID, companyID)
	if errors.Is(err, auth.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return m.Status == orgs.MembershipActive, nil
}

func (s *Service) adoptCompany(ctx context.Context, id *Identity, companyID int64) error {
	company, err := s.users.GetCompany(ctx, companyID)
	if err != nil {
		return err
	}
	id.Company = company
	if id.Session.ActiveCompanyID == nil || *id.Session.ActiveCompanyID != companyID {
		if err := s.sessions.SetActiveCompany(ctx, id.Session, companyID); err != nil {
			return err
		}
	}
	return nil
}

// RequireSuperAdmin admits only super-admin sessions.
func (s *Service) RequireSuperAdmin(ctx context.Context, r *http.Request) (*Identity, error) {
	id, err := s.RequireAuthenticated(ctx, r)
	if err != nil {
		return nil, err
	}
	if !id.User.IsSuperAdmin {
		return nil, fmt.Errorf("user %d is not a super admin: %w", id.User.ID, auth.ErrForbidden)
	}
	return id, nil
}

// RequireAPIKey admits requests carrying a valid API key for this route.
func (s *Service) RequireAPIKey(ctx context.Context, r *http.Request) (*Identity, error) {
	key, err := s.keys.Authenticate(ctx, r)
	if err != nil {
		return nil, err
	}
	return &Identity{APIKey: key}, nil
}

// RequireCompanySection admits a user into a tenant-scoped section gated
// by one capability. Super-admins get a synthesised membership with every
// capability so no tenant page can lock them out; nobody else skips the
// membership check.
func (s *Service) RequireCompanySection(ctx context.Context, r *http.Request, capability orgs.Capability) (*Identity, error) {
	id, err := s.RequireAuthenticated(ctx, r)
	if err != nil {
		return nil, err
	}

	if id.User.IsSuperAdmin {
		id.Membership = s.synthesizeMembership(id)
		return id, nil
	}

	if id.Company == nil {
		return nil, fmt.Errorf("user %d has no accessible company: %w", id.User.ID, auth.ErrNoTenantContext)
	}

	if id.Membership == nil || id.Membership.CompanyID != id.Company.ID {
		m, err := s.resolver.Membership(ctx, id.User.ID, id.Company.ID)
		if err != nil {
			return nil, err
		}
		id.Membership = m
	}

	if !id.Membership.Has(capability) {
		return nil, &RedirectError{Intent: IntentRoot, Err: auth.ErrForbidden}
	}
	return id, nil
}

func (s *Service) synthesizeMembership(id *Identity) *orgs.Membership {
	m := &orgs.Membership{
		UserID: id.User.ID,
		Status: orgs.MembershipActive,
	}
	if id.Company != nil {
		m.CompanyID = id.Company.ID
	}
	m.Capabilities = orgs.AllCapabilities()
	return m
}

// HasNamedPermission answers checks on tokens with no projected boolean,
// such as the cross-tenant helpdesk technician role. Super-admins pass.
func (s *Service) HasNamedPermission(ctx context.Context, id *Identity, companyID int64, token rbac.Token) (bool, error) {
	if id.User != nil && id.User.IsSuperAdmin {
		return true, nil
	}
	if id.User == nil {
		return false, auth.ErrNoCredential
	}
	ok, err := s.resolver.HasNamedPermission(ctx, id.User.ID, companyID, token)
	if errors.Is(err, auth.ErrNotFound) {
		return false, nil
	}
	return ok, err
}
