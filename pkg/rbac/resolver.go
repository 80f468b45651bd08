package rbac

import (
	"context"
	"fmt"

	"github.com/myportal/portal/pkg/orgs"
)

// MembershipSource is the slice of the tenancy store the resolver reads.
type MembershipSource interface {
	GetMembership(ctx context.Context, userID, companyID int64) (*orgs.Membership, error)
	ListUserMemberships(ctx context.Context, userID int64) ([]*orgs.Membership, error)
	ListCompanyMemberships(ctx context.Context, companyID int64) ([]*orgs.Membership, error)
}

// TokenSource supplies the current token set behind a membership's role.
type TokenSource interface {
	GetMembershipTokens(ctx context.Context, membershipID int64) ([]Token, error)
}

// Resolver is how the rest of the portal reads memberships: every fetch
// runs the role projection, so the returned capability booleans always
// reflect the role as it is now. Nothing is cached.
type Resolver struct {
	memberships MembershipSource
	tokens      TokenSource
}

// NewResolver creates a resolver over the given sources.
func NewResolver(memberships MembershipSource, tokens TokenSource) *Resolver {
	return &Resolver{memberships: memberships, tokens: tokens}
}

// Membership returns the user's membership in a company with projected
// capabilities.
func (r *Resolver) Membership(ctx context.Context, userID, companyID int64) (*orgs.Membership, error) {
	m, err := r.memberships.GetMembership(ctx, userID, companyID)
	if err != nil {
		return nil, err
	}
	if err := r.project(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// UserMemberships returns all of a user's memberships, each projected.
func (r *Resolver) UserMemberships(ctx context.Context, userID int64) ([]*orgs.Membership, error) {
	ms, err := r.memberships.ListUserMemberships(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, m := range ms {
		if err := r.project(ctx, m); err != nil {
			return nil, err
		}
	}
	return ms, nil
}

// CompanyMemberships returns all memberships in a company, each projected.
func (r *Resolver) CompanyMemberships(ctx context.Context, companyID int64) ([]*orgs.Membership, error) {
	ms, err := r.memberships.ListCompanyMemberships(ctx, companyID)
	if err != nil {
		return nil, err
	}
	for _, m := range ms {
		if err := r.project(ctx, m); err != nil {
			return nil, err
		}
	}
	return ms, nil
}

// HasNamedPermission checks a token with no boolean counterpart, such as
// helpdesk.technician. The membership must be active and its role must
// hold both portal.access and the named token.
func (r *Resolver) HasNamedPermission(ctx context.Context, userID, companyID int64, token Token) (bool, error) {
	m, err := r.memberships.GetMembership(ctx, userID, companyID)
	if err != nil {
		return false, err
	}
	if m.Status != orgs.MembershipActive {
		return false, nil
	}
	tokens, err := r.tokens.GetMembershipTokens(ctx, m.ID)
	if err != nil {
		return false, fmt.Errorf("resolving membership %d: %w", m.ID, err)
	}
	hasAccess, hasToken := false, false
	for _, t := range tokens {
		switch t {
		case TokenPortalAccess:
			hasAccess = true
		case token:
			hasToken = true
		}
	}
	return hasAccess && hasToken, nil
}

func (r *Resolver) project(ctx context.Context, m *orgs.Membership) error {
	tokens, err := r.tokens.GetMembershipTokens(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("resolving membership %d: %w", m.ID, err)
	}
	m.Capabilities = Project(m.Status, tokens)
	return nil
}
