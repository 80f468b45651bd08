package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/myportal/portal/pkg/auth"
	"github.com/myportal/portal/pkg/orgs"
)

// Scope is the baseline visibility of a resource that carries its own ACL,
// such as knowledge-base articles and continuity plans.
type Scope string

const (
	ScopeAnonymous    Scope = "anonymous"
	ScopeUser         Scope = "user"
	ScopeCompany      Scope = "company"
	ScopeCompanyAdmin Scope = "company_admin"
	ScopeSuperAdmin   Scope = "super_admin"
)

// GrantLevel is what an explicit grant confers. Edit implies read.
type GrantLevel string

const (
	GrantRead GrantLevel = "read"
	GrantEdit GrantLevel = "edit"
)

// Grant ties one principal, a user or a company, to a resource. Grants
// only ever widen access; there is no deny.
type Grant struct {
	UserID    *int64     `json:"user_id,omitempty"`
	CompanyID *int64     `json:"company_id,omitempty"`
	Level     GrantLevel `json:"level"`
}

// ACL is the access-control state a resource carries.
type ACL struct {
	Scope             Scope   `json:"permission_scope"`
	AllowedCompanyIDs []int64 `json:"allowed_company_ids,omitempty"`
	Published         bool    `json:"published"`
	Grants            []Grant `json:"grants,omitempty"`
}

// Authorizer decides visibility and editability for ACL-carrying
// resources. Identity resolution happens upstream; this only judges.
type Authorizer struct {
	resolver MembershipResolver
}

// NewAuthorizer creates an authorizer over the membership resolver.
func NewAuthorizer(resolver MembershipResolver) *Authorizer {
	return &Authorizer{resolver: resolver}
}

// CanRead reports whether the identity may see the resource. id may be
// nil for anonymous visitors.
func (a *Authorizer) CanRead(ctx context.Context, id *Identity, acl *ACL) (bool, error) {
	if isSuperAdmin(id) {
		return true, nil
	}
	if !acl.Published {
		return false, nil
	}

	switch acl.Scope {
	case ScopeAnonymous:
		return true, nil
	case ScopeUser:
		if id != nil && id.User != nil {
			return true, nil
		}
	case ScopeCompany:
		if ok, err := a.memberOfAny(ctx, id, acl.AllowedCompanyIDs, false); err != nil || ok {
			return ok, err
		}
	case ScopeCompanyAdmin:
		if ok, err := a.memberOfAny(ctx, id, acl.AllowedCompanyIDs, true); err != nil || ok {
			return ok, err
		}
	case ScopeSuperAdmin:
		// handled above; everyone else falls through to grants
	}

	return a.granted(ctx, id, acl, GrantRead)
}

// CanEdit reports whether the identity may modify the resource. Scope
// never confers edit; only an explicit edit grant or super-admin does.
func (a *Authorizer) CanEdit(ctx context.Context, id *Identity, acl *ACL) (bool, error) {
	if isSuperAdmin(id) {
		return true, nil
	}
	return a.granted(ctx, id, acl, GrantEdit)
}

// AuthorizeRead is CanRead with the deny masked as a missing resource, so
// callers cannot learn that something exists without being allowed to see
// it.
func (a *Authorizer) AuthorizeRead(ctx context.Context, id *Identity, acl *ACL) error {
	ok, err := a.CanRead(ctx, id, acl)
	if err != nil {
		return err
	}
	if !ok {
		return auth.ErrNotFound
	}
	return nil
}

// AuthorizeEdit masks edit denial the same way when the requester cannot
// read either; a reader who cannot edit sees a plain forbidden.
func (a *Authorizer) AuthorizeEdit(ctx context.Context, id *Identity, acl *ACL) error {
	ok, err := a.CanEdit(ctx, id, acl)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	readable, err := a.CanRead(ctx, id, acl)
	if err != nil {
		return err
	}
	if !readable {
		return auth.ErrNotFound
	}
	return auth.ErrForbidden
}

func isSuperAdmin(id *Identity) bool {
	return id != nil && id.User != nil && id.User.IsSuperAdmin
}

// memberOfAny checks for an active membership in one of the listed
// companies, optionally requiring the admin capability.
func (a *Authorizer) memberOfAny(ctx context.Context, id *Identity, companyIDs []int64, needAdmin bool) (bool, error) {
	if id == nil || id.User == nil {
		return false, nil
	}
	for _, companyID := range companyIDs {
		m, err := a.resolver.Membership(ctx, id.User.ID, companyID)
		if errors.Is(err, auth.ErrNotFound) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("checking membership in company %d: %w", companyID, err)
		}
		if m.Status != orgs.MembershipActive {
			continue
		}
		if needAdmin && !m.IsAdmin {
			continue
		}
		return true, nil
	}
	return false, nil
}

// granted checks explicit grants at the given level. Edit grants satisfy
// read checks too.
func (a *Authorizer) granted(ctx context.Context, id *Identity, acl *ACL, level GrantLevel) (bool, error) {
	if id == nil || id.User == nil {
		return false, nil
	}
	for _, g := range acl.Grants {
		if g.Level != level && !(level == GrantRead && g.Level == GrantEdit) {
			continue
		}
		if g.UserID != nil && *g.UserID == id.User.ID {
			return true, nil
		}
		if g.CompanyID != nil {
			ok, err := a.memberOfAny(ctx, id, []int64{*g.CompanyID}, false)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
	}
	return false, nil
}
