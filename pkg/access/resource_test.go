package access

import (
	"context"
	"errors"
	"testing"

	"github.com/myportal/portal/pkg/auth"
	"github.com/myportal/portal/pkg/orgs"
)

func newAuthorizerFixture() (*Authorizer, *fakeResolver) {
	resolver := &fakeResolver{memberships: map[[2]int64]*orgs.Membership{}, named: map[[2]int64]bool{}}
	return NewAuthorizer(resolver), resolver
}

func identityFor(userID int64, superAdmin bool) *Identity {
	return &Identity{User: &orgs.User{ID: userID, IsSuperAdmin: superAdmin}}
}

func addActiveMember(r *fakeResolver, userID, companyID int64, admin bool) {
	r.memberships[[2]int64{userID, companyID}] = &orgs.Membership{
		UserID: userID, CompanyID: companyID, Status: orgs.MembershipActive,
		Capabilities: orgs.Capabilities{IsAdmin: admin},
	}
}

func TestCanRead_ScopeLadder(t *testing.T) {
	authz, resolver := newAuthorizerFixture()
	addActiveMember(resolver, 7, 3, false)
	addActiveMember(resolver, 8, 3, true)

	member := identityFor(7, false)
	admin := identityFor(8, false)
	outsider := identityFor(9, false)

	tests := []struct {
		name string
		acl  ACL
		id   *Identity
		want bool
	}{
		{"anonymous scope, no identity", ACL{Scope: ScopeAnonymous, Published: true}, nil, true},
		{"user scope, no identity", ACL{Scope: ScopeUser, Published: true}, nil, false},
		{"user scope, any user", ACL{Scope: ScopeUser, Published: true}, outsider, true},
		{"company scope, member", ACL{Scope: ScopeCompany, Published: true, AllowedCompanyIDs: []int64{3}}, member, true},
		{"company scope, outsider", ACL{Scope: ScopeCompany, Published: true, AllowedCompanyIDs: []int64{3}}, outsider, false},
		{"company_admin scope, plain member", ACL{Scope: ScopeCompanyAdmin, Published: true, AllowedCompanyIDs: []int64{3}}, member, false},
		{"company_admin scope, admin", ACL{Scope: ScopeCompanyAdmin, Published: true, AllowedCompanyIDs: []int64{3}}, admin, true},
		{"super_admin scope, ordinary user", ACL{Scope: ScopeSuperAdmin, Published: true}, member, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := authz.CanRead(context.Background(), tt.id, &tt.acl)
			if err != nil {
				t.Fatalf("CanRead: %v", err)
			}
			if got != tt.want {
				t.Errorf("CanRead = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCanRead_SuperAdminSeesEverything(t *testing.T) {
	authz, _ := newAuthorizerFixture()
	admin := identityFor(1, true)

	for _, acl := range []ACL{
		{Scope: ScopeSuperAdmin, Published: true},
		{Scope: ScopeCompany, Published: true, AllowedCompanyIDs: []int64{3}},
		{Scope: ScopeUser, Published: false}, // unpublished
	} {
		ok, err := authz.CanRead(context.Background(), admin, &acl)
		if err != nil || !ok {
			t.Errorf("super admin denied on %+v: ok=%v err=%v", acl, ok, err)
		}
	}
}

func TestCanRead_UnpublishedHiddenFromEveryoneElse(t *testing.T) {
	authz, resolver := newAuthorizerFixture()
	addActiveMember(resolver, 7, 3, true)

	acl := &ACL{Scope: ScopeAnonymous, Published: false}
	ok, err := authz.CanRead(context.Background(), identityFor(7, false), acl)
	if err != nil {
		t.Fatalf("CanRead: %v", err)
	}
	if ok {
		t.Error("unpublished resource visible to non-super-admin")
	}
}

func TestCanRead_GrantsWidenScope(t *testing.T) {
	authz, resolver := newAuthorizerFixture()
	addActiveMember(resolver, 7, 3, false) // member of allowed company
	addActiveMember(resolver, 9, 5, false) // member of granted company

	userID := int64(8)
	companyID := int64(5)
	acl := &ACL{
		Scope:             ScopeCompany,
		Published:         true,
		AllowedCompanyIDs: []int64{3},
		Grants: []Grant{
			{UserID: &userID, Level: GrantRead},
			{CompanyID: &companyID, Level: GrantEdit},
		},
	}

	// user grant admits a user with no membership anywhere
	ok, err := authz.CanRead(context.Background(), identityFor(8, false), acl)
	if err != nil || !ok {
		t.Fatalf("user grant did not admit: ok=%v err=%v", ok, err)
	}

	// an edit-level company grant confers read for its members
	ok, err = authz.CanRead(context.Background(), identityFor(9, false), acl)
	if err != nil || !ok {
		t.Fatalf("company edit grant did not admit reader: ok=%v err=%v", ok, err)
	}

	// no membership, no grant
	ok, err = authz.CanRead(context.Background(), identityFor(10, false), acl)
	if err != nil || ok {
		t.Fatalf("ungranted outsider admitted: ok=%v err=%v", ok, err)
	}
}

func TestCanEdit_ScopeNeverConfersEdit(t *testing.T) {
	authz, resolver := newAuthorizerFixture()
	addActiveMember(resolver, 8, 3, true)

	acl := &ACL{Scope: ScopeCompanyAdmin, Published: true, AllowedCompanyIDs: []int64{3}}
	ok, err := authz.CanEdit(context.Background(), identityFor(8, false), acl)
	if err != nil {
		t.Fatalf("CanEdit: %v", err)
	}
	if ok {
		t.Error("scope alone conferred edit")
	}

	userID := int64(8)
	acl.Grants = []Grant{{UserID: &userID, Level: GrantEdit}}
	ok, err = authz.CanEdit(context.Background(), identityFor(8, false), acl)
	if err != nil || !ok {
		t.Fatalf("explicit edit grant denied: ok=%v err=%v", ok, err)
	}

	// a read-level grant is not enough
	acl.Grants = []Grant{{UserID: &userID, Level: GrantRead}}
	ok, err = authz.CanEdit(context.Background(), identityFor(8, false), acl)
	if err != nil || ok {
		t.Fatalf("read grant conferred edit: ok=%v err=%v", ok, err)
	}
}

func TestAuthorizeRead_MasksDenialAsNotFound(t *testing.T) {
	authz, _ := newAuthorizerFixture()
	acl := &ACL{Scope: ScopeCompany, Published: true, AllowedCompanyIDs: []int64{3}}

	err := authz.AuthorizeRead(context.Background(), identityFor(10, false), acl)
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("denial should read as not found, got %v", err)
	}
}

func TestAuthorizeEdit_ReaderGetsForbidden(t *testing.T) {
	authz, resolver := newAuthorizerFixture()
	addActiveMember(resolver, 7, 3, false)
	acl := &ACL{Scope: ScopeCompany, Published: true, AllowedCompanyIDs: []int64{3}}

	// can read, cannot edit: a plain forbidden, no masking
	err := authz.AuthorizeEdit(context.Background(), identityFor(7, false), acl)
	if !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("reader without edit grant: want ErrForbidden, got %v", err)
	}

	// cannot even read: masked
	err = authz.AuthorizeEdit(context.Background(), identityFor(10, false), acl)
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("invisible resource: want ErrNotFound, got %v", err)
	}
}
