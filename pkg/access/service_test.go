package access

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/myportal/portal/pkg/auth"
	"github.com/myportal/portal/pkg/orgs"
	"github.com/myportal/portal/pkg/rbac"
	"github.com/myportal/portal/pkg/session"
)

type fakeSessions struct {
	sess      *session.Session
	loadErr   error
	adoptions []int64
}

func (f *fakeSessions) Load(_ context.Context, _ *http.Request, _ bool) (*session.Session, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.sess, nil
}

func (f *fakeSessions) SetActiveCompany(_ context.Context, sess *session.Session, companyID int64) error {
	f.adoptions = append(f.adoptions, companyID)
	sess.ActiveCompanyID = &companyID
	return nil
}

type fakeUsers struct {
	users     map[int64]*orgs.User
	companies map[int64]*orgs.Company
}

func (f *fakeUsers) GetUser(_ context.Context, id int64) (*orgs.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return u, nil
}

func (f *fakeUsers) GetCompany(_ context.Context, id int64) (*orgs.Company, error) {
	c, ok := f.companies[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return c, nil
}

type fakeKeys struct {
	key *auth.APIKey
	err error
}

func (f *fakeKeys) Authenticate(_ context.Context, _ *http.Request) (*auth.APIKey, error) {
	return f.key, f.err
}

type fakeResolver struct {
	memberships map[[2]int64]*orgs.Membership
	named       map[[2]int64]bool
	calls       int
}

func (f *fakeResolver) Membership(_ context.Context, userID, companyID int64) (*orgs.Membership, error) {
	f.calls++
	m, ok := f.memberships[[2]int64{userID, companyID}]
	if !ok {
		return nil, auth.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (f *fakeResolver) UserMemberships(_ context.Context, userID int64) ([]*orgs.Membership, error) {
	var out []*orgs.Membership
	for pair, m := range f.memberships {
		if pair[0] == userID {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeResolver) HasNamedPermission(_ context.Context, userID, companyID int64, _ rbac.Token) (bool, error) {
	return f.named[[2]int64{userID, companyID}], nil
}

type fixture struct {
	svc      *Service
	sessions *fakeSessions
	users    *fakeUsers
	keys     *fakeKeys
	resolver *fakeResolver
}

func newFixture() *fixture {
	f := &fixture{
		sessions: &fakeSessions{},
		users: &fakeUsers{
			users:     map[int64]*orgs.User{},
			companies: map[int64]*orgs.Company{},
		},
		keys:     &fakeKeys{},
		resolver: &fakeResolver{memberships: map[[2]int64]*orgs.Membership{}, named: map[[2]int64]bool{}},
	}
	f.svc = NewService(f.sessions, f.users, f.keys, f.resolver)
	return f
}

func (f *fixture) addUser(id int64, superAdmin bool) *orgs.User {
	u := &orgs.User{ID: id, Email: "u@example.com", IsSuperAdmin: superAdmin}
	f.users.users[id] = u
	return u
}

func (f *fixture) addCompany(id int64) {
	f.users.companies[id] = &orgs.Company{ID: id, Name: "Co"}
}

func (f *fixture) addMembership(userID, companyID int64, caps orgs.Capabilities) {
	f.resolver.memberships[[2]int64{userID, companyID}] = &orgs.Membership{
		ID: userID*100 + companyID, UserID: userID, CompanyID: companyID,
		Status: orgs.MembershipActive, Capabilities: caps,
	}
}

func (f *fixture) session(userID int64, activeCompany *int64) {
	f.sessions.sess = &session.Session{Token: "tok", UserID: userID, ActiveCompanyID: activeCompany}
}

func req() *http.Request {
	return httptest.NewRequest(http.MethodGet, "/licenses", nil)
}

func TestRequireAuthenticated_NoSessionRedirectsToLogin(t *testing.T) {
	f := newFixture()
	f.sessions.loadErr = auth.ErrNoCredential

	_, err := f.svc.RequireAuthenticated(context.Background(), req())
	var redir *RedirectError
	if !errors.As(err, &redir) || redir.Intent != IntentLogin {
		t.Fatalf("expected login redirect, got %v", err)
	}
	if !errors.Is(err, auth.ErrNoCredential) {
		t.Fatalf("redirect should wrap the credential error, got %v", err)
	}
}

func TestRequireAuthenticated_VanishedUser(t *testing.T) {
	f := newFixture()
	f.session(7, nil)

	_, err := f.svc.RequireAuthenticated(context.Background(), req())
	if !errors.Is(err, auth.ErrMissingIdentity) {
		t.Fatalf("expected ErrMissingIdentity for vanished user, got %v", err)
	}
}

func TestRequireAuthenticated_KeepsAuthorizedSelection(t *testing.T) {
	f := newFixture()
	f.addUser(7, false)
	f.addCompany(3)
	f.addMembership(7, 3, orgs.Capabilities{})
	companyID := int64(3)
	f.session(7, &companyID)

	id, err := f.svc.RequireAuthenticated(context.Background(), req())
	if err != nil {
		t.Fatalf("RequireAuthenticated: %v", err)
	}
	if id.ActiveCompanyID() != 3 {
		t.Errorf("active company = %d, want 3", id.ActiveCompanyID())
	}
	if len(f.sessions.adoptions) != 0 {
		t.Errorf("selection already persisted, no write expected: %v", f.sessions.adoptions)
	}
}

func TestRequireAuthenticated_StaleSelectionFallsBack(t *testing.T) {
	f := newFixture()
	f.addUser(7, false)
	f.addCompany(9)
	f.addMembership(7, 9, orgs.Capabilities{})
	stale := int64(3) // no membership there anymore
	f.session(7, &stale)

	id, err := f.svc.RequireAuthenticated(context.Background(), req())
	if err != nil {
		t.Fatalf("RequireAuthenticated: %v", err)
	}
	if id.ActiveCompanyID() != 9 {
		t.Errorf("active company = %d, want fallback 9", id.ActiveCompanyID())
	}
	if len(f.sessions.adoptions) != 1 || f.sessions.adoptions[0] != 9 {
		t.Errorf("fallback not persisted: %v", f.sessions.adoptions)
	}
}

func TestRequireAuthenticated_NoCompanyAtAll(t *testing.T) {
	f := newFixture()
	f.addUser(7, false)
	f.session(7, nil)

	id, err := f.svc.RequireAuthenticated(context.Background(), req())
	if err != nil {
		t.Fatalf("RequireAuthenticated: %v", err)
	}
	if id.Company != nil {
		t.Errorf("expected no active company, got %d", id.Company.ID)
	}
}

func TestRequireSuperAdmin(t *testing.T) {
	f := newFixture()
	f.addUser(7, false)
	f.session(7, nil)

	_, err := f.svc.RequireSuperAdmin(context.Background(), req())
	if !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for ordinary user, got %v", err)
	}

	f.addUser(8, true)
	f.session(8, nil)
	id, err := f.svc.RequireSuperAdmin(context.Background(), req())
	if err != nil {
		t.Fatalf("RequireSuperAdmin: %v", err)
	}
	if !id.User.IsSuperAdmin {
		t.Error("identity should carry the super admin user")
	}
}

func TestRequireCompanySection_SuperAdminSynthesizesMembership(t *testing.T) {
	f := newFixture()
	f.addUser(8, true)
	f.addCompany(3)
	companyID := int64(3)
	f.session(8, &companyID)

	id, err := f.svc.RequireCompanySection(context.Background(), req(), orgs.CapManageLicenses)
	if err != nil {
		t.Fatalf("RequireCompanySection: %v", err)
	}
	if id.Membership == nil {
		t.Fatal("expected synthesised membership")
	}
	if !id.Membership.Has(orgs.CapManageLicenses) || !id.Membership.Has(orgs.CapCompanyAdmin) {
		t.Errorf("synthesised membership missing capabilities: %+v", id.Membership.Capabilities)
	}
	if id.Membership.StaffPermission != orgs.StaffViewAll {
		t.Errorf("staff permission = %d, want %d", id.Membership.StaffPermission, orgs.StaffViewAll)
	}
	// membership rows were never consulted
	if f.resolver.calls != 0 {
		t.Errorf("resolver consulted %d times for super admin, want 0", f.resolver.calls)
	}
}

func TestRequireCompanySection_CapabilityDeniedRedirectsHome(t *testing.T) {
	f := newFixture()
	f.addUser(7, false)
	f.addCompany(3)
	f.addMembership(7, 3, orgs.Capabilities{CanAccessShop: true})
	companyID := int64(3)
	f.session(7, &companyID)

	_, err := f.svc.RequireCompanySection(context.Background(), req(), orgs.CapManageLicenses)
	var redir *RedirectError
	if !errors.As(err, &redir) || redir.Intent != IntentRoot {
		t.Fatalf("expected root redirect, got %v", err)
	}
	if !errors.Is(err, auth.ErrForbidden) {
		t.Fatalf("redirect should wrap ErrForbidden, got %v", err)
	}
}

func TestRequireCompanySection_GrantedCapability(t *testing.T) {
	f := newFixture()
	f.addUser(7, false)
	f.addCompany(3)
	f.addMembership(7, 3, orgs.Capabilities{CanManageLicenses: true})
	companyID := int64(3)
	f.session(7, &companyID)

	id, err := f.svc.RequireCompanySection(context.Background(), req(), orgs.CapManageLicenses)
	if err != nil {
		t.Fatalf("RequireCompanySection: %v", err)
	}
	if id.Membership.UserID != 7 || id.Membership.CompanyID != 3 {
		t.Errorf("wrong membership resolved: %+v", id.Membership)
	}
}

func TestRequireCompanySection_NoTenant(t *testing.T) {
	f := newFixture()
	f.addUser(7, false)
	f.session(7, nil)

	_, err := f.svc.RequireCompanySection(context.Background(), req(), orgs.CapAccessShop)
	if !errors.Is(err, auth.ErrNoTenantContext) {
		t.Fatalf("expected ErrNoTenantContext, got %v", err)
	}
}

func TestRequireAPIKey(t *testing.T) {
	f := newFixture()
	f.keys.key = &auth.APIKey{ID: 5, Prefix: "portal_a"}

	id, err := f.svc.RequireAPIKey(context.Background(), req())
	if err != nil {
		t.Fatalf("RequireAPIKey: %v", err)
	}
	if id.APIKey == nil || id.APIKey.ID != 5 {
		t.Errorf("identity missing key: %+v", id)
	}

	f.keys.key, f.keys.err = nil, auth.ErrInvalidCredential
	if _, err := f.svc.RequireAPIKey(context.Background(), req()); !errors.Is(err, auth.ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", err)
	}
}

func TestHasNamedPermission(t *testing.T) {
	f := newFixture()
	tech := f.addUser(7, false)
	f.resolver.named[[2]int64{7, 3}] = true

	ok, err := f.svc.HasNamedPermission(context.Background(), &Identity{User: tech}, 3, rbac.TokenHelpdeskTechnician)
	if err != nil || !ok {
		t.Fatalf("expected granted, got ok=%v err=%v", ok, err)
	}

	ok, err = f.svc.HasNamedPermission(context.Background(), &Identity{User: tech}, 4, rbac.TokenHelpdeskTechnician)
	if err != nil || ok {
		t.Fatalf("expected denied in other company, got ok=%v err=%v", ok, err)
	}

	admin := f.addUser(8, true)
	ok, err = f.svc.HasNamedPermission(context.Background(), &Identity{User: admin}, 99, rbac.TokenHelpdeskTechnician)
	if err != nil || !ok {
		t.Fatalf("super admin should pass, got ok=%v err=%v", ok, err)
	}
}
