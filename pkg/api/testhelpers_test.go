package api

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/myportal/portal/pkg/access"
	"github.com/myportal/portal/pkg/audit"
	"github.com/myportal/portal/pkg/auth"
	"github.com/myportal/portal/pkg/notify"
	"github.com/myportal/portal/pkg/orgs"
	"github.com/myportal/portal/pkg/rbac"
	"github.com/myportal/portal/pkg/session"
)

const testPepper = "test-pepper"

type fakeDirectory struct {
	byID      map[int64]*orgs.User
	companies map[int64]*orgs.Company
}

func (f *fakeDirectory) GetUser(_ context.Context, id int64) (*orgs.User, error) {
	if u, ok := f.byID[id]; ok {
		return u, nil
	}
	return nil, auth.ErrNotFound
}

func (f *fakeDirectory) GetUserByEmail(_ context.Context, email string) (*orgs.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range f.byID {
		if strings.ToLower(u.Email) == email {
			return u, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (f *fakeDirectory) GetCompany(_ context.Context, id int64) (*orgs.Company, error) {
	if c, ok := f.companies[id]; ok {
		return c, nil
	}
	return nil, auth.ErrNotFound
}

type fakeSessions struct {
	byToken    map[string]*session.Session
	created    int
	revoked    []string
	revokedAll []int64
	adopted    []int64
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{byToken: make(map[string]*session.Session)}
}

func (f *fakeSessions) Create(_ context.Context, userID int64, ip, userAgent string) (*session.Session, error) {
	f.created++
	sess := &session.Session{
		Token:     fmt.Sprintf("tok-%d", f.created),
		CSRFToken: fmt.Sprintf("csrf-%d", f.created),
		UserID:    userID,
		IPAddress: ip,
		UserAgent: userAgent,
		ExpiresAt: time.Now().Add(time.Hour),
	}
	f.byToken[sess.Token] = sess
	return sess, nil
}

func (f *fakeSessions) Load(_ context.Context, r *http.Request, _ bool) (*session.Session, error) {
	cookie, err := r.Cookie(session.CookieName)
	if err != nil {
		return nil, auth.ErrNoCredential
	}
	if sess, ok := f.byToken[cookie.Value]; ok {
		return sess, nil
	}
	return nil, auth.ErrInvalidCredential
}

func (f *fakeSessions) SetActiveCompany(_ context.Context, sess *session.Session, companyID int64) error {
	sess.ActiveCompanyID = &companyID
	f.adopted = append(f.adopted, companyID)
	return nil
}

func (f *fakeSessions) Revoke(_ context.Context, token string) error {
	delete(f.byToken, token)
	f.revoked = append(f.revoked, token)
	return nil
}

func (f *fakeSessions) RevokeAllForUser(_ context.Context, userID int64) error {
	for token, sess := range f.byToken {
		if sess.UserID == userID {
			delete(f.byToken, token)
		}
	}
	f.revokedAll = append(f.revokedAll, userID)
	return nil
}

type fakeResolver struct {
	byPair map[string]*orgs.Membership
}

func pairKey(userID, companyID int64) string {
	return fmt.Sprintf("%d/%d", userID, companyID)
}

func (f *fakeResolver) Membership(_ context.Context, userID, companyID int64) (*orgs.Membership, error) {
	if m, ok := f.byPair[pairKey(userID, companyID)]; ok {
		return m, nil
	}
	return nil, auth.ErrNotFound
}

func (f *fakeResolver) UserMemberships(_ context.Context, userID int64) ([]*orgs.Membership, error) {
	var out []*orgs.Membership
	for _, m := range f.byPair {
		if m.UserID == userID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeResolver) HasNamedPermission(_ context.Context, userID, companyID int64, token rbac.Token) (bool, error) {
	return false, nil
}

// fakeKeySource accepts any request when a key is set, otherwise denies.
type fakeKeySource struct {
	key *auth.APIKey
}

func (f *fakeKeySource) Authenticate(context.Context, *http.Request) (*auth.APIKey, error) {
	if f.key != nil {
		return f.key, nil
	}
	return nil, auth.ErrNoCredential
}

type fakeRoles struct {
	byID   map[int64]*rbac.Role
	nextID int64
}

func (f *fakeRoles) CreateRole(_ context.Context, role *rbac.Role) error {
	f.nextID++
	role.ID = f.nextID
	f.byID[role.ID] = role
	return nil
}

func (f *fakeRoles) GetRole(_ context.Context, id int64) (*rbac.Role, error) {
	if role, ok := f.byID[id]; ok {
		return role, nil
	}
	return nil, auth.ErrNotFound
}

func (f *fakeRoles) ListRoles(_ context.Context, companyID int64) ([]*rbac.Role, error) {
	var out []*rbac.Role
	for _, role := range f.byID {
		if role.CompanyID == nil || *role.CompanyID == companyID {
			out = append(out, role)
		}
	}
	return out, nil
}

func (f *fakeRoles) UpdateRole(_ context.Context, role *rbac.Role) error {
	if _, ok := f.byID[role.ID]; !ok {
		return auth.ErrNotFound
	}
	f.byID[role.ID] = role
	return nil
}

func (f *fakeRoles) DeleteRole(_ context.Context, id int64) error {
	if _, ok := f.byID[id]; !ok {
		return auth.ErrNotFound
	}
	delete(f.byID, id)
	return nil
}

type fakeKeys struct {
	byID   map[int64]*auth.APIKey
	nextID int64
}

func (f *fakeKeys) Create(_ context.Context, key *auth.APIKey) error {
	f.nextID++
	key.ID = f.nextID
	key.CreatedAt = time.Now().UTC()
	f.byID[key.ID] = key
	return nil
}

func (f *fakeKeys) List(_ context.Context) ([]auth.APIKey, error) {
	var out []auth.APIKey
	for _, k := range f.byID {
		out = append(out, *k)
	}
	return out, nil
}

func (f *fakeKeys) Delete(_ context.Context, keyID int64) error {
	if _, ok := f.byID[keyID]; !ok {
		return auth.ErrNotFound
	}
	delete(f.byID, keyID)
	return nil
}

func (f *fakeKeys) ListUsage(_ context.Context, keyID int64) ([]auth.KeyUsage, error) {
	return nil, nil
}

type fakeNotifications struct {
	byUser map[int64][]*notify.Notification
}

func (f *fakeNotifications) ListForUser(_ context.Context, userID int64, unreadOnly bool, _ int) ([]*notify.Notification, error) {
	var out []*notify.Notification
	for _, n := range f.byUser[userID] {
		if unreadOnly && n.ReadAt != nil {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

func (f *fakeNotifications) MarkRead(_ context.Context, id, userID int64) error {
	for _, n := range f.byUser[userID] {
		if n.ID == id {
			now := time.Now()
			n.ReadAt = &now
			return nil
		}
	}
	return auth.ErrNotFound
}

type nullInserter struct{}

func (nullInserter) Insert(context.Context, *audit.Entry) error { return nil }

// fixture is a fully wired server over in-memory fakes.
type fixture struct {
	server    *Server
	router    *mux.Router
	directory *fakeDirectory
	sessions  *fakeSessions
	resolver  *fakeResolver
	roles     *fakeRoles
	keys      *fakeKeys
	keySource *fakeKeySource
	notes     *fakeNotifications
	hasher    *auth.Hasher
}

func newFixture() *fixture {
	hasher := auth.NewHasher(testPepper)
	directory := &fakeDirectory{
		byID:      make(map[int64]*orgs.User),
		companies: make(map[int64]*orgs.Company),
	}
	sessions := newFakeSessions()
	resolver := &fakeResolver{byPair: make(map[string]*orgs.Membership)}
	roles := &fakeRoles{byID: make(map[int64]*rbac.Role)}
	keys := &fakeKeys{byID: make(map[int64]*auth.APIKey)}
	notes := &fakeNotifications{byUser: make(map[int64][]*notify.Notification)}
	keySource := &fakeKeySource{}

	accessSvc := access.NewService(sessions, directory, keySource, resolver)
	auditor := audit.NewWriter(nullInserter{}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	server := NewServer(accessSvc, directory, sessions, roles, keys, notes, resolver,
		hasher, auditor, nil, Config{SessionTTL: time.Hour, SecureCookies: false})

	router := mux.NewRouter()
	server.RegisterRoutes(router)

	return &fixture{
		server:    server,
		router:    router,
		directory: directory,
		sessions:  sessions,
		resolver:  resolver,
		roles:     roles,
		keys:      keys,
		keySource: keySource,
		notes:     notes,
		hasher:    hasher,
	}
}

// testPasswordHash is computed once; bcrypt is deliberately slow.
var testPasswordHash = func() string {
	h, err := auth.HashPassword("secret")
	if err != nil {
		panic(err)
	}
	return h
}()

// addUser registers a user whose password is "secret".
func (f *fixture) addUser(id int64, email string, superAdmin bool) *orgs.User {
	u := &orgs.User{
		ID:           id,
		Email:        email,
		PasswordHash: testPasswordHash,
		IsSuperAdmin: superAdmin,
	}
	f.directory.byID[id] = u
	return u
}

func (f *fixture) addCompany(id int64, name string) *orgs.Company {
	c := &orgs.Company{ID: id, Name: name}
	f.directory.companies[id] = c
	return c
}

func (f *fixture) addMembership(userID, companyID int64, status orgs.MembershipStatus, caps orgs.Capabilities) {
	f.resolver.byPair[pairKey(userID, companyID)] = &orgs.Membership{
		UserID:       userID,
		CompanyID:    companyID,
		Status:       status,
		Capabilities: caps,
	}
}

// loginAs issues a session directly and returns its cookie.
func (f *fixture) loginAs(userID int64, companyID int64) *http.Cookie {
	sess, _ := f.sessions.Create(context.Background(), userID, "203.0.113.9", "test")
	if companyID != 0 {
		sess.ActiveCompanyID = &companyID
	}
	return &http.Cookie{Name: session.CookieName, Value: sess.Token}
}

func adminCaps() orgs.Capabilities {
	return orgs.Capabilities{IsAdmin: true}
}
