package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/myportal/portal/pkg/access"
	"github.com/myportal/portal/pkg/audit"
	"github.com/myportal/portal/pkg/auth"
	"github.com/myportal/portal/pkg/notify"
	"github.com/myportal/portal/pkg/observability"
	"github.com/myportal/portal/pkg/orgs"
	"github.com/myportal/portal/pkg/rbac"
	"github.com/myportal/portal/pkg/session"
)

// UserDirectory is the slice of the tenancy store the handlers need.
type UserDirectory interface {
	GetUser(ctx context.Context, id int64) (*orgs.User, error)
	GetUserByEmail(ctx context.Context, email string) (*orgs.User, error)
}

// SessionManager issues and revokes sessions.
type SessionManager interface {
	Create(ctx context.Context, userID int64, ip, userAgent string) (*session.Session, error)
	Load(ctx context.Context, r *http.Request, allowInactive bool) (*session.Session, error)
	SetActiveCompany(ctx context.Context, sess *session.Session, companyID int64) error
	Revoke(ctx context.Context, token string) error
	RevokeAllForUser(ctx context.Context, userID int64) error
}

// RoleStore is the role administration surface.
type RoleStore interface {
	CreateRole(ctx context.Context, role *rbac.Role) error
	GetRole(ctx context.Context, id int64) (*rbac.Role, error)
	ListRoles(ctx context.Context, companyID int64) ([]*rbac.Role, error)
	UpdateRole(ctx context.Context, role *rbac.Role) error
	DeleteRole(ctx context.Context, id int64) error
}

// KeyAdminStore manages API keys.
type KeyAdminStore interface {
	Create(ctx context.Context, key *auth.APIKey) error
	List(ctx context.Context) ([]auth.APIKey, error)
	Delete(ctx context.Context, keyID int64) error
	ListUsage(ctx context.Context, keyID int64) ([]auth.KeyUsage, error)
}

// NotificationReader serves the current user's notifications.
type NotificationReader interface {
	ListForUser(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]*notify.Notification, error)
	MarkRead(ctx context.Context, id, userID int64) error
}

// MembershipChecker verifies company access on switch.
type MembershipChecker interface {
	Membership(ctx context.Context, userID, companyID int64) (*orgs.Membership, error)
}

// NotificationSender fans an event out to its recipients. The dispatcher
// satisfies it.
type NotificationSender interface {
	Dispatch(ctx context.Context, eventType, message string, userID *int64, metadata map[string]any)
}

// Config carries the cookie settings the auth handlers need.
type Config struct {
	SessionTTL    time.Duration
	SecureCookies bool
}

// Server holds every dependency the handlers reach for.
type Server struct {
	access        *access.Service
	users         UserDirectory
	sessions      SessionManager
	roles         RoleStore
	keys          KeyAdminStore
	notifications NotificationReader
	memberships   MembershipChecker
	hasher        *auth.Hasher
	auditor       *audit.Writer
	metrics       *observability.Metrics
	dispatcher    NotificationSender
	cfg           Config
}

// SetDispatcher attaches the notification dispatcher behind the admin
// broadcast endpoint. Optional.
func (s *Server) SetDispatcher(d NotificationSender) {
	s.dispatcher = d
}

// NewServer wires a server. metrics may be nil.
func NewServer(
	accessSvc *access.Service,
	users UserDirectory,
	sessions SessionManager,
	roles RoleStore,
	keys KeyAdminStore,
	notifications NotificationReader,
	memberships MembershipChecker,
	hasher *auth.Hasher,
	auditor *audit.Writer,
	metrics *observability.Metrics,
	cfg Config,
) *Server {
	return &Server{
		access:        accessSvc,
		users:         users,
		sessions:      sessions,
		roles:         roles,
		keys:          keys,
		notifications: notifications,
		memberships:   memberships,
		hasher:        hasher,
		auditor:       auditor,
		metrics:       metrics,
		cfg:           cfg,
	}
}

// RegisterRoutes mounts every endpoint on the router. Admin subtrees
// carry the super-admin check; the webhook and audit read surfaces are
// mounted by the caller inside the admin subtree it builds here.
func (s *Server) RegisterRoutes(r *mux.Router, adminExtras ...func(*mux.Router)) {
	r.HandleFunc("/api/login", s.login).Methods(http.MethodPost)
	r.HandleFunc("/api/logout", s.logout).Methods(http.MethodPost)
	r.HandleFunc("/api/logout-all", s.RequireUser(s.logoutAll)).Methods(http.MethodPost)
	r.HandleFunc("/api/me", s.RequireUser(s.me)).Methods(http.MethodGet)
	r.HandleFunc("/api/session/company", s.RequireUser(s.switchCompany)).Methods(http.MethodPost)

	r.HandleFunc("/api/roles", s.RequireCapability(orgs.CapCompanyAdmin, s.listRoles)).Methods(http.MethodGet)
	r.HandleFunc("/api/roles", s.RequireCapability(orgs.CapCompanyAdmin, s.createRole)).Methods(http.MethodPost)
	r.HandleFunc("/api/roles/{id:[0-9]+}", s.RequireCapability(orgs.CapCompanyAdmin, s.updateRole)).Methods(http.MethodPut)
	r.HandleFunc("/api/roles/{id:[0-9]+}", s.RequireCapability(orgs.CapCompanyAdmin, s.deleteRole)).Methods(http.MethodDelete)

	r.HandleFunc("/api/integration/whoami", s.RequireKey(s.integrationWhoami)).Methods(http.MethodGet)

	r.HandleFunc("/api/notifications", s.RequireUser(s.listNotifications)).Methods(http.MethodGet)
	r.HandleFunc("/api/notifications/{id:[0-9]+}/read", s.RequireUser(s.markNotificationRead)).Methods(http.MethodPost)

	// Scoped to /api/admin so non-admin paths keep the router's usual
	// 404 and 405 handling instead of falling into this subtree.
	admin := r.PathPrefix("/api/admin").Subrouter()
	admin.Use(s.superAdminMiddleware)
	admin.HandleFunc("/api-keys", s.createAPIKey).Methods(http.MethodPost)
	admin.HandleFunc("/api-keys", s.listAPIKeys).Methods(http.MethodGet)
	admin.HandleFunc("/api-keys/{id:[0-9]+}", s.deleteAPIKey).Methods(http.MethodDelete)
	admin.HandleFunc("/api-keys/{id:[0-9]+}/usage", s.listAPIKeyUsage).Methods(http.MethodGet)
	admin.HandleFunc("/notifications", s.broadcastNotification).Methods(http.MethodPost)
	for _, mount := range adminExtras {
		mount(admin)
	}
}
