package api

import (
	"net/http"

	"github.com/myportal/portal/pkg/access"
	"github.com/myportal/portal/pkg/contextkeys"
	"github.com/myportal/portal/pkg/httputil"
	"github.com/myportal/portal/pkg/orgs"
)

// identityFrom returns what the wrapper stashed. It only returns nil on a
// handler mounted without a wrapper, which is a programming error.
func identityFrom(r *http.Request) *access.Identity {
	ident, _ := r.Context().Value(contextkeys.IdentityKey).(*access.Identity)
	return ident
}

func withIdentity(r *http.Request, ident *access.Identity) *http.Request {
	ctx := contextkeys.WithIdentity(r.Context(), ident)
	if ident.User != nil {
		ctx = contextkeys.WithUserID(ctx, ident.User.ID)
	}
	return r.WithContext(ctx)
}

func (s *Server) observeDecision(check string, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "allowed"
	if err != nil {
		outcome = "denied"
	}
	s.metrics.AccessDecisionsTotal.WithLabelValues(check, outcome).Inc()
}

// RequireUser wraps a handler with the authenticated-identity check.
func (s *Server) RequireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ident, err := s.access.RequireAuthenticated(r.Context(), r)
		s.observeDecision("authenticated", err)
		if err != nil {
			httputil.WriteDomainError(w, err, "authentication required")
			return
		}
		next(w, withIdentity(r, ident))
	}
}

// RequireCapability wraps a handler with the company-section check.
func (s *Server) RequireCapability(capability orgs.Capability, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ident, err := s.access.RequireCompanySection(r.Context(), r, capability)
		s.observeDecision("company_section", err)
		if err != nil {
			httputil.WriteDomainError(w, err, "not authorized")
			return
		}
		next(w, withIdentity(r, ident))
	}
}

// RequireKey wraps a handler with the API-key check. The allow-lists on
// the key itself decide whether this route and caller address pass.
func (s *Server) RequireKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ident, err := s.access.RequireAPIKey(r.Context(), r)
		s.observeDecision("api_key", err)
		if err != nil {
			httputil.WriteDomainError(w, err, "")
			return
		}
		next(w, withIdentity(r, ident))
	}
}

// superAdminMiddleware guards the admin subtree.
func (s *Server) superAdminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ident, err := s.access.RequireSuperAdmin(r.Context(), r)
		s.observeDecision("super_admin", err)
		if err != nil {
			httputil.WriteDomainError(w, err, "not authorized")
			return
		}
		next.ServeHTTP(w, withIdentity(r, ident))
	})
}
