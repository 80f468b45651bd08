package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/myportal/portal/pkg/auth"
	"github.com/myportal/portal/pkg/httputil"
	"github.com/myportal/portal/pkg/session"
)

// SessionLoader resolves the session behind a request's cookie.
type SessionLoader interface {
	Load(ctx context.Context, r *http.Request, allowInactive bool) (*session.Session, error)
}

// CSRFPolicy names paths the guard should not apply to, such as webhook
// receivers that authenticate by other means.
type CSRFPolicy interface {
	IsCSRFExempt(path string) bool
}

// CSRFGuard rejects unsafe cookie-authenticated requests whose token does
// not match the session's. Requests are let through when the method is
// safe, an API key is presented, the path is exempt, or no session cookie
// accompanies the request at all; in the last case there is no ambient
// credential to ride on, so there is nothing to forge.
type CSRFGuard struct {
	sessions  SessionLoader
	policy    CSRFPolicy
	rejection Counter
}

// NewCSRFGuard creates the guard. policy may be nil when no paths are
// exempt.
func NewCSRFGuard(sessions SessionLoader, policy CSRFPolicy) *CSRFGuard {
	return &CSRFGuard{sessions: sessions, policy: policy}
}

// SetRejectionCounter attaches a counter incremented per rejected request.
// Prometheus counters satisfy it directly.
func (g *CSRFGuard) SetRejectionCounter(c Counter) {
	g.rejection = c
}

// Handler wraps next with the guard.
func (g *CSRFGuard) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.applies(r) {
			next.ServeHTTP(w, r)
			return
		}

		sess, err := g.sessions.Load(r.Context(), r, true)
		if err != nil {
			// dead or unknown session: the access layer will refuse it,
			// the guard has nothing to compare against
			next.ServeHTTP(w, r)
			return
		}

		presented := requestCSRFToken(r)
		if presented == "" ||
			subtle.ConstantTimeCompare([]byte(presented), []byte(sess.CSRFToken)) != 1 {
			if g.rejection != nil {
				g.rejection.Inc()
			}
			httputil.WriteDomainError(w, auth.ErrForbidden, "csrf token mismatch")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (g *CSRFGuard) applies(r *http.Request) bool {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return false
	}
	if r.Header.Get(auth.HeaderAPIKey) != "" {
		return false
	}
	if g.policy != nil && g.policy.IsCSRFExempt(r.URL.Path) {
		return false
	}
	if _, err := r.Cookie(session.CookieName); err != nil {
		return false
	}
	return true
}

// requestCSRFToken reads the token from the header or, for plain form
// posts, the _csrf field.
func requestCSRFToken(r *http.Request) string {
	if token := r.Header.Get(session.CSRFHeader); token != "" {
		return token
	}
	return r.PostFormValue(session.CSRFFormField)
}
