package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/myportal/portal/pkg/audit"
	"github.com/myportal/portal/pkg/auth"
	"github.com/myportal/portal/pkg/httputil"
	"github.com/myportal/portal/pkg/orgs"
	"github.com/myportal/portal/pkg/session"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) countLogin(outcome string) {
	if s.metrics != nil {
		s.metrics.LoginAttemptsTotal.WithLabelValues(outcome).Inc()
	}
}

// login verifies the password and issues a session. Unknown email and
// wrong password are indistinguishable in the response.
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		httputil.WriteBadRequest(w, "email and password are required")
		return
	}

	user, err := s.users.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			s.countLogin("rejected")
			httputil.WriteDomainError(w, auth.ErrInvalidCredential, "invalid email or password")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}
	if user.Disabled || !auth.VerifyPassword(user.PasswordHash, req.Password) {
		s.countLogin("rejected")
		httputil.WriteDomainError(w, auth.ErrInvalidCredential, "invalid email or password")
		return
	}

	sess, err := s.sessions.Create(r.Context(), user.ID, httputil.ClientIP(r), r.UserAgent())
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	http.SetCookie(w, session.NewCookie(sess.Token, s.cfg.SessionTTL, s.cfg.SecureCookies))
	s.countLogin("succeeded")
	s.auditor.LogAction(r.Context(), "login.succeeded", &user.ID, audit.Entry{
		EntityType: "user",
	}, r)

	httputil.WriteSuccess(w, map[string]any{
		"user":                  user,
		"csrf_token":            sess.CSRFToken,
		"force_password_change": user.ForcePasswordChange,
	})
}

// logout revokes the presented session, if any, and clears the cookie.
func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Load(r.Context(), r, true)
	if err == nil {
		if err := s.sessions.Revoke(r.Context(), sess.Token); err != nil {
			httputil.WriteInternalError(w, err)
			return
		}
		s.auditor.LogAction(r.Context(), "logout", &sess.UserID, audit.Entry{
			EntityType: "session",
		}, r)
	}
	http.SetCookie(w, session.ExpiredCookie(s.cfg.SecureCookies))
	httputil.WriteNoContent(w)
}

// logoutAll revokes every session of the current user.
func (s *Server) logoutAll(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r)
	if err := s.sessions.RevokeAllForUser(r.Context(), ident.User.ID); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	s.auditor.LogAction(r.Context(), "logout.all_sessions", &ident.User.ID, audit.Entry{
		EntityType: "user",
		Metadata:   map[string]any{"reason": "logout_all"},
	}, r)
	http.SetCookie(w, session.ExpiredCookie(s.cfg.SecureCookies))
	httputil.WriteNoContent(w)
}

// me returns the resolved identity for the current request.
func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r)
	httputil.WriteSuccess(w, map[string]any{
		"user":       ident.User,
		"company":    ident.Company,
		"membership": ident.Membership,
	})
}

type switchCompanyRequest struct {
	CompanyID int64 `json:"company_id"`
}

// switchCompany changes the session's active tenant. Non-admins need an
// active membership in the target.
func (s *Server) switchCompany(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r)

	var req switchCompanyRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.CompanyID <= 0 {
		httputil.WriteBadRequest(w, "company_id is required")
		return
	}

	if !ident.User.IsSuperAdmin {
		m, err := s.memberships.Membership(r.Context(), ident.User.ID, req.CompanyID)
		if err != nil {
			if errors.Is(err, auth.ErrNotFound) {
				httputil.WriteDomainError(w, auth.ErrForbidden, "no access to that company")
				return
			}
			httputil.WriteInternalError(w, err)
			return
		}
		if m.Status != orgs.MembershipActive {
			httputil.WriteDomainError(w, auth.ErrForbidden, "no access to that company")
			return
		}
	}

	if err := s.sessions.SetActiveCompany(r.Context(), ident.Session, req.CompanyID); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	s.auditor.LogAction(r.Context(), "session.company_switched", &ident.User.ID, audit.Entry{
		EntityType: "company",
		Metadata:   map[string]any{"company_id": req.CompanyID},
	}, r)
	httputil.WriteSuccess(w, map[string]any{"active_company_id": req.CompanyID})
}
