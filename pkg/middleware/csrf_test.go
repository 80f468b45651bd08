package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/myportal/portal/pkg/auth"
	"github.com/myportal/portal/pkg/session"
)

type staticSessions struct {
	sess *session.Session
	err  error
}

func (s *staticSessions) Load(_ context.Context, _ *http.Request, _ bool) (*session.Session, error) {
	return s.sess, s.err
}

type exemptPaths map[string]bool

func (e exemptPaths) IsCSRFExempt(path string) bool { return e[path] }

func okHandler() (http.Handler, *bool) {
	called := false
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}), &called
}

func guardedRequest(t *testing.T, guard *CSRFGuard, r *http.Request) (*httptest.ResponseRecorder, bool) {
	t.Helper()
	next, called := okHandler()
	rec := httptest.NewRecorder()
	guard.Handler(next).ServeHTTP(rec, r)
	return rec, *called
}

func withSessionCookie(r *http.Request) *http.Request {
	r.AddCookie(&http.Cookie{Name: session.CookieName, Value: "tok"})
	return r
}

func TestCSRFGuard_SafeMethodsSkip(t *testing.T) {
	guard := NewCSRFGuard(&staticSessions{err: auth.ErrNoCredential}, nil)
	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		r := withSessionCookie(httptest.NewRequest(method, "/api/plans", nil))
		rec, called := guardedRequest(t, guard, r)
		if !called || rec.Code != http.StatusOK {
			t.Errorf("%s blocked: status %d", method, rec.Code)
		}
	}
}

func TestCSRFGuard_APIKeyRequestsSkip(t *testing.T) {
	guard := NewCSRFGuard(&staticSessions{}, nil)
	r := httptest.NewRequest(http.MethodPost, "/api/plans", nil)
	r.Header.Set(auth.HeaderAPIKey, "portal_whatever")
	rec, called := guardedRequest(t, guard, r)
	if !called || rec.Code != http.StatusOK {
		t.Errorf("api key request blocked: status %d", rec.Code)
	}
}

func TestCSRFGuard_ExemptPathSkips(t *testing.T) {
	guard := NewCSRFGuard(&staticSessions{}, exemptPaths{"/webhooks/inbound": true})
	r := withSessionCookie(httptest.NewRequest(http.MethodPost, "/webhooks/inbound", nil))
	_, called := guardedRequest(t, guard, r)
	if !called {
		t.Error("exempt path blocked")
	}
}

func TestCSRFGuard_NoCookieSkips(t *testing.T) {
	guard := NewCSRFGuard(&staticSessions{}, nil)
	r := httptest.NewRequest(http.MethodPost, "/api/plans", nil)
	_, called := guardedRequest(t, guard, r)
	if !called {
		t.Error("cookieless request blocked; nothing to forge without a cookie")
	}
}

func TestCSRFGuard_HeaderTokenMatches(t *testing.T) {
	sessions := &staticSessions{sess: &session.Session{Token: "tok", CSRFToken: "csrf-secret"}}
	guard := NewCSRFGuard(sessions, nil)

	r := withSessionCookie(httptest.NewRequest(http.MethodPost, "/api/plans", nil))
	r.Header.Set(session.CSRFHeader, "csrf-secret")
	rec, called := guardedRequest(t, guard, r)
	if !called || rec.Code != http.StatusOK {
		t.Errorf("matching token blocked: status %d", rec.Code)
	}
}

func TestCSRFGuard_FormTokenMatches(t *testing.T) {
	sessions := &staticSessions{sess: &session.Session{Token: "tok", CSRFToken: "csrf-secret"}}
	guard := NewCSRFGuard(sessions, nil)

	form := url.Values{session.CSRFFormField: {"csrf-secret"}}
	r := httptest.NewRequest(http.MethodPost, "/plans", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	withSessionCookie(r)
	rec, called := guardedRequest(t, guard, r)
	if !called || rec.Code != http.StatusOK {
		t.Errorf("matching form token blocked: status %d", rec.Code)
	}
}

func TestCSRFGuard_MismatchRejected(t *testing.T) {
	sessions := &staticSessions{sess: &session.Session{Token: "tok", CSRFToken: "csrf-secret"}}
	guard := NewCSRFGuard(sessions, nil)

	r := withSessionCookie(httptest.NewRequest(http.MethodPut, "/api/plans/1", nil))
	r.Header.Set(session.CSRFHeader, "wrong")
	rec, called := guardedRequest(t, guard, r)
	if called {
		t.Error("handler ran despite csrf mismatch")
	}
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestCSRFGuard_MissingTokenRejected(t *testing.T) {
	sessions := &staticSessions{sess: &session.Session{Token: "tok", CSRFToken: "csrf-secret"}}
	guard := NewCSRFGuard(sessions, nil)

	r := withSessionCookie(httptest.NewRequest(http.MethodDelete, "/api/plans/1", nil))
	rec, called := guardedRequest(t, guard, r)
	if called || rec.Code != http.StatusForbidden {
		t.Errorf("missing token admitted: called=%v status=%d", called, rec.Code)
	}
}
