package session

import (
	"net/http"
	"time"
)

const (
	// CookieName is the session cookie presented by browsers.
	CookieName = "myportal_session"
	// CSRFHeader carries the client-supplied CSRF token on unsafe methods.
	CSRFHeader = "X-CSRF-Token"
	// CSRFFormField is the form-body fallback for the CSRF token. The CSRF
	// token is never transmitted in a URL.
	CSRFFormField = "_csrf"
)

// Session is one authenticated browser session.
type Session struct {
	Token           string     `json:"-"`
	UserID          int64      `json:"user_id"`
	CSRFToken       string     `json:"-"`
	CreatedAt       time.Time  `json:"created_at"`
	ExpiresAt       time.Time  `json:"expires_at"`
	LastSeenAt      time.Time  `json:"last_seen_at"`
	IPAddress       string     `json:"ip_address,omitempty"`
	UserAgent       string     `json:"user_agent,omitempty"`
	ActiveCompanyID *int64     `json:"active_company_id,omitempty"`
	PendingTOTP     *string    `json:"-"` // secret for in-progress enrolment
}

// ExpiredAt reports whether the session is past its expiry as of now.
func (s *Session) ExpiredAt(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// NewCookie builds the session cookie. HttpOnly always; Secure outside
// development.
func NewCookie(token string, ttl time.Duration, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// ExpiredCookie builds the cookie that clears the session on logout.
func ExpiredCookie(secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}
