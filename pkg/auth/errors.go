package auth

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the access-control core. The transport layer maps
// these to HTTP statuses; the core never writes status codes itself.
var (
	// ErrNoCredential means neither a session nor an API key was presented.
	ErrNoCredential = errors.New("no credential presented")
	// ErrInvalidCredential means the session token, CSRF token, or API-key
	// digest did not match any known record.
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrExpiredCredential means the session or API key is past its expiry.
	ErrExpiredCredential = errors.New("credential expired")
	// ErrMissingIdentity means the credential is valid but the user it
	// references no longer exists.
	ErrMissingIdentity = errors.New("user for credential no longer exists")
	// ErrForbidden means the caller is authenticated but lacks the required
	// capability or scope.
	ErrForbidden = errors.New("forbidden")
	// ErrNoTenantContext means a tenant-scoped capability was requested but
	// the user has no accessible company.
	ErrNoTenantContext = errors.New("no accessible company")
	// ErrConflict signals a uniqueness violation (email, membership, grant).
	ErrConflict = errors.New("conflict")
	// ErrNotFound signals an absent resource, or one deliberately masked
	// because revealing its existence would be a disclosure.
	ErrNotFound = errors.New("not found")
	// ErrRateLimited signals the request limiter fired.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// DenyReason identifies why API-key authentication failed. The reasons are
// distinct so the transport can pick 401 vs 403 and operators can tell a
// typo'd key from a key used off its allow-list.
type DenyReason string

const (
	DenyMissing DenyReason = "missing"
	DenyInvalid DenyReason = "invalid"
	DenyExpired DenyReason = "expired"
	DenyPath    DenyReason = "path_denied"
	DenyMethod  DenyReason = "method_denied"
	DenyIP      DenyReason = "ip_denied"
)

// KeyAuthError is the failure returned by Authenticator.Authenticate. It
// unwraps to one of the sentinel error kinds above.
type KeyAuthError struct {
	Reason DenyReason
	Detail string
}

func (e *KeyAuthError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("api key denied: %s", e.Reason)
	}
	return fmt.Sprintf("api key denied: %s: %s", e.Reason, e.Detail)
}

// Unwrap maps the deny reason onto the core error taxonomy.
func (e *KeyAuthError) Unwrap() error {
	switch e.Reason {
	case DenyMissing:
		return ErrNoCredential
	case DenyInvalid:
		return ErrInvalidCredential
	case DenyExpired:
		return ErrExpiredCredential
	default:
		return ErrForbidden
	}
}
