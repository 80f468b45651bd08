// Package session implements the cookie-session lifecycle: opaque tokens
// with a 1:1 bound CSRF token, expiry and last-seen tracking, and the
// active-company selection a user carries between requests.
//
// The active company is soft state: a UX convenience, not a security
// boundary. Every tenant-scoped capability check re-verifies membership
// against the resolved company id.
package session
