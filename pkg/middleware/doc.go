// Package middleware carries the request filters that run before access
// decisions: the CSRF guard for cookie-authenticated flows and the
// fixed-window rate limiter.
//
// CSRF protects browsers, not servers. API-key requests are bearer
// credentials from server contexts and skip the guard entirely.
package middleware
