// Package api is the JSON surface over the authorization core: login and
// session lifecycle, active-company switching, role administration for
// the active company, API-key administration, and the current user's
// notifications. Admin read endpoints for the webhook queue and the
// audit trail are mounted here behind the super-admin check.
//
// Handlers never pick HTTP status codes themselves; denials flow out of
// the access layer as typed errors and httputil maps them.
package api
