// Package access is the single decision point for who may do what.
//
// Every route goes through one of four entry points: authenticated user,
// super-admin, API key, or a company section gated by a capability. The
// super-admin bypass lives here and only here; re-checking the flag at
// call sites creates a second source of truth that drifts.
//
// Denials that should be presented as navigation rather than as API
// errors carry a redirect intent the transport layer can act on.
package access
