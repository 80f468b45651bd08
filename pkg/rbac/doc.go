// Package rbac turns role definitions into the legacy capability booleans
// the rest of the portal consumes.
//
// A role carries a set of permission tokens from a closed vocabulary.
// Stored capability booleans on membership rows are never trusted: every
// membership fetch runs the projection from the role's current tokens, so
// a tightened role takes effect on the next request with no cache to
// invalidate. Tokens the current build does not know are skipped during
// projection, which lets old and new builds share one roles table during
// a rollout.
package rbac
