// Package orgs holds the tenancy data model: users, companies, and the
// membership rows that tie a user to a company with a role and the legacy
// per-membership capability booleans.
//
// The booleans stored on a membership row are no longer trusted directly;
// the rbac package projects a role's permission tokens onto them on every
// fetch. Code outside rbac should obtain memberships through rbac.Resolver.
package orgs
