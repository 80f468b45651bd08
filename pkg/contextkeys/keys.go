// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//   import "github.com/myportal/portal/pkg/contextkeys"
//   ctx = context.WithValue(ctx, contextkeys.IdentityKey, ident)
//   ident := ctx.Value(contextkeys.IdentityKey).(*access.Identity)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// IdentityKey contains *access.Identity
	// Set by: the access middleware in cmd/portal after RequireAuthenticated
	// Required by: all protected handlers
	// Type: *access.Identity
	IdentityKey Key = "identity"

	// RequestIDKey contains request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: logger, audit trail
	// Type: string
	RequestIDKey Key = "request_id"

	// UserIDKey contains the authenticated user id
	// Set by: the access middleware after identity resolution
	// Used by: logger, audit trail, user-scoped operations
	// Type: int64
	UserIDKey Key = "user_id"
)

// Helper functions for type-safe context operations

// WithIdentity adds the resolved identity to the context
func WithIdentity(ctx context.Context, ident any) context.Context {
	return context.WithValue(ctx, IdentityKey, ident)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithUserID adds user ID to the context
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetUserID retrieves user ID from context; zero when unauthenticated
func GetUserID(ctx context.Context) int64 {
	if userID, ok := ctx.Value(UserIDKey).(int64); ok {
		return userID
	}
	return 0
}
