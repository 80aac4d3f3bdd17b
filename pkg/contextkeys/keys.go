// Package contextkeys provides centralized context key definitions
//
// All context keys used across the server are defined here so that
// producers and consumers agree on a single typed key.
//
// USAGE PATTERN:
//
//	import "github.com/platinummonkey/finmcp/pkg/contextkeys"
//	ctx = contextkeys.WithRequestContext(ctx, rc)
//	rc := contextkeys.GetRequestContext(ctx)
package contextkeys

import (
	"context"
	"time"
)

// Key is the type for context keys to prevent collisions
type Key string

const (
	// RequestContextKey contains *rbac.RequestContext
	// Set by: middleware.CredentialMiddleware (pkg/middleware/auth.go)
	// Required by: MCP and reasoning handlers before calling tools
	RequestContextKey Key = "request_context"

	// RequestIDKey contains the request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: Logger, SSE error frames, tracing attributes
	RequestIDKey Key = "request_id"

	// UserIDKey contains the resolved user ID string
	// Set by: middleware.RequireCredential after identity resolution
	// Used by: Logger
	UserIDKey Key = "user_id"

	// IdentityKey contains the rbac.Identity resolved up front
	// Set by: middleware.RequireCredential
	// Used by: middleware.IdentityKey for rate limiting, reasoning handler
	IdentityKey Key = "identity"

	// LoggerKey contains *observability.Logger
	// Set by: httputil.RequestIDMiddleware
	LoggerKey Key = "logger"

	// RequestStartTimeKey contains the time.Time the request was accepted
	// Set by: httputil.RequestIDMiddleware
	RequestStartTimeKey Key = "request_start_time"
)

// WithRequestContext stores the caller credential carrier. The value is
// typed as any to keep this package free of rbac imports.
func WithRequestContext(ctx context.Context, rc any) context.Context {
	return context.WithValue(ctx, RequestContextKey, rc)
}

// GetRequestContext returns the stored credential carrier or nil
func GetRequestContext(ctx context.Context) any {
	return ctx.Value(RequestContextKey)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithUserID adds user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetUserID retrieves user ID from context
func GetUserID(ctx context.Context) string {
	if userID, ok := ctx.Value(UserIDKey).(string); ok {
		return userID
	}
	return ""
}

// WithIdentity stores the resolved caller identity, typed as any for the
// same reason as WithRequestContext
func WithIdentity(ctx context.Context, identity any) context.Context {
	return context.WithValue(ctx, IdentityKey, identity)
}

// GetIdentity returns the stored identity or nil
func GetIdentity(ctx context.Context) any {
	return ctx.Value(IdentityKey)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger any) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// WithRequestStartTime records when the request was accepted
func WithRequestStartTime(ctx context.Context, start time.Time) context.Context {
	return context.WithValue(ctx, RequestStartTimeKey, start)
}

// GetRequestStartTime returns the accept time and whether it was set
func GetRequestStartTime(ctx context.Context) (time.Time, bool) {
	start, ok := ctx.Value(RequestStartTimeKey).(time.Time)
	return start, ok
}
