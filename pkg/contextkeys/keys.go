// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//
//	import "github.com/platinummonkey/gatehouse/pkg/contextkeys"
//	ctx = contextkeys.WithNonce(ctx, nonce)
//	nonce := contextkeys.GetNonce(ctx)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// NonceKey contains the per-request CSP nonce
	// Set by: gate.Gate.Middleware (pkg/gate/middleware.go)
	// Used by: in-process renderers that echo the nonce into inline script tags
	// Type: string
	NonceKey Key = "csp_nonce"

	// RequestIDKey contains request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: Logger, gate decision logs
	// Type: string
	RequestIDKey Key = "request_id"

	// UserIDKey contains the authenticated user ID
	// Set by: gate.Gate.Middleware after session resolution
	// Used by: Logger, downstream handlers
	// Type: string
	UserIDKey Key = "user_id"

	// LoggerKey contains *observability.Logger
	// Set by: httputil.RequestIDMiddleware
	// Used by: Handlers that need structured logging with request context
	// Type: *observability.Logger
	LoggerKey Key = "logger"

	// RouteKey contains the classified route.Route
	// Set by: gate.Gate.Middleware
	// Type: route.Route
	RouteKey Key = "route"
)

// WithNonce adds the CSP nonce to the context
func WithNonce(ctx context.Context, nonce string) context.Context {
	return context.WithValue(ctx, NonceKey, nonce)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithUserID adds user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// WithRoute adds the classified route to the context
func WithRoute(ctx context.Context, route interface{}) context.Context {
	return context.WithValue(ctx, RouteKey, route)
}

// GetNonce retrieves the CSP nonce from context
func GetNonce(ctx context.Context) string {
	if nonce, ok := ctx.Value(NonceKey).(string); ok {
		return nonce
	}
	return ""
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetUserID retrieves user ID from context
func GetUserID(ctx context.Context) string {
	if userID, ok := ctx.Value(UserIDKey).(string); ok {
		return userID
	}
	return ""
}
