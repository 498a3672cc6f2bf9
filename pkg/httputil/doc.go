// Package httputil provides HTTP utilities shared by the gate and its
// operations endpoints.
//
// # Response Helpers
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteUnauthorized(w, "Unauthorized")
//	httputil.WriteTooManyRequests(w, "rate limit exceeded", retryAfter)
//
// # Request Parsing
//
//	var req InvalidateRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware(logger),
//		httputil.LoggingMiddleware,
//		httputil.RecoveryMiddleware,
//	)
//
// RequestIDMiddleware must run first so the other middleware can pull a
// request-scoped logger from the context.
package httputil
