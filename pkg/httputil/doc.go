// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
// Errors are written as {"detail": "..."}:
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteUnauthorized(w, "Authorization header required")
//	httputil.WriteTooManyRequests(w, "Rate limit exceeded", retryAfter)
//
// # Request Parsing
//
//	var req ReasoningRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // 422 already written
//	}
//	if !httputil.ValidateAll(w,
//		httputil.LengthBetween(req.Query, "query", 1, 2000),
//		httputil.Positive(req.UserID, "user_id"),
//	) {
//		return
//	}
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware(logger),
//		httputil.LoggingMiddleware,
//		httputil.RecoveryMiddleware,
//		httputil.CORSMiddleware(cfg.Server.CORSOrigins),
//		httputil.MaxBytesMiddleware(1<<20),
//	)
//
// The status-capturing wrapper used by the logging and recovery middleware
// forwards Flush, so Server-Sent Event handlers keep streaming through it.
package httputil
