// Package middleware provides the HTTP gates that run before the MCP and
// reasoning handlers: credential capture, bearer token enforcement and rate
// limiting.
//
// CredentialMiddleware copies the Authorization header into an
// rbac.RequestContext without rejecting anything; tool-level RBAC decides
// later. RequireCredential is used on streaming routes, where a 401 must be
// sent before the first SSE frame.
//
//	chain := httputil.Chain(
//		middleware.CredentialMiddleware,
//		middleware.RequireCredential(resolver, recorder),
//		middleware.NewRateLimitMiddleware(limiter, "reasoning", recorder).Handler,
//	)
//
// # Rate limiting
//
// RateLimiter is an in-process token bucket per caller built on
// golang.org/x/time/rate. DistributedRateLimiter counts fixed windows in
// Redis so several replicas share one budget. Both admit
// RequestsPerWindow+BurstSize requests from a fresh key. Callers are keyed by
// user id when authenticated and by client IP otherwise.
//
// Limiter errors fail open unless SetFallbackEnabled(false) is called.
package middleware
