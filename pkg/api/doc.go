// Package api is the HTTP surface of the financial MCP server.
//
// # Routes
//
//	GET  /                    service info
//	GET  /health              liveness
//	GET  /health/ready        readiness (database, redis)
//	GET  /metrics             Prometheus exposition
//	GET  /api/v1/metrics      JSON metrics snapshot
//	POST /api/v1/mcp          MCP JSON-RPC 2.0 (initialize, tools/list, tools/call)
//	GET  /api/v1/mcp/tools    tool definitions
//	GET  /api/v1/mcp/info     MCP server description
//	POST /api/v1/reasoning    natural-language reasoning streamed as SSE
//
// # MCP
//
// initialize needs no credential. tools/list resolves the caller under the
// configured rbac.Policy. tools/call takes its credential from
// params.context when present and from the Authorization header otherwise.
// Authorization failures become JSON-RPC error -32001 with HTTP 401 or 403;
// every other tool failure is returned as an isError result.
//
// # Reasoning
//
// The reasoning route validates the bearer token and applies the rate
// limiter before the stream opens, so those failures are plain JSON
// responses. After the start frame, failures arrive as SSE error frames.
//
// Handler wraps the router with request ids, access logging, panic
// recovery, CORS and otelhttp instrumentation:
//
//	srv, err := api.NewServer(api.Options{Version: version}, api.Dependencies{...})
//	httpServer := &http.Server{Handler: srv.Handler()}
package api
