// Package config loads server configuration from defaults, an optional
// YAML file and environment variables, in that order.
//
// # Environment
//
// Every setting reads a FINMCP_-prefixed variable. The names used by
// earlier deployments are still honoured when the prefixed one is unset:
//
//	FINMCP_HOST / HOST                                   "0.0.0.0"
//	FINMCP_PORT / PORT                                   "8000"
//	FINMCP_CORS_ORIGINS / CORS_ORIGINS                   "*" (comma separated)
//	FINMCP_JWT_SECRET / JWT_SECRET_KEY
//	FINMCP_JWT_EXPIRY / JWT_ACCESS_TOKEN_EXPIRE_MINUTES  30m
//	FINMCP_ALLOW_UNAUTHENTICATED / ALLOW_UNAUTHENTICATED_ACCESS
//	FINMCP_DEFAULT_UNAUTHENTICATED_ROLE                  "admin"
//	FINMCP_DEBUG / DEBUG
//	FINMCP_DATABASE_URL / DATABASE_URL
//	FINMCP_REDIS_URL / REDIS_URL                         cache and rate limiter
//	FINMCP_RATE_LIMIT_REQUESTS, FINMCP_RATE_LIMIT_WINDOW, FINMCP_RATE_LIMIT_BURST
//	FINMCP_LOG_LEVEL / LOG_LEVEL, FINMCP_LOG_FILE / LOG_FILE
//	FINMCP_OTEL_ENABLED, FINMCP_OTEL_ENDPOINT, FINMCP_OTEL_SERVICE_NAME
//	FINMCP_THINKING_DELAY, FINMCP_TOOL_DELAY, FINMCP_CHUNK_DELAY
//
// Unparseable numbers and durations are ignored and the previous value is
// kept.
//
// # File
//
// FINMCP_CONFIG_FILE names a YAML file whose keys mirror the struct tags:
//
//	server:
//	  port: "8000"
//	auth:
//	  token_expiry: 30m
//	storage:
//	  redis_url: redis://localhost:6379
//
// # Usage
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//	resolver := rbac.NewResolver(tokens, cfg.Policy())
package config
