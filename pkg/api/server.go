package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/finmcp/pkg/auth"
	"github.com/platinummonkey/finmcp/pkg/httputil"
	"github.com/platinummonkey/finmcp/pkg/middleware"
	"github.com/platinummonkey/finmcp/pkg/observability"
	"github.com/platinummonkey/finmcp/pkg/orchestrator"
	"github.com/platinummonkey/finmcp/pkg/rbac"
	"github.com/platinummonkey/finmcp/pkg/tools"
)

// DefaultMaxBodyBytes bounds JSON request bodies
const DefaultMaxBodyBytes = 1 << 20

// Options are the server's tunables
type Options struct {
	Name         string
	Version      string
	CORSOrigins  []string
	MaxBodyBytes int64

	// RateLimitFailClosed answers 503 instead of letting requests through
	// when the limiter backend errors
	RateLimitFailClosed bool
}

// Dependencies are the collaborators the handlers call into. Limiter,
// Metrics, Recorder, Health and Audit are optional.
type Dependencies struct {
	Registry *tools.Registry
	Engine   *orchestrator.Engine
	Resolver *rbac.Resolver
	Limiter  middleware.Limiter
	Metrics  *observability.Metrics
	Recorder *observability.Recorder
	Health   *observability.HealthChecker
	Logger   *observability.Logger
	Audit    *auth.AuditLogger
}

// Server routes the MCP, reasoning, health and metrics endpoints
type Server struct {
	opts     Options
	router   *mux.Router
	registry *tools.Registry
	engine   *orchestrator.Engine
	resolver *rbac.Resolver
	limiter  middleware.Limiter
	metrics  *observability.Metrics
	recorder *observability.Recorder
	health   *observability.HealthChecker
	logger   *observability.Logger
	audit    *auth.AuditLogger
}

// NewServer wires the routes
func NewServer(opts Options, deps Dependencies) (*Server, error) {
	if deps.Registry == nil || deps.Engine == nil || deps.Resolver == nil {
		return nil, errors.New("api: registry, engine and resolver are required")
	}
	if opts.Name == "" {
		opts.Name = ServerName
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if deps.Logger == nil {
		deps.Logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if deps.Health == nil {
		deps.Health = observability.NewHealthChecker(opts.Version)
	}

	s := &Server{
		opts:     opts,
		router:   mux.NewRouter(),
		registry: deps.Registry,
		engine:   deps.Engine,
		resolver: deps.Resolver,
		limiter:  deps.Limiter,
		metrics:  deps.Metrics,
		recorder: deps.Recorder,
		health:   deps.Health,
		logger:   deps.Logger,
		audit:    deps.Audit,
	}
	s.setupRoutes()
	return s, nil
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	if s.metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.metrics))
	}

	s.router.HandleFunc("/", s.serviceInfo).Methods(http.MethodGet)
	s.router.HandleFunc("/health", s.health.Liveness).Methods(http.MethodGet)
	s.router.HandleFunc("/health/ready", s.health.Readiness).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.prometheusMetrics).Methods(http.MethodGet)

	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/metrics", s.metricsSnapshot).Methods(http.MethodGet)
	v1.HandleFunc("/mcp/tools", s.listTools).Methods(http.MethodGet)
	v1.HandleFunc("/mcp/info", s.mcpInfo).Methods(http.MethodGet)

	body := []func(http.Handler) http.Handler{
		httputil.ContentTypeMiddleware,
		httputil.MaxBytesMiddleware(s.opts.MaxBodyBytes),
	}

	mcp := append([]func(http.Handler) http.Handler{middleware.CredentialMiddleware}, body...)
	if s.limiter != nil {
		mcp = append(mcp, s.rateLimit("mcp"))
	}
	v1.Handle("/mcp", httputil.Chain(mcp...)(http.HandlerFunc(s.handleMCP))).Methods(http.MethodPost)

	// the credential is checked before the limiter so callers are keyed by
	// user id rather than by address
	reasoning := []func(http.Handler) http.Handler{
		middleware.CredentialMiddleware,
		middleware.RequireCredential(s.resolver, s.recorder),
	}
	if s.limiter != nil {
		reasoning = append(reasoning, s.rateLimit("reasoning"))
	}
	reasoning = append(reasoning, body...)
	v1.Handle("/reasoning", httputil.Chain(reasoning...)(http.HandlerFunc(s.handleReasoning))).Methods(http.MethodPost)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNotFoundError(w, "Not Found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorMessage(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	})
}

func (s *Server) rateLimit(name string) func(http.Handler) http.Handler {
	m := middleware.NewRateLimitMiddleware(s.limiter, name, s.recorder).WithAuditLogger(s.audit)
	m.SetFallbackEnabled(!s.opts.RateLimitFailClosed)
	return m.Handler
}

// ServeHTTP implements http.Handler over the bare router
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router exposes the router so callers can mount extra routes
func (s *Server) Router() *mux.Router {
	return s.router
}

// Handler returns the router wrapped in the request-scoped middleware
// stack and OpenTelemetry instrumentation. This is what the HTTP server
// should serve.
func (s *Server) Handler() http.Handler {
	stack := httputil.Chain(
		httputil.RequestIDMiddleware(s.logger),
		httputil.LoggingMiddleware,
		httputil.RecoveryMiddleware,
		httputil.CORSMiddleware(s.opts.CORSOrigins),
	)(s.router)
	return otelhttp.NewHandler(stack, s.opts.Name)
}
