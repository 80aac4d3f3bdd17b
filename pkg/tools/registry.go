package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/finmcp/pkg/auth"
	"github.com/platinummonkey/finmcp/pkg/observability"
	"github.com/platinummonkey/finmcp/pkg/rbac"
	"github.com/platinummonkey/finmcp/pkg/storage"
)

// Definition describes a tool to MCP clients
type Definition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// Tool is an operation the registry gates and dispatches. Execute only
// runs after the caller has passed Requirement, and receives the grant.
type Tool interface {
	Definition() Definition
	Requirement() rbac.Requirement
	Execute(ctx context.Context, grant *rbac.Grant, args json.RawMessage) (Result, error)
}

type entry struct {
	tool   Tool
	schema *jsonschema.Schema
}

// Registry holds the fixed tool set and runs calls against it
type Registry struct {
	resolver *rbac.Resolver
	entries  map[string]entry
	order    []string
	logger   *observability.Logger
	recorder *observability.Recorder
	audit    *auth.AuditLogger
}

// Option configures a Registry
type Option func(*Registry)

// WithLogger sets the registry logger
func WithLogger(logger *observability.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// WithRecorder sets where call metrics go
func WithRecorder(rec *observability.Recorder) Option {
	return func(r *Registry) { r.recorder = rec }
}

// WithAuditLogger records every gated call as an audit event
func WithAuditLogger(al *auth.AuditLogger) Option {
	return func(r *Registry) { r.audit = al }
}

// NewRegistry creates a registry over tools. Each tool's input schema is
// compiled once here.
func NewRegistry(resolver *rbac.Resolver, tools []Tool, opts ...Option) (*Registry, error) {
	r := &Registry{
		resolver: resolver,
		entries:  make(map[string]entry, len(tools)),
		logger:   observability.NewLogger(observability.InfoLevel, nil),
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, t := range tools {
		def := t.Definition()
		if _, dup := r.entries[def.Name]; dup {
			return nil, fmt.Errorf("duplicate tool %q", def.Name)
		}
		schema, err := compileSchema(def.Name, def.InputSchema)
		if err != nil {
			return nil, err
		}
		r.entries[def.Name] = entry{tool: t, schema: schema}
		r.order = append(r.order, def.Name)
	}
	return r, nil
}

// NewFinancialRegistry creates the registry of the three financial tools
// over store
func NewFinancialRegistry(resolver *rbac.Resolver, store storage.Store, opts ...Option) (*Registry, error) {
	return NewRegistry(resolver, []Tool{
		NewQueryTransactions(store),
		NewAnalyzeRiskMetrics(store, time.Now),
		NewMarketSummary(store),
	}, opts...)
}

// Definitions lists the tools in registration order
func (r *Registry) Definitions() []Definition {
	out := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].tool.Definition())
	}
	return out
}

// Lookup returns the definition of name or ErrToolNotFound
func (r *Registry) Lookup(name string) (Definition, error) {
	e, ok := r.entries[name]
	if !ok {
		return Definition{}, notFound(name)
	}
	return e.tool.Definition(), nil
}

// Call runs the tool and folds every failure into an IsError result. The
// error is non-nil only when ctx was cancelled.
func (r *Registry) Call(ctx context.Context, name string, args map[string]any, rc *rbac.RequestContext) (Result, error) {
	res, err := r.CallDirect(ctx, name, args, rc)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		return ErrorResult(name, err), nil
	}
	return res, nil
}

// CallDirect runs the tool and returns failures as typed errors: rbac
// errors for gate failures, ErrToolNotFound, *storage.ValidationError for
// bad arguments and storage errors from the query layer. A tool may still
// report a domain failure as an IsError result with a nil error.
func (r *Registry) CallDirect(ctx context.Context, name string, args map[string]any, rc *rbac.RequestContext) (res Result, err error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "tools."+name, attribute.String("tool.name", name))

	var userID *int64
	defer func() {
		if p := recover(); p != nil {
			err = executionError(name, observability.MustRecover(p))
			res = Result{}
		}
		elapsed := time.Since(start)
		success := err == nil && !res.IsError
		observability.EndSpan(span, err)
		r.recorder.ToolCall(ctx, name, success, elapsed)
		if r.audit != nil {
			r.audit.LogToolAccess(ctx, userID, name, err)
		}

		log := r.logger
		if requestID := observability.GetRequestID(ctx); requestID != "" {
			log = log.WithField("request_id", requestID)
		}
		log = log.WithFields(map[string]interface{}{
			"tool":        name,
			"duration_ms": elapsed.Milliseconds(),
			"success":     success,
		})
		switch {
		case storage.IsValidation(err):
			log.WithError(err).Info("tool arguments rejected")
		case err != nil:
			log.WithError(err).Warn("tool call failed")
		default:
			log.Debug("tool call completed")
		}
	}()

	e, ok := r.entries[name]
	if !ok {
		return Result{}, notFound(name)
	}

	run := rbac.Guard(r.resolver, e.tool.Requirement(), func(ctx context.Context, grant *rbac.Grant) (Result, error) {
		uid := grant.Identity.UserID
		userID = &uid
		span.SetAttributes(attribute.Int64("user.id", uid))

		raw, doc, err := normalizeArgs(args)
		if err != nil {
			return Result{}, err
		}
		if err := validateArgs(e.schema, doc); err != nil {
			return Result{}, err
		}
		return e.tool.Execute(ctx, grant, raw)
	})

	res, err = run(ctx, rc)
	// userID is only set once the gate has passed
	if userID == nil && rbac.IsAuthError(err) {
		r.recorder.AuthFailure(rbac.FailureLabel(err))
	}
	return res, err
}
