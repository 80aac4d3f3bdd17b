package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/finmcp/pkg/observability"
	"github.com/platinummonkey/finmcp/pkg/rbac"
	"github.com/platinummonkey/finmcp/pkg/tools"
)

// MaxTurns caps the tool turns of one reasoning call
const MaxTurns = 5

// Reasoning outcomes reported to metrics
const (
	OutcomeAnswered  = "answered"
	OutcomeHelp      = "help"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// ToolCaller runs a named tool on behalf of the request credential. A
// tool failure is expected as an IsError result; a returned error is
// treated as the call itself breaking.
type ToolCaller interface {
	Call(ctx context.Context, name string, args map[string]any, rc *rbac.RequestContext) (tools.Result, error)
}

// Pacing holds the artificial delays between events
type Pacing struct {
	Thinking time.Duration
	ToolStep time.Duration
	Chunk    time.Duration
}

// DefaultPacing spaces events out for streaming clients
var DefaultPacing = Pacing{
	Thinking: 50 * time.Millisecond,
	ToolStep: 20 * time.Millisecond,
	Chunk:    10 * time.Millisecond,
}

// Request is one reasoning call
type Request struct {
	Query string
	// UserID scopes transaction queries that name no user
	UserID          *int64
	Auth            *rbac.RequestContext
	IncludeThinking bool
	// Recorder, if set, receives every tool call
	Recorder ToolRecorder
}

// Engine plans tool calls from free text, runs them and synthesizes the
// answer. It keeps no state between calls and is safe for concurrent use.
type Engine struct {
	tools    ToolCaller
	holdings HoldingsSource
	pacing   Pacing
	now      func() time.Time
	logger   *observability.Logger
	metrics  *observability.Recorder
	chain    ChainFunc
	encode   func(any) (json.RawMessage, error)
}

// Option configures an Engine
type Option func(*Engine)

// WithPacing overrides DefaultPacing
func WithPacing(p Pacing) Option {
	return func(e *Engine) { e.pacing = p }
}

// WithClock sets the clock relative dates resolve against
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithLogger(logger *observability.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithMetrics(rec *observability.Recorder) Option {
	return func(e *Engine) { e.metrics = rec }
}

// WithChainFunc replaces DetermineChainedTools
func WithChainFunc(fn ChainFunc) Option {
	return func(e *Engine) { e.chain = fn }
}

// NewEngine creates an engine. holdings may be nil, which disables
// chaining from risk reports.
func NewEngine(caller ToolCaller, holdings HoldingsSource, opts ...Option) *Engine {
	e := &Engine{
		tools:    caller,
		holdings: holdings,
		pacing:   DefaultPacing,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   observability.NewLogger(observability.InfoLevel, nil),
		encode:   encodeAnswer,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.chain == nil {
		e.chain = e.DetermineChainedTools
	}
	return e
}

// panicError marks a failure recovered inside the reasoning loop
type panicError struct{ err error }

func (p *panicError) Error() string { return p.err.Error() }
func (p *panicError) Unwrap() error { return p.err }

// Reason runs req and hands each event to emit in order. Unless ctx is
// cancelled or emit fails, the last event is done or, when even the
// failure answer cannot be built, error.
func (e *Engine) Reason(ctx context.Context, req Request, emit func(Event) error) (err error) {
	ctx, span := observability.StartSpan(ctx, "orchestrator.reason",
		attribute.Int("query.length", len(req.Query)),
		attribute.Bool("include_thinking", req.IncludeThinking))

	s := &session{engine: e, ctx: ctx, req: req, emit: emit}
	log := e.logger
	if requestID := observability.GetRequestID(ctx); requestID != "" {
		log = log.WithField("request_id", requestID)
	}
	start := time.Now()

	defer func() {
		outcome := s.outcome
		if err != nil {
			outcome = OutcomeCancelled
		}
		span.SetAttributes(attribute.Int("reasoning.turns", s.turns), attribute.Int("reasoning.tool_calls", s.callsMade))
		observability.EndSpan(span, err)
		e.metrics.Reasoning(ctx, outcome, s.turns)
		log.WithFields(map[string]interface{}{
			"outcome":     outcome,
			"turns":       s.turns,
			"tool_calls":  s.callsMade,
			"events":      s.step,
			"duration_ms": time.Since(start).Milliseconds(),
		}).Info("reasoning finished")
	}()

	runErr := s.safeRun()
	var pe *panicError
	if !errors.As(runErr, &pe) {
		return runErr
	}
	log.WithError(pe.err).Error("reasoning failed")
	s.outcome = OutcomeFailed
	return s.fail(pe.err)
}

// session is the accumulator state of one Reason call
type session struct {
	engine *Engine
	ctx    context.Context
	req    Request
	emit   func(Event) error

	step      int
	turns     int
	callsMade int
	answered  bool
	outcome   string
	all       []ToolResult
	executed  []executedTool
}

func (s *session) send(ev Event) error {
	if err := s.ctx.Err(); err != nil {
		return err
	}
	s.step++
	ev.StepNumber = s.step
	s.engine.metrics.Event(s.ctx, string(ev.Type))
	return s.emit(ev)
}

func (s *session) pause(d time.Duration) error {
	if d <= 0 {
		return s.ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *session) safeRun() (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &panicError{err: observability.MustRecover(p)}
		}
	}()
	return s.run()
}

func (s *session) run() error {
	e := s.engine
	query := s.req.Query

	if s.req.IncludeThinking {
		if err := s.send(Event{Type: EventThinking, Content: ThinkingText(query)}); err != nil {
			return err
		}
		if err := s.pause(e.pacing.Thinking); err != nil {
			return err
		}
	}

	calls := ParseQueryAt(query, s.req.UserID, e.now())
	if len(calls) == 0 {
		return s.help()
	}

	for len(calls) > 0 && s.turns < MaxTurns {
		s.turns++
		turn := make([]ToolResult, 0, len(calls))
		for _, call := range calls {
			r, err := s.execute(call)
			if err != nil {
				return err
			}
			turn = append(turn, r)
		}
		s.all = append(s.all, turn...)
		if s.turns == MaxTurns {
			break
		}
		calls = e.chain(s.ctx, query, turn, s.all)
	}
	return s.answer()
}

func (s *session) execute(call ToolCall) (ToolResult, error) {
	e := s.engine
	if err := s.send(Event{
		Type:          EventToolCall,
		Content:       "Calling tool: " + call.Name,
		ToolName:      call.Name,
		ToolArguments: call.Arguments,
	}); err != nil {
		return ToolResult{}, err
	}
	if err := s.pause(e.pacing.ToolStep); err != nil {
		return ToolResult{}, err
	}

	start := time.Now()
	res, err := e.tools.Call(s.ctx, call.Name, call.Arguments, s.req.Auth)
	elapsed := time.Since(start)
	if ctxErr := s.ctx.Err(); ctxErr != nil {
		return ToolResult{}, ctxErr
	}

	out := ToolResult{ToolName: call.Name, Arguments: call.Arguments}
	if err != nil {
		out.Result = "Error: " + err.Error()
		out.IsError = true
		s.record(call.Name, elapsed, false, out.Result)
		s.executed = append(s.executed, executedTool{Name: call.Name, Success: false})
	} else {
		out.Result = resultText(res)
		out.IsError = res.IsError
		errMsg := ""
		if res.IsError {
			errMsg = out.Result
		}
		s.record(call.Name, elapsed, !res.IsError, errMsg)
		s.executed = append(s.executed, executedTool{Name: call.Name, Success: true})
		s.callsMade++
	}

	content := fmt.Sprintf("Tool %s completed successfully", call.Name)
	if out.IsError {
		content = fmt.Sprintf("Tool %s encountered an error", call.Name)
	}
	if err := s.send(Event{
		Type:     EventToolResult,
		Content:  content,
		ToolName: call.Name,
		IsError:  boolPtr(out.IsError),
	}); err != nil {
		return ToolResult{}, err
	}
	return out, s.pause(e.pacing.ToolStep)
}

func (s *session) record(tool string, d time.Duration, success bool, errMsg string) {
	if s.req.Recorder != nil {
		s.req.Recorder.RecordToolCall(tool, d, success, errMsg)
	}
}

func (s *session) answer() error {
	raw := finalAnswerWithFallback(s.req.Query, s.all, s.executed, s.callsMade, s.engine.encode)
	if err := s.send(Event{Type: EventAnswer, Content: raw}); err != nil {
		return err
	}
	s.answered = true
	s.outcome = OutcomeAnswered
	return s.send(Event{
		Type:          EventDone,
		Content:       "Reasoning complete",
		FinalAnswer:   raw,
		ToolCallsMade: intPtr(s.callsMade),
	})
}

func (s *session) help() error {
	if err := s.send(Event{
		Type:    EventThinking,
		Content: "I'm not sure which tools to use for this query. Let me provide some guidance...",
	}); err != nil {
		return err
	}
	text := HelpMessage(s.req.Query)
	for _, chunk := range chunkText(text, helpChunkSize) {
		if err := s.send(Event{Type: EventAnswer, Content: chunk}); err != nil {
			return err
		}
		if err := s.pause(s.engine.pacing.Chunk); err != nil {
			return err
		}
	}
	s.answered = true
	s.outcome = OutcomeHelp
	return s.send(Event{
		Type:          EventDone,
		Content:       "Query processed (no tools called)",
		FinalAnswer:   text,
		ToolCallsMade: intPtr(0),
	})
}

// fail closes a call that broke down with an error answer, falling back
// to a bare error event when no answer can be encoded
func (s *session) fail(cause error) error {
	raw, err := failureAnswer(s.req.Query, s.callsMade, cause, s.engine.encode)
	if err != nil {
		return s.send(Event{
			Type:    EventError,
			Content: fmt.Sprintf("Error in reasoning orchestrator: %v (format error: %v)", cause, err),
		})
	}
	if !s.answered {
		if err := s.send(Event{Type: EventAnswer, Content: raw}); err != nil {
			return err
		}
		s.answered = true
	}
	return s.send(Event{
		Type:          EventDone,
		Content:       "Reasoning complete with errors",
		FinalAnswer:   raw,
		ToolCallsMade: intPtr(s.callsMade),
	})
}
