package observability

import (
	"context"
	"time"
)

// Recorder fans observations out to Prometheus and, when configured,
// OpenTelemetry. A nil Recorder or nil sink is a no-op.
type Recorder struct {
	prom *Metrics
	otel *OTelMetrics
}

// NewRecorder combines the metric sinks. Either may be nil.
func NewRecorder(prom *Metrics, otel *OTelMetrics) *Recorder {
	return &Recorder{prom: prom, otel: otel}
}

// Metrics returns the Prometheus sink
func (r *Recorder) Metrics() *Metrics {
	if r == nil {
		return nil
	}
	return r.prom
}

// ToolCall records one tool invocation
func (r *Recorder) ToolCall(ctx context.Context, tool string, success bool, d time.Duration) {
	if r == nil {
		return
	}
	if r.prom != nil {
		r.prom.RecordToolCall(tool, success, d)
	}
	if r.otel != nil {
		r.otel.RecordToolCall(ctx, tool, success, d)
	}
}

// Reasoning records the outcome of one reasoning request
func (r *Recorder) Reasoning(ctx context.Context, outcome string, turns int) {
	if r == nil {
		return
	}
	if r.prom != nil {
		r.prom.RecordReasoning(outcome, turns)
	}
	if r.otel != nil {
		r.otel.RecordReasoning(ctx, outcome)
	}
}

// Event counts one streamed event
func (r *Recorder) Event(ctx context.Context, eventType string) {
	if r == nil {
		return
	}
	if r.prom != nil {
		r.prom.RecordEvent(eventType)
	}
	if r.otel != nil {
		r.otel.RecordEvent(ctx, eventType)
	}
}

// Query records a database query. It is shaped to be passed as the
// postgres store's query observer.
func (r *Recorder) Query(operation string, d time.Duration, err error) {
	if r == nil {
		return
	}
	if r.prom != nil {
		r.prom.ObserveQuery(operation, d, err)
	}
	if r.otel != nil {
		r.otel.RecordQuery(context.Background(), operation, err)
	}
}

// AuthFailure counts a rejected request by rbac error kind
func (r *Recorder) AuthFailure(kind string) {
	if r == nil || r.prom == nil {
		return
	}
	r.prom.AuthFailuresTotal.WithLabelValues(kind).Inc()
}

// RateLimited counts a request rejected by limiter
func (r *Recorder) RateLimited(limiter string) {
	if r == nil || r.prom == nil {
		return
	}
	r.prom.RateLimitExceededTotal.WithLabelValues(limiter).Inc()
}
