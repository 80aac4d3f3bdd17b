package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// InstrumentationName identifies this module to OpenTelemetry
const InstrumentationName = "github.com/platinummonkey/finmcp"

// OTelMetrics mirrors the tool and reasoning metrics as OpenTelemetry
// instruments so they reach the OTLP collector alongside traces
type OTelMetrics struct {
	toolCalls       metric.Int64Counter
	toolDuration    metric.Float64Histogram
	reasoningTotal  metric.Int64Counter
	reasoningEvents metric.Int64Counter
	dbQueries       metric.Int64Counter
}

// NewOTelMetrics creates instruments on the global meter provider
func NewOTelMetrics() (*OTelMetrics, error) {
	return NewOTelMetricsWithMeter(otel.Meter(InstrumentationName))
}

// NewOTelMetricsWithMeter creates instruments on meter
func NewOTelMetricsWithMeter(meter metric.Meter) (*OTelMetrics, error) {
	m := &OTelMetrics{}
	var err error

	m.toolCalls, err = meter.Int64Counter(
		"finmcp.tool.calls",
		metric.WithDescription("Total number of tool invocations"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool calls counter: %w", err)
	}

	m.toolDuration, err = meter.Float64Histogram(
		"finmcp.tool.duration",
		metric.WithDescription("Tool execution duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool duration histogram: %w", err)
	}

	m.reasoningTotal, err = meter.Int64Counter(
		"finmcp.reasoning.requests",
		metric.WithDescription("Total number of reasoning requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create reasoning counter: %w", err)
	}

	m.reasoningEvents, err = meter.Int64Counter(
		"finmcp.reasoning.events",
		metric.WithDescription("Total number of streamed reasoning events"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create reasoning events counter: %w", err)
	}

	m.dbQueries, err = meter.Int64Counter(
		"finmcp.db.queries",
		metric.WithDescription("Total number of database queries"),
		metric.WithUnit("{query}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create db queries counter: %w", err)
	}

	return m, nil
}

// RecordToolCall records one tool invocation
func (m *OTelMetrics) RecordToolCall(ctx context.Context, tool string, success bool, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("status", statusLabel(success)),
	)
	m.toolCalls.Add(ctx, 1, attrs)
	m.toolDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("tool", tool)))
}

// RecordReasoning records one reasoning request
func (m *OTelMetrics) RecordReasoning(ctx context.Context, outcome string) {
	m.reasoningTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordEvent counts one streamed event
func (m *OTelMetrics) RecordEvent(ctx context.Context, eventType string) {
	m.reasoningEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("type", eventType)))
}

// RecordQuery counts one database query
func (m *OTelMetrics) RecordQuery(ctx context.Context, operation string, err error) {
	m.dbQueries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", statusLabel(err == nil)),
	))
}
