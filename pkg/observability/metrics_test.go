package observability

import (
	"database/sql"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	return NewMetrics(prometheus.NewRegistry())
}

func TestMetrics_RecordToolCall(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordToolCall("query_transactions", true, 10*time.Millisecond)
	m.RecordToolCall("query_transactions", false, 30*time.Millisecond)
	m.RecordToolCall("get_market_summary", true, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolInvocationsTotal.WithLabelValues("query_transactions", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolInvocationsTotal.WithLabelValues("query_transactions", "error")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.ToolDuration))
}

func TestMetrics_ObserveQueryAndDBStats(t *testing.T) {
	m := newTestMetrics(t)
	m.ObserveQuery("get_portfolio", time.Millisecond, nil)
	m.ObserveQuery("get_portfolio", time.Millisecond, errors.New("boom"))
	m.ObserveDBStats(sql.DBStats{OpenConnections: 4, InUse: 1, Idle: 3, WaitDuration: 2 * time.Second})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.DBQueriesTotal.WithLabelValues("get_portfolio", "error")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.DBConnectionsOpen))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.DBConnectionsIdle))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DBConnectionsWaitTime))

	m.ObserveRedisPool(5, 2, 1)
	assert.Equal(t, 5.0, testutil.ToFloat64(m.RedisConnectionsTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RedisConnectionsIdle))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RedisPoolTimeoutsTotal))
}

func TestHTTPMetricsMiddleware_UsesRouteTemplate(t *testing.T) {
	m := newTestMetrics(t)
	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(m))
	router.HandleFunc("/api/v1/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	for _, id := range []string{"1", "2"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/items/"+id, nil))
		assert.Equal(t, http.StatusTeapot, rec.Code)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/items/{id}", "418")))
}

func TestMetrics_Handler(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordToolCall("analyze_risk_metrics", true, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `finmcp_tool_invocations_total{status="success",tool="analyze_risk_metrics"} 1`)
}

func TestMetrics_Snapshot(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordToolCall("query_transactions", true, 10*time.Millisecond)
	m.RecordToolCall("query_transactions", false, 30*time.Millisecond)
	m.ObserveQuery("query_transactions", time.Millisecond, nil)
	m.RecordReasoning("success", 2)
	m.HTTPRequestsTotal.WithLabelValues("POST", "/api/v1/mcp", "200").Inc()

	snap, err := m.Snapshot()
	require.NoError(t, err)

	tool := snap.Tools["query_transactions"]
	assert.Equal(t, uint64(2), tool.Invocations)
	assert.Equal(t, uint64(1), tool.Errors)
	assert.InDelta(t, 20.0, tool.AvgLatencyMs, 0.001)
	assert.Equal(t, uint64(1), snap.Database["query_transactions"])
	assert.Equal(t, uint64(1), snap.Endpoints["POST /api/v1/mcp"])
	assert.Equal(t, uint64(1), snap.Reasoning["success"])
	assert.Equal(t, []string{"query_transactions"}, snap.ToolNames())
}

func TestRecorder_FansOut(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otelMetrics, err := NewOTelMetricsWithMeter(provider.Meter("test"))
	require.NoError(t, err)

	prom := newTestMetrics(t)
	rec := NewRecorder(prom, otelMetrics)

	ctx := t.Context()
	rec.ToolCall(ctx, "get_market_summary", true, time.Millisecond)
	rec.Reasoning(ctx, "success", 1)
	rec.Event(ctx, "tool_call")
	rec.Query("latest_prices", time.Millisecond, nil)
	rec.AuthFailure("invalid_token")
	rec.RateLimited("memory")

	assert.Equal(t, 1.0, testutil.ToFloat64(prom.ToolInvocationsTotal.WithLabelValues("get_market_summary", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(prom.ReasoningEventsTotal.WithLabelValues("tool_call")))
	assert.Equal(t, 1.0, testutil.ToFloat64(prom.AuthFailuresTotal.WithLabelValues("invalid_token")))
	assert.Equal(t, 1.0, testutil.ToFloat64(prom.RateLimitExceededTotal.WithLabelValues("memory")))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, metric := range sm.Metrics {
			names[metric.Name] = true
		}
	}
	for _, want := range []string{"finmcp.tool.calls", "finmcp.tool.duration", "finmcp.reasoning.requests", "finmcp.reasoning.events", "finmcp.db.queries"} {
		assert.True(t, names[want], want)
	}
}

func TestRecorder_NilSafe(t *testing.T) {
	var rec *Recorder
	assert.NotPanics(t, func() {
		rec.ToolCall(t.Context(), "x", true, 0)
		rec.Reasoning(t.Context(), "success", 0)
		rec.Event(t.Context(), "done")
		rec.Query("op", 0, nil)
		rec.AuthFailure("x")
		rec.RateLimited("x")
	})
	assert.Nil(t, rec.Metrics())
	assert.NotPanics(t, func() { NewRecorder(nil, nil).ToolCall(t.Context(), "x", true, 0) })
}
