package observability

import (
	"database/sql"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Metric names shared with the JSON snapshot
const (
	metricToolInvocations = "finmcp_tool_invocations_total"
	metricToolDuration    = "finmcp_tool_duration_seconds"
	metricDBQueries       = "finmcp_db_queries_total"
	metricHTTPRequests    = "finmcp_http_requests_total"
	metricReasoning       = "finmcp_reasoning_requests_total"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Tool metrics
	ToolInvocationsTotal *prometheus.CounterVec
	ToolDuration         *prometheus.HistogramVec

	// Reasoning metrics
	ReasoningRequestsTotal *prometheus.CounterVec
	ReasoningTurns         prometheus.Histogram
	ReasoningEventsTotal   *prometheus.CounterVec

	// Database metrics
	DBQueriesTotal        *prometheus.CounterVec
	DBQueryDuration       *prometheus.HistogramVec
	DBConnectionsOpen     prometheus.Gauge
	DBConnectionsInUse    prometheus.Gauge
	DBConnectionsIdle     prometheus.Gauge
	DBConnectionsWaitTime prometheus.Gauge

	// Cache metrics
	CacheHitsTotal         prometheus.Gauge
	CacheMissesTotal       prometheus.Gauge
	RedisConnectionsTotal  prometheus.Gauge
	RedisConnectionsIdle   prometheus.Gauge
	RedisPoolTimeoutsTotal prometheus.Gauge

	// Security metrics
	AuthFailuresTotal      *prometheus.CounterVec
	RateLimitExceededTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics on registry
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricHTTPRequests,
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "finmcp_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		ToolInvocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricToolInvocations,
				Help: "Total number of tool invocations",
			},
			[]string{"tool", "status"},
		),
		ToolDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricToolDuration,
				Help:    "Tool execution duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"tool"},
		),

		ReasoningRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricReasoning,
				Help: "Total number of reasoning requests by outcome",
			},
			[]string{"outcome"},
		),
		ReasoningTurns: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "finmcp_reasoning_turns",
				Help:    "Tool-calling turns per reasoning request",
				Buckets: []float64{0, 1, 2, 3, 4, 5},
			},
		),
		ReasoningEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finmcp_reasoning_events_total",
				Help: "Total number of streamed reasoning events",
			},
			[]string{"type"},
		),

		DBQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricDBQueries,
				Help: "Total number of database queries",
			},
			[]string{"operation", "status"},
		),
		DBQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "finmcp_db_query_duration_seconds",
				Help:    "Database query duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"operation"},
		),
		DBConnectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "finmcp_db_connections_open",
			Help: "Number of open database connections",
		}),
		DBConnectionsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "finmcp_db_connections_in_use",
			Help: "Number of database connections in use",
		}),
		DBConnectionsIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "finmcp_db_connections_idle",
			Help: "Number of idle database connections",
		}),
		DBConnectionsWaitTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "finmcp_db_connections_wait_duration_seconds",
			Help: "Total time spent waiting for connections",
		}),

		CacheHitsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "finmcp_cache_hits",
			Help: "Cache hits since start",
		}),
		CacheMissesTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "finmcp_cache_misses",
			Help: "Cache misses since start",
		}),
		RedisConnectionsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "finmcp_redis_connections",
			Help: "Connections in the Redis pool",
		}),
		RedisConnectionsIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "finmcp_redis_connections_idle",
			Help: "Idle connections in the Redis pool",
		}),
		RedisPoolTimeoutsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "finmcp_redis_pool_timeouts",
			Help: "Times a Redis connection could not be acquired in time",
		}),

		AuthFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finmcp_auth_failures_total",
				Help: "Total number of authentication and authorization failures",
			},
			[]string{"kind"},
		),
		RateLimitExceededTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finmcp_ratelimit_exceeded_total",
				Help: "Total number of rate limited requests",
			},
			[]string{"limiter"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ToolInvocationsTotal,
		m.ToolDuration,
		m.ReasoningRequestsTotal,
		m.ReasoningTurns,
		m.ReasoningEventsTotal,
		m.DBQueriesTotal,
		m.DBQueryDuration,
		m.DBConnectionsOpen,
		m.DBConnectionsInUse,
		m.DBConnectionsIdle,
		m.DBConnectionsWaitTime,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.RedisConnectionsTotal,
		m.RedisConnectionsIdle,
		m.RedisPoolTimeoutsTotal,
		m.AuthFailuresTotal,
		m.RateLimitExceededTotal,
	)

	return m
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordToolCall counts and times one tool invocation
func (m *Metrics) RecordToolCall(tool string, success bool, d time.Duration) {
	m.ToolInvocationsTotal.WithLabelValues(tool, statusLabel(success)).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// ObserveQuery records a database query. Its signature matches the
// postgres store's query observer.
func (m *Metrics) ObserveQuery(operation string, d time.Duration, err error) {
	m.DBQueriesTotal.WithLabelValues(operation, statusLabel(err == nil)).Inc()
	m.DBQueryDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// ObserveDBStats copies connection pool statistics into gauges
func (m *Metrics) ObserveDBStats(stats sql.DBStats) {
	m.DBConnectionsOpen.Set(float64(stats.OpenConnections))
	m.DBConnectionsInUse.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
	m.DBConnectionsWaitTime.Set(stats.WaitDuration.Seconds())
}

// ObserveCache publishes cumulative cache counters
func (m *Metrics) ObserveCache(hits, misses int64) {
	m.CacheHitsTotal.Set(float64(hits))
	m.CacheMissesTotal.Set(float64(misses))
}

// ObserveRedisPool copies Redis pool statistics into gauges
func (m *Metrics) ObserveRedisPool(total, idle, timeouts uint32) {
	m.RedisConnectionsTotal.Set(float64(total))
	m.RedisConnectionsIdle.Set(float64(idle))
	m.RedisPoolTimeoutsTotal.Set(float64(timeouts))
}

// RecordReasoning records the outcome of one reasoning request
func (m *Metrics) RecordReasoning(outcome string, turns int) {
	m.ReasoningRequestsTotal.WithLabelValues(outcome).Inc()
	m.ReasoningTurns.Observe(float64(turns))
}

// RecordEvent counts one streamed event
func (m *Metrics) RecordEvent(eventType string) {
	m.ReasoningEventsTotal.WithLabelValues(eventType).Inc()
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming responses working through the wrapper
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// routeLabel prefers the mux route template to keep label cardinality bounded
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return r.URL.Path
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// Handler serves the Prometheus exposition format for the private registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ToolSnapshot summarizes one tool in the JSON snapshot
type ToolSnapshot struct {
	Invocations    uint64  `json:"invocations"`
	Errors         uint64  `json:"errors"`
	AvgLatencyMs   float64 `json:"avg_latency_ms"`
	TotalLatencyMs float64 `json:"-"`
}

// Snapshot is the JSON view served by /api/v1/metrics
type Snapshot struct {
	Timestamp time.Time               `json:"timestamp"`
	Tools     map[string]ToolSnapshot `json:"tools"`
	Database  map[string]uint64       `json:"database_queries"`
	Endpoints map[string]uint64       `json:"endpoints"`
	Reasoning map[string]uint64       `json:"reasoning"`
}

func labelValue(metric *dto.Metric, name string) string {
	for _, lp := range metric.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

// Snapshot gathers the registry into a compact JSON-friendly summary
func (m *Metrics) Snapshot() (Snapshot, error) {
	snap := Snapshot{
		Timestamp: time.Now().UTC(),
		Tools:     make(map[string]ToolSnapshot),
		Database:  make(map[string]uint64),
		Endpoints: make(map[string]uint64),
		Reasoning: make(map[string]uint64),
	}

	families, err := m.registry.Gather()
	if err != nil {
		return snap, err
	}

	for _, mf := range families {
		switch mf.GetName() {
		case metricToolInvocations:
			for _, metric := range mf.GetMetric() {
				tool := labelValue(metric, "tool")
				ts := snap.Tools[tool]
				n := uint64(metric.GetCounter().GetValue())
				ts.Invocations += n
				if labelValue(metric, "status") == "error" {
					ts.Errors += n
				}
				snap.Tools[tool] = ts
			}
		case metricToolDuration:
			for _, metric := range mf.GetMetric() {
				tool := labelValue(metric, "tool")
				ts := snap.Tools[tool]
				ts.TotalLatencyMs += metric.GetHistogram().GetSampleSum() * 1000
				snap.Tools[tool] = ts
			}
		case metricDBQueries:
			for _, metric := range mf.GetMetric() {
				snap.Database[labelValue(metric, "operation")] += uint64(metric.GetCounter().GetValue())
			}
		case metricHTTPRequests:
			for _, metric := range mf.GetMetric() {
				key := labelValue(metric, "method") + " " + labelValue(metric, "route")
				snap.Endpoints[key] += uint64(metric.GetCounter().GetValue())
			}
		case metricReasoning:
			for _, metric := range mf.GetMetric() {
				snap.Reasoning[labelValue(metric, "outcome")] += uint64(metric.GetCounter().GetValue())
			}
		}
	}

	for name, ts := range snap.Tools {
		if ts.Invocations > 0 {
			ts.AvgLatencyMs = ts.TotalLatencyMs / float64(ts.Invocations)
		}
		snap.Tools[name] = ts
	}
	return snap, nil
}

// ToolNames returns the tools present in the snapshot, sorted
func (s Snapshot) ToolNames() []string {
	names := make([]string, 0, len(s.Tools))
	for name := range s.Tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
