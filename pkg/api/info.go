package api

import (
	"math"
	"net/http"

	"github.com/platinummonkey/finmcp/pkg/httputil"
	"github.com/platinummonkey/finmcp/pkg/observability"
)

// ServiceInfo is the body of GET /
type ServiceInfo struct {
	Message     string            `json:"message"`
	Name        string            `json:"name"`
	Version     string            `json:"version"`
	APIVersion  string            `json:"api_version"`
	MCPEndpoint string            `json:"mcp_endpoint"`
	Endpoints   map[string]string `json:"endpoints"`
}

func (s *Server) serviceInfo(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, ServiceInfo{
		Message:     "Financial MCP Server API",
		Name:        s.opts.Name,
		Version:     s.opts.Version,
		APIVersion:  "v1",
		MCPEndpoint: "/api/v1/mcp",
		Endpoints: map[string]string{
			"mcp":        "POST /api/v1/mcp",
			"mcp_tools":  "GET /api/v1/mcp/tools",
			"mcp_info":   "GET /api/v1/mcp/info",
			"reasoning":  "POST /api/v1/reasoning",
			"metrics":    "GET /api/v1/metrics",
			"prometheus": "GET /metrics",
			"health":     "GET /health",
			"readiness":  "GET /health/ready",
		},
	})
}

func (s *Server) prometheusMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		httputil.WriteServiceUnavailable(w, "Metrics are disabled")
		return
	}
	s.metrics.Handler().ServeHTTP(w, r)
}

// MetricsSummary totals the tool section of a snapshot
type MetricsSummary struct {
	Tools              []string `json:"tools"`
	TotalTools         int      `json:"total_tools"`
	TotalInvocations   uint64   `json:"total_invocations"`
	TotalErrors        uint64   `json:"total_errors"`
	OverallSuccessRate float64  `json:"overall_success_rate"`
}

// MetricsResponse is the body of GET /api/v1/metrics
type MetricsResponse struct {
	observability.Snapshot
	Summary MetricsSummary `json:"summary"`
}

func summarize(snap observability.Snapshot) MetricsSummary {
	sum := MetricsSummary{Tools: snap.ToolNames(), TotalTools: len(snap.Tools), OverallSuccessRate: 100}
	for _, ts := range snap.Tools {
		sum.TotalInvocations += ts.Invocations
		sum.TotalErrors += ts.Errors
	}
	if sum.TotalInvocations > 0 {
		rate := float64(sum.TotalInvocations-sum.TotalErrors) / float64(sum.TotalInvocations) * 100
		sum.OverallSuccessRate = math.Round(rate*100) / 100
	}
	return sum
}

func (s *Server) metricsSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		httputil.WriteServiceUnavailable(w, "Metrics are disabled")
		return
	}
	snap, err := s.metrics.Snapshot()
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("failed to gather metrics")
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteJSONOrError(w, http.StatusOK, MetricsResponse{Snapshot: snap, Summary: summarize(snap)}, "encode metrics snapshot")
}
