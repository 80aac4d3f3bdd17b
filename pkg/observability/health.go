package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// CheckFunc probes one dependency
type CheckFunc func(ctx context.Context) error

// dependency is a registered probe. Optional dependencies degrade rather
// than fail readiness.
type dependency struct {
	name     string
	check    CheckFunc
	optional bool
}

// HealthChecker aggregates dependency probes into liveness and readiness
type HealthChecker struct {
	version string
	mu      sync.RWMutex
	deps    []dependency
	now     func() time.Time
}

// NewHealthChecker creates a checker reporting version
func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{version: version, now: time.Now}
}

// Register adds a required dependency
func (h *HealthChecker) Register(name string, check CheckFunc) {
	h.add(dependency{name: name, check: check})
}

// RegisterOptional adds a dependency whose failure only degrades readiness
func (h *HealthChecker) RegisterOptional(name string, check CheckFunc) {
	h.add(dependency{name: name, check: check, optional: true})
}

func (h *HealthChecker) add(d dependency) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deps = append(h.deps, d)
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the health of a single dependency
type DependencyStatus struct {
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	LatencyMs float64   `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
}

// Check probes every dependency concurrently
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	h.mu.RLock()
	deps := append([]dependency(nil), h.deps...)
	h.mu.RUnlock()
	sort.Slice(deps, func(i, j int) bool { return deps[i].name < deps[j].name })

	results := make([]DependencyStatus, len(deps))
	var wg sync.WaitGroup
	for i, d := range deps {
		wg.Add(1)
		go func(i int, d dependency) {
			defer wg.Done()
			start := h.now()
			err := d.check(ctx)
			ds := DependencyStatus{
				Status:    StatusHealthy,
				LatencyMs: float64(time.Since(start).Microseconds()) / 1000,
				Timestamp: start,
			}
			if err != nil {
				ds.Status = StatusUnhealthy
				ds.Message = err.Error()
			}
			results[i] = ds
		}(i, d)
	}
	wg.Wait()

	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    h.now(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus, len(deps)),
	}
	for i, d := range deps {
		ds := results[i]
		status.Dependencies[d.name] = ds
		if ds.Status != StatusUnhealthy {
			continue
		}
		if d.optional {
			if status.Status == StatusHealthy {
				status.Status = StatusDegraded
			}
		} else {
			status.Status = StatusUnhealthy
		}
	}
	return status
}

func writeHealthJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// Liveness reports the process is serving
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	writeHealthJSON(w, http.StatusOK, HealthStatus{
		Status:    StatusHealthy,
		Timestamp: h.now(),
		Version:   h.version,
	})
}

// Readiness probes dependencies, answering 503 when a required one fails
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)
	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeHealthJSON(w, code, status)
}
