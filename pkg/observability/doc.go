// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health checks and process lifecycle management.
//
// # Structured Logging
//
// Logger wraps log/slog with a JSON handler:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("tool", name).Info("tool invoked")
//
// Request-scoped loggers travel in the context:
//
//	ctx = observability.WithLogger(ctx, logger)
//	observability.FromContext(ctx).Warn("slow query")
//
// # Metrics
//
// Metrics registers the tool, reasoning, database, HTTP and security
// collectors on a private registry. Recorder fans observations out to both
// Prometheus and the OpenTelemetry meter:
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	recorder := observability.NewRecorder(metrics, otelMetrics)
//	recorder.ToolCall(ctx, "query_transactions", true, elapsed)
//
// Snapshot gathers the registry into the JSON summary served by the API.
//
// # Tracing
//
// InitOTel installs OTLP gRPC exporters when enabled. StartSpan and EndSpan
// wrap the module tracer.
//
// # Health and Shutdown
//
// HealthChecker aggregates named probes; optional probes degrade rather
// than fail readiness. ShutdownManager runs long-lived components under an
// errgroup and stops them on signal or first failure.
package observability
