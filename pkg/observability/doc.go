// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health checks and graceful shutdown for memhub.
//
// # Structured Logging
//
// Logger is a thin wrapper over logrus with a JSON formatter:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("operation_id", op.ID).Info("bulk operation started")
//
// Loggers travel through request contexts:
//
//	ctx = observability.WithLogger(ctx, logger)
//	observability.FromContext(ctx).Warn("token scope denied")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.BulkOperationsRunning.Inc()
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient)
//	checker.RegisterRoutes(router)
//
// # OpenTelemetry
//
// InitOTel installs global tracer and meter providers exporting over OTLP gRPC.
// Nothing is installed when OTel is disabled, so otel.Tracer falls back to the
// no-op provider.
package observability
