// Package observability provides structured logging, Prometheus metrics,
// health probes and OpenTelemetry tracing for the adminboard server.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("board_id", id).Info("board updated")
//
// Request-scoped loggers travel in the context:
//
//	ctx = observability.WithLogger(ctx, logger)
//	observability.FromContext(ctx).WithError(err).Error("delete failed")
//
// # Metrics
//
//	m := observability.NewMetrics(prometheus.NewRegistry())
//	m.BoardMutationsTotal.WithLabelValues("create_task", "ok").Inc()
//
// # Health
//
// HealthChecker pings the database, Redis and the blob store and serves
// /health/live and /health/ready.
package observability
