// Package observability provides structured logging, Prometheus metrics,
// health checks, and OpenTelemetry tracing for the gate service.
//
// # Structured Logging
//
// Logger wraps a logrus JSON logger:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("reason", "wrong_portal").Info("gate redirect")
//
// Request-scoped loggers come from the context:
//
//	observability.FromContext(r.Context()).Warn("role lookup failed")
//
// # Prometheus Metrics
//
//	metrics := observability.NewMetrics(registry)
//	metrics.ObserveDecision("redirect", "unauthorized_access")
//
// All Observe* recorders accept a nil *Metrics.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient)
//	observability.RegisterHealthRoutes(router, checker)
//
// The database is required. Redis only backs rate limiting and degrades
// the status when unreachable.
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:  true,
//		Endpoint: "otel-collector:4317",
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
package observability
