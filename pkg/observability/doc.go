// Package observability provides structured logging, Prometheus metrics, health checks
// and panic recovery for the plugin host.
//
// # Structured Logging
//
// Create logger:
//
//	logger := observability.NewLogger(observability.ParseLogLevel("info"), os.Stderr)
//	logger.WithField("plugin", name).Info("Plugin loaded")
//
// # Prometheus Metrics
//
// Initialize metrics:
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.ObserveDiscovery(elapsed, reg.Len())
//
// Methods on a nil *Metrics are no-ops, so components can take metrics optionally.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(redisClient, version)
//	status := checker.Check(ctx)
//
// # Related Packages
//
//   - pkg/config: Logging configuration
//   - pkg/api: Serves /metrics and /health/*
package observability
