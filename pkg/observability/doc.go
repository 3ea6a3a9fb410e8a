// Package observability provides the service's operational surface:
// structured JSON logging over slog, Prometheus metrics, health probes for
// Postgres and Redis, OTLP trace export, and graceful shutdown.
//
// The Metrics type doubles as the authorization layer's metrics sink; wire
// it into the resolver and guard with their SetMetrics methods.
package observability
