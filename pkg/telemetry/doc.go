// Package telemetry groups the gateway's observability packages.
//
//   - logging: slog setup with client key redaction and request-scoped loggers
//   - metrics: the Prometheus registry and HTTP request metrics
//   - tracing: OpenTelemetry tracing over OTLP with W3C propagation
//   - health: liveness and readiness probes
//
// Admission metrics (decisions, queue depth, scheduler ticks) live in the
// limits package and are registered on the same registry.
package telemetry
