// Package metrics exposes the gateway's Prometheus registry.
//
// NewRegistry creates the process-wide registry with the Go runtime and
// process collectors. The limits package registers its decision, queue and
// scheduler metrics on it; Collector adds HTTP request metrics. Handler
// serves everything at the configured path (default /metrics).
//
//	reg := metrics.NewRegistry()
//	limitsMetrics := limits.NewMetrics(reg)
//	httpMetrics := metrics.NewCollector(reg)
//	r.Handle("/metrics", httpMetrics.Handler())
package metrics
