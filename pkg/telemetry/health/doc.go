// Package health provides liveness and readiness probes for the gateway.
//
// # Endpoints
//
//   - /health: liveness, 200 while the process is serving
//   - /ready: readiness, 200 only when every registered check passes
//   - /version: build information
//
// # Checks
//
// The gateway registers:
//   - scheduler: every leaky bucket drain scheduler is running
//   - storage: the statistics backend answers Ping (when enabled)
//   - shutdown: fails once graceful shutdown begins
//
// Checks run concurrently, each bounded by the configured check timeout.
//
// # Usage
//
//	checker := health.New(cfg.Telemetry.Health.CheckTimeout)
//	checker.RegisterCheck("scheduler", health.SchedulerCheck(manager.SchedulersRunning))
//	checker.RegisterCheck("storage", health.StorageCheck(backend))
//
//	r.Get("/health", checker.LivenessHandler())
//	r.Get("/ready", checker.ReadinessHandler())
package health
