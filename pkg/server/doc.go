// Package server runs the admission gateway's HTTP server.
//
// The server matches each request to a configured route by path prefix,
// admits it through the route's policy and hands admitted requests to the
// backend: a reverse proxy to the configured upstream, or an echo handler
// that reports the admission outcome.
//
// # Middleware Chain
//
// Global, outermost first:
//
//	Recovery -> RequestID -> tracing -> Logging
//
// Per route:
//
//	MaxInFlight -> Metrics -> Admission -> backend
//
// # Basic Usage
//
//	srv, err := server.New(cfg, server.Deps{
//	    Manager: manager,
//	    Checker: checker,
//	    Metrics: collector,
//	    Tracer:  tracer.Tracer(),
//	    Logger:  logger,
//	})
//	if err != nil {
//	    return err
//	}
//	return srv.Start(ctx) // returns after ctx is cancelled and shutdown completes
//
// # Graceful Shutdown
//
// Shutdown marks the server as draining, which fails the readiness probe,
// and stops accepting connections. Requests already queued in a leaky
// bucket keep draining until server.shutdown_timeout; the limits manager is
// then stopped and the rest are answered with 503 shutting_down.
package server
