// Package tracing provides OpenTelemetry tracing for the floodgate gateway.
//
// # Overview
//
// New installs a tracer provider exporting over OTLP gRPC and the W3C
// Trace Context propagator. When tracing is disabled it returns a noop
// tracer, so callers never branch on configuration.
//
// # Span Hierarchy
//
//	gateway GET                 (server span, HTTPMiddleware)
//	└── limits.decide           (one per admission decision)
//	    └── deferred.resolved   (event, when a queued request resolves)
//
// # Sampling
//
// Three strategies are supported, each wrapped in ParentBased:
//   - always: sample every root span
//   - never: sample no root span
//   - ratio: sample a fraction of root spans by trace ID
//
// # Configuration
//
//	telemetry:
//	  tracing:
//	    enabled: true
//	    sampler: ratio
//	    sample_ratio: 0.1
//	    endpoint: localhost:4317
//	    otlp:
//	      insecure: true
//	      timeout: 10s
//
// # Usage
//
//	tracer, err := tracing.New(&cfg.Telemetry.Tracing)
//	if err != nil {
//	    return err
//	}
//	defer tracer.Shutdown(context.Background())
//
//	handler = tracing.HTTPMiddleware(tracer.Tracer())(handler)
package tracing
