package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// NewRegistry returns a registry carrying the Go runtime and process
// collectors. Every floodgate metric is registered on it.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Collector records gateway HTTP metrics.
//
// Metrics:
//   - floodgate_http_requests_total: requests by policy, method and status
//   - floodgate_http_request_duration_seconds: end-to-end latency by policy
//   - floodgate_http_in_flight: requests being served
//   - floodgate_http_overload_total: requests refused by the in-flight cap
//
// The policy label is bounded by configuration; unrouted requests use
// "none".
type Collector struct {
	registry *prometheus.Registry

	requests  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	inFlight  prometheus.Gauge
	overloads prometheus.Counter
}

// DurationBuckets cover admitted requests (milliseconds) up to deferred
// requests held for the full queue timeout (tens of seconds).
var DurationBuckets = []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// NewCollector creates a collector registered with registry. A nil registry
// creates a fresh one via NewRegistry.
func NewCollector(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = NewRegistry()
	}
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,

		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "floodgate_http_requests_total",
				Help: "Total number of HTTP requests served by the gateway",
			},
			[]string{"policy", "method", "status"},
		),

		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "floodgate_http_request_duration_seconds",
				Help:    "HTTP request duration including time spent deferred",
				Buckets: DurationBuckets,
			},
			[]string{"policy"},
		),

		inFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "floodgate_http_in_flight",
				Help: "Number of HTTP requests currently being served",
			},
		),

		overloads: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "floodgate_http_overload_total",
				Help: "Total number of requests refused by the in-flight cap",
			},
		),
	}
}

// RecordRequest records a completed request.
func (c *Collector) RecordRequest(policy, method string, status int, d time.Duration) {
	if policy == "" {
		policy = "none"
	}
	c.requests.WithLabelValues(policy, method, strconv.Itoa(status)).Inc()
	c.duration.WithLabelValues(policy).Observe(d.Seconds())
}

// IncInFlight marks a request as started; the returned func marks it done.
func (c *Collector) IncInFlight() func() {
	c.inFlight.Inc()
	return c.inFlight.Dec
}

// RecordOverload counts a request refused by the in-flight cap.
func (c *Collector) RecordOverload() {
	c.overloads.Inc()
}

// Registry returns the registry the collector is registered with.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
