package limits

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"mercator-hq/floodgate/pkg/limits/ratelimit"
)

// Metrics contains Prometheus metrics for the limits package.
type Metrics struct {
	// Decisions
	decisions  *prometheus.CounterVec
	rejections *prometheus.CounterVec

	// Deferred requests
	queueDepth *prometheus.GaugeVec
	resolved   *prometheus.CounterVec

	// Drain scheduler
	ticks       *prometheus.CounterVec
	tickFaults  *prometheus.CounterVec
	tickDrained *prometheus.HistogramVec

	// State size
	trackedKeys *prometheus.GaugeVec
	evicted     *prometheus.CounterVec

	// Statistics recorder
	recorderDropped prometheus.Counter

	// Decide latency
	decideDuration *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance registered with reg.
// A nil reg creates unregistered collectors, which is useful in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		decisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "floodgate_decisions_total",
				Help: "Total number of admission decisions",
			},
			[]string{"policy", "strategy", "outcome"},
		),

		rejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "floodgate_rejections_total",
				Help: "Total number of rejected requests by reason",
			},
			[]string{"policy", "reason"},
		),

		queueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "floodgate_queue_depth",
				Help: "Number of deferred requests waiting in leaky bucket queues",
			},
			[]string{"policy"},
		),

		resolved: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "floodgate_deferred_resolved_total",
				Help: "Total number of deferred requests resolved by final status",
			},
			[]string{"policy", "status"},
		),

		ticks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "floodgate_scheduler_ticks_total",
				Help: "Total number of drain scheduler ticks",
			},
			[]string{"policy"},
		),

		tickFaults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "floodgate_scheduler_faults_total",
				Help: "Total number of contained drain faults",
			},
			[]string{"policy"},
		),

		tickDrained: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "floodgate_scheduler_tick_drained",
				Help:    "Deferred requests released per tick",
				Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1 to 512
			},
			[]string{"policy"},
		),

		trackedKeys: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "floodgate_tracked_keys",
				Help: "Number of per-key state entries held by a policy",
			},
			[]string{"policy"},
		),

		evicted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "floodgate_evicted_keys_total",
				Help: "Total number of per-key state entries evicted",
			},
			[]string{"policy"},
		),

		recorderDropped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "floodgate_recorder_dropped_total",
				Help: "Total number of decision events dropped because the recorder buffer was full",
			},
		),

		decideDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "floodgate_decide_duration_seconds",
				Help:    "Duration of admission decisions in seconds",
				Buckets: prometheus.ExponentialBuckets(0.000001, 2, 15), // 1µs to 16ms
			},
			[]string{"policy"},
		),
	}
}

// RecordDecision records one decision and its latency.
func (m *Metrics) RecordDecision(d Decision, seconds float64) {
	m.decisions.WithLabelValues(d.Policy, d.Strategy, d.Outcome.String()).Inc()
	if d.Outcome == ratelimit.Reject {
		m.rejections.WithLabelValues(d.Policy, reasonLabel(d.Reason)).Inc()
	}
	m.decideDuration.WithLabelValues(d.Policy).Observe(seconds)
}

// RecordResolved records the final status of a deferred request.
func (m *Metrics) RecordResolved(policy string, status ratelimit.TaskStatus) {
	m.resolved.WithLabelValues(policy, status.String()).Inc()
}

// RecordTick records one drain tick.
func (m *Metrics) RecordTick(policy string, stats ratelimit.TickStats) {
	m.ticks.WithLabelValues(policy).Inc()
	if stats.Faults > 0 {
		m.tickFaults.WithLabelValues(policy).Add(float64(stats.Faults))
	}
	if released := stats.Drained + stats.Failed; released > 0 {
		m.tickDrained.WithLabelValues(policy).Observe(float64(released))
	}
}

// SetQueueDepth updates the number of queued requests of a policy.
func (m *Metrics) SetQueueDepth(policy string, depth int64) {
	m.queueDepth.WithLabelValues(policy).Set(float64(depth))
}

// RecordEviction records an eviction sweep of one policy.
func (m *Metrics) RecordEviction(policy string, evicted, remaining int) {
	if evicted > 0 {
		m.evicted.WithLabelValues(policy).Add(float64(evicted))
	}
	m.trackedKeys.WithLabelValues(policy).Set(float64(remaining))
}

// RecordDropped records events the recorder could not buffer.
func (m *Metrics) RecordDropped(n int) {
	m.recorderDropped.Add(float64(n))
}

// reasonLabel maps a reject reason to a bounded label value.
func reasonLabel(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ratelimit.ErrLimitExceeded):
		return "limit_exceeded"
	case errors.Is(err, ratelimit.ErrQueueFull):
		return "queue_full"
	case errors.Is(err, ratelimit.ErrSchedulerStopped), errors.Is(err, ErrManagerStopped):
		return "stopped"
	case errors.Is(err, ErrUnknownPolicy):
		return "unknown_policy"
	default:
		return "other"
	}
}
