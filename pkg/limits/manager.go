package limits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/floodgate/pkg/limits/ratelimit"
	"mercator-hq/floodgate/pkg/limits/storage"
	"mercator-hq/floodgate/pkg/telemetry/tracing"
)

const tracerName = "mercator-hq/floodgate/pkg/limits"

// Manager is the admission engine. It owns one strategy per named policy,
// the drain schedulers of leaky bucket policies, and the side channels every
// decision feeds (metrics, tracing and the statistics recorder).
//
// # Example
//
//	manager, err := limits.NewManager(limits.Config{
//	    Policies: map[string]ratelimit.Config{
//	        "api": {Type: ratelimit.StrategyTokenBucket, MaxTokens: 50, RefillRate: 10},
//	    },
//	})
//	if err != nil {
//	    return err
//	}
//	if err := manager.Start(ctx); err != nil {
//	    return err
//	}
//	defer manager.Stop(context.Background())
//
//	d := manager.Decide(ctx, "api", clientKey, nil)
//	if !d.Admitted() {
//	    return d.Err()
//	}
//
// # Thread Safety
//
// The policy set is fixed at construction; Decide takes no manager lock.
type Manager struct {
	policies map[string]*policy
	names    []string

	clock    ratelimit.Clock
	logger   *slog.Logger
	metrics  *Metrics
	recorder *Recorder
	tracer   trace.Tracer

	stopped atomic.Bool
	startMu sync.Mutex
	started bool
}

type policy struct {
	name     string
	config   ratelimit.Config
	strategy ratelimit.Strategy
	bucket   *ratelimit.LeakyBucket
}

// Config contains configuration for the limits manager.
type Config struct {
	// Policies maps policy names to strategy configurations.
	Policies map[string]ratelimit.Config

	// Clock is the decision time source. Default: ratelimit.SystemClock.
	Clock ratelimit.Clock

	// QueueClock drives leaky bucket schedulers and stamps queue deadlines.
	// Default: Clock when set, otherwise ratelimit.MonotonicClock.
	QueueClock ratelimit.Clock

	// Logger is the base logger. Default: slog.Default().
	Logger *slog.Logger

	// Metrics receives decision metrics. Nil disables metrics.
	Metrics *Metrics

	// Recorder receives decision events. Nil disables statistics.
	Recorder *Recorder

	// Tracer creates a span per decision. Default: the global otel tracer.
	Tracer trace.Tracer

	// SchedulerOptions are passed to every leaky bucket scheduler. The
	// manager's own clock, logger and tick hook take precedence.
	SchedulerOptions []ratelimit.SchedulerOption
}

// NewManager validates every policy and builds its strategy. Schedulers are
// not started; call Start.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.Policies) == 0 {
		return nil, fmt.Errorf("%w: no policies configured", ErrConfigInvalid)
	}
	if cfg.QueueClock == nil {
		cfg.QueueClock = cfg.Clock
	}
	if cfg.QueueClock == nil {
		cfg.QueueClock = ratelimit.MonotonicClock{}
	}
	if cfg.Clock == nil {
		cfg.Clock = ratelimit.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}

	m := &Manager{
		policies: make(map[string]*policy, len(cfg.Policies)),
		clock:    cfg.Clock,
		logger:   cfg.Logger.With("component", "limits.manager"),
		metrics:  cfg.Metrics,
		recorder: cfg.Recorder,
		tracer:   cfg.Tracer,
	}

	for name, pc := range cfg.Policies {
		if name == "" {
			return nil, &PolicyError{Policy: name, Err: errors.New("policy name must not be empty")}
		}
		p, err := m.buildPolicy(name, pc, cfg)
		if err != nil {
			return nil, &PolicyError{Policy: name, Err: err}
		}
		m.policies[name] = p
		m.names = append(m.names, name)
	}
	slices.Sort(m.names)

	m.logger.Info("Limits manager initialized", "policies", m.names)
	return m, nil
}

func (m *Manager) buildPolicy(name string, pc ratelimit.Config, cfg Config) (*policy, error) {
	p := &policy{name: name, config: pc}

	var opts []ratelimit.SchedulerOption
	if pc.Type == ratelimit.StrategyLeakyBucket {
		user := pc.Observer
		pc.Observer = func(t *ratelimit.Task) {
			m.observeTask(name, t)
			if user != nil {
				user(t)
			}
		}
		opts = append(opts, cfg.SchedulerOptions...)
		opts = append(opts,
			ratelimit.WithClock(cfg.QueueClock),
			ratelimit.WithSchedulerLogger(cfg.Logger.With("policy", name)),
			ratelimit.WithTickHook(func(stats ratelimit.TickStats) {
				m.observeTick(p, stats)
			}),
		)
	}

	s, err := ratelimit.New(pc, opts...)
	if err != nil {
		return nil, err
	}
	p.strategy = s
	if lb, ok := s.(*ratelimit.LeakyBucket); ok {
		p.bucket = lb
	}
	return p, nil
}

// Decide runs the named policy for key at the manager clock's current time.
//
// An unknown policy or a stopped manager yields a Reject decision rather
// than an error. task is only used by leaky bucket policies; pass nil for
// the others.
func (m *Manager) Decide(ctx context.Context, policyName, key string, task *ratelimit.Task) Decision {
	_, span := m.tracer.Start(ctx, "limits.decide",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			tracing.AttrPolicy.String(policyName),
			tracing.AttrKey.String(key),
		),
	)
	defer span.End()

	start := time.Now()
	now := m.clock.Now()

	d := Decision{Policy: policyName, Key: key}
	p, ok := m.policies[policyName]
	switch {
	case m.stopped.Load():
		d.Decision = ratelimit.Decision{Outcome: ratelimit.Reject, Reason: ErrManagerStopped}
		if p != nil {
			d.Strategy = p.config.Type
		}
	case !ok:
		d.Decision = ratelimit.Decision{Outcome: ratelimit.Reject, Reason: ErrUnknownPolicy}
	default:
		d.Strategy = p.config.Type
		d.Decision = p.strategy.Decide(key, now, task)
	}

	reason := ""
	if d.Outcome == ratelimit.Reject {
		reason = reasonLabel(d.Reason)
	}
	tracing.SetOutcomeAttributes(span, d.Strategy, d.Outcome.String(), reason, d.RetryAfter)
	if d.Outcome == ratelimit.Reject {
		if !ok || m.stopped.Load() {
			span.SetStatus(codes.Error, d.Reason.Error())
		}
		m.logger.Debug("Request rejected",
			"policy", policyName,
			"key", key,
			"reason", d.Reason,
			"retry_after", d.RetryAfter.String(),
		)
	}

	if m.metrics != nil {
		m.metrics.RecordDecision(d, time.Since(start).Seconds())
		if p != nil && p.bucket != nil && d.Outcome != ratelimit.Admit {
			m.metrics.SetQueueDepth(policyName, p.bucket.Pending())
		}
	}
	if m.recorder != nil {
		m.recorder.Record(storage.Event{
			Policy:  policyName,
			Key:     key,
			Outcome: d.Outcome.String(),
			At:      now,
		})
	}
	return d
}

// observeTask handles a deferred request resolved by a drain scheduler.
func (m *Manager) observeTask(policyName string, t *ratelimit.Task) {
	status := t.Status()
	if m.metrics != nil {
		m.metrics.RecordResolved(policyName, status)
	}
	if m.recorder != nil {
		if outcome := resolvedOutcome(status); outcome != "" {
			m.recorder.Record(storage.Event{
				Policy:  policyName,
				Key:     t.Key(),
				Outcome: outcome,
				At:      m.clock.Now(),
			})
		}
	}
}

func (m *Manager) observeTick(p *policy, stats ratelimit.TickStats) {
	if m.metrics == nil {
		return
	}
	m.metrics.RecordTick(p.name, stats)
	if p.bucket != nil {
		m.metrics.SetQueueDepth(p.name, p.bucket.Pending())
	}
}

// resolvedOutcome maps a final task status to a statistics outcome.
func resolvedOutcome(s ratelimit.TaskStatus) string {
	switch s {
	case ratelimit.TaskDone:
		return storage.OutcomeDrained
	case ratelimit.TaskFailed:
		return storage.OutcomeFailed
	case ratelimit.TaskTimedOut:
		return storage.OutcomeTimedOut
	case ratelimit.TaskCancelled:
		return storage.OutcomeCancelled
	case ratelimit.TaskAbandoned:
		return storage.OutcomeAbandoned
	default:
		return ""
	}
}

// Start starts the drain scheduler of every leaky bucket policy. On failure
// the schedulers already started are stopped again.
func (m *Manager) Start(ctx context.Context) error {
	m.startMu.Lock()
	defer m.startMu.Unlock()

	if m.stopped.Load() {
		return ErrManagerStopped
	}
	if m.started {
		return nil
	}

	var started []*policy
	for _, name := range m.names {
		p := m.policies[name]
		if p.bucket == nil {
			continue
		}
		if err := p.bucket.Start(ctx); err != nil {
			for _, s := range started {
				_ = s.bucket.Stop(context.Background())
			}
			return fmt.Errorf("failed to start scheduler for policy %q: %w", name, err)
		}
		started = append(started, p)
	}

	m.started = true
	m.logger.Info("Limits manager started", "schedulers", len(started))
	return nil
}

// Stop stops every drain scheduler. Queued requests are resolved with
// ratelimit.ErrSchedulerStopped and later decisions reject with
// ErrManagerStopped. Stop is idempotent.
func (m *Manager) Stop(ctx context.Context) error {
	m.startMu.Lock()
	defer m.startMu.Unlock()

	if m.stopped.Swap(true) {
		return nil
	}

	var errs []error
	for _, name := range m.names {
		p := m.policies[name]
		if p.bucket == nil {
			continue
		}
		if err := p.bucket.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("policy %q: %w", name, err))
		}
		if m.metrics != nil {
			m.metrics.SetQueueDepth(name, p.bucket.Pending())
		}
	}

	m.logger.Info("Limits manager stopped", "errors", len(errs))
	return errors.Join(errs...)
}

// Close stops the manager with a background context.
func (m *Manager) Close() error {
	return m.Stop(context.Background())
}

// Evict reclaims idle per-key state of every policy and returns the number
// of entries removed per policy.
func (m *Manager) Evict(now time.Time) map[string]int {
	result := make(map[string]int, len(m.names))
	for _, name := range m.names {
		p := m.policies[name]

		evicted := 0
		if ev, ok := p.strategy.(ratelimit.Evictor); ok {
			evicted = ev.Evict(now)
		}
		result[name] = evicted

		if m.metrics != nil {
			remaining := 0
			if sz, ok := p.strategy.(ratelimit.Sizer); ok {
				remaining = sz.Keys()
			}
			m.metrics.RecordEviction(name, evicted, remaining)
		}
	}
	return result
}

// Now returns the manager clock's current time.
func (m *Manager) Now() time.Time {
	return m.clock.Now()
}

// Policies returns the configured policy names in sorted order.
func (m *Manager) Policies() []string {
	return slices.Clone(m.names)
}

// HasPolicy reports whether name is configured.
func (m *Manager) HasPolicy(name string) bool {
	_, ok := m.policies[name]
	return ok
}

// Policy returns the configuration of the named policy.
func (m *Manager) Policy(name string) (ratelimit.Config, bool) {
	p, ok := m.policies[name]
	if !ok {
		return ratelimit.Config{}, false
	}
	return p.config, true
}

// Strategy returns the strategy instance of the named policy.
func (m *Manager) Strategy(name string) (ratelimit.Strategy, bool) {
	p, ok := m.policies[name]
	if !ok {
		return nil, false
	}
	return p.strategy, true
}

// QueueDepth returns the number of queued requests of a leaky bucket
// policy, or zero for other strategies.
func (m *Manager) QueueDepth(name string) int64 {
	p, ok := m.policies[name]
	if !ok || p.bucket == nil {
		return 0
	}
	return p.bucket.Pending()
}

// SchedulersRunning reports whether every leaky bucket scheduler is
// running. It returns nil when all are, otherwise an error naming the
// stopped ones.
func (m *Manager) SchedulersRunning() error {
	var stopped []string
	for _, name := range m.names {
		p := m.policies[name]
		if p.bucket != nil && !p.bucket.Scheduler().Running() {
			stopped = append(stopped, name)
		}
	}
	if len(stopped) > 0 {
		return fmt.Errorf("drain scheduler not running for policies %v", stopped)
	}
	return nil
}
