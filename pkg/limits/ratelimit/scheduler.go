package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultStopTimeout bounds how long Stop waits for an in-flight tick.
const DefaultStopTimeout = 5 * time.Second

// Drainer is the work a Scheduler performs on every tick.
type Drainer interface {
	// DrainTick releases due work at now.
	DrainTick(ctx context.Context, now time.Time) TickStats

	// Abandon resolves all remaining work with reason and refuses more.
	Abandon(reason error) int
}

// TickStats summarises one tick.
type TickStats struct {
	// Keys is the number of keys that had due or expired entries.
	Keys int

	// Drained is the number of tasks that ran successfully.
	Drained int

	// Failed is the number of tasks that returned an error or panicked.
	Failed int

	// TimedOut is the number of tasks removed after their deadline.
	TimedOut int

	// Faults is the number of keys whose drain loop itself failed.
	Faults int
}

// Ticker delivers periodic ticks. *time.Ticker satisfies it via NewTicker.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

// NewTicker returns a Ticker backed by time.Ticker.
func NewTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

// Scheduler is the single periodic timer that drains a leaky bucket.
//
// It is an owned background task with an explicit lifecycle: Start launches
// the tick loop, Stop ends it, waits for the in-flight tick to finish (up to
// the stop timeout) and then resolves everything still queued so no caller
// is left waiting.
//
// Tick runs one drain synchronously. Tests call it directly together with a
// ManualClock to step virtual time without a running loop.
//
// # Thread Safety
//
// Ticks are serialised; Start and Stop may be called from any goroutine.
type Scheduler struct {
	drainer     Drainer
	interval    time.Duration
	clock       Clock
	newTicker   func(time.Duration) Ticker
	stopTimeout time.Duration
	logger      *slog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	tickMu sync.Mutex
	ticks  atomic.Uint64
	faults atomic.Uint64
	onTick func(TickStats)
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithClock sets the time source used to stamp ticks. A leaky bucket also
// uses it to stamp queue entries, so it must not be coarser than the
// deferred timeout. Default: MonotonicClock.
func WithClock(c Clock) SchedulerOption {
	return func(s *Scheduler) {
		s.clock = c
	}
}

// WithTicker replaces the ticker factory used by Start.
func WithTicker(f func(time.Duration) Ticker) SchedulerOption {
	return func(s *Scheduler) {
		s.newTicker = f
	}
}

// WithStopTimeout bounds how long Stop waits for the loop to exit.
func WithStopTimeout(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.stopTimeout = d
	}
}

// WithSchedulerLogger sets the logger.
func WithSchedulerLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// WithTickHook registers a callback run after every tick with its stats.
func WithTickHook(f func(TickStats)) SchedulerOption {
	return func(s *Scheduler) {
		s.onTick = f
	}
}

// NewScheduler creates a stopped scheduler that drains d every interval.
func NewScheduler(d Drainer, interval time.Duration, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		drainer:     d,
		interval:    interval,
		clock:       MonotonicClock{},
		newTicker:   NewTicker,
		stopTimeout: DefaultStopTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.stopTimeout <= 0 {
		s.stopTimeout = DefaultStopTimeout
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "ratelimit.scheduler")
	return s
}

// Start launches the tick loop. The loop ends when Stop is called or ctx is
// cancelled; in both cases queued work is abandoned.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrSchedulerRunning
	}
	if s.interval <= 0 {
		return fmt.Errorf("invalid tick interval %v", s.interval)
	}

	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	ticker := s.newTicker(s.interval)
	go s.loop(ctx, ticker, s.stopCh, s.doneCh)

	s.logger.Info("Drain scheduler started", "tick_interval", s.interval.String())
	return nil
}

func (s *Scheduler) loop(ctx context.Context, ticker Ticker, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			go func() {
				_ = s.Stop(context.Background())
			}()
			return
		case <-ticker.C():
			s.Tick(ctx)
		}
	}
}

// Tick performs one drain at the clock's current time. A panic escaping the
// drainer is recovered and counted, so the next tick still runs.
func (s *Scheduler) Tick(ctx context.Context) (stats TickStats) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	s.ticks.Add(1)
	defer func() {
		if r := recover(); r != nil {
			s.faults.Add(1)
			stats.Faults++
			s.logger.Error("Drain tick failed", "error", fmt.Errorf("%w: %v", ErrTickFailure, r))
		}
		if s.onTick != nil {
			s.onTick(stats)
		}
	}()

	stats = s.drainer.DrainTick(ctx, s.clock.Now())
	if stats.Faults > 0 {
		s.faults.Add(uint64(stats.Faults))
	}
	return stats
}

// Stop ends the tick loop and waits for it, bounded by ctx and the stop
// timeout. Whatever is still queued is then resolved with
// ErrSchedulerStopped. Stop on a stopped scheduler only abandons.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	var doneCh chan struct{}
	if s.running {
		close(s.stopCh)
		doneCh = s.doneCh
		s.running = false
	}
	s.mu.Unlock()

	var err error
	if doneCh != nil {
		timer := time.NewTimer(s.stopTimeout)
		defer timer.Stop()

		select {
		case <-doneCh:
		case <-timer.C:
			err = ErrStopTimeout
		case <-ctx.Done():
			err = fmt.Errorf("%w: %w", ErrStopTimeout, ctx.Err())
		}
	}

	abandoned := s.drainer.Abandon(ErrSchedulerStopped)
	if err != nil {
		s.logger.Warn("Drain scheduler stop timed out; abandoning in-flight tick",
			"abandoned", abandoned,
			"error", err,
		)
		return err
	}

	if doneCh != nil {
		s.logger.Info("Drain scheduler stopped", "abandoned", abandoned)
	}
	return nil
}

// Running reports whether the tick loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Interval returns the tick interval.
func (s *Scheduler) Interval() time.Duration { return s.interval }

// Ticks returns how many ticks have run.
func (s *Scheduler) Ticks() uint64 { return s.ticks.Load() }

// Faults returns how many tick or per-key drain faults were contained.
func (s *Scheduler) Faults() uint64 { return s.faults.Load() }
