package eviction

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs a sweep every minute.
const DefaultSchedule = "@every 1m"

// Scheduler runs a Sweeper on a cron schedule.
type Scheduler struct {
	sweeper  *Sweeper
	schedule string
	cron     *cron.Cron
	mu       sync.Mutex
	logger   *slog.Logger
	running  bool
}

// NewScheduler creates a scheduler for sweeper. An empty schedule uses
// DefaultSchedule.
func NewScheduler(sweeper *Sweeper, schedule string, logger *slog.Logger) *Scheduler {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		sweeper:  sweeper,
		schedule: schedule,
		logger:   logger.With("component", "limits.eviction.scheduler"),
	}
}

// Start validates the schedule and begins sweeping. The scheduler stops
// when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.schedule, err)
	}

	s.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := s.cron.AddFunc(s.schedule, func() {
		s.RunNow(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule eviction: %w", err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info("eviction scheduler started", "schedule", s.schedule)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// RunNow performs one sweep immediately and logs its outcome.
func (s *Scheduler) RunNow(ctx context.Context) Result {
	result, err := s.sweeper.Sweep(ctx)
	if err != nil {
		s.logger.Error("scheduled eviction failed",
			"evicted", result.TotalEvicted(),
			"error", err,
		)
		return result
	}

	if result.TotalEvicted() > 0 || result.StatsRemoved > 0 {
		s.logger.Info("scheduled eviction completed",
			"evicted", result.TotalEvicted(),
			"stats_removed", result.StatsRemoved,
			"duration_ms", result.Duration.Milliseconds(),
		)
	} else {
		s.logger.Debug("scheduled eviction completed, nothing to evict")
	}
	return result
}

// Stop stops the scheduler and waits for a running sweep to complete.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		ctx := s.cron.Stop()
		<-ctx.Done()
		s.running = false
		s.logger.Info("eviction scheduler stopped")
	}
}

// IsRunning returns true if the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Schedule returns the cron expression.
func (s *Scheduler) Schedule() string {
	return s.schedule
}

// NextRun returns the next scheduled sweep time, or nil if not scheduled.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil {
		return nil
	}
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
