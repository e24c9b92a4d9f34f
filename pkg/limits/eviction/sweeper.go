package eviction

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"mercator-hq/floodgate/pkg/limits/storage"
)

// Evicter is the part of the limits manager a sweep needs.
type Evicter interface {
	// Evict drops reclaimable per-key state and reports removals per policy.
	Evict(now time.Time) map[string]int

	// Now returns the decision clock's current time.
	Now() time.Time
}

// Result summarises one sweep.
type Result struct {
	// Evicted is the number of per-key state entries removed per policy.
	Evicted map[string]int

	// StatsRemoved is the number of statistics keys removed from storage.
	StatsRemoved int

	// Duration is how long the sweep took.
	Duration time.Duration
}

// TotalEvicted returns the number of state entries removed across policies.
func (r Result) TotalEvicted() int {
	total := 0
	for _, n := range r.Evicted {
		total += n
	}
	return total
}

// Sweeper performs eviction passes.
type Sweeper struct {
	evicter   Evicter
	backend   storage.Backend
	retention time.Duration
	logger    *slog.Logger
}

// NewSweeper creates a sweeper. backend may be nil, and a non-positive
// retention keeps statistics forever.
func NewSweeper(evicter Evicter, backend storage.Backend, retention time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		evicter:   evicter,
		backend:   backend,
		retention: retention,
		logger:    logger.With("component", "limits.eviction"),
	}
}

// Sweep runs one eviction pass. Limiter state is always evicted; a storage
// failure is returned after that has happened.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	start := time.Now()
	now := s.evicter.Now()

	result := Result{Evicted: s.evicter.Evict(now)}

	if s.backend != nil && s.retention > 0 {
		removed, err := s.backend.Cleanup(ctx, now.Add(-s.retention))
		if err != nil {
			result.Duration = time.Since(start)
			return result, fmt.Errorf("failed to clean up decision statistics: %w", err)
		}
		result.StatsRemoved = removed
	}

	result.Duration = time.Since(start)
	return result, nil
}
