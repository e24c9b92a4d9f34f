package ratelimit

import (
	"fmt"
	"time"
)

// Strategy type names, as used in configuration.
const (
	StrategyFixedWindow   = "fixed_window"
	StrategySlidingWindow = "sliding_window"
	StrategySlidingLog    = "sliding_log"
	StrategyTokenBucket   = "token_bucket"
	StrategyLeakyBucket   = "leaky_bucket"
	StrategyGCRA          = "gcra"
)

// Strategies lists every supported strategy type.
var Strategies = []string{
	StrategyFixedWindow,
	StrategySlidingWindow,
	StrategySlidingLog,
	StrategyTokenBucket,
	StrategyLeakyBucket,
	StrategyGCRA,
}

// Config is the flat construction-time configuration for any strategy.
// Only the fields relevant to Type are read.
type Config struct {
	// Type selects the strategy (see Strategies).
	Type string

	// Limit is the max requests per window (fixed_window, sliding_window, sliding_log).
	Limit int64

	// Window is the window duration (fixed_window, sliding_window, sliding_log).
	Window time.Duration

	// RefillRate is tokens added per second (token_bucket).
	RefillRate float64

	// MaxTokens is the bucket capacity (token_bucket).
	MaxTokens float64

	// InitialTokens is the starting token count; nil starts full (token_bucket).
	InitialTokens *float64

	// BucketCapacity is the per-key queue size (leaky_bucket).
	BucketCapacity int

	// LeakRate is requests released per second per key (leaky_bucket).
	LeakRate float64

	// TickInterval is the drain scheduler period (leaky_bucket).
	TickInterval time.Duration

	// DeferredTimeout bounds queue wait; zero waits forever (leaky_bucket).
	DeferredTimeout time.Duration

	// RatePerSecond is the sustained rate (gcra).
	RatePerSecond float64

	// Burst is the burst size (gcra).
	Burst int

	// IdleAfter enables idle-key eviction; zero disables it.
	IdleAfter time.Duration

	// Observer receives tasks resolved by the drain scheduler (leaky_bucket).
	Observer func(*Task)
}

// New builds the strategy selected by cfg.Type. Scheduler options apply only
// to leaky_bucket.
//
// Example:
//
//	s, err := ratelimit.New(ratelimit.Config{
//	    Type:   ratelimit.StrategySlidingLog,
//	    Limit:  5,
//	    Window: time.Minute,
//	})
func New(cfg Config, opts ...SchedulerOption) (Strategy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case StrategyFixedWindow:
		return NewFixedWindow(FixedWindowConfig{Limit: cfg.Limit, Window: cfg.Window}), nil
	case StrategySlidingWindow:
		return NewSlidingWindow(SlidingWindowConfig{Limit: cfg.Limit, Window: cfg.Window, IdleAfter: cfg.IdleAfter}), nil
	case StrategySlidingLog:
		return NewSlidingLog(SlidingLogConfig{Limit: cfg.Limit, Window: cfg.Window, IdleAfter: cfg.IdleAfter}), nil
	case StrategyTokenBucket:
		return NewTokenBucket(TokenBucketConfig{
			MaxTokens:     cfg.MaxTokens,
			RefillRate:    cfg.RefillRate,
			InitialTokens: cfg.InitialTokens,
			IdleAfter:     cfg.IdleAfter,
		}), nil
	case StrategyLeakyBucket:
		return NewLeakyBucket(LeakyBucketConfig{
			Capacity:        cfg.BucketCapacity,
			LeakRate:        cfg.LeakRate,
			TickInterval:    cfg.TickInterval,
			DeferredTimeout: cfg.DeferredTimeout,
			IdleAfter:       cfg.IdleAfter,
			Observer:        cfg.Observer,
		}, opts...), nil
	case StrategyGCRA:
		return NewGCRA(GCRAConfig{RatePerSecond: cfg.RatePerSecond, Burst: cfg.Burst, IdleAfter: cfg.IdleAfter}), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", cfg.Type)
	}
}

// Validate checks that the fields used by cfg.Type are usable.
func (cfg Config) Validate() error {
	switch cfg.Type {
	case StrategyFixedWindow, StrategySlidingWindow, StrategySlidingLog:
		if cfg.Limit <= 0 {
			return fmt.Errorf("%s: limit must be positive, got %d", cfg.Type, cfg.Limit)
		}
		if cfg.Window < time.Second {
			return fmt.Errorf("%s: window must be at least 1s, got %v", cfg.Type, cfg.Window)
		}
	case StrategyTokenBucket:
		if cfg.MaxTokens <= 0 {
			return fmt.Errorf("%s: max tokens must be positive, got %v", cfg.Type, cfg.MaxTokens)
		}
		if cfg.RefillRate <= 0 {
			return fmt.Errorf("%s: refill rate must be positive, got %v", cfg.Type, cfg.RefillRate)
		}
	case StrategyLeakyBucket:
		if cfg.BucketCapacity <= 0 {
			return fmt.Errorf("%s: bucket capacity must be positive, got %d", cfg.Type, cfg.BucketCapacity)
		}
		if cfg.LeakRate <= 0 {
			return fmt.Errorf("%s: leak rate must be positive, got %v", cfg.Type, cfg.LeakRate)
		}
		if cfg.TickInterval < time.Millisecond {
			return fmt.Errorf("%s: tick interval must be at least 1ms, got %v", cfg.Type, cfg.TickInterval)
		}
		if cfg.DeferredTimeout < 0 {
			return fmt.Errorf("%s: deferred timeout must not be negative, got %v", cfg.Type, cfg.DeferredTimeout)
		}
	case StrategyGCRA:
		if cfg.RatePerSecond <= 0 {
			return fmt.Errorf("%s: rate must be positive, got %v", cfg.Type, cfg.RatePerSecond)
		}
		if cfg.Burst <= 0 {
			return fmt.Errorf("%s: burst must be positive, got %d", cfg.Type, cfg.Burst)
		}
	default:
		return fmt.Errorf("unknown strategy %q", cfg.Type)
	}

	if cfg.IdleAfter < 0 {
		return fmt.Errorf("%s: idle after must not be negative, got %v", cfg.Type, cfg.IdleAfter)
	}
	return nil
}
