package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/floodgate/pkg/cli"
	"mercator-hq/floodgate/pkg/limits/ratelimit"
)

// maxDrainTicks bounds the ticks run after the last request while a leaky
// bucket still has queued requests.
const maxDrainTicks = 100000

var simulateFlags struct {
	policy   string
	strategy string
	format   string
	key      string
	requests int
	interval time.Duration

	limit      int64
	window     time.Duration
	refillRate float64
	maxTokens  float64
	capacity   int
	leakRate   float64
	tick       time.Duration
	timeout    time.Duration
	rate       float64
	burst      int
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a strategy against a synthetic request stream",
	Long: `Drive one strategy with a virtual clock and print the decision for every
request. Requests arrive --interval apart for a single key; no real time
passes. For leaky_bucket the drain scheduler ticks on the virtual clock and
the table shows when each queued request was released.

The strategy comes either from flags or, with --policy, from the config file.

Examples:
  # Five requests per second against a 3-per-second fixed window
  floodgate simulate --strategy fixed_window --limit 3 --window 1s --requests 10 --interval 200ms

  # Leaky bucket shaping a burst
  floodgate simulate --strategy leaky_bucket --capacity 5 --leak-rate 2 --requests 8 --interval 0s

  # A configured policy
  floodgate simulate --config config.yaml --policy api --requests 20 --interval 50ms`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)

	f := simulateCmd.Flags()
	f.StringVar(&simulateFlags.policy, "policy", "", "simulate a policy from the config file")
	f.StringVar(&simulateFlags.strategy, "strategy", ratelimit.StrategyFixedWindow, "strategy type")
	f.StringVar(&simulateFlags.format, "format", "text", "output format: text, json, csv")
	f.StringVar(&simulateFlags.key, "key", "client", "client key")
	f.IntVar(&simulateFlags.requests, "requests", 10, "number of requests")
	f.DurationVar(&simulateFlags.interval, "interval", 100*time.Millisecond, "time between requests")

	f.Int64Var(&simulateFlags.limit, "limit", 5, "requests per window (window strategies)")
	f.DurationVar(&simulateFlags.window, "window", time.Second, "window length (window strategies)")
	f.Float64Var(&simulateFlags.refillRate, "refill-rate", 1, "tokens per second (token_bucket)")
	f.Float64Var(&simulateFlags.maxTokens, "max-tokens", 5, "bucket capacity (token_bucket)")
	f.IntVar(&simulateFlags.capacity, "capacity", 5, "queue size per key (leaky_bucket)")
	f.Float64Var(&simulateFlags.leakRate, "leak-rate", 1, "requests released per second (leaky_bucket)")
	f.DurationVar(&simulateFlags.tick, "tick", 100*time.Millisecond, "drain tick interval (leaky_bucket)")
	f.DurationVar(&simulateFlags.timeout, "deferred-timeout", 0, "max queue wait, 0 waits forever (leaky_bucket)")
	f.Float64Var(&simulateFlags.rate, "rate", 1, "sustained rate per second (gcra)")
	f.IntVar(&simulateFlags.burst, "burst", 5, "burst size (gcra)")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(simulateFlags.format)
	if err != nil {
		return err
	}
	if simulateFlags.requests <= 0 {
		return cli.NewUsageError("--requests must be positive")
	}
	if simulateFlags.interval < 0 {
		return cli.NewUsageError("--interval must not be negative")
	}

	rc, err := simulationConfig(cmd)
	if err != nil {
		return err
	}

	table, err := simulate(cmd.Context(), rc, simulateFlags.key, simulateFlags.requests, simulateFlags.interval)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if format == cli.FormatText {
		fmt.Fprintf(out, "%s %s\n\n", rc.Type, describePolicy(rc))
	}
	return cli.NewFormatter(format).FormatTo(out, table)
}

func simulationConfig(cmd *cobra.Command) (ratelimit.Config, error) {
	if simulateFlags.policy != "" {
		cfg, err := loadConfig(cfgFile)
		if err != nil {
			return ratelimit.Config{}, err
		}
		p, ok := cfg.Policies[simulateFlags.policy]
		if !ok {
			return ratelimit.Config{}, cli.NewUsageError("policy %q is not configured in %s", simulateFlags.policy, cfgFile)
		}
		return p.RateLimit(), nil
	}

	rc := ratelimit.Config{
		Type:            simulateFlags.strategy,
		Limit:           simulateFlags.limit,
		Window:          simulateFlags.window,
		RefillRate:      simulateFlags.refillRate,
		MaxTokens:       simulateFlags.maxTokens,
		BucketCapacity:  simulateFlags.capacity,
		LeakRate:        simulateFlags.leakRate,
		TickInterval:    simulateFlags.tick,
		DeferredTimeout: simulateFlags.timeout,
		RatePerSecond:   simulateFlags.rate,
		Burst:           simulateFlags.burst,
	}
	if err := rc.Validate(); err != nil {
		return ratelimit.Config{}, cli.NewUsageError("%v", err)
	}
	return rc, nil
}

// simulation is one request of a simulated stream.
type simulation struct {
	at       time.Duration
	decision ratelimit.Decision
	task     *ratelimit.Task
	released time.Duration
}

// simulate decides requests arriving interval apart on a virtual clock and
// returns the decision table. Leaky bucket queues are drained by ticking
// the scheduler at every tick boundary, including after the last request
// until the queue is empty.
func simulate(ctx context.Context, rc ratelimit.Config, key string, requests int, interval time.Duration) (*cli.Table, error) {
	start := time.Unix(0, 0).UTC()
	clock := ratelimit.NewManualClock(start)

	strategy, err := ratelimit.New(rc, ratelimit.WithClock(clock))
	if err != nil {
		return nil, cli.NewUsageError("%v", err)
	}

	bucket, _ := strategy.(*ratelimit.LeakyBucket)
	var nextTick time.Duration
	advanceTo := func(at time.Duration) {
		if bucket != nil {
			for nextTick += rc.TickInterval; nextTick <= at; nextTick += rc.TickInterval {
				clock.Set(start.Add(nextTick))
				bucket.Scheduler().Tick(ctx)
			}
			nextTick -= rc.TickInterval
		}
		clock.Set(start.Add(at))
	}

	sims := make([]*simulation, requests)
	for i := range sims {
		s := &simulation{at: time.Duration(i) * interval}
		sims[i] = s
		advanceTo(s.at)

		if bucket != nil {
			s.task = ratelimit.NewTask(func(context.Context) error {
				s.released = clock.Now().Sub(start)
				return nil
			})
		}
		s.decision = strategy.Decide(key, clock.Now(), s.task)
	}

	if bucket != nil {
		for n := 0; bucket.Pending() > 0 && n < maxDrainTicks; n++ {
			advanceTo(nextTick + rc.TickInterval)
		}
		bucket.Abandon(ratelimit.ErrSchedulerStopped)
	}

	return decisionTable(sims, bucket != nil), nil
}

func decisionTable(sims []*simulation, deferred bool) *cli.Table {
	headers := []string{"request", "at", "outcome", "reason", "retry_after", "remaining"}
	if deferred {
		headers = append(headers, "resolution", "released_at")
	}

	table := &cli.Table{Headers: headers}
	for i, s := range sims {
		d := s.decision
		reason, retry := "-", "-"
		if d.Reason != nil {
			reason = d.Reason.Error()
		}
		if d.RetryAfter > 0 {
			retry = d.RetryAfter.String()
		}
		row := []any{i + 1, s.at.String(), d.Outcome.String(), reason, retry, d.Remaining}

		if deferred {
			resolution, released := "-", "-"
			if d.Outcome == ratelimit.Deferred && s.task != nil {
				resolution = s.task.Status().String()
				if s.task.Status() == ratelimit.TaskDone {
					released = s.released.String()
				}
			}
			row = append(row, resolution, released)
		}
		table.AddRow(row...)
	}
	return table
}
