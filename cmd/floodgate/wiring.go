package main

import (
	"fmt"
	"sort"

	"mercator-hq/floodgate/pkg/cli"
	"mercator-hq/floodgate/pkg/config"
	"mercator-hq/floodgate/pkg/limits"
	"mercator-hq/floodgate/pkg/limits/ratelimit"
	"mercator-hq/floodgate/pkg/limits/storage"
	"mercator-hq/floodgate/pkg/telemetry/logging"
)

// loadConfig loads, defaults, env-overrides and validates the config file
// and installs it as the process configuration.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfigWithEnvOverrides(path)
	if err != nil {
		return nil, cli.NewConfigError("", err.Error())
	}
	config.SetConfig(cfg)
	return cfg, nil
}

func newLogger(cfg config.LoggingConfig) (*logging.Logger, error) {
	return logging.New(logging.Config{
		Level:      cfg.Level,
		Format:     cfg.Format,
		AddSource:  cfg.AddSource,
		RedactKeys: cfg.RedactKeys,
	})
}

// policyConfigs converts the configured policies to strategy configurations.
func policyConfigs(policies map[string]config.PolicyConfig) map[string]ratelimit.Config {
	out := make(map[string]ratelimit.Config, len(policies))
	for name, p := range policies {
		out[name] = p.RateLimit()
	}
	return out
}

func sortedPolicyNames(policies map[string]config.PolicyConfig) []string {
	names := make([]string, 0, len(policies))
	for name := range policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func storageConfig(s config.StorageConfig) storage.Config {
	return storage.Config{
		Backend: s.Backend,
		Memory: storage.MemoryBackendConfig{
			MaxEntries: s.Memory.MaxEntries,
		},
		SQLite: storage.SQLiteBackendConfig{
			DBPath:           s.SQLite.Path,
			Driver:           s.SQLite.Driver,
			SnapshotInterval: s.SQLite.CheckpointInterval,
			BusyTimeout:      s.SQLite.BusyTimeout,
		},
		Redis: storage.RedisBackendConfig{
			Address:  s.Redis.Address,
			Password: s.Redis.Password,
			DB:       s.Redis.DB,
			PoolSize: s.Redis.PoolSize,
			Prefix:   s.Redis.Prefix,
			TTL:      s.Redis.TTL,
		},
	}
}

func recorderConfig(r config.RecorderConfig) limits.RecorderConfig {
	return limits.RecorderConfig{
		Buffer:        r.Buffer,
		BatchSize:     r.BatchSize,
		FlushInterval: r.FlushInterval,
		WriteTimeout:  r.WriteTimeout,
	}
}

// describePolicy renders the parameters that matter for a strategy.
func describePolicy(c ratelimit.Config) string {
	switch c.Type {
	case ratelimit.StrategyFixedWindow, ratelimit.StrategySlidingWindow, ratelimit.StrategySlidingLog:
		return fmt.Sprintf("limit=%d window=%s", c.Limit, c.Window)
	case ratelimit.StrategyTokenBucket:
		return fmt.Sprintf("max_tokens=%g refill=%g/s", c.MaxTokens, c.RefillRate)
	case ratelimit.StrategyLeakyBucket:
		return fmt.Sprintf("capacity=%d leak=%g/s tick=%s timeout=%s",
			c.BucketCapacity, c.LeakRate, c.TickInterval, c.DeferredTimeout)
	case ratelimit.StrategyGCRA:
		return fmt.Sprintf("rate=%g/s burst=%d", c.RatePerSecond, c.Burst)
	default:
		return ""
	}
}
