package storage

import (
	"context"
	"fmt"
)

// Backend names accepted by Config.Backend.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config selects and configures a backend.
type Config struct {
	// Backend is BackendMemory (default), BackendSQLite or BackendRedis.
	Backend string

	// Memory configures the memory backend.
	Memory MemoryBackendConfig

	// SQLite configures the SQLite backend.
	SQLite SQLiteBackendConfig

	// Redis configures the Redis backend.
	Redis RedisBackendConfig
}

// New creates the backend selected by cfg.Backend.
func New(ctx context.Context, cfg Config) (Backend, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemoryBackendWithConfig(cfg.Memory), nil
	case BackendSQLite:
		return NewSQLiteBackendWithConfig(cfg.SQLite)
	case BackendRedis:
		return NewRedisBackendWithConfig(ctx, cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
