package storage

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend implements Backend on Redis hashes and sorted sets.
//
// Layout, under a configurable prefix:
//
//	<prefix>:policies               SET   policy names
//	<prefix>:total:<policy>         HASH  outcome -> count
//	<prefix>:seen:<policy>          ZSET  client key scored by last seen (unix ms)
//	<prefix>:key:<policy>:<key>     HASH  outcome -> count, expires after TTL
//
// Writes are pipelined, one round trip per Record batch.
type RedisBackend struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	owned  bool
}

// RedisOption configures a RedisBackend.
type RedisOption func(*RedisBackend)

// WithRedisPrefix sets the key prefix. Default: "floodgate:stats".
func WithRedisPrefix(prefix string) RedisOption {
	return func(r *RedisBackend) {
		r.prefix = strings.Trim(prefix, ":")
	}
}

// WithRedisTTL sets how long per-key hashes live after their last write.
// Zero disables expiry. Default: 24 hours.
func WithRedisTTL(d time.Duration) RedisOption {
	return func(r *RedisBackend) { r.ttl = d }
}

// NewRedisBackend wraps an existing client. The caller keeps ownership of
// rdb; Close does not close it.
func NewRedisBackend(rdb *redis.Client, opts ...RedisOption) *RedisBackend {
	r := &RedisBackend{
		rdb:    rdb,
		prefix: "floodgate:stats",
		ttl:    24 * time.Hour,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RedisBackendConfig configures a RedisBackend that owns its client.
type RedisBackendConfig struct {
	// Address is host:port. Default: localhost:6379
	Address string

	// Password for AUTH, empty for none.
	Password string

	// DB is the database number.
	DB int

	// PoolSize is the connection pool size. Default: 10
	PoolSize int

	// Prefix is the key prefix.
	Prefix string

	// TTL is the per-key hash expiry.
	TTL time.Duration
}

// NewRedisBackendWithConfig connects to Redis and verifies the connection.
func NewRedisBackendWithConfig(ctx context.Context, cfg RedisBackendConfig) (*RedisBackend, error) {
	if cfg.Address == "" {
		cfg.Address = "localhost:6379"
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = 10
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	var opts []RedisOption
	if cfg.Prefix != "" {
		opts = append(opts, WithRedisPrefix(cfg.Prefix))
	}
	if cfg.TTL > 0 {
		opts = append(opts, WithRedisTTL(cfg.TTL))
	}

	r := NewRedisBackend(rdb, opts...)
	r.owned = true
	return r, nil
}

func (r *RedisBackend) policiesKey() string { return r.prefix + ":policies" }

func (r *RedisBackend) totalKey(policy string) string { return r.prefix + ":total:" + policy }

func (r *RedisBackend) seenKey(policy string) string { return r.prefix + ":seen:" + policy }

func (r *RedisBackend) keyKey(policy, key string) string {
	return r.prefix + ":key:" + policy + ":" + key
}

// Record adds a batch of events in one pipeline.
func (r *RedisBackend) Record(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	type policyKey struct{ policy, key string }
	seen := make(map[policyKey]time.Time)

	pipe := r.rdb.Pipeline()
	for _, ev := range events {
		if err := ev.validate(); err != nil {
			return err
		}
		at := ev.At
		if at.IsZero() {
			at = time.Now()
		}

		keyKey := r.keyKey(ev.Policy, ev.Key)
		pipe.SAdd(ctx, r.policiesKey(), ev.Policy)
		pipe.HIncrBy(ctx, r.totalKey(ev.Policy), ev.Outcome, 1)
		pipe.HIncrBy(ctx, keyKey, ev.Outcome, 1)
		if r.ttl > 0 {
			pipe.Expire(ctx, keyKey, r.ttl)
		}

		pk := policyKey{ev.Policy, ev.Key}
		if at.After(seen[pk]) {
			seen[pk] = at
		}
	}

	// Batches arrive in time order, so the batch maximum is the last seen time.
	for pk, at := range seen {
		pipe.ZAdd(ctx, r.seenKey(pk.policy), redis.Z{Score: float64(at.UnixMilli()), Member: pk.key})
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record events: %w", err)
	}
	return nil
}

// Stats returns the aggregate counts for a policy.
func (r *RedisBackend) Stats(ctx context.Context, policy string) (*PolicyStats, error) {
	pipe := r.rdb.Pipeline()
	totals := pipe.HGetAll(ctx, r.totalKey(policy))
	keys := pipe.ZCard(ctx, r.seenKey(policy))
	latest := pipe.ZRevRangeWithScores(ctx, r.seenKey(policy), 0, 0)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}

	counts, err := parseCounts(totals.Val())
	if err != nil {
		return nil, err
	}

	stats := &PolicyStats{
		Policy: policy,
		Counts: counts,
		Keys:   int(keys.Val()),
	}
	if z := latest.Val(); len(z) > 0 {
		stats.LastSeen = time.UnixMilli(int64(z[0].Score))
	}
	return stats, nil
}

// List returns up to limit keys of a policy, most recently seen first.
// Keys whose hash has expired are skipped.
func (r *RedisBackend) List(ctx context.Context, policy string, limit int) ([]*KeyStats, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}

	members, err := r.rdb.ZRevRangeWithScores(ctx, r.seenKey(policy), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	pipe := r.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(members))
	for i, z := range members {
		cmds[i] = pipe.HGetAll(ctx, r.keyKey(policy, fmt.Sprint(z.Member)))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to load key counts: %w", err)
	}

	list := make([]*KeyStats, 0, len(members))
	for i, z := range members {
		fields := cmds[i].Val()
		if len(fields) == 0 {
			continue
		}
		counts, err := parseCounts(fields)
		if err != nil {
			return nil, err
		}
		list = append(list, &KeyStats{
			Policy:   policy,
			Key:      fmt.Sprint(z.Member),
			Counts:   counts,
			LastSeen: time.UnixMilli(int64(z.Score)),
		})
	}
	sortKeyStats(list)
	return list, nil
}

// Cleanup removes keys not seen since olderThan across all policies.
func (r *RedisBackend) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	policies, err := r.rdb.SMembers(ctx, r.policiesKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list policies: %w", err)
	}

	cutoff := "(" + strconv.FormatInt(olderThan.UnixMilli(), 10)
	deleted := 0
	for _, policy := range policies {
		stale, err := r.rdb.ZRangeByScore(ctx, r.seenKey(policy), &redis.ZRangeBy{Min: "-inf", Max: cutoff}).Result()
		if err != nil {
			return deleted, fmt.Errorf("failed to find stale keys: %w", err)
		}
		if len(stale) == 0 {
			continue
		}

		pipe := r.rdb.Pipeline()
		members := make([]interface{}, len(stale))
		for i, key := range stale {
			pipe.Del(ctx, r.keyKey(policy, key))
			members[i] = key
		}
		pipe.ZRem(ctx, r.seenKey(policy), members...)
		if _, err := pipe.Exec(ctx); err != nil {
			return deleted, fmt.Errorf("failed to delete stale keys: %w", err)
		}
		deleted += len(stale)
	}

	return deleted, nil
}

// Ping checks the Redis connection.
func (r *RedisBackend) Ping(ctx context.Context) error {
	if err := r.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close closes the client if the backend created it.
func (r *RedisBackend) Close() error {
	if !r.owned {
		return nil
	}
	return r.rdb.Close()
}

func parseCounts(fields map[string]string) (Counts, error) {
	counts := make(Counts, len(fields))
	for outcome, raw := range fields {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid count %q for %s: %w", raw, outcome, err)
		}
		counts[outcome] = n
	}
	return counts, nil
}
