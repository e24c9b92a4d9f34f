package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryBackend implements Backend using in-memory storage.
// This is the default backend and provides fast access with no persistence.
// All data is lost when the process exits.
//
// MemoryBackend is thread-safe and supports concurrent access using sync.RWMutex.
type MemoryBackend struct {
	// policies maps policy name to its aggregate and per-key stats.
	policies map[string]*memoryPolicy

	// keys is the total number of tracked keys across policies.
	keys int

	// mu protects access to policies.
	mu sync.RWMutex

	// maxEntries is the maximum number of keys before the least recently
	// seen one is evicted.
	maxEntries int
}

type memoryPolicy struct {
	totals   Counts
	lastSeen time.Time
	keys     map[string]*KeyStats
}

// MemoryBackendConfig configures the memory backend.
type MemoryBackendConfig struct {
	// MaxEntries is the maximum number of keys to store.
	// Least recently seen keys are evicted when this limit is reached.
	// Default: 100,000
	MaxEntries int
}

// NewMemoryBackend creates a new in-memory storage backend with default settings.
func NewMemoryBackend() *MemoryBackend {
	return NewMemoryBackendWithConfig(MemoryBackendConfig{})
}

// NewMemoryBackendWithConfig creates a new in-memory backend with custom configuration.
func NewMemoryBackendWithConfig(cfg MemoryBackendConfig) *MemoryBackend {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 100000
	}

	return &MemoryBackend{
		policies:   make(map[string]*memoryPolicy),
		maxEntries: cfg.MaxEntries,
	}
}

// Record adds a batch of events.
func (m *MemoryBackend) Record(ctx context.Context, events []Event) error {
	for _, ev := range events {
		if err := ev.validate(); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ev := range events {
		p, ok := m.policies[ev.Policy]
		if !ok {
			p = &memoryPolicy{totals: Counts{}, keys: make(map[string]*KeyStats)}
			m.policies[ev.Policy] = p
		}

		ks, ok := p.keys[ev.Key]
		if !ok {
			if m.keys >= m.maxEntries {
				m.evictOldestLocked()
			}
			ks = &KeyStats{Policy: ev.Policy, Key: ev.Key, Counts: Counts{}}
			p.keys[ev.Key] = ks
			m.keys++
		}

		ks.Counts.add(ev.Outcome, 1)
		p.totals.add(ev.Outcome, 1)
		if ev.At.After(ks.LastSeen) {
			ks.LastSeen = ev.At
		}
		if ev.At.After(p.lastSeen) {
			p.lastSeen = ev.At
		}
	}

	return nil
}

// Stats returns the aggregate counts for a policy.
func (m *MemoryBackend) Stats(ctx context.Context, policy string) (*PolicyStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &PolicyStats{Policy: policy, Counts: Counts{}}
	p, ok := m.policies[policy]
	if !ok {
		return stats, nil
	}

	for outcome, n := range p.totals {
		stats.Counts[outcome] = n
	}
	stats.Keys = len(p.keys)
	stats.LastSeen = p.lastSeen
	return stats, nil
}

// List returns up to limit keys of a policy, most recently seen first.
func (m *MemoryBackend) List(ctx context.Context, policy string, limit int) ([]*KeyStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.policies[policy]
	if !ok {
		return nil, nil
	}

	list := make([]*KeyStats, 0, len(p.keys))
	for _, ks := range p.keys {
		list = append(list, copyKeyStats(ks))
	}
	sortKeyStats(list)

	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

// Cleanup removes keys not seen since olderThan.
func (m *MemoryBackend) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	deleted := 0
	for _, p := range m.policies {
		for key, ks := range p.keys {
			if ks.LastSeen.Before(olderThan) {
				delete(p.keys, key)
				deleted++
			}
		}
	}
	m.keys -= deleted

	return deleted, nil
}

// Ping always succeeds.
func (m *MemoryBackend) Ping(ctx context.Context) error {
	return nil
}

// Close releases any resources held by the backend.
func (m *MemoryBackend) Close() error {
	return nil
}

// Size returns the current number of tracked keys.
// This is useful for monitoring and testing.
func (m *MemoryBackend) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.keys
}

// evictOldestLocked evicts the least recently seen key to make room.
// Caller must hold write lock.
func (m *MemoryBackend) evictOldestLocked() {
	var (
		oldestPolicy *memoryPolicy
		oldestKey    string
		oldestTime   time.Time
		found        bool
	)

	for _, p := range m.policies {
		for key, ks := range p.keys {
			if !found || ks.LastSeen.Before(oldestTime) {
				oldestPolicy = p
				oldestKey = key
				oldestTime = ks.LastSeen
				found = true
			}
		}
	}

	if found {
		delete(oldestPolicy.keys, oldestKey)
		m.keys--
	}
}

func copyKeyStats(ks *KeyStats) *KeyStats {
	c := &KeyStats{Policy: ks.Policy, Key: ks.Key, Counts: make(Counts, len(ks.Counts)), LastSeen: ks.LastSeen}
	for outcome, n := range ks.Counts {
		c.Counts[outcome] = n
	}
	return c
}

// sortKeyStats orders by LastSeen descending, then key ascending.
func sortKeyStats(list []*KeyStats) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].LastSeen.Equal(list[j].LastSeen) {
			return list[i].LastSeen.After(list[j].LastSeen)
		}
		return list[i].Key < list[j].Key
	})
}
