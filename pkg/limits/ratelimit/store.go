package ratelimit

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// DefaultShardCount is the number of shards used when NewKeyedStore is given 0.
const DefaultShardCount = 32

// KeyedStore is a concurrent map from client key to per-key strategy state.
//
// State is created lazily on first sight of a key. Creation is idempotent:
// under any number of concurrent first accesses exactly one value is created
// and every caller observes that same value.
//
// # Thread Safety
//
// Keys are spread over power-of-two shards by xxhash, each guarded by its own
// sync.RWMutex. The fast path (key already present) takes only a read lock.
type KeyedStore[V any] struct {
	shards []*storeShard[V]
	mask   uint64
}

type storeEntry[V any] struct {
	key   string
	value V
}

type storeShard[V any] struct {
	mu    sync.RWMutex
	items map[string]V
}

// NewKeyedStore creates a store with at least shardCount shards, rounded up
// to a power of two.
func NewKeyedStore[V any](shardCount int) *KeyedStore[V] {
	if shardCount <= 0 {
		shardCount = DefaultShardCount
	}
	n := 1
	for n < shardCount {
		n <<= 1
	}

	s := &KeyedStore[V]{
		shards: make([]*storeShard[V], n),
		mask:   uint64(n - 1),
	}
	for i := range s.shards {
		s.shards[i] = &storeShard[V]{items: make(map[string]V)}
	}
	return s
}

func (s *KeyedStore[V]) shard(key string) *storeShard[V] {
	return s.shards[xxhash.Sum64String(key)&s.mask]
}

// GetOrCreate returns the value for key, calling create to build it if the
// key has not been seen. created reports whether this call created it.
func (s *KeyedStore[V]) GetOrCreate(key string, create func() V) (value V, created bool) {
	sh := s.shard(key)

	sh.mu.RLock()
	v, ok := sh.items[key]
	sh.mu.RUnlock()
	if ok {
		return v, false
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()

	// Another goroutine may have won the race between the two locks.
	if v, ok := sh.items[key]; ok {
		return v, false
	}
	v = create()
	sh.items[key] = v
	return v, true
}

// Get returns the value for key if present.
func (s *KeyedStore[V]) Get(key string) (V, bool) {
	sh := s.shard(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	v, ok := sh.items[key]
	return v, ok
}

// Delete removes key. It is a no-op if the key is absent.
func (s *KeyedStore[V]) Delete(key string) {
	sh := s.shard(key)
	sh.mu.Lock()
	delete(sh.items, key)
	sh.mu.Unlock()
}

// DeleteFunc removes every entry for which fn returns true and returns the
// number removed. fn runs with the entry's shard write-locked.
func (s *KeyedStore[V]) DeleteFunc(fn func(key string, value V) bool) int {
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for k, v := range sh.items {
			if fn(k, v) {
				delete(sh.items, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// Range calls fn for every entry until fn returns false. Entries created or
// removed concurrently may or may not be visited.
func (s *KeyedStore[V]) Range(fn func(key string, value V) bool) {
	for _, sh := range s.shards {
		sh.mu.RLock()
		snapshot := make([]storeEntry[V], 0, len(sh.items))
		for k, v := range sh.items {
			snapshot = append(snapshot, storeEntry[V]{key: k, value: v})
		}
		sh.mu.RUnlock()

		for _, e := range snapshot {
			if !fn(e.key, e.value) {
				return
			}
		}
	}
}

// Len returns the number of entries.
func (s *KeyedStore[V]) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.items)
		sh.mu.RUnlock()
	}
	return n
}
