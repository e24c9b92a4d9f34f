// Package storage provides backends for admission decision statistics.
//
// # Overview
//
// The storage package defines the Backend interface for recording and
// querying per-policy and per-key decision counts, and provides three
// implementations:
//
//   - Memory: Fast in-memory storage (default, no persistence)
//   - SQLite: File-based persistence (modernc.org/sqlite or mattn/go-sqlite3)
//   - Redis: Shared counters for several gateway instances
//
// Limiter state is never stored here; a restart always starts every key
// with fresh state. Only the statistics survive.
//
// # Usage
//
//	backend, err := storage.New(ctx, storage.Config{Backend: storage.BackendSQLite,
//	    SQLite: storage.SQLiteBackendConfig{DBPath: "floodgate.db"}})
//
//	err = backend.Record(ctx, []storage.Event{
//	    {Policy: "api", Key: "10.0.0.1", Outcome: storage.OutcomeAdmit, At: now},
//	})
//
//	stats, err := backend.Stats(ctx, "api")
//	top, err := backend.List(ctx, "api", 10)
//
// # Thread Safety
//
// All storage backends are thread-safe and support concurrent access
// from multiple goroutines. Locking is handled internally by each backend.
package storage
