package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver "sqlite3" (cgo)
	_ "modernc.org/sqlite"          // SQLite driver "sqlite" (pure Go)
)

// SQLite driver names accepted by SQLiteBackendConfig.Driver.
const (
	DriverModernc = "sqlite"
	DriverMattn   = "sqlite3"
)

// SQLiteBackend implements Backend using SQLite for persistence.
// This backend keeps decision statistics across restarts and is suitable
// for single-instance deployments.
//
// SQLiteBackend uses a write-ahead log (WAL) for better concurrent performance
// and periodic checkpointing to balance write performance with durability.
type SQLiteBackend struct {
	db               *sql.DB
	dbPath           string
	driver           string
	snapshotInterval time.Duration
	done             chan struct{}
	mu               sync.RWMutex
	closeOnce        sync.Once

	// prepared statements
	upsertKeyStmt    *sql.Stmt
	upsertCountStmt  *sql.Stmt
	upsertTotalStmt  *sql.Stmt
	totalsStmt       *sql.Stmt
	keyCountStmt     *sql.Stmt
	listKeysStmt     *sql.Stmt
	listCountsStmt   *sql.Stmt
	cleanupCountStmt *sql.Stmt
	cleanupKeyStmt   *sql.Stmt
}

// SQLiteBackendConfig configures the SQLite backend.
type SQLiteBackendConfig struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// Driver is DriverModernc (default) or DriverMattn.
	Driver string

	// SnapshotInterval is how often to checkpoint the WAL.
	// Default: 5 minutes
	SnapshotInterval time.Duration

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// NewSQLiteBackend creates a new SQLite storage backend with default settings.
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	return NewSQLiteBackendWithConfig(SQLiteBackendConfig{DBPath: dbPath})
}

// NewSQLiteBackendWithConfig creates a new SQLite backend with custom configuration.
func NewSQLiteBackendWithConfig(cfg SQLiteBackendConfig) (*SQLiteBackend, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.Driver == "" {
		cfg.Driver = DriverModernc
	}
	if cfg.SnapshotInterval == 0 {
		cfg.SnapshotInterval = 5 * time.Minute
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn, err := sqliteDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite only supports single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	backend := &SQLiteBackend{
		db:               db,
		dbPath:           cfg.DBPath,
		driver:           cfg.Driver,
		snapshotInterval: cfg.SnapshotInterval,
		done:             make(chan struct{}),
	}

	if err := backend.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := backend.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	go backend.checkpointLoop()

	return backend, nil
}

// sqliteDSN builds a WAL-mode connection string in the syntax of the driver.
func sqliteDSN(cfg SQLiteBackendConfig) (string, error) {
	busy := int(cfg.BusyTimeout.Milliseconds())

	switch cfg.Driver {
	case DriverModernc:
		return fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
			cfg.DBPath, busy), nil
	case DriverMattn:
		return fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL",
			cfg.DBPath, busy), nil
	default:
		return "", fmt.Errorf("unsupported sqlite driver %q", cfg.Driver)
	}
}

// initSchema creates the database schema if it doesn't exist.
func (s *SQLiteBackend) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS decision_keys (
		policy TEXT NOT NULL,
		client_key TEXT NOT NULL,
		last_seen INTEGER NOT NULL,
		PRIMARY KEY (policy, client_key)
	);

	CREATE INDEX IF NOT EXISTS idx_decision_keys_last_seen ON decision_keys(last_seen);

	CREATE TABLE IF NOT EXISTS decision_counts (
		policy TEXT NOT NULL,
		client_key TEXT NOT NULL,
		outcome TEXT NOT NULL,
		count INTEGER NOT NULL,
		PRIMARY KEY (policy, client_key, outcome)
	);

	CREATE TABLE IF NOT EXISTS policy_totals (
		policy TEXT NOT NULL,
		outcome TEXT NOT NULL,
		count INTEGER NOT NULL,
		last_seen INTEGER NOT NULL,
		PRIMARY KEY (policy, outcome)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// prepareStatements prepares SQL statements for reuse.
func (s *SQLiteBackend) prepareStatements() error {
	statements := []struct {
		dst   **sql.Stmt
		name  string
		query string
	}{
		{&s.upsertKeyStmt, "upsert key", `
			INSERT INTO decision_keys (policy, client_key, last_seen)
			VALUES (?, ?, ?)
			ON CONFLICT (policy, client_key) DO UPDATE SET
				last_seen = MAX(last_seen, excluded.last_seen)
		`},
		{&s.upsertCountStmt, "upsert count", `
			INSERT INTO decision_counts (policy, client_key, outcome, count)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (policy, client_key, outcome) DO UPDATE SET
				count = count + excluded.count
		`},
		{&s.upsertTotalStmt, "upsert total", `
			INSERT INTO policy_totals (policy, outcome, count, last_seen)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (policy, outcome) DO UPDATE SET
				count = count + excluded.count,
				last_seen = MAX(last_seen, excluded.last_seen)
		`},
		{&s.totalsStmt, "totals", `
			SELECT outcome, count, last_seen FROM policy_totals WHERE policy = ?
		`},
		{&s.keyCountStmt, "key count", `
			SELECT COUNT(*) FROM decision_keys WHERE policy = ?
		`},
		{&s.listKeysStmt, "list keys", `
			SELECT client_key, last_seen FROM decision_keys
			WHERE policy = ?
			ORDER BY last_seen DESC, client_key ASC
			LIMIT ?
		`},
		{&s.listCountsStmt, "list counts", `
			SELECT client_key, outcome, count FROM decision_counts WHERE policy = ?
		`},
		{&s.cleanupCountStmt, "cleanup counts", `
			DELETE FROM decision_counts WHERE EXISTS (
				SELECT 1 FROM decision_keys k
				WHERE k.policy = decision_counts.policy
				  AND k.client_key = decision_counts.client_key
				  AND k.last_seen < ?
			)
		`},
		{&s.cleanupKeyStmt, "cleanup keys", `
			DELETE FROM decision_keys WHERE last_seen < ?
		`},
	}

	for _, st := range statements {
		stmt, err := s.db.Prepare(st.query)
		if err != nil {
			return fmt.Errorf("failed to prepare %s statement: %w", st.name, err)
		}
		*st.dst = stmt
	}
	return nil
}

type countKey struct {
	policy, key, outcome string
}

// Record adds a batch of events in one transaction.
func (s *SQLiteBackend) Record(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	// Collapse the batch so each row is written once.
	counts := make(map[countKey]int64)
	keySeen := make(map[countKey]time.Time)
	totalSeen := make(map[countKey]time.Time)
	for _, ev := range events {
		if err := ev.validate(); err != nil {
			return err
		}
		counts[countKey{ev.Policy, ev.Key, ev.Outcome}]++

		k := countKey{policy: ev.Policy, key: ev.Key}
		if ev.At.After(keySeen[k]) {
			keySeen[k] = ev.At
		}
		p := countKey{policy: ev.Policy, outcome: ev.Outcome}
		if ev.At.After(totalSeen[p]) {
			totalSeen[p] = ev.At
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	upsertKey := tx.StmtContext(ctx, s.upsertKeyStmt)
	upsertCount := tx.StmtContext(ctx, s.upsertCountStmt)
	upsertTotal := tx.StmtContext(ctx, s.upsertTotalStmt)

	for k, at := range keySeen {
		if _, err := upsertKey.ExecContext(ctx, k.policy, k.key, at.UnixMilli()); err != nil {
			return fmt.Errorf("failed to record key: %w", err)
		}
	}

	totals := make(map[countKey]int64)
	for k, n := range counts {
		if _, err := upsertCount.ExecContext(ctx, k.policy, k.key, k.outcome, n); err != nil {
			return fmt.Errorf("failed to record count: %w", err)
		}
		totals[countKey{policy: k.policy, outcome: k.outcome}] += n
	}

	for p, n := range totals {
		if _, err := upsertTotal.ExecContext(ctx, p.policy, p.outcome, n, totalSeen[p].UnixMilli()); err != nil {
			return fmt.Errorf("failed to record total: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit events: %w", err)
	}
	return nil
}

// Stats returns the aggregate counts for a policy.
func (s *SQLiteBackend) Stats(ctx context.Context, policy string) (*PolicyStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &PolicyStats{Policy: policy, Counts: Counts{}}

	if err := s.scanTotals(ctx, stats); err != nil {
		return nil, err
	}

	// The pool has a single connection, so the totals rows must be closed first.
	if err := s.keyCountStmt.QueryRowContext(ctx, policy).Scan(&stats.Keys); err != nil {
		return nil, fmt.Errorf("failed to count keys: %w", err)
	}

	return stats, nil
}

func (s *SQLiteBackend) scanTotals(ctx context.Context, stats *PolicyStats) error {
	rows, err := s.totalsStmt.QueryContext(ctx, stats.Policy)
	if err != nil {
		return fmt.Errorf("failed to query totals: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			outcome  string
			count    int64
			lastSeen int64
		)
		if err := rows.Scan(&outcome, &count, &lastSeen); err != nil {
			return fmt.Errorf("failed to scan row: %w", err)
		}
		stats.Counts[outcome] = count
		if seen := time.UnixMilli(lastSeen); seen.After(stats.LastSeen) {
			stats.LastSeen = seen
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating rows: %w", err)
	}
	return nil
}

// List returns up to limit keys of a policy, most recently seen first.
func (s *SQLiteBackend) List(ctx context.Context, policy string, limit int) ([]*KeyStats, error) {
	if limit <= 0 {
		limit = -1 // no limit in SQLite
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.listKeysStmt.QueryContext(ctx, policy, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}

	var list []*KeyStats
	byKey := make(map[string]*KeyStats)
	for rows.Next() {
		var (
			key      string
			lastSeen int64
		)
		if err := rows.Scan(&key, &lastSeen); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		ks := &KeyStats{Policy: policy, Key: key, Counts: Counts{}, LastSeen: time.UnixMilli(lastSeen)}
		list = append(list, ks)
		byKey[key] = ks
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	if len(list) == 0 {
		return nil, nil
	}

	rows, err = s.listCountsStmt.QueryContext(ctx, policy)
	if err != nil {
		return nil, fmt.Errorf("failed to list counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key     string
			outcome string
			count   int64
		)
		if err := rows.Scan(&key, &outcome, &count); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if ks, ok := byKey[key]; ok {
			ks.Counts[outcome] = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return list, nil
}

// Cleanup removes keys not seen since olderThan.
func (s *SQLiteBackend) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := olderThan.UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.StmtContext(ctx, s.cleanupCountStmt).ExecContext(ctx, cutoff); err != nil {
		return 0, fmt.Errorf("failed to cleanup counts: %w", err)
	}

	result, err := tx.StmtContext(ctx, s.cleanupKeyStmt).ExecContext(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup keys: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit cleanup: %w", err)
	}
	return int(deleted), nil
}

// Ping checks the database connection.
func (s *SQLiteBackend) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite ping failed: %w", err)
	}
	return nil
}

// Driver returns the database/sql driver name in use.
func (s *SQLiteBackend) Driver() string {
	return s.driver
}

// Close releases any resources held by the backend.
// Close is idempotent and safe to call multiple times.
func (s *SQLiteBackend) Close() error {
	var closeErr error

	s.closeOnce.Do(func() {
		close(s.done)

		s.mu.Lock()
		defer s.mu.Unlock()

		var errs []error
		for _, stmt := range []*sql.Stmt{
			s.upsertKeyStmt, s.upsertCountStmt, s.upsertTotalStmt,
			s.totalsStmt, s.keyCountStmt, s.listKeysStmt, s.listCountsStmt,
			s.cleanupCountStmt, s.cleanupKeyStmt,
		} {
			if stmt != nil {
				errs = append(errs, stmt.Close())
			}
		}

		// Run final checkpoint
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		errs = append(errs, s.db.Close())
		closeErr = errors.Join(errs...)
	})

	return closeErr
}

// checkpointLoop runs periodic WAL checkpoints.
func (s *SQLiteBackend) checkpointLoop() {
	ticker := time.NewTicker(s.snapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(PASSIVE)")
			s.mu.Unlock()
		case <-s.done:
			return
		}
	}
}
