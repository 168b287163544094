/*
Package sqlite provides the SQLite-backed persistence boundary of the engine.

PURPOSE:
  Implements the dedup/upsert store, the per-store collection checkpoints,
  the KPI snapshot cache and the collection-run audit trail. In production
  the same patterns apply to PostgreSQL - only minor SQL dialect differences.

DEDUP SEMANTICS:
  Sale rows are immutable: an existing natural key means a re-fetched
  transaction, and the incoming row is skipped with a warning.
  Counter/heatmap/occupancy rows are corrected on re-poll: an existing
  natural key means the numeric fields are overwritten in place.

KEY TABLES:
  sale_records:                immutable sales line items
  people_count_samples:        hourly line counts per sensor
  heatmap_samples:             hourly dwell-seconds per sensor
  regional_occupancy_samples:  hourly per-region counts per sensor
  checkpoints:                 per-store collection watermark
  kpi_snapshots:               derived metric cache (recomputable)
  collection_runs:             per-(store, window) collection audit

NATURAL-KEY INDEXES:
  Each raw table carries a unique index on its natural key, so the
  check-then-write upsert path is backed by a hard constraint.

TRANSACTIONS:
  One Upsert call is one transaction: a failure partway rolls back the whole
  batch and surfaces as telemetry.ErrStoreConflict, which the scheduler
  treats as not-yet-collected. No transaction is ever held across a network
  wait.

WAL MODE:
  SQLite is opened with WAL so aggregation reads do not block collection
  writes.

SEE ALSO:
  - telemetry/records.go: record types and natural keys
  - collector/scheduler.go: the only writer
  - kpi/aggregator.go: the main reader
*/
package sqlite

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// Store implements the persistence interfaces over SQLite.
type Store struct {
	db  *sql.DB
	log *logrus.Logger
	mu  sync.RWMutex

	// now is swappable in tests for the future-record guard.
	now func() time.Time
}

// New opens (or creates) the database at dbPath and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string, log *logrus.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if log == nil {
		log = logrus.New()
	}

	store := &Store{db: db, log: log, now: time.Now}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Sales line items (immutable once recorded)
	CREATE TABLE IF NOT EXISTS sale_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		store TEXT NOT NULL,
		ts TEXT NOT NULL,
		document_ref TEXT NOT NULL,
		original_doc TEXT,
		document_type TEXT,
		item_code TEXT NOT NULL,
		description TEXT,
		seller_code TEXT,
		seller_name TEXT,
		quantity TEXT NOT NULL,
		gross_value TEXT NOT NULL,
		net_value TEXT NOT NULL,
		vat TEXT NOT NULL,
		discount TEXT NOT NULL,
		discount_pct TEXT NOT NULL,
		discount_why TEXT,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_sales_natural
		ON sale_records(document_ref, item_code, ts);
	CREATE INDEX IF NOT EXISTS idx_sales_store_ts
		ON sale_records(store, ts);

	-- Hourly line counts per sensor
	CREATE TABLE IF NOT EXISTS people_count_samples (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		store TEXT NOT NULL,
		sensor TEXT NOT NULL,
		window_start TEXT NOT NULL,
		window_end TEXT NOT NULL,
		line1_in INTEGER NOT NULL,
		line2_in INTEGER NOT NULL,
		line3_in INTEGER NOT NULL,
		line4_in INTEGER NOT NULL,
		line4_out INTEGER NOT NULL,
		total_in INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_counts_natural
		ON people_count_samples(store, sensor, window_start);
	CREATE INDEX IF NOT EXISTS idx_counts_store_window
		ON people_count_samples(store, window_start);

	-- Hourly dwell-seconds per sensor
	CREATE TABLE IF NOT EXISTS heatmap_samples (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		store TEXT NOT NULL,
		sensor TEXT NOT NULL,
		window_start TEXT NOT NULL,
		window_end TEXT NOT NULL,
		dwell_seconds INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_heatmap_natural
		ON heatmap_samples(store, sensor, window_start);
	CREATE INDEX IF NOT EXISTS idx_heatmap_store_window
		ON heatmap_samples(store, window_start);

	-- Hourly per-region occupancy per sensor (region counts as JSON array)
	CREATE TABLE IF NOT EXISTS regional_occupancy_samples (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		store TEXT NOT NULL,
		sensor TEXT NOT NULL,
		window_start TEXT NOT NULL,
		window_end TEXT NOT NULL,
		regions_json TEXT NOT NULL,
		total INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_regional_natural
		ON regional_occupancy_samples(store, sensor, window_start);
	CREATE INDEX IF NOT EXISTS idx_regional_store_window
		ON regional_occupancy_samples(store, window_start);

	-- Per-store collection watermark (exactly one row per store)
	CREATE TABLE IF NOT EXISTS checkpoints (
		store TEXT PRIMARY KEY,
		last_collected TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Derived KPI cache (recomputable at any time from the raw tables)
	CREATE TABLE IF NOT EXISTS kpi_snapshots (
		id TEXT PRIMARY KEY,
		target TEXT NOT NULL,
		window_start TEXT NOT NULL,
		window_end TEXT NOT NULL,
		metrics_json TEXT NOT NULL,
		last_source_update TEXT,
		created_at TEXT NOT NULL,
		UNIQUE(target, window_start, window_end)
	);

	-- Collection audit trail
	CREATE TABLE IF NOT EXISTS collection_runs (
		id TEXT PRIMARY KEY,
		store TEXT NOT NULL,
		window_start TEXT NOT NULL,
		window_end TEXT NOT NULL,
		status TEXT NOT NULL,
		inserted INTEGER DEFAULT 0,
		updated INTEGER DEFAULT 0,
		skipped INTEGER DEFAULT 0,
		error TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT,
		UNIQUE(store, window_start, window_end)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_store
		ON collection_runs(store);
	CREATE INDEX IF NOT EXISTS idx_runs_status
		ON collection_runs(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Helper functions shared across the store files.

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

// inPlaceholders builds "?, ?, ?" plus the matching args for an IN clause.
func inPlaceholders(values []string) (string, []any) {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", "), args
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
