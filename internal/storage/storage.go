// Package storage provides SQLite-backed local persistence for covenants,
// health snapshots, metric history, adverse events and session state.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("storage: not found")

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db *sql.DB
}

// DefaultPath is used when no path is configured.
func DefaultPath() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".covenantwatch", "covenantwatch.db")
	}
	return filepath.Join(os.TempDir(), "covenantwatch", "covenantwatch.db")
}

// New opens or creates the SQLite database at dbPath. ":memory:" is accepted
// for tests.
func New(dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = DefaultPath()
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("storage: create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	for _, pragma := range []string{`PRAGMA journal_mode=WAL`, `PRAGMA foreign_keys=ON`, `PRAGMA busy_timeout=5000`} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("storage: %s: %w", pragma, err)
		}
	}
	s := &Storage{db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS covenants (
			id                    TEXT PRIMARY KEY,
			contract_id           TEXT NOT NULL,
			covenant_name         TEXT NOT NULL,
			covenant_type         TEXT NOT NULL,
			metric_name           TEXT NOT NULL DEFAULT '',
			operator              TEXT NOT NULL,
			threshold_value       REAL NOT NULL,
			threshold_unit        TEXT NOT NULL DEFAULT '',
			check_frequency       TEXT NOT NULL,
			covenant_clause       TEXT NOT NULL DEFAULT '',
			needs_review          INTEGER NOT NULL DEFAULT 0,
			extraction_confidence REAL NOT NULL DEFAULT 0,
			created_at            INTEGER NOT NULL,
			updated_at            INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_covenants_contract ON covenants(contract_id)`,
		`CREATE TABLE IF NOT EXISTS covenant_health (
			covenant_id         TEXT PRIMARY KEY REFERENCES covenants(id) ON DELETE CASCADE,
			last_reported_value REAL,
			status              TEXT NOT NULL,
			buffer_percentage   REAL,
			trend               TEXT NOT NULL,
			days_to_breach      INTEGER,
			ai_narrative        TEXT NOT NULL DEFAULT '',
			insufficient_data   INTEGER NOT NULL DEFAULT 0,
			computed_at         INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS metric_history (
			covenant_id TEXT NOT NULL REFERENCES covenants(id) ON DELETE CASCADE,
			observed_at INTEGER NOT NULL,
			value       REAL NOT NULL,
			PRIMARY KEY (covenant_id, observed_at)
		)`,
		`CREATE TABLE IF NOT EXISTS adverse_events (
			id          TEXT PRIMARY KEY,
			borrower_id TEXT NOT NULL DEFAULT '',
			event_type  TEXT NOT NULL,
			title       TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			source      TEXT NOT NULL DEFAULT '',
			url         TEXT NOT NULL DEFAULT '',
			risk_score  REAL NOT NULL,
			event_date  INTEGER NOT NULL,
			created_at  INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_borrower ON adverse_events(borrower_id, event_date DESC)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_events_url ON adverse_events(borrower_id, url) WHERE url <> ''`,
		`CREATE TABLE IF NOT EXISTS kv (
			key        TEXT PRIMARY KEY,
			value      BLOB NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// --- key/value ---

// Get returns the value stored under key.
func (s *Storage) Get(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get %s: %w", key, err)
	}
	return v, nil
}

// Put stores value under key, replacing any previous value.
func (s *Storage) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("storage: put %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Storage) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("storage: delete %s: %w", key, err)
	}
	return nil
}

// --- scan helpers ---

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
