// Package state persists run history to SQLite so `ensemble status` can
// report on past and in-flight runs. The database lives in the user's data
// directory (~/.local/share/ensemble/ensemble.db by default).
package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps an SQLite database connection.
type DB struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// DefaultDBPath returns the path to the run history database.
func DefaultDBPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "ensemble", "ensemble.db")
}

// ProjectDBPath returns the per-project database path. Runs started inside
// a project record there; DefaultDBPath is the fallback otherwise.
func ProjectDBPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".ensemble", "state.db")
}

// Open opens an SQLite database at the given path, creating parent
// directories if needed. WAL mode is enabled for concurrent reads.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &DB{conn: conn, path: path}, nil
}

// OpenDefault opens the database at DefaultDBPath.
func OpenDefault() (*DB, error) {
	return Open(DefaultDBPath())
}

// Close closes the database connection.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Close()
}

// Path returns the path to the database file.
func (db *DB) Path() string {
	return db.path
}

// Migrate applies all pending schema migrations.
func (db *DB) Migrate() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := db.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Runs},
		{2, migrationV2Units},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	return nil
}

const migrationV1Runs = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	task TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'active',
	backend TEXT NOT NULL DEFAULT '',
	workers INTEGER NOT NULL DEFAULT 0,
	started_at DATETIME NOT NULL,
	finished_at DATETIME,
	tokens_used INTEGER NOT NULL DEFAULT 0,
	cost REAL NOT NULL DEFAULT 0.0,
	succeeded INTEGER NOT NULL DEFAULT 0,
	aborted INTEGER NOT NULL DEFAULT 0,
	skipped INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
`

const migrationV2Units = `
CREATE TABLE IF NOT EXISTS units (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	title TEXT NOT NULL,
	role TEXT,
	priority INTEGER NOT NULL DEFAULT 0,
	depends_on TEXT,
	status TEXT NOT NULL DEFAULT 'pending',
	attempts INTEGER NOT NULL DEFAULT 0,
	error TEXT,
	tokens_used INTEGER NOT NULL DEFAULT 0,
	cost REAL NOT NULL DEFAULT 0.0,
	workspace_path TEXT,
	started_at DATETIME,
	finished_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_units_run_id ON units(run_id);
CREATE INDEX IF NOT EXISTS idx_units_status ON units(status);
`

// Exec executes a query that doesn't return rows.
func (db *DB) Exec(query string, args ...any) (sql.Result, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Exec(query, args...)
}

// Query executes a query that returns rows.
func (db *DB) Query(query string, args ...any) (*sql.Rows, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.Query(query, args...)
}

// QueryRow executes a query that returns at most one row.
func (db *DB) QueryRow(query string, args ...any) *sql.Row {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.QueryRow(query, args...)
}

// formatTime formats a time.Time for SQLite storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// parseTime parses a time string from SQLite.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// parseNullableTime parses a nullable time string from SQLite.
func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil
	}
	return &t
}

// PurgeOldRuns deletes runs and their units older than the given duration.
// Returns the number of runs deleted.
func (db *DB) PurgeOldRuns(olderThan time.Duration) (int64, error) {
	cutoff := formatTime(time.Now().Add(-olderThan))

	if _, err := db.Exec(`
		DELETE FROM units WHERE run_id IN (SELECT id FROM runs WHERE started_at < ?)
	`, cutoff); err != nil {
		return 0, fmt.Errorf("purge old units: %w", err)
	}
	result, err := db.Exec(`DELETE FROM runs WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge old runs: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return count, nil
}
