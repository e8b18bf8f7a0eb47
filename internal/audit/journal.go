// Package audit keeps an append-only journal of scheduling decisions in a
// project-local SQLite file. The journal answers "why is this unit in this
// state" after the fact: every transition is recorded with its reason and
// timestamp, in the order the control loop applied it.
package audit

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kmorand/ensemble/pkg/models"
)

// Entry is one journaled decision.
type Entry struct {
	Seq    int64             `json:"seq"`
	RunID  string            `json:"run_id"`
	UnitID string            `json:"unit_id"`
	From   models.UnitStatus `json:"from"`
	To     models.UnitStatus `json:"to"`
	Reason string            `json:"reason"`
	At     time.Time         `json:"at"`
}

// Journal is an append-only decision log.
type Journal struct {
	db *sql.DB
}

// DefaultPath returns the journal location inside a project directory.
func DefaultPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".ensemble", "audit.db")
}

// Open opens (or creates) the journal at the given path.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS decisions (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			unit_id TEXT NOT NULL,
			from_status TEXT NOT NULL,
			to_status TEXT NOT NULL,
			reason TEXT NOT NULL,
			at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_decisions_run ON decisions(run_id);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create decisions table: %w", err)
	}

	return &Journal{db: db}, nil
}

// Append records one decision for a run.
func (j *Journal) Append(runID string, d models.SchedulingDecision) error {
	_, err := j.db.Exec(`
		INSERT INTO decisions (run_id, unit_id, from_status, to_status, reason, at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, runID, d.UnitID, string(d.From), string(d.To), d.Reason, d.At.UTC())
	if err != nil {
		return fmt.Errorf("append decision: %w", err)
	}
	return nil
}

// List returns a run's decisions in the order they were applied.
func (j *Journal) List(runID string) ([]Entry, error) {
	rows, err := j.db.Query(`
		SELECT seq, run_id, unit_id, from_status, to_status, reason, at
		FROM decisions WHERE run_id = ? ORDER BY seq
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var from, to string
		if err := rows.Scan(&e.Seq, &e.RunID, &e.UnitID, &from, &to, &e.Reason, &e.At); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		e.From = models.UnitStatus(from)
		e.To = models.UnitStatus(to)
		entries = append(entries, e)
	}
	return entries, nil
}

// Close closes the journal.
func (j *Journal) Close() error {
	return j.db.Close()
}
