package state

import (
	"fmt"
	"time"

	"github.com/kmorand/ensemble/pkg/models"
)

// StaleRun describes a run left marked active by a process that is no
// longer writing to it. The engine holds a single writer per database,
// so any active run seen by a fresh process was interrupted.
type StaleRun struct {
	ID        string
	Task      string
	StartedAt time.Time
	OpenUnits int
}

// FindStaleRuns returns runs still marked active, oldest first.
func (db *DB) FindStaleRuns() ([]StaleRun, error) {
	rows, err := db.Query(`
		SELECT id, task, started_at FROM runs
		WHERE status = ? ORDER BY started_at ASC
	`, string(RunActive))
	if err != nil {
		return nil, fmt.Errorf("find stale runs: %w", err)
	}
	defer rows.Close()

	var stale []StaleRun
	for rows.Next() {
		var s StaleRun
		var startedAt string
		if err := rows.Scan(&s.ID, &s.Task, &startedAt); err != nil {
			return nil, fmt.Errorf("scan stale run: %w", err)
		}
		s.StartedAt, _ = parseTime(startedAt)
		stale = append(stale, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range stale {
		row := db.QueryRow(`
			SELECT COUNT(*) FROM units
			WHERE run_id = ? AND status NOT IN (?, ?, ?)
		`, stale[i].ID, string(models.UnitStatusSucceeded), string(models.UnitStatusAborted), string(models.UnitStatusSkipped))
		if err := row.Scan(&stale[i].OpenUnits); err != nil {
			return nil, fmt.Errorf("count open units: %w", err)
		}
	}
	return stale, nil
}

// RecoverStaleRuns marks interrupted runs as failed and closes out their
// unfinished units. Returns the number of runs recovered.
func (db *DB) RecoverStaleRuns() (int, error) {
	stale, err := db.FindStaleRuns()
	if err != nil {
		return 0, err
	}
	now := formatTime(time.Now().UTC())
	for _, s := range stale {
		_, err := db.Exec(`
			UPDATE units SET status = ?, error = ?, finished_at = ?
			WHERE run_id = ? AND status NOT IN (?, ?, ?)
		`, string(models.UnitStatusAborted), "run interrupted", now,
			s.ID, string(models.UnitStatusSucceeded), string(models.UnitStatusAborted), string(models.UnitStatusSkipped))
		if err != nil {
			return 0, fmt.Errorf("close units for run %s: %w", s.ID, err)
		}
		_, err = db.Exec(`
			UPDATE runs SET status = ?, finished_at = ? WHERE id = ?
		`, string(RunFailed), now, s.ID)
		if err != nil {
			return 0, fmt.Errorf("fail run %s: %w", s.ID, err)
		}
	}
	return len(stale), nil
}
