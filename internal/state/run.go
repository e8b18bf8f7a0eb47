package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// RunStatus represents the status of a recorded run.
type RunStatus string

const (
	RunActive    RunStatus = "active"
	RunCompleted RunStatus = "completed"
	RunCancelled RunStatus = "cancelled"
	RunFailed    RunStatus = "failed"
)

// Run is one recorded orchestration run.
type Run struct {
	ID         string     `json:"id"`
	Task       string     `json:"task"`
	Status     RunStatus  `json:"status"`
	Backend    string     `json:"backend"`
	Workers    int        `json:"workers"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
	TokensUsed int64      `json:"tokens_used"`
	Cost       float64    `json:"cost"`
	Succeeded  int        `json:"succeeded"`
	Aborted    int        `json:"aborted"`
	Skipped    int        `json:"skipped"`
}

// UnitRecord is one unit's persisted state within a run.
type UnitRecord struct {
	ID            string     `json:"id"`
	RunID         string     `json:"run_id"`
	Title         string     `json:"title"`
	Role          string     `json:"role"`
	Priority      int        `json:"priority"`
	DependsOn     []string   `json:"depends_on"`
	Status        string     `json:"status"`
	Attempts      int        `json:"attempts"`
	Error         string     `json:"error"`
	TokensUsed    int64      `json:"tokens_used"`
	Cost          float64    `json:"cost"`
	WorkspacePath string     `json:"workspace_path"`
	StartedAt     *time.Time `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at"`
}

// CreateRun inserts a new run.
func (db *DB) CreateRun(r *Run) error {
	_, err := db.Exec(`
		INSERT INTO runs (id, task, status, backend, workers, started_at, tokens_used, cost, succeeded, aborted, skipped)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Task, string(r.Status), r.Backend, r.Workers, formatTime(r.StartedAt),
		r.TokensUsed, r.Cost, r.Succeeded, r.Aborted, r.Skipped)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// UpdateRun updates a run's mutable fields.
func (db *DB) UpdateRun(r *Run) error {
	var finishedAt *string
	if r.FinishedAt != nil {
		s := formatTime(*r.FinishedAt)
		finishedAt = &s
	}
	_, err := db.Exec(`
		UPDATE runs SET status = ?, finished_at = ?, tokens_used = ?, cost = ?, succeeded = ?, aborted = ?, skipped = ?
		WHERE id = ?
	`, string(r.Status), finishedAt, r.TokensUsed, r.Cost, r.Succeeded, r.Aborted, r.Skipped, r.ID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID. Returns nil when the run does not exist.
func (db *DB) GetRun(id string) (*Run, error) {
	row := db.QueryRow(`
		SELECT id, task, status, backend, workers, started_at, finished_at, tokens_used, cost, succeeded, aborted, skipped
		FROM runs WHERE id = ?
	`, id)
	return scanRun(row)
}

// LatestRun returns the most recently started run, or nil when none exist.
func (db *DB) LatestRun() (*Run, error) {
	row := db.QueryRow(`
		SELECT id, task, status, backend, workers, started_at, finished_at, tokens_used, cost, succeeded, aborted, skipped
		FROM runs ORDER BY started_at DESC LIMIT 1
	`)
	return scanRun(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var r Run
	var startedAt string
	var finishedAt sql.NullString
	err := row.Scan(&r.ID, &r.Task, &r.Status, &r.Backend, &r.Workers, &startedAt, &finishedAt,
		&r.TokensUsed, &r.Cost, &r.Succeeded, &r.Aborted, &r.Skipped)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	r.StartedAt, _ = parseTime(startedAt)
	r.FinishedAt = parseNullableTime(finishedAt)
	return &r, nil
}

// ListRuns lists runs most recent first, up to limit. A non-positive limit
// lists everything.
func (db *DB) ListRuns(limit int) ([]Run, error) {
	query := `
		SELECT id, task, status, backend, workers, started_at, finished_at, tokens_used, cost, succeeded, aborted, skipped
		FROM runs ORDER BY started_at DESC
	`
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = db.Query(query+" LIMIT ?", limit)
	} else {
		rows, err = db.Query(query)
	}
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var startedAt string
		var finishedAt sql.NullString
		if err := rows.Scan(&r.ID, &r.Task, &r.Status, &r.Backend, &r.Workers, &startedAt, &finishedAt,
			&r.TokensUsed, &r.Cost, &r.Succeeded, &r.Aborted, &r.Skipped); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt, _ = parseTime(startedAt)
		r.FinishedAt = parseNullableTime(finishedAt)
		runs = append(runs, r)
	}
	return runs, nil
}

// CreateUnit inserts a unit row.
func (db *DB) CreateUnit(u *UnitRecord) error {
	dependsOn, _ := json.Marshal(u.DependsOn)
	var startedAt, finishedAt *string
	if u.StartedAt != nil {
		s := formatTime(*u.StartedAt)
		startedAt = &s
	}
	if u.FinishedAt != nil {
		s := formatTime(*u.FinishedAt)
		finishedAt = &s
	}

	_, err := db.Exec(`
		INSERT INTO units (id, run_id, title, role, priority, depends_on, status, attempts, error, tokens_used, cost, workspace_path, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, u.ID, u.RunID, u.Title, u.Role, u.Priority, string(dependsOn), u.Status, u.Attempts,
		u.Error, u.TokensUsed, u.Cost, u.WorkspacePath, startedAt, finishedAt)
	if err != nil {
		return fmt.Errorf("create unit: %w", err)
	}
	return nil
}

// UpdateUnit updates a unit's mutable fields.
func (db *DB) UpdateUnit(u *UnitRecord) error {
	var startedAt, finishedAt *string
	if u.StartedAt != nil {
		s := formatTime(*u.StartedAt)
		startedAt = &s
	}
	if u.FinishedAt != nil {
		s := formatTime(*u.FinishedAt)
		finishedAt = &s
	}

	_, err := db.Exec(`
		UPDATE units SET status = ?, attempts = ?, error = ?, tokens_used = ?, cost = ?, workspace_path = ?, started_at = ?, finished_at = ?
		WHERE id = ?
	`, u.Status, u.Attempts, u.Error, u.TokensUsed, u.Cost, u.WorkspacePath, startedAt, finishedAt, u.ID)
	if err != nil {
		return fmt.Errorf("update unit: %w", err)
	}
	return nil
}

// ListUnitsByRun lists a run's units in insertion order.
func (db *DB) ListUnitsByRun(runID string) ([]UnitRecord, error) {
	rows, err := db.Query(`
		SELECT id, run_id, title, role, priority, depends_on, status, attempts, error, tokens_used, cost, workspace_path, started_at, finished_at
		FROM units WHERE run_id = ? ORDER BY rowid
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list units by run: %w", err)
	}
	defer rows.Close()

	var units []UnitRecord
	for rows.Next() {
		var u UnitRecord
		var role, dependsOn, unitErr, workspacePath sql.NullString
		var startedAt, finishedAt sql.NullString
		if err := rows.Scan(&u.ID, &u.RunID, &u.Title, &role, &u.Priority, &dependsOn, &u.Status,
			&u.Attempts, &unitErr, &u.TokensUsed, &u.Cost, &workspacePath, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("scan unit: %w", err)
		}
		if role.Valid {
			u.Role = role.String
		}
		if dependsOn.Valid {
			json.Unmarshal([]byte(dependsOn.String), &u.DependsOn)
		}
		if unitErr.Valid {
			u.Error = unitErr.String
		}
		if workspacePath.Valid {
			u.WorkspacePath = workspacePath.String
		}
		u.StartedAt = parseNullableTime(startedAt)
		u.FinishedAt = parseNullableTime(finishedAt)
		units = append(units, u)
	}
	return units, nil
}
