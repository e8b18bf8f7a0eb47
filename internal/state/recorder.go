package state

import (
	"log"
	"sync"
	"time"

	"github.com/kmorand/ensemble/internal/aggregate"
	"github.com/kmorand/ensemble/pkg/models"
)

// Recorder mirrors a run into the database as it happens. It is wired into
// the orchestrator as a decision sink, so it sees every unit transition in
// order. Persistence failures are logged, never allowed to fail the run.
type Recorder struct {
	db *DB

	mu    sync.Mutex
	runID string
	plan  *models.Plan
}

// NewRecorder creates a recorder backed by the given database.
func NewRecorder(db *DB) *Recorder {
	return &Recorder{db: db}
}

// BeginRun inserts the run row in active status.
func (r *Recorder) BeginRun(runID, task, backendName string, workers int) error {
	r.mu.Lock()
	r.runID = runID
	r.mu.Unlock()

	return r.db.CreateRun(&Run{
		ID:        runID,
		Task:      task,
		Status:    RunActive,
		Backend:   backendName,
		Workers:   workers,
		StartedAt: time.Now(),
	})
}

// AttachPlan inserts one row per unit once the plan is approved.
func (r *Recorder) AttachPlan(p *models.Plan) error {
	r.mu.Lock()
	r.plan = p
	runID := r.runID
	r.mu.Unlock()

	for _, u := range p.Units {
		rec := &UnitRecord{
			ID:        u.ID,
			RunID:     runID,
			Title:     u.Title,
			Role:      u.Role,
			Priority:  u.Priority,
			DependsOn: u.DependsOn,
			Status:    string(u.Status),
		}
		if err := r.db.CreateUnit(rec); err != nil {
			return err
		}
	}
	return nil
}

// OnDecision persists one scheduling decision. It runs in the control
// loop's goroutine and must stay cheap: one local SQLite update.
func (r *Recorder) OnDecision(d models.SchedulingDecision) {
	r.mu.Lock()
	p := r.plan
	r.mu.Unlock()
	if p == nil {
		return
	}
	u := p.UnitByID(d.UnitID)
	if u == nil {
		return
	}

	rec := &UnitRecord{
		ID:         u.ID,
		Status:     string(u.Status),
		Attempts:   u.RetryCount + 1,
		Error:      u.Error,
		StartedAt:  u.StartedAt,
		FinishedAt: u.FinishedAt,
	}
	if u.StartedAt == nil {
		rec.Attempts = 0
	}
	if res := u.Result; res != nil {
		rec.TokensUsed = res.TokensUsed
		rec.Cost = res.Cost
		rec.WorkspacePath = res.WorkspacePath
	}
	if err := r.db.UpdateUnit(rec); err != nil {
		log.Printf("[state] persisting unit %s: %v", u.ID, err)
	}
}

// FinishRun stamps the run row with its terminal status and totals.
func (r *Recorder) FinishRun(status RunStatus, rep *aggregate.Report) error {
	r.mu.Lock()
	runID := r.runID
	r.mu.Unlock()

	now := time.Now()
	run := &Run{
		ID:         runID,
		Status:     status,
		FinishedAt: &now,
	}
	if rep != nil {
		run.TokensUsed = rep.TotalTokens
		run.Cost = rep.TotalCost
		run.Succeeded = rep.Succeeded
		run.Aborted = rep.Aborted
		run.Skipped = rep.Skipped
	}
	return r.db.UpdateRun(run)
}
