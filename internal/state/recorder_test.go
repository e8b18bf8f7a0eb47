package state

import (
	"testing"
	"time"

	"github.com/kmorand/ensemble/internal/aggregate"
	"github.com/kmorand/ensemble/pkg/models"
)

func TestRecorderMirrorsRun(t *testing.T) {
	db := setupTestDB(t)
	rec := NewRecorder(db)

	if err := rec.BeginRun("run-9", "write the docs", "sim", 2); err != nil {
		t.Fatalf("BeginRun failed: %v", err)
	}

	now := time.Now()
	finished := now.Add(5 * time.Second)
	unit := &models.WorkUnit{
		ID:     "u-1",
		Title:  "Draft README",
		Status: models.UnitStatusSucceeded,
		Result: &models.ExecutionResult{
			UnitID: "u-1", Success: true, TokensUsed: 1500, Cost: 0.02,
		},
		StartedAt:  &now,
		FinishedAt: &finished,
	}
	p := &models.Plan{ID: "run-9", Task: "write the docs", Units: []*models.WorkUnit{unit}}

	// AttachPlan persists the unit in its pre-execution shape.
	unit.Status = models.UnitStatusPending
	if err := rec.AttachPlan(p); err != nil {
		t.Fatalf("AttachPlan failed: %v", err)
	}

	unit.Status = models.UnitStatusSucceeded
	rec.OnDecision(models.SchedulingDecision{
		UnitID: "u-1",
		From:   models.UnitStatusRunning,
		To:     models.UnitStatusSucceeded,
		Reason: models.ReasonSucceeded,
		At:     finished,
	})

	report := &aggregate.Report{Succeeded: 1, TotalTokens: 1500, TotalCost: 0.02}
	if err := rec.FinishRun(RunCompleted, report); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}

	run, err := db.GetRun("run-9")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.Status != RunCompleted || run.Succeeded != 1 || run.TokensUsed != 1500 {
		t.Errorf("run row = %+v", run)
	}
	if run.FinishedAt == nil {
		t.Error("run has no finished_at")
	}

	units, err := db.ListUnitsByRun("run-9")
	if err != nil {
		t.Fatalf("ListUnitsByRun failed: %v", err)
	}
	if len(units) != 1 {
		t.Fatalf("got %d unit rows, want 1", len(units))
	}
	if units[0].Status != string(models.UnitStatusSucceeded) {
		t.Errorf("unit status = %s, want succeeded", units[0].Status)
	}
	if units[0].TokensUsed != 1500 {
		t.Errorf("unit tokens = %d, want 1500", units[0].TokensUsed)
	}
}

func TestRecorderIgnoresDecisionsWithoutPlan(t *testing.T) {
	db := setupTestDB(t)
	rec := NewRecorder(db)
	// Must not panic or write anything.
	rec.OnDecision(models.SchedulingDecision{UnitID: "ghost"})
}
