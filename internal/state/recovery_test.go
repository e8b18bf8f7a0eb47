package state

import (
	"testing"
	"time"

	"github.com/kmorand/ensemble/pkg/models"
)

func TestFindStaleRunsEmpty(t *testing.T) {
	db := setupTestDB(t)

	stale, err := db.FindStaleRuns()
	if err != nil {
		t.Fatalf("FindStaleRuns failed: %v", err)
	}
	if len(stale) != 0 {
		t.Errorf("FindStaleRuns = %d runs on empty db, want 0", len(stale))
	}
}

func TestFindStaleRunsSkipsFinished(t *testing.T) {
	db := setupTestDB(t)

	finished := time.Now()
	done := &Run{ID: "run-done", Task: "ship it", Status: RunCompleted, Backend: "sim", Workers: 2,
		StartedAt: time.Now().Add(-time.Hour), FinishedAt: &finished}
	if err := db.CreateRun(done); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	active := &Run{ID: "run-stale", Task: "never finished", Status: RunActive, Backend: "sim", Workers: 2,
		StartedAt: time.Now().Add(-30 * time.Minute)}
	if err := db.CreateRun(active); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	stale, err := db.FindStaleRuns()
	if err != nil {
		t.Fatalf("FindStaleRuns failed: %v", err)
	}
	if len(stale) != 1 {
		t.Fatalf("FindStaleRuns = %d runs, want 1", len(stale))
	}
	if stale[0].ID != "run-stale" {
		t.Errorf("stale run ID = %s, want run-stale", stale[0].ID)
	}
}

func TestFindStaleRunsCountsOpenUnits(t *testing.T) {
	db := setupTestDB(t)

	run := &Run{ID: "run-1", Task: "interrupted work", Status: RunActive, Backend: "sim", Workers: 2,
		StartedAt: time.Now().Add(-time.Hour)}
	if err := db.CreateRun(run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	units := []*UnitRecord{
		{ID: "u1", RunID: "run-1", Title: "done unit", Status: string(models.UnitStatusSucceeded)},
		{ID: "u2", RunID: "run-1", Title: "was running", Status: string(models.UnitStatusRunning)},
		{ID: "u3", RunID: "run-1", Title: "never started", Status: string(models.UnitStatusPending)},
	}
	for _, u := range units {
		if err := db.CreateUnit(u); err != nil {
			t.Fatalf("CreateUnit %s failed: %v", u.ID, err)
		}
	}

	stale, err := db.FindStaleRuns()
	if err != nil {
		t.Fatalf("FindStaleRuns failed: %v", err)
	}
	if len(stale) != 1 {
		t.Fatalf("FindStaleRuns = %d runs, want 1", len(stale))
	}
	if stale[0].OpenUnits != 2 {
		t.Errorf("OpenUnits = %d, want 2", stale[0].OpenUnits)
	}
}

func TestRecoverStaleRuns(t *testing.T) {
	db := setupTestDB(t)

	run := &Run{ID: "run-1", Task: "interrupted work", Status: RunActive, Backend: "sim", Workers: 2,
		StartedAt: time.Now().Add(-time.Hour)}
	if err := db.CreateRun(run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	units := []*UnitRecord{
		{ID: "u1", RunID: "run-1", Title: "done unit", Status: string(models.UnitStatusSucceeded)},
		{ID: "u2", RunID: "run-1", Title: "was running", Status: string(models.UnitStatusRunning)},
	}
	for _, u := range units {
		if err := db.CreateUnit(u); err != nil {
			t.Fatalf("CreateUnit %s failed: %v", u.ID, err)
		}
	}

	n, err := db.RecoverStaleRuns()
	if err != nil {
		t.Fatalf("RecoverStaleRuns failed: %v", err)
	}
	if n != 1 {
		t.Errorf("RecoverStaleRuns = %d, want 1", n)
	}

	got, err := db.GetRun("run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Status != RunFailed {
		t.Errorf("recovered run status = %s, want %s", got.Status, RunFailed)
	}
	if got.FinishedAt == nil {
		t.Error("FinishedAt = nil after recovery")
	}

	recs, err := db.ListUnitsByRun("run-1")
	if err != nil {
		t.Fatalf("ListUnitsByRun failed: %v", err)
	}
	for _, u := range recs {
		switch u.ID {
		case "u1":
			if u.Status != string(models.UnitStatusSucceeded) {
				t.Errorf("finished unit status = %s, want untouched", u.Status)
			}
		case "u2":
			if u.Status != string(models.UnitStatusAborted) {
				t.Errorf("open unit status = %s, want %s", u.Status, models.UnitStatusAborted)
			}
			if u.Error != "run interrupted" {
				t.Errorf("open unit error = %q, want %q", u.Error, "run interrupted")
			}
		}
	}

	// A second pass finds nothing left to recover.
	n, err = db.RecoverStaleRuns()
	if err != nil {
		t.Fatalf("RecoverStaleRuns second pass failed: %v", err)
	}
	if n != 0 {
		t.Errorf("RecoverStaleRuns second pass = %d, want 0", n)
	}
}
