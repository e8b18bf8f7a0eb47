package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// tempDBPath returns a path to a temp database file.
func tempDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.db")
}

// setupTestDB creates a new temporary database for testing.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(tempDBPath(t))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func TestOpen(t *testing.T) {
	path := tempDBPath(t)
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("database file does not exist at %s", path)
	}
}

func TestOpenCreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	if err := db.Migrate(); err != nil {
		t.Fatalf("second Migrate failed: %v", err)
	}

	var version int
	row := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&version); err != nil {
		t.Fatalf("reading schema version: %v", err)
	}
	if version != 2 {
		t.Errorf("schema version = %d, want 2", version)
	}
}

func TestRunRoundTrip(t *testing.T) {
	db := setupTestDB(t)

	run := &Run{
		ID:        "run-1",
		Task:      "refactor the parser",
		Status:    RunActive,
		Backend:   "anthropic",
		Workers:   4,
		StartedAt: time.Now().Add(-time.Minute),
	}
	if err := db.CreateRun(run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	got, err := db.GetRun("run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got == nil {
		t.Fatal("GetRun returned nil for existing run")
	}
	if got.Task != run.Task || got.Status != RunActive || got.Workers != 4 {
		t.Errorf("GetRun = %+v, want %+v", got, run)
	}
	if got.FinishedAt != nil {
		t.Errorf("FinishedAt = %v for active run, want nil", got.FinishedAt)
	}

	now := time.Now()
	run.Status = RunCompleted
	run.FinishedAt = &now
	run.TokensUsed = 4500
	run.Cost = 0.75
	run.Succeeded = 3
	if err := db.UpdateRun(run); err != nil {
		t.Fatalf("UpdateRun failed: %v", err)
	}

	got, err = db.GetRun("run-1")
	if err != nil {
		t.Fatalf("GetRun after update failed: %v", err)
	}
	if got.Status != RunCompleted || got.TokensUsed != 4500 || got.Succeeded != 3 {
		t.Errorf("updated run = %+v", got)
	}
	if got.FinishedAt == nil {
		t.Error("FinishedAt = nil after update")
	}
}

func TestGetRunMissing(t *testing.T) {
	db := setupTestDB(t)
	got, err := db.GetRun("nope")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got != nil {
		t.Errorf("GetRun for missing id = %+v, want nil", got)
	}
}

func TestListRunsMostRecentFirst(t *testing.T) {
	db := setupTestDB(t)
	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"old", "mid", "new"} {
		run := &Run{
			ID:        id,
			Task:      "task " + id,
			Status:    RunCompleted,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := db.CreateRun(run); err != nil {
			t.Fatalf("CreateRun(%s) failed: %v", id, err)
		}
	}

	runs, err := db.ListRuns(2)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("got %d runs, want 2", len(runs))
	}
	if runs[0].ID != "new" || runs[1].ID != "mid" {
		t.Errorf("order = %s, %s; want new, mid", runs[0].ID, runs[1].ID)
	}

	latest, err := db.LatestRun()
	if err != nil {
		t.Fatalf("LatestRun failed: %v", err)
	}
	if latest == nil || latest.ID != "new" {
		t.Errorf("LatestRun = %+v, want new", latest)
	}
}

func TestUnitRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	if err := db.CreateRun(&Run{ID: "run-1", Task: "t", Status: RunActive, StartedAt: time.Now()}); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	unit := &UnitRecord{
		ID:        "unit-1",
		RunID:     "run-1",
		Title:     "Build the scanner",
		Role:      "builder",
		Priority:  5,
		DependsOn: []string{"unit-0"},
		Status:    "pending",
	}
	if err := db.CreateUnit(unit); err != nil {
		t.Fatalf("CreateUnit failed: %v", err)
	}

	start := time.Now()
	unit.Status = "succeeded"
	unit.Attempts = 2
	unit.TokensUsed = 900
	unit.StartedAt = &start
	unit.FinishedAt = &start
	unit.WorkspacePath = "/tmp/ws"
	if err := db.UpdateUnit(unit); err != nil {
		t.Fatalf("UpdateUnit failed: %v", err)
	}

	units, err := db.ListUnitsByRun("run-1")
	if err != nil {
		t.Fatalf("ListUnitsByRun failed: %v", err)
	}
	if len(units) != 1 {
		t.Fatalf("got %d units, want 1", len(units))
	}
	got := units[0]
	if got.Status != "succeeded" || got.Attempts != 2 || got.TokensUsed != 900 {
		t.Errorf("unit = %+v", got)
	}
	if len(got.DependsOn) != 1 || got.DependsOn[0] != "unit-0" {
		t.Errorf("DependsOn = %v, want [unit-0]", got.DependsOn)
	}
	if got.StartedAt == nil || got.FinishedAt == nil {
		t.Error("timestamps not persisted")
	}
}

func TestPurgeOldRuns(t *testing.T) {
	db := setupTestDB(t)
	old := &Run{ID: "ancient", Task: "t", Status: RunCompleted, StartedAt: time.Now().Add(-48 * time.Hour)}
	fresh := &Run{ID: "fresh", Task: "t", Status: RunCompleted, StartedAt: time.Now()}
	for _, r := range []*Run{old, fresh} {
		if err := db.CreateRun(r); err != nil {
			t.Fatalf("CreateRun failed: %v", err)
		}
	}
	if err := db.CreateUnit(&UnitRecord{ID: "u1", RunID: "ancient", Title: "x", Status: "succeeded"}); err != nil {
		t.Fatalf("CreateUnit failed: %v", err)
	}

	n, err := db.PurgeOldRuns(24 * time.Hour)
	if err != nil {
		t.Fatalf("PurgeOldRuns failed: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d runs, want 1", n)
	}
	if got, _ := db.GetRun("ancient"); got != nil {
		t.Error("ancient run survived the purge")
	}
	if got, _ := db.GetRun("fresh"); got == nil {
		t.Error("fresh run was purged")
	}
	units, _ := db.ListUnitsByRun("ancient")
	if len(units) != 0 {
		t.Errorf("%d orphan units survived the purge", len(units))
	}
}
