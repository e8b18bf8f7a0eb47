package audit

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/kmorand/ensemble/pkg/models"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() {
		j.Close()
	})
	return j
}

func TestJournalAppendAndList(t *testing.T) {
	j := openTestJournal(t)
	at := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	decisions := []models.SchedulingDecision{
		{UnitID: "a", From: models.UnitStatusPending, To: models.UnitStatusQueued, Reason: models.ReasonDispatched, At: at},
		{UnitID: "a", From: models.UnitStatusQueued, To: models.UnitStatusRunning, Reason: models.ReasonStarted, At: at.Add(time.Second)},
		{UnitID: "a", From: models.UnitStatusRunning, To: models.UnitStatusSucceeded, Reason: models.ReasonSucceeded, At: at.Add(time.Minute)},
	}
	for _, d := range decisions {
		if err := j.Append("run-1", d); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	entries, err := j.List("run-1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	for i, e := range entries {
		if e.UnitID != "a" {
			t.Errorf("entry %d unit = %s", i, e.UnitID)
		}
		if e.From != decisions[i].From || e.To != decisions[i].To {
			t.Errorf("entry %d = %s->%s, want %s->%s", i, e.From, e.To, decisions[i].From, decisions[i].To)
		}
	}
	if entries[0].Seq >= entries[2].Seq {
		t.Error("sequence numbers not monotonic")
	}
}

func TestJournalSeparatesRuns(t *testing.T) {
	j := openTestJournal(t)
	now := time.Now()

	if err := j.Append("run-a", models.SchedulingDecision{UnitID: "x", From: models.UnitStatusPending, To: models.UnitStatusQueued, Reason: models.ReasonDispatched, At: now}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := j.Append("run-b", models.SchedulingDecision{UnitID: "y", From: models.UnitStatusPending, To: models.UnitStatusQueued, Reason: models.ReasonDispatched, At: now}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	entries, err := j.List("run-a")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 1 || entries[0].UnitID != "x" {
		t.Errorf("run-a entries = %+v", entries)
	}
}

func TestJournalEmptyRun(t *testing.T) {
	j := openTestJournal(t)
	entries, err := j.List("none")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("got %d entries for unknown run", len(entries))
	}
}
