package scheduler

import (
	"errors"
	"testing"
	"time"

	"github.com/kmorand/ensemble/pkg/models"
)

func testPlan(units ...*models.WorkUnit) *models.Plan {
	return &models.Plan{
		ID:        "plan-1",
		Task:      "test",
		Units:     units,
		CreatedAt: time.Now(),
	}
}

func unit(id string, deps ...string) *models.WorkUnit {
	return &models.WorkUnit{
		ID:        id,
		Title:     "Unit " + id,
		Prompt:    "do " + id,
		Status:    models.UnitStatusPending,
		DependsOn: deps,
	}
}

func readyIDs(s *Scheduler) []string {
	var ids []string
	for _, u := range s.Ready() {
		ids = append(ids, u.ID)
	}
	return ids
}

func TestValidateAcyclic(t *testing.T) {
	plan := testPlan(unit("A"), unit("B", "A"), unit("C", "A", "B"))
	if err := Validate(plan); err != nil {
		t.Fatalf("unexpected error for acyclic plan: %v", err)
	}
}

func TestValidateDirectCycle(t *testing.T) {
	plan := testPlan(unit("A", "B"), unit("B", "A"))
	if err := Validate(plan); !errors.Is(err, ErrCyclicDependency) {
		t.Errorf("expected ErrCyclicDependency, got %v", err)
	}
}

func TestValidateThreeNodeCycle(t *testing.T) {
	plan := testPlan(unit("A", "B"), unit("B", "C"), unit("C", "A"))
	if err := Validate(plan); !errors.Is(err, ErrCyclicDependency) {
		t.Errorf("expected ErrCyclicDependency for A->B->C->A, got %v", err)
	}
}

func TestValidateSelfDependency(t *testing.T) {
	plan := testPlan(unit("A", "A"))
	if err := Validate(plan); !errors.Is(err, ErrCyclicDependency) {
		t.Errorf("expected ErrCyclicDependency for self-loop, got %v", err)
	}
}

func TestValidateUnknownDependency(t *testing.T) {
	plan := testPlan(unit("A", "missing"))
	if err := Validate(plan); !errors.Is(err, ErrUnknownDependency) {
		t.Errorf("expected ErrUnknownDependency, got %v", err)
	}
}

func TestNewRejectsInvalidPlan(t *testing.T) {
	plan := testPlan(unit("A", "B"), unit("B", "A"))
	if _, err := New(plan); err == nil {
		t.Fatal("expected error for cyclic plan")
	}
}

func TestInitialReadySet(t *testing.T) {
	plan := testPlan(unit("A"), unit("B"), unit("C", "A"))
	s, err := New(plan)
	if err != nil {
		t.Fatalf("failed to build scheduler: %v", err)
	}

	ids := readyIDs(s)
	if len(ids) != 2 || ids[0] != "A" || ids[1] != "B" {
		t.Errorf("initial ready set = %v, want [A B]", ids)
	}

	// Ready drains: a second call returns nothing new.
	if again := s.Ready(); len(again) != 0 {
		t.Errorf("second Ready() returned %d units, want 0", len(again))
	}
}

func TestReadinessUnlocksOnSuccess(t *testing.T) {
	plan := testPlan(unit("A"), unit("B"), unit("C", "A"))
	s, err := New(plan)
	if err != nil {
		t.Fatalf("failed to build scheduler: %v", err)
	}
	s.Ready()

	s.MarkQueued("A")
	s.MarkRunning("A")
	s.MarkSucceeded("A", &models.ExecutionResult{UnitID: "A", Success: true})

	ids := readyIDs(s)
	if len(ids) != 1 || ids[0] != "C" {
		t.Errorf("ready after A succeeded = %v, want [C]", ids)
	}
	if plan.UnitByID("A").Status != models.UnitStatusSucceeded {
		t.Errorf("A status = %s, want succeeded", plan.UnitByID("A").Status)
	}
}

func TestReadinessWaitsForAllDependencies(t *testing.T) {
	plan := testPlan(unit("A"), unit("B"), unit("C", "A", "B"))
	s, err := New(plan)
	if err != nil {
		t.Fatalf("failed to build scheduler: %v", err)
	}
	s.Ready()

	s.MarkQueued("A")
	s.MarkRunning("A")
	s.MarkSucceeded("A", nil)

	if ids := readyIDs(s); len(ids) != 0 {
		t.Errorf("C became ready with only A succeeded: %v", ids)
	}

	s.MarkQueued("B")
	s.MarkRunning("B")
	s.MarkSucceeded("B", nil)

	ids := readyIDs(s)
	if len(ids) != 1 || ids[0] != "C" {
		t.Errorf("ready after both deps succeeded = %v, want [C]", ids)
	}
}

func TestAbortCascadesSkipTransitively(t *testing.T) {
	// A <- B <- C, plus independent D.
	plan := testPlan(unit("A"), unit("B", "A"), unit("C", "B"), unit("D"))
	s, err := New(plan)
	if err != nil {
		t.Fatalf("failed to build scheduler: %v", err)
	}
	s.Ready()

	s.MarkQueued("A")
	s.MarkRunning("A")
	s.MarkAborted("A", models.ReasonRetriesExhausted, nil)

	if got := plan.UnitByID("B").Status; got != models.UnitStatusSkipped {
		t.Errorf("B status = %s, want skipped", got)
	}
	if got := plan.UnitByID("C").Status; got != models.UnitStatusSkipped {
		t.Errorf("C status = %s, want skipped (transitive)", got)
	}
	if got := plan.UnitByID("D").Status; got != models.UnitStatusPending {
		t.Errorf("D status = %s, want pending (sibling branch unaffected)", got)
	}
	if got := plan.UnitByID("B").Error; got != "dependency_failed:A" {
		t.Errorf("B error = %q, want dependency_failed:A", got)
	}
	if got := plan.UnitByID("C").Error; got != "dependency_failed:B" {
		t.Errorf("C error = %q, want dependency_failed:B", got)
	}
}

func TestSkippedUnitNeverBecomesReady(t *testing.T) {
	plan := testPlan(unit("A"), unit("B"), unit("C", "A", "B"))
	s, err := New(plan)
	if err != nil {
		t.Fatalf("failed to build scheduler: %v", err)
	}
	s.Ready()

	s.MarkQueued("A")
	s.MarkRunning("A")
	s.MarkAborted("A", models.ReasonRetriesExhausted, nil)

	// B still succeeds; its decrement must not resurrect the skipped C.
	s.MarkQueued("B")
	s.MarkRunning("B")
	s.MarkSucceeded("B", nil)

	if ids := readyIDs(s); len(ids) != 0 {
		t.Errorf("skipped unit reappeared in ready set: %v", ids)
	}
	if got := plan.UnitByID("C").Status; got != models.UnitStatusSkipped {
		t.Errorf("C status = %s, want skipped", got)
	}
}

func TestReadyOrderPriorityThenInsertion(t *testing.T) {
	a := unit("A")
	b := unit("B")
	c := unit("C")
	b.Priority = 5
	c.Priority = 5
	plan := testPlan(a, b, c)

	s, err := New(plan)
	if err != nil {
		t.Fatalf("failed to build scheduler: %v", err)
	}

	ids := readyIDs(s)
	// B and C share the highest priority; B was inserted first.
	want := []string{"B", "C", "A"}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("ready order = %v, want %v", ids, want)
		}
	}
}

func TestTerminalStatusIsSticky(t *testing.T) {
	plan := testPlan(unit("A"))
	s, err := New(plan)
	if err != nil {
		t.Fatalf("failed to build scheduler: %v", err)
	}
	s.Ready()

	s.MarkQueued("A")
	s.MarkRunning("A")
	s.MarkSucceeded("A", nil)

	// Late abort attempts must not change a terminal unit.
	s.MarkAborted("A", models.ReasonCancelled, nil)
	if got := plan.UnitByID("A").Status; got != models.UnitStatusSucceeded {
		t.Errorf("A status = %s after late abort, want succeeded", got)
	}

	decisions := s.Decisions()
	last := decisions[len(decisions)-1]
	if last.To != models.UnitStatusSucceeded {
		t.Errorf("last decision = %s, want succeeded (no abort recorded)", last.To)
	}
}

func TestRepeatedAbortIsIdempotent(t *testing.T) {
	plan := testPlan(unit("A"), unit("B", "A"))
	s, err := New(plan)
	if err != nil {
		t.Fatalf("failed to build scheduler: %v", err)
	}
	s.Ready()

	s.MarkAborted("A", models.ReasonCancelled, nil)
	before := len(s.Decisions())
	s.MarkAborted("A", models.ReasonCancelled, nil)
	s.MarkAborted("B", models.ReasonCancelled, nil)

	if got := len(s.Decisions()); got != before {
		t.Errorf("decision count grew from %d to %d on repeated abort", before, got)
	}
	if got := plan.UnitByID("B").Status; got != models.UnitStatusSkipped {
		t.Errorf("B status = %s, want skipped from first sweep", got)
	}
}

func TestAllTerminal(t *testing.T) {
	plan := testPlan(unit("A"), unit("B", "A"))
	s, err := New(plan)
	if err != nil {
		t.Fatalf("failed to build scheduler: %v", err)
	}
	s.Ready()

	if s.AllTerminal() {
		t.Fatal("AllTerminal() = true on fresh plan")
	}

	s.MarkQueued("A")
	s.MarkRunning("A")
	s.MarkSucceeded("A", nil)
	if s.AllTerminal() {
		t.Fatal("AllTerminal() = true with B pending")
	}

	s.MarkQueued("B")
	s.MarkRunning("B")
	s.MarkSucceeded("B", nil)
	if !s.AllTerminal() {
		t.Fatal("AllTerminal() = false with all units terminal")
	}
}

func TestDecisionJournal(t *testing.T) {
	plan := testPlan(unit("A"), unit("B", "A"))
	s, err := New(plan)
	if err != nil {
		t.Fatalf("failed to build scheduler: %v", err)
	}
	s.Ready()

	var seen []models.SchedulingDecision
	s.OnDecision(func(d models.SchedulingDecision) { seen = append(seen, d) })

	s.MarkQueued("A")
	s.MarkRunning("A")
	s.MarkAborted("A", models.ReasonRetriesExhausted, nil)

	journal := s.Decisions()
	// queued, started, aborted, plus the cascade skip of B.
	if len(journal) != 4 {
		t.Fatalf("journal has %d decisions, want 4: %+v", len(journal), journal)
	}
	if journal[0].From != models.UnitStatusPending || journal[0].To != models.UnitStatusQueued {
		t.Errorf("first decision %s->%s, want pending->queued", journal[0].From, journal[0].To)
	}
	if journal[3].UnitID != "B" || journal[3].To != models.UnitStatusSkipped {
		t.Errorf("last decision = %+v, want B skipped", journal[3])
	}
	if len(seen) != 4 {
		t.Errorf("sink saw %d decisions, want 4", len(seen))
	}
	for _, d := range journal {
		if d.At.IsZero() {
			t.Errorf("decision %s->%s has zero timestamp", d.From, d.To)
		}
	}
}

func TestMarkCancelledDoesNotCascade(t *testing.T) {
	// B depends on A; cancelling A directly must not skip B, because a
	// cancellation sweep aborts every undispatched unit itself.
	plan := testPlan(unit("A"), unit("B", "A"), unit("C"))
	s, err := New(plan)
	if err != nil {
		t.Fatalf("failed to build scheduler: %v", err)
	}
	s.Ready()

	s.MarkCancelled("A")
	if got := plan.UnitByID("B").Status; got != models.UnitStatusPending {
		t.Fatalf("B status = %s after cancelling A, want pending", got)
	}
	s.MarkCancelled("B")
	s.MarkCancelled("C")

	for _, id := range []string{"A", "B", "C"} {
		if got := plan.UnitByID(id).Status; got != models.UnitStatusAborted {
			t.Errorf("%s status = %s, want aborted", id, got)
		}
	}
	if !s.AllTerminal() {
		t.Error("AllTerminal() = false after cancelling every unit")
	}
}

func TestMarkCancelledLeavesRunningUnits(t *testing.T) {
	plan := testPlan(unit("A"))
	s, err := New(plan)
	if err != nil {
		t.Fatalf("failed to build scheduler: %v", err)
	}
	s.Ready()
	s.MarkQueued("A")
	s.MarkRunning("A")

	s.MarkCancelled("A")
	if got := plan.UnitByID("A").Status; got != models.UnitStatusRunning {
		t.Errorf("A status = %s, want running: in-flight units settle via their completion", got)
	}
}
