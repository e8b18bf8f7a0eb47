// Package scheduler converts a plan's dependency edges into dispatch order
// and tracks unit readiness as completions arrive. It holds no goroutine of
// its own: the orchestrator's control loop is the single writer and calls it
// synchronously, so the scheduler carries no locks.
package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/kmorand/ensemble/pkg/models"
)

// ErrCyclicDependency is returned when the dependency graph contains a cycle.
var ErrCyclicDependency = errors.New("circular dependency detected")

// ErrUnknownDependency is returned when a unit depends on an ID that does not
// exist in the plan.
var ErrUnknownDependency = errors.New("unknown dependency")

// Scheduler tracks readiness for one plan. Units become ready when their
// remaining-dependency counter reaches zero; a dependency ending Aborted or
// Skipped cascades Skipped through all transitive dependents instead.
type Scheduler struct {
	plan *models.Plan

	// remaining counts unmet dependencies per unit. Decremented only when a
	// dependency succeeds.
	remaining map[string]int
	// dependents maps a unit ID to the IDs that directly depend on it.
	dependents map[string][]string
	// order is the insertion index per unit, the priority tie-break.
	order map[string]int
	// readyIDs accumulates units whose counter reached zero and which have
	// not been handed out by Ready yet.
	readyIDs []string

	terminalCount int
	decisions     []models.SchedulingDecision
	onDecision    func(models.SchedulingDecision)
	now           func() time.Time
}

// Validate checks the structural invariants of a plan: no unit may depend on
// itself or on a nonexistent unit, and the dependency graph must be acyclic.
func Validate(plan *models.Plan) error {
	units := make(map[string]*models.WorkUnit, len(plan.Units))
	for _, u := range plan.Units {
		units[u.ID] = u
	}

	for _, u := range plan.Units {
		for _, dep := range u.DependsOn {
			if dep == u.ID {
				return fmt.Errorf("unit %s depends on itself: %w", u.ID, ErrCyclicDependency)
			}
			if _, ok := units[dep]; !ok {
				return fmt.Errorf("unit %s depends on unknown unit %s: %w", u.ID, dep, ErrUnknownDependency)
			}
		}
	}

	// DFS coloring: 0=unvisited, 1=in progress, 2=done.
	colors := make(map[string]int, len(units))
	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = 1
		for _, dep := range units[id].DependsOn {
			switch colors[dep] {
			case 1:
				return true
			case 0:
				if visit(dep) {
					return true
				}
			}
		}
		colors[id] = 2
		return false
	}

	for _, u := range plan.Units {
		if colors[u.ID] == 0 && visit(u.ID) {
			return ErrCyclicDependency
		}
	}
	return nil
}

// New validates the plan and builds a scheduler for it. Units without
// dependencies are immediately ready.
func New(plan *models.Plan) (*Scheduler, error) {
	if err := Validate(plan); err != nil {
		return nil, err
	}

	s := &Scheduler{
		plan:       plan,
		remaining:  make(map[string]int, len(plan.Units)),
		dependents: make(map[string][]string, len(plan.Units)),
		order:      make(map[string]int, len(plan.Units)),
		now:        time.Now,
	}

	for i, u := range plan.Units {
		s.order[u.ID] = i
		s.remaining[u.ID] = len(u.DependsOn)
		if u.Status == "" {
			u.Status = models.UnitStatusPending
		}
		if u.Status.Terminal() {
			s.terminalCount++
		}
		for _, dep := range u.DependsOn {
			s.dependents[dep] = append(s.dependents[dep], u.ID)
		}
	}
	for _, u := range plan.Units {
		if s.remaining[u.ID] == 0 && u.Status == models.UnitStatusPending {
			s.readyIDs = append(s.readyIDs, u.ID)
		}
	}
	return s, nil
}

// OnDecision registers a sink invoked for every scheduling decision, in the
// control loop's goroutine.
func (s *Scheduler) OnDecision(fn func(models.SchedulingDecision)) {
	s.onDecision = fn
}

// Ready drains and returns the units that became eligible to run since the
// last call, ordered by descending priority and then by insertion order.
func (s *Scheduler) Ready() []*models.WorkUnit {
	if len(s.readyIDs) == 0 {
		return nil
	}

	ready := make([]*models.WorkUnit, 0, len(s.readyIDs))
	for _, id := range s.readyIDs {
		if u := s.plan.UnitByID(id); u != nil && u.Status == models.UnitStatusPending {
			ready = append(ready, u)
		}
	}
	s.readyIDs = s.readyIDs[:0]

	sort.SliceStable(ready, func(i, j int) bool {
		if ready[i].Priority != ready[j].Priority {
			return ready[i].Priority > ready[j].Priority
		}
		return s.order[ready[i].ID] < s.order[ready[j].ID]
	})
	return ready
}

// MarkQueued transitions a pending unit to queued when it is handed to the
// pool.
func (s *Scheduler) MarkQueued(id string) {
	u := s.plan.UnitByID(id)
	if u == nil || u.Status != models.UnitStatusPending {
		return
	}
	now := s.now()
	u.QueuedAt = &now
	s.record(u, models.UnitStatusQueued, models.ReasonDispatched)
}

// MarkRunning transitions a queued unit to running once a worker picks it up.
func (s *Scheduler) MarkRunning(id string) {
	u := s.plan.UnitByID(id)
	if u == nil || u.Status != models.UnitStatusQueued {
		return
	}
	now := s.now()
	u.StartedAt = &now
	s.record(u, models.UnitStatusRunning, models.ReasonStarted)
}

// MarkSucceeded finalizes a unit with a successful result and decrements the
// remaining-dependency counter of each direct dependent. Dependents whose
// counter reaches zero become ready.
func (s *Scheduler) MarkSucceeded(id string, result *models.ExecutionResult) {
	u := s.plan.UnitByID(id)
	if u == nil || u.Status.Terminal() {
		return
	}
	u.Result = result
	s.finish(u, models.UnitStatusSucceeded, models.ReasonSucceeded)

	for _, depID := range s.dependents[id] {
		s.remaining[depID]--
		if s.remaining[depID] == 0 {
			if d := s.plan.UnitByID(depID); d != nil && d.Status == models.UnitStatusPending {
				s.readyIDs = append(s.readyIDs, depID)
			}
		}
	}
}

// MarkAborted finalizes a unit as aborted and skips every transitive
// dependent. Terminal units are left untouched, which makes repeated
// cancellation sweeps idempotent.
func (s *Scheduler) MarkAborted(id, reason string, result *models.ExecutionResult) {
	u := s.plan.UnitByID(id)
	if u == nil || u.Status.Terminal() {
		return
	}
	u.Result = result
	if u.Error == "" && result != nil {
		u.Error = result.Error
	}
	if u.Error == "" {
		u.Error = reason
	}
	s.finish(u, models.UnitStatusAborted, reason)
	s.skipDependents(id)
}

// MarkCancelled finalizes a pending or queued unit as aborted without
// cascading skips. The cancellation sweep calls it for every undispatched
// unit directly, so dependents end up aborted in their own right rather
// than skipped by ordering accident.
func (s *Scheduler) MarkCancelled(id string) {
	u := s.plan.UnitByID(id)
	if u == nil || u.Status.Terminal() || u.Status == models.UnitStatusRunning {
		return
	}
	if u.Error == "" {
		u.Error = string(models.ErrorClassCancelled)
	}
	s.finish(u, models.UnitStatusAborted, models.ReasonCancelled)
}

// AddRetry records one consumed retry on the unit.
func (s *Scheduler) AddRetry(id string) {
	if u := s.plan.UnitByID(id); u != nil && !u.Status.Terminal() {
		u.RetryCount++
	}
}

// AllTerminal returns true once every unit in the plan is terminal.
func (s *Scheduler) AllTerminal() bool {
	return s.terminalCount == len(s.plan.Units)
}

// Decisions returns a copy of the append-only decision journal.
func (s *Scheduler) Decisions() []models.SchedulingDecision {
	out := make([]models.SchedulingDecision, len(s.decisions))
	copy(out, s.decisions)
	return out
}

// skipDependents marks every non-terminal transitive dependent of the given
// unit as skipped. A skipped unit propagates the skip onward.
func (s *Scheduler) skipDependents(id string) {
	for _, depID := range s.dependents[id] {
		d := s.plan.UnitByID(depID)
		if d == nil || d.Status.Terminal() {
			continue
		}
		d.Error = "dependency_failed:" + id
		s.finish(d, models.UnitStatusSkipped, "dependency_failed:"+id)
		s.skipDependents(depID)
	}
}

// finish moves a unit into a terminal or transitional status and records the
// decision.
func (s *Scheduler) finish(u *models.WorkUnit, to models.UnitStatus, reason string) {
	if to.Terminal() {
		now := s.now()
		u.FinishedAt = &now
		s.terminalCount++
	}
	s.record(u, to, reason)
}

// record applies the status change and appends it to the decision journal.
func (s *Scheduler) record(u *models.WorkUnit, to models.UnitStatus, reason string) {
	decision := models.SchedulingDecision{
		UnitID: u.ID,
		From:   u.Status,
		To:     to,
		Reason: reason,
		At:     s.now(),
	}
	u.Status = to
	s.decisions = append(s.decisions, decision)
	if s.onDecision != nil {
		s.onDecision(decision)
	}
}
