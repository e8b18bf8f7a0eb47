// Package orchestrator coordinates a run end to end: clarify the task, plan
// it, collect approval, execute the plan through the pool, and aggregate the
// results. A single control loop owns all plan and unit state; everything
// outside the loop talks to it through channels and the event stream.
package orchestrator

import (
	"fmt"
	"sync"
)

// Phase is the orchestrator lifecycle phase.
type Phase string

const (
	// PhaseIdle means no task has been submitted.
	PhaseIdle Phase = "idle"
	// PhaseClarifying means the planner is resolving open questions.
	PhaseClarifying Phase = "clarifying"
	// PhasePlanning means the planner is decomposing the task.
	PhasePlanning Phase = "planning"
	// PhaseAwaitingApproval means a validated plan is waiting for a human
	// decision.
	PhaseAwaitingApproval Phase = "awaiting_approval"
	// PhaseExecuting means units are being dispatched and run.
	PhaseExecuting Phase = "executing"
	// PhaseAggregating means all units are terminal and the report is
	// being built.
	PhaseAggregating Phase = "aggregating"
	// PhaseCompleted means the run finished and the report is ready.
	PhaseCompleted Phase = "completed"
	// PhaseCancelled means the run was cancelled before completing.
	PhaseCancelled Phase = "cancelled"
	// PhaseError means the run hit an unrecoverable fault.
	PhaseError Phase = "error"
)

// Valid returns true if the phase is a known value.
func (p Phase) Valid() bool {
	switch p {
	case PhaseIdle, PhaseClarifying, PhasePlanning, PhaseAwaitingApproval,
		PhaseExecuting, PhaseAggregating, PhaseCompleted, PhaseCancelled, PhaseError:
		return true
	}
	return false
}

// Terminal returns true if no further transitions can leave the phase.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseCancelled || p == PhaseError
}

// InvalidTransitionError reports an operation that is not legal in the
// current phase. The operation is rejected without side effects.
type InvalidTransitionError struct {
	// From is the phase the machine was in.
	From Phase
	// To is the phase the operation would have moved to, when known.
	To Phase
	// Op names the rejected operation.
	Op string
}

func (e *InvalidTransitionError) Error() string {
	if e.To == "" {
		return fmt.Sprintf("invalid transition: %s not allowed in phase %s", e.Op, e.From)
	}
	return fmt.Sprintf("invalid transition %s -> %s (%s)", e.From, e.To, e.Op)
}

// transitions lists the legal phase changes. Cancellation and faults are
// handled separately: any non-terminal phase may move to Cancelled or Error.
var transitions = map[Phase][]Phase{
	PhaseIdle:             {PhaseClarifying},
	PhaseClarifying:       {PhaseClarifying, PhasePlanning},
	PhasePlanning:         {PhaseAwaitingApproval},
	PhaseAwaitingApproval: {PhaseExecuting, PhaseIdle, PhaseClarifying},
	PhaseExecuting:        {PhaseAggregating},
	PhaseAggregating:      {PhaseCompleted},
}

func canTransition(from, to Phase) bool {
	if to == PhaseCancelled || to == PhaseError {
		return !from.Terminal()
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Machine guards the orchestrator phase. Transitions that are not in the
// table fail with InvalidTransitionError and leave the phase untouched.
type Machine struct {
	mu    sync.RWMutex
	phase Phase
}

// NewMachine creates a machine in the Idle phase.
func NewMachine() *Machine {
	return &Machine{phase: PhaseIdle}
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.phase
}

// Transition moves the machine to the given phase, or rejects the move.
func (m *Machine) Transition(to Phase, op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !canTransition(m.phase, to) {
		return &InvalidTransitionError{From: m.phase, To: to, Op: op}
	}
	m.phase = to
	return nil
}

// Require rejects the operation unless the machine is in the wanted phase.
func (m *Machine) Require(want Phase, op string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.phase != want {
		return &InvalidTransitionError{From: m.phase, Op: op}
	}
	return nil
}
