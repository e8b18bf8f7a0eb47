package models

import "time"

// UnitStatus represents the current state of a work unit.
type UnitStatus string

const (
	// UnitStatusPending indicates the unit has not been dispatched yet.
	UnitStatusPending UnitStatus = "pending"
	// UnitStatusQueued indicates the unit was handed to the pool and is
	// waiting for a free permit.
	UnitStatusQueued UnitStatus = "queued"
	// UnitStatusRunning indicates a worker is executing the unit.
	UnitStatusRunning UnitStatus = "running"
	// UnitStatusSucceeded indicates the unit completed successfully.
	UnitStatusSucceeded UnitStatus = "succeeded"
	// UnitStatusAborted indicates the unit failed after exhausting retries,
	// or was cancelled before completing.
	UnitStatusAborted UnitStatus = "aborted"
	// UnitStatusSkipped indicates the unit never ran because a dependency
	// aborted or was itself skipped.
	UnitStatusSkipped UnitStatus = "skipped"
)

// Valid returns true if the status is a known value.
func (s UnitStatus) Valid() bool {
	switch s {
	case UnitStatusPending, UnitStatusQueued, UnitStatusRunning,
		UnitStatusSucceeded, UnitStatusAborted, UnitStatusSkipped:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status is final. Terminal statuses are sticky:
// once a unit reaches one it never changes again.
func (s UnitStatus) Terminal() bool {
	switch s {
	case UnitStatusSucceeded, UnitStatusAborted, UnitStatusSkipped:
		return true
	default:
		return false
	}
}

// WorkUnit is one schedulable piece of a plan.
type WorkUnit struct {
	// ID is the unique identifier for this unit within its plan.
	ID string `json:"id"`
	// Title is the short description of the unit.
	Title string `json:"title"`
	// Prompt is the full instruction sent to the execution backend.
	Prompt string `json:"prompt"`
	// Role tags the kind of worker the unit wants (e.g. "builder", "reviewer").
	Role string `json:"role,omitempty"`
	// Priority orders ready units at dispatch time; higher runs first.
	Priority int `json:"priority,omitempty"`
	// DependsOn lists unit IDs that must succeed before this unit runs.
	DependsOn []string `json:"depends_on,omitempty"`
	// Status is the current lifecycle state of the unit.
	Status UnitStatus `json:"status"`
	// RetryCount is the number of retries consumed so far.
	RetryCount int `json:"retry_count,omitempty"`
	// MaxRetries is the retry budget for this unit.
	MaxRetries int `json:"max_retries,omitempty"`
	// Result holds the execution outcome once the unit is terminal.
	Result *ExecutionResult `json:"result,omitempty"`
	// Error contains the failure or skip reason, if any.
	Error string `json:"error,omitempty"`
	// CreatedAt is when the unit was added to the plan.
	CreatedAt time.Time `json:"created_at"`
	// QueuedAt is when the unit was handed to the pool.
	QueuedAt *time.Time `json:"queued_at,omitempty"`
	// StartedAt is when a worker began executing the unit.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// FinishedAt is when the unit reached a terminal status.
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
