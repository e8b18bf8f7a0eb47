package models

import "time"

// Decision reasons for the stable cases. Cascade skips carry a dynamic
// "dependency_failed:<id>" reason instead.
const (
	// ReasonDispatched records a unit handed to the pool.
	ReasonDispatched = "dispatched"
	// ReasonStarted records a worker picking the unit up.
	ReasonStarted = "started"
	// ReasonSucceeded records a successful execution.
	ReasonSucceeded = "succeeded"
	// ReasonRetriesExhausted records a unit that failed on its final attempt.
	ReasonRetriesExhausted = "retries_exhausted"
	// ReasonCancelled records a unit terminated by cancellation.
	ReasonCancelled = "cancelled"
)

// SchedulingDecision records one unit status change: which unit moved, from
// where to where, why, and when. Decisions are append-only and immutable
// after emission; the audit journal and event stream consume them.
type SchedulingDecision struct {
	// UnitID is the unit whose status changed.
	UnitID string `json:"unit_id"`
	// From is the status before the change.
	From UnitStatus `json:"from"`
	// To is the status after the change.
	To UnitStatus `json:"to"`
	// Reason explains the change.
	Reason string `json:"reason"`
	// At is when the change happened.
	At time.Time `json:"at"`
}
