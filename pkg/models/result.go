package models

import "time"

// ErrorClass categorizes a failure for retry and reporting decisions.
type ErrorClass string

const (
	// ErrorClassCyclicDependency marks a plan whose dependency graph
	// contains a cycle. Structural, never retried.
	ErrorClassCyclicDependency ErrorClass = "cyclic_dependency"
	// ErrorClassUnknownDependency marks an edge referencing a unit that does
	// not exist in the plan. Structural, never retried.
	ErrorClassUnknownDependency ErrorClass = "unknown_dependency"
	// ErrorClassTimeout marks an execution that exceeded its per-unit timeout.
	ErrorClassTimeout ErrorClass = "timeout"
	// ErrorClassBackendUnavailable marks a backend that could not be reached
	// or refused to open a session.
	ErrorClassBackendUnavailable ErrorClass = "backend_unavailable"
	// ErrorClassBackendError marks a backend call that failed mid-execution.
	ErrorClassBackendError ErrorClass = "backend_error"
	// ErrorClassInvalidTransition marks a caller action not legal in the
	// current orchestrator state. Rejected with no side effect.
	ErrorClassInvalidTransition ErrorClass = "invalid_transition"
	// ErrorClassCancelled marks a user-initiated cancellation. Always wins
	// over pending retries.
	ErrorClassCancelled ErrorClass = "cancelled"
)

// Retryable returns true if failures of this class are eligible for retry
// under the pool's retry policy.
func (c ErrorClass) Retryable() bool {
	switch c {
	case ErrorClassTimeout, ErrorClassBackendUnavailable, ErrorClassBackendError:
		return true
	default:
		return false
	}
}

// ExecutionResult is the structured outcome of one work unit execution.
// The output payload is opaque to the scheduler.
type ExecutionResult struct {
	// UnitID is the unit this result belongs to.
	UnitID string `json:"unit_id"`
	// Success indicates whether the execution completed successfully.
	Success bool `json:"success"`
	// Output is the collected backend output.
	Output string `json:"output,omitempty"`
	// Error contains the failure message if the execution failed.
	Error string `json:"error,omitempty"`
	// Class categorizes the failure if the execution failed.
	Class ErrorClass `json:"class,omitempty"`
	// Duration is how long the execution took.
	Duration time.Duration `json:"duration"`
	// TokensUsed is the number of backend tokens consumed.
	TokensUsed int64 `json:"tokens_used,omitempty"`
	// Cost is the estimated backend cost in dollars.
	Cost float64 `json:"cost,omitempty"`
	// Attempt is the 1-based attempt number that produced this result.
	Attempt int `json:"attempt,omitempty"`
	// WorkspacePath is the isolated workspace the unit executed in.
	WorkspacePath string `json:"workspace_path,omitempty"`
	// FilesChanged lists the paths the unit modified in its workspace, when
	// the workspace strategy can tell.
	FilesChanged []string `json:"files_changed,omitempty"`
	// Model is the backend model that served the execution, if known.
	Model string `json:"model,omitempty"`
}
