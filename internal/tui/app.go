package tui

import (
	"time"
)

// Controller is the slice of the orchestrator the TUI drives. Calls are
// made from the bubbletea update loop and must not block.
type Controller interface {
	Approve() error
	Reject(reason string) error
	RequestChanges(feedback string) error
	Answer(answers []string) error
	Inject(instruction string) error
	Pause()
	Resume()
	Cancel() error
}

// UnitInfo is the renderable slice of a planned unit.
type UnitInfo struct {
	ID        string
	Title     string
	Role      string
	Priority  int
	DependsOn []string
}

// OrchestratorEventMsg wraps an orchestrator event for the TUI.
type OrchestratorEventMsg struct {
	Type       string
	Phase      string
	UnitID     string
	UnitTitle  string
	Message    string
	Error      string
	Timestamp  time.Time
	Attempt    int
	Questions  []string
	Task       string
	Units      []UnitInfo
	TokensUsed int64
	Cost       float64
	Duration   time.Duration
}

// SessionDoneMsg signals that the run has completed.
type SessionDoneMsg struct {
	Success bool
	Message string
}

// DebugLogMsg is sent to add a debug message to the logs.
type DebugLogMsg struct {
	Message string
}
