package orchestrator

import "sync"

// PauseController gates dispatch. While paused the control loop keeps
// draining completions but stops handing ready units to the pool; Resume
// nudges the loop so dispatch picks up where it left off.
type PauseController struct {
	mu     sync.RWMutex
	paused bool
	resume chan struct{}
}

// NewPauseController creates an unpaused controller.
func NewPauseController() *PauseController {
	return &PauseController{
		resume: make(chan struct{}, 1),
	}
}

// Pause stops new dispatch. Units already running are unaffected.
func (pc *PauseController) Pause() {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.paused = true
}

// Resume re-enables dispatch and wakes the control loop.
func (pc *PauseController) Resume() {
	pc.mu.Lock()
	wasPaused := pc.paused
	pc.paused = false
	pc.mu.Unlock()
	if !wasPaused {
		return
	}
	select {
	case pc.resume <- struct{}{}:
	default:
	}
}

// IsPaused reports whether dispatch is currently gated.
func (pc *PauseController) IsPaused() bool {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return pc.paused
}

// Resumed returns a channel that receives a nudge when Resume is called
// after a pause. The control loop selects on it alongside pool events.
func (pc *PauseController) Resumed() <-chan struct{} {
	return pc.resume
}
