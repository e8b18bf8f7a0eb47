package orchestrator

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kmorand/ensemble/pkg/models"
)

// EventType identifies a kind of orchestrator event.
type EventType string

const (
	// EventPhaseChanged fires on every phase transition.
	EventPhaseChanged EventType = "phase_changed"
	// EventQuestions carries clarifying questions that need answers.
	EventQuestions EventType = "questions"
	// EventPlanReady carries the validated plan awaiting approval.
	EventPlanReady EventType = "plan_ready"
	// EventUnitQueued fires when a unit's dependencies are satisfied and it
	// is handed to the pool.
	EventUnitQueued EventType = "unit_queued"
	// EventUnitStarted fires when a unit begins an attempt on a worker.
	EventUnitStarted EventType = "unit_started"
	// EventUnitProgress carries streamed output from a running unit.
	EventUnitProgress EventType = "unit_progress"
	// EventUnitRetrying fires when a failed attempt will be retried.
	EventUnitRetrying EventType = "unit_retrying"
	// EventUnitSucceeded fires when a unit completes successfully.
	EventUnitSucceeded EventType = "unit_succeeded"
	// EventUnitAborted fires when a unit fails permanently or is cancelled.
	EventUnitAborted EventType = "unit_aborted"
	// EventUnitSkipped fires when a unit is skipped because a dependency
	// did not succeed.
	EventUnitSkipped EventType = "unit_skipped"
	// EventInstructionQueued fires when an injected instruction is accepted.
	EventInstructionQueued EventType = "instruction_queued"
	// EventInstructionAbsorbed fires when queued instructions are folded
	// into the prompts of units that have not been dispatched yet.
	EventInstructionAbsorbed EventType = "instruction_absorbed"
	// EventRunCompleted fires once, after the report is built.
	EventRunCompleted EventType = "run_completed"
)

// UnitView is a read-only copy of the unit fields consumers need to render
// a plan. Events carry views instead of live units so consumers never read
// state the control loop is still mutating.
type UnitView struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Role      string   `json:"role,omitempty"`
	Priority  int      `json:"priority"`
	DependsOn []string `json:"depends_on,omitempty"`
}

// Event is a single entry on the orchestrator's event stream.
type Event struct {
	Type      EventType `json:"type"`
	Phase     Phase     `json:"phase"`
	Timestamp time.Time `json:"timestamp"`

	// UnitID and UnitTitle identify the unit for unit-scoped events.
	UnitID    string `json:"unit_id,omitempty"`
	UnitTitle string `json:"unit_title,omitempty"`

	// Message is free-form human-readable detail.
	Message string `json:"message,omitempty"`
	// Err carries the failure description for aborted or retrying units.
	Err string `json:"error,omitempty"`
	// Attempt is the 1-based attempt number for started and retrying events.
	Attempt int `json:"attempt,omitempty"`

	// Questions is set on EventQuestions.
	Questions []string `json:"questions,omitempty"`
	// Task and Units are set on EventPlanReady.
	Task  string     `json:"task,omitempty"`
	Units []UnitView `json:"units,omitempty"`

	// TokensUsed, Cost, and Duration are set on unit completion events.
	TokensUsed int64         `json:"tokens_used,omitempty"`
	Cost       float64       `json:"cost,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
}

// unitViews copies the renderable fields out of a plan's units.
func unitViews(p *models.Plan) []UnitView {
	views := make([]UnitView, 0, len(p.Units))
	for _, u := range p.Units {
		views = append(views, UnitView{
			ID:        u.ID,
			Title:     u.Title,
			Role:      u.Role,
			Priority:  u.Priority,
			DependsOn: append([]string(nil), u.DependsOn...),
		})
	}
	return views
}

const (
	emitterBuffer = 100
	emitTimeout   = 100 * time.Millisecond
)

// EventEmitter fans orchestrator events out to a single consumer over a
// buffered channel. Emitting never blocks the control loop for longer than
// emitTimeout; events that cannot be delivered in time are dropped and
// counted.
type EventEmitter struct {
	events    chan Event
	dropped   atomic.Int64
	closeOnce sync.Once
	closed    chan struct{}
}

// NewEventEmitter creates an emitter with the default buffer.
func NewEventEmitter() *EventEmitter {
	return &EventEmitter{
		events: make(chan Event, emitterBuffer),
		closed: make(chan struct{}),
	}
}

// Emit delivers an event to the consumer. It tries a non-blocking send
// first, then waits up to emitTimeout before dropping the event.
func (e *EventEmitter) Emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	select {
	case <-e.closed:
		return
	default:
	}
	select {
	case e.events <- ev:
		return
	default:
	}
	timer := time.NewTimer(emitTimeout)
	defer timer.Stop()
	select {
	case e.events <- ev:
	case <-e.closed:
	case <-timer.C:
		n := e.dropped.Add(1)
		if n == 1 || n%10 == 0 {
			log.Printf("[orchestrator] event stream backed up, dropped %d events (latest: %s)", n, ev.Type)
		}
	}
}

// Events returns the stream for consumers to range over. The channel is
// closed by Close.
func (e *EventEmitter) Events() <-chan Event {
	return e.events
}

// Dropped returns how many events were discarded because the consumer was
// not keeping up.
func (e *EventEmitter) Dropped() int64 {
	return e.dropped.Load()
}

// Close shuts the stream down. Emit calls after Close are discarded.
func (e *EventEmitter) Close() {
	e.closeOnce.Do(func() {
		close(e.closed)
		close(e.events)
	})
}
