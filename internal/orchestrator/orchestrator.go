package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/kmorand/ensemble/internal/aggregate"
	"github.com/kmorand/ensemble/internal/backend"
	"github.com/kmorand/ensemble/internal/plan"
	"github.com/kmorand/ensemble/internal/workspace"
	"github.com/kmorand/ensemble/pkg/models"
)

// ErrPlanRejected is returned by Run when the operator rejects the plan.
// The orchestrator returns to Idle and can accept a new submission.
var ErrPlanRejected = errors.New("plan rejected")

// ErrRunCancelled is returned by Run when the run was cancelled. The
// partial report is still returned alongside it.
var ErrRunCancelled = errors.New("run cancelled")

// instructionQueueSize bounds how many injected instructions may wait for
// the next scheduling boundary.
const instructionQueueSize = 64

// Orchestrator drives one task from submission to report. Construct it
// with New, subscribe to Events, then call Run.
type Orchestrator struct {
	planner   plan.Planner
	backend   backend.Backend
	workspace workspace.Strategy
	opts      *orchestratorOptions

	machine *Machine
	emitter *EventEmitter
	pause   *PauseController

	approvals    chan approvalDecision
	answers      chan []string
	instructions chan string

	mu        sync.Mutex
	runCancel context.CancelFunc
	plan      *models.Plan
	report    *aggregate.Report
}

// New builds an orchestrator from the required configuration and options.
func New(req RequiredConfig, options ...Option) (*Orchestrator, error) {
	if req.Planner == nil {
		return nil, fmt.Errorf("orchestrator requires a planner")
	}
	if req.Backend == nil {
		return nil, fmt.Errorf("orchestrator requires a backend")
	}
	if req.Workspace == nil {
		return nil, fmt.Errorf("orchestrator requires a workspace strategy")
	}

	opts := defaultOptions()
	for _, opt := range options {
		opt(opts)
	}

	return &Orchestrator{
		planner:      req.Planner,
		backend:      req.Backend,
		workspace:    req.Workspace,
		opts:         opts,
		machine:      NewMachine(),
		emitter:      NewEventEmitter(),
		pause:        opts.pause,
		approvals:    make(chan approvalDecision, 1),
		answers:      make(chan []string, 1),
		instructions: make(chan string, instructionQueueSize),
	}, nil
}

// Phase returns the current lifecycle phase.
func (o *Orchestrator) Phase() Phase {
	return o.machine.Phase()
}

// Events returns the orchestrator's event stream. Subscribe before calling
// Run; the stream is closed by Close.
func (o *Orchestrator) Events() <-chan Event {
	return o.emitter.Events()
}

// Plan returns the current plan. It is set once planning succeeds and is
// stable while the orchestrator waits for approval; during execution the
// control loop keeps mutating unit state, so consumers should render from
// events instead.
func (o *Orchestrator) Plan() *models.Plan {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.plan
}

// Report returns the final report, or nil before the run finishes.
func (o *Orchestrator) Report() *aggregate.Report {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.report
}

// Answer supplies answers to the planner's clarifying questions.
func (o *Orchestrator) Answer(answers []string) error {
	if err := o.machine.Require(PhaseClarifying, "answer"); err != nil {
		return err
	}
	select {
	case o.answers <- answers:
		return nil
	default:
		return fmt.Errorf("answers are already pending")
	}
}

// Inject queues an instruction for absorption at the next scheduling
// boundary. It applies to units that have not been dispatched yet; prompts
// already handed to workers are never mutated. Inject never blocks.
func (o *Orchestrator) Inject(instruction string) error {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return fmt.Errorf("instruction is empty")
	}
	if err := o.machine.Require(PhaseExecuting, "inject"); err != nil {
		return err
	}
	select {
	case o.instructions <- instruction:
		o.emitter.Emit(Event{Type: EventInstructionQueued, Phase: PhaseExecuting, Message: instruction})
		return nil
	default:
		return fmt.Errorf("instruction queue is full")
	}
}

// Pause gates dispatch of further units. Running units are unaffected.
func (o *Orchestrator) Pause() {
	o.pause.Pause()
}

// Resume lifts a pause.
func (o *Orchestrator) Resume() {
	o.pause.Resume()
}

// Cancel requests cooperative cancellation of the current run. Pending and
// queued units are aborted immediately, running units are interrupted, and
// Run returns ErrRunCancelled with a partial report. Cancelling an already
// cancelled run is a no-op; cancelling a completed or failed run is an
// invalid transition.
func (o *Orchestrator) Cancel() error {
	phase := o.machine.Phase()
	if phase == PhaseCancelled {
		return nil
	}
	if phase.Terminal() {
		return &InvalidTransitionError{From: phase, To: PhaseCancelled, Op: "cancel"}
	}

	o.mu.Lock()
	cancel := o.runCancel
	o.mu.Unlock()

	if cancel == nil {
		// No run in flight; move straight to the terminal phase.
		if err := o.machine.Transition(PhaseCancelled, "cancel"); err != nil {
			return err
		}
		o.emitPhase()
		return nil
	}
	cancel()
	return nil
}

// Close releases the event stream. Call it after Run has returned and the
// consumer is done draining events.
func (o *Orchestrator) Close() {
	o.emitter.Close()
}

func (o *Orchestrator) setRunCancel(fn context.CancelFunc) {
	o.mu.Lock()
	o.runCancel = fn
	o.mu.Unlock()
}

func (o *Orchestrator) setPlan(p *models.Plan) {
	o.mu.Lock()
	o.plan = p
	o.mu.Unlock()
}

func (o *Orchestrator) setReport(r *aggregate.Report) {
	o.mu.Lock()
	o.report = r
	o.mu.Unlock()
}

func (o *Orchestrator) emitPhase() {
	o.emitter.Emit(Event{Type: EventPhaseChanged, Phase: o.machine.Phase()})
}

// fail moves the run to the Error phase and passes the fault through.
func (o *Orchestrator) fail(err error) error {
	if terr := o.machine.Transition(PhaseError, "fault"); terr == nil {
		o.emitter.Emit(Event{Type: EventPhaseChanged, Phase: PhaseError, Err: err.Error()})
	}
	return err
}

// cancelled moves the run to the Cancelled phase.
func (o *Orchestrator) cancelled() error {
	if terr := o.machine.Transition(PhaseCancelled, "cancel"); terr == nil {
		o.emitPhase()
	}
	return ErrRunCancelled
}
