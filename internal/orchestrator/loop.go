package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kmorand/ensemble/internal/aggregate"
	"github.com/kmorand/ensemble/internal/pool"
	"github.com/kmorand/ensemble/internal/scheduler"
	"github.com/kmorand/ensemble/internal/worker"
	"github.com/kmorand/ensemble/pkg/models"
)

// Run drives a task through the full lifecycle: clarify, plan, approval,
// execution, aggregation. It blocks until the run reaches a terminal phase
// and returns the report. On cancellation the partial report is returned
// together with ErrRunCancelled.
//
// Run owns all plan and unit state while it executes. Everything else,
// approval decisions, answers, injected instructions, cancellation, reaches
// the loop through channels and takes effect at well-defined points.
func (o *Orchestrator) Run(ctx context.Context, task string) (*aggregate.Report, error) {
	task = strings.TrimSpace(task)
	if task == "" {
		return nil, fmt.Errorf("task is empty")
	}
	if err := o.machine.Transition(PhaseClarifying, "submit"); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.setRunCancel(cancel)
	defer o.setRunCancel(nil)

	o.emitPhase()

	p, err := o.preparePlan(runCtx, task)
	if err != nil {
		return nil, err
	}

	if err := o.machine.Transition(PhaseExecuting, "approve"); err != nil {
		return nil, err
	}
	o.emitPhase()

	absorbed, execErr := o.executePlan(runCtx, p)
	if execErr != nil && !errors.Is(execErr, ErrRunCancelled) {
		return nil, o.fail(execErr)
	}

	report, aggErr := o.opts.aggregator.Aggregate(p)
	if aggErr != nil {
		return nil, o.fail(fmt.Errorf("aggregation failed: %w", aggErr))
	}
	report.Instructions = absorbed
	o.setReport(report)

	if execErr != nil {
		o.cancelled()
		o.emitter.Emit(Event{
			Type:       EventRunCompleted,
			Phase:      PhaseCancelled,
			Message:    "run cancelled, partial results collected",
			TokensUsed: report.TotalTokens,
			Cost:       report.TotalCost,
			Duration:   report.Duration,
		})
		return report, ErrRunCancelled
	}

	if err := o.machine.Transition(PhaseAggregating, "aggregate"); err != nil {
		return nil, err
	}
	o.emitPhase()
	if err := o.machine.Transition(PhaseCompleted, "complete"); err != nil {
		return nil, err
	}
	o.emitPhase()
	o.emitter.Emit(Event{
		Type:       EventRunCompleted,
		Phase:      PhaseCompleted,
		Message:    report.Headline(),
		TokensUsed: report.TotalTokens,
		Cost:       report.TotalCost,
		Duration:   report.Duration,
	})
	return report, nil
}

// preparePlan loops through clarification, planning, and approval until a
// plan is approved or the attempt ends in rejection, fault, or cancel.
func (o *Orchestrator) preparePlan(ctx context.Context, task string) (*models.Plan, error) {
	var answers []string

	for {
		// Clarify until the planner has no open questions.
		for {
			questions, err := o.planner.Clarify(ctx, task, answers)
			if err != nil {
				if ctx.Err() != nil {
					return nil, o.cancelled()
				}
				return nil, o.fail(fmt.Errorf("clarification failed: %w", err))
			}
			if len(questions) == 0 {
				break
			}
			o.emitter.Emit(Event{Type: EventQuestions, Phase: PhaseClarifying, Questions: questions})
			select {
			case more := <-o.answers:
				answers = append(answers, more...)
			case <-ctx.Done():
				return nil, o.cancelled()
			}
		}

		if err := o.machine.Transition(PhasePlanning, "plan"); err != nil {
			return nil, err
		}
		o.emitPhase()

		p, err := o.planner.Plan(ctx, task, answers)
		if err != nil {
			if ctx.Err() != nil {
				return nil, o.cancelled()
			}
			return nil, o.fail(fmt.Errorf("planning failed: %w", err))
		}
		if err := scheduler.Validate(p); err != nil {
			return nil, o.fail(fmt.Errorf("plan validation failed: %w", err))
		}
		o.setPlan(p)

		if err := o.machine.Transition(PhaseAwaitingApproval, "plan_ready"); err != nil {
			return nil, err
		}
		o.emitPhase()
		o.emitter.Emit(Event{
			Type:  EventPlanReady,
			Phase: PhaseAwaitingApproval,
			Task:  p.Task,
			Units: unitViews(p),
		})

		if o.opts.autoApprove {
			return p, nil
		}

		select {
		case d := <-o.approvals:
			switch d.kind {
			case approvalApprove:
				return p, nil
			case approvalReject:
				if err := o.machine.Transition(PhaseIdle, "reject"); err != nil {
					return nil, err
				}
				o.emitPhase()
				if d.reason != "" {
					return nil, fmt.Errorf("%w: %s", ErrPlanRejected, d.reason)
				}
				return nil, ErrPlanRejected
			case approvalChanges:
				if err := o.machine.Transition(PhaseClarifying, "request_changes"); err != nil {
					return nil, err
				}
				o.emitPhase()
				answers = append(answers, "Revision requested: "+d.reason)
			}
		case <-ctx.Done():
			return nil, o.cancelled()
		}
	}
}

// executePlan runs the approved plan to completion. It is the single writer
// of unit state: pool goroutines report through one ordered event channel
// and the loop applies every transition itself. Returns the instructions
// absorbed along the way, and ErrRunCancelled if the run was cancelled.
func (o *Orchestrator) executePlan(ctx context.Context, p *models.Plan) ([]string, error) {
	sched, err := scheduler.New(p)
	if err != nil {
		return nil, err
	}
	sched.OnDecision(o.decisionFanout(p))

	w := worker.New(worker.Config{
		Backend:   o.backend,
		Workspace: o.workspace,
		Timeout:   o.opts.unitTimeout,
		OnProgress: func(unitID, text string) {
			o.emitter.Emit(Event{Type: EventUnitProgress, Phase: PhaseExecuting, UnitID: unitID, Message: text})
		},
	})
	pl := pool.New(ctx, pool.Config{
		Workers:    o.opts.workers,
		RetryDelay: o.opts.retryDelay,
		Runner:     w,
	})

	// Instructions absorbed so far; they apply to every unit dispatched
	// after absorption.
	var instructions []string

	absorb := func() {
		added := 0
		for {
			select {
			case ins := <-o.instructions:
				instructions = append(instructions, ins)
				added++
			default:
				if added > 0 {
					o.emitter.Emit(Event{
						Type:    EventInstructionAbsorbed,
						Phase:   PhaseExecuting,
						Message: fmt.Sprintf("%d instruction(s) applied to upcoming units", added),
					})
				}
				return
			}
		}
	}

	dispatch := func() {
		if o.pause.IsPaused() {
			return
		}
		absorb()
		for _, u := range sched.Ready() {
			if len(instructions) > 0 {
				u.Prompt = appendInstructions(u.Prompt, instructions)
			}
			sched.MarkQueued(u.ID)
			pl.Dispatch(u)
		}
	}

	dispatch()

	done := ctx.Done()
	cancelling := false
	for !sched.AllTerminal() {
		select {
		case <-done:
			// Abort everything not yet dispatched, then interrupt the
			// pool. The loop keeps draining until every unit settles.
			done = nil
			cancelling = true
			for _, u := range p.Units {
				sched.MarkCancelled(u.ID)
			}
			pl.CancelAll()
		case <-o.pause.Resumed():
			dispatch()
		case ev := <-pl.Events():
			o.applyPoolEvent(sched, p, ev)
			if ev.Kind == pool.EventCompleted && !cancelling {
				dispatch()
			}
		}
	}
	pl.Wait()

	if cancelling || ctx.Err() != nil {
		return instructions, ErrRunCancelled
	}
	return instructions, nil
}

// applyPoolEvent folds one pool event into scheduler state.
func (o *Orchestrator) applyPoolEvent(sched *scheduler.Scheduler, p *models.Plan, ev pool.Event) {
	switch ev.Kind {
	case pool.EventStarted:
		if ev.Attempt == 1 {
			sched.MarkRunning(ev.UnitID)
		}
		o.emitter.Emit(Event{
			Type:      EventUnitStarted,
			Phase:     PhaseExecuting,
			UnitID:    ev.UnitID,
			UnitTitle: unitTitle(p, ev.UnitID),
			Attempt:   ev.Attempt,
		})
	case pool.EventRetrying:
		sched.AddRetry(ev.UnitID)
		retryErr := ""
		if ev.Result != nil {
			retryErr = ev.Result.Error
		}
		o.emitter.Emit(Event{
			Type:      EventUnitRetrying,
			Phase:     PhaseExecuting,
			UnitID:    ev.UnitID,
			UnitTitle: unitTitle(p, ev.UnitID),
			Attempt:   ev.Attempt,
			Err:       retryErr,
		})
	case pool.EventCompleted:
		if ev.Result != nil && ev.Result.Success {
			sched.MarkSucceeded(ev.UnitID, ev.Result)
			return
		}
		reason := models.ReasonRetriesExhausted
		if ev.Result != nil && ev.Result.Class == models.ErrorClassCancelled {
			reason = models.ReasonCancelled
		}
		sched.MarkAborted(ev.UnitID, reason, ev.Result)
	}
}

// decisionFanout turns scheduling decisions into events and forwards them
// to the configured sink. It runs in the control loop's goroutine.
func (o *Orchestrator) decisionFanout(p *models.Plan) func(models.SchedulingDecision) {
	return func(d models.SchedulingDecision) {
		if o.opts.decisionSink != nil {
			o.opts.decisionSink(d)
		}

		u := p.UnitByID(d.UnitID)
		ev := Event{Phase: PhaseExecuting, UnitID: d.UnitID, Timestamp: d.At}
		if u != nil {
			ev.UnitTitle = u.Title
		}
		switch d.To {
		case models.UnitStatusQueued:
			ev.Type = EventUnitQueued
		case models.UnitStatusSucceeded:
			ev.Type = EventUnitSucceeded
			if u != nil && u.Result != nil {
				ev.TokensUsed = u.Result.TokensUsed
				ev.Cost = u.Result.Cost
				ev.Duration = u.Result.Duration
			}
		case models.UnitStatusAborted:
			ev.Type = EventUnitAborted
			ev.Message = d.Reason
			if u != nil {
				ev.Err = u.Error
			}
		case models.UnitStatusSkipped:
			ev.Type = EventUnitSkipped
			ev.Message = d.Reason
		default:
			// Running transitions are reported as started events with the
			// attempt number attached.
			return
		}
		o.emitter.Emit(ev)
	}
}

func unitTitle(p *models.Plan, id string) string {
	if u := p.UnitByID(id); u != nil {
		return u.Title
	}
	return ""
}

// appendInstructions folds absorbed operator instructions into a prompt.
func appendInstructions(prompt string, instructions []string) string {
	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n\nAdditional instructions from the operator:\n")
	for _, ins := range instructions {
		b.WriteString("- ")
		b.WriteString(ins)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
