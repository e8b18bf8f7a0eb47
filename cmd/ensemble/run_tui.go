package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kmorand/ensemble/internal/aggregate"
	"github.com/kmorand/ensemble/internal/orchestrator"
	"github.com/kmorand/ensemble/internal/state"
	"github.com/kmorand/ensemble/internal/tui"
)

type runOutcome struct {
	report *aggregate.Report
	err    error
}

// runWithTUI runs the orchestrator with the interactive TUI.
func runWithTUI(ctx context.Context, orch *orchestrator.Orchestrator, task string, rec *state.Recorder) (rep *aggregate.Report, retErr error) {
	verbose := os.Getenv("ENSEMBLE_DEBUG") != ""

	// Suppress log output while the TUI is active (it corrupts the display)
	originalOutput := log.Writer()
	log.SetOutput(io.Discard)
	defer log.SetOutput(originalOutput)

	// Recover from panics
	defer func() {
		if r := recover(); r != nil {
			retErr = fmt.Errorf("PANIC in runWithTUI: %v", r)
		}
	}()

	program, app := tui.NewPanelProgram(orch)
	app.SetTask(task)

	// Forward orchestrator events into the program
	go forwardEventsToTUI(program, orch, rec)

	// Start orchestrator in background
	orchDone := make(chan runOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				orchDone <- runOutcome{err: fmt.Errorf("PANIC in orchestrator: %v", r)}
			}
		}()
		r, err := orch.Run(ctx, task)
		orchDone <- runOutcome{report: r, err: err}
	}()

	tuiDone := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				tuiDone <- fmt.Errorf("PANIC in TUI: %v", r)
			}
		}()
		_, err := program.Run()
		tuiDone <- err
	}()

	debugLog := func(msg string) {
		if verbose {
			program.Send(tui.DebugLogMsg{Message: msg})
		}
	}
	debugLog("TUI started, waiting for completion...")

	select {
	case outcome := <-orchDone:
		debugLog(fmt.Sprintf("Orchestrator done, err=%v", outcome.err))
		msg := "Run completed"
		if outcome.report != nil {
			msg = outcome.report.Headline()
		}
		if outcome.err != nil {
			program.Send(tui.SessionDoneMsg{Success: false, Message: outcome.err.Error()})
		} else {
			program.Send(tui.SessionDoneMsg{Success: true, Message: msg})
		}
		// Wait for the operator to quit the TUI so they can see the result
		<-tuiDone
		return outcome.report, outcome.err

	case err := <-tuiDone:
		// TUI closed first: cancel the run and wait for it to unwind
		if cErr := orch.Cancel(); cErr != nil && verbose {
			fmt.Printf("[DEBUG] cancel after TUI exit: %v\n", cErr)
		}
		outcome := <-orchDone
		if err != nil {
			return outcome.report, err
		}
		return outcome.report, outcome.err
	}
}

// forwardEventsToTUI converts orchestrator events to TUI messages.
func forwardEventsToTUI(program *tea.Program, orch *orchestrator.Orchestrator, rec *state.Recorder) {
	for ev := range orch.Events() {
		maybeAttachPlan(rec, orch, ev)

		msg := tui.OrchestratorEventMsg{
			Type:       string(ev.Type),
			Phase:      string(ev.Phase),
			UnitID:     ev.UnitID,
			UnitTitle:  ev.UnitTitle,
			Message:    ev.Message,
			Error:      ev.Err,
			Timestamp:  ev.Timestamp,
			Attempt:    ev.Attempt,
			Questions:  ev.Questions,
			Task:       ev.Task,
			TokensUsed: ev.TokensUsed,
			Cost:       ev.Cost,
			Duration:   ev.Duration,
		}
		for _, u := range ev.Units {
			msg.Units = append(msg.Units, tui.UnitInfo{
				ID:        u.ID,
				Title:     u.Title,
				Role:      u.Role,
				Priority:  u.Priority,
				DependsOn: u.DependsOn,
			})
		}
		program.Send(msg)
	}
}
