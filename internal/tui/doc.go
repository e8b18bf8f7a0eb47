// Package tui provides the terminal user interface for ensemble runs.
//
// The TUI renders the orchestrator's event stream in four regions: a
// status header (phase, task, token totals), a units panel showing every
// planned unit with its status, a scrollable log panel that aggregates
// streamed unit output into one live line per unit, and an input line for
// clarification answers, plan change requests, and injected instructions.
//
// The package never talks to the orchestrator directly. The command layer
// converts orchestrator events into messages and sends them into the
// program; the app drives the run through the Controller interface.
//
// Usage:
//
//	program, app := tui.NewPanelProgram(orch)
//	app.SetTask(task)
//	go program.Run()
//
//	// Forward orchestrator events
//	program.Send(tui.OrchestratorEventMsg{Type: "unit_started", ...})
//
//	// Signal completion
//	program.Send(tui.SessionDoneMsg{Success: true, Message: headline})
//
// Key bindings are phase-sensitive: during approval a/n/e decide the plan,
// during execution i injects an instruction, p pauses dispatch, and c
// cancels the run. Tab moves focus between the units and log panels.
package tui
