package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/kmorand/ensemble/pkg/models"
)

// Panel indices.
const (
	PanelUnits = 0
	PanelLogs  = 1
)

// PanelApp is the main bubbletea model for the run TUI. It renders the
// orchestrator's event stream and drives it through the Controller.
type PanelApp struct {
	ctrl Controller

	// Panels
	header     *Header
	unitsPanel *UnitsPanel
	logsPanel  *LogsPanel
	input      *InputField
	footer     *Footer

	// State
	phase           string
	focusedPanel    int
	inputFocused    bool
	paused          bool
	cancelRequested bool
	width           int
	height          int
	quitting        bool
	sessionDone     bool
	sessionSuccess  bool
	sessionMessage  string

	// Clarification state: questions awaiting answers, answers collected
	// so far.
	questions []string
	answers   []string

	// Data
	units []*UnitRow
}

// NewPanelApp creates a new PanelApp driving the given controller.
func NewPanelApp(ctrl Controller) *PanelApp {
	return &PanelApp{
		ctrl:         ctrl,
		header:       NewHeader(),
		unitsPanel:   NewUnitsPanel(),
		logsPanel:    NewLogsPanel(),
		input:        NewInputField(),
		footer:       NewFooter(),
		phase:        "idle",
		focusedPanel: PanelUnits,
		units:        make([]*UnitRow, 0),
	}
}

// SetTask sets the task shown in the header. Call before the program runs.
func (a *PanelApp) SetTask(task string) {
	a.header.SetTask(task)
}

// Init implements tea.Model.
func (a *PanelApp) Init() tea.Cmd {
	return a.header.TickCmd()
}

// Update implements tea.Model.
func (a *PanelApp) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		// While the input line has focus it captures everything except
		// escape and interrupt.
		if a.inputFocused {
			switch msg.String() {
			case "esc":
				a.blurInput()
				return a, nil
			case "ctrl+c":
				a.quitting = true
				return a, tea.Quit
			default:
				var cmd tea.Cmd
				a.input, cmd = a.input.Update(msg)
				return a, cmd
			}
		}

		switch msg.String() {
		case "q", "ctrl+c":
			a.quitting = true
			return a, tea.Quit

		case "a":
			if a.phase == "awaiting_approval" {
				a.control("approve", a.ctrl.Approve())
				return a, nil
			}

		case "n":
			if a.phase == "awaiting_approval" {
				a.control("reject", a.ctrl.Reject("rejected from TUI"))
				return a, nil
			}

		case "e":
			if a.phase == "awaiting_approval" {
				return a, a.focusInput("Describe the changes and press enter...")
			}

		case "i":
			switch a.phase {
			case "clarifying":
				if len(a.questions) > 0 {
					return a, a.focusInput(a.questionPlaceholder())
				}
			case "awaiting_approval":
				return a, a.focusInput("Describe the changes and press enter...")
			case "executing":
				return a, a.focusInput("Instruction for units not yet dispatched...")
			}

		case "p":
			if a.phase == "executing" && !a.sessionDone {
				if a.paused {
					a.ctrl.Resume()
					a.addLog(LogLevelInfo, "", "Dispatch resumed")
				} else {
					a.ctrl.Pause()
					a.addLog(LogLevelInfo, "", "Dispatch paused; running units continue")
				}
				a.paused = !a.paused
				a.header.SetPaused(a.paused)
				a.footer.SetPaused(a.paused)
				return a, nil
			}

		case "c":
			if !a.sessionDone && !a.cancelRequested {
				if err := a.ctrl.Cancel(); err != nil {
					a.addLog(LogLevelWarn, "", fmt.Sprintf("cancel: %v", err))
				} else {
					a.cancelRequested = true
					a.addLog(LogLevelWarn, "", "Cancellation requested")
				}
				return a, nil
			}

		case "tab", "shift+tab":
			if a.focusedPanel == PanelUnits {
				a.focusedPanel = PanelLogs
			} else {
				a.focusedPanel = PanelUnits
			}
			a.updatePanelFocus()
			return a, nil
		}

		// Forward to focused panel
		switch a.focusedPanel {
		case PanelUnits:
			var cmd tea.Cmd
			a.unitsPanel, cmd = a.unitsPanel.Update(msg)
			cmds = append(cmds, cmd)
		case PanelLogs:
			var cmd tea.Cmd
			a.logsPanel, cmd = a.logsPanel.Update(msg)
			cmds = append(cmds, cmd)
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.updatePanelSizes()

	case spinner.TickMsg:
		cmds = append(cmds, a.header.Update(msg))

	case InputSubmittedMsg:
		cmds = append(cmds, a.handleInput(msg.Text))

	case OrchestratorEventMsg:
		cmds = append(cmds, a.handleOrchestratorEvent(msg))

	case SessionDoneMsg:
		a.sessionDone = true
		a.sessionSuccess = msg.Success
		a.sessionMessage = msg.Message
		a.header.SetPaused(false)
		a.footer.SetSessionDone(true, msg.Success, msg.Message)
		if a.inputFocused {
			a.blurInput()
		}

	case DebugLogMsg:
		a.logsPanel.AddLog(PanelLogEntry{
			Timestamp: time.Now(),
			Level:     LogLevelDebug,
			Message:   msg.Message,
		})
	}

	return a, tea.Batch(cmds...)
}

// handleInput routes submitted text by the current phase.
func (a *PanelApp) handleInput(text string) tea.Cmd {
	switch a.phase {
	case "clarifying":
		a.answers = append(a.answers, text)
		a.addLog(LogLevelInfo, "", fmt.Sprintf("A%d: %s", len(a.answers), text))
		if len(a.answers) < len(a.questions) {
			// More questions to go; keep the input focused.
			a.input.SetPlaceholder(a.questionPlaceholder())
			return nil
		}
		answers := a.answers
		a.questions = nil
		a.answers = nil
		a.blurInput()
		a.control("answer", a.ctrl.Answer(answers))

	case "awaiting_approval":
		a.blurInput()
		a.control("request changes", a.ctrl.RequestChanges(text))

	case "executing":
		a.blurInput()
		a.control("inject", a.ctrl.Inject(text))

	default:
		a.blurInput()
		a.addLog(LogLevelWarn, "", fmt.Sprintf("nothing to do with input in phase %s", a.phase))
	}
	return nil
}

// handleOrchestratorEvent processes orchestrator events.
func (a *PanelApp) handleOrchestratorEvent(msg OrchestratorEventMsg) tea.Cmd {
	// Streamed output is aggregated into one live line per unit.
	if msg.Type == "unit_progress" {
		a.logsPanel.UpdateProgress(msg.UnitID, PanelLogEntry{
			Timestamp: msg.Timestamp,
			Level:     LogLevelInfo,
			UnitID:    msg.UnitID,
			Message:   msg.Message,
		})
		return nil
	}

	if msg.Phase != "" && msg.Phase != a.phase {
		a.phase = msg.Phase
		a.header.SetPhase(msg.Phase)
		a.footer.SetPhase(msg.Phase)
	}

	var cmd tea.Cmd
	switch msg.Type {
	case "phase_changed":
		a.addLog(LogLevelInfo, "", "Phase: "+msg.Phase)

	case "questions":
		a.questions = msg.Questions
		a.answers = nil
		for i, q := range msg.Questions {
			a.addLog(LogLevelWarn, "", fmt.Sprintf("Q%d: %s", i+1, q))
		}
		cmd = a.focusInput(a.questionPlaceholder())

	case "plan_ready":
		a.units = make([]*UnitRow, 0, len(msg.Units))
		for _, u := range msg.Units {
			a.units = append(a.units, &UnitRow{
				ID:        u.ID,
				Title:     u.Title,
				Role:      u.Role,
				DependsOn: u.DependsOn,
				Status:    models.UnitStatusPending,
			})
		}
		if msg.Task != "" {
			a.header.SetTask(msg.Task)
		}
		a.addLog(LogLevelInfo, "", fmt.Sprintf("Plan ready: %d units", len(msg.Units)))

	case "unit_queued":
		a.setUnitStatus(msg.UnitID, models.UnitStatusQueued)
		a.addLog(LogLevelInfo, msg.UnitID, "queued: "+msg.UnitTitle)

	case "unit_started":
		if row := a.findUnit(msg.UnitID); row != nil {
			row.Status = models.UnitStatusRunning
			row.Attempt = msg.Attempt
		}
		note := "started: " + msg.UnitTitle
		if msg.Attempt > 1 {
			note += fmt.Sprintf(" (attempt %d)", msg.Attempt)
		}
		a.addLog(LogLevelInfo, msg.UnitID, note)

	case "unit_retrying":
		if row := a.findUnit(msg.UnitID); row != nil {
			row.Status = models.UnitStatusQueued
			row.Attempt = msg.Attempt
		}
		a.logsPanel.ClearProgress(msg.UnitID)
		a.addLog(LogLevelWarn, msg.UnitID, fmt.Sprintf("retrying (attempt %d): %s", msg.Attempt, msg.Error))

	case "unit_succeeded":
		a.setUnitStatus(msg.UnitID, models.UnitStatusSucceeded)
		a.logsPanel.ClearProgress(msg.UnitID)
		a.header.AddUsage(msg.TokensUsed, msg.Cost)
		a.addLog(LogLevelInfo, msg.UnitID,
			fmt.Sprintf("done: %s (%s, %d tokens)", msg.UnitTitle, msg.Duration.Round(time.Millisecond), msg.TokensUsed))

	case "unit_aborted":
		if row := a.findUnit(msg.UnitID); row != nil {
			row.Status = models.UnitStatusAborted
			row.Error = msg.Error
		}
		a.logsPanel.ClearProgress(msg.UnitID)
		detail := msg.Error
		if detail == "" {
			detail = msg.Message
		}
		a.addLog(LogLevelError, msg.UnitID, "failed: "+detail)

	case "unit_skipped":
		if row := a.findUnit(msg.UnitID); row != nil {
			row.Status = models.UnitStatusSkipped
			row.Error = msg.Message
		}
		a.addLog(LogLevelWarn, msg.UnitID, "skipped: "+msg.Message)

	case "instruction_queued":
		a.addLog(LogLevelInfo, "", "Instruction queued: "+msg.Message)

	case "instruction_absorbed":
		a.addLog(LogLevelInfo, "", msg.Message)

	case "run_completed":
		a.addLog(LogLevelInfo, "", msg.Message)
	}

	a.unitsPanel.SetUnits(a.units)
	a.footer.SetUnitCounts(a.unitsPanel.Counts())
	return cmd
}

// control logs a failed controller call. The orchestrator rejects calls
// that arrive in the wrong phase; surfacing the error beats dropping it.
func (a *PanelApp) control(op string, err error) {
	if err != nil {
		a.addLog(LogLevelWarn, "", fmt.Sprintf("%s: %v", op, err))
	}
}

func (a *PanelApp) addLog(level LogLevel, unitID, message string) {
	a.logsPanel.AddLog(PanelLogEntry{
		Timestamp: time.Now(),
		Level:     level,
		UnitID:    unitID,
		Message:   message,
	})
}

func (a *PanelApp) findUnit(id string) *UnitRow {
	for _, u := range a.units {
		if u.ID == id {
			return u
		}
	}
	return nil
}

func (a *PanelApp) setUnitStatus(id string, status models.UnitStatus) {
	if row := a.findUnit(id); row != nil {
		row.Status = status
	}
}

// questionPlaceholder renders the next unanswered question as the input
// placeholder.
func (a *PanelApp) questionPlaceholder() string {
	idx := len(a.answers)
	if idx >= len(a.questions) {
		return ""
	}
	return fmt.Sprintf("(%d/%d) %s", idx+1, len(a.questions), a.questions[idx])
}

func (a *PanelApp) focusInput(placeholder string) tea.Cmd {
	a.inputFocused = true
	a.input.SetPlaceholder(placeholder)
	a.footer.SetInputFocused(true)
	return a.input.Focus()
}

func (a *PanelApp) blurInput() {
	a.inputFocused = false
	a.input.Blur()
	a.input.Reset()
	a.footer.SetInputFocused(false)
}

// updatePanelFocus updates focus state on both panels.
func (a *PanelApp) updatePanelFocus() {
	a.unitsPanel.SetFocused(a.focusedPanel == PanelUnits)
	a.logsPanel.SetFocused(a.focusedPanel == PanelLogs)
	a.footer.SetFocusedPanel(a.focusedPanel)
}

// updatePanelSizes recomputes panel dimensions from the window size.
func (a *PanelApp) updatePanelSizes() {
	a.header.SetWidth(a.width)
	a.footer.SetWidth(a.width)
	a.input.SetWidth(a.width)

	// Header, input box (3 lines with border), footer.
	content := a.height - a.header.Height() - 3 - 1
	if content < 6 {
		content = 6
	}
	unitsHeight := content * 2 / 5
	if unitsHeight < 3 {
		unitsHeight = 3
	}
	a.unitsPanel.SetSize(a.width, unitsHeight)
	a.logsPanel.SetSize(a.width, content-unitsHeight)
}

// View implements tea.Model.
func (a *PanelApp) View() string {
	if a.quitting {
		return "Goodbye!\n"
	}

	return a.header.View() +
		a.unitsPanel.View() + "\n" +
		a.logsPanel.View() + "\n" +
		a.input.View() + "\n" +
		a.footer.View()
}

// Phase returns the phase the TUI is currently rendering.
func (a *PanelApp) Phase() string {
	return a.phase
}

// NewPanelProgram creates a bubbletea program for the run TUI. The returned
// program receives orchestrator events via Send().
func NewPanelProgram(ctrl Controller) (*tea.Program, *PanelApp) {
	app := NewPanelApp(ctrl)
	app.updatePanelFocus()
	p := tea.NewProgram(app, tea.WithAltScreen())
	return p, app
}
