package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kmorand/ensemble/pkg/models"
)

// fakeController records every control call the TUI makes.
type fakeController struct {
	approves int
	rejects  []string
	changes  []string
	answers  [][]string
	injected []string
	pauses   int
	resumes  int
	cancels  int
	err      error
}

func (c *fakeController) Approve() error                      { c.approves++; return c.err }
func (c *fakeController) Reject(reason string) error          { c.rejects = append(c.rejects, reason); return c.err }
func (c *fakeController) RequestChanges(feedback string) error {
	c.changes = append(c.changes, feedback)
	return c.err
}
func (c *fakeController) Answer(answers []string) error {
	c.answers = append(c.answers, answers)
	return c.err
}
func (c *fakeController) Inject(instruction string) error {
	c.injected = append(c.injected, instruction)
	return c.err
}
func (c *fakeController) Pause()        { c.pauses++ }
func (c *fakeController) Resume()       { c.resumes++ }
func (c *fakeController) Cancel() error { c.cancels++; return c.err }

func newTestApp(ctrl Controller) *PanelApp {
	app := NewPanelApp(ctrl)
	app.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	return app
}

func keyPress(t *testing.T, app *PanelApp, key string) {
	t.Helper()
	var msg tea.KeyMsg
	switch key {
	case "enter":
		msg = tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		msg = tea.KeyMsg{Type: tea.KeyEsc}
	case "tab":
		msg = tea.KeyMsg{Type: tea.KeyTab}
	default:
		msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
	}
	app.Update(msg)
}

func sendEvent(app *PanelApp, msg OrchestratorEventMsg) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	app.Update(msg)
}

func planReady(app *PanelApp) {
	sendEvent(app, OrchestratorEventMsg{
		Type:  "phase_changed",
		Phase: "awaiting_approval",
	})
	sendEvent(app, OrchestratorEventMsg{
		Type:  "plan_ready",
		Phase: "awaiting_approval",
		Task:  "build the thing",
		Units: []UnitInfo{
			{ID: "u1", Title: "First unit", Role: "builder"},
			{ID: "u2", Title: "Second unit", DependsOn: []string{"u1"}},
		},
	})
}

func TestPanelApp_PlanReadyBuildsUnits(t *testing.T) {
	app := newTestApp(&fakeController{})

	planReady(app)

	if len(app.units) != 2 {
		t.Fatalf("units = %d, want 2", len(app.units))
	}
	if app.units[0].Status != models.UnitStatusPending {
		t.Errorf("unit status = %s, want pending", app.units[0].Status)
	}
	if app.phase != "awaiting_approval" {
		t.Errorf("phase = %s, want awaiting_approval", app.phase)
	}
}

func TestPanelApp_UnitLifecycleUpdatesRows(t *testing.T) {
	app := newTestApp(&fakeController{})
	planReady(app)
	sendEvent(app, OrchestratorEventMsg{Type: "phase_changed", Phase: "executing"})

	sendEvent(app, OrchestratorEventMsg{Type: "unit_queued", Phase: "executing", UnitID: "u1", UnitTitle: "First unit"})
	if got := app.units[0].Status; got != models.UnitStatusQueued {
		t.Fatalf("after queue: status = %s, want queued", got)
	}

	sendEvent(app, OrchestratorEventMsg{Type: "unit_started", Phase: "executing", UnitID: "u1", UnitTitle: "First unit", Attempt: 1})
	if got := app.units[0].Status; got != models.UnitStatusRunning {
		t.Fatalf("after start: status = %s, want running", got)
	}

	sendEvent(app, OrchestratorEventMsg{
		Type: "unit_succeeded", Phase: "executing",
		UnitID: "u1", UnitTitle: "First unit",
		TokensUsed: 120, Cost: 0.01, Duration: 2 * time.Second,
	})
	if got := app.units[0].Status; got != models.UnitStatusSucceeded {
		t.Fatalf("after success: status = %s, want succeeded", got)
	}

	counts := app.unitsPanel.Counts()
	if counts.Done != 1 {
		t.Errorf("Done count = %d, want 1", counts.Done)
	}
}

func TestPanelApp_SkipStoresReason(t *testing.T) {
	app := newTestApp(&fakeController{})
	planReady(app)
	sendEvent(app, OrchestratorEventMsg{Type: "phase_changed", Phase: "executing"})

	sendEvent(app, OrchestratorEventMsg{
		Type: "unit_skipped", Phase: "executing",
		UnitID: "u2", UnitTitle: "Second unit",
		Message: "dependency_failed:u1",
	})

	if got := app.units[1].Status; got != models.UnitStatusSkipped {
		t.Fatalf("status = %s, want skipped", got)
	}
	if app.units[1].Error != "dependency_failed:u1" {
		t.Errorf("skip reason = %q", app.units[1].Error)
	}
}

func TestPanelApp_ApproveKey(t *testing.T) {
	ctrl := &fakeController{}
	app := newTestApp(ctrl)
	planReady(app)

	keyPress(t, app, "a")

	if ctrl.approves != 1 {
		t.Fatalf("approves = %d, want 1", ctrl.approves)
	}
}

func TestPanelApp_RejectKey(t *testing.T) {
	ctrl := &fakeController{}
	app := newTestApp(ctrl)
	planReady(app)

	keyPress(t, app, "n")

	if len(ctrl.rejects) != 1 {
		t.Fatalf("rejects = %d, want 1", len(ctrl.rejects))
	}
}

func TestPanelApp_ApproveKeyIgnoredOutsideApproval(t *testing.T) {
	ctrl := &fakeController{}
	app := newTestApp(ctrl)
	sendEvent(app, OrchestratorEventMsg{Type: "phase_changed", Phase: "executing"})

	keyPress(t, app, "a")

	if ctrl.approves != 0 {
		t.Fatalf("approves = %d, want 0 while executing", ctrl.approves)
	}
}

func TestPanelApp_ChangeRequestFlow(t *testing.T) {
	ctrl := &fakeController{}
	app := newTestApp(ctrl)
	planReady(app)

	keyPress(t, app, "e")
	if !app.inputFocused {
		t.Fatal("input should be focused after e")
	}

	// Type the feedback and submit.
	app.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("split unit one")})
	_, cmd := app.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatal("enter with text should produce a command")
	}
	msg := cmd()
	submitted, ok := msg.(InputSubmittedMsg)
	if !ok {
		t.Fatalf("command produced %T, want InputSubmittedMsg", msg)
	}
	app.Update(submitted)

	if len(ctrl.changes) != 1 || ctrl.changes[0] != "split unit one" {
		t.Fatalf("changes = %v, want [split unit one]", ctrl.changes)
	}
	if app.inputFocused {
		t.Error("input should blur after submitting feedback")
	}
}

func TestPanelApp_ClarifyCollectsAllAnswers(t *testing.T) {
	ctrl := &fakeController{}
	app := newTestApp(ctrl)

	sendEvent(app, OrchestratorEventMsg{Type: "phase_changed", Phase: "clarifying"})
	sendEvent(app, OrchestratorEventMsg{
		Type: "questions", Phase: "clarifying",
		Questions: []string{"Which database?", "Which region?"},
	})

	if !app.inputFocused {
		t.Fatal("questions should focus the input")
	}

	app.Update(InputSubmittedMsg{Text: "postgres"})
	if len(ctrl.answers) != 0 {
		t.Fatal("answers should not be sent until all questions are answered")
	}
	if !app.inputFocused {
		t.Fatal("input should stay focused between questions")
	}

	app.Update(InputSubmittedMsg{Text: "eu-west-1"})
	if len(ctrl.answers) != 1 {
		t.Fatalf("answer batches = %d, want 1", len(ctrl.answers))
	}
	got := ctrl.answers[0]
	if len(got) != 2 || got[0] != "postgres" || got[1] != "eu-west-1" {
		t.Fatalf("answers = %v", got)
	}
	if app.inputFocused {
		t.Error("input should blur after the last answer")
	}
}

func TestPanelApp_InjectDuringExecution(t *testing.T) {
	ctrl := &fakeController{}
	app := newTestApp(ctrl)
	sendEvent(app, OrchestratorEventMsg{Type: "phase_changed", Phase: "executing"})

	keyPress(t, app, "i")
	if !app.inputFocused {
		t.Fatal("input should be focused after i")
	}
	app.Update(InputSubmittedMsg{Text: "use tabs not spaces"})

	if len(ctrl.injected) != 1 || ctrl.injected[0] != "use tabs not spaces" {
		t.Fatalf("injected = %v", ctrl.injected)
	}
}

func TestPanelApp_PauseToggle(t *testing.T) {
	ctrl := &fakeController{}
	app := newTestApp(ctrl)
	sendEvent(app, OrchestratorEventMsg{Type: "phase_changed", Phase: "executing"})

	keyPress(t, app, "p")
	if ctrl.pauses != 1 {
		t.Fatalf("pauses = %d, want 1", ctrl.pauses)
	}
	if !app.paused {
		t.Fatal("app should track paused state")
	}

	keyPress(t, app, "p")
	if ctrl.resumes != 1 {
		t.Fatalf("resumes = %d, want 1", ctrl.resumes)
	}
	if app.paused {
		t.Fatal("paused should clear after resume")
	}
}

func TestPanelApp_CancelOnlyOnce(t *testing.T) {
	ctrl := &fakeController{}
	app := newTestApp(ctrl)
	sendEvent(app, OrchestratorEventMsg{Type: "phase_changed", Phase: "executing"})

	keyPress(t, app, "c")
	keyPress(t, app, "c")

	if ctrl.cancels != 1 {
		t.Fatalf("cancels = %d, want 1", ctrl.cancels)
	}
}

func TestPanelApp_ControlErrorsAreLogged(t *testing.T) {
	ctrl := &fakeController{err: errors.New("not awaiting approval")}
	app := newTestApp(ctrl)
	planReady(app)

	before := app.logsPanel.LogCount()
	keyPress(t, app, "a")

	if app.logsPanel.LogCount() <= before {
		t.Error("failed control call should add a log entry")
	}
}

func TestPanelApp_SessionDoneThenQuit(t *testing.T) {
	app := newTestApp(&fakeController{})

	app.Update(SessionDoneMsg{Success: true, Message: "6 of 6 units succeeded"})
	if !app.sessionDone {
		t.Fatal("sessionDone should be set")
	}

	_, cmd := app.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("q should quit")
	}
	if app.View() != "Goodbye!\n" {
		t.Errorf("quitting view = %q", app.View())
	}
}

func TestPanelApp_ProgressAggregatesPerUnit(t *testing.T) {
	app := newTestApp(&fakeController{})
	planReady(app)
	sendEvent(app, OrchestratorEventMsg{Type: "phase_changed", Phase: "executing"})

	before := app.logsPanel.LogCount()
	for i := 0; i < 20; i++ {
		sendEvent(app, OrchestratorEventMsg{Type: "unit_progress", Phase: "executing", UnitID: "u1", Message: "chunk"})
	}
	if app.logsPanel.LogCount() != before {
		t.Error("progress events should not append log entries")
	}

	sendEvent(app, OrchestratorEventMsg{Type: "unit_succeeded", Phase: "executing", UnitID: "u1", UnitTitle: "First unit"})
	if len(app.logsPanel.progressEntries) != 0 {
		t.Error("progress entry should clear when the unit finishes")
	}
}

func TestPanelApp_TabTogglesFocus(t *testing.T) {
	app := newTestApp(&fakeController{})

	if app.focusedPanel != PanelUnits {
		t.Fatalf("initial focus = %d, want units", app.focusedPanel)
	}
	keyPress(t, app, "tab")
	if app.focusedPanel != PanelLogs {
		t.Fatalf("focus after tab = %d, want logs", app.focusedPanel)
	}
	keyPress(t, app, "tab")
	if app.focusedPanel != PanelUnits {
		t.Fatalf("focus after second tab = %d, want units", app.focusedPanel)
	}
}

func TestPanelApp_ViewShowsUnitTitles(t *testing.T) {
	app := newTestApp(&fakeController{})
	planReady(app)

	view := app.View()
	if !strings.Contains(view, "First unit") {
		t.Error("view should contain the first unit title")
	}
	if !strings.Contains(view, "Second unit") {
		t.Error("view should contain the second unit title")
	}
}
