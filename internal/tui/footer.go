package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

// Footer renders the status bar and keyboard hints.
type Footer struct {
	message      string
	success      bool
	sessionDone  bool
	phase        string
	paused       bool
	inputFocused bool
	focusedPanel int
	width        int
	counts       UnitCounts

	// Styles
	successStyle   lipgloss.Style
	errorStyle     lipgloss.Style
	skippedStyle   lipgloss.Style
	hintStyle      lipgloss.Style
	separatorStyle lipgloss.Style
}

// NewFooter creates a new Footer instance.
func NewFooter() *Footer {
	return &Footer{
		phase:        "idle",
		focusedPanel: PanelUnits,

		successStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("28")).
			Bold(true),

		errorStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true),

		skippedStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")),

		hintStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),

		separatorStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("236")),
	}
}

// SetMessage sets the status message.
func (f *Footer) SetMessage(message string, success bool) {
	f.message = message
	f.success = success
}

// SetSessionDone marks the run as complete.
func (f *Footer) SetSessionDone(done bool, success bool, message string) {
	f.sessionDone = done
	f.success = success
	f.message = message
}

// SetPhase updates the phase the hints are rendered for.
func (f *Footer) SetPhase(phase string) {
	f.phase = phase
}

// SetPaused toggles the paused hint.
func (f *Footer) SetPaused(paused bool) {
	f.paused = paused
}

// SetInputFocused tells the footer the input line has focus.
func (f *Footer) SetInputFocused(focused bool) {
	f.inputFocused = focused
}

// SetFocusedPanel sets which panel is currently focused.
func (f *Footer) SetFocusedPanel(panel int) {
	f.focusedPanel = panel
}

// SetWidth sets the footer width.
func (f *Footer) SetWidth(width int) {
	f.width = width
}

// SetUnitCounts updates the unit counts for display.
func (f *Footer) SetUnitCounts(counts UnitCounts) {
	f.counts = counts
}

// View renders the footer.
func (f *Footer) View() string {
	var left string

	// Left side: unit counts and status message
	total := f.counts.Done + f.counts.Failed + f.counts.Skipped + f.counts.Running
	if total > 0 {
		left = fmt.Sprintf("✓%d", f.counts.Done)
		if f.counts.Failed > 0 {
			left += f.errorStyle.Render(fmt.Sprintf(" ✗%d", f.counts.Failed))
		}
		if f.counts.Skipped > 0 {
			left += f.skippedStyle.Render(fmt.Sprintf(" ⊘%d", f.counts.Skipped))
		}
		if f.counts.Running > 0 {
			left += fmt.Sprintf(" ⏳%d", f.counts.Running)
		}
	}

	if f.sessionDone {
		if f.success {
			left = f.successStyle.Render("✓ " + f.message)
		} else {
			left = f.errorStyle.Render("✗ " + f.message)
		}
	} else if f.message != "" && left == "" {
		left = f.hintStyle.Render(f.message)
	}

	right := f.keyboardHints()

	sep := f.separatorStyle.Render(" │ ")
	if left != "" && right != "" {
		return left + sep + right
	} else if left != "" {
		return left
	}
	return right
}

// keyboardHints returns context-sensitive keyboard hints.
func (f *Footer) keyboardHints() string {
	if f.sessionDone {
		return f.hintStyle.Render("Press q to exit")
	}

	if f.inputFocused {
		return f.hintStyle.Render("enter send │ esc cancel")
	}

	var hints string
	switch f.phase {
	case "clarifying":
		hints = "i answer │ q quit"
	case "awaiting_approval":
		hints = "a approve │ n reject │ e changes │ q quit"
	case "executing":
		hints = "i instruct"
		if f.paused {
			hints += " │ p resume"
		} else {
			hints += " │ p pause"
		}
		hints += " │ c cancel │ tab panels"
		if f.focusedPanel == PanelLogs {
			hints += " │ f filter │ a auto-scroll"
		}
		hints += " │ q quit"
	default:
		hints = "tab panels │ q quit"
	}

	return f.hintStyle.Render(hints)
}
