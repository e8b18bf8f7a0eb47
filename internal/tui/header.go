package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Header renders the run status bar: phase, task, and live totals.
type Header struct {
	spinner spinner.Model
	phase   string
	task    string
	tokens  int64
	cost    float64
	paused  bool
	done    bool
	width   int

	titleStyle lipgloss.Style
	taskStyle  lipgloss.Style
	statStyle  lipgloss.Style
	sepStyle   lipgloss.Style
	pauseStyle lipgloss.Style
}

// NewHeader creates a new Header.
func NewHeader() *Header {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))

	return &Header{
		spinner: sp,
		phase:   "idle",
		width:   80,

		titleStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")),

		taskStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")),

		statStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")),

		sepStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("236")),

		pauseStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true),
	}
}

// SetWidth sets the header width.
func (h *Header) SetWidth(width int) {
	h.width = width
}

// SetPhase updates the displayed phase.
func (h *Header) SetPhase(phase string) {
	h.phase = phase
	h.done = phase == "completed" || phase == "cancelled" || phase == "error"
}

// SetTask sets the task line.
func (h *Header) SetTask(task string) {
	h.task = task
}

// SetPaused toggles the paused indicator.
func (h *Header) SetPaused(paused bool) {
	h.paused = paused
}

// AddUsage accumulates token and cost totals from finished units.
func (h *Header) AddUsage(tokens int64, cost float64) {
	h.tokens += tokens
	h.cost += cost
}

// TickCmd returns the command that starts the spinner animation.
func (h *Header) TickCmd() tea.Cmd {
	return h.spinner.Tick
}

// Update advances the spinner.
func (h *Header) Update(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	h.spinner, cmd = h.spinner.Update(msg)
	return cmd
}

// View renders the header.
func (h *Header) View() string {
	sep := h.sepStyle.Render(" │ ")

	var parts []string
	title := h.titleStyle.Render("Ensemble")
	if !h.done {
		title = h.spinner.View() + title
	}
	parts = append(parts, title)

	phase := h.phaseStyle().Render(h.phase)
	if h.paused {
		phase += h.pauseStyle.Render(" (paused)")
	}
	parts = append(parts, phase)

	if h.task != "" {
		task := h.task
		maxLen := h.width - 40
		if maxLen < 20 {
			maxLen = 20
		}
		if len(task) > maxLen {
			task = task[:maxLen-3] + "..."
		}
		parts = append(parts, h.taskStyle.Render(task))
	}

	if h.tokens > 0 {
		parts = append(parts, h.statStyle.Render(fmt.Sprintf("%d tok $%.4f", h.tokens, h.cost)))
	}

	return " " + strings.Join(parts, sep) + "\n"
}

// phaseStyle returns the style for the current phase.
func (h *Header) phaseStyle() lipgloss.Style {
	color := "244" // Gray
	switch h.phase {
	case "clarifying":
		color = "220" // Yellow
	case "planning":
		color = "39" // Blue
	case "awaiting_approval":
		color = "214" // Orange
	case "executing":
		color = "34" // Green
	case "aggregating":
		color = "75" // Light blue
	case "completed":
		color = "28" // Dark green
	case "cancelled":
		color = "214" // Orange
	case "error":
		color = "196" // Red
	}
	return lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(color))
}

// Height returns the header height in lines.
func (h *Header) Height() int {
	return 2
}
