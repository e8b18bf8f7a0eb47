package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kmorand/ensemble/pkg/models"
)

// Status icons for unit states.
const (
	iconRunning = "[●]"
	iconQueued  = "[◐]"
	iconDone    = "[✓]"
	iconFailed  = "[✗]"
	iconSkipped = "[⊘]"
	iconPending = "[○]"
)

// UnitRow is the display state of one planned unit.
type UnitRow struct {
	ID        string
	Title     string
	Role      string
	DependsOn []string
	Status    models.UnitStatus
	Attempt   int
	Error     string
}

// UnitCounts holds the count of units in each terminal-ish status.
type UnitCounts struct {
	Running int
	Done    int
	Failed  int
	Skipped int
}

// UnitsPanel displays a scrollable list of units with status indicators.
type UnitsPanel struct {
	units        []*UnitRow
	titles       map[string]string
	selected     int
	scrollOffset int
	width        int
	height       int
	focused      bool

	// Styles
	titleStyle    lipgloss.Style
	selectedStyle lipgloss.Style
	normalStyle   lipgloss.Style
	pendingStyle  lipgloss.Style
	queuedStyle   lipgloss.Style
	runningStyle  lipgloss.Style
	doneStyle     lipgloss.Style
	failedStyle   lipgloss.Style
	skippedStyle  lipgloss.Style
	sectionStyle  lipgloss.Style
	roleStyle     lipgloss.Style
	depsStyle     lipgloss.Style
}

// NewUnitsPanel creates a new UnitsPanel instance.
func NewUnitsPanel() *UnitsPanel {
	return &UnitsPanel{
		units:  make([]*UnitRow, 0),
		titles: make(map[string]string),

		titleStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Padding(0, 1),

		selectedStyle: lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("15")).
			Bold(true),

		normalStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")),

		pendingStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")), // Gray

		queuedStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")), // Orange

		runningStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("34")), // Green

		doneStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("28")), // Dark green

		failedStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")), // Red

		skippedStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")), // Orange

		sectionStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true),

		roleStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("75")), // Light blue

		depsStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")), // Dimmer
	}
}

// SetUnits replaces the unit list.
func (p *UnitsPanel) SetUnits(units []*UnitRow) {
	p.units = units
	p.titles = make(map[string]string, len(units))
	for _, u := range units {
		p.titles[u.ID] = u.Title
	}
	if p.selected >= len(p.units) {
		p.selected = len(p.units) - 1
	}
	if p.selected < 0 {
		p.selected = 0
	}
}

// SetSize updates the panel dimensions.
func (p *UnitsPanel) SetSize(width, height int) {
	p.width = width
	p.height = height
}

// SetFocused sets whether this panel has keyboard focus.
func (p *UnitsPanel) SetFocused(focused bool) {
	p.focused = focused
}

// Counts returns the number of units per status bucket.
func (p *UnitsPanel) Counts() UnitCounts {
	counts := UnitCounts{}
	for _, u := range p.units {
		switch u.Status {
		case models.UnitStatusRunning:
			counts.Running++
		case models.UnitStatusSucceeded:
			counts.Done++
		case models.UnitStatusAborted:
			counts.Failed++
		case models.UnitStatusSkipped:
			counts.Skipped++
		}
	}
	return counts
}

// Update handles input messages.
func (p *UnitsPanel) Update(msg tea.Msg) (*UnitsPanel, tea.Cmd) {
	if !p.focused {
		return p, nil
	}

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "up", "k":
			if p.selected > 0 {
				p.selected--
				p.ensureVisible()
			}
		case "down", "j":
			if p.selected < len(p.units)-1 {
				p.selected++
				p.ensureVisible()
			}
		}
	}

	return p, nil
}

// ensureVisible adjusts scroll offset to keep selected item visible.
func (p *UnitsPanel) ensureVisible() {
	visibleRows := p.height - 4
	if visibleRows < 1 {
		visibleRows = 1
	}

	if p.selected < p.scrollOffset {
		p.scrollOffset = p.selected
	} else if p.selected >= p.scrollOffset+visibleRows {
		p.scrollOffset = p.selected - visibleRows + 1
	}
}

// View renders the units panel.
func (p *UnitsPanel) View() string {
	var b strings.Builder

	title := "Units"
	if p.focused {
		title = "[Units]"
	}
	b.WriteString(p.titleStyle.Render(title))
	b.WriteString("\n")

	if len(p.units) == 0 {
		b.WriteString(p.pendingStyle.Render("  No plan yet"))
	} else {
		counts := p.Counts()
		done := counts.Done + counts.Failed + counts.Skipped
		b.WriteString(p.sectionStyle.Render(fmt.Sprintf(" Units (%d/%d done)", done, len(p.units))))
		b.WriteString("\n")

		visibleRows := p.height - 4
		if visibleRows < 1 {
			visibleRows = 1
		}
		endIdx := p.scrollOffset + visibleRows
		if endIdx > len(p.units) {
			endIdx = len(p.units)
		}

		for i := p.scrollOffset; i < endIdx; i++ {
			b.WriteString(p.renderUnitLine(p.units[i], i == p.selected))
			if i < endIdx-1 {
				b.WriteString("\n")
			}
		}
	}

	content := b.String()
	borderColor := lipgloss.Color("240")
	if p.focused {
		borderColor = lipgloss.Color("63") // Blue when focused
	}

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(borderColor).
		Width(p.width - 2).
		Height(p.height - 2).
		Render(content)
}

// renderUnitLine renders a single unit line.
func (p *UnitsPanel) renderUnitLine(u *UnitRow, selected bool) string {
	icon := p.statusIcon(u.Status)

	roleSuffix := ""
	if u.Role != "" {
		roleSuffix = " " + p.roleStyle.Render("["+u.Role+"]")
	}

	attemptSuffix := ""
	if u.Attempt > 1 {
		attemptSuffix = fmt.Sprintf(" (attempt %d)", u.Attempt)
	}

	// Show dependencies while the unit is still waiting on them.
	depsSuffix := ""
	if len(u.DependsOn) > 0 &&
		(u.Status == models.UnitStatusPending || u.Status == models.UnitStatusQueued) {
		names := make([]string, 0, len(u.DependsOn))
		for _, dep := range u.DependsOn {
			if t, ok := p.titles[dep]; ok {
				names = append(names, t)
			} else {
				names = append(names, dep)
			}
		}
		depsSuffix = " " + p.depsStyle.Render("(after: "+strings.Join(names, ", ")+")")
	}

	maxTitleLen := p.width - 10
	if maxTitleLen < 10 {
		maxTitleLen = 10
	}
	title := u.Title
	if len(title) > maxTitleLen {
		title = title[:maxTitleLen-3] + "..."
	}

	line := fmt.Sprintf(" %s %s%s%s%s", icon, title, roleSuffix, attemptSuffix, depsSuffix)

	// Add error preview for failed units
	if u.Status == models.UnitStatusAborted && u.Error != "" {
		errPreview := u.Error
		maxErrLen := p.width - 10
		if maxErrLen < 20 {
			maxErrLen = 20
		}
		if len(errPreview) > maxErrLen {
			errPreview = errPreview[:maxErrLen-3] + "..."
		}
		line += "\n     " + p.failedStyle.Render(errPreview)
	}

	if selected {
		return p.selectedStyle.Render(line)
	}
	return p.normalStyle.Render(line)
}

// statusIcon returns the appropriate icon for a unit status.
func (p *UnitsPanel) statusIcon(status models.UnitStatus) string {
	switch status {
	case models.UnitStatusQueued:
		return p.queuedStyle.Render(iconQueued)
	case models.UnitStatusRunning:
		return p.runningStyle.Render(iconRunning)
	case models.UnitStatusSucceeded:
		return p.doneStyle.Render(iconDone)
	case models.UnitStatusAborted:
		return p.failedStyle.Render(iconFailed)
	case models.UnitStatusSkipped:
		return p.skippedStyle.Render(iconSkipped)
	default:
		return p.pendingStyle.Render(iconPending)
	}
}

// SelectedUnit returns the currently selected unit, or nil if none.
func (p *UnitsPanel) SelectedUnit() *UnitRow {
	if len(p.units) == 0 || p.selected < 0 || p.selected >= len(p.units) {
		return nil
	}
	return p.units[p.selected]
}

// UnitCount returns the total number of units.
func (p *UnitsPanel) UnitCount() int {
	return len(p.units)
}
