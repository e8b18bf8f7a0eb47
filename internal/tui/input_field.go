package tui

import (
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// InputSubmittedMsg is sent when the user submits the input line. The app
// decides what the text means from the current phase.
type InputSubmittedMsg struct {
	Text string
}

// InputField is the single text input line at the bottom of the TUI. It
// collects clarification answers, change requests, and injected
// instructions depending on the run phase.
type InputField struct {
	input textinput.Model
	width int
}

// NewInputField creates a new InputField.
func NewInputField() *InputField {
	ti := textinput.New()
	ti.Placeholder = "Press i to type..."
	ti.CharLimit = 500
	ti.Width = 60

	return &InputField{
		input: ti,
		width: 80,
	}
}

// SetWidth sets the width of the input field.
func (f *InputField) SetWidth(width int) {
	f.width = width
	f.input.Width = width - 6 // Account for prompt, padding, border
}

// SetPlaceholder sets the hint shown while the input is empty.
func (f *InputField) SetPlaceholder(text string) {
	f.input.Placeholder = text
}

// Focused reports whether the input has keyboard focus.
func (f *InputField) Focused() bool {
	return f.input.Focused()
}

// Update handles messages for the input field.
func (f *InputField) Update(msg tea.Msg) (*InputField, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "enter":
			text := f.input.Value()
			if text != "" {
				f.input.Reset()
				return f, func() tea.Msg {
					return InputSubmittedMsg{Text: text}
				}
			}
			return f, nil
		}
	}

	var cmd tea.Cmd
	f.input, cmd = f.input.Update(msg)
	return f, cmd
}

// View renders the input field.
func (f *InputField) View() string {
	promptStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("39")).
		Bold(true)

	borderColor := lipgloss.Color("240")
	if f.input.Focused() {
		borderColor = lipgloss.Color("63")
	}

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(borderColor).
		Padding(0, 1).
		Width(f.width - 2)

	prompt := promptStyle.Render("> ")
	return boxStyle.Render(prompt + f.input.View())
}

// Focus sets focus on the input field.
func (f *InputField) Focus() tea.Cmd {
	return f.input.Focus()
}

// Blur removes focus from the input field.
func (f *InputField) Blur() {
	f.input.Blur()
}

// Reset clears any typed text.
func (f *InputField) Reset() {
	f.input.Reset()
}
