package tui

import (
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// feedbackSubmittedMsg is sent when the user confirms feedback.
type feedbackSubmittedMsg struct {
	taskID string
	text   string
}

// FeedbackInputModel is the one-line feedback prompt.
type FeedbackInputModel struct {
	input   textinput.Model
	taskID  string
	visible bool
}

// NewFeedbackInputModel creates a hidden feedback prompt.
func NewFeedbackInputModel() FeedbackInputModel {
	ti := textinput.New()
	ti.Placeholder = "feedback for the agent"
	ti.CharLimit = 4000
	ti.Prompt = "> "
	return FeedbackInputModel{input: ti}
}

// Open shows the prompt for taskID.
func (m *FeedbackInputModel) Open(taskID string) tea.Cmd {
	m.taskID = taskID
	m.visible = true
	m.input.Reset()
	return m.input.Focus()
}

// Update handles keys while the prompt is visible.
func (m FeedbackInputModel) Update(msg tea.Msg) (FeedbackInputModel, tea.Cmd) {
	if !m.visible {
		return m, nil
	}
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case KeyEsc:
			m.visible = false
			m.input.Blur()
			return m, nil
		case KeyEnter:
			m.visible = false
			m.input.Blur()
			submitted := feedbackSubmittedMsg{taskID: m.taskID, text: m.input.Value()}
			return m, func() tea.Msg { return submitted }
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the prompt.
func (m FeedbackInputModel) View() string {
	if !m.visible {
		return ""
	}
	title := StyleTitle.Render("Feedback for " + m.taskID)
	hint := StyleHelp.Render("enter: send | esc: cancel")
	return lipgloss.JoinVertical(lipgloss.Left, title, m.input.View(), hint)
}

// IsVisible reports whether the prompt is open.
func (m FeedbackInputModel) IsVisible() bool {
	return m.visible
}

// SetWidth sizes the input field.
func (m *FeedbackInputModel) SetWidth(w int) {
	m.input.Width = max(10, w-6)
}
