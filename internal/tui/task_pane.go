package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/agman/internal/events"
	"github.com/aristath/agman/internal/task"
)

const (
	listWidth       = 34
	transcriptLines = 400
)

// TaskPaneModel is the task list with the selected task's transcript.
type TaskPaneModel struct {
	tasks         []*task.Task
	selectedIdx   int
	activity      map[string]string // taskID -> latest step or halt
	viewport      viewport.Model
	width         int
	height        int
	focused       bool
	outputFocused bool
	updateTag     int // for debouncing
}

// NewTaskPaneModel creates a new task pane model.
func NewTaskPaneModel() TaskPaneModel {
	return TaskPaneModel{
		activity: make(map[string]string),
		viewport: viewport.New(0, 0),
	}
}

// tickMsg is used for debouncing transcript reloads.
type tickMsg struct {
	tag int
}

// transcriptMsg carries a freshly read transcript tail.
type transcriptMsg struct {
	id      string
	content string
	err     error
}

func loadTranscript(t *task.Task) tea.Cmd {
	return func() tea.Msg {
		content, err := t.TranscriptTail(transcriptLines)
		return transcriptMsg{id: t.ID(), content: content, err: err}
	}
}

// Update handles messages for the task pane.
func (m TaskPaneModel) Update(msg tea.Msg) (TaskPaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.outputFocused {
			m.viewport, cmd = m.viewport.Update(msg)
			break
		}
		if !m.focused {
			break
		}
		switch msg.String() {
		case KeyJ, KeyDown:
			if m.selectedIdx < len(m.tasks)-1 {
				m.selectedIdx++
				cmd = m.selectionChanged()
			}
		case KeyK, KeyUp:
			if m.selectedIdx > 0 {
				m.selectedIdx--
				cmd = m.selectionChanged()
			}
		}

	case events.StepStartedEvent:
		m.activity[msg.ID] = fmt.Sprintf("%s (step %d)", msg.Agent, msg.Step+1)

	case events.FlowHaltedEvent:
		m.activity[msg.ID] = msg.Reason
		if msg.Message != "" {
			m.activity[msg.ID] += ": " + msg.Message
		}

	case events.AgentOutputEvent:
		if m.SelectedID() == msg.ID {
			m.updateTag++
			tag := m.updateTag
			return m, tea.Tick(100*time.Millisecond, func(time.Time) tea.Msg {
				return tickMsg{tag: tag}
			})
		}

	case tickMsg:
		if msg.tag == m.updateTag {
			if t := m.Selected(); t != nil {
				cmd = loadTranscript(t)
			}
		}

	case transcriptMsg:
		if msg.id != m.SelectedID() {
			break
		}
		if msg.err != nil {
			m.viewport.SetContent(fmt.Sprintf("failed to read transcript: %v", msg.err))
			break
		}
		if strings.TrimSpace(msg.content) == "" {
			m.viewport.SetContent("No agent output yet.")
			break
		}
		m.viewport.SetContent(msg.content)
		m.viewport.GotoBottom()
	}

	return m, cmd
}

// SetTasks replaces the list, keeping the selection on the same task when
// it is still present. It returns a command to load the transcript when the
// selection moved.
func (m *TaskPaneModel) SetTasks(tasks []*task.Task) tea.Cmd {
	prev := m.SelectedID()
	m.tasks = tasks
	m.selectedIdx = 0
	for i, t := range tasks {
		if t.ID() == prev {
			m.selectedIdx = i
			break
		}
	}
	if m.SelectedID() == prev && prev != "" {
		return nil
	}
	return m.selectionChanged()
}

func (m *TaskPaneModel) selectionChanged() tea.Cmd {
	t := m.Selected()
	if t == nil {
		m.viewport.SetContent("No tasks. Create one with `agman new`.")
		return nil
	}
	if t.Meta.Status == task.StatusStopped {
		_ = t.MarkSeen()
	}
	m.viewport.SetContent("Loading...")
	return loadTranscript(t)
}

// Selected returns the selected task, or nil.
func (m TaskPaneModel) Selected() *task.Task {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.tasks) {
		return m.tasks[m.selectedIdx]
	}
	return nil
}

// SelectedID returns the id of the selected task, or "".
func (m TaskPaneModel) SelectedID() string {
	if t := m.Selected(); t != nil {
		return t.ID()
	}
	return ""
}

// View renders the task pane.
func (m TaskPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	viewportWidth := m.width - listWidth - 4
	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderTaskList(),
		lipgloss.NewStyle().
			Width(viewportWidth).
			Height(m.height-2).
			Render(m.viewport.View()),
	)

	style := StyleUnfocusedBorder
	if m.focused || m.outputFocused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

func (m TaskPaneModel) renderTaskList() string {
	var b strings.Builder

	title := StyleTitle.Render("Tasks")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	if len(m.tasks) == 0 {
		b.WriteString(StyleStatusHeld.Render("No tasks"))
	}
	for i, t := range m.tasks {
		name := t.ID()
		if len(name) > listWidth-6 {
			name = name[:listWidth-9] + "..."
		}
		marker := " "
		if t.Meta.Status == task.StatusStopped && !t.Meta.Seen {
			marker = "*"
		}
		line := fmt.Sprintf("%s%s %s", marker, StatusIcon(t.Meta.Status), name)
		if i == m.selectedIdx {
			line = StyleSelected.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
		if act := m.activity[t.ID()]; act != "" {
			b.WriteString(StyleHelp.Render("   " + truncate(act, listWidth-4)))
			b.WriteString("\n")
		}
	}

	return lipgloss.NewStyle().
		Width(listWidth).
		Height(m.height - 2).
		Render(b.String())
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func (m *TaskPaneModel) resizeViewport() {
	w := m.width - listWidth - 4
	h := m.height - 4
	if w < 10 {
		w = 10
	}
	if h < 5 {
		h = 5
	}
	m.viewport.Width = w
	m.viewport.Height = h
}

// SetSize updates the pane dimensions.
func (m *TaskPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.resizeViewport()
}

// SetFocus sets which half of the pane receives keys.
func (m *TaskPaneModel) SetFocus(list, output bool) {
	m.focused = list
	m.outputFocused = output
}
