// Package tui is the agman dashboard: the task list, live transcripts and
// the actions a user takes on a task.
package tui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/agman/internal/config"
	"github.com/aristath/agman/internal/events"
	"github.com/aristath/agman/internal/task"
)

// Actions is what the dashboard can do to tasks. The CLI wires it to the
// task store, dispatcher and process manager.
type Actions interface {
	Tasks() ([]*task.Task, error)
	Run(t *task.Task) error
	Stop(t *task.Task) error
	Feedback(t *task.Task, text string) error
	ToggleHold(t *task.Task) error
	Activity() Activity
}

// Activity is what this process is driving right now.
type Activity struct {
	Flows  []string // ids of tasks whose flow is running
	Agents int      // agent processes alive
}

// PaneID identifies which pane is focused.
type PaneID int

const (
	PaneTaskList PaneID = iota
	PaneTranscript
)

const refreshInterval = 2 * time.Second

// Model is the root Bubble Tea model for the TUI.
type Model struct {
	bus          *events.Bus
	actions      Actions
	taskPane     TaskPaneModel
	summary      SummaryPaneModel
	feedback     FeedbackInputModel
	settingsPane SettingsPaneModel
	focusedPane  PaneID
	eventSub     <-chan events.Event
	width        int
	height       int
	quitting     bool
	showSettings bool
}

// New creates a new TUI model subscribed to every topic of the bus.
func New(bus *events.Bus, actions Actions, cfg *config.Config, globalPath, projectPath string) Model {
	m := Model{
		bus:          bus,
		actions:      actions,
		taskPane:     NewTaskPaneModel(),
		summary:      NewSummaryPaneModel(),
		feedback:     NewFeedbackInputModel(),
		settingsPane: NewSettingsPaneModel(cfg, globalPath, projectPath),
		focusedPane:  PaneTaskList,
		eventSub:     bus.SubscribeAll(256),
	}
	m.updateFocusStates()
	return m
}

// tasksLoadedMsg carries a fresh task list.
type tasksLoadedMsg struct {
	tasks    []*task.Task
	activity Activity
	err      error
}

// refreshMsg triggers the periodic reload that picks up changes made by
// other agman processes.
type refreshMsg struct{}

// actionDoneMsg reports the outcome of a user action.
type actionDoneMsg struct {
	label string
	err   error
}

// Init initializes the model and returns the initial command.
func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.eventSub), loadTasks(m.actions), scheduleRefresh())
}

// waitForEvent returns a command that waits for the next event from the event bus.
func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub
		if !ok {
			return nil // bus closed
		}
		return event
	}
}

func loadTasks(a Actions) tea.Cmd {
	return func() tea.Msg {
		tasks, err := a.Tasks()
		return tasksLoadedMsg{tasks: tasks, activity: a.Activity(), err: err}
	}
}

func scheduleRefresh() tea.Cmd {
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg { return refreshMsg{} })
}

// act runs an action off the UI goroutine.
func act(label string, fn func() error) tea.Cmd {
	return func() tea.Msg {
		return actionDoneMsg{label: label, err: fn()}
	}
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.computeLayout()
		m.settingsPane.SetSize(msg.Width, msg.Height)

	case tasksLoadedMsg:
		if msg.err != nil {
			m.summary.Notify(fmt.Sprintf("failed to list tasks: %v", msg.err), true)
			break
		}
		cmds = append(cmds, m.taskPane.SetTasks(msg.tasks))
		m.summary.SetTasks(msg.tasks)
		m.summary.SetActivity(msg.activity)

	case refreshMsg:
		cmds = append(cmds, loadTasks(m.actions), scheduleRefresh())

	case feedbackSubmittedMsg:
		t := m.findTask(msg.taskID)
		if t == nil {
			break
		}
		text := msg.text
		cmds = append(cmds, act("feedback sent to "+t.ID(), func() error {
			return m.actions.Feedback(t, text)
		}))

	case actionDoneMsg:
		if msg.err != nil {
			m.summary.Notify(msg.err.Error(), true)
		} else {
			m.summary.Notify(msg.label, false)
		}
		cmds = append(cmds, loadTasks(m.actions))

	case events.StepStartedEvent, events.AgentOutputEvent, events.StepFinishedEvent:
		var cmd tea.Cmd
		m.taskPane, cmd = m.taskPane.Update(msg)
		cmds = append(cmds, cmd, waitForEvent(m.eventSub))

	case events.FlowHaltedEvent, events.StatusChangedEvent, events.ReviewPolledEvent:
		var cmd tea.Cmd
		m.taskPane, cmd = m.taskPane.Update(msg)
		m.summary.Observe(msg.(events.Event))
		cmds = append(cmds, cmd, loadTasks(m.actions), waitForEvent(m.eventSub))

	default:
		var cmd tea.Cmd
		m.taskPane, cmd = m.taskPane.Update(msg)
		cmds = append(cmds, cmd)
		if m.feedback.IsVisible() {
			m.feedback, cmd = m.feedback.Update(msg)
			cmds = append(cmds, cmd)
		}
		if m.showSettings {
			m.settingsPane, cmd = m.settingsPane.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	return m, tea.Batch(cmds...)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// Modal overlays take every key.
	if m.showSettings {
		var cmd tea.Cmd
		m.settingsPane, cmd = m.settingsPane.Update(msg)
		if !m.settingsPane.IsVisible() {
			m.showSettings = false
			if m.settingsPane.Saved() {
				m.summary.Notify("settings saved; restart agman to apply", false)
			}
		}
		return m, cmd
	}
	if m.feedback.IsVisible() {
		var cmd tea.Cmd
		m.feedback, cmd = m.feedback.Update(msg)
		return m, cmd
	}

	selected := m.taskPane.Selected()
	switch msg.String() {
	case KeyQuit, KeyCtrlC:
		m.quitting = true
		m.bus.Unsubscribe(m.eventSub)
		return m, tea.Quit

	case KeySettings:
		m.showSettings = true
		m.settingsPane.SetVisible(true)
		return m, m.settingsPane.Init()

	case KeyTab, KeyShiftTab:
		m.focusedPane = (m.focusedPane + 1) % 2
		m.updateFocusStates()

	case KeyPane1:
		m.focusedPane = PaneTaskList
		m.updateFocusStates()

	case KeyPane2:
		m.focusedPane = PaneTranscript
		m.updateFocusStates()

	case KeyRun:
		if selected != nil {
			return m, act("started "+selected.ID(), func() error { return m.actions.Run(selected) })
		}

	case KeyStop:
		if selected != nil {
			return m, act("stopped "+selected.ID(), func() error { return m.actions.Stop(selected) })
		}

	case KeyHold:
		if selected != nil {
			return m, act("hold toggled on "+selected.ID(), func() error { return m.actions.ToggleHold(selected) })
		}

	case KeyFeedback:
		if selected != nil {
			return m, m.feedback.Open(selected.ID())
		}

	default:
		var cmd tea.Cmd
		m.taskPane, cmd = m.taskPane.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) findTask(id string) *task.Task {
	for _, t := range m.taskPane.tasks {
		if t.ID() == id {
			return t
		}
	}
	return nil
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}
	if m.showSettings {
		return m.settingsPane.View()
	}

	parts := []string{m.taskPane.View()}
	if m.feedback.IsVisible() {
		parts = append(parts, m.feedback.View())
	}
	parts = append(parts, m.summary.View(), HelpView())
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

// computeLayout calculates pane dimensions and updates all child models.
func (m *Model) computeLayout() {
	// summary + help, and room for the feedback prompt
	reserved := 2 + 3
	m.taskPane.SetSize(m.width, max(8, m.height-reserved))
	m.summary.SetWidth(m.width)
	m.feedback.SetWidth(m.width)
	m.updateFocusStates()
}

// updateFocusStates updates the focus state of all panes.
func (m *Model) updateFocusStates() {
	m.taskPane.SetFocus(m.focusedPane == PaneTaskList, m.focusedPane == PaneTranscript)
}
