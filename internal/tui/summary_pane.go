package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/agman/internal/events"
	"github.com/aristath/agman/internal/task"
)

// SummaryPaneModel shows task counts per status and the latest notice.
type SummaryPaneModel struct {
	counts   map[task.Status]int
	total    int
	activity Activity
	notice   string
	isError  bool
	width    int
}

// NewSummaryPaneModel creates a new summary pane model.
func NewSummaryPaneModel() SummaryPaneModel {
	return SummaryPaneModel{counts: make(map[task.Status]int)}
}

// SetTasks recounts statuses.
func (m *SummaryPaneModel) SetTasks(tasks []*task.Task) {
	m.counts = make(map[task.Status]int)
	for _, t := range tasks {
		m.counts[t.Meta.Status]++
	}
	m.total = len(tasks)
}

// SetActivity records the flows and agents this process is driving.
func (m *SummaryPaneModel) SetActivity(a Activity) {
	m.activity = a
}

// Notify replaces the notice line.
func (m *SummaryPaneModel) Notify(text string, isError bool) {
	m.notice = text
	m.isError = isError
}

// Observe turns halt and review events into notices.
func (m *SummaryPaneModel) Observe(ev events.Event) {
	switch e := ev.(type) {
	case events.FlowHaltedEvent:
		msg := fmt.Sprintf("%s: %s halted (%s)", e.ID, e.Flow, e.Reason)
		if e.Message != "" {
			msg += " " + e.Message
		}
		m.Notify(msg, e.Err != nil)
	case events.ReviewPolledEvent:
		if e.Err != nil {
			m.Notify(fmt.Sprintf("%s: review poll failed: %v", e.ID, e.Err), true)
		} else if e.Action != "none" {
			m.Notify(fmt.Sprintf("%s: %s", e.ID, e.Action), false)
		}
	}
}

// View renders the summary line.
func (m SummaryPaneModel) View() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Tasks: %d  ", m.total)
	b.WriteString(StyleStatusRunning.Render(fmt.Sprintf("running %d", m.counts[task.StatusRunning])))
	b.WriteString("  ")
	b.WriteString(StyleStatusInput.Render(fmt.Sprintf("input %d", m.counts[task.StatusInputNeeded])))
	b.WriteString("  ")
	b.WriteString(StyleStatusStopped.Render(fmt.Sprintf("stopped %d", m.counts[task.StatusStopped])))
	b.WriteString("  ")
	b.WriteString(StyleStatusHeld.Render(fmt.Sprintf("on hold %d", m.counts[task.StatusOnHold])))
	if n := len(m.activity.Flows); n > 0 || m.activity.Agents > 0 {
		fmt.Fprintf(&b, "  | driving %d flows, %d agents", n, m.activity.Agents)
	}

	if m.notice != "" {
		style := StyleHelp
		if m.isError {
			style = StyleStatusFailed
		}
		b.WriteString("  | ")
		b.WriteString(style.Render(truncate(m.notice, max(10, m.width-lipgloss.Width(b.String())-2))))
	}
	return b.String()
}

// SetWidth updates the pane width.
func (m *SummaryPaneModel) SetWidth(w int) {
	m.width = w
}
