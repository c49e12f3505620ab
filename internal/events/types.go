package events

import (
	"time"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	TaskID() string
}

// Topic constants
const (
	TopicStep   = "step"
	TopicOutput = "output"
	TopicTask   = "task"
	TopicReview = "review"
)

// Event type constants
const (
	EventTypeStepStarted   = "step.started"
	EventTypeAgentOutput   = "agent.output"
	EventTypeStepFinished  = "step.finished"
	EventTypeFlowHalted    = "flow.halted"
	EventTypeStatusChanged = "task.status"
	EventTypeReviewPolled  = "review.polled"
)

// StepStartedEvent is published before an agent is invoked for a step.
type StepStartedEvent struct {
	ID        string
	Flow      string
	Step      int
	LoopStep  int
	Agent     string
	Timestamp time.Time
}

func (e StepStartedEvent) EventType() string { return EventTypeStepStarted }
func (e StepStartedEvent) TaskID() string    { return e.ID }

// AgentOutputEvent carries one transcript line.
type AgentOutputEvent struct {
	ID        string
	Agent     string
	Line      string
	Stderr    bool
	Timestamp time.Time
}

func (e AgentOutputEvent) EventType() string { return EventTypeAgentOutput }
func (e AgentOutputEvent) TaskID() string    { return e.ID }

// StepFinishedEvent is published once a step has produced a signal.
type StepFinishedEvent struct {
	ID        string
	Agent     string
	Signal    string
	PreCheck  bool // satisfied by pre_check, no agent ran
	Duration  time.Duration
	Timestamp time.Time
}

func (e StepFinishedEvent) EventType() string { return EventTypeStepFinished }
func (e StepFinishedEvent) TaskID() string    { return e.ID }

// FlowHaltedEvent is published when a flow run ends for any reason.
type FlowHaltedEvent struct {
	ID        string
	Flow      string
	Reason    string
	Signal    string
	Step      int
	Message   string
	Err       error
	Timestamp time.Time
}

func (e FlowHaltedEvent) EventType() string { return EventTypeFlowHalted }
func (e FlowHaltedEvent) TaskID() string    { return e.ID }

// StatusChangedEvent is published when a task's lifecycle status changes.
type StatusChangedEvent struct {
	ID        string
	From      string
	To        string
	Timestamp time.Time
}

func (e StatusChangedEvent) EventType() string { return EventTypeStatusChanged }
func (e StatusChangedEvent) TaskID() string    { return e.ID }

// ReviewPolledEvent is published after a review poll result is applied.
type ReviewPolledEvent struct {
	ID        string
	Action    string
	Reviews   uint64
	Err       error
	Timestamp time.Time
}

func (e ReviewPolledEvent) EventType() string { return EventTypeReviewPolled }
func (e ReviewPolledEvent) TaskID() string    { return e.ID }
