package orchestrator

import (
	"fmt"

	"github.com/aristath/agman/internal/flow"
)

// HaltReason says why a flow run stopped.
type HaltReason string

const (
	// HaltTerminal: an agent reported TASK_COMPLETE before the flow ran out of steps.
	HaltTerminal HaltReason = "step-signal-terminal"
	// HaltBlocked: the task needs a human (input needed, paused failure,
	// idle agent, or its status was changed from outside).
	HaltBlocked HaltReason = "blocked"
	// HaltExhausted: every step of the flow completed.
	HaltExhausted HaltReason = "exhausted-steps"
	// HaltFatal: a load, process or persistence fault ended the run.
	HaltFatal HaltReason = "fatal-error"
)

// Outcome describes how a run ended.
type Outcome struct {
	Reason  HaltReason
	Signal  flow.Signal // last signal observed, SignalNone if none
	Step    int         // flow step index at the halt
	Message string
}

// Succeeded reports whether the flow finished on its own, so a follow-up
// flow may be chained.
func (o Outcome) Succeeded() bool {
	return o.Reason == HaltExhausted || o.Reason == HaltTerminal
}

func (o Outcome) String() string {
	if o.Message == "" {
		return fmt.Sprintf("%s at step %d", o.Reason, o.Step)
	}
	return fmt.Sprintf("%s at step %d: %s", o.Reason, o.Step, o.Message)
}
