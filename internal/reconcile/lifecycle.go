// Package reconcile keeps task lifecycle status in step with the outside
// world: user feedback, manual status changes and the review system.
// Decisions are pure functions; applying them is left to a single owner of
// the task list.
package reconcile

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aristath/agman/internal/flow"
	"github.com/aristath/agman/internal/task"
)

// ErrRunning is returned for operations that need a task to be idle.
var ErrRunning = errors.New("task is running")

// PollAction is what to do with a task after polling its pull request.
type PollAction int

const (
	PollNone PollAction = iota
	PollDeleteTask
	PollTriggerAddressReview
)

func (a PollAction) String() string {
	switch a {
	case PollDeleteTask:
		return "delete-task"
	case PollTriggerAddressReview:
		return "address-review"
	default:
		return "none"
	}
}

// PollDecision is the outcome of DecidePRPollAction. SeedBaseline is set
// when the task has no review baseline yet and should record one.
type PollDecision struct {
	Action       PollAction
	SeedBaseline *uint64
}

// DecidePRPollAction decides from a pull request's state what to do with
// its task. A merged PR retires the task. The first poll only records how
// many reviews exist; later polls trigger a review pass when that number
// grows.
func DecidePRPollAction(merged bool, current uint64, last *uint64) PollDecision {
	switch {
	case merged:
		return PollDecision{Action: PollDeleteTask}
	case last == nil:
		seed := current
		return PollDecision{Action: PollNone, SeedBaseline: &seed}
	case current > *last:
		return PollDecision{Action: PollTriggerAddressReview}
	default:
		return PollDecision{Action: PollNone}
	}
}

// FeedbackRoute says where submitted feedback went.
type FeedbackRoute int

const (
	// FeedbackQueued: the task is running; the item waits in the queue.
	FeedbackQueued FeedbackRoute = iota
	// FeedbackImmediate: FEEDBACK.md was written; the caller should start
	// the continue flow.
	FeedbackImmediate
)

// SubmitFeedback routes user feedback by the task's persisted status. A
// running task queues it and notes it in the transcript; any other task gets
// it written to FEEDBACK.md with the queue untouched.
func SubmitFeedback(t *task.Task, text string) (FeedbackRoute, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, errors.New("feedback is empty")
	}
	if err := t.Reload(); err != nil {
		return 0, err
	}
	if t.Meta.Status == task.StatusRunning {
		if err := t.AppendFeedbackEntry(text); err != nil {
			return 0, err
		}
		if err := t.QueueFeedback(text); err != nil {
			return 0, err
		}
		return FeedbackQueued, nil
	}
	if err := t.WriteFeedback(text); err != nil {
		return 0, err
	}
	return FeedbackImmediate, nil
}

// SweepStrandedFeedback finds stopped tasks that still have queued feedback
// and moves exactly one item of each into FEEDBACK.md. It returns the tasks
// that received feedback; the caller starts their continue flow. A failure
// on one task does not stop the sweep.
func SweepStrandedFeedback(tasks []*task.Task) ([]*task.Task, error) {
	var swept []*task.Task
	var errs []error
	for _, t := range tasks {
		if t.Meta.Status != task.StatusStopped || len(t.Meta.Feedback) == 0 {
			continue
		}
		// The listing may be stale; re-check against the file.
		if err := t.Reload(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.ID(), err))
			continue
		}
		if t.Meta.Status != task.StatusStopped || len(t.Meta.Feedback) == 0 {
			continue
		}
		item, ok, err := t.PopFeedback()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.ID(), err))
			continue
		}
		if !ok {
			continue
		}
		if err := t.WriteFeedback(item); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.ID(), err))
			continue
		}
		swept = append(swept, t)
	}
	return swept, errors.Join(errs...)
}

// Stop marks the task stopped and clears its agent. Killing the agent
// process is the caller's job. Stopping a stopped task is a no-op.
func Stop(t *task.Task) error {
	if err := t.Reload(); err != nil {
		return err
	}
	if t.Meta.Status == task.StatusStopped && t.Meta.CurrentAgent == nil {
		return nil
	}
	return t.Halt(task.StatusStopped)
}

// ResumeAfterAnswering puts a task that was waiting for input back to
// running. Tasks in any other status are left alone and false is returned.
func ResumeAfterAnswering(t *task.Task) (bool, error) {
	if err := t.Reload(); err != nil {
		return false, err
	}
	if t.Meta.Status != task.StatusInputNeeded {
		return false, nil
	}
	return true, t.UpdateStatus(task.StatusRunning)
}

// Restart moves the task to step of f and marks it running, in one write.
func Restart(t *task.Task, f *flow.Flow, step int) error {
	if step < 0 || step >= len(f.Steps) {
		return fmt.Errorf("step %d out of range: flow %s has %d steps", step, f.Name, len(f.Steps))
	}
	if err := t.Reload(); err != nil {
		return err
	}
	return t.Restart(f.Name, step)
}

// Hold parks an idle task so sweeps and pollers leave it alone.
func Hold(t *task.Task) error {
	if err := t.Reload(); err != nil {
		return err
	}
	switch t.Meta.Status {
	case task.StatusOnHold:
		return nil
	case task.StatusRunning:
		return fmt.Errorf("hold %s: %w", t.ID(), ErrRunning)
	}
	return t.UpdateStatus(task.StatusOnHold)
}

// Release returns a held task to stopped.
func Release(t *task.Task) error {
	if err := t.Reload(); err != nil {
		return err
	}
	if t.Meta.Status != task.StatusOnHold {
		return fmt.Errorf("release %s: task is %s, not on hold", t.ID(), t.Meta.Status.Label())
	}
	return t.UpdateStatus(task.StatusStopped)
}

// ChangeFlow switches an idle task to another flow from its first step.
func ChangeFlow(t *task.Task, f *flow.Flow) error {
	if err := t.Reload(); err != nil {
		return err
	}
	if t.Meta.Status == task.StatusRunning {
		return fmt.Errorf("change flow of %s: %w", t.ID(), ErrRunning)
	}
	return t.ChangeFlow(f.Name)
}
