package reconcile

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/agman/internal/events"
	"github.com/aristath/agman/internal/task"
)

// PRRef identifies the pull request of one task, captured when a poll
// starts.
type PRRef struct {
	TaskID string
	Repo   string
	Dir    string // where the review CLI runs
	Number uint64
}

// PRState is what the review system reports for a pull request.
type PRState struct {
	Merged  bool
	Reviews uint64
}

// PRSource reads pull request state.
type PRSource interface {
	PRState(ctx context.Context, ref PRRef) (PRState, error)
}

// PollResult is the result for one task.
type PollResult struct {
	TaskID   string
	State    PRState
	Decision PollDecision
	Err      error
}

// Poller queries the review system for every task with a linked PR.
type Poller struct {
	Source      PRSource
	Concurrency int // default 4
	Logger      zerolog.Logger
}

type pollTarget struct {
	ref  PRRef
	last *uint64
}

// Poll queries all eligible tasks concurrently and streams the results on
// the returned channel, which is closed once every query has finished. The
// tasks are only read, up front; applying results is the receiver's job.
func (p *Poller) Poll(ctx context.Context, tasks []*task.Task) <-chan PollResult {
	targets := snapshot(tasks)
	out := make(chan PollResult, len(targets))

	limit := p.Concurrency
	if limit <= 0 {
		limit = 4
	}

	go func() {
		defer close(out)
		var g errgroup.Group
		g.SetLimit(limit)
		for _, target := range targets {
			g.Go(func() error {
				state, err := p.Source.PRState(ctx, target.ref)
				res := PollResult{TaskID: target.ref.TaskID, State: state, Err: err}
				if err != nil {
					p.Logger.Warn().Err(err).Str("task", target.ref.TaskID).Uint64("pr", target.ref.Number).Msg("failed to poll pull request")
				} else {
					res.Decision = DecidePRPollAction(state.Merged, state.Reviews, target.last)
				}
				out <- res
				// Per-task failures are carried in the result.
				return nil
			})
		}
		_ = g.Wait()
	}()
	return out
}

// snapshot copies what the pollers need so they never touch the tasks.
func snapshot(tasks []*task.Task) []pollTarget {
	var targets []pollTarget
	for _, t := range tasks {
		m := t.Meta
		if m.LinkedPR == nil || m.Status == task.StatusOnHold || m.ArchivedAt != nil {
			continue
		}
		var last *uint64
		if m.LastReviewCount != nil {
			v := *m.LastReviewCount
			last = &v
		}
		dir := m.WorktreePath
		if dir == "" {
			dir = t.Dir
		}
		targets = append(targets, pollTarget{
			ref:  PRRef{TaskID: t.ID(), Repo: m.RepoName, Dir: dir, Number: m.LinkedPR.Number},
			last: last,
		})
	}
	return targets
}

// Apply records a poll result on its task and returns the action the
// caller still has to carry out: deleting the task or running the
// address-review command. A review pass is not triggered while the task is
// running; the baseline is kept so the next poll triggers it instead.
func Apply(t *task.Task, res PollResult, bus *events.Bus) (PollAction, error) {
	action, err := apply(t, res)
	ev := events.ReviewPolledEvent{
		ID:        t.ID(),
		Action:    action.String(),
		Reviews:   res.State.Reviews,
		Err:       res.Err,
		Timestamp: time.Now(),
	}
	if err != nil {
		ev.Err = err
	}
	bus.Publish(events.TopicReview, ev)
	return action, err
}

func apply(t *task.Task, res PollResult) (PollAction, error) {
	if res.Err != nil {
		return PollNone, res.Err
	}
	d := res.Decision
	// The poll ran against an older snapshot; write over the current file.
	if d.SeedBaseline != nil || d.Action == PollTriggerAddressReview {
		if err := t.Reload(); err != nil {
			return PollNone, err
		}
	}
	if d.SeedBaseline != nil {
		if err := t.SetReviewBaseline(*d.SeedBaseline); err != nil {
			return PollNone, err
		}
	}
	switch d.Action {
	case PollDeleteTask:
		return PollDeleteTask, nil
	case PollTriggerAddressReview:
		if t.Meta.Status == task.StatusRunning {
			return PollNone, nil
		}
		if err := t.SetReviewBaseline(res.State.Reviews); err != nil {
			return PollNone, err
		}
		if err := t.SetReviewAddressed(false); err != nil {
			return PollNone, err
		}
		return PollTriggerAddressReview, nil
	}
	return PollNone, nil
}
