package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/agman/internal/events"
	"github.com/aristath/agman/internal/flow"
	"github.com/aristath/agman/internal/task"
)

var (
	// ErrAlreadyRunning is returned when the task is running in this process
	// or its record says another process is driving it.
	ErrAlreadyRunning = errors.New("task is already running")
	// ErrBusy is returned when the concurrency limit is reached.
	ErrBusy = errors.New("too many flows running")
)

// ReviewCommand is the stored command run after a flow when the task asks
// for a review.
const ReviewCommand = "review-pr"

// FlowSource resolves flow names. *flow.Catalog implements it.
type FlowSource interface {
	Load(name string) (*flow.Flow, error)
}

// CommandSource resolves stored commands. *flow.CommandSet implements it.
type CommandSource interface {
	Get(id string) (*flow.Command, error)
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	Executor         *Executor
	Flows            FlowSource
	Commands         CommandSource // optional; needed for review_after
	ConcurrencyLimit int           // max concurrent runs (default 4)
	Bus              *events.Bus
	Logger           zerolog.Logger
}

// Request asks for a task to be driven.
type Request struct {
	Task *task.Task
	// Flow to run. Nil runs the task's current flow from the catalog.
	Flow *flow.Flow
	// Chain follows the flow's "then" and the task's review_after once the
	// flow succeeds.
	Chain bool
	// Force skips the persisted-status check, for tasks left "running" by
	// a process that died.
	Force bool
}

// Dispatcher starts flow runs for long-lived drivers, refusing to start a
// second run for a task already being driven.
type Dispatcher struct {
	cfg   DispatcherConfig
	locks *TaskLocks
	g     errgroup.Group
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.ConcurrencyLimit <= 0 {
		cfg.ConcurrencyLimit = 4
	}
	d := &Dispatcher{cfg: cfg, locks: NewTaskLocks()}
	d.g.SetLimit(cfg.ConcurrencyLimit)
	return d
}

// Running reports whether this dispatcher is driving the task.
func (d *Dispatcher) Running(id string) bool {
	return d.locks.Held(id)
}

// Active lists the ids of tasks being driven.
func (d *Dispatcher) Active() []string {
	return d.locks.Keys()
}

// Start drives the task in the background. Its outcome is published on the
// bus as a FlowHaltedEvent.
func (d *Dispatcher) Start(ctx context.Context, req Request) error {
	if err := d.acquire(req); err != nil {
		return err
	}
	id := req.Task.ID()
	if !d.g.TryGo(func() error {
		defer d.locks.Unlock(id)
		// Errors are reported through the bus; never abort the group.
		_, _ = d.drive(ctx, req)
		return nil
	}) {
		d.locks.Unlock(id)
		return ErrBusy
	}
	return nil
}

// Drive runs the task in the caller's goroutine.
func (d *Dispatcher) Drive(ctx context.Context, req Request) (Outcome, error) {
	if err := d.acquire(req); err != nil {
		return Outcome{}, err
	}
	defer d.locks.Unlock(req.Task.ID())
	return d.drive(ctx, req)
}

// Wait blocks until every background run has returned.
func (d *Dispatcher) Wait() {
	_ = d.g.Wait()
}

func (d *Dispatcher) acquire(req Request) error {
	id := req.Task.ID()
	if !d.locks.TryLock(id) {
		return fmt.Errorf("%s: %w", id, ErrAlreadyRunning)
	}
	if req.Force {
		return nil
	}
	if err := req.Task.Reload(); err != nil {
		d.locks.Unlock(id)
		return err
	}
	if req.Task.Meta.Status == task.StatusRunning {
		d.locks.Unlock(id)
		return fmt.Errorf("%s: %w (status is running)", id, ErrAlreadyRunning)
	}
	return nil
}

func (d *Dispatcher) drive(ctx context.Context, req Request) (Outcome, error) {
	t := req.Task
	log := d.cfg.Logger.With().Str("task", t.ID()).Logger()

	f := req.Flow
	if f == nil {
		var err error
		if f, err = d.cfg.Flows.Load(t.Meta.FlowName); err != nil {
			return d.loadFailed(t, t.Meta.FlowName, err)
		}
	}

	visited := map[string]bool{}
	for {
		visited[f.Name] = true
		out, err := d.cfg.Executor.Run(ctx, f, t)
		if err != nil || !req.Chain || !out.Succeeded() {
			return out, err
		}
		if f.Then == "" {
			return d.reviewAfter(ctx, t, out)
		}
		if visited[f.Then] {
			log.Warn().Str("flow", f.Name).Str("then", f.Then).Msg("flow chain loops back, stopping")
			return out, nil
		}
		next, err := d.cfg.Flows.Load(f.Then)
		if err != nil {
			return d.loadFailed(t, f.Then, err)
		}
		log.Info().Str("from", f.Name).Str("to", next.Name).Msg("chaining flow")
		f = next
	}
}

// reviewAfter runs the review command once, when the task asked for it.
func (d *Dispatcher) reviewAfter(ctx context.Context, t *task.Task, prev Outcome) (Outcome, error) {
	if !t.Meta.ReviewAfter || d.cfg.Commands == nil {
		return prev, nil
	}
	cmd, err := d.cfg.Commands.Get(ReviewCommand)
	if err != nil {
		return d.loadFailed(t, ReviewCommand, err)
	}
	f, err := cmd.Flow()
	if err != nil {
		return d.loadFailed(t, ReviewCommand, err)
	}
	if err := t.SetReviewAfter(false); err != nil {
		return Outcome{Reason: HaltFatal, Step: t.Meta.FlowStep, Message: err.Error()}, err
	}
	return d.cfg.Executor.Run(ctx, f, t)
}

func (d *Dispatcher) loadFailed(t *task.Task, name string, err error) (Outcome, error) {
	out := Outcome{Reason: HaltFatal, Step: t.Meta.FlowStep, Message: err.Error()}
	d.cfg.Bus.Publish(events.TopicStep, events.FlowHaltedEvent{
		ID:        t.ID(),
		Flow:      name,
		Reason:    string(HaltFatal),
		Step:      out.Step,
		Message:   out.Message,
		Err:       err,
		Timestamp: time.Now(),
	})
	d.cfg.Logger.Error().Err(err).Str("task", t.ID()).Str("flow", name).Msg("failed to load flow")
	return out, err
}
