package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/aristath/agman/internal/orchestrator"
	"github.com/aristath/agman/internal/reconcile"
	"github.com/aristath/agman/internal/task"
)

// AddressReviewCommand is the stored command started when new reviews land
// on a task's PR.
const AddressReviewCommand = "address-review"

var (
	watchInterval time.Duration
	watchOnce     bool
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Hand stranded queued feedback to stopped tasks",
	Long: `Find stopped tasks that still have queued feedback, write the oldest item
to FEEDBACK.md and run the continue flow for each of them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := current.sweep(cmd.Context(), cmd.OutOrStdout())
		if n == 0 && err == nil {
			fmt.Fprintln(cmd.OutOrStdout(), "Nothing to sweep.")
		}
		return err
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Poll linked PRs and start follow-up flows",
	Long: `Periodically sweep stranded feedback and poll every task's linked pull
request. New reviews start the address-review command; a merged PR deletes
the task with its worktree.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a := current
		ctx := cmd.Context()
		interval := watchInterval
		if interval <= 0 {
			interval = a.cfg.Poll.Interval.Duration
		}
		poller := &reconcile.Poller{
			Source:      reconcile.NewGitHub(reconcile.NewCircuitBreakerRegistry(a.breakerConfig(), a.logger), a.retryConfig()),
			Concurrency: a.cfg.Poll.Concurrency,
			Logger:      a.logger.With().Str("component", "poller").Logger(),
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			if err := a.watchTick(ctx, cmd.OutOrStdout(), poller); err != nil {
				a.logger.Warn().Err(err).Msg("watch tick had errors")
				fmt.Fprintf(cmd.ErrOrStderr(), "%s %v\n", warning("!"), err)
			}
			if watchOnce {
				return nil
			}
			select {
			case <-ctx.Done():
				fmt.Fprintln(cmd.OutOrStdout(), "Stopping; waiting for running flows...")
				return nil
			case <-ticker.C:
			}
		}
	},
}

func init() {
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 0, "poll interval (default from config)")
	watchCmd.Flags().BoolVar(&watchOnce, "once", false, "run a single sweep and poll, then exit")
	rootCmd.AddCommand(sweepCmd, watchCmd)
}

// sweep moves stranded feedback into FEEDBACK.md and starts the continue
// flow for every task that received some.
func (a *app) sweep(ctx context.Context, w io.Writer) (int, error) {
	tasks, err := a.store.List()
	if err != nil {
		return 0, err
	}
	swept, err := reconcile.SweepStrandedFeedback(tasks)
	errs := []error{err}
	for _, t := range swept {
		if err := a.startFlow(ctx, t, ContinueFlow); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.ID(), err))
			continue
		}
		fmt.Fprintf(w, "%s %s: continuing with queued feedback\n", highlight("→"), t.ID())
	}
	return len(swept), errors.Join(errs...)
}

// watchTick runs one sweep and one poll round.
func (a *app) watchTick(ctx context.Context, w io.Writer, poller *reconcile.Poller) error {
	_, sweepErr := a.sweep(ctx, w)
	errs := []error{sweepErr}

	tasks, err := a.store.List()
	if err != nil {
		return errors.Join(sweepErr, err)
	}
	byID := make(map[string]*task.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID()] = t
	}

	for res := range poller.Poll(ctx, tasks) {
		t := byID[res.TaskID]
		action, err := reconcile.Apply(t, res, a.bus)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", res.TaskID, err))
			continue
		}
		switch action {
		case reconcile.PollDeleteTask:
			if a.dispatcher.Running(t.ID()) {
				continue
			}
			if err := a.deleteTask(ctx, t, false); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", t.ID(), err))
				continue
			}
			fmt.Fprintf(w, "%s %s: PR merged, task deleted\n", success("✓"), t.ID())
		case reconcile.PollTriggerAddressReview:
			if err := a.startFlow(ctx, t, AddressReviewCommand); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", t.ID(), err))
				continue
			}
			fmt.Fprintf(w, "%s %s: %d reviews, addressing\n", highlight("→"), t.ID(), res.State.Reviews)
		}
	}
	return errors.Join(errs...)
}

// startFlow switches t to the named flow or command from its first step and
// drives it in the background.
func (a *app) startFlow(ctx context.Context, t *task.Task, name string) error {
	f, err := a.definitions().Load(name)
	if err != nil {
		return err
	}
	if err := reconcile.ChangeFlow(t, f); err != nil {
		return err
	}
	return a.dispatcher.Start(ctx, orchestrator.Request{Task: t, Flow: f, Chain: true})
}
