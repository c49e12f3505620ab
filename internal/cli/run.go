package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aristath/agman/internal/flow"
	"github.com/aristath/agman/internal/orchestrator"
	"github.com/aristath/agman/internal/reconcile"
	"github.com/aristath/agman/internal/task"
)

// ContinueFlow is the flow that feeds FEEDBACK.md back to the agents.
const ContinueFlow = "continue"

var (
	flowRunFlow  string
	flowRunForce bool
	flowRunSolo  bool
	runLoop      bool
	runForce     bool
)

var flowRunCmd = &cobra.Command{
	Use:   "flow-run <task>",
	Short: "Drive a task through its flow from the current step",
	Long: `Drive a task through its flow from the persisted step until an agent
halts it. Successful flows chain into their "then" flow and, when the task
asks for it, into a PR review.

Exit status is 0 when the flow completes, 2 when it halts for input or on a
failure signal, and 1 on errors.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := current
		t, err := a.task(args[0])
		if err != nil {
			return err
		}
		req := orchestrator.Request{Task: t, Chain: !flowRunSolo, Force: flowRunForce}
		if flowRunFlow != "" {
			if req.Flow, err = a.definitions().Load(flowRunFlow); err != nil {
				return err
			}
		}
		return a.drive(cmd, req)
	},
}

var runCmd = &cobra.Command{
	Use:   "run <task> <agent>",
	Short: "Run a single agent against a task outside its flow",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := current
		t, err := a.task(args[0])
		if err != nil {
			return err
		}
		if err := a.ensureIdle(t, runForce); err != nil {
			return err
		}
		sig, err := a.executor.RunStep(cmd.Context(), args[1], t, runLoop)
		if err != nil {
			return &exitError{code: 1, err: err}
		}
		w := cmd.OutOrStdout()
		switch sig {
		case flow.SignalNone:
			fmt.Fprintf(w, "%s %s finished without a signal\n", warning("!"), args[1])
		case flow.SignalInputNeeded:
			fmt.Fprintf(w, "%s %s needs input\n", warning("!"), args[1])
			return errBlocked
		default:
			fmt.Fprintf(w, "%s %s: %s\n", success("✓"), args[1], sig)
		}
		return nil
	},
}

var continueForce bool

var continueCmd = &cobra.Command{
	Use:   "continue <task> [feedback...]",
	Short: "Send feedback to a task and run the continue flow",
	Long: `Send feedback to a task. A running task queues it for after the current
flow. Otherwise it is written to FEEDBACK.md and the continue flow starts.

Without feedback the continue flow runs on whatever FEEDBACK.md holds.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := current
		t, err := a.task(args[0])
		if err != nil {
			return err
		}
		if text := strings.Join(args[1:], " "); text != "" {
			route, err := reconcile.SubmitFeedback(t, text)
			if err != nil {
				return err
			}
			if route == reconcile.FeedbackQueued {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s is running; feedback queued (%d waiting)\n",
					highlight("→"), t.ID(), len(t.Meta.Feedback))
				return nil
			}
		} else if !t.HasFeedback() {
			return fmt.Errorf("%s has no FEEDBACK.md; pass feedback text", t.ID())
		}
		f, err := a.flows.Load(ContinueFlow)
		if err != nil {
			return err
		}
		return a.restartFlow(cmd, t, f, 0, continueForce)
	},
}

func init() {
	flowRunCmd.Flags().StringVar(&flowRunFlow, "flow", "", "switch the task to this flow or command first")
	flowRunCmd.Flags().BoolVar(&flowRunForce, "force", false, "drive a task whose status says it is already running")
	flowRunCmd.Flags().BoolVar(&flowRunSolo, "no-chain", false, "stop when this flow ends")
	runCmd.Flags().BoolVar(&runLoop, "loop", false, "re-run the agent until it prints a signal")
	runCmd.Flags().BoolVar(&runForce, "force", false, "run even if the task's status says it is running")
	continueCmd.Flags().BoolVar(&continueForce, "force", false, "continue a task whose status says it is running")
	rootCmd.AddCommand(flowRunCmd, runCmd, continueCmd)
}

func (a *app) definitions() orchestrator.FlowSource {
	return definitions{flows: a.flows, commands: a.commands}
}

// ensureIdle refuses a task whose persisted status is running unless forced.
func (a *app) ensureIdle(t *task.Task, force bool) error {
	if err := t.Reload(); err != nil {
		return err
	}
	if t.Meta.Status == task.StatusRunning && !force {
		return fmt.Errorf("%s: %w; use --force if no agman process is driving it", t.ID(), orchestrator.ErrAlreadyRunning)
	}
	return nil
}

// restartFlow puts an idle task on step of f and drives it, chaining.
func (a *app) restartFlow(cmd *cobra.Command, t *task.Task, f *flow.Flow, step int, force bool) error {
	if err := a.ensureIdle(t, force); err != nil {
		return err
	}
	if err := reconcile.Restart(t, f, step); err != nil {
		return err
	}
	return a.drive(cmd, orchestrator.Request{Task: t, Flow: f, Chain: true, Force: true})
}
