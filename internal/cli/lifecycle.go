package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aristath/agman/internal/orchestrator"
	"github.com/aristath/agman/internal/reconcile"
	"github.com/aristath/agman/internal/task"
)

var (
	restartStep    int
	restartFlowArg string
	restartForce   bool
	deleteKeepWT   bool
	deleteArchive  bool
)

var stopCmd = &cobra.Command{
	Use:   "stop <task>",
	Short: "Kill a task's agent and mark it stopped",
	Long: `Kill the task's agent if this process launched it and mark the task
stopped. A flow driven by another agman process halts once its current agent
returns.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := current
		t, err := a.task(args[0])
		if err != nil {
			return err
		}
		if _, err := a.procs.Kill(t.ID()); err != nil {
			a.logger.Warn().Err(err).Str("task", t.ID()).Msg("failed to kill agent")
		}
		if err := reconcile.Stop(t); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s stopped %s\n", success("✓"), t.ID())
		return nil
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <task>",
	Short: "Resume a task that was waiting for input",
	Long: `Resume a task whose agent asked for input, after the answer has been
written into the task's files. The flow picks up at the step that asked.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := current
		t, err := a.task(args[0])
		if err != nil {
			return err
		}
		ok, err := reconcile.ResumeAfterAnswering(t)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s is %s, not waiting for input", t.ID(), t.Meta.Status.Label())
		}
		return a.drive(cmd, orchestrator.Request{Task: t, Chain: true, Force: true})
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart <task>",
	Short: "Restart a task's flow from a step",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := current
		t, err := a.task(args[0])
		if err != nil {
			return err
		}
		name := restartFlowArg
		if name == "" {
			name = t.Meta.FlowName
		}
		f, err := a.definitions().Load(name)
		if err != nil {
			return err
		}
		return a.restartFlow(cmd, t, f, restartStep, restartForce)
	},
}

var holdCmd = &cobra.Command{
	Use:   "hold <task>",
	Short: "Put an idle task on hold",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := current.task(args[0])
		if err != nil {
			return err
		}
		if err := reconcile.Hold(t); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s on hold\n", success("✓"), t.ID())
		return nil
	},
}

var releaseCmd = &cobra.Command{
	Use:   "release <task>",
	Short: "Take a task off hold",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := current.task(args[0])
		if err != nil {
			return err
		}
		if err := reconcile.Release(t); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s released %s\n", success("✓"), t.ID())
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <task>",
	Short: "Delete a task with its worktree and branch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := current
		t, err := a.task(args[0])
		if err != nil {
			return err
		}
		if a.dispatcher.Running(t.ID()) {
			return fmt.Errorf("%s: %w", t.ID(), reconcile.ErrRunning)
		}
		if deleteArchive {
			if _, err := a.procs.Kill(t.ID()); err != nil {
				a.logger.Warn().Err(err).Str("task", t.ID()).Msg("failed to kill agent")
			}
			if err := archive(t); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s archived %s\n", success("✓"), t.ID())
			return nil
		}
		if err := a.deleteTask(cmd.Context(), t, deleteKeepWT); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s deleted %s\n", success("✓"), t.ID())
		return nil
	},
}

// archive stops the task and moves it out of the active list.
func archive(t *task.Task) error {
	return errors.Join(reconcile.Stop(t), current.store.Archive(t))
}

func init() {
	restartCmd.Flags().IntVar(&restartStep, "step", 0, "step index to restart from")
	restartCmd.Flags().StringVar(&restartFlowArg, "flow", "", "switch to this flow or command")
	restartCmd.Flags().BoolVar(&restartForce, "force", false, "restart a task whose status says it is running")
	deleteCmd.Flags().BoolVar(&deleteKeepWT, "keep-worktree", false, "leave the worktree and branch in place")
	deleteCmd.Flags().BoolVar(&deleteArchive, "archive", false, "archive the task instead of deleting it")
	rootCmd.AddCommand(stopCmd, resumeCmd, restartCmd, holdCmd, releaseCmd, deleteCmd)
}
