package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aristath/agman/internal/reconcile"
)

var feedbackCmd = &cobra.Command{
	Use:   "feedback",
	Short: "Manage a task's feedback queue",
}

var feedbackAddCmd = &cobra.Command{
	Use:   "add <task> <feedback...>",
	Short: "Queue feedback, or write FEEDBACK.md when the task is idle",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := current.task(args[0])
		if err != nil {
			return err
		}
		route, err := reconcile.SubmitFeedback(t, strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		if route == reconcile.FeedbackQueued {
			fmt.Fprintf(cmd.OutOrStdout(), "%s queued for %s (%d waiting)\n", success("✓"), t.ID(), len(t.Meta.Feedback))
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s wrote FEEDBACK.md for %s; run: agman continue %s\n", success("✓"), t.ID(), t.ID())
		return nil
	},
}

var feedbackListCmd = &cobra.Command{
	Use:   "list <task>",
	Short: "Show queued feedback",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := current.task(args[0])
		if err != nil {
			return err
		}
		q := t.FeedbackQueue()
		if len(q) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No queued feedback.")
			return nil
		}
		for i, item := range q {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", highlight(strconv.Itoa(i+1)+"."), item)
		}
		return nil
	},
}

var feedbackRemoveCmd = &cobra.Command{
	Use:   "remove <task> <n>",
	Short: "Remove the n-th queued item (1-based)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := current.task(args[0])
		if err != nil {
			return err
		}
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid index %q", args[1])
		}
		if err := t.RemoveFeedback(n - 1); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s removed item %d (%d left)\n", success("✓"), n, len(t.Meta.Feedback))
		return nil
	},
}

var feedbackClearCmd = &cobra.Command{
	Use:   "clear <task>",
	Short: "Drop all queued feedback",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := current.task(args[0])
		if err != nil {
			return err
		}
		if err := t.ClearFeedbackQueue(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s cleared queue for %s\n", success("✓"), t.ID())
		return nil
	},
}

func init() {
	feedbackCmd.AddCommand(feedbackAddCmd, feedbackListCmd, feedbackRemoveCmd, feedbackClearCmd)
	rootCmd.AddCommand(feedbackCmd)
}
