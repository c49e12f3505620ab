package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aristath/agman/internal/task"
)

var listArchived bool

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := current
		var (
			tasks []*task.Task
			err   error
		)
		if listArchived {
			tasks, err = a.store.ListArchived()
		} else {
			tasks, err = a.store.List()
		}
		if err != nil {
			return err
		}
		if len(tasks) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No tasks.")
			return nil
		}
		writeTaskTable(cmd.OutOrStdout(), tasks)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <task>",
	Short: "Show a task's state, queued feedback and recent runs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := current
		t, err := a.task(args[0])
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		m := t.Meta
		fmt.Fprintf(w, "%s  %s\n", highlight(t.ID()), statusText(m.Status))
		fmt.Fprintf(w, "  flow:     %s (step %d, loop %d)\n", m.FlowName, m.FlowStep, m.LoopStep)
		if chain, err := a.flows.Chain(m.FlowName); err == nil && len(chain) > 1 {
			fmt.Fprintf(w, "  chain:    %s\n", strings.Join(chain, " -> "))
		}
		if agent := t.Agent(); agent != "" {
			fmt.Fprintf(w, "  agent:    %s\n", agent)
		}
		fmt.Fprintf(w, "  worktree: %s\n", m.WorktreePath)
		fmt.Fprintf(w, "  updated:  %s\n", t.Since())
		if m.LinkedPR != nil {
			fmt.Fprintf(w, "  pr:       #%d %s\n", m.LinkedPR.Number, m.LinkedPR.URL)
		}
		if m.ReviewAfter {
			fmt.Fprintln(w, "  review after flow: yes")
		}

		if q := t.FeedbackQueue(); len(q) > 0 {
			fmt.Fprintf(w, "\nQueued feedback (%d):\n", len(q))
			for i, item := range q {
				fmt.Fprintf(w, "  %d. %s\n", i+1, firstLine(item))
			}
		}

		runs, err := a.ledger.ListRuns(cmd.Context(), t.ID(), 10)
		if err != nil {
			return err
		}
		if len(runs) > 0 {
			fmt.Fprintln(w, "\nRecent runs:")
			tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "  STARTED\tFLOW\tSTEP\tAGENT\tSIGNAL\tERROR")
			for _, r := range runs {
				sig := r.Signal
				switch {
				case !r.Finished():
					sig = "(running)"
				case r.PreCheck:
					sig = "(pre-check)"
				}
				fmt.Fprintf(tw, "  %s\t%s\t%d.%d\t%s\t%s\t%s\n",
					r.StartedAt.Local().Format("01-02 15:04"), r.Flow, r.Step, r.LoopStep, r.Agent, sig, firstLine(r.Error))
			}
			tw.Flush()
		}

		halts, err := a.ledger.ListHalts(cmd.Context(), t.ID(), 5)
		if err != nil {
			return err
		}
		if len(halts) > 0 {
			fmt.Fprintln(w, "\nRecent halts:")
			for _, h := range halts {
				fmt.Fprintf(w, "  %s  %s %s step %d: %s\n",
					h.CreatedAt.Local().Format("01-02 15:04"), h.Flow, h.Reason, h.Step, firstLine(h.Message))
			}
		}
		return nil
	},
}

func init() {
	listCmd.Flags().BoolVar(&listArchived, "archived", false, "list archived tasks instead")
	rootCmd.AddCommand(listCmd, statusCmd)
}

func writeTaskTable(w io.Writer, tasks []*task.Task) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tFLOW\tSTEP\tAGENT\tQUEUE\tUPDATED")
	for _, t := range tasks {
		agent := t.Agent()
		if agent == "" {
			agent = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%d\t%s\n",
			t.ID(), t.Meta.Status.Label(), t.Meta.FlowName, t.Meta.FlowStep, agent, len(t.Meta.Feedback), t.Since())
	}
	tw.Flush()
}

func firstLine(s string) string {
	s, _, _ = strings.Cut(strings.TrimSpace(s), "\n")
	return s
}
