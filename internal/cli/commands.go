package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aristath/agman/internal/orchestrator"
)

var runCommandForce bool

var commandsCmd = &cobra.Command{
	Use:   "commands",
	Short: "List stored commands",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := current
		cmds, err := a.commands.List(func(path string, err error) {
			a.logger.Warn().Err(err).Str("path", path).Msg("skipping unreadable command")
			fmt.Fprintf(cmd.ErrOrStderr(), "%s skipped %s: %v\n", warning("!"), path, err)
		})
		if err != nil {
			return err
		}
		if len(cmds) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "No commands in %s. Run: agman init\n", a.paths.Commands)
			return nil
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tARG\tDESCRIPTION")
		for _, c := range cmds {
			arg := c.RequiresArg
			if arg == "" {
				arg = "-"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.ID, c.Name, arg, c.Description)
		}
		return tw.Flush()
	},
}

var runCommandCmd = &cobra.Command{
	Use:   "run-command <task> <command> [branch]",
	Short: "Run a stored command's flow against a task",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := current
		t, err := a.task(args[0])
		if err != nil {
			return err
		}
		if err := a.ensureIdle(t, runCommandForce); err != nil {
			return err
		}
		var arg string
		if len(args) == 3 {
			arg = args[2]
		}
		f, err := a.commandFlow(t, args[1], arg)
		if err != nil {
			return err
		}
		if err := t.ChangeFlow(f.Name); err != nil {
			return err
		}
		return a.drive(cmd, orchestrator.Request{Task: t, Flow: f, Chain: true, Force: runCommandForce})
	},
}

func init() {
	runCommandCmd.Flags().BoolVar(&runCommandForce, "force", false, "run on a task whose status says it is running")
	rootCmd.AddCommand(commandsCmd, runCommandCmd)
}
