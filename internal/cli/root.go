// Package cli is the agman command line: one file per command family, each
// registering its commands in init.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// current is the wired application for the command being executed.
var current *app

var rootCmd = &cobra.Command{
	Use:   "agman",
	Short: "Drive coding agents through flows, one git worktree per task",
	Long: `agman runs coding agents against tasks. Each task lives on its own
branch in its own worktree and moves through a flow of agent steps until an
agent signals that it is done, needs input, or fails.

Without a subcommand agman opens the dashboard.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if current != nil {
			return nil
		}
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		current = a
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDashboard(cmd, args)
	},
}

// exitError carries a process exit code. A nil err means the reason was
// already printed.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// errBlocked ends a command whose flow halted waiting for a human.
var errBlocked = &exitError{code: 2}

// Execute runs the command line and returns the process exit code: 0 on
// success, 2 when a flow halted blocked, 1 for everything else.
func Execute(ctx context.Context) int {
	return execute(ctx, os.Args[1:])
}

func execute(ctx context.Context, args []string) int {
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(ctx)
	if current != nil {
		if cerr := current.Close(); cerr != nil && err == nil {
			err = cerr
		}
		current = nil
	}
	if err == nil {
		return 0
	}

	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintln(rootCmd.ErrOrStderr(), failure("Error:"), ee.err)
		}
		return ee.code
	}
	fmt.Fprintln(rootCmd.ErrOrStderr(), failure("Error:"), err)
	return 1
}
