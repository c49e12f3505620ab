package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aristath/agman/internal/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Install the default flows, prompts, commands and config",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := current
		w := cmd.OutOrStdout()
		written, err := a.paths.InitDefaultFiles(initForce)
		if err != nil {
			return err
		}
		for _, path := range written {
			fmt.Fprintf(w, "  %s %s\n", success("+"), path)
		}

		if _, err := os.Stat(a.paths.Config); os.IsNotExist(err) || initForce {
			home, herr := os.UserHomeDir()
			if herr != nil {
				return herr
			}
			if err := config.Save(config.DefaultConfig(home), a.paths.Config); err != nil {
				return err
			}
			fmt.Fprintf(w, "  %s %s\n", success("+"), a.paths.Config)
		}

		if err := a.flows.ValidateChains(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s %v\n", warning("warning:"), err)
		}
		fmt.Fprintf(w, "%s agman home ready at %s\n", success("✓"), highlight(a.paths.Base))
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite existing files with the bundled versions")
	rootCmd.AddCommand(initCmd)
}
