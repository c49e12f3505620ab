package cli

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/aristath/agman/internal/orchestrator"
	"github.com/aristath/agman/internal/task"
)

var (
	newFlow        string
	newReviewAfter bool
	newRun         bool
	newNoWorktree  bool
)

var newCmd = &cobra.Command{
	Use:   "new [repo] [branch] [goal...]",
	Short: "Create a task on a new worktree",
	Long: `Create a task for a repository under the repos directory. The task gets
its own worktree at <repos>/<repo>-wt/<branch>, created from the branch when
it exists and as a new branch otherwise.

Missing arguments are asked for interactively.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a := current
		var repo, branch, goal string
		if len(args) > 0 {
			repo = args[0]
		}
		if len(args) > 1 {
			branch = args[1]
		}
		if len(args) > 2 {
			goal = strings.Join(args[2:], " ")
		}
		if repo == "" || branch == "" || goal == "" {
			if err := askNewTask(cmd, &repo, &branch, &goal); err != nil {
				return err
			}
		}
		if _, err := a.flows.Load(newFlow); err != nil {
			return err
		}

		t, err := a.createTask(cmd, repo, branch, goal)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s created %s on flow %s\n", success("✓"), highlight(t.ID()), t.Meta.FlowName)
		if t.Meta.WorktreePath != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "  worktree: %s\n", t.Meta.WorktreePath)
		}
		if !newRun {
			return nil
		}
		return a.drive(cmd, orchestrator.Request{Task: t, Chain: true})
	},
}

func init() {
	newCmd.Flags().StringVar(&newFlow, "flow", "new", "flow to start the task on")
	newCmd.Flags().BoolVar(&newReviewAfter, "review-after", false, "review the PR once the flow succeeds")
	newCmd.Flags().BoolVar(&newRun, "run", false, "start the flow right away")
	newCmd.Flags().BoolVar(&newNoWorktree, "no-worktree", false, "do not create a git worktree")
	rootCmd.AddCommand(newCmd)
}

// createTask creates the worktree and then the task record, removing the
// worktree again if the record cannot be written.
func (a *app) createTask(cmd *cobra.Command, repo, branch, goal string) (*task.Task, error) {
	ctx := cmd.Context()
	var path string
	if !newNoWorktree {
		info, err := a.worktrees.Create(ctx, repo, branch)
		if err != nil {
			return nil, err
		}
		path = info.Path
	}

	t, err := a.store.Create(task.NewParams{
		Repo:         repo,
		Branch:       branch,
		Goal:         goal,
		Flow:         newFlow,
		WorktreePath: path,
		ReviewAfter:  newReviewAfter,
	})
	if err != nil && path != "" {
		if rerr := a.worktrees.Remove(ctx, repo, path, branch, false); rerr != nil {
			err = errors.Join(err, rerr)
		}
	}
	return t, err
}

// askNewTask fills in missing task fields with a form.
func askNewTask(cmd *cobra.Command, repo, branch, goal *string) error {
	var fields []huh.Field
	if *repo == "" {
		repos, err := listRepos(current.cfg.ReposDir)
		if err != nil {
			return err
		}
		if len(repos) == 0 {
			return fmt.Errorf("no repositories in %s", current.cfg.ReposDir)
		}
		fields = append(fields, huh.NewSelect[string]().
			Title("Repository").
			Options(huh.NewOptions(repos...)...).
			Value(repo))
	}
	if *branch == "" {
		fields = append(fields, huh.NewInput().
			Title("Branch").
			Value(branch).
			Validate(func(s string) error {
				if strings.TrimSpace(s) == "" {
					return errors.New("branch is required")
				}
				return nil
			}))
	}
	if *goal == "" {
		fields = append(fields, huh.NewText().
			Title("Goal").
			Description("What should the agents accomplish?").
			Value(goal).
			Validate(func(s string) error {
				if strings.TrimSpace(s) == "" {
					return errors.New("goal is required")
				}
				return nil
			}))
	}
	if err := huh.NewForm(huh.NewGroup(fields...)).RunWithContext(cmd.Context()); err != nil {
		return err
	}
	*branch = strings.TrimSpace(*branch)
	return nil
}

// listRepos returns the repositories under dir, skipping worktree
// directories and hidden entries.
func listRepos(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var repos []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || strings.HasPrefix(name, ".") || strings.HasSuffix(name, "-wt") {
			continue
		}
		repos = append(repos, name)
	}
	sort.Strings(repos)
	return repos, nil
}
