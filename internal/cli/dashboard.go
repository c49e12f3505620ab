package cli

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/aristath/agman/internal/config"
	"github.com/aristath/agman/internal/orchestrator"
	"github.com/aristath/agman/internal/reconcile"
	"github.com/aristath/agman/internal/task"
	"github.com/aristath/agman/internal/tui"
)

var dashboardCmd = &cobra.Command{
	Use:     "tui",
	Aliases: []string{"dashboard"},
	Short:   "Open the interactive task dashboard",
	Args:    cobra.NoArgs,
	RunE:    runDashboard,
}

func init() {
	rootCmd.AddCommand(dashboardCmd)
}

func runDashboard(cmd *cobra.Command, args []string) error {
	a := current
	ctx := cmd.Context()
	model := tui.New(a.bus, dashboardActions{app: a, ctx: ctx}, a.cfg, a.paths.Config, config.ProjectConfigPath)
	p := tea.NewProgram(model, tea.WithAltScreen())

	errCh := make(chan error, 1)
	go func() {
		_, err := p.Run()
		errCh <- err
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		a.logger.Info().Msg("shutdown signal received")
		p.Quit()
		select {
		case err := <-errCh:
			return err
		case <-time.After(10 * time.Second):
			a.logger.Warn().Msg("dashboard did not exit in time")
			return ctx.Err()
		}
	}
}

// dashboardActions carries out dashboard key presses.
type dashboardActions struct {
	app *app
	ctx context.Context
}

func (d dashboardActions) Tasks() ([]*task.Task, error) {
	return d.app.store.List()
}

func (d dashboardActions) Activity() tui.Activity {
	return tui.Activity{Flows: d.app.dispatcher.Active(), Agents: d.app.procs.Count()}
}

func (d dashboardActions) Run(t *task.Task) error {
	return d.app.dispatcher.Start(d.ctx, orchestrator.Request{Task: t, Chain: true})
}

func (d dashboardActions) Stop(t *task.Task) error {
	if _, err := d.app.procs.Kill(t.ID()); err != nil {
		d.app.logger.Warn().Err(err).Str("task", t.ID()).Msg("failed to kill agent")
	}
	return reconcile.Stop(t)
}

func (d dashboardActions) Feedback(t *task.Task, text string) error {
	route, err := reconcile.SubmitFeedback(t, text)
	if err != nil || route == reconcile.FeedbackQueued {
		return err
	}
	return d.app.startFlow(d.ctx, t, ContinueFlow)
}

func (d dashboardActions) ToggleHold(t *task.Task) error {
	if t.Meta.Status == task.StatusOnHold {
		return reconcile.Release(t)
	}
	return reconcile.Hold(t)
}
