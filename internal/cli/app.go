package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/aristath/agman/internal/agent"
	"github.com/aristath/agman/internal/config"
	"github.com/aristath/agman/internal/events"
	"github.com/aristath/agman/internal/flow"
	"github.com/aristath/agman/internal/logging"
	"github.com/aristath/agman/internal/orchestrator"
	"github.com/aristath/agman/internal/persistence"
	"github.com/aristath/agman/internal/reconcile"
	"github.com/aristath/agman/internal/task"
	"github.com/aristath/agman/internal/worktree"
)

// app holds everything a command needs, wired from the configuration.
type app struct {
	paths      config.Paths
	cfg        *config.Config
	logger     zerolog.Logger
	logFile    io.Closer
	bus        *events.Bus
	store      *task.Store
	flows      *flow.Catalog
	commands   *flow.CommandSet
	worktrees  *worktree.Manager
	procs      *agent.ProcessManager
	ledger     *persistence.SQLiteStore
	executor   *orchestrator.Executor
	dispatcher *orchestrator.Dispatcher
}

func newApp(ctx context.Context) (*app, error) {
	paths, err := config.DefaultPaths()
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadDefault(paths)
	if err != nil {
		return nil, err
	}
	logger, logFile, err := logging.Setup(paths.Log, cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	if err := paths.EnsureDirs(); err != nil {
		logFile.Close()
		return nil, err
	}
	backend, err := agent.ResolveBackend(cfg.Agent.Backend, cfg.Agent.Command, cfg.Agent.Args)
	if err != nil {
		logFile.Close()
		return nil, err
	}
	ledger, err := persistence.NewSQLiteStore(ctx, paths.Ledger)
	if err != nil {
		logFile.Close()
		return nil, err
	}

	a := &app{
		paths:     paths,
		cfg:       cfg,
		logger:    logger,
		logFile:   logFile,
		bus:       events.NewBus(),
		store:     task.NewStore(paths.Tasks, logger.With().Str("component", "store").Logger()),
		flows:     flow.NewCatalog(paths.Flows),
		commands:  &flow.CommandSet{Dir: paths.Commands},
		worktrees: worktree.NewManager(worktree.ManagerConfig{ReposDir: cfg.ReposDir}),
		procs:     agent.NewProcessManager(),
		ledger:    ledger,
	}
	a.executor = &orchestrator.Executor{
		Invoker: &agent.Invoker{
			PromptsDir: paths.Prompts,
			Backend:    backend,
			Procs:      a.procs,
			Diffs:      a.worktrees,
			Bus:        a.bus,
			Logger:     logger.With().Str("component", "agent").Logger(),
		},
		Hooks:          orchestrator.NewHookRegistry(),
		PreCheck:       orchestrator.ShellPreChecker{Timeout: cfg.Runner.PreCheckTimeout.Duration},
		Bus:            a.bus,
		Ledger:         ledger,
		Logger:         logger.With().Str("component", "executor").Logger(),
		MaxIdleRetries: cfg.Runner.MaxIdleRetries,
	}
	a.dispatcher = orchestrator.NewDispatcher(orchestrator.DispatcherConfig{
		Executor:         a.executor,
		Flows:            a.definitions(),
		Commands:         a.commands,
		ConcurrencyLimit: cfg.Runner.Concurrency,
		Bus:              a.bus,
		Logger:           logger.With().Str("component", "dispatcher").Logger(),
	})

	// Agents die with us.
	go func() {
		<-ctx.Done()
		if err := a.procs.KillAll(); err != nil {
			a.logger.Warn().Err(err).Msg("failed to kill agents on shutdown")
		}
	}()

	logger.Debug().Str("home", paths.Base).Str("backend", backend.String()).Msg("agman started")
	return a, nil
}

// Close waits for background runs and releases resources.
func (a *app) Close() error {
	a.dispatcher.Wait()
	a.bus.Close()
	errs := []error{a.ledger.Close()}
	if a.logFile != nil {
		errs = append(errs, a.logFile.Close())
	}
	return errors.Join(errs...)
}

// definitions resolves a flow name in the flow catalog, falling back to
// stored commands so a task left on a command's flow can still be driven.
type definitions struct {
	flows    *flow.Catalog
	commands *flow.CommandSet
}

func (d definitions) Load(name string) (*flow.Flow, error) {
	f, err := d.flows.Load(name)
	if err == nil {
		return f, nil
	}
	if cmd, cerr := d.commands.Get(name); cerr == nil {
		return cmd.Flow()
	}
	return nil, err
}

func (a *app) retryConfig() reconcile.RetryConfig {
	r := a.cfg.Poll.Retry
	return reconcile.RetryConfig{
		InitialInterval:     r.InitialInterval.Duration,
		MaxInterval:         r.MaxInterval.Duration,
		MaxElapsedTime:      r.MaxElapsedTime.Duration,
		Multiplier:          r.Multiplier,
		RandomizationFactor: r.Jitter,
	}
}

func (a *app) breakerConfig() reconcile.BreakerConfig {
	return reconcile.BreakerConfig{
		MaxFailures: a.cfg.Poll.Breaker.MaxFailures,
		OpenTimeout: a.cfg.Poll.Breaker.OpenTimeout.Duration,
	}
}

// task resolves a task reference given on the command line.
func (a *app) task(ref string) (*task.Task, error) {
	return a.store.Find(ref)
}

// drive runs a request in the foreground and maps the outcome to an exit
// status.
func (a *app) drive(cmd *cobra.Command, req orchestrator.Request) error {
	out, err := a.dispatcher.Drive(cmd.Context(), req)
	if errors.Is(err, orchestrator.ErrAlreadyRunning) {
		return fmt.Errorf("%w; use --force if no agman process is driving it", err)
	}
	printOutcome(cmd.OutOrStdout(), req.Task, out)
	if err != nil {
		return &exitError{code: 1, err: err}
	}
	if out.Reason == orchestrator.HaltBlocked {
		return errBlocked
	}
	return nil
}

// deleteTask kills the task's agent, removes its worktree and branch unless
// kept, and drops its record and ledger rows.
func (a *app) deleteTask(ctx context.Context, t *task.Task, keepWorktree bool) error {
	if _, err := a.procs.Kill(t.ID()); err != nil {
		a.logger.Warn().Err(err).Str("task", t.ID()).Msg("failed to kill agent")
	}
	var errs []error
	if !keepWorktree && t.Meta.WorktreePath != "" {
		if err := a.worktrees.Remove(ctx, t.Meta.RepoName, t.Meta.WorktreePath, t.Meta.BranchName, true); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.ledger.DeleteTask(ctx, t.ID()); err != nil {
		errs = append(errs, err)
	}
	if err := a.store.Delete(t); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// commandFlow loads a stored command's flow, writing its argument to the
// task when the command takes one.
func (a *app) commandFlow(t *task.Task, id, arg string) (*flow.Flow, error) {
	c, err := a.commands.Get(id)
	if err != nil {
		return nil, err
	}
	switch {
	case c.RequiresArg == flow.ArgBranch && arg == "":
		return nil, fmt.Errorf("command %s needs a branch argument", c.ID)
	case c.RequiresArg == flow.ArgBranch:
		if err := t.WriteBranchTarget(arg); err != nil {
			return nil, err
		}
	case arg != "":
		return nil, fmt.Errorf("command %s takes no argument", c.ID)
	}
	return c.Flow()
}
