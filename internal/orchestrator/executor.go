// Package orchestrator drives tasks through flows: the executor is the
// per-task state machine and the dispatcher starts runs for long-lived
// drivers.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/agman/internal/events"
	"github.com/aristath/agman/internal/faults"
	"github.com/aristath/agman/internal/flow"
	"github.com/aristath/agman/internal/persistence"
	"github.com/aristath/agman/internal/task"
)

// AgentInvoker runs one agent against a task and reports the last signal it
// printed. *agent.Invoker implements it.
type AgentInvoker interface {
	Invoke(ctx context.Context, agentName string, t *task.Task) (flow.Signal, error)
}

// Executor applies a flow to a task, one step at a time, persisting the task
// after every transition so an interrupted run resumes where it stopped.
type Executor struct {
	Invoker  AgentInvoker
	Hooks    *HookRegistry      // nil uses the built-in hooks
	PreCheck PreChecker         // nil uses ShellPreChecker
	Bus      *events.Bus        // optional
	Ledger   persistence.Ledger // optional
	Logger   zerolog.Logger

	// MaxIdleRetries bounds consecutive agent runs that end without a
	// signal. 0 retries forever.
	MaxIdleRetries int
}

var builtinHooks = NewHookRegistry()

func (e *Executor) hooks() *HookRegistry {
	if e.Hooks == nil {
		return builtinHooks
	}
	return e.Hooks
}

func (e *Executor) preChecker() PreChecker {
	if e.PreCheck == nil {
		return ShellPreChecker{}
	}
	return e.PreCheck
}

// flowRun is the state of one Run or RunStep call.
type flowRun struct {
	*Executor
	f    *flow.Flow
	t    *task.Task
	log  zerolog.Logger
	idle int
	last flow.Signal

	// prev is the status the task had before the run marked it running;
	// started is set once it has.
	prev    task.Status
	started bool
}

func (e *Executor) newRun(f *flow.Flow, t *task.Task) *flowRun {
	return &flowRun{
		Executor: e,
		f:        f,
		t:        t,
		log:      e.Logger.With().Str("task", t.ID()).Str("flow", f.Name).Logger(),
	}
}

// Run drives t through f from its persisted position until the flow halts.
// The returned error is non-nil only for fatal faults, in which case the
// task is left as last persisted and the outcome reason is HaltFatal.
func (e *Executor) Run(ctx context.Context, f *flow.Flow, t *task.Task) (Outcome, error) {
	r := e.newRun(f, t)

	if err := e.hooks().Validate(f); err != nil {
		return r.fatal(ctx, err)
	}
	if err := t.Reload(); err != nil {
		return r.fatal(ctx, err)
	}
	if t.Meta.FlowName != f.Name {
		r.log.Info().Str("from", t.Meta.FlowName).Msg("switching task to flow")
		if err := t.ChangeFlow(f.Name); err != nil {
			return r.fatal(ctx, err)
		}
	}
	if err := r.markRunning(); err != nil {
		return r.fatal(ctx, err)
	}
	r.log.Info().Int("step", t.Meta.FlowStep).Int("loop_step", t.Meta.LoopStep).Msg("flow started")

	for {
		if ctx.Err() != nil {
			return r.halt(ctx, task.StatusStopped, HaltBlocked, "interrupted")
		}
		if err := t.Reload(); err != nil {
			return r.fatal(ctx, err)
		}
		if st := t.Meta.Status; st != task.StatusRunning {
			return r.halt(ctx, "", HaltBlocked, fmt.Sprintf("task was set to %s", st))
		}

		var (
			out *Outcome
			err error
		)
		switch s := f.Step(t.Meta.FlowStep).(type) {
		case nil:
			return r.halt(ctx, task.StatusStopped, HaltExhausted, "all steps complete")
		case *flow.AgentStep:
			out, err = r.agentStep(ctx, s)
		case *flow.LoopStep:
			out, err = r.loopStep(ctx, s)
		default:
			err = fmt.Errorf("unsupported step type %T", s)
		}
		if err != nil {
			return r.fatal(ctx, err)
		}
		if out != nil {
			return *out, nil
		}
	}
}

// RunStep runs a single agent against t outside any flow. With loop set the
// agent is re-run until it prints a signal. The task's flow position is not
// touched.
func (e *Executor) RunStep(ctx context.Context, agentName string, t *task.Task, loop bool) (flow.Signal, error) {
	r := e.newRun(&flow.Flow{Name: t.Meta.FlowName}, t)
	if err := t.Reload(); err != nil {
		return flow.SignalNone, err
	}
	if err := r.markRunning(); err != nil {
		return flow.SignalNone, err
	}

	step := &flow.AgentStep{Agent: agentName}
	sig := flow.SignalNone
	for attempt := 1; ; attempt++ {
		var err error
		sig, err = r.execute(ctx, step)
		if err != nil {
			r.restore(err)
			return flow.SignalNone, err
		}
		if sig != flow.SignalNone || !loop || ctx.Err() != nil {
			break
		}
		if e.MaxIdleRetries > 0 && attempt > e.MaxIdleRetries {
			break
		}
		if err := t.Reload(); err != nil {
			return flow.SignalNone, err
		}
		if t.Meta.Status != task.StatusRunning {
			return sig, t.Halt("")
		}
	}

	status := task.StatusStopped
	if sig == flow.SignalInputNeeded {
		status = task.StatusInputNeeded
	}
	from := t.Meta.Status
	if err := t.Halt(status); err != nil {
		return sig, err
	}
	r.statusChanged(from, status)
	return sig, nil
}

// agentStep runs one plain step. A nil outcome means keep going.
func (r *flowRun) agentStep(ctx context.Context, s *flow.AgentStep) (*Outcome, error) {
	sig, err := r.execute(ctx, s)
	if err != nil {
		return nil, err
	}
	if out, err := r.externallyChanged(); out != nil || err != nil {
		return out, err
	}

	switch {
	case sig == flow.SignalNone:
		return r.noSignal(ctx, s.Agent)
	case sig == flow.SignalInputNeeded:
		return r.haltPtr(ctx, task.StatusInputNeeded, HaltBlocked, s.Agent+" needs input")
	case sig == s.Until:
		if err := r.hooks().Run(ctx, s.PostHook, r.t); err != nil {
			return nil, err
		}
		return r.advance(ctx)
	case sig == flow.SignalTaskComplete:
		return r.haltPtr(ctx, task.StatusStopped, HaltTerminal, s.Agent+" reported the task complete")
	case s.FailPolicy() == flow.FailContinue:
		r.log.Warn().Str("agent", s.Agent).Stringer("signal", sig).Stringer("until", s.Until).Msg("step failed, continuing")
		return r.advance(ctx)
	default:
		return r.haltPtr(ctx, task.StatusStopped, HaltBlocked,
			fmt.Sprintf("%s ended with %s, expected %s", s.Agent, sig, s.Until))
	}
}

// loopStep runs the inner step at the persisted loop position.
func (r *flowRun) loopStep(ctx context.Context, s *flow.LoopStep) (*Outcome, error) {
	n := len(s.Steps)
	j := r.t.Meta.LoopStep
	if j < 0 || j >= n {
		r.log.Warn().Int("loop_step", j).Msg("loop position out of range, restarting loop")
		j = 0
		if err := r.t.SetLoopStep(0); err != nil {
			return nil, err
		}
	}
	inner := &s.Steps[j]

	sig, err := r.execute(ctx, inner)
	if err != nil {
		return nil, err
	}
	if out, err := r.externallyChanged(); out != nil || err != nil {
		return out, err
	}

	switch {
	case sig == flow.SignalNone:
		return r.noSignal(ctx, inner.Agent)
	case sig == flow.SignalInputNeeded:
		return r.haltPtr(ctx, task.StatusInputNeeded, HaltBlocked, inner.Agent+" needs input")
	case sig == s.Until:
		// The inner step's own hook only runs for its own signal.
		if sig == inner.Until {
			if err := r.hooks().Run(ctx, inner.PostHook, r.t); err != nil {
				return nil, err
			}
		}
		return r.advance(ctx)
	case sig == inner.Until:
		if err := r.hooks().Run(ctx, inner.PostHook, r.t); err != nil {
			return nil, err
		}
		return nil, r.t.SetLoopStep((j + 1) % n)
	case sig == flow.SignalTaskComplete:
		return r.haltPtr(ctx, task.StatusStopped, HaltTerminal, inner.Agent+" reported the task complete")
	case inner.FailPolicy() == flow.FailContinue:
		r.log.Warn().Str("agent", inner.Agent).Stringer("signal", sig).Stringer("until", inner.Until).Msg("loop step failed, continuing")
		return nil, r.t.SetLoopStep((j + 1) % n)
	default:
		return r.haltPtr(ctx, task.StatusStopped, HaltBlocked,
			fmt.Sprintf("%s ended with %s, expected %s", inner.Agent, sig, inner.Until))
	}
}

// execute runs s once, via its pre_check or the agent, and records it.
func (r *flowRun) execute(ctx context.Context, s *flow.AgentStep) (flow.Signal, error) {
	step, loopStep := r.t.Meta.FlowStep, r.t.Meta.LoopStep
	start := time.Now()

	runID := r.startRun(ctx, s.Agent, step, loopStep)
	r.Bus.Publish(events.TopicStep, events.StepStartedEvent{
		ID:        r.t.ID(),
		Flow:      r.f.Name,
		Step:      step,
		LoopStep:  loopStep,
		Agent:     s.Agent,
		Timestamp: start,
	})

	sig, preCheck, err := r.invoke(ctx, s)
	r.finishRun(ctx, runID, sig, preCheck, err)
	if err != nil {
		return flow.SignalNone, err
	}

	r.Bus.Publish(events.TopicStep, events.StepFinishedEvent{
		ID:        r.t.ID(),
		Agent:     s.Agent,
		Signal:    sig.String(),
		PreCheck:  preCheck,
		Duration:  time.Since(start),
		Timestamp: time.Now(),
	})
	r.log.Info().Str("agent", s.Agent).Int("step", step).Int("loop_step", loopStep).
		Stringer("signal", sig).Bool("pre_check", preCheck).Dur("duration", time.Since(start)).Msg("step finished")

	if sig != flow.SignalNone {
		r.idle = 0
		r.last = sig
	}
	return sig, nil
}

func (r *flowRun) invoke(ctx context.Context, s *flow.AgentStep) (flow.Signal, bool, error) {
	if s.PreCheck != "" {
		ok, err := r.preChecker().Satisfied(ctx, r.workDir(), s.PreCheck)
		if err != nil {
			r.log.Warn().Err(err).Str("agent", s.Agent).Msg("pre_check could not run")
		}
		if ok {
			return s.Until, true, nil
		}
	}
	if err := r.t.SetAgent(s.Agent); err != nil {
		return flow.SignalNone, false, err
	}
	sig, err := r.Invoker.Invoke(ctx, s.Agent, r.t)
	return sig, false, err
}

func (r *flowRun) workDir() string {
	if wt := r.t.Meta.WorktreePath; wt != "" {
		if info, err := os.Stat(wt); err == nil && info.IsDir() {
			return wt
		}
	}
	return r.t.Dir
}

// externallyChanged re-reads the task after an agent ran. If another process
// took it out of running meanwhile, the step's result is dropped and the
// run halts with that status kept.
func (r *flowRun) externallyChanged() (*Outcome, error) {
	if err := r.t.Reload(); err != nil {
		return nil, err
	}
	if st := r.t.Meta.Status; st != task.StatusRunning {
		return r.haltPtr(context.Background(), "", HaltBlocked, fmt.Sprintf("task was set to %s", st))
	}
	return nil, nil
}

func (r *flowRun) noSignal(ctx context.Context, agentName string) (*Outcome, error) {
	r.idle++
	if r.MaxIdleRetries > 0 && r.idle > r.MaxIdleRetries {
		return r.haltPtr(ctx, task.StatusStopped, HaltBlocked,
			fmt.Sprintf("%s exited without a signal %d times", agentName, r.idle))
	}
	r.log.Warn().Str("agent", agentName).Int("attempt", r.idle).Msg("agent exited without a signal, retrying")
	return nil, nil
}

// advance moves to the next step, halting when the flow is done.
func (r *flowRun) advance(ctx context.Context) (*Outcome, error) {
	if err := r.t.AdvanceStep(); err != nil {
		return nil, err
	}
	if r.f.IsComplete(r.t.Meta.FlowStep) {
		return r.haltPtr(ctx, task.StatusStopped, HaltExhausted, "all steps complete")
	}
	return nil, nil
}

// markRunning remembers the task's status and marks it running.
func (r *flowRun) markRunning() error {
	r.prev = r.t.Meta.Status
	if err := r.setStatus(task.StatusRunning); err != nil {
		return err
	}
	r.started = true
	return nil
}

func (r *flowRun) setStatus(s task.Status) error {
	from := r.t.Meta.Status
	if err := r.t.UpdateStatus(s); err != nil {
		return err
	}
	r.statusChanged(from, s)
	return nil
}

func (r *flowRun) statusChanged(from, to task.Status) {
	if from == to {
		return
	}
	r.Bus.Publish(events.TopicTask, events.StatusChangedEvent{
		ID:        r.t.ID(),
		From:      string(from),
		To:        string(to),
		Timestamp: time.Now(),
	})
}

// halt ends the run. status "" keeps whatever status the task has.
func (r *flowRun) halt(ctx context.Context, status task.Status, reason HaltReason, msg string) (Outcome, error) {
	out := Outcome{Reason: reason, Signal: r.last, Step: r.t.Meta.FlowStep, Message: msg}

	from := r.t.Meta.Status
	if err := r.t.Halt(status); err != nil {
		return r.fatal(ctx, err)
	}
	if status != "" {
		r.statusChanged(from, status)
	}

	r.recordHalt(ctx, out, nil)
	r.log.Info().Str("reason", string(reason)).Int("step", out.Step).Stringer("signal", out.Signal).
		Str("status", string(r.t.Meta.Status)).Msg(msg)
	return out, nil
}

func (r *flowRun) haltPtr(ctx context.Context, status task.Status, reason HaltReason, msg string) (*Outcome, error) {
	out, err := r.halt(ctx, status, reason, msg)
	return &out, err
}

// fatal reports a fault. The flow position is left as last persisted.
func (r *flowRun) fatal(ctx context.Context, err error) (Outcome, error) {
	out := Outcome{Reason: HaltFatal, Signal: r.last, Step: r.t.Meta.FlowStep, Message: err.Error()}
	r.restore(err)
	r.recordHalt(ctx, out, err)
	r.log.Error().Err(err).Int("step", out.Step).Msg("flow halted on fatal error")
	return out, err
}

// restore puts a task this run marked running back to the status it had
// before, clearing its agent, so the run can simply be retried. A failed
// write is not followed by another one. A task that was already running
// (a forced recovery) goes back to stopped.
func (r *flowRun) restore(err error) {
	if !r.started || faults.IsPersistence(err) {
		return
	}
	if rerr := r.t.Reload(); rerr != nil {
		r.log.Warn().Err(rerr).Msg("failed to reload task after fatal error")
		return
	}
	if r.t.Meta.Status != task.StatusRunning {
		return
	}
	status := r.prev
	if status == "" || status == task.StatusRunning {
		status = task.StatusStopped
	}
	if herr := r.t.Halt(status); herr != nil {
		r.log.Warn().Err(herr).Msg("failed to restore task status after fatal error")
		return
	}
	r.started = false
	r.statusChanged(task.StatusRunning, status)
}

func (r *flowRun) recordHalt(ctx context.Context, out Outcome, err error) {
	r.Bus.Publish(events.TopicStep, events.FlowHaltedEvent{
		ID:        r.t.ID(),
		Flow:      r.f.Name,
		Reason:    string(out.Reason),
		Signal:    out.Signal.String(),
		Step:      out.Step,
		Message:   out.Message,
		Err:       err,
		Timestamp: time.Now(),
	})
	if r.Ledger == nil {
		return
	}
	if lerr := r.Ledger.RecordHalt(context.WithoutCancel(ctx), persistence.Halt{
		TaskID:  r.t.ID(),
		Flow:    r.f.Name,
		Reason:  string(out.Reason),
		Signal:  out.Signal.String(),
		Step:    out.Step,
		Message: out.Message,
	}); lerr != nil {
		r.log.Warn().Err(lerr).Msg("failed to record halt")
	}
}

func (r *flowRun) startRun(ctx context.Context, agentName string, step, loopStep int) string {
	if r.Ledger == nil {
		return ""
	}
	id, err := r.Ledger.StartRun(ctx, persistence.Run{
		TaskID:   r.t.ID(),
		Flow:     r.f.Name,
		Step:     step,
		LoopStep: loopStep,
		Agent:    agentName,
	})
	if err != nil {
		r.log.Warn().Err(err).Msg("failed to record run start")
		return ""
	}
	return id
}

func (r *flowRun) finishRun(ctx context.Context, runID string, sig flow.Signal, preCheck bool, runErr error) {
	if r.Ledger == nil || runID == "" {
		return
	}
	result := persistence.RunResult{PreCheck: preCheck, Err: runErr}
	if sig != flow.SignalNone {
		result.Signal = sig.String()
	}
	if err := r.Ledger.FinishRun(context.WithoutCancel(ctx), runID, result); err != nil {
		r.log.Warn().Err(err).Msg("failed to record run result")
	}
}
