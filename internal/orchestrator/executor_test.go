package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/agman/internal/events"
	"github.com/aristath/agman/internal/faults"
	"github.com/aristath/agman/internal/flow"
	"github.com/aristath/agman/internal/persistence"
	"github.com/aristath/agman/internal/task"
)

// scriptedInvoker replays a fixed sequence of signals, one per invocation.
type scriptedInvoker struct {
	mu      sync.Mutex
	signals []flow.Signal
	calls   []string
	// before runs ahead of each invocation with its 1-based number.
	before func(n int, t *task.Task) error
}

func (s *scriptedInvoker) Invoke(ctx context.Context, agentName string, t *task.Task) (flow.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, agentName)
	if s.before != nil {
		if err := s.before(len(s.calls), t); err != nil {
			return flow.SignalNone, err
		}
	}
	if len(s.signals) == 0 {
		return flow.SignalNone, fmt.Errorf("unexpected invocation %d of %s", len(s.calls), agentName)
	}
	sig := s.signals[0]
	s.signals = s.signals[1:]
	return sig, nil
}

func (s *scriptedInvoker) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

const (
	none     = flow.SignalNone
	done     = flow.SignalAgentDone
	complete = flow.SignalTaskComplete
	input    = flow.SignalInputNeeded
	pass     = flow.SignalTestsPass
	fail     = flow.SignalTestsFail
)

func mustParse(t *testing.T, src string) *flow.Flow {
	t.Helper()
	f, err := flow.Parse([]byte(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return f
}

func newTask(t *testing.T, flowName string) (*task.Store, *task.Task) {
	t.Helper()
	store := task.NewStore(t.TempDir(), zerolog.Nop())
	tk, err := store.Create(task.NewParams{Repo: "repo", Branch: "feature/x", Goal: "Do it", Flow: flowName})
	if err != nil {
		t.Fatal(err)
	}
	return store, tk
}

func newExecutor(inv AgentInvoker) *Executor {
	return &Executor{Invoker: inv, Logger: zerolog.Nop()}
}

// reload returns the persisted state of tk.
func reload(t *testing.T, store *task.Store, tk *task.Task) task.Meta {
	t.Helper()
	fresh, err := store.Load(tk.ID())
	if err != nil {
		t.Fatal(err)
	}
	return fresh.Meta
}

const twoSteps = `
name: two
steps:
  - agent: a
    until: AGENT_DONE
  - agent: b
    until: TASK_COMPLETE
    on_fail: pause
`

func TestRunOutcomes(t *testing.T) {
	tests := []struct {
		name       string
		src        string
		signals    []flow.Signal
		idle       int
		wantCalls  []string
		wantReason HaltReason
		wantSignal flow.Signal
		wantStatus task.Status
		wantStep   int
	}{
		{
			name:       "linear flow exhausts steps",
			src:        twoSteps,
			signals:    []flow.Signal{done, complete},
			wantCalls:  []string{"a", "b"},
			wantReason: HaltExhausted,
			wantSignal: complete,
			wantStatus: task.StatusStopped,
			wantStep:   2,
		},
		{
			name:       "fail with pause stays on the step",
			src:        twoSteps,
			signals:    []flow.Signal{done, fail},
			wantCalls:  []string{"a", "b"},
			wantReason: HaltBlocked,
			wantSignal: fail,
			wantStatus: task.StatusStopped,
			wantStep:   1,
		},
		{
			name: "fail with continue advances",
			src: `
steps:
  - agent: a
    until: TESTS_PASS
    on_fail: continue
  - agent: b
    until: AGENT_DONE
`,
			signals:    []flow.Signal{fail, done},
			wantCalls:  []string{"a", "b"},
			wantReason: HaltExhausted,
			wantSignal: done,
			wantStatus: task.StatusStopped,
			wantStep:   2,
		},
		{
			name: "unset on_fail pauses",
			src: `
steps:
  - agent: a
    until: TESTS_PASS
  - agent: b
    until: AGENT_DONE
`,
			signals:    []flow.Signal{fail},
			wantCalls:  []string{"a"},
			wantReason: HaltBlocked,
			wantSignal: fail,
			wantStatus: task.StatusStopped,
			wantStep:   0,
		},
		{
			name: "input needed beats on_fail continue",
			src: `
steps:
  - agent: a
    until: AGENT_DONE
    on_fail: continue
  - agent: b
    until: AGENT_DONE
`,
			signals:    []flow.Signal{input},
			wantCalls:  []string{"a"},
			wantReason: HaltBlocked,
			wantSignal: input,
			wantStatus: task.StatusInputNeeded,
			wantStep:   0,
		},
		{
			name:       "task complete before the end is terminal",
			src:        twoSteps,
			signals:    []flow.Signal{complete},
			wantCalls:  []string{"a"},
			wantReason: HaltTerminal,
			wantSignal: complete,
			wantStatus: task.StatusStopped,
			wantStep:   0,
		},
		{
			name:       "no signal re-runs the same step",
			src:        twoSteps,
			signals:    []flow.Signal{none, none, done, complete},
			wantCalls:  []string{"a", "a", "a", "b"},
			wantReason: HaltExhausted,
			wantSignal: complete,
			wantStatus: task.StatusStopped,
			wantStep:   2,
		},
		{
			name:       "idle retries are bounded",
			src:        twoSteps,
			signals:    []flow.Signal{done, none, none, none},
			idle:       2,
			wantCalls:  []string{"a", "b", "b", "b"},
			wantReason: HaltBlocked,
			wantSignal: done,
			wantStatus: task.StatusStopped,
			wantStep:   1,
		},
		{
			name: "loop halts at the third inner invocation",
			src: `
steps:
  - loop:
      - agent: one
        until: AGENT_DONE
      - agent: two
        until: AGENT_DONE
      - agent: three
        until: AGENT_DONE
    until: TESTS_PASS
`,
			signals:    []flow.Signal{done, done, pass},
			wantCalls:  []string{"one", "two", "three"},
			wantReason: HaltExhausted,
			wantSignal: pass,
			wantStatus: task.StatusStopped,
			wantStep:   1,
		},
		{
			name: "loop wraps to the first inner step",
			src: `
steps:
  - loop:
      - agent: coder
        until: AGENT_DONE
      - agent: checker
        until: AGENT_DONE
    until: TASK_COMPLETE
  - agent: after
    until: AGENT_DONE
`,
			signals:    []flow.Signal{done, done, done, complete, done},
			wantCalls:  []string{"coder", "checker", "coder", "checker", "after"},
			wantReason: HaltExhausted,
			wantSignal: done,
			wantStatus: task.StatusStopped,
			wantStep:   2,
		},
		{
			name: "loop inner fail pauses",
			src: `
steps:
  - loop:
      - agent: coder
        until: AGENT_DONE
      - agent: tester
        until: TESTS_PASS
    until: TASK_COMPLETE
`,
			signals:    []flow.Signal{done, fail},
			wantCalls:  []string{"coder", "tester"},
			wantReason: HaltBlocked,
			wantSignal: fail,
			wantStatus: task.StatusStopped,
			wantStep:   0,
		},
		{
			name: "loop inner fail continues",
			src: `
steps:
  - loop:
      - agent: coder
        until: AGENT_DONE
      - agent: tester
        until: TESTS_PASS
        on_fail: continue
    until: TASK_COMPLETE
`,
			signals:    []flow.Signal{done, fail, complete},
			wantCalls:  []string{"coder", "tester", "coder"},
			wantReason: HaltExhausted,
			wantSignal: complete,
			wantStatus: task.StatusStopped,
			wantStep:   1,
		},
		{
			name: "loop inner input needed",
			src: `
steps:
  - loop:
      - agent: coder
        until: AGENT_DONE
    until: TASK_COMPLETE
`,
			signals:    []flow.Signal{done, input},
			wantCalls:  []string{"coder", "coder"},
			wantReason: HaltBlocked,
			wantSignal: input,
			wantStatus: task.StatusInputNeeded,
			wantStep:   0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := mustParse(t, tt.src)
			store, tk := newTask(t, f.Name)
			inv := &scriptedInvoker{signals: tt.signals}
			exec := newExecutor(inv)
			exec.MaxIdleRetries = tt.idle

			out, err := exec.Run(context.Background(), f, tk)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if out.Reason != tt.wantReason {
				t.Errorf("Reason = %s, want %s (%s)", out.Reason, tt.wantReason, out.Message)
			}
			if out.Signal != tt.wantSignal {
				t.Errorf("Signal = %v, want %v", out.Signal, tt.wantSignal)
			}
			if got := inv.Calls(); !reflect.DeepEqual(got, tt.wantCalls) {
				t.Errorf("calls = %v, want %v", got, tt.wantCalls)
			}

			meta := reload(t, store, tk)
			if meta.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", meta.Status, tt.wantStatus)
			}
			if meta.FlowStep != tt.wantStep || out.Step != tt.wantStep {
				t.Errorf("step = %d (outcome %d), want %d", meta.FlowStep, out.Step, tt.wantStep)
			}
			if meta.CurrentAgent != nil {
				t.Errorf("current agent = %q, want cleared", *meta.CurrentAgent)
			}
		})
	}
}

func TestPauseThenResumeRerunsFailedStep(t *testing.T) {
	f := mustParse(t, twoSteps)
	store, tk := newTask(t, f.Name)

	first := &scriptedInvoker{signals: []flow.Signal{done, none, fail}}
	out, err := newExecutor(first).Run(context.Background(), f, tk)
	if err != nil {
		t.Fatal(err)
	}
	if out.Reason != HaltBlocked || out.Step != 1 {
		t.Fatalf("first run = %v", out)
	}
	if meta := reload(t, store, tk); meta.FlowStep != 1 || meta.Status != task.StatusStopped {
		t.Fatalf("after pause: step %d status %s", meta.FlowStep, meta.Status)
	}

	second := &scriptedInvoker{signals: []flow.Signal{complete}}
	out, err = newExecutor(second).Run(context.Background(), f, tk)
	if err != nil {
		t.Fatal(err)
	}
	if got := second.Calls(); !reflect.DeepEqual(got, []string{"b"}) {
		t.Errorf("second run calls = %v, want [b]", got)
	}
	if out.Reason != HaltExhausted {
		t.Errorf("second run = %v", out)
	}
}

func TestCrashResumeContinuesAfterCommittedStep(t *testing.T) {
	f := mustParse(t, `
steps:
  - agent: a
    until: AGENT_DONE
  - agent: b
    until: AGENT_DONE
  - agent: c
    until: AGENT_DONE
`)
	store, tk := newTask(t, f.Name)

	// The process dies while b runs: its invocation fails fatally.
	crash := &scriptedInvoker{
		signals: []flow.Signal{done},
		before: func(n int, _ *task.Task) error {
			if n == 2 {
				return faults.Process("spawn b", errors.New("killed"))
			}
			return nil
		},
	}
	out, err := newExecutor(crash).Run(context.Background(), f, tk)
	if !faults.IsProcess(err) || out.Reason != HaltFatal {
		t.Fatalf("crash run = %v, %v", out, err)
	}
	meta := reload(t, store, tk)
	if meta.FlowStep != 1 || meta.Status != task.StatusRunning {
		t.Fatalf("after crash: step %d status %s", meta.FlowStep, meta.Status)
	}
	if meta.CurrentAgent == nil || *meta.CurrentAgent != "b" {
		t.Errorf("current agent after crash = %v, want b", meta.CurrentAgent)
	}

	// A fresh process loads the task and resumes.
	fresh, err := store.Load(tk.ID())
	if err != nil {
		t.Fatal(err)
	}
	resume := &scriptedInvoker{signals: []flow.Signal{done, done}}
	out, err = newExecutor(resume).Run(context.Background(), f, fresh)
	if err != nil {
		t.Fatal(err)
	}
	if got := resume.Calls(); !reflect.DeepEqual(got, []string{"b", "c"}) {
		t.Errorf("resume calls = %v, want [b c]", got)
	}
	if out.Reason != HaltExhausted {
		t.Errorf("resume outcome = %v", out)
	}
}

func TestResumeInsideLoop(t *testing.T) {
	f := mustParse(t, `
steps:
  - loop:
      - agent: coder
        until: AGENT_DONE
      - agent: checker
        until: AGENT_DONE
    until: TASK_COMPLETE
`)
	store, tk := newTask(t, f.Name)
	tk.Meta.LoopStep = 1
	if err := tk.Save(); err != nil {
		t.Fatal(err)
	}

	inv := &scriptedInvoker{signals: []flow.Signal{complete}}
	if _, err := newExecutor(inv).Run(context.Background(), f, tk); err != nil {
		t.Fatal(err)
	}
	if got := inv.Calls(); !reflect.DeepEqual(got, []string{"checker"}) {
		t.Errorf("calls = %v, want [checker]", got)
	}
	if meta := reload(t, store, tk); meta.LoopStep != 0 || meta.FlowStep != 1 {
		t.Errorf("position = %d/%d", meta.FlowStep, meta.LoopStep)
	}
}

func TestLoopPositionPersistsBetweenInnerSteps(t *testing.T) {
	f := mustParse(t, `
steps:
  - loop:
      - agent: coder
        until: AGENT_DONE
      - agent: checker
        until: AGENT_DONE
    until: TASK_COMPLETE
`)
	store, tk := newTask(t, f.Name)

	var seen []int
	inv := &scriptedInvoker{
		signals: []flow.Signal{done, done, complete},
		before: func(_ int, cur *task.Task) error {
			meta := reload(t, store, cur)
			seen = append(seen, meta.LoopStep)
			return nil
		},
	}
	if _, err := newExecutor(inv).Run(context.Background(), f, tk); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(seen, []int{0, 1, 0}) {
		t.Errorf("persisted loop positions = %v, want [0 1 0]", seen)
	}
}

func TestCurrentAgentPersistedBeforeInvoke(t *testing.T) {
	f := mustParse(t, twoSteps)
	store, tk := newTask(t, f.Name)

	var agents []string
	inv := &scriptedInvoker{
		signals: []flow.Signal{done, complete},
		before: func(_ int, cur *task.Task) error {
			meta := reload(t, store, cur)
			if meta.CurrentAgent != nil {
				agents = append(agents, *meta.CurrentAgent)
			}
			if meta.Status != task.StatusRunning {
				t.Errorf("status during invoke = %s", meta.Status)
			}
			return nil
		},
	}
	newExecutor(inv).Run(context.Background(), f, tk)
	if !reflect.DeepEqual(agents, []string{"a", "b"}) {
		t.Errorf("persisted agents = %v", agents)
	}
}

func TestExternalStatusChangeHalts(t *testing.T) {
	f := mustParse(t, twoSteps)
	store, tk := newTask(t, f.Name)

	inv := &scriptedInvoker{
		signals: []flow.Signal{done},
		before: func(_ int, cur *task.Task) error {
			other, err := store.Load(cur.ID())
			if err != nil {
				return err
			}
			return other.UpdateStatus(task.StatusOnHold)
		},
	}
	out, err := newExecutor(inv).Run(context.Background(), f, tk)
	if err != nil {
		t.Fatal(err)
	}
	if out.Reason != HaltBlocked {
		t.Errorf("Reason = %s", out.Reason)
	}
	meta := reload(t, store, tk)
	if meta.Status != task.StatusOnHold {
		t.Errorf("status = %s, want external on_hold kept", meta.Status)
	}
	if meta.FlowStep != 0 {
		t.Errorf("step = %d, result of the interrupted step should be dropped", meta.FlowStep)
	}
}

func TestPreCheck(t *testing.T) {
	f := mustParse(t, `
steps:
  - agent: a
    until: AGENT_DONE
    pre_check: "satisfied"
  - agent: b
    until: AGENT_DONE
    pre_check: "unsatisfied"
`)
	_, tk := newTask(t, f.Name)
	inv := &scriptedInvoker{signals: []flow.Signal{done}}
	exec := newExecutor(inv)
	exec.PreCheck = fakePreCheck{"satisfied": true}

	out, err := exec.Run(context.Background(), f, tk)
	if err != nil {
		t.Fatal(err)
	}
	if got := inv.Calls(); !reflect.DeepEqual(got, []string{"b"}) {
		t.Errorf("calls = %v, want only b", got)
	}
	if out.Reason != HaltExhausted {
		t.Errorf("outcome = %v", out)
	}
}

type fakePreCheck map[string]bool

func (f fakePreCheck) Satisfied(_ context.Context, _, command string) (bool, error) {
	return f[command], nil
}

func TestShellPreChecker(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		cmd  string
		want bool
	}{
		{"true", true},
		{"false", false},
		{"test -d .", true},
		{"exit 3", false},
	}
	for _, tt := range tests {
		got, err := ShellPreChecker{}.Satisfied(context.Background(), dir, tt.cmd)
		if err != nil {
			t.Errorf("%q: %v", tt.cmd, err)
		}
		if got != tt.want {
			t.Errorf("%q = %v, want %v", tt.cmd, got, tt.want)
		}
	}

	got, _ := ShellPreChecker{Timeout: 50 * time.Millisecond}.Satisfied(context.Background(), dir, "sleep 5")
	if got {
		t.Error("timed out pre_check should not be satisfied")
	}
}

func TestPostHooks(t *testing.T) {
	f := mustParse(t, `
steps:
  - agent: refiner
    until: AGENT_DONE
    post_hook: clear_feedback
  - agent: fixer
    until: AGENT_DONE
    post_hook: mark_review_addressed
`)
	store, tk := newTask(t, f.Name)
	if err := tk.WriteFeedback("please rename"); err != nil {
		t.Fatal(err)
	}

	inv := &scriptedInvoker{signals: []flow.Signal{done, done}}
	if _, err := newExecutor(inv).Run(context.Background(), f, tk); err != nil {
		t.Fatal(err)
	}
	if tk.HasFeedback() {
		t.Error("clear_feedback hook did not remove FEEDBACK.md")
	}
	if !reload(t, store, tk).ReviewAddressed {
		t.Error("mark_review_addressed hook did not persist")
	}
}

func TestLoopInnerHookRunsOnlyForItsOwnSignal(t *testing.T) {
	f := mustParse(t, `
steps:
  - loop:
      - agent: coder
        until: AGENT_DONE
        post_hook: count
      - agent: checker
        until: AGENT_DONE
        post_hook: count
    until: TESTS_PASS
`)
	store, tk := newTask(t, f.Name)
	var ran []string
	hooks := NewHookRegistry()
	hooks.Register("count", func(_ context.Context, cur *task.Task) error {
		ran = append(ran, cur.Agent())
		return nil
	})
	exec := newExecutor(&scriptedInvoker{signals: []flow.Signal{done, pass}})
	exec.Hooks = hooks

	out, err := exec.Run(context.Background(), f, tk)
	if err != nil || out.Reason != HaltExhausted {
		t.Fatalf("Run = %v, %v", out, err)
	}
	if !reflect.DeepEqual(ran, []string{"coder"}) {
		t.Errorf("hooks ran for %v, want only coder", ran)
	}
	if meta := reload(t, store, tk); meta.FlowStep != 1 || meta.LoopStep != 0 {
		t.Errorf("step %d loop %d", meta.FlowStep, meta.LoopStep)
	}
}

func TestHookFailures(t *testing.T) {
	t.Run("unknown hook is rejected before running", func(t *testing.T) {
		f := mustParse(t, `
steps:
  - agent: a
    until: AGENT_DONE
    post_hook: launch_rockets
`)
		_, tk := newTask(t, f.Name)
		inv := &scriptedInvoker{}
		out, err := newExecutor(inv).Run(context.Background(), f, tk)
		if !faults.IsLoad(err) || out.Reason != HaltFatal {
			t.Errorf("Run = %v, %v", out, err)
		}
		if err != nil && !strings.Contains(err.Error(), "known: clear_feedback, mark_review_addressed") {
			t.Errorf("error does not list the known hooks: %v", err)
		}
		if len(inv.Calls()) != 0 {
			t.Error("agent ran despite invalid hook")
		}
	})

	t.Run("failing hook is fatal", func(t *testing.T) {
		f := mustParse(t, `
steps:
  - agent: a
    until: AGENT_DONE
    post_hook: explode
`)
		store, tk := newTask(t, f.Name)
		hooks := NewHookRegistry()
		hooks.Register("explode", func(context.Context, *task.Task) error { return errors.New("boom") })
		exec := newExecutor(&scriptedInvoker{signals: []flow.Signal{done}})
		exec.Hooks = hooks

		out, err := exec.Run(context.Background(), f, tk)
		if err == nil || out.Reason != HaltFatal {
			t.Fatalf("Run = %v, %v", out, err)
		}
		if meta := reload(t, store, tk); meta.FlowStep != 0 {
			t.Errorf("step advanced to %d despite hook failure", meta.FlowStep)
		}
	})
}

func TestRunLoadFaultFromInvoker(t *testing.T) {
	f := mustParse(t, twoSteps)
	store, tk := newTask(t, f.Name)
	inv := &scriptedInvoker{before: func(int, *task.Task) error {
		return faults.Load("load agent a", errors.New("no prompt template"))
	}}

	out, err := newExecutor(inv).Run(context.Background(), f, tk)
	if !faults.IsLoad(err) || out.Reason != HaltFatal {
		t.Fatalf("Run = %v, %v", out, err)
	}
	meta := reload(t, store, tk)
	if meta.Status != task.StatusStopped || meta.FlowStep != 0 || meta.CurrentAgent != nil {
		t.Errorf("after fatal error: status %s step %d agent %v", meta.Status, meta.FlowStep, meta.CurrentAgent)
	}
}

func TestFatalFaultRestoresStatus(t *testing.T) {
	f := mustParse(t, twoSteps)
	processFault := func(n int, _ *task.Task) error {
		if n == 2 {
			return faults.Process("spawn b", errors.New("exec: not found"))
		}
		return nil
	}

	tests := []struct {
		name   string
		before task.Status
		want   task.Status
	}{
		{"stopped task", task.StatusStopped, task.StatusStopped},
		{"answered task", task.StatusInputNeeded, task.StatusInputNeeded},
		{"forced recovery", task.StatusRunning, task.StatusStopped},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, tk := newTask(t, f.Name)
			if err := tk.UpdateStatus(tt.before); err != nil {
				t.Fatal(err)
			}
			inv := &scriptedInvoker{signals: []flow.Signal{done}, before: processFault}
			out, err := newExecutor(inv).Run(context.Background(), f, tk)
			if !faults.IsProcess(err) || out.Reason != HaltFatal {
				t.Fatalf("Run = %v, %v", out, err)
			}
			meta := reload(t, store, tk)
			if meta.Status != tt.want || meta.CurrentAgent != nil {
				t.Errorf("status %s agent %v, want %s and no agent", meta.Status, meta.CurrentAgent, tt.want)
			}
			if meta.FlowStep != 1 {
				t.Errorf("step = %d, want the committed step 1", meta.FlowStep)
			}
		})
	}
}

func TestRunStepFaultRestoresStatus(t *testing.T) {
	store, tk := newTask(t, "two")
	inv := &scriptedInvoker{before: func(int, *task.Task) error {
		return faults.Load("load agent a", errors.New("no prompt template"))
	}}
	if _, err := newExecutor(inv).RunStep(context.Background(), "a", tk, false); !faults.IsLoad(err) {
		t.Fatalf("RunStep err = %v", err)
	}
	if meta := reload(t, store, tk); meta.Status != task.StatusStopped || meta.CurrentAgent != nil {
		t.Errorf("status %s agent %v", meta.Status, meta.CurrentAgent)
	}
}

func TestRunSwitchesFlow(t *testing.T) {
	f := mustParse(t, `
name: continue
steps:
  - agent: refiner
    until: AGENT_DONE
`)
	store, tk := newTask(t, "new")
	tk.Meta.FlowStep = 2
	tk.Meta.LoopStep = 1
	tk.Save()

	inv := &scriptedInvoker{signals: []flow.Signal{done}}
	if _, err := newExecutor(inv).Run(context.Background(), f, tk); err != nil {
		t.Fatal(err)
	}
	if got := inv.Calls(); !reflect.DeepEqual(got, []string{"refiner"}) {
		t.Errorf("calls = %v", got)
	}
	if meta := reload(t, store, tk); meta.FlowName != "continue" || meta.FlowStep != 1 {
		t.Errorf("meta = %s step %d", meta.FlowName, meta.FlowStep)
	}
}

func TestRunAlreadyExhausted(t *testing.T) {
	f := mustParse(t, twoSteps)
	store, tk := newTask(t, f.Name)
	tk.Meta.FlowStep = 2
	tk.Save()

	inv := &scriptedInvoker{}
	out, err := newExecutor(inv).Run(context.Background(), f, tk)
	if err != nil || out.Reason != HaltExhausted {
		t.Fatalf("Run = %v, %v", out, err)
	}
	if len(inv.Calls()) != 0 {
		t.Error("no agent should run past the last step")
	}
	if reload(t, store, tk).Status != task.StatusStopped {
		t.Error("status should be stopped")
	}
}

func TestRunInterrupted(t *testing.T) {
	f := mustParse(t, twoSteps)
	store, tk := newTask(t, f.Name)
	ctx, cancel := context.WithCancel(context.Background())

	// Killing the agent on shutdown looks like an exit without a signal.
	inv := &scriptedInvoker{
		signals: []flow.Signal{none},
		before: func(int, *task.Task) error {
			cancel()
			return nil
		},
	}
	out, err := newExecutor(inv).Run(ctx, f, tk)
	if err != nil {
		t.Fatal(err)
	}
	if out.Reason != HaltBlocked || out.Message != "interrupted" {
		t.Errorf("outcome = %v", out)
	}
	if reload(t, store, tk).Status != task.StatusStopped {
		t.Error("interrupted task should be stopped")
	}
}

func TestRunPublishesEvents(t *testing.T) {
	f := mustParse(t, twoSteps)
	_, tk := newTask(t, f.Name)
	bus := events.NewBus()
	defer bus.Close()
	ch := bus.SubscribeAll(64)

	exec := newExecutor(&scriptedInvoker{signals: []flow.Signal{done, complete}})
	exec.Bus = bus
	if _, err := exec.Run(context.Background(), f, tk); err != nil {
		t.Fatal(err)
	}

	var types []string
	timeout := time.After(time.Second)
	for len(types) < 7 {
		select {
		case ev := <-ch:
			types = append(types, ev.EventType())
		case <-timeout:
			t.Fatalf("got events %v", types)
		}
	}
	want := []string{
		events.EventTypeStatusChanged,
		events.EventTypeStepStarted, events.EventTypeStepFinished,
		events.EventTypeStepStarted, events.EventTypeStepFinished,
		events.EventTypeStatusChanged,
		events.EventTypeFlowHalted,
	}
	if !reflect.DeepEqual(types, want) {
		t.Errorf("events = %v, want %v", types, want)
	}
}

func TestRunRecordsLedger(t *testing.T) {
	ledger, err := persistence.NewMemoryStore(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer ledger.Close()

	f := mustParse(t, `
name: new
steps:
  - agent: a
    until: AGENT_DONE
    pre_check: skip
  - agent: b
    until: AGENT_DONE
`)
	_, tk := newTask(t, f.Name)
	exec := newExecutor(&scriptedInvoker{signals: []flow.Signal{fail}})
	exec.Ledger = ledger
	exec.PreCheck = fakePreCheck{"skip": true}

	if _, err := exec.Run(context.Background(), f, tk); err != nil {
		t.Fatal(err)
	}

	runs, err := ledger.ListRuns(context.Background(), tk.ID(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs = %+v", runs)
	}
	byAgent := map[string]persistence.Run{}
	for _, r := range runs {
		byAgent[r.Agent] = r
	}
	if a := byAgent["a"]; !a.PreCheck || a.Signal != "AGENT_DONE" || !a.Finished() {
		t.Errorf("run a = %+v", a)
	}
	if b := byAgent["b"]; b.PreCheck || b.Signal != "TESTS_FAIL" || b.Step != 1 {
		t.Errorf("run b = %+v", b)
	}

	halts, _ := ledger.ListHalts(context.Background(), tk.ID(), 0)
	if len(halts) != 1 || halts[0].Reason != string(HaltBlocked) || halts[0].Flow != "new" {
		t.Errorf("halts = %+v", halts)
	}
}

func TestRunStep(t *testing.T) {
	tests := []struct {
		name       string
		loop       bool
		signals    []flow.Signal
		wantCalls  int
		wantSignal flow.Signal
		wantStatus task.Status
	}{
		{"single run", false, []flow.Signal{none}, 1, none, task.StatusStopped},
		{"loop until a signal", true, []flow.Signal{none, none, done}, 3, done, task.StatusStopped},
		{"input needed", false, []flow.Signal{input}, 1, input, task.StatusInputNeeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, tk := newTask(t, "new")
			tk.Meta.FlowStep = 2
			tk.Save()

			inv := &scriptedInvoker{signals: tt.signals}
			sig, err := newExecutor(inv).RunStep(context.Background(), "coder", tk, tt.loop)
			if err != nil {
				t.Fatal(err)
			}
			if sig != tt.wantSignal {
				t.Errorf("signal = %v, want %v", sig, tt.wantSignal)
			}
			if len(inv.Calls()) != tt.wantCalls {
				t.Errorf("calls = %v", inv.Calls())
			}
			meta := reload(t, store, tk)
			if meta.FlowStep != 2 {
				t.Errorf("RunStep moved flow_step to %d", meta.FlowStep)
			}
			if meta.Status != tt.wantStatus || meta.CurrentAgent != nil {
				t.Errorf("status %s agent %v", meta.Status, meta.CurrentAgent)
			}
		})
	}
}

func TestRunStepLoopBounded(t *testing.T) {
	_, tk := newTask(t, "new")
	inv := &scriptedInvoker{signals: []flow.Signal{none, none, none, none}}
	exec := newExecutor(inv)
	exec.MaxIdleRetries = 2

	sig, err := exec.RunStep(context.Background(), "coder", tk, true)
	if err != nil || sig != none {
		t.Fatalf("RunStep = %v, %v", sig, err)
	}
	if len(inv.Calls()) != 3 {
		t.Errorf("calls = %d, want 3", len(inv.Calls()))
	}
}

func TestOutcome(t *testing.T) {
	for reason, want := range map[HaltReason]bool{
		HaltExhausted: true,
		HaltTerminal:  true,
		HaltBlocked:   false,
		HaltFatal:     false,
	} {
		if got := (Outcome{Reason: reason}).Succeeded(); got != want {
			t.Errorf("%s.Succeeded() = %v", reason, got)
		}
	}
	if s := (Outcome{Reason: HaltBlocked, Step: 1, Message: "b needs input"}).String(); s != "blocked at step 1: b needs input" {
		t.Errorf("String() = %q", s)
	}
}
