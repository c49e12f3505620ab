package flow

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aristath/agman/internal/faults"
)

const sampleFlow = `name: sample
description: test flow
then: review
steps:
  - agent: planner
    until: AGENT_DONE
    on_fail: continue
    pre_check: test -f PLAN.md
  - loop:
      - agent: coder
        until: AGENT_DONE
      - agent: checker
        until: AGENT_DONE
        post_hook: clear_feedback
    until: TASK_COMPLETE
`

func TestParse(t *testing.T) {
	f, err := Parse([]byte(sampleFlow))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.Name != "sample" || f.Then != "review" {
		t.Errorf("Name/Then = %q/%q", f.Name, f.Then)
	}
	if len(f.Steps) != 2 {
		t.Fatalf("len(Steps) = %d, want 2", len(f.Steps))
	}

	first, ok := f.Steps[0].(*AgentStep)
	if !ok {
		t.Fatalf("step 0 is %T, want *AgentStep", f.Steps[0])
	}
	if first.Agent != "planner" || first.Until != SignalAgentDone {
		t.Errorf("step 0 = %+v", first)
	}
	if first.FailPolicy() != FailContinue {
		t.Errorf("FailPolicy() = %v, want continue", first.FailPolicy())
	}
	if first.PreCheck != "test -f PLAN.md" {
		t.Errorf("PreCheck = %q", first.PreCheck)
	}

	loop, ok := f.Steps[1].(*LoopStep)
	if !ok {
		t.Fatalf("step 1 is %T, want *LoopStep", f.Steps[1])
	}
	if loop.Until != SignalTaskComplete {
		t.Errorf("loop Until = %v", loop.Until)
	}
	if got := strings.Join(loop.Agents(), ","); got != "coder,checker" {
		t.Errorf("loop Agents() = %q", got)
	}
	if loop.Steps[0].FailPolicy() != FailPause {
		t.Errorf("unset on_fail should default to pause")
	}
	if hooks := f.PostHooks(); len(hooks) != 1 || hooks[0] != "clear_feedback" {
		t.Errorf("PostHooks() = %v", hooks)
	}
}

func TestParseRejectsMalformedSteps(t *testing.T) {
	tests := []struct {
		name        string
		yaml        string
		errContains string
	}{
		{
			name:        "no steps",
			yaml:        "name: x\nsteps: []\n",
			errContains: "no steps",
		},
		{
			name:        "both agent and loop",
			yaml:        "name: x\nsteps:\n  - agent: a\n    loop: []\n    until: AGENT_DONE\n",
			errContains: "both",
		},
		{
			name:        "neither agent nor loop",
			yaml:        "name: x\nsteps:\n  - until: AGENT_DONE\n",
			errContains: "needs an",
		},
		{
			name:        "unknown signal",
			yaml:        "name: x\nsteps:\n  - agent: a\n    until: FINISHED\n",
			errContains: "unknown signal",
		},
		{
			name:        "missing until",
			yaml:        "name: x\nsteps:\n  - agent: a\n",
			errContains: "missing",
		},
		{
			name:        "bad on_fail",
			yaml:        "name: x\nsteps:\n  - agent: a\n    until: AGENT_DONE\n    on_fail: explode\n",
			errContains: "on_fail",
		},
		{
			name:        "empty loop",
			yaml:        "name: x\nsteps:\n  - loop: []\n    until: TASK_COMPLETE\n",
			errContains: "loop has no steps",
		},
		{
			name:        "loop without until",
			yaml:        "name: x\nsteps:\n  - loop:\n      - agent: a\n        until: AGENT_DONE\n",
			errContains: "until",
		},
		{
			name:        "scalar step",
			yaml:        "name: x\nsteps:\n  - coder\n",
			errContains: "mapping",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.errContains) {
				t.Errorf("error %q does not contain %q", err, tt.errContains)
			}
		})
	}
}

func TestLoadReportsLoadFault(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	if !faults.IsLoad(err) {
		t.Errorf("missing file: want load fault, got %v", err)
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("name: bad\nsteps:\n  - {}\n"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err = Load(bad)
	if !faults.IsLoad(err) {
		t.Errorf("malformed file: want load fault, got %v", err)
	}
}

func TestStepAndIsComplete(t *testing.T) {
	f, err := Parse([]byte(sampleFlow))
	if err != nil {
		t.Fatal(err)
	}
	if f.Step(-1) != nil || f.Step(2) != nil {
		t.Error("out of range Step() should be nil")
	}
	if f.Step(1) == nil {
		t.Error("Step(1) should exist")
	}
	if f.IsComplete(1) || !f.IsComplete(2) {
		t.Error("IsComplete boundary is wrong")
	}
}

func TestDefaultFlowsParse(t *testing.T) {
	for _, name := range []string{"new", "review", "continue"} {
		f, err := DefaultFlow(name)
		if err != nil {
			t.Errorf("DefaultFlow(%q): %v", name, err)
			continue
		}
		if f.Name != name {
			t.Errorf("DefaultFlow(%q).Name = %q", name, f.Name)
		}
	}
}
