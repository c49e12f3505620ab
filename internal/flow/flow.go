// Package flow defines the declarative pipelines tasks are driven through
// and the stop signals agents use to end a step.
package flow

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/aristath/agman/internal/faults"
)

// FailAction decides what happens when a step ends with a signal other than
// the one it is waiting for.
type FailAction string

const (
	FailPause    FailAction = "pause"    // stop the task and wait for a human
	FailContinue FailAction = "continue" // advance as if the step succeeded
)

// Flow is an ordered pipeline of steps. It is immutable once loaded.
type Flow struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	// Then names a flow the driver may chain after this one halts successfully.
	Then  string `yaml:"then,omitempty"`
	Steps []Step `yaml:"-"`
}

// Step is either an *AgentStep or a *LoopStep.
type Step interface {
	isStep()
	// Agents lists the agents the step may invoke, in order.
	Agents() []string
}

// AgentStep runs a single agent until it prints Until.
type AgentStep struct {
	Agent    string     `yaml:"agent"`
	Until    Signal     `yaml:"until"`
	OnFail   FailAction `yaml:"on_fail,omitempty"`
	PreCheck string     `yaml:"pre_check,omitempty"`
	PostHook string     `yaml:"post_hook,omitempty"`
}

// LoopStep cycles through its inner steps, wrapping back to the first,
// until one of them prints Until.
type LoopStep struct {
	Steps []AgentStep `yaml:"loop"`
	Until Signal      `yaml:"until"`
}

func (*AgentStep) isStep() {}
func (*LoopStep) isStep()  {}

func (s *AgentStep) Agents() []string { return []string{s.Agent} }

func (s *LoopStep) Agents() []string {
	names := make([]string, 0, len(s.Steps))
	for _, inner := range s.Steps {
		names = append(names, inner.Agent)
	}
	return names
}

// FailPolicy returns the step's on_fail action. Unset means pause.
func (s *AgentStep) FailPolicy() FailAction {
	if s.OnFail == FailContinue {
		return FailContinue
	}
	return FailPause
}

// Step returns the step at index, or nil when index is out of range.
func (f *Flow) Step(index int) Step {
	if index < 0 || index >= len(f.Steps) {
		return nil
	}
	return f.Steps[index]
}

// IsComplete reports whether index is past the last step.
func (f *Flow) IsComplete(index int) bool {
	return index >= len(f.Steps)
}

// PostHooks returns every post hook named by the flow, including loop steps.
func (f *Flow) PostHooks() []string {
	var hooks []string
	add := func(s *AgentStep) {
		if s.PostHook != "" {
			hooks = append(hooks, s.PostHook)
		}
	}
	for _, step := range f.Steps {
		switch s := step.(type) {
		case *AgentStep:
			add(s)
		case *LoopStep:
			for i := range s.Steps {
				add(&s.Steps[i])
			}
		}
	}
	return hooks
}

// document is the on-disk shape of a flow file.
type document struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	Then        string      `yaml:"then"`
	Steps       []yaml.Node `yaml:"steps"`
}

// Parse decodes and validates a flow from YAML.
func Parse(data []byte) (*Flow, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	f := &Flow{Name: doc.Name, Description: doc.Description, Then: doc.Then}
	for i := range doc.Steps {
		step, err := decodeStep(&doc.Steps[i])
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		f.Steps = append(f.Steps, step)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// decodeStep picks the variant from the keys present: "agent" or "loop",
// never both.
func decodeStep(node *yaml.Node) (Step, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: step must be a mapping", node.Line)
	}
	var hasAgent, hasLoop bool
	for i := 0; i+1 < len(node.Content); i += 2 {
		switch node.Content[i].Value {
		case "agent":
			hasAgent = true
		case "loop":
			hasLoop = true
		}
	}

	switch {
	case hasAgent && hasLoop:
		return nil, fmt.Errorf("line %d: step has both \"agent\" and \"loop\"", node.Line)
	case hasAgent:
		var s AgentStep
		if err := node.Decode(&s); err != nil {
			return nil, err
		}
		return &s, nil
	case hasLoop:
		var s LoopStep
		if err := node.Decode(&s); err != nil {
			return nil, err
		}
		return &s, nil
	default:
		return nil, fmt.Errorf("line %d: step needs an \"agent\" or \"loop\" key", node.Line)
	}
}

// Validate checks the structural invariants of a flow.
func (f *Flow) Validate() error {
	if len(f.Steps) == 0 {
		return errors.New("flow has no steps")
	}
	for i, step := range f.Steps {
		switch s := step.(type) {
		case *AgentStep:
			if err := validateAgentStep(s); err != nil {
				return fmt.Errorf("step %d: %w", i, err)
			}
		case *LoopStep:
			if len(s.Steps) == 0 {
				return fmt.Errorf("step %d: loop has no steps", i)
			}
			if s.Until == SignalNone {
				return fmt.Errorf("step %d: loop is missing \"until\"", i)
			}
			for j := range s.Steps {
				if err := validateAgentStep(&s.Steps[j]); err != nil {
					return fmt.Errorf("step %d.%d: %w", i, j, err)
				}
			}
		default:
			return fmt.Errorf("step %d: unknown step type %T", i, step)
		}
	}
	return nil
}

func validateAgentStep(s *AgentStep) error {
	if s.Agent == "" {
		return errors.New("agent name is empty")
	}
	if s.Until == SignalNone {
		return fmt.Errorf("agent %q is missing \"until\"", s.Agent)
	}
	switch s.OnFail {
	case "", FailPause, FailContinue:
	default:
		return fmt.Errorf("agent %q: unknown on_fail %q", s.Agent, s.OnFail)
	}
	return nil
}

// Load reads a flow file. Any failure is a definition load error.
func Load(path string) (*Flow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, faults.Load("read flow "+path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, faults.Load("parse flow "+path, err)
	}
	return f, nil
}
