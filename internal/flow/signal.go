package flow

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Signal is a sentinel token an agent prints to report how its step ended.
type Signal string

const (
	SignalNone         Signal = ""
	SignalAgentDone    Signal = "AGENT_DONE"
	SignalTaskComplete Signal = "TASK_COMPLETE"
	SignalInputNeeded  Signal = "INPUT_NEEDED"
	SignalTestsPass    Signal = "TESTS_PASS"
	SignalTestsFail    Signal = "TESTS_FAIL"
)

// signalTable is checked top to bottom; the first token found in a line wins.
// Requests for a human come first so a line that both finishes and blocks
// always stops for input.
var signalTable = []struct {
	token  string
	signal Signal
}{
	{"INPUT_NEEDED", SignalInputNeeded},
	{"TASK_BLOCKED", SignalInputNeeded},
	{"TASK_COMPLETE", SignalTaskComplete},
	{"AGENT_DONE", SignalAgentDone},
	{"TESTS_FAIL", SignalTestsFail},
	{"TESTS_PASS", SignalTestsPass},
}

// Classify maps one line of agent output to a signal, or SignalNone.
func Classify(line string) Signal {
	line = strings.TrimSpace(line)
	if line == "" {
		return SignalNone
	}
	for _, entry := range signalTable {
		if strings.Contains(line, entry.token) {
			return entry.signal
		}
	}
	return SignalNone
}

// ParseSignal resolves a signal name as written in a flow file.
func ParseSignal(s string) (Signal, error) {
	switch Signal(strings.ToUpper(strings.TrimSpace(s))) {
	case SignalAgentDone:
		return SignalAgentDone, nil
	case SignalTaskComplete:
		return SignalTaskComplete, nil
	case SignalInputNeeded, "TASK_BLOCKED":
		return SignalInputNeeded, nil
	case SignalTestsPass:
		return SignalTestsPass, nil
	case SignalTestsFail:
		return SignalTestsFail, nil
	}
	return SignalNone, fmt.Errorf("unknown signal %q", s)
}

func (s Signal) String() string {
	if s == SignalNone {
		return "no signal"
	}
	return string(s)
}

// UnmarshalYAML accepts any spelling ParseSignal accepts.
func (s *Signal) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := ParseSignal(raw)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*s = parsed
	return nil
}
