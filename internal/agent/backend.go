package agent

import (
	"fmt"
	"sort"
	"strings"
)

// Backend is the command line an agent is launched with. The prompt is
// always written to stdin.
type Backend struct {
	Name    string
	Command string
	Args    []string
}

func (b Backend) String() string {
	return strings.TrimSpace(b.Command + " " + strings.Join(b.Args, " "))
}

// presets are the agent CLIs known to run non-interactively with the prompt
// on stdin.
var presets = map[string]Backend{
	"claude": {Name: "claude", Command: "claude", Args: []string{"-p", "--dangerously-skip-permissions"}},
	"codex":  {Name: "codex", Command: "codex", Args: []string{"exec", "--full-auto", "-"}},
	"goose":  {Name: "goose", Command: "goose", Args: []string{"run", "--instructions", "-"}},
}

// DefaultBackend is used when nothing is configured.
const DefaultBackend = "claude"

// ResolveBackend picks a preset by name. A non-empty command overrides the
// preset entirely and runs with args as given.
func ResolveBackend(name, command string, args []string) (Backend, error) {
	if command != "" {
		if name == "" {
			name = command
		}
		return Backend{Name: name, Command: command, Args: args}, nil
	}
	if name == "" {
		name = DefaultBackend
	}
	b, ok := presets[name]
	if !ok {
		return Backend{}, fmt.Errorf("unknown agent backend %q (known: %s)", name, strings.Join(Presets(), ", "))
	}
	b.Args = append(append([]string(nil), b.Args...), args...)
	return b, nil
}

// Presets lists the known backend names.
func Presets() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
