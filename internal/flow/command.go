package flow

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/aristath/agman/internal/faults"
)

// ArgBranch is the only argument kind a stored command can require.
const ArgBranch = "branch"

// Command is a stored command: a named flow with display metadata that can
// be run against any task. The steps live in the same file.
type Command struct {
	Name        string `yaml:"name"`
	ID          string `yaml:"id"`
	Description string `yaml:"description"`
	RequiresArg string `yaml:"requires_arg,omitempty"`
	Path        string `yaml:"-"`
}

// LoadCommand reads command metadata from path.
func LoadCommand(path string) (*Command, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, faults.Load("read command "+path, err)
	}
	var cmd Command
	if err := yaml.Unmarshal(data, &cmd); err != nil {
		return nil, faults.Load("parse command "+path, err)
	}
	if cmd.ID == "" {
		cmd.ID = trimExt(filepath.Base(path))
	}
	switch cmd.RequiresArg {
	case "", ArgBranch:
	default:
		return nil, faults.Load("parse command "+path, fmt.Errorf("unknown requires_arg %q", cmd.RequiresArg))
	}
	cmd.Path = path
	return &cmd, nil
}

// Flow loads the steps of the command as a flow. The flow takes the
// command's id as its name.
func (c *Command) Flow() (*Flow, error) {
	f, err := Load(c.Path)
	if err != nil {
		return nil, err
	}
	f.Name = c.ID
	return f, nil
}

// CommandSet is a directory of stored commands, one <id>.yaml per command.
type CommandSet struct {
	Dir string
}

// Get loads the command with the given id.
func (s *CommandSet) Get(id string) (*Command, error) {
	if id == "" || strings.ContainsAny(id, `/\`) {
		return nil, faults.Load("load command", fmt.Errorf("invalid command id %q", id))
	}
	path := filepath.Join(s.Dir, id+".yaml")
	if _, err := os.Stat(path); err != nil {
		return nil, faults.Load("load command", fmt.Errorf("command %q not found", id))
	}
	return LoadCommand(path)
}

// List loads every command in the directory, sorted by display name.
// Malformed files are skipped and reported through skipped.
func (s *CommandSet) List(skipped func(path string, err error)) ([]*Command, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list commands: %w", err)
	}
	var cmds []*Command
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".yaml" {
			continue
		}
		path := filepath.Join(s.Dir, e.Name())
		cmd, err := LoadCommand(path)
		if err != nil {
			if skipped != nil {
				skipped(path, err)
			}
			continue
		}
		cmds = append(cmds, cmd)
	}
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].Name < cmds[j].Name })
	return cmds, nil
}

func trimExt(name string) string {
	return name[:len(name)-len(filepath.Ext(name))]
}
