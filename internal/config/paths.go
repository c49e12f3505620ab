package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/aristath/agman/internal/flow"
)

// HomeEnv overrides the agman home directory.
const HomeEnv = "AGMAN_HOME"

// Paths is the on-disk layout under the agman home.
type Paths struct {
	Base     string
	Tasks    string
	Flows    string
	Prompts  string
	Commands string
	Config   string
	Ledger   string
	Log      string
}

// NewPaths lays out the directories under base.
func NewPaths(base string) Paths {
	return Paths{
		Base:     base,
		Tasks:    filepath.Join(base, "tasks"),
		Flows:    filepath.Join(base, "flows"),
		Prompts:  filepath.Join(base, "prompts"),
		Commands: filepath.Join(base, "commands"),
		Config:   filepath.Join(base, "config.toml"),
		Ledger:   filepath.Join(base, "agman.db"),
		Log:      filepath.Join(base, "agman.log"),
	}
}

// DefaultPaths uses $AGMAN_HOME, or ~/.agman.
func DefaultPaths() (Paths, error) {
	if base := os.Getenv(HomeEnv); base != "" {
		return NewPaths(base), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return Paths{}, fmt.Errorf("getting home directory: %w", err)
	}
	return NewPaths(filepath.Join(home, ".agman")), nil
}

// EnsureDirs creates the task and definition directories.
func (p Paths) EnsureDirs() error {
	for _, dir := range []string{p.Tasks, p.Flows, p.Prompts, p.Commands} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}
	return nil
}

// InitDefaultFiles creates the layout and installs the bundled flows,
// prompt templates and commands. Existing files are kept unless force is
// set. It returns the files written.
func (p Paths) InitDefaultFiles(force bool) ([]string, error) {
	if err := p.EnsureDirs(); err != nil {
		return nil, err
	}
	return flow.InstallDefaults(flow.DefaultDirs{
		Flows:    p.Flows,
		Prompts:  p.Prompts,
		Commands: p.Commands,
	}, force)
}
