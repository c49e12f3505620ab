package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config,
// defaults. Each file is decoded over the result so far, so only the keys
// it sets take effect. Missing files are not errors; malformed TOML and
// unknown keys are.
func Load(home, globalPath, projectPath string) (*Config, error) {
	cfg := DefaultConfig(home)

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}
	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	cfg.ReposDir = expandHome(cfg.ReposDir, home)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ProjectConfigPath is the project config, relative to the working directory.
var ProjectConfigPath = filepath.Join(".agman", "config.toml")

// LoadDefault loads configuration from conventional paths.
// Global: <agman home>/config.toml
// Project: .agman/config.toml (relative to cwd)
func LoadDefault(paths Paths) (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting home directory: %w", err)
	}
	return Load(home, paths.Config, ProjectConfigPath)
}

func mergeConfigFile(base *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading %s: %w", path, err)
	}

	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(base); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return fmt.Errorf("parsing %s:%d:%d: %w", path, row, col, err)
		}
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.ReposDir == "" {
		errs = append(errs, errors.New("repos_dir is empty"))
	}
	if c.Runner.MaxIdleRetries < 0 {
		errs = append(errs, errors.New("runner.max_idle_retries must not be negative"))
	}
	if c.Runner.Concurrency < 1 {
		errs = append(errs, errors.New("runner.concurrency must be at least 1"))
	}
	if c.Poll.Concurrency < 1 {
		errs = append(errs, errors.New("poll.concurrency must be at least 1"))
	}
	if c.Poll.Interval.Duration <= 0 {
		errs = append(errs, errors.New("poll.interval must be positive"))
	}
	return errors.Join(errs...)
}

func expandHome(path, home string) string {
	if path == "~" {
		return home
	}
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		return filepath.Join(home, rest)
	}
	return path
}
