// Package config loads agman's settings from TOML files and resolves the
// directory layout under the agman home.
package config

import (
	"fmt"
	"time"
)

// Duration is a time.Duration written as a string ("30s", "2m") in TOML.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// AgentConfig selects the CLI agents are launched with. A non-empty Command
// replaces the Backend preset.
type AgentConfig struct {
	Backend string   `toml:"backend"`
	Command string   `toml:"command,omitempty"`
	Args    []string `toml:"args,omitempty"`
}

// RunnerConfig tunes flow execution.
type RunnerConfig struct {
	MaxIdleRetries  int      `toml:"max_idle_retries"` // 0 retries forever
	Concurrency     int      `toml:"concurrency"`      // flows driven at once by long-lived drivers
	PreCheckTimeout Duration `toml:"pre_check_timeout"`
}

// RetryConfig mirrors the exponential backoff used for review queries.
type RetryConfig struct {
	InitialInterval Duration `toml:"initial_interval"`
	MaxInterval     Duration `toml:"max_interval"`
	MaxElapsedTime  Duration `toml:"max_elapsed_time"`
	Multiplier      float64  `toml:"multiplier"`
	Jitter          float64  `toml:"jitter"`
}

// BreakerConfig configures the per-repository circuit breaker.
type BreakerConfig struct {
	MaxFailures uint32   `toml:"max_failures"`
	OpenTimeout Duration `toml:"open_timeout"`
}

// PollConfig configures pull request polling in `agman watch`.
type PollConfig struct {
	Interval    Duration      `toml:"interval"`
	Concurrency int           `toml:"concurrency"`
	Retry       RetryConfig   `toml:"retry"`
	Breaker     BreakerConfig `toml:"breaker"`
}

// LogConfig configures the file logger.
type LogConfig struct {
	Level string `toml:"level"`
}

// Config is the top-level configuration.
type Config struct {
	ReposDir string       `toml:"repos_dir"`
	Agent    AgentConfig  `toml:"agent"`
	Runner   RunnerConfig `toml:"runner"`
	Poll     PollConfig   `toml:"poll"`
	Log      LogConfig    `toml:"log"`
}
