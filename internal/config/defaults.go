package config

import (
	"path/filepath"
	"time"
)

// DefaultConfig returns the built-in configuration. home is the user's
// home directory; repositories live in ~/repos unless configured.
func DefaultConfig(home string) *Config {
	return &Config{
		ReposDir: filepath.Join(home, "repos"),
		Agent: AgentConfig{
			Backend: "claude",
		},
		Runner: RunnerConfig{
			MaxIdleRetries:  5,
			Concurrency:     4,
			PreCheckTimeout: Duration{2 * time.Minute},
		},
		Poll: PollConfig{
			Interval:    Duration{time.Minute},
			Concurrency: 4,
			Retry: RetryConfig{
				InitialInterval: Duration{500 * time.Millisecond},
				MaxInterval:     Duration{10 * time.Second},
				MaxElapsedTime:  Duration{time.Minute},
				Multiplier:      2.0,
				Jitter:          0.5,
			},
			Breaker: BreakerConfig{
				MaxFailures: 5,
				OpenTimeout: Duration{30 * time.Second},
			},
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}
