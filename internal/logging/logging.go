// Package logging writes agman's structured log to a file so terminal
// output and the dashboard stay clean.
package logging

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LevelEnv overrides the configured log level.
const LevelEnv = "AGMAN_LOG"

const (
	rotateThreshold = 1000
	rotateKeep      = 750
)

// Setup rotates the log at path and opens it for appending. The returned
// closer must be closed on exit. level may be empty; $AGMAN_LOG wins over
// it when set.
func Setup(path, level string) (zerolog.Logger, io.Closer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	if err := Rotate(path); err != nil {
		return zerolog.Nop(), nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}

	lvl, err := ParseLevel(level)
	if err != nil {
		f.Close()
		return zerolog.Nop(), nil, err
	}
	logger := New(f, lvl)
	logger.Debug().Str("path", path).Msg("logging initialized")
	return logger, f, nil
}

// New builds the logger used across agman: human-readable lines without
// color, timestamped, tagged with the component by callers.
func New(w io.Writer, level zerolog.Level) zerolog.Logger {
	out := zerolog.ConsoleWriter{Out: w, NoColor: true, TimeFormat: time.RFC3339}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// ParseLevel resolves the effective level from $AGMAN_LOG, then level,
// then debug.
func ParseLevel(level string) (zerolog.Level, error) {
	if env := strings.TrimSpace(os.Getenv(LevelEnv)); env != "" {
		level = env
	}
	if level == "" {
		return zerolog.DebugLevel, nil
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return lvl, nil
}

// Rotate trims the log to its newest lines once it grows past the
// threshold. A missing log is not an error.
func Rotate(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open log for rotation: %w", err)
	}
	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	f.Close()
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read log for rotation: %w", err)
	}
	if len(lines) <= rotateThreshold {
		return nil
	}

	kept := strings.Join(lines[len(lines)-rotateKeep:], "\n") + "\n"
	if err := os.WriteFile(path, []byte(kept), 0644); err != nil {
		return fmt.Errorf("failed to rewrite rotated log: %w", err)
	}
	return nil
}
