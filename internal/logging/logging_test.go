package logging

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func writeLines(t *testing.T, path string, n int) {
	t.Helper()
	var b strings.Builder
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, "line %d\n", i)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		t.Fatal(err)
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func TestRotate(t *testing.T) {
	tests := []struct {
		name      string
		lines     int
		wantLen   int
		wantFirst string
	}{
		{"under threshold", 10, 10, "line 1"},
		{"at threshold", 1000, 1000, "line 1"},
		{"over threshold keeps newest", 1001, 750, "line 252"},
		{"far over", 5000, 750, "line 4251"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "agman.log")
			writeLines(t, path, tt.lines)
			if err := Rotate(path); err != nil {
				t.Fatal(err)
			}
			got := readLines(t, path)
			if len(got) != tt.wantLen || got[0] != tt.wantFirst {
				t.Errorf("got %d lines starting %q", len(got), got[0])
			}
			if last := got[len(got)-1]; last != fmt.Sprintf("line %d", tt.lines) {
				t.Errorf("last line = %q", last)
			}
		})
	}
}

func TestRotateMissingFile(t *testing.T) {
	if err := Rotate(filepath.Join(t.TempDir(), "none.log")); err != nil {
		t.Errorf("Rotate missing = %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		env, level string
		want       zerolog.Level
		wantErr    bool
	}{
		{"", "", zerolog.DebugLevel, false},
		{"", "warn", zerolog.WarnLevel, false},
		{"", "INFO", zerolog.InfoLevel, false},
		{"error", "debug", zerolog.ErrorLevel, false},
		{"", "loud", zerolog.NoLevel, true},
	}
	for _, tt := range tests {
		t.Run(tt.env+"/"+tt.level, func(t *testing.T) {
			t.Setenv(LevelEnv, tt.env)
			got, err := ParseLevel(tt.level)
			if (err != nil) != tt.wantErr || (!tt.wantErr && got != tt.want) {
				t.Errorf("ParseLevel = %v, %v", got, err)
			}
		})
	}
}

func TestSetupAppendsAndFilters(t *testing.T) {
	t.Setenv(LevelEnv, "")
	path := filepath.Join(t.TempDir(), "nested", "agman.log")

	logger, closer, err := Setup(path, "info")
	if err != nil {
		t.Fatal(err)
	}
	logger.Debug().Msg("hidden")
	logger.Info().Str("task", "repo--x").Msg("flow started")
	closer.Close()

	data, _ := os.ReadFile(path)
	out := string(data)
	if strings.Contains(out, "hidden") || strings.Contains(out, "logging initialized") {
		t.Errorf("debug lines written at info level:\n%s", out)
	}
	if !strings.Contains(out, "flow started") || !strings.Contains(out, "task=repo--x") {
		t.Errorf("missing info line:\n%s", out)
	}
}

func TestNewWritesPlainText(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, zerolog.InfoLevel)
	logger.Info().Msg("hello")
	if strings.Contains(buf.String(), "\x1b[") {
		t.Errorf("color codes in log: %q", buf.String())
	}
}
