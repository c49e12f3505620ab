package reconcile

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// runFunc runs a command in dir and returns its stdout.
type runFunc func(ctx context.Context, dir, name string, args ...string) ([]byte, error)

// GitHub reads pull request state with the gh CLI, retrying transient
// failures behind a per-repository circuit breaker.
type GitHub struct {
	Breakers *CircuitBreakerRegistry
	Retry    RetryConfig
	run      runFunc
}

// NewGitHub creates a PRSource backed by gh.
func NewGitHub(breakers *CircuitBreakerRegistry, retry RetryConfig) *GitHub {
	return &GitHub{Breakers: breakers, Retry: retry, run: runCommand}
}

// prView is the subset of `gh pr view --json state,reviews` we read.
type prView struct {
	State   string            `json:"state"`
	Reviews []json.RawMessage `json:"reviews"`
}

// PRState implements PRSource.
func (g *GitHub) PRState(ctx context.Context, ref PRRef) (PRState, error) {
	cb := g.Breakers.Get(ref.Repo)
	return callWithRetry(ctx, cb, g.Retry, func(ctx context.Context) (PRState, error) {
		out, err := g.run(ctx, ref.Dir, "gh", "pr", "view", strconv.FormatUint(ref.Number, 10), "--json", "state,reviews")
		if err != nil {
			if isPermanentGHError(err) {
				return PRState{}, permanent(err)
			}
			return PRState{}, err
		}
		return parsePRView(out)
	})
}

func parsePRView(data []byte) (PRState, error) {
	var v prView
	if err := json.Unmarshal(data, &v); err != nil {
		return PRState{}, permanent(fmt.Errorf("failed to parse gh output: %w", err))
	}
	return PRState{
		Merged:  strings.EqualFold(v.State, "MERGED"),
		Reviews: uint64(len(v.Reviews)),
	}, nil
}

// isPermanentGHError spots failures retrying cannot fix.
func isPermanentGHError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"no pull requests found", "could not resolve", "executable file not found", "not a git repository"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func runCommand(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		cmd.Dir = dir
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, msg)
		}
		return nil, fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return stdout.Bytes(), nil
}
