package orchestrator

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"time"
)

// defaultPreCheckTimeout bounds a pre_check command.
const defaultPreCheckTimeout = 2 * time.Minute

// PreChecker decides whether a step's pre_check is already satisfied.
type PreChecker interface {
	Satisfied(ctx context.Context, dir, command string) (bool, error)
}

// ShellPreChecker runs pre_check through sh -c. Exit 0 means satisfied.
type ShellPreChecker struct {
	Timeout time.Duration
}

// Satisfied reports whether command exits 0 in dir. A non-zero exit is not
// an error; failing to start the shell is.
func (p ShellPreChecker) Satisfied(ctx context.Context, dir, command string) (bool, error) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultPreCheckTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		cmd.Dir = dir
	}
	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return false, nil
	}
	return false, err
}
