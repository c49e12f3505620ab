package agent

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// newCommand creates an exec.Cmd in its own process group. Cancelling ctx
// kills the whole group, so tools the agent spawned go down with it.
func newCommand(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
	cmd.Cancel = func() error {
		return killProcessGroup(cmd)
	}
	cmd.WaitDelay = 5 * time.Second
	return cmd
}

// killProcessGroup sends SIGKILL to the command's entire process group.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return fmt.Errorf("process not started")
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("failed to kill process group: %w", err)
	}
	return nil
}

// ProcessManager tracks running agent processes so they can all be killed
// on shutdown or from the dashboard. A killed agent surfaces to the engine
// as an exit without a signal.
//
// Usage pattern (typically in main):
//
//	pm := NewProcessManager()
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
//	defer cancel()
//	go func() {
//		<-ctx.Done()
//		pm.KillAll()
//	}()
type ProcessManager struct {
	mu     sync.Mutex
	procs  map[int]*exec.Cmd
	byTask map[string]int // task id -> pid
}

// NewProcessManager creates a new ProcessManager.
func NewProcessManager() *ProcessManager {
	return &ProcessManager{
		procs:  make(map[int]*exec.Cmd),
		byTask: make(map[string]int),
	}
}

// Track registers a started process, optionally under a task id.
func (pm *ProcessManager) Track(taskID string, cmd *exec.Cmd) {
	if pm == nil || cmd.Process == nil {
		return
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.procs[cmd.Process.Pid] = cmd
	if taskID != "" {
		pm.byTask[taskID] = cmd.Process.Pid
	}
}

// Untrack removes a process after it has been waited on.
func (pm *ProcessManager) Untrack(taskID string, cmd *exec.Cmd) {
	if pm == nil || cmd.Process == nil {
		return
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()
	delete(pm.procs, cmd.Process.Pid)
	if pid, ok := pm.byTask[taskID]; ok && pid == cmd.Process.Pid {
		delete(pm.byTask, taskID)
	}
}

// Kill terminates the agent process running for a task, if any.
func (pm *ProcessManager) Kill(taskID string) (bool, error) {
	if pm == nil {
		return false, nil
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pid, ok := pm.byTask[taskID]
	if !ok {
		return false, nil
	}
	cmd, ok := pm.procs[pid]
	if !ok {
		return false, nil
	}
	if err := killProcessGroup(cmd); err != nil {
		return false, fmt.Errorf("failed to kill agent for %s: %w", taskID, err)
	}
	return true, nil
}

// KillAll terminates all tracked processes.
func (pm *ProcessManager) KillAll() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	var errs []error
	for pid, cmd := range pm.procs {
		if err := killProcessGroup(cmd); err != nil {
			errs = append(errs, fmt.Errorf("failed to kill process %d: %w", pid, err))
		}
	}
	return errors.Join(errs...)
}

// Count returns the number of tracked processes.
func (pm *ProcessManager) Count() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return len(pm.procs)
}

// Running reports whether an agent process is tracked for the task.
func (pm *ProcessManager) Running(taskID string) bool {
	if pm == nil {
		return false
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()
	_, ok := pm.byTask[taskID]
	return ok
}
