// Package agent runs one agent invocation for a task: it renders the prompt,
// launches the agent CLI in the task's worktree, streams its output into the
// transcript and reports the last stop signal it printed.
package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/agman/internal/events"
	"github.com/aristath/agman/internal/faults"
	"github.com/aristath/agman/internal/flow"
	"github.com/aristath/agman/internal/task"
)

// maxLineSize bounds a single transcript line.
const maxLineSize = 1024 * 1024

// Invoker launches agents. The zero value is not usable; set PromptsDir and
// Backend at least.
type Invoker struct {
	PromptsDir string
	Backend    Backend
	Procs      *ProcessManager // optional
	Diffs      DiffSource      // optional
	Bus        *events.Bus     // optional
	Logger     zerolog.Logger
	Env        map[string]string
}

// Invoke runs agentName once against t and returns the last signal seen on
// stdout, or flow.SignalNone. A non-zero exit is not an error; the exit
// code lands in the transcript and the log.
func (inv *Invoker) Invoke(ctx context.Context, agentName string, t *task.Task) (flow.Signal, error) {
	template, err := LoadTemplate(inv.PromptsDir, agentName)
	if err != nil {
		return flow.SignalNone, err
	}
	prompt, err := BuildPrompt(ctx, template, t, inv.Diffs)
	if err != nil {
		return flow.SignalNone, err
	}

	transcript, err := t.OpenTranscript()
	if err != nil {
		return flow.SignalNone, err
	}
	defer transcript.Close()
	out := &lineWriter{w: transcript}

	if err := out.writeLine("", task.StartMarker(agentName, time.Now())); err != nil {
		return flow.SignalNone, faults.Process("write transcript "+t.ID(), err)
	}

	cmd := newCommand(ctx, inv.Backend.Command, inv.Backend.Args...)
	cmd.Dir = workDir(t)
	cmd.Stdin = strings.NewReader(prompt)
	if len(inv.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range inv.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return flow.SignalNone, faults.Process("spawn "+agentName, fmt.Errorf("failed to create stdout pipe: %w", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return flow.SignalNone, faults.Process("spawn "+agentName, fmt.Errorf("failed to create stderr pipe: %w", err))
	}

	log := inv.Logger.With().Str("task", t.ID()).Str("agent", agentName).Logger()
	log.Info().Str("command", inv.Backend.String()).Str("dir", cmd.Dir).Int("prompt_len", len(prompt)).Msg("agent starting")

	start := time.Now()
	if err := cmd.Start(); err != nil {
		_ = out.writeLine(fmt.Sprintf("--- Agent: %s failed to start: %v ---", agentName, err))
		return flow.SignalNone, faults.Process("spawn "+agentName, err)
	}
	inv.Procs.Track(t.ID(), cmd)
	defer inv.Procs.Untrack(t.ID(), cmd)

	// Stderr is drained concurrently so a chatty agent never blocks on a
	// full pipe. It is recorded but never classified.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		scanLines(stderr, func(line string) {
			_ = out.writeLine("[stderr] " + line)
			inv.publish(t, agentName, line, true)
		})
	}()

	last := flow.SignalNone
	scanErr := scanLines(stdout, func(line string) {
		if err := out.writeLine(line); err != nil {
			// The transcript is the record of the run; without it the run
			// cannot continue.
			_ = killProcessGroup(cmd)
			return
		}
		if sig := flow.Classify(line); sig != flow.SignalNone {
			last = sig
		}
		inv.publish(t, agentName, line, false)
	})
	wg.Wait()

	waitErr := cmd.Wait()
	exitCode := exitCodeOf(cmd, waitErr)
	duration := time.Since(start)

	if scanErr != nil {
		log.Warn().Err(scanErr).Msg("stopped reading agent output")
	}
	if err := out.failed(); err != nil {
		return flow.SignalNone, faults.Process("write transcript "+t.ID(), err)
	}
	if err := out.writeLine(task.FinishMarker(agentName, time.Now(), last.String(), exitCode), ""); err != nil {
		return flow.SignalNone, faults.Process("write transcript "+t.ID(), err)
	}

	ev := log.Info()
	if exitCode != 0 {
		ev = log.Warn()
	}
	ev.Int("exit", exitCode).Str("signal", last.String()).Dur("duration", duration).Msg("agent finished")
	return last, nil
}

func (inv *Invoker) publish(t *task.Task, agentName, line string, isStderr bool) {
	inv.Bus.Publish(events.TopicOutput, events.AgentOutputEvent{
		ID:        t.ID(),
		Agent:     agentName,
		Line:      line,
		Stderr:    isStderr,
		Timestamp: time.Now(),
	})
}

// workDir is the worktree when it exists, the task directory otherwise.
func workDir(t *task.Task) string {
	if t.Meta.WorktreePath != "" {
		if info, err := os.Stat(t.Meta.WorktreePath); err == nil && info.IsDir() {
			return t.Meta.WorktreePath
		}
	}
	return t.Dir
}

// scanLines calls fn for each line of r. Lines longer than maxLineSize
// are cut short and the excess dropped. Whatever is left after a read
// error is discarded so the writer never blocks.
func scanLines(r io.Reader, fn func(string)) error {
	br := bufio.NewReaderSize(r, 64*1024)
	var line []byte
	for {
		chunk, isPrefix, err := br.ReadLine()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			_, _ = io.Copy(io.Discard, r)
			return err
		}
		if room := maxLineSize - len(line); room > 0 {
			line = append(line, chunk[:min(len(chunk), room)]...)
		}
		if isPrefix {
			continue
		}
		fn(string(line))
		line = line[:0]
	}
}

// exitCodeOf interprets the result of cmd.Wait. A process killed by a
// signal reports -1.
func exitCodeOf(cmd *exec.Cmd, err error) int {
	var exitErr *exec.ExitError
	if err == nil || errors.As(err, &exitErr) {
		if cmd.ProcessState != nil {
			return cmd.ProcessState.ExitCode()
		}
	}
	return -1
}

// lineWriter serializes transcript writes from the stdout and stderr
// readers and remembers the first failure.
type lineWriter struct {
	mu  sync.Mutex
	w   io.Writer
	err error
}

func (lw *lineWriter) failed() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.err
}

func (lw *lineWriter) writeLine(lines ...string) error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if lw.err != nil {
		return lw.err
	}
	for _, line := range lines {
		if _, err := fmt.Fprintln(lw.w, line); err != nil {
			lw.err = err
			return err
		}
	}
	return nil
}
