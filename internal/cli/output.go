package cli

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/aristath/agman/internal/orchestrator"
	"github.com/aristath/agman/internal/task"
)

var (
	highlight = color.New(color.FgCyan).SprintFunc()
	success   = color.New(color.FgGreen).SprintFunc()
	failure   = color.New(color.FgRed).SprintFunc()
	warning   = color.New(color.FgYellow).SprintFunc()
	dim       = color.New(color.Faint).SprintFunc()
)

func statusText(s task.Status) string {
	switch s {
	case task.StatusRunning:
		return warning(s.Label())
	case task.StatusInputNeeded:
		return color.New(color.FgMagenta).Sprint(s.Label())
	case task.StatusStopped:
		return success(s.Label())
	default:
		return dim(s.Label())
	}
}

// printOutcome reports how a flow run ended.
func printOutcome(w io.Writer, t *task.Task, out orchestrator.Outcome) {
	id := highlight(t.ID())
	switch out.Reason {
	case orchestrator.HaltExhausted:
		fmt.Fprintf(w, "%s %s finished flow %s\n", success("✓"), id, t.Meta.FlowName)
	case orchestrator.HaltTerminal:
		fmt.Fprintf(w, "%s %s complete (%s)\n", success("✓"), id, out.Signal)
	case orchestrator.HaltBlocked:
		fmt.Fprintf(w, "%s %s blocked at step %d: %s\n", warning("!"), id, out.Step, out.Message)
		if t.Meta.Status == task.StatusInputNeeded {
			fmt.Fprintf(w, "  answer with: agman continue %s \"<answer>\"\n", t.ID())
		}
	case orchestrator.HaltFatal:
		fmt.Fprintf(w, "%s %s failed at step %d: %s\n", failure("✗"), id, out.Step, out.Message)
	}
}
