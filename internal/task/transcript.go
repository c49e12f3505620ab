package task

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aristath/agman/internal/faults"
)

const markerTime = "2006-01-02 15:04:05 UTC"

// StartMarker is the transcript line written before an agent runs.
func StartMarker(agent string, at time.Time) string {
	return fmt.Sprintf("--- Agent: %s started at %s ---", agent, at.UTC().Format(markerTime))
}

// FinishMarker is the transcript line written after an agent exits.
func FinishMarker(agent string, at time.Time, signal string, exitCode int) string {
	return fmt.Sprintf("--- Agent: %s finished at %s with: %s (exit: %d) ---",
		agent, at.UTC().Format(markerTime), signal, exitCode)
}

// OpenTranscript opens agent.log for appending.
func (t *Task) OpenTranscript() (*os.File, error) {
	f, err := os.OpenFile(t.Path(TranscriptFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, faults.Process("open transcript "+t.ID(), err)
	}
	return f, nil
}

// AppendTranscript appends lines to agent.log.
func (t *Task) AppendTranscript(lines ...string) error {
	f, err := t.OpenTranscript()
	if err != nil {
		return err
	}
	defer f.Close()
	for _, line := range lines {
		if _, err := fmt.Fprintln(f, line); err != nil {
			return faults.Process("write transcript "+t.ID(), err)
		}
	}
	return nil
}

// AppendFeedbackEntry records user feedback in the transcript between
// markers.
func (t *Task) AppendFeedbackEntry(text string) error {
	return t.AppendTranscript(
		"",
		fmt.Sprintf("--- User feedback at %s ---", now().Format(markerTime)),
		text,
		"--- End user feedback ---",
	)
}

// ReadTranscript returns the whole transcript, or "" if none exists.
func (t *Task) ReadTranscript() (string, error) {
	return t.ReadArtifact(TranscriptFile)
}

const perRunTail = 30

// TranscriptTail condenses the transcript for display. Markers, signal
// lines and user feedback are always kept; each agent run keeps only its
// last lines of ordinary output. The result is capped at maxLines from the
// end.
func (t *Task) TranscriptTail(maxLines int) (string, error) {
	content, err := t.ReadTranscript()
	if err != nil || content == "" {
		return content, err
	}
	return condense(strings.Split(strings.TrimRight(content, "\n"), "\n"), maxLines), nil
}

func isMarker(line string) bool {
	s := strings.TrimSpace(line)
	if strings.HasPrefix(s, "--- ") && strings.HasSuffix(s, " ---") {
		return true
	}
	return strings.Contains(s, "AGENT_DONE") ||
		strings.Contains(s, "TASK_COMPLETE") ||
		strings.Contains(s, "INPUT_NEEDED")
}

func condense(lines []string, maxLines int) string {
	var out, body []string
	inFeedback := false
	flush := func() {
		if len(body) > perRunTail {
			out = append(out, fmt.Sprintf("[... %d lines trimmed ...]", len(body)-perRunTail))
			body = body[len(body)-perRunTail:]
		}
		out = append(out, body...)
		body = nil
	}

	for _, line := range lines {
		s := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(s, "--- User feedback at "):
			flush()
			inFeedback = true
			out = append(out, line)
		case s == "--- End user feedback ---":
			inFeedback = false
			out = append(out, line)
		case inFeedback:
			out = append(out, line)
		case isMarker(line):
			flush()
			out = append(out, line)
		default:
			body = append(body, line)
		}
	}
	flush()

	if maxLines > 0 && len(out) > maxLines {
		out = out[len(out)-maxLines:]
	}
	return strings.Join(out, "\n")
}
