package task

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aristath/agman/internal/faults"
)

// Artifact file names inside a task directory.
const (
	GoalFile         = "TASK.md"
	PlanFile         = "PLAN.md"
	ProgressFile     = "PROGRESS.md"
	ContextFile      = "CONTEXT.md"
	FeedbackFile     = "FEEDBACK.md"
	NotesFile        = "notes.md"
	TranscriptFile   = "agent.log"
	BranchTargetFile = ".branch-target"
)

// Path returns the path of an artifact in the task directory.
func (t *Task) Path(name string) string {
	return filepath.Join(t.Dir, name)
}

// ReadArtifact returns the contents of an artifact, or "" if it does not
// exist.
func (t *Task) ReadArtifact(name string) (string, error) {
	data, err := os.ReadFile(t.Path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read %s: %w", name, err)
	}
	return string(data), nil
}

// WriteArtifact replaces an artifact.
func (t *Task) WriteArtifact(name, content string) error {
	if err := os.WriteFile(t.Path(name), []byte(content), 0644); err != nil {
		return faults.Persistence("write "+name, err)
	}
	return nil
}

// RemoveArtifact deletes an artifact if present.
func (t *Task) RemoveArtifact(name string) error {
	if err := os.Remove(t.Path(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return faults.Persistence("remove "+name, err)
	}
	return nil
}

// WriteGoal writes TASK.md from a goal description.
func (t *Task) WriteGoal(goal string) error {
	return t.WriteArtifact(GoalFile, "# Goal\n"+strings.TrimSpace(goal)+"\n")
}

// WriteFeedback stores feedback for the next run to pick up.
func (t *Task) WriteFeedback(text string) error {
	return t.WriteArtifact(FeedbackFile, text)
}

// ReadFeedback returns the pending feedback artifact, or "".
func (t *Task) ReadFeedback() (string, error) {
	return t.ReadArtifact(FeedbackFile)
}

// ClearFeedback removes the feedback artifact once it has been consumed.
func (t *Task) ClearFeedback() error {
	return t.RemoveArtifact(FeedbackFile)
}

// HasFeedback reports whether a feedback artifact is waiting.
func (t *Task) HasFeedback() bool {
	content, err := t.ReadFeedback()
	return err == nil && strings.TrimSpace(content) != ""
}

// WriteBranchTarget records the branch argument of a stored command.
func (t *Task) WriteBranchTarget(branch string) error {
	return t.WriteArtifact(BranchTargetFile, branch)
}
