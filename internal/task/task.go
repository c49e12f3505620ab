// Package task holds the durable record of a unit of work: its lifecycle
// status, its position in a flow, and the artifacts agents read and write.
package task

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aristath/agman/internal/faults"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusRunning     Status = "running"
	StatusStopped     Status = "stopped"
	StatusInputNeeded Status = "input_needed"
	StatusOnHold      Status = "on_hold"
)

// Label returns the human-readable form of the status.
func (s Status) Label() string {
	switch s {
	case StatusInputNeeded:
		return "input needed"
	case StatusOnHold:
		return "on hold"
	default:
		return string(s)
	}
}

// rank orders statuses for listing: running first, on hold last.
func (s Status) rank() int {
	switch s {
	case StatusRunning:
		return 0
	case StatusInputNeeded:
		return 1
	case StatusStopped:
		return 2
	default:
		return 3
	}
}

// ParseStatus accepts the stored form or the label.
func ParseStatus(s string) (Status, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_") {
	case "running":
		return StatusRunning, nil
	case "stopped":
		return StatusStopped, nil
	case "input_needed":
		return StatusInputNeeded, nil
	case "on_hold":
		return StatusOnHold, nil
	}
	return "", fmt.Errorf("unknown task status %q", s)
}

// LinkedPR is the pull request a task is associated with.
type LinkedPR struct {
	Number uint64 `json:"number"`
	URL    string `json:"url"`
	Owned  bool   `json:"owned"`
	Author string `json:"author,omitempty"`
}

// Meta is the persisted part of a task, stored as meta.json.
type Meta struct {
	ID           string    `json:"id"`
	RepoName     string    `json:"repo_name"`
	BranchName   string    `json:"branch_name"`
	WorktreePath string    `json:"worktree_path"`
	Status       Status    `json:"status"`
	FlowName     string    `json:"flow_name"`
	FlowStep     int       `json:"flow_step"`
	LoopStep     int       `json:"loop_step"`
	CurrentAgent *string   `json:"current_agent"`
	Feedback     []string  `json:"feedback_queue"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	LastReviewCount *uint64   `json:"last_review_count"`
	ReviewAddressed bool      `json:"review_addressed"`
	LinkedPR        *LinkedPR `json:"linked_pr,omitempty"`
	ReviewAfter     bool      `json:"review_after"`

	Seen       bool       `json:"seen"`
	ArchivedAt *time.Time `json:"archived_at,omitempty"`
}

// Task is a task record bound to its directory.
type Task struct {
	Meta Meta
	Dir  string
}

// now is swapped in tests that need deterministic timestamps.
var now = func() time.Time { return time.Now().UTC() }

// SanitizeBranch flattens a branch name for use in ids and directory names.
func SanitizeBranch(branch string) string {
	return strings.ReplaceAll(branch, "/", "-")
}

// ID returns the task id for a repo and branch: "<repo>--<branch>".
func ID(repo, branch string) string {
	return repo + "--" + SanitizeBranch(branch)
}

// ParseID splits an id at the first "--".
func ParseID(id string) (repo, branch string, ok bool) {
	repo, branch, ok = strings.Cut(id, "--")
	if !ok || repo == "" || branch == "" {
		return "", "", false
	}
	return repo, branch, true
}

// ID returns the task's id.
func (t *Task) ID() string {
	if t.Meta.ID != "" {
		return t.Meta.ID
	}
	return ID(t.Meta.RepoName, t.Meta.BranchName)
}

// Agent returns the current agent name, or "" when idle.
func (t *Task) Agent() string {
	if t.Meta.CurrentAgent == nil {
		return ""
	}
	return *t.Meta.CurrentAgent
}

func (t *Task) metaPath() string {
	return filepath.Join(t.Dir, "meta.json")
}

// Save rewrites meta.json atomically.
func (t *Task) Save() error {
	data, err := json.MarshalIndent(&t.Meta, "", "  ")
	if err != nil {
		return faults.Persistence("encode task "+t.ID(), err)
	}
	if err := writeFileAtomic(t.metaPath(), data, 0644); err != nil {
		return faults.Persistence("save task "+t.ID(), err)
	}
	return nil
}

// Reload re-reads meta.json, picking up changes made by other processes.
func (t *Task) Reload() error {
	meta, err := readMeta(t.metaPath())
	if err != nil {
		return faults.Persistence("reload task "+t.ID(), err)
	}
	t.Meta = *meta
	return nil
}

func readMeta(path string) (*Meta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if meta.ID == "" {
		meta.ID = ID(meta.RepoName, meta.BranchName)
	}
	return &meta, nil
}

// update applies fn to Meta, refreshes updated_at and saves. A failed
// save restores the previous Meta.
func (t *Task) update(fn func(m *Meta)) error {
	prev := t.Meta
	fn(&t.Meta)
	t.Meta.UpdatedAt = now()
	if err := t.Save(); err != nil {
		t.Meta = prev
		return err
	}
	return nil
}

func (m *Meta) setStatus(s Status) {
	m.Status = s
	if s == StatusStopped {
		m.Seen = false
	}
}

// UpdateStatus sets the lifecycle status. Stopping a task marks it unseen.
func (t *Task) UpdateStatus(s Status) error {
	return t.update(func(m *Meta) { m.setStatus(s) })
}

// SetAgent records the running agent. An empty name clears it.
func (t *Task) SetAgent(name string) error {
	return t.update(func(m *Meta) {
		if name == "" {
			m.CurrentAgent = nil
		} else {
			m.CurrentAgent = &name
		}
	})
}

// Halt clears the running agent and, when s is non-empty, sets the status,
// in a single write.
func (t *Task) Halt(s Status) error {
	return t.update(func(m *Meta) {
		m.CurrentAgent = nil
		if s != "" {
			m.setStatus(s)
		}
	})
}

// AdvanceStep moves to the next flow step and resets the loop position.
func (t *Task) AdvanceStep() error {
	return t.update(func(m *Meta) {
		m.FlowStep++
		m.LoopStep = 0
	})
}

// SetStep moves to an explicit flow step and resets the loop position.
func (t *Task) SetStep(step int) error {
	return t.update(func(m *Meta) {
		m.FlowStep = step
		m.LoopStep = 0
	})
}

// SetLoopStep records the inner position inside the current loop step.
func (t *Task) SetLoopStep(j int) error {
	return t.update(func(m *Meta) { m.LoopStep = j })
}

// ChangeFlow switches the task to another flow, starting from its first step.
func (t *Task) ChangeFlow(name string) error {
	return t.update(func(m *Meta) {
		m.FlowName = name
		m.FlowStep = 0
		m.LoopStep = 0
	})
}

// Restart puts the task on step of flow name and marks it running.
func (t *Task) Restart(name string, step int) error {
	return t.update(func(m *Meta) {
		m.FlowName = name
		m.FlowStep = step
		m.LoopStep = 0
		m.setStatus(StatusRunning)
	})
}

// SetLinkedPR associates a pull request with the task.
func (t *Task) SetLinkedPR(pr LinkedPR) error {
	return t.update(func(m *Meta) { m.LinkedPR = &pr })
}

// SetReviewBaseline records the review count last seen on the linked PR.
func (t *Task) SetReviewBaseline(count uint64) error {
	return t.update(func(m *Meta) { m.LastReviewCount = &count })
}

// SetReviewAddressed records whether the latest reviews have been handled.
func (t *Task) SetReviewAddressed(addressed bool) error {
	return t.update(func(m *Meta) { m.ReviewAddressed = addressed })
}

// SetReviewAfter records whether a PR review runs once the flow succeeds.
func (t *Task) SetReviewAfter(v bool) error {
	return t.update(func(m *Meta) { m.ReviewAfter = v })
}

// MarkSeen flags the task as viewed by the user since it last stopped.
// It leaves updated_at alone.
func (t *Task) MarkSeen() error {
	if t.Meta.Seen {
		return nil
	}
	t.Meta.Seen = true
	if err := t.Save(); err != nil {
		t.Meta.Seen = false
		return err
	}
	return nil
}

// Since renders the time since the last update, e.g. "3h ago".
func (t *Task) Since() string {
	return since(t.Meta.UpdatedAt)
}

func since(ts time.Time) string {
	d := now().Sub(ts)
	switch {
	case d >= 24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	case d >= time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d >= time.Minute:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	default:
		return "just now"
	}
}
