package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/aristath/agman/internal/faults"
	"github.com/aristath/agman/internal/task"
)

// maxDiffBytes caps the diff embedded in a prompt.
const maxDiffBytes = 10000

// DiffSource supplies the working-tree diff and recent commits of a
// worktree.
type DiffSource interface {
	Diff(ctx context.Context, dir string) (string, error)
	LogSummary(ctx context.Context, dir string) (string, error)
}

// LoadTemplate reads prompts/<agent>.md.
func LoadTemplate(promptsDir, agentName string) (string, error) {
	if agentName == "" || strings.ContainsAny(agentName, `/\`) {
		return "", faults.Load("load agent", fmt.Errorf("invalid agent name %q", agentName))
	}
	data, err := os.ReadFile(filepath.Join(promptsDir, agentName+".md"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", faults.Load("load agent "+agentName, fmt.Errorf("no prompt template in %s", promptsDir))
		}
		return "", faults.Load("load agent "+agentName, err)
	}
	return string(data), nil
}

// promptSection is one titled block appended after the template.
type promptSection struct {
	title  string
	body   string
	fenced bool
	lang   string
}

// BuildPrompt renders the template followed by the task's context
// sections. Empty sections are left out. Diff and commit history are only
// attached when there is follow-up feedback to act on.
func BuildPrompt(ctx context.Context, template string, t *task.Task, diffs DiffSource) (string, error) {
	read := func(name string) (string, error) {
		s, err := t.ReadArtifact(name)
		if err != nil {
			return "", faults.Persistence("read "+name, err)
		}
		return strings.TrimSpace(s), nil
	}

	var sections []promptSection
	for _, a := range []struct{ title, file string }{
		{"Task Goal", task.GoalFile},
		{"Implementation Plan", task.PlanFile},
		{"Progress So Far", task.ProgressFile},
		{"Relevant Context", task.ContextFile},
		{"Follow-up Feedback", task.FeedbackFile},
	} {
		body, err := read(a.file)
		if err != nil {
			return "", err
		}
		sections = append(sections, promptSection{title: a.title, body: body})
	}

	feedback := sections[len(sections)-1].body
	if feedback != "" && diffs != nil && t.Meta.WorktreePath != "" {
		// A failing git call only costs the agent some context.
		if diff, err := diffs.Diff(ctx, t.Meta.WorktreePath); err == nil {
			sections = append(sections, promptSection{title: "Current Git Diff", body: truncate(diff, maxDiffBytes), fenced: true, lang: "diff"})
		}
		if log, err := diffs.LogSummary(ctx, t.Meta.WorktreePath); err == nil {
			sections = append(sections, promptSection{title: "Recent Commits", body: strings.TrimSpace(log), fenced: true})
		}
	}

	return renderPrompt(template, sections), nil
}

func renderPrompt(template string, sections []promptSection) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(template, "\n"))
	b.WriteString("\n\n---\n\n")
	for _, s := range sections {
		if s.body == "" {
			continue
		}
		fmt.Fprintf(&b, "# %s\n", s.title)
		if s.fenced {
			fmt.Fprintf(&b, "```%s\n%s\n```\n\n", s.lang, strings.TrimRight(s.body, "\n"))
			continue
		}
		b.WriteString(s.body)
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

// truncate cuts s to at most n bytes on a rune boundary and marks the cut.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "\n... (truncated)"
}
