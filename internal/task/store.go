package task

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"

	"github.com/aristath/agman/internal/faults"
)

// ErrNotFound is returned when no task matches a lookup.
var ErrNotFound = errors.New("task not found")

// ErrExists is returned by Create when the task directory already exists.
var ErrExists = errors.New("task already exists")

// Store is the tasks directory, one subdirectory per task.
type Store struct {
	Dir    string
	Logger zerolog.Logger
}

// NewStore returns a store rooted at dir.
func NewStore(dir string, logger zerolog.Logger) *Store {
	return &Store{Dir: dir, Logger: logger}
}

// TaskDir returns the directory of the task with the given id.
func (s *Store) TaskDir(id string) string {
	return filepath.Join(s.Dir, id)
}

// NewParams describes a task to create.
type NewParams struct {
	Repo         string
	Branch       string
	Goal         string
	Flow         string
	WorktreePath string
	ReviewAfter  bool
}

// Create writes a new task record and its goal. The task starts stopped at
// step 0 of its flow; the driver marks it running when it starts the flow.
func (s *Store) Create(p NewParams) (*Task, error) {
	id := ID(p.Repo, p.Branch)
	dir := s.TaskDir(id)
	if _, err := os.Stat(dir); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrExists, id)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, faults.Persistence("create task "+id, err)
	}

	ts := now()
	t := &Task{
		Dir: dir,
		Meta: Meta{
			ID:           id,
			RepoName:     p.Repo,
			BranchName:   p.Branch,
			WorktreePath: p.WorktreePath,
			Status:       StatusStopped,
			FlowName:     p.Flow,
			Feedback:     []string{},
			CreatedAt:    ts,
			UpdatedAt:    ts,
			ReviewAfter:  p.ReviewAfter,
		},
	}
	if err := t.Save(); err != nil {
		return nil, err
	}
	if err := t.WriteGoal(p.Goal); err != nil {
		return nil, err
	}
	s.Logger.Info().Str("task", id).Str("flow", p.Flow).Msg("task created")
	return t, nil
}

// Load reads the task with the given id.
func (s *Store) Load(id string) (*Task, error) {
	dir := s.TaskDir(id)
	meta, err := readMeta(filepath.Join(dir, "meta.json"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, faults.Persistence("load task "+id, err)
	}
	return &Task{Meta: *meta, Dir: dir}, nil
}

// Find resolves a reference that is either a full id or a bare branch
// name. A branch name must match exactly one task.
func (s *Store) Find(ref string) (*Task, error) {
	if _, _, ok := ParseID(ref); ok {
		return s.Load(ref)
	}
	all, err := s.scan()
	if err != nil {
		return nil, err
	}
	var matches []*Task
	for _, t := range all {
		if t.Meta.BranchName == ref || SanitizeBranch(t.Meta.BranchName) == ref {
			matches = append(matches, t)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("ambiguous task %q: found in %d repos, use repo--branch", ref, len(matches))
	}
}

// scan loads every readable task. Unreadable entries are logged and skipped.
func (s *Store) scan() ([]*Task, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read tasks directory: %w", err)
	}
	var tasks []*Task
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, _, ok := ParseID(e.Name()); !ok {
			continue
		}
		t, err := s.Load(e.Name())
		if err != nil {
			s.Logger.Warn().Err(err).Str("task", e.Name()).Msg("skipping unreadable task")
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// List returns active tasks ordered running, input needed, stopped, on
// hold, most recently updated first within each group. Archived tasks are
// excluded.
func (s *Store) List() ([]*Task, error) {
	all, err := s.scan()
	if err != nil {
		return nil, err
	}
	active := all[:0]
	for _, t := range all {
		if t.Meta.ArchivedAt == nil {
			active = append(active, t)
		}
	}
	SortForDisplay(active)
	return active, nil
}

// SortForDisplay orders tasks the way List does.
func SortForDisplay(tasks []*Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i].Meta, tasks[j].Meta
		if a.Status.rank() != b.Status.rank() {
			return a.Status.rank() < b.Status.rank()
		}
		return a.UpdatedAt.After(b.UpdatedAt)
	})
}

// ListArchived returns archived tasks, most recently archived first.
func (s *Store) ListArchived() ([]*Task, error) {
	all, err := s.scan()
	if err != nil {
		return nil, err
	}
	var archived []*Task
	for _, t := range all {
		if t.Meta.ArchivedAt != nil {
			archived = append(archived, t)
		}
	}
	sort.SliceStable(archived, func(i, j int) bool {
		return archived[i].Meta.ArchivedAt.After(*archived[j].Meta.ArchivedAt)
	})
	return archived, nil
}

// Archive hides the task from List while keeping its directory.
func (s *Store) Archive(t *Task) error {
	return t.update(func(m *Meta) {
		ts := now()
		m.ArchivedAt = &ts
	})
}

// Delete removes the task directory.
func (s *Store) Delete(t *Task) error {
	if err := os.RemoveAll(t.Dir); err != nil {
		return faults.Persistence("delete task "+t.ID(), err)
	}
	s.Logger.Info().Str("task", t.ID()).Msg("task deleted")
	return nil
}
