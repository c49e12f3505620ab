package worktree

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/aristath/agman/internal/task"
)

// Manager creates and removes task worktrees under
// <repos>/<repo>-wt/<branch>.
type Manager struct {
	config ManagerConfig
	mu     sync.Mutex // serializes worktree add/remove so git's locks don't collide
}

// NewManager creates a new worktree manager.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.LogLimit <= 0 {
		cfg.LogLimit = 20
	}
	return &Manager{config: cfg}
}

// RepoPath returns <repos>/<repo>.
func (m *Manager) RepoPath(repo string) string {
	return filepath.Join(m.config.ReposDir, repo)
}

// Path returns <repos>/<repo>-wt/<branch> with slashes in the branch
// flattened.
func (m *Manager) Path(repo, branch string) string {
	return filepath.Join(m.config.ReposDir, repo+"-wt", task.SanitizeBranch(branch))
}

// Create adds a worktree for branch, checking the branch out if it already
// exists and creating it otherwise.
func (m *Manager) Create(ctx context.Context, repo, branch string) (*WorktreeInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	repoPath := m.RepoPath(repo)
	wtPath := m.Path(repo, branch)
	if _, err := os.Stat(wtPath); err == nil {
		return nil, fmt.Errorf("worktree already exists: %s", wtPath)
	}
	if err := os.MkdirAll(filepath.Dir(wtPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create worktree base: %w", err)
	}

	args := []string{"worktree", "add", wtPath, branch}
	if !m.branchExists(ctx, repoPath, branch) {
		args = []string{"worktree", "add", "-b", branch, wtPath}
		if m.config.BaseBranch != "" {
			args = append(args, m.config.BaseBranch)
		}
	}
	if _, err := git(ctx, repoPath, args...); err != nil {
		return nil, fmt.Errorf("failed to create worktree: %w", err)
	}

	head, err := git(ctx, wtPath, "rev-parse", "HEAD")
	if err != nil {
		return nil, fmt.Errorf("failed to get HEAD commit: %w", err)
	}
	return &WorktreeInfo{Path: wtPath, Branch: branch, Head: strings.TrimSpace(head)}, nil
}

func (m *Manager) branchExists(ctx context.Context, repoPath, branch string) bool {
	_, err := git(ctx, repoPath, "rev-parse", "--verify", "--quiet", "refs/heads/"+branch)
	return err == nil
}

// Remove force-removes the worktree at path, falling back to a prune when
// git no longer knows it. With deleteBranch the branch is deleted too.
func (m *Manager) Remove(ctx context.Context, repo, path, branch string, deleteBranch bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	repoPath := m.RepoPath(repo)
	var errs []error
	if _, err := git(ctx, repoPath, "worktree", "remove", "--force", path); err != nil {
		if _, pruneErr := git(ctx, repoPath, "worktree", "prune"); pruneErr != nil {
			errs = append(errs, fmt.Errorf("worktree remove failed: %w", err))
		}
	}
	if deleteBranch && branch != "" {
		if _, err := git(ctx, repoPath, "branch", "-D", branch); err != nil {
			errs = append(errs, fmt.Errorf("branch delete failed: %w", err))
		}
	}
	return errors.Join(errs...)
}

// List returns all worktrees of repo, the main checkout included.
func (m *Manager) List(ctx context.Context, repo string) ([]WorktreeInfo, error) {
	out, err := git(ctx, m.RepoPath(repo), "worktree", "list", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("failed to list worktrees: %w", err)
	}
	return parseWorktreeList(out), nil
}

func parseWorktreeList(output string) []WorktreeInfo {
	var worktrees []WorktreeInfo
	var current WorktreeInfo

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if current.Path != "" {
				worktrees = append(worktrees, current)
				current = WorktreeInfo{}
			}
		case strings.HasPrefix(line, "worktree "):
			current.Path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "HEAD "):
			current.Head = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			current.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		}
	}
	if current.Path != "" {
		worktrees = append(worktrees, current)
	}
	return worktrees
}

// Prune cleans up stale worktree metadata.
func (m *Manager) Prune(ctx context.Context, repo string) error {
	if _, err := git(ctx, m.RepoPath(repo), "worktree", "prune"); err != nil {
		return fmt.Errorf("failed to prune worktrees: %w", err)
	}
	return nil
}

// Diff returns the uncommitted changes in dir against HEAD.
func (m *Manager) Diff(ctx context.Context, dir string) (string, error) {
	return git(ctx, dir, "diff", "HEAD")
}

// LogSummary returns the latest commits in dir, one line each.
func (m *Manager) LogSummary(ctx context.Context, dir string) (string, error) {
	return git(ctx, dir, "log", "--oneline", "-n", strconv.Itoa(m.config.LogLimit))
}

// git runs a git subcommand in dir and returns stdout. Failures carry
// git's combined output.
func git(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stderr strings.Builder
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git %s: %w (output: %s)", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return string(out), nil
}
