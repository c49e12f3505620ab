package worktree

// WorktreeInfo describes one worktree of a repository.
type WorktreeInfo struct {
	Path   string // absolute path to the worktree directory
	Branch string // branch checked out, without refs/heads/
	Head   string // HEAD commit hash
}

// ManagerConfig configures the worktree manager.
type ManagerConfig struct {
	ReposDir   string // holds <repo>/ and <repo>-wt/
	BaseBranch string // start point for new branches; empty means the repo's HEAD
	LogLimit   int    // commits shown by LogSummary (default 20)
}
