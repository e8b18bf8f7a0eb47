// Package git provides an interface for the git operations behind workspace
// isolation.
package git

// RepoOperations defines the interface for repository-level queries.
type RepoOperations interface {
	// IsRepo returns true if the runner's path is inside a git work tree.
	IsRepo() (bool, error)
}

// BranchOperations defines the interface for git branch operations.
type BranchOperations interface {
	// DeleteBranch deletes the specified branch (force delete).
	DeleteBranch(name string) error
	// ListBranches returns local branch names matching the pattern.
	ListBranches(pattern string) ([]string, error)
}

// StatusOperations defines the interface for git status queries.
type StatusOperations interface {
	// Status returns the output of git status --porcelain.
	Status() (string, error)
}

// WorktreeOperations defines the interface for git worktree operations.
type WorktreeOperations interface {
	// WorktreeAddNewBranch creates a new worktree with a new branch
	// (git worktree add -b).
	WorktreeAddNewBranch(path, branch string) error
	// WorktreeRemove removes the worktree at the given path.
	WorktreeRemove(path string) error
	// WorktreePrune removes stale worktree entries.
	WorktreePrune() error
}

// Runner defines the complete interface for git operations.
// This interface embeds all focused interfaces for full functionality.
// Consumers should prefer using focused interfaces when possible.
type Runner interface {
	RepoOperations
	BranchOperations
	StatusOperations
	WorktreeOperations
}
