package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kmorand/ensemble/internal/git"
)

// branchPrefix namespaces the branches created for unit worktrees.
const branchPrefix = "ensemble/"

// WorktreeStrategy gives each unit a dedicated git worktree on its own
// branch. The worktree is removed on cleanup; the branch is kept so the
// unit's work survives disposal.
type WorktreeStrategy struct {
	baseDir  string
	repoPath string
	git      git.Runner
	// runnerIn builds a runner bound to a worktree path. Status has to run
	// inside the worktree to see that worktree's changes.
	runnerIn func(path string) git.StatusOperations
	mu       sync.Mutex
}

var _ Strategy = (*WorktreeStrategy)(nil)

// NewWorktree creates a worktree strategy for the repository at repoPath.
// baseDir is where worktrees are created; it defaults to
// ~/.cache/ensemble/worktrees.
func NewWorktree(baseDir, repoPath string) (*WorktreeStrategy, error) {
	return NewWorktreeWithRunner(baseDir, repoPath, git.NewRunner(repoPath))
}

// NewWorktreeWithRunner creates a worktree strategy with a custom git runner
// (for testing).
func NewWorktreeWithRunner(baseDir, repoPath string, runner git.Runner) (*WorktreeStrategy, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".cache", "ensemble", "worktrees")
	}

	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create worktree base directory: %w", err)
	}

	return &WorktreeStrategy{
		baseDir:  baseDir,
		repoPath: repoPath,
		git:      runner,
		runnerIn: func(path string) git.StatusOperations { return git.NewRunner(path) },
	}, nil
}

// Name identifies the strategy.
func (s *WorktreeStrategy) Name() string { return "worktree" }

// BaseDir returns the base directory where worktrees are created.
func (s *WorktreeStrategy) BaseDir() string { return s.baseDir }

// Create makes a new worktree on branch ensemble/<unitID> for the unit.
func (s *WorktreeStrategy) Create(unitID string) (*Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	branch := branchPrefix + unitID
	path := filepath.Join(s.baseDir, unitID)

	if err := s.git.WorktreeAddNewBranch(path, branch); err != nil {
		return nil, fmt.Errorf("create worktree: %w", err)
	}

	return &Workspace{
		Path:      path,
		Branch:    branch,
		UnitID:    unitID,
		CreatedAt: time.Now(),
	}, nil
}

// Changes lists the paths with uncommitted modifications in the unit's
// worktree. A fresh worktree starts clean, so everything reported was done
// by the unit.
func (s *WorktreeStrategy) Changes(ws *Workspace) ([]string, error) {
	out, err := s.runnerIn(ws.Path).Status()
	if err != nil {
		return nil, fmt.Errorf("workspace status: %w", err)
	}
	return parsePorcelain(out), nil
}

// parsePorcelain extracts paths from git status --porcelain output. Rename
// lines report the destination path.
func parsePorcelain(out string) []string {
	var paths []string
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 4 {
			continue
		}
		path := line[3:]
		if _, dst, ok := strings.Cut(path, " -> "); ok {
			path = dst
		}
		paths = append(paths, strings.Trim(path, `"`))
	}
	return paths
}

// Cleanup removes the unit's worktree. The branch stays behind so the work
// can be inspected or merged later.
func (s *WorktreeStrategy) Cleanup(ws *Workspace) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.git.WorktreeRemove(ws.Path); err != nil {
		// Git may have lost track of it; fall back to direct removal.
		if rmErr := os.RemoveAll(ws.Path); rmErr != nil {
			return fmt.Errorf("remove worktree: %w", err)
		}
	}
	return nil
}

// CleanupAll removes every worktree under the base directory plus the
// branches created for them, and prunes stale worktree entries. It is the
// crash-recovery path: a run that ends normally has already cleaned up its
// own workspaces. Returns the number of worktrees removed.
func (s *WorktreeStrategy) CleanupAll(verbose func(path string)) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read worktree base directory: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(s.baseDir, entry.Name())
		if err := s.git.WorktreeRemove(path); err != nil {
			if err := os.RemoveAll(path); err != nil {
				continue
			}
		}
		if verbose != nil {
			verbose(path)
		}
		removed++
	}

	_ = s.git.WorktreePrune()

	branches, err := s.git.ListBranches(strings.TrimSuffix(branchPrefix, "/") + "/*")
	if err != nil {
		return removed, fmt.Errorf("list unit branches: %w", err)
	}
	for _, branch := range branches {
		_ = s.git.DeleteBranch(branch)
	}

	return removed, nil
}
