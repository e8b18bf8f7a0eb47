// Package workspace provides isolated working directories for units. A
// strategy decides what isolation looks like: a dedicated git worktree, a
// throwaway temp directory, or a shared directory with no isolation.
package workspace

import (
	"fmt"
	"time"
)

// Workspace is an acquired working directory for one unit.
type Workspace struct {
	// Path is the absolute path to the working directory.
	Path string
	// Branch is the git branch backing the workspace. Empty for
	// non-worktree strategies.
	Branch string
	// UnitID is the unit the workspace was created for.
	UnitID string
	// CreatedAt is when the workspace was created.
	CreatedAt time.Time
}

// Strategy creates and disposes of workspaces. Implementations must be safe
// for concurrent use; workers on different units acquire in parallel.
type Strategy interface {
	// Name identifies the strategy ("worktree", "tempdir", "none").
	Name() string
	// Create prepares a workspace for the unit.
	Create(unitID string) (*Workspace, error)
	// Changes lists the paths modified inside the workspace since it was
	// created. Strategies that cannot attribute changes return nil.
	Changes(ws *Workspace) ([]string, error)
	// Cleanup disposes of a workspace. It must tolerate being called for
	// a workspace that is already gone.
	Cleanup(ws *Workspace) error
}

// New creates the named strategy. repoPath is required for "worktree" and is
// the shared directory for "none"; baseDir overrides where worktree and temp
// directories are created.
func New(kind, baseDir, repoPath string) (Strategy, error) {
	switch kind {
	case "worktree":
		return NewWorktree(baseDir, repoPath)
	case "tempdir":
		return NewTempDir(baseDir), nil
	case "none":
		return NewNone(repoPath), nil
	default:
		return nil, fmt.Errorf("unknown workspace strategy %q", kind)
	}
}

// NoneStrategy hands every unit the same shared directory and never cleans
// anything up.
type NoneStrategy struct {
	dir string
}

var _ Strategy = (*NoneStrategy)(nil)

// NewNone creates a strategy with no isolation. All units share dir.
func NewNone(dir string) *NoneStrategy {
	return &NoneStrategy{dir: dir}
}

// Name identifies the strategy.
func (s *NoneStrategy) Name() string { return "none" }

// Create returns the shared directory.
func (s *NoneStrategy) Create(unitID string) (*Workspace, error) {
	return &Workspace{Path: s.dir, UnitID: unitID, CreatedAt: time.Now()}, nil
}

// Changes returns nil; edits in a shared directory cannot be attributed to
// one unit.
func (s *NoneStrategy) Changes(ws *Workspace) ([]string, error) { return nil, nil }

// Cleanup is a no-op; the shared directory is not ours to remove.
func (s *NoneStrategy) Cleanup(ws *Workspace) error { return nil }
