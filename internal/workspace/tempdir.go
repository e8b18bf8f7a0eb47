package workspace

import (
	"fmt"
	"os"
	"time"
)

// TempDirStrategy gives each unit a throwaway temp directory. Useful when
// the task does not need the repository, or there is no repository at all.
type TempDirStrategy struct {
	baseDir string
}

var _ Strategy = (*TempDirStrategy)(nil)

// NewTempDir creates a temp directory strategy. baseDir defaults to the
// system temp directory.
func NewTempDir(baseDir string) *TempDirStrategy {
	return &TempDirStrategy{baseDir: baseDir}
}

// Name identifies the strategy.
func (s *TempDirStrategy) Name() string { return "tempdir" }

// Create makes a fresh temp directory for the unit.
func (s *TempDirStrategy) Create(unitID string) (*Workspace, error) {
	dir, err := os.MkdirTemp(s.baseDir, "ensemble-"+unitID+"-")
	if err != nil {
		return nil, fmt.Errorf("create temp workspace: %w", err)
	}
	return &Workspace{
		Path:      dir,
		UnitID:    unitID,
		CreatedAt: time.Now(),
	}, nil
}

// Changes returns nil; a temp directory has no baseline to diff against.
func (s *TempDirStrategy) Changes(ws *Workspace) ([]string, error) { return nil, nil }

// Cleanup deletes the unit's temp directory.
func (s *TempDirStrategy) Cleanup(ws *Workspace) error {
	if err := os.RemoveAll(ws.Path); err != nil {
		return fmt.Errorf("remove temp workspace: %w", err)
	}
	return nil
}
