package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kmorand/ensemble/internal/git"
)

// fakeRunner implements git.Runner and records the calls the strategies make.
type fakeRunner struct {
	addCalls    [][2]string
	removeCalls []string
	deleted     []string
	removeErr   error
	branches    []string
	status      string
}

func (f *fakeRunner) IsRepo() (bool, error) { return true, nil }
func (f *fakeRunner) DeleteBranch(name string) error {
	f.deleted = append(f.deleted, name)
	return nil
}
func (f *fakeRunner) ListBranches(pattern string) ([]string, error) { return f.branches, nil }
func (f *fakeRunner) Status() (string, error)                       { return f.status, nil }
func (f *fakeRunner) WorktreeAddNewBranch(path, branch string) error {
	f.addCalls = append(f.addCalls, [2]string{path, branch})
	return nil
}
func (f *fakeRunner) WorktreeRemove(path string) error {
	f.removeCalls = append(f.removeCalls, path)
	return f.removeErr
}
func (f *fakeRunner) WorktreePrune() error { return nil }

func TestNewSelectsStrategy(t *testing.T) {
	tests := []struct {
		kind     string
		wantName string
		wantErr  bool
	}{
		{"worktree", "worktree", false},
		{"tempdir", "tempdir", false},
		{"none", "none", false},
		{"bogus", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			s, err := New(tt.kind, t.TempDir(), t.TempDir())
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New(%q) error: %v", tt.kind, err)
			}
			if s.Name() != tt.wantName {
				t.Errorf("Name() = %q, want %q", s.Name(), tt.wantName)
			}
		})
	}
}

func TestNoneSharesDirectory(t *testing.T) {
	s := NewNone("/repo")

	first, err := s.Create("u1")
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	second, err := s.Create("u2")
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	if first.Path != "/repo" || second.Path != "/repo" {
		t.Errorf("paths = %q, %q, want both /repo", first.Path, second.Path)
	}
	if err := s.Cleanup(first); err != nil {
		t.Errorf("Cleanup() error: %v", err)
	}
}

func TestTempDirCreateAndCleanup(t *testing.T) {
	s := NewTempDir(t.TempDir())

	ws, err := s.Create("u1")
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if !strings.Contains(filepath.Base(ws.Path), "u1") {
		t.Errorf("path %q does not embed the unit ID", ws.Path)
	}
	if _, err := os.Stat(ws.Path); err != nil {
		t.Fatalf("workspace directory missing: %v", err)
	}

	if err := s.Cleanup(ws); err != nil {
		t.Fatalf("Cleanup() error: %v", err)
	}
	if _, err := os.Stat(ws.Path); !os.IsNotExist(err) {
		t.Errorf("workspace directory still exists after cleanup")
	}
}

func TestWorktreeCreate(t *testing.T) {
	runner := &fakeRunner{}
	base := t.TempDir()
	s, err := NewWorktreeWithRunner(base, "/repo", runner)
	if err != nil {
		t.Fatalf("NewWorktreeWithRunner() error: %v", err)
	}

	ws, err := s.Create("u1")
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	if ws.Branch != "ensemble/u1" {
		t.Errorf("branch = %q, want %q", ws.Branch, "ensemble/u1")
	}
	if want := filepath.Join(base, "u1"); ws.Path != want {
		t.Errorf("path = %q, want %q", ws.Path, want)
	}
	if len(runner.addCalls) != 1 {
		t.Fatalf("WorktreeAddNewBranch called %d times, want 1", len(runner.addCalls))
	}
	if runner.addCalls[0] != [2]string{ws.Path, ws.Branch} {
		t.Errorf("WorktreeAddNewBranch called with %v", runner.addCalls[0])
	}
}

func TestWorktreeChangesParsesStatus(t *testing.T) {
	runner := &fakeRunner{status: " M internal/app.go\n?? docs/new.md\nR  old.go -> new.go"}
	s, err := NewWorktreeWithRunner(t.TempDir(), "/repo", runner)
	if err != nil {
		t.Fatalf("NewWorktreeWithRunner() error: %v", err)
	}
	s.runnerIn = func(path string) git.StatusOperations { return runner }

	got, err := s.Changes(&Workspace{Path: "/anywhere", UnitID: "u1"})
	if err != nil {
		t.Fatalf("Changes() error: %v", err)
	}
	want := []string{"internal/app.go", "docs/new.md", "new.go"}
	if len(got) != len(want) {
		t.Fatalf("Changes() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Changes()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestWorktreeChangesCleanWorktree(t *testing.T) {
	runner := &fakeRunner{}
	s, err := NewWorktreeWithRunner(t.TempDir(), "/repo", runner)
	if err != nil {
		t.Fatalf("NewWorktreeWithRunner() error: %v", err)
	}
	s.runnerIn = func(path string) git.StatusOperations { return runner }

	got, err := s.Changes(&Workspace{Path: "/anywhere", UnitID: "u1"})
	if err != nil {
		t.Fatalf("Changes() error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Changes() = %v, want none", got)
	}
}

func TestWorktreeCleanupFallsBackToDirectRemoval(t *testing.T) {
	runner := &fakeRunner{removeErr: os.ErrPermission}
	base := t.TempDir()
	s, err := NewWorktreeWithRunner(base, "/repo", runner)
	if err != nil {
		t.Fatalf("NewWorktreeWithRunner() error: %v", err)
	}

	path := filepath.Join(base, "u1")
	if err := os.MkdirAll(path, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	if err := s.Cleanup(&Workspace{Path: path, UnitID: "u1"}); err != nil {
		t.Fatalf("Cleanup() error: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("worktree directory still exists after cleanup")
	}
}

func TestWorktreeCleanupAll(t *testing.T) {
	runner := &fakeRunner{
		removeErr: os.ErrPermission,
		branches:  []string{"ensemble/u1", "ensemble/u2"},
	}
	base := t.TempDir()
	s, err := NewWorktreeWithRunner(base, "/repo", runner)
	if err != nil {
		t.Fatalf("NewWorktreeWithRunner() error: %v", err)
	}

	for _, id := range []string{"u1", "u2"} {
		if err := os.MkdirAll(filepath.Join(base, id), 0755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}

	var seen []string
	removed, err := s.CleanupAll(func(path string) { seen = append(seen, path) })
	if err != nil {
		t.Fatalf("CleanupAll() error: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	if len(seen) != 2 {
		t.Errorf("verbose callback saw %d paths, want 2", len(seen))
	}
	if len(runner.deleted) != 2 {
		t.Errorf("deleted %d branches, want 2: %v", len(runner.deleted), runner.deleted)
	}
}
