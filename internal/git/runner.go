package git

import (
	"fmt"
	"os/exec"
	"strings"
)

// ExecRunner implements Runner using exec.Command.
type ExecRunner struct {
	repoPath string
}

// NewRunner creates a new git runner for the repository at the given path.
func NewRunner(repoPath string) *ExecRunner {
	return &ExecRunner{repoPath: repoPath}
}

// run executes a git command and returns its output.
func (r *ExecRunner) run(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = r.repoPath
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, string(out))
	}
	return strings.TrimSpace(string(out)), nil
}

// runSilent executes a git command and ignores output.
func (r *ExecRunner) runSilent(args ...string) error {
	cmd := exec.Command("git", args...)
	cmd.Dir = r.repoPath
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, string(out))
	}
	return nil
}

// IsRepo returns true if the runner's path is inside a git work tree.
func (r *ExecRunner) IsRepo() (bool, error) {
	cmd := exec.Command("git", "rev-parse", "--is-inside-work-tree")
	cmd.Dir = r.repoPath
	err := cmd.Run()
	if err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			return false, nil
		}
		return false, fmt.Errorf("check repository: %w", err)
	}
	return true, nil
}

// DeleteBranch deletes the specified branch.
func (r *ExecRunner) DeleteBranch(name string) error {
	return r.runSilent("branch", "-D", name)
}

// ListBranches returns local branch names matching the pattern.
func (r *ExecRunner) ListBranches(pattern string) ([]string, error) {
	out, err := r.run("branch", "--list", pattern, "--format=%(refname:short)")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// Status returns the output of git status --porcelain.
func (r *ExecRunner) Status() (string, error) {
	return r.run("status", "--porcelain")
}

// WorktreeAddNewBranch creates a new worktree with a new branch (git worktree add -b).
func (r *ExecRunner) WorktreeAddNewBranch(path, branch string) error {
	return r.runSilent("worktree", "add", path, "-b", branch)
}

// WorktreeRemove removes the worktree at the given path.
func (r *ExecRunner) WorktreeRemove(path string) error {
	return r.runSilent("worktree", "remove", "--force", path)
}

// WorktreePrune removes stale worktree entries.
func (r *ExecRunner) WorktreePrune() error {
	return r.runSilent("worktree", "prune")
}

// Verify ExecRunner implements Runner at compile time.
var _ Runner = (*ExecRunner)(nil)
