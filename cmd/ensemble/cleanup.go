package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kmorand/ensemble/internal/state"
	"github.com/kmorand/ensemble/internal/workspace"
)

// runMaxAge is how long finished runs are kept before --runs purges them.
const runMaxAge = 30 * 24 * time.Hour

var (
	cleanupForce   bool
	cleanupVerbose bool
	cleanupDryRun  bool
	cleanupRuns    bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove leftover worktrees and old run records",
	Long: `Clean up leftover git worktrees and old run data.

This command:
  - Removes every unit worktree left under the worktree base directory
  - Deletes the ensemble/* branches created for them
  - Runs git worktree prune

With --runs:
  - Deletes runs older than 30 days from the database

A run that finishes normally disposes its own workspaces; use this after
a crash or a killed process.

Examples:
  ensemble cleanup            # Interactive cleanup with confirmation
  ensemble cleanup --force    # Skip confirmation prompt
  ensemble cleanup --dry-run  # Show what would be removed
  ensemble cleanup -v         # Verbose output showing each removal
  ensemble cleanup --runs     # Also purge runs older than 30 days`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().BoolVarP(&cleanupForce, "force", "f", false, "Skip confirmation prompt")
	cleanupCmd.Flags().BoolVarP(&cleanupVerbose, "verbose", "v", false, "Show each worktree as it's removed")
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Show what would be removed without removing")
	cleanupCmd.Flags().BoolVar(&cleanupRuns, "runs", false, "Purge runs older than 30 days")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	repoPath, err := findGitRoot(cwd)
	if err != nil {
		return fmt.Errorf("find git repository: %w", err)
	}

	wt, err := workspace.NewWorktree("", repoPath)
	if err != nil {
		return fmt.Errorf("create worktree strategy: %w", err)
	}

	leftovers, err := listLeftoverWorktrees(wt.BaseDir())
	if err != nil {
		return err
	}

	if len(leftovers) == 0 && !cleanupRuns {
		fmt.Println("No leftover worktrees found.")
		return nil
	}

	if len(leftovers) > 0 {
		fmt.Printf("Found %d leftover worktree(s):\n", len(leftovers))
		for _, path := range leftovers {
			fmt.Printf("  - %s\n", path)
		}
		fmt.Println()
	} else {
		fmt.Println("No leftover worktrees found.")
	}

	if cleanupDryRun {
		if len(leftovers) > 0 {
			fmt.Println("Dry run mode - no worktrees were removed.")
		}
		if cleanupRuns {
			return dryRunPurge(cwd)
		}
		return nil
	}

	proceed := cleanupForce
	if !proceed && len(leftovers) > 0 {
		fmt.Print("Remove these worktrees? [y/N] ")
		reader := bufio.NewReader(os.Stdin)
		response, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("read confirmation: %w", err)
		}
		response = strings.TrimSpace(strings.ToLower(response))
		proceed = response == "y" || response == "yes"
		if !proceed {
			fmt.Println("Worktree cleanup cancelled.")
		}
	}

	// Worktree removal and run purging touch different stores, so they
	// run concurrently.
	var g errgroup.Group

	if proceed && len(leftovers) > 0 {
		g.Go(func() error {
			var verboseCallback func(path string)
			if cleanupVerbose {
				verboseCallback = func(path string) {
					fmt.Printf("Removed: %s\n", path)
				}
			}
			removed, err := wt.CleanupAll(verboseCallback)
			if err != nil {
				return fmt.Errorf("cleanup worktrees: %w", err)
			}
			fmt.Printf("Successfully removed %d worktree(s).\n", removed)
			return nil
		})
	}

	if cleanupRuns {
		g.Go(func() error {
			return purgeOldRuns(cwd)
		})
	}

	return g.Wait()
}

// listLeftoverWorktrees returns the worktree directories under baseDir.
func listLeftoverWorktrees(baseDir string) ([]string, error) {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read worktree base directory: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			paths = append(paths, filepath.Join(baseDir, entry.Name()))
		}
	}
	return paths, nil
}

// purgeOldRuns deletes runs older than runMaxAge.
func purgeOldRuns(cwd string) error {
	db, ok, err := openRunDB(cwd)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("No database found - no runs to purge.")
		return nil
	}
	defer db.Close()

	purged, err := db.PurgeOldRuns(runMaxAge)
	if err != nil {
		return fmt.Errorf("purge old runs: %w", err)
	}

	if purged > 0 {
		fmt.Printf("Purged %d run(s) older than 30 days.\n", purged)
	} else {
		fmt.Println("No runs older than 30 days found.")
	}
	return nil
}

// dryRunPurge counts the runs that --runs would delete.
func dryRunPurge(cwd string) error {
	db, ok, err := openRunDB(cwd)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("No database found - no runs to purge.")
		return nil
	}
	defer db.Close()

	runs, err := db.ListRuns(0)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}

	cutoff := time.Now().Add(-runMaxAge)
	count := 0
	for _, r := range runs {
		if r.StartedAt.Before(cutoff) {
			count++
		}
	}
	fmt.Printf("Dry run: would purge %d run(s) older than 30 days.\n", count)
	return nil
}

// openRunDB opens the project database, falling back to the user-level one.
// ok is false when neither exists.
func openRunDB(cwd string) (db *state.DB, ok bool, err error) {
	dbPath := state.ProjectDBPath(cwd)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		dbPath = state.DefaultDBPath()
	}
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, false, nil
	}

	db, err = state.Open(dbPath)
	if err != nil {
		return nil, false, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, false, fmt.Errorf("migrate database: %w", err)
	}
	return db, true, nil
}

// findGitRoot finds the root of the git repository starting from the given
// directory.
func findGitRoot(startDir string) (string, error) {
	dir := startDir
	for {
		gitDir := filepath.Join(dir, ".git")
		if info, err := os.Stat(gitDir); err == nil && info.IsDir() {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not in a git repository")
		}
		dir = parent
	}
}
