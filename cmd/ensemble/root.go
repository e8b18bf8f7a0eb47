package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ensemble",
	Short: "Task orchestration engine",
	Long: `Ensemble decomposes a task into a dependency graph of work units and
executes them concurrently against a reasoning backend.

A run moves through clarification, planning, and plan approval before any
unit executes. Units run in isolated workspaces under a bounded worker
pool, retry on transient failures, and cascade skips across their
dependents when they fail for good. Instructions can be injected into a
live run and are folded into units that have not started yet. Every run
ends with a single aggregated report.

Core capabilities:
- Plans work as a dependency graph with explicit approval
- Executes units concurrently with per-unit retry and timeout
- Isolates units in git worktrees or temp directories
- Absorbs injected instructions at scheduling boundaries
- Records every scheduling decision for later audit`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
