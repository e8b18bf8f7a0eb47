package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kmorand/ensemble/internal/audit"
	"github.com/kmorand/ensemble/internal/state"
	"github.com/kmorand/ensemble/pkg/models"
)

var statusDecisions string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent runs and their unit outcomes",
	Long: `Display the latest run with its per-unit outcomes, followed by a
list of recent runs.

With --decisions RUN the scheduling decision journal for that run is
printed instead: every unit status transition in the order the control
loop applied it, with its reason.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusDecisions, "decisions", "", "Print the decision journal for the given run ID")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	if statusDecisions != "" {
		return displayDecisions(cwd, statusDecisions)
	}

	// Try the project database first, then the user-level one.
	dbPath := state.ProjectDBPath(cwd)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		dbPath = state.DefaultDBPath()
	}
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("No recorded runs. Start one with 'ensemble run <task>'.")
		return nil
	}

	db, err := state.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	latest, err := db.LatestRun()
	if err != nil {
		return fmt.Errorf("load latest run: %w", err)
	}
	if latest == nil {
		fmt.Println("No recorded runs. Start one with 'ensemble run <task>'.")
		return nil
	}

	displayRun(latest)
	if err := displayUnits(db, latest.ID); err != nil {
		return err
	}

	fmt.Println()
	return displayRecentRuns(db, latest.ID)
}

func displayRun(r *state.Run) {
	elapsed := formatDuration(time.Since(r.StartedAt))
	fmt.Printf("Run %s: %s (started %s ago)\n", shortID(r.ID), r.Status, elapsed)
	fmt.Printf("  Task: %s\n", r.Task)
	fmt.Printf("  Backend: %s  Workers: %d\n", r.Backend, r.Workers)
	if r.FinishedAt != nil {
		fmt.Printf("  Finished in %s\n", formatDuration(r.FinishedAt.Sub(r.StartedAt)))
	}
	if r.TokensUsed > 0 {
		fmt.Printf("  Tokens: %s  Cost: $%.4f\n", formatNumber(r.TokensUsed), r.Cost)
	}
	if r.Status != state.RunActive {
		fmt.Printf("  Outcomes: %d succeeded, %d aborted, %d skipped\n", r.Succeeded, r.Aborted, r.Skipped)
	}
}

func displayUnits(db *state.DB, runID string) error {
	units, err := db.ListUnitsByRun(runID)
	if err != nil {
		return fmt.Errorf("list units: %w", err)
	}
	if len(units) == 0 {
		fmt.Println("  Units: none recorded")
		return nil
	}

	fmt.Printf("  Units: %d\n", len(units))
	for _, u := range units {
		detail := ""
		if u.StartedAt != nil && u.FinishedAt != nil {
			detail = fmt.Sprintf(" (%s)", formatDuration(u.FinishedAt.Sub(*u.StartedAt)))
		}
		if u.Error != "" {
			errPreview := u.Error
			if len(errPreview) > 60 {
				errPreview = errPreview[:57] + "..."
			}
			detail += " - " + errPreview
		}
		fmt.Printf("    %s %s%s\n", statusGlyph(models.UnitStatus(u.Status)), u.Title, detail)
	}
	return nil
}

func displayRecentRuns(db *state.DB, excludeID string) error {
	runs, err := db.ListRuns(6)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}

	var recent []state.Run
	for _, r := range runs {
		if r.ID != excludeID {
			recent = append(recent, r)
			if len(recent) >= 5 {
				break
			}
		}
	}
	if len(recent) == 0 {
		return nil
	}

	fmt.Println("Recent Runs:")
	for _, r := range recent {
		elapsed := formatDuration(time.Since(r.StartedAt))
		fmt.Printf("  %s: %s (%s ago) - %s\n", shortID(r.ID), r.Status, elapsed, truncate(r.Task, 50))
	}
	return nil
}

// displayDecisions prints the audit journal for one run.
func displayDecisions(cwd, runID string) error {
	journalPath := audit.DefaultPath(cwd)
	if _, err := os.Stat(journalPath); os.IsNotExist(err) {
		fmt.Println("No decision journal found in this project.")
		return nil
	}

	journal, err := audit.Open(journalPath)
	if err != nil {
		return fmt.Errorf("open decision journal: %w", err)
	}
	defer journal.Close()

	entries, err := journal.List(runID)
	if err != nil {
		return fmt.Errorf("list decisions: %w", err)
	}
	if len(entries) == 0 {
		fmt.Printf("No decisions recorded for run %s.\n", runID)
		return nil
	}

	fmt.Printf("Decisions for run %s:\n", runID)
	for _, e := range entries {
		fmt.Printf("  %4d  %s  %s: %s -> %s  (%s)\n",
			e.Seq, e.At.Format("15:04:05"), shortID(e.UnitID), e.From, e.To, e.Reason)
	}
	return nil
}

// statusGlyph maps a unit status to its one-character display form.
func statusGlyph(s models.UnitStatus) string {
	switch s {
	case models.UnitStatusSucceeded:
		return "✓"
	case models.UnitStatusAborted:
		return "✗"
	case models.UnitStatusSkipped:
		return "⊘"
	case models.UnitStatusRunning:
		return "●"
	case models.UnitStatusQueued:
		return "◌"
	default:
		return "·"
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		if m > 0 {
			return fmt.Sprintf("%dh%dm", h, m)
		}
		return fmt.Sprintf("%dh", h)
	}
	days := int(d.Hours()) / 24
	return fmt.Sprintf("%dd", days)
}

// formatNumber formats a number with commas.
func formatNumber(n int64) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}

	var result strings.Builder
	offset := len(s) % 3
	if offset > 0 {
		result.WriteString(s[:offset])
		if len(s) > offset {
			result.WriteString(",")
		}
	}
	for i := offset; i < len(s); i += 3 {
		result.WriteString(s[i : i+3])
		if i+3 < len(s) {
			result.WriteString(",")
		}
	}
	return result.String()
}
