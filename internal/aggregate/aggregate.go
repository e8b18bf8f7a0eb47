// Package aggregate turns a finished plan into a run report. Results are
// collected in plan order, and partial success is first-class: a report is
// produced whether the run completed, failed halfway, or was cancelled.
package aggregate

import (
	"time"

	"github.com/kmorand/ensemble/pkg/models"
)

// UnitOutcome is one unit's contribution to the report.
type UnitOutcome struct {
	// ID and Title identify the unit.
	ID    string `json:"id"`
	Title string `json:"title"`
	// Status is the unit's terminal status.
	Status models.UnitStatus `json:"status"`
	// Attempts is how many attempts actually ran. Zero for units that
	// never started.
	Attempts int `json:"attempts"`
	// Output is the collected output of the final attempt.
	Output string `json:"output,omitempty"`
	// Error describes why the unit did not succeed.
	Error string `json:"error,omitempty"`
	// Duration is the final attempt's wall time.
	Duration time.Duration `json:"duration,omitempty"`
	// TokensUsed and Cost are the unit's usage, when known.
	TokensUsed int64   `json:"tokens_used,omitempty"`
	Cost       float64 `json:"cost,omitempty"`
	// WorkspacePath is where the unit's work landed, when a workspace
	// outlives the run.
	WorkspacePath string `json:"workspace_path,omitempty"`
	// FilesChanged lists the paths the unit modified, when known.
	FilesChanged []string `json:"files_changed,omitempty"`
}

// Report is the aggregated outcome of a run.
type Report struct {
	// PlanID and Task identify the run.
	PlanID string `json:"plan_id"`
	Task   string `json:"task"`
	// GeneratedAt is when the report was built.
	GeneratedAt time.Time `json:"generated_at"`
	// Outcomes lists every unit in plan order.
	Outcomes []UnitOutcome `json:"outcomes"`
	// Succeeded, Aborted, and Skipped count units by terminal status.
	Succeeded int `json:"succeeded"`
	Aborted   int `json:"aborted"`
	Skipped   int `json:"skipped"`
	// Unsettled counts units that never reached a terminal status. It is
	// zero for any run the orchestrator finished or cancelled cleanly.
	Unsettled int `json:"unsettled,omitempty"`
	// Instructions lists operator instructions absorbed during execution.
	// Each applied only to units dispatched after it arrived; earlier units
	// ran without it.
	Instructions []string `json:"instructions,omitempty"`
	// TotalTokens and TotalCost sum usage across units.
	TotalTokens int64   `json:"total_tokens"`
	TotalCost   float64 `json:"total_cost"`
	// Duration spans from the first unit starting to the last finishing.
	Duration time.Duration `json:"duration"`
	// Success is true when every unit succeeded.
	Success bool `json:"success"`
}

// Aggregator builds a report from a plan whose units have settled.
type Aggregator interface {
	Aggregate(p *models.Plan) (*Report, error)
}

// Summary is the default aggregator.
type Summary struct {
	now func() time.Time
}

// NewSummary creates the default aggregator.
func NewSummary() *Summary {
	return &Summary{now: time.Now}
}

var _ Aggregator = (*Summary)(nil)

// Aggregate walks the plan in order and folds every unit into the report.
func (s *Summary) Aggregate(p *models.Plan) (*Report, error) {
	r := &Report{
		PlanID:      p.ID,
		Task:        p.Task,
		GeneratedAt: s.now(),
		Outcomes:    make([]UnitOutcome, 0, len(p.Units)),
	}

	var firstStart, lastFinish *time.Time
	for _, u := range p.Units {
		o := UnitOutcome{
			ID:     u.ID,
			Title:  u.Title,
			Status: u.Status,
			Error:  u.Error,
		}
		if u.StartedAt != nil {
			o.Attempts = u.RetryCount + 1
			if firstStart == nil || u.StartedAt.Before(*firstStart) {
				firstStart = u.StartedAt
			}
		}
		if u.FinishedAt != nil {
			if lastFinish == nil || u.FinishedAt.After(*lastFinish) {
				lastFinish = u.FinishedAt
			}
		}
		if res := u.Result; res != nil {
			o.Output = res.Output
			o.Duration = res.Duration
			o.TokensUsed = res.TokensUsed
			o.Cost = res.Cost
			o.WorkspacePath = res.WorkspacePath
			o.FilesChanged = res.FilesChanged
			if o.Error == "" {
				o.Error = res.Error
			}
			r.TotalTokens += res.TokensUsed
			r.TotalCost += res.Cost
		}

		switch u.Status {
		case models.UnitStatusSucceeded:
			r.Succeeded++
		case models.UnitStatusAborted:
			r.Aborted++
		case models.UnitStatusSkipped:
			r.Skipped++
		default:
			r.Unsettled++
		}
		r.Outcomes = append(r.Outcomes, o)
	}

	if firstStart != nil && lastFinish != nil && lastFinish.After(*firstStart) {
		r.Duration = lastFinish.Sub(*firstStart)
	}
	r.Success = r.Succeeded == len(p.Units) && len(p.Units) > 0
	return r, nil
}
