// Package plan builds execution plans, either from YAML files on disk or by
// asking a backend to decompose a task. Both paths funnel through the same
// builder so dependencies are always declared by title and resolved to
// generated unit IDs.
package plan

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kmorand/ensemble/pkg/models"
)

// DefaultMaxRetries applies when a unit does not set its own retry budget.
const DefaultMaxRetries = 2

// Planner turns a task into an executable plan.
type Planner interface {
	// Clarify returns open questions that must be answered before
	// planning. An empty slice means the task is clear. Answers gathered
	// in earlier rounds are passed back in so the planner can re-check.
	Clarify(ctx context.Context, task string, answers []string) ([]string, error)
	// Plan produces the plan once the task is clear.
	Plan(ctx context.Context, task string, answers []string) (*models.Plan, error)
}

// unitSpec is the on-disk and on-wire shape of one unit before IDs are
// assigned. Dependencies refer to other units by title.
type unitSpec struct {
	Title      string   `yaml:"title" json:"title"`
	Prompt     string   `yaml:"prompt" json:"prompt"`
	Role       string   `yaml:"role" json:"role"`
	Priority   int      `yaml:"priority" json:"priority"`
	MaxRetries *int     `yaml:"max_retries" json:"max_retries"`
	DependsOn  []string `yaml:"depends_on" json:"depends_on"`
}

// buildPlan turns unit specs into a plan: every unit gets a fresh ID and
// title references become ID references.
func buildPlan(task string, specs []unitSpec) (*models.Plan, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("plan has no units")
	}

	titleToID := make(map[string]string, len(specs))
	units := make([]*models.WorkUnit, len(specs))
	now := time.Now()

	for i, spec := range specs {
		if spec.Title == "" {
			return nil, fmt.Errorf("unit %d has no title", i+1)
		}
		if spec.Prompt == "" {
			return nil, fmt.Errorf("unit %q has no prompt", spec.Title)
		}
		if _, dup := titleToID[spec.Title]; dup {
			return nil, fmt.Errorf("duplicate unit title %q", spec.Title)
		}

		id := uuid.New().String()
		titleToID[spec.Title] = id

		maxRetries := DefaultMaxRetries
		if spec.MaxRetries != nil {
			if *spec.MaxRetries < 0 {
				return nil, fmt.Errorf("unit %q has negative max_retries", spec.Title)
			}
			maxRetries = *spec.MaxRetries
		}

		units[i] = &models.WorkUnit{
			ID:         id,
			Title:      spec.Title,
			Prompt:     spec.Prompt,
			Role:       spec.Role,
			Priority:   spec.Priority,
			MaxRetries: maxRetries,
			Status:     models.UnitStatusPending,
			CreatedAt:  now,
		}
	}

	for i, spec := range specs {
		for _, depTitle := range spec.DependsOn {
			depID, ok := titleToID[depTitle]
			if !ok {
				return nil, fmt.Errorf("unknown dependency %q for unit %q", depTitle, spec.Title)
			}
			units[i].DependsOn = append(units[i].DependsOn, depID)
		}
	}

	return &models.Plan{
		ID:        uuid.New().String(),
		Task:      task,
		Units:     units,
		CreatedAt: now,
	}, nil
}
