package plan

import (
	"context"
	"fmt"
	"os"

	"go.yaml.in/yaml/v3"

	"github.com/kmorand/ensemble/pkg/models"
)

// filePlan is the YAML document shape for a plan file.
type filePlan struct {
	Task  string     `yaml:"task"`
	Units []unitSpec `yaml:"units"`
}

// Parse builds a plan from YAML plan-file bytes.
func Parse(data []byte) (*models.Plan, error) {
	var doc filePlan
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse plan file: %w", err)
	}
	return buildPlan(doc.Task, doc.Units)
}

// Load reads and parses a plan file.
func Load(path string) (*models.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan file: %w", err)
	}
	return Parse(data)
}

// Marshal renders a plan in the plan-file YAML shape, with dependencies
// referenced by title again. The output round-trips through Parse.
func Marshal(p *models.Plan) ([]byte, error) {
	titles := make(map[string]string, len(p.Units))
	for _, u := range p.Units {
		titles[u.ID] = u.Title
	}

	doc := filePlan{Task: p.Task, Units: make([]unitSpec, 0, len(p.Units))}
	for _, u := range p.Units {
		spec := unitSpec{
			Title:    u.Title,
			Prompt:   u.Prompt,
			Role:     u.Role,
			Priority: u.Priority,
		}
		if u.MaxRetries != DefaultMaxRetries {
			retries := u.MaxRetries
			spec.MaxRetries = &retries
		}
		for _, dep := range u.DependsOn {
			title, ok := titles[dep]
			if !ok {
				return nil, fmt.Errorf("unit %q depends on unknown unit %s", u.Title, dep)
			}
			spec.DependsOn = append(spec.DependsOn, title)
		}
		doc.Units = append(doc.Units, spec)
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal plan: %w", err)
	}
	return data, nil
}

// FilePlanner satisfies Planner with a plan file authored ahead of time.
// File plans never need clarification.
type FilePlanner struct {
	path string
}

var _ Planner = (*FilePlanner)(nil)

// NewFilePlanner creates a planner that loads the plan at path.
func NewFilePlanner(path string) *FilePlanner {
	return &FilePlanner{path: path}
}

// Clarify always reports the task as clear.
func (p *FilePlanner) Clarify(ctx context.Context, task string, answers []string) ([]string, error) {
	return nil, nil
}

// Plan loads the plan file. The submitted task overrides an empty task line
// in the file.
func (p *FilePlanner) Plan(ctx context.Context, task string, answers []string) (*models.Plan, error) {
	pl, err := Load(p.path)
	if err != nil {
		return nil, err
	}
	if pl.Task == "" {
		pl.Task = task
	}
	return pl, nil
}
