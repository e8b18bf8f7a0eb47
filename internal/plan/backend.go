package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kmorand/ensemble/internal/backend"
	"github.com/kmorand/ensemble/pkg/models"
)

// BackendPlanner asks an execution backend to clarify and decompose tasks.
type BackendPlanner struct {
	backend backend.Backend
}

var _ Planner = (*BackendPlanner)(nil)

// NewBackendPlanner creates a planner on top of the given backend.
func NewBackendPlanner(b backend.Backend) *BackendPlanner {
	return &BackendPlanner{backend: b}
}

// Clarify asks the backend whether the task needs clarifying questions.
func (p *BackendPlanner) Clarify(ctx context.Context, task string, answers []string) ([]string, error) {
	resp, err := p.exchange(ctx, fmt.Sprintf(clarifyPrompt, task, formatAnswers(answers)))
	if err != nil {
		return nil, err
	}
	return parseQuestions(resp)
}

// Plan asks the backend to decompose the task into units.
func (p *BackendPlanner) Plan(ctx context.Context, task string, answers []string) (*models.Plan, error) {
	resp, err := p.exchange(ctx, fmt.Sprintf(planPrompt, task, formatAnswers(answers)))
	if err != nil {
		return nil, err
	}
	return ParseResponse(task, resp)
}

// exchange runs one prompt through a fresh planning session and returns the
// first result payload.
func (p *BackendPlanner) exchange(ctx context.Context, prompt string) (string, error) {
	sess, err := p.backend.Open(ctx, backend.OpenOptions{UnitID: "planner", Role: "planner"})
	if err != nil {
		return "", fmt.Errorf("open planning session: %w", err)
	}
	defer sess.Close()

	events, err := sess.Send(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("send planning prompt: %w", err)
	}

	var result string
	sawResult := false
	for {
		select {
		case <-ctx.Done():
			sess.Cancel()
			return "", ctx.Err()
		case ev, ok := <-events:
			if !ok {
				if !sawResult {
					return "", fmt.Errorf("planning stream ended without a result")
				}
				return result, nil
			}
			switch ev.Type {
			case backend.EventResult:
				// Use the first result only to avoid duplicated text
				// from multi-turn backends.
				if !sawResult {
					result = ev.Text
					sawResult = true
				}
			case backend.EventError:
				return "", fmt.Errorf("planning backend: %s", ev.Err)
			}
		}
	}
}

// ParseResponse extracts the JSON unit array from a backend response and
// builds a plan from it.
func ParseResponse(task, response string) (*models.Plan, error) {
	start := strings.Index(response, "[")
	end := strings.LastIndex(response, "]")
	if start == -1 || end == -1 || end <= start {
		preview := response
		if len(preview) > 500 {
			preview = preview[:500] + "... (truncated)"
		}
		return nil, fmt.Errorf("no JSON array found in planning response (got %d chars): %q", len(response), preview)
	}

	var specs []unitSpec
	if err := json.Unmarshal([]byte(response[start:end+1]), &specs); err != nil {
		return nil, fmt.Errorf("unmarshal planning response: %w", err)
	}
	return buildPlan(task, specs)
}

// parseQuestions interprets a clarification response: the word CLEAR means
// no questions, otherwise a JSON array of question strings is expected.
func parseQuestions(response string) ([]string, error) {
	trimmed := strings.TrimSpace(response)
	if strings.HasPrefix(strings.ToUpper(trimmed), "CLEAR") {
		return nil, nil
	}

	start := strings.Index(response, "[")
	end := strings.LastIndex(response, "]")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("clarification response is neither CLEAR nor a question list: %q", trimmed)
	}

	var questions []string
	if err := json.Unmarshal([]byte(response[start:end+1]), &questions); err != nil {
		return nil, fmt.Errorf("unmarshal clarification questions: %w", err)
	}
	if len(questions) == 0 {
		return nil, nil
	}
	return questions, nil
}

func formatAnswers(answers []string) string {
	if len(answers) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for i, a := range answers {
		fmt.Fprintf(&b, "%d. %s\n", i+1, a)
	}
	return b.String()
}
