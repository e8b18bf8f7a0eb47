package orchestrator

import (
	"time"

	"github.com/kmorand/ensemble/internal/aggregate"
	"github.com/kmorand/ensemble/internal/backend"
	"github.com/kmorand/ensemble/internal/plan"
	"github.com/kmorand/ensemble/internal/pool"
	"github.com/kmorand/ensemble/internal/workspace"
	"github.com/kmorand/ensemble/pkg/models"
)

// RequiredConfig contains the minimal required configuration for an
// Orchestrator. All fields are required and have no defaults.
type RequiredConfig struct {
	// Planner turns the submitted task into a plan.
	Planner plan.Planner
	// Backend executes unit prompts.
	Backend backend.Backend
	// Workspace provisions the directory each unit runs in.
	Workspace workspace.Strategy
}

// Option configures an Orchestrator. Use With* functions to create Options.
type Option func(*orchestratorOptions)

// orchestratorOptions holds all optional configuration.
type orchestratorOptions struct {
	workers      int
	retryDelay   time.Duration
	unitTimeout  time.Duration
	autoApprove  bool
	aggregator   aggregate.Aggregator
	decisionSink func(models.SchedulingDecision)
	pause        *PauseController
}

func defaultOptions() *orchestratorOptions {
	return &orchestratorOptions{
		workers:    3,
		retryDelay: pool.DefaultRetryDelay,
		aggregator: aggregate.NewSummary(),
		pause:      NewPauseController(),
	}
}

// WithWorkers sets the maximum number of units running concurrently. The
// pool clamps the value to its supported range.
func WithWorkers(n int) Option {
	return func(o *orchestratorOptions) { o.workers = n }
}

// WithRetryDelay sets the fixed wait between attempts of a failed unit.
func WithRetryDelay(d time.Duration) Option {
	return func(o *orchestratorOptions) { o.retryDelay = d }
}

// WithUnitTimeout bounds a single attempt of any unit. Zero disables the
// per-unit timeout.
func WithUnitTimeout(d time.Duration) Option {
	return func(o *orchestratorOptions) { o.unitTimeout = d }
}

// WithAutoApprove skips the approval gate and moves straight from planning
// to execution. Headless runs use this.
func WithAutoApprove(b bool) Option {
	return func(o *orchestratorOptions) { o.autoApprove = b }
}

// WithAggregator sets a custom report aggregator.
func WithAggregator(a aggregate.Aggregator) Option {
	return func(o *orchestratorOptions) { o.aggregator = a }
}

// WithDecisionSink registers a callback for every scheduling decision, for
// persistence or audit. It runs in the control loop's goroutine and must
// not block.
func WithDecisionSink(fn func(models.SchedulingDecision)) Option {
	return func(o *orchestratorOptions) { o.decisionSink = fn }
}

// WithPauseController sets a custom pause controller, shared with a UI.
func WithPauseController(pc *PauseController) Option {
	return func(o *orchestratorOptions) { o.pause = pc }
}
