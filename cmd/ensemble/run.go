package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kmorand/ensemble/internal/aggregate"
	"github.com/kmorand/ensemble/internal/audit"
	"github.com/kmorand/ensemble/internal/backend"
	"github.com/kmorand/ensemble/internal/config"
	"github.com/kmorand/ensemble/internal/git"
	"github.com/kmorand/ensemble/internal/orchestrator"
	"github.com/kmorand/ensemble/internal/plan"
	"github.com/kmorand/ensemble/internal/state"
	"github.com/kmorand/ensemble/internal/workspace"
	"github.com/kmorand/ensemble/pkg/models"
)

var (
	runWorkers      int
	runBackend      string
	runWorkspace    string
	runPlanFile     string
	runInstructions string
	runYes          bool
	runHeadless     bool
	runDryRun       bool
	runTimeout      time.Duration
	runRetryDelay   time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run <task>",
	Short: "Run a task through the full orchestration lifecycle",
	Long: `Run a task: decompose it into a dependency graph of work units,
wait for plan approval, then execute the units concurrently.

The plan comes from the reasoning backend by default. With --plan the
units are loaded from a YAML file instead and no planning call is made.

While a run executes you can inject instructions; they are folded into
the prompts of units that have not been dispatched yet. In the TUI, type
into the input field. With --instructions FILE, edits to the file are
injected automatically.

Backends (--backend):
  - anthropic: Anthropic Messages API (or AWS Bedrock via config)
  - script:    external command per exchange (script.command in config)
  - sim:       deterministic in-process simulator

Workspace strategies (--workspace):
  - worktree:  one git worktree per unit (requires a git repository)
  - tempdir:   one temporary directory per unit
  - none:      all units share the current directory

Use --dry-run with --plan to rehearse a plan against the simulator: the
full scheduling, retry, and reporting machinery runs, but nothing touches
a real backend or the working tree.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTask,
}

func init() {
	runCmd.Flags().IntVar(&runWorkers, "workers", 3, "Worker pool capacity (1-8)")
	runCmd.Flags().StringVar(&runBackend, "backend", "anthropic", "Execution backend: anthropic, script, or sim")
	runCmd.Flags().StringVar(&runWorkspace, "workspace", "worktree", "Unit isolation: worktree, tempdir, or none")
	runCmd.Flags().StringVar(&runPlanFile, "plan", "", "Load the plan from a YAML file instead of the backend")
	runCmd.Flags().StringVar(&runInstructions, "instructions", "", "Watch a file and inject its edits as live instructions")
	runCmd.Flags().BoolVarP(&runYes, "yes", "y", false, "Approve the plan without asking")
	runCmd.Flags().BoolVar(&runHeadless, "headless", false, "Run without TUI (headless mode)")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Simulate execution of a plan file (requires --plan)")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Per-unit attempt timeout (default from config)")
	runCmd.Flags().DurationVar(&runRetryDelay, "retry-delay", 0, "Pause before each retry attempt (default from config)")
}

func runTask(cmd *cobra.Command, args []string) (retErr error) {
	// Recover from panics and report them
	defer func() {
		if r := recover(); r != nil {
			retErr = fmt.Errorf("PANIC in runTask: %v", r)
		}
	}()

	task := strings.Join(args, " ")
	verbose := os.Getenv("ENSEMBLE_DEBUG") != ""

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	// Flags override configuration only when set explicitly.
	if cmd.Flags().Changed("workers") {
		cfg.Defaults.Workers = runWorkers
	}
	if cmd.Flags().Changed("backend") {
		cfg.Defaults.Backend = runBackend
	}
	if cmd.Flags().Changed("workspace") {
		cfg.Defaults.Workspace = runWorkspace
	}
	if cmd.Flags().Changed("timeout") {
		cfg.Timeouts.Unit = runTimeout
	}
	if cmd.Flags().Changed("retry-delay") {
		cfg.Timeouts.RetryDelay = runRetryDelay
	}
	if runYes {
		cfg.Defaults.AutoApprove = true
	}

	if runDryRun {
		if runPlanFile == "" {
			return fmt.Errorf("--dry-run needs --plan FILE: the simulator cannot decompose a task")
		}
		cfg.Defaults.Backend = "sim"
		cfg.Defaults.Workspace = "none"
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	if verbose {
		fmt.Printf("[DEBUG] Task: %s\n", task)
		fmt.Printf("[DEBUG] Backend: %s\n", cfg.Defaults.Backend)
		fmt.Printf("[DEBUG] Workspace: %s\n", cfg.Defaults.Workspace)
		fmt.Printf("[DEBUG] Workers: %d\n", cfg.Defaults.Workers)
		fmt.Printf("[DEBUG] Headless: %v\n", runHeadless)
	}

	repoPath, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	// Create context with cancellation for all modes
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nReceived interrupt, shutting down...")
		cancel()
	}()

	be, err := buildBackend(ctx, cfg, verbose)
	if err != nil {
		return err
	}
	defer be.Close()

	if cfg.Defaults.Workspace == "worktree" {
		ok, err := git.NewRunner(repoPath).IsRepo()
		if err != nil {
			return fmt.Errorf("check git repository: %w", err)
		}
		if !ok {
			return fmt.Errorf("workspace strategy \"worktree\" needs a git repository (try --workspace tempdir)")
		}
	}

	ws, err := workspace.New(cfg.Defaults.Workspace, "", repoPath)
	if err != nil {
		return fmt.Errorf("create workspace strategy: %w", err)
	}

	var planner plan.Planner
	if runPlanFile != "" {
		planner = plan.NewFilePlanner(runPlanFile)
	} else {
		planner = plan.NewBackendPlanner(be)
	}

	runID := uuid.NewString()

	// Run history and the decision journal are best effort: a broken local
	// database never stops a run.
	var recorder *state.Recorder
	if db, err := state.Open(state.ProjectDBPath(repoPath)); err != nil {
		fmt.Printf("Warning: run history unavailable: %v\n", err)
	} else {
		defer db.Close()
		if err := db.Migrate(); err != nil {
			fmt.Printf("Warning: run history unavailable: %v\n", err)
		} else {
			if n, err := db.RecoverStaleRuns(); err != nil {
				fmt.Printf("Warning: recovering interrupted runs: %v\n", err)
			} else if n > 0 {
				fmt.Printf("Marked %d interrupted run(s) as failed.\n", n)
			}
			recorder = state.NewRecorder(db)
			if err := recorder.BeginRun(runID, task, be.Name(), cfg.Defaults.Workers); err != nil {
				fmt.Printf("Warning: recording run: %v\n", err)
				recorder = nil
			}
		}
	}

	var journal *audit.Journal
	if j, err := audit.Open(audit.DefaultPath(repoPath)); err != nil {
		fmt.Printf("Warning: decision journal unavailable: %v\n", err)
	} else {
		journal = j
		defer journal.Close()
	}

	sink := func(d models.SchedulingDecision) {
		if recorder != nil {
			recorder.OnDecision(d)
		}
		if journal != nil {
			if err := journal.Append(runID, d); err != nil {
				log.Printf("[cmd] journal append: %v", err)
			}
		}
	}

	options := []orchestrator.Option{
		orchestrator.WithWorkers(cfg.Defaults.Workers),
		orchestrator.WithAutoApprove(cfg.Defaults.AutoApprove),
		orchestrator.WithDecisionSink(sink),
	}
	if cfg.Timeouts.Unit > 0 {
		options = append(options, orchestrator.WithUnitTimeout(cfg.Timeouts.Unit))
	}
	if cfg.Timeouts.RetryDelay > 0 {
		options = append(options, orchestrator.WithRetryDelay(cfg.Timeouts.RetryDelay))
	}

	orch, err := orchestrator.New(orchestrator.RequiredConfig{
		Planner:   planner,
		Backend:   be,
		Workspace: ws,
	}, options...)
	if err != nil {
		return err
	}
	defer orch.Close()

	if runInstructions != "" {
		watcher, err := orchestrator.WatchInstructions(runInstructions, orch.Inject)
		if err != nil {
			return fmt.Errorf("watch instructions file: %w", err)
		}
		defer watcher.Close()
		if verbose {
			fmt.Printf("[DEBUG] Watching instructions file: %s\n", runInstructions)
		}
	}

	var rep *aggregate.Report
	var runErr error
	if runHeadless {
		rep, runErr = runHeadlessMode(ctx, orch, task, recorder, cfg.Defaults.AutoApprove)
	} else {
		rep, runErr = runWithTUI(ctx, orch, task, recorder)
	}

	finishRun(recorder, rep, runErr)

	if rep != nil {
		fmt.Println()
		fmt.Print(rep.Markdown())
	}
	return runErr
}

// buildBackend constructs the configured execution backend.
func buildBackend(ctx context.Context, cfg *config.Config, verbose bool) (backend.Backend, error) {
	switch cfg.Defaults.Backend {
	case "anthropic":
		bcfg := backend.AnthropicConfig{
			Model:      anthropic.Model(cfg.Anthropic.Model),
			MaxTokens:  cfg.Anthropic.MaxTokens,
			UseBedrock: cfg.Anthropic.UseBedrock,
			AWSRegion:  cfg.Anthropic.AWSRegion,
			AWSProfile: cfg.Anthropic.AWSProfile,
		}
		if !cfg.Anthropic.UseBedrock {
			key, source, err := cfg.ResolveAPIKey()
			if err != nil {
				return nil, fmt.Errorf("%w: set ANTHROPIC_API_KEY or anthropic.api_key", err)
			}
			if verbose {
				fmt.Printf("[DEBUG] API key %s from %s\n", config.MaskKey(key), source)
			}
			bcfg.APIKey = key
		}
		return backend.NewAnthropic(ctx, bcfg)
	case "script":
		return backend.NewScript(backend.ScriptConfig{Command: cfg.Script.Command})
	case "sim":
		return backend.NewSim(backend.SimConfig{Latency: 50 * time.Millisecond}), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Defaults.Backend)
	}
}

// maybeAttachPlan persists the approved plan's units once execution starts.
// Called by the event consumers of both modes.
func maybeAttachPlan(rec *state.Recorder, orch *orchestrator.Orchestrator, ev orchestrator.Event) {
	if rec == nil || ev.Type != orchestrator.EventPhaseChanged || ev.Phase != orchestrator.PhaseExecuting {
		return
	}
	if p := orch.Plan(); p != nil {
		if err := rec.AttachPlan(p); err != nil {
			log.Printf("[cmd] recording plan: %v", err)
		}
	}
}

// finishRun stamps the recorded run with its terminal status.
func finishRun(rec *state.Recorder, rep *aggregate.Report, runErr error) {
	if rec == nil {
		return
	}
	status := state.RunCompleted
	switch {
	case runErr == nil:
	case errors.Is(runErr, orchestrator.ErrRunCancelled), errors.Is(runErr, orchestrator.ErrPlanRejected):
		status = state.RunCancelled
	default:
		status = state.RunFailed
	}
	if err := rec.FinishRun(status, rep); err != nil {
		log.Printf("[cmd] recording run outcome: %v", err)
	}
}
