package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kmorand/ensemble/internal/config"
	"github.com/kmorand/ensemble/internal/plan"
	"github.com/kmorand/ensemble/internal/scheduler"
)

var (
	planOutput   string
	planValidate string
)

var planCmd = &cobra.Command{
	Use:   "plan [task]",
	Short: "Produce or validate a plan without executing it",
	Long: `Ask the reasoning backend to decompose a task into a plan, print it,
and optionally write it as a YAML plan file for later execution with
'ensemble run --plan'.

With --validate FILE no backend is contacted: the plan file is loaded
and checked for unknown and circular dependencies.`,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVarP(&planOutput, "output", "o", "", "Write the plan to a YAML file")
	planCmd.Flags().StringVar(&planValidate, "validate", "", "Validate an existing plan file and exit")
}

func runPlan(cmd *cobra.Command, args []string) error {
	if planValidate != "" {
		p, err := plan.Load(planValidate)
		if err != nil {
			return err
		}
		if err := scheduler.Validate(p); err != nil {
			return err
		}
		fmt.Printf("Plan OK: %d units\n", len(p.Units))
		return nil
	}

	if len(args) == 0 {
		return fmt.Errorf("a task is required unless --validate is used")
	}
	task := strings.Join(args, " ")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	verbose := os.Getenv("ENSEMBLE_DEBUG") != ""
	be, err := buildBackend(ctx, cfg, verbose)
	if err != nil {
		return err
	}
	defer be.Close()

	fmt.Println("Planning...")
	p, err := plan.NewBackendPlanner(be).Plan(ctx, task, nil)
	if err != nil {
		return fmt.Errorf("planning failed: %w", err)
	}
	if err := scheduler.Validate(p); err != nil {
		return fmt.Errorf("plan validation failed: %w", err)
	}

	titles := make(map[string]string, len(p.Units))
	for _, u := range p.Units {
		titles[u.ID] = u.Title
	}
	fmt.Printf("\nPlan for: %s\n", p.Task)
	for i, u := range p.Units {
		deps := ""
		if len(u.DependsOn) > 0 {
			names := make([]string, 0, len(u.DependsOn))
			for _, id := range u.DependsOn {
				names = append(names, titles[id])
			}
			deps = " (after: " + strings.Join(names, ", ") + ")"
		}
		fmt.Printf("  %d. %s%s\n", i+1, u.Title, deps)
	}

	if planOutput != "" {
		data, err := plan.Marshal(p)
		if err != nil {
			return err
		}
		if err := os.WriteFile(planOutput, data, 0644); err != nil {
			return fmt.Errorf("write plan file: %w", err)
		}
		fmt.Printf("\nPlan written to %s\n", planOutput)
	}
	return nil
}
