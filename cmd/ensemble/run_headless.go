package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/kmorand/ensemble/internal/aggregate"
	"github.com/kmorand/ensemble/internal/orchestrator"
	"github.com/kmorand/ensemble/internal/state"
)

// runHeadlessMode drives a run from the terminal without the TUI. Events
// print line by line; clarification and plan approval block on stdin
// prompts unless auto-approve is set.
func runHeadlessMode(ctx context.Context, orch *orchestrator.Orchestrator, task string, rec *state.Recorder, autoApprove bool) (*aggregate.Report, error) {
	fmt.Printf("Starting task: %s\n\n", task)

	done := make(chan struct{})
	go func() {
		defer close(done)
		consumeEventsHeadless(orch, rec, autoApprove)
	}()

	rep, err := orch.Run(ctx, task)

	// Close the stream so the consumer drains remaining events and exits.
	orch.Close()
	<-done
	return rep, err
}

// consumeEventsHeadless prints orchestrator events to stdout and handles
// the interactive prompts. It returns when the event stream closes.
func consumeEventsHeadless(orch *orchestrator.Orchestrator, rec *state.Recorder, autoApprove bool) {
	stdin := bufio.NewReader(os.Stdin)

	for ev := range orch.Events() {
		maybeAttachPlan(rec, orch, ev)

		switch ev.Type {
		case orchestrator.EventPhaseChanged:
			printPhase(ev)
		case orchestrator.EventQuestions:
			answerQuestions(orch, stdin, ev.Questions)
		case orchestrator.EventPlanReady:
			printPlan(ev)
			if !autoApprove {
				decidePlan(orch, stdin)
			}
		case orchestrator.EventUnitQueued:
			fmt.Printf("[QUEUED] %s\n", ev.UnitTitle)
		case orchestrator.EventUnitStarted:
			attempt := ""
			if ev.Attempt > 1 {
				attempt = fmt.Sprintf(" (attempt %d)", ev.Attempt)
			}
			fmt.Printf("[%s] %s%s\n", color.CyanString("STARTED"), ev.UnitTitle, attempt)
		case orchestrator.EventUnitRetrying:
			fmt.Printf("[%s] %s: %s (attempt %d)\n", color.YellowString("RETRY"), ev.UnitTitle, ev.Err, ev.Attempt)
		case orchestrator.EventUnitSucceeded:
			fmt.Printf("[%s] %s (%s, %d tokens)\n", color.GreenString("DONE"), ev.UnitTitle, ev.Duration.Round(time.Millisecond), ev.TokensUsed)
		case orchestrator.EventUnitAborted:
			fmt.Printf("[%s] %s: %s\n", color.RedString("FAILED"), ev.UnitTitle, ev.Err)
		case orchestrator.EventUnitSkipped:
			fmt.Printf("[%s] %s: %s\n", color.YellowString("SKIPPED"), ev.UnitTitle, ev.Message)
		case orchestrator.EventInstructionQueued:
			fmt.Printf("[%s] queued: %s\n", color.MagentaString("INSTRUCTION"), ev.Message)
		case orchestrator.EventInstructionAbsorbed:
			fmt.Printf("[%s] %s\n", color.MagentaString("INSTRUCTION"), ev.Message)
		case orchestrator.EventRunCompleted:
			fmt.Printf("\n[%s] %s\n", color.GreenString("RUN"), ev.Message)
		}
	}
}

// printPhase prints lifecycle transitions worth a line of their own.
func printPhase(ev orchestrator.Event) {
	switch ev.Phase {
	case orchestrator.PhaseClarifying:
		fmt.Println("Clarifying task...")
	case orchestrator.PhasePlanning:
		fmt.Println("Planning...")
	case orchestrator.PhaseExecuting:
		fmt.Println("Executing plan...")
	case orchestrator.PhaseCancelled:
		fmt.Println(color.YellowString("Run cancelled."))
	case orchestrator.PhaseError:
		fmt.Println(color.RedString("Run failed: " + ev.Err))
	}
}

// printPlan renders the pending plan as an indented unit list.
func printPlan(ev orchestrator.Event) {
	fmt.Printf("\nPlan for: %s\n", ev.Task)
	titles := make(map[string]string, len(ev.Units))
	for _, u := range ev.Units {
		titles[u.ID] = u.Title
	}
	for i, u := range ev.Units {
		role := ""
		if u.Role != "" {
			role = fmt.Sprintf(" [%s]", u.Role)
		}
		deps := ""
		if len(u.DependsOn) > 0 {
			names := make([]string, 0, len(u.DependsOn))
			for _, id := range u.DependsOn {
				if t, ok := titles[id]; ok {
					names = append(names, t)
				} else {
					names = append(names, id)
				}
			}
			deps = " (after: " + strings.Join(names, ", ") + ")"
		}
		fmt.Printf("  %d. %s%s%s\n", i+1, u.Title, role, deps)
	}
	fmt.Println()
}

// answerQuestions collects one line per clarifying question.
func answerQuestions(orch *orchestrator.Orchestrator, stdin *bufio.Reader, questions []string) {
	fmt.Println("\nThe planner has questions:")
	answers := make([]string, 0, len(questions))
	for _, q := range questions {
		fmt.Printf("  %s\n  > ", q)
		line, err := stdin.ReadString('\n')
		if err != nil {
			log.Printf("[cmd] reading answer: %v", err)
			return
		}
		answers = append(answers, strings.TrimSpace(line))
	}
	if err := orch.Answer(answers); err != nil {
		log.Printf("[cmd] submitting answers: %v", err)
	}
}

// decidePlan prompts for the approval decision: approve, reject, or send
// the plan back with feedback.
func decidePlan(orch *orchestrator.Orchestrator, stdin *bufio.Reader) {
	for {
		fmt.Print("Execute this plan? [y]es / [n]o / [e]dit: ")
		line, err := stdin.ReadString('\n')
		if err != nil {
			log.Printf("[cmd] reading decision: %v", err)
			return
		}
		switch strings.TrimSpace(strings.ToLower(line)) {
		case "y", "yes":
			if err := orch.Approve(); err != nil {
				log.Printf("[cmd] approve: %v", err)
			}
			return
		case "n", "no":
			fmt.Print("Reason (optional): ")
			reason, _ := stdin.ReadString('\n')
			if err := orch.Reject(strings.TrimSpace(reason)); err != nil {
				log.Printf("[cmd] reject: %v", err)
			}
			return
		case "e", "edit":
			fmt.Print("What should change? ")
			feedback, _ := stdin.ReadString('\n')
			if err := orch.RequestChanges(strings.TrimSpace(feedback)); err != nil {
				log.Printf("[cmd] request changes: %v", err)
			}
			return
		default:
			fmt.Println("Please answer y, n, or e.")
		}
	}
}
