package orchestrator

import (
	"fmt"
	"strings"
)

// approvalKind discriminates the operator's decision on a pending plan.
type approvalKind int

const (
	approvalApprove approvalKind = iota
	approvalReject
	approvalChanges
)

// approvalDecision is one operator decision, delivered to the control loop
// over the approvals channel while the run waits in AwaitingApproval.
type approvalDecision struct {
	kind   approvalKind
	reason string
}

// Approve releases a plan waiting for approval into execution.
func (o *Orchestrator) Approve() error {
	return o.decide(approvalDecision{kind: approvalApprove}, "approve")
}

// Reject discards the pending plan. Run returns ErrPlanRejected and the
// orchestrator goes back to Idle.
func (o *Orchestrator) Reject(reason string) error {
	return o.decide(approvalDecision{kind: approvalReject, reason: reason}, "reject")
}

// RequestChanges sends the plan back to clarification with feedback. The
// planner sees the feedback and produces a revised plan for approval.
func (o *Orchestrator) RequestChanges(feedback string) error {
	if strings.TrimSpace(feedback) == "" {
		return fmt.Errorf("change request needs a description")
	}
	return o.decide(approvalDecision{kind: approvalChanges, reason: feedback}, "request_changes")
}

func (o *Orchestrator) decide(d approvalDecision, op string) error {
	if err := o.machine.Require(PhaseAwaitingApproval, op); err != nil {
		return err
	}
	select {
	case o.approvals <- d:
		return nil
	default:
		return fmt.Errorf("a decision for this plan is already pending")
	}
}
