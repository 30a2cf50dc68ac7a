package validation

import (
	"context"
	"fmt"
	"log"

	"github.com/kestrelworks/stagecraft/pkg/models"
)

// Stage is the Validate stage: it runs the configured checks against a
// plan and produces the gate decision the orchestrator acts on.
type Stage struct {
	evaluator *Evaluator
}

// NewStage creates a Validate stage over the given evaluator.
func NewStage(evaluator *Evaluator) *Stage {
	return &Stage{evaluator: evaluator}
}

// Evaluator returns the underlying evaluator, shared with the implement
// stage for post-implementation re-verification.
func (s *Stage) Evaluator() *Evaluator {
	return s.evaluator
}

// Run validates a plan and returns the gate decision.
func (s *Stage) Run(ctx context.Context, plan *models.PlanResult) (*models.GateResult, error) {
	if plan == nil {
		return nil, fmt.Errorf("validate stage requires a plan")
	}
	if plan.Status != models.StatusPassed {
		return nil, fmt.Errorf("validate stage requires a passed plan, got status %q", plan.Status)
	}

	gate := s.evaluator.Evaluate(ctx, Subject{Plan: plan})
	log.Printf("[validation] gate=%s checks=%d reason=%s", gate.Tag, len(gate.Validation.Checks), gate.Reason)
	return gate, nil
}

// StatusForTag maps a terminal gate decision to the stage status
// recorded in the handoff. Escalate is never terminal: the orchestrator
// retries it or converts it to fail when retries exhaust.
func StatusForTag(tag models.GateTag) models.StageStatus {
	if tag == models.GatePass {
		return models.StatusPassed
	}
	return models.StatusFailed
}
