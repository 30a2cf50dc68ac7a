// Package implement applies plan steps in dependency order and
// re-verifies the result through the gate evaluator.
package implement

import (
	"context"
	"fmt"
	"log"

	"github.com/kestrelworks/stagecraft/internal/graph"
	"github.com/kestrelworks/stagecraft/internal/validation"
	"github.com/kestrelworks/stagecraft/pkg/models"
)

// StepExecutor applies a single plan step to the target. It is the
// external collaborator that owns the actual code change.
type StepExecutor interface {
	// ExecuteStep applies one step. A returned error is a step failure:
	// dependents of the step will be skipped, independent steps still
	// run.
	ExecuteStep(ctx context.Context, step models.PlanStep, target string) error
}

// Stage is the Implement stage.
type Stage struct {
	executor  StepExecutor
	evaluator *validation.Evaluator
	// target is where steps are applied, typically a repository path.
	target string
}

// NewStage creates an Implement stage. The evaluator is the same one
// the validate stage uses; it re-runs post-implementation.
func NewStage(executor StepExecutor, evaluator *validation.Evaluator, target string) *Stage {
	return &Stage{executor: executor, evaluator: evaluator, target: target}
}

// Run applies the plan's steps in topological order and re-runs the
// gate against the implementation result.
//
// Per-step failure policy: when a step fails, every step depending on
// it directly or transitively is skipped; steps independent of the
// failure still apply. This bounds the blast radius of one failing step
// without halting unrelated work.
//
// The returned result's status is passed only when every step applied
// and the post-implementation gate passed. An escalate gate leaves the
// retry decision to the orchestrator. An error return means the plan
// violated its invariants, which is fatal for the run.
func (s *Stage) Run(ctx context.Context, gate *models.GateResult, plan *models.PlanResult) (*models.ImplementationResult, error) {
	if gate == nil || gate.Tag != models.GatePass {
		return nil, fmt.Errorf("implement stage requires a passing gate")
	}
	if plan == nil {
		return nil, fmt.Errorf("implement stage requires a plan")
	}

	// The plan was verified at planning time; a cycle or dangling
	// reference here means a collaborator or storage bug.
	g, err := graph.Build(plan.Steps)
	if err != nil {
		return nil, fmt.Errorf("plan invariant violated: %w", err)
	}
	order, err := g.TopologicalSort()
	if err != nil {
		return nil, fmt.Errorf("plan invariant violated: %w", err)
	}

	result := &models.ImplementationResult{}
	excluded := make(map[string]string, len(order)) // step ID -> failing ancestor

	for _, id := range order {
		step, _ := g.Step(id)

		if ancestor, skip := excluded[id]; skip {
			log.Printf("[implement] skipping step %s: depends on failed step %s", id, ancestor)
			result.Skipped = append(result.Skipped, models.StepOutcome{
				StepID: id,
				Reason: fmt.Sprintf("dependency %s failed", ancestor),
			})
			continue
		}

		if err := s.executor.ExecuteStep(ctx, step, s.target); err != nil {
			log.Printf("[implement] step %s failed: %v", id, err)
			result.Failed = append(result.Failed, models.StepOutcome{
				StepID: id,
				Reason: err.Error(),
			})
			for _, dep := range g.TransitiveDependents(id) {
				if _, already := excluded[dep]; !already {
					excluded[dep] = id
				}
			}
			continue
		}

		result.Applied = append(result.Applied, id)
	}

	// Re-verify through the shared gate evaluator.
	postGate := s.evaluator.Evaluate(ctx, validation.Subject{
		Plan:           plan,
		Implementation: result,
	})
	result.Gate = postGate

	allApplied := len(result.Applied) == len(plan.Steps)
	if allApplied && postGate.Tag == models.GatePass {
		result.Status = models.StatusPassed
	} else {
		result.Status = models.StatusFailed
	}

	log.Printf("[implement] applied=%d failed=%d skipped=%d gate=%s",
		len(result.Applied), len(result.Failed), len(result.Skipped), postGate.Tag)
	return result, nil
}
