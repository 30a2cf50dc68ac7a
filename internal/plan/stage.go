// Package plan implements the planning stage: it turns a feature
// request into an ordered, dependency-checked set of implementation
// steps.
package plan

import (
	"context"
	"fmt"
	"log"

	"github.com/kestrelworks/stagecraft/internal/graph"
	"github.com/kestrelworks/stagecraft/pkg/models"
)

// PriorContext carries replanning context from a previous failed run.
type PriorContext struct {
	// RunID is the run being replanned.
	RunID string
	// LastStatus is the status of that run's last handoff. Replanning
	// only happens after failure.
	LastStatus models.StageStatus
	// FailureSummary describes why the prior run failed.
	FailureSummary string
}

// Producer generates plan content. It is the external collaborator the
// stage sequences; the stage treats the content itself as opaque and
// only enforces the structural invariants.
type Producer interface {
	// GeneratePlan produces a plan for the feature request. A returned
	// error means the producer could not produce a usable plan, which
	// is distinguishable from producing an empty one.
	GeneratePlan(ctx context.Context, request string, prior *PriorContext) (*models.PlanResult, error)
}

// Stage is the Plan stage.
type Stage struct {
	producer Producer
}

// NewStage creates a Plan stage over the given producer.
func NewStage(producer Producer) *Stage {
	return &Stage{producer: producer}
}

// Run produces a PlanResult for the feature request.
//
// A producer failure or a structurally invalid plan (cyclic or dangling
// dependencies, forward references) is a normal terminal stage outcome:
// the result carries status failed, zero steps and a rationale, and is
// never passed downstream. Only contract violations by the caller —
// empty request, prior context from a run that did not fail — return an
// error.
func (s *Stage) Run(ctx context.Context, request string, prior *PriorContext) (*models.PlanResult, error) {
	if request == "" {
		return nil, fmt.Errorf("feature request must be non-empty")
	}
	if prior != nil && prior.LastStatus != models.StatusFailed {
		return nil, fmt.Errorf("prior context references run %s with status %q: replanning requires a failed run", prior.RunID, prior.LastStatus)
	}

	result, err := s.producer.GeneratePlan(ctx, request, prior)
	if err != nil {
		log.Printf("[plan] producer failed: %v", err)
		return &models.PlanResult{
			Status:    models.StatusFailed,
			Rationale: fmt.Sprintf("plan producer failed: %v", err),
		}, nil
	}
	if result == nil {
		return &models.PlanResult{
			Status:    models.StatusFailed,
			Rationale: "plan producer returned no result",
		}, nil
	}

	if verr := VerifySteps(result.Steps); verr != nil {
		log.Printf("[plan] produced plan is invalid: %v", verr)
		return &models.PlanResult{
			Status:    models.StatusFailed,
			Rationale: fmt.Sprintf("produced plan is invalid: %v", verr),
		}, nil
	}

	if result.Status == "" {
		result.Status = models.StatusPassed
	}
	log.Printf("[plan] produced %d steps (status=%s)", len(result.Steps), result.Status)
	return result, nil
}

// VerifySteps checks the plan invariants: every dependency reference
// resolves, references point only at earlier steps, risk tags are known,
// and the induced graph is acyclic.
func VerifySteps(steps []models.PlanStep) error {
	seen := make(map[string]bool, len(steps))
	for _, step := range steps {
		for _, dep := range step.DependsOn {
			if !seen[dep] {
				return fmt.Errorf("step %s references %s, which is not an earlier step", step.ID, dep)
			}
		}
		if step.Risk != "" && !step.Risk.Valid() {
			return fmt.Errorf("step %s has unknown risk level %q", step.ID, step.Risk)
		}
		seen[step.ID] = true
	}

	// Forward references are already excluded above; building the graph
	// still catches duplicates, empty IDs and cycles.
	_, err := graph.Build(steps)
	return err
}
