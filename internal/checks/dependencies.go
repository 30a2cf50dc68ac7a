package checks

import (
	"context"
	"fmt"

	"github.com/kestrelworks/stagecraft/internal/graph"
	"github.com/kestrelworks/stagecraft/internal/validation"
	"github.com/kestrelworks/stagecraft/pkg/models"
)

// DependencyResolution verifies the plan's dependency graph is sound:
// every reference resolves, no duplicates, no cycles. After
// implementation it additionally verifies every plan step was accounted
// for as applied, failed or skipped.
type DependencyResolution struct {
	base
}

// NewDependencyResolution creates the check.
func NewDependencyResolution(settings Settings) *DependencyResolution {
	return &DependencyResolution{base: base{settings: settings}}
}

// Run builds the plan graph and, post-implementation, reconciles step
// outcomes against it.
func (c *DependencyResolution) Run(ctx context.Context, subject validation.Subject) (models.ValidationCheck, error) {
	if subject.Plan == nil {
		return models.ValidationCheck{}, fmt.Errorf("no plan in subject")
	}

	g, err := graph.Build(subject.Plan.Steps)
	if err != nil {
		return models.ValidationCheck{
			Passed: false,
			Detail: fmt.Sprintf("dependency graph invalid: %v", err),
		}, nil
	}

	if subject.Implementation != nil {
		if detail, ok := reconcileOutcomes(g, subject.Implementation); !ok {
			return models.ValidationCheck{Passed: false, Detail: detail}, nil
		}
	}

	return models.ValidationCheck{
		Passed: true,
		Detail: fmt.Sprintf("%d steps, dependencies resolve acyclically", g.Size()),
	}, nil
}

// reconcileOutcomes verifies the implementation result covers every
// step exactly once.
func reconcileOutcomes(g *graph.Graph, impl *models.ImplementationResult) (string, bool) {
	seen := make(map[string]bool, g.Size())
	record := func(id string) (string, bool) {
		if seen[id] {
			return fmt.Sprintf("step %s reported more than once", id), false
		}
		if _, ok := g.Step(id); !ok {
			return fmt.Sprintf("step %s reported but not in plan", id), false
		}
		seen[id] = true
		return "", true
	}

	for _, id := range impl.Applied {
		if detail, ok := record(id); !ok {
			return detail, false
		}
	}
	for _, outcome := range impl.Failed {
		if detail, ok := record(outcome.StepID); !ok {
			return detail, false
		}
	}
	for _, outcome := range impl.Skipped {
		if detail, ok := record(outcome.StepID); !ok {
			return detail, false
		}
	}

	if len(seen) != g.Size() {
		return fmt.Sprintf("implementation accounted for %d of %d steps", len(seen), g.Size()), false
	}
	return "", true
}
