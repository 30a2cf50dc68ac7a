// Package validation runs configured checks against stage output and
// aggregates them into a single gate decision.
package validation

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/kestrelworks/stagecraft/pkg/models"
)

// Subject is the stage output a check runs against: a plan before
// implementation, or an implementation result after it.
type Subject struct {
	// Plan is the plan under validation. Always set.
	Plan *models.PlanResult
	// Implementation is set when validating post-implementation state.
	Implementation *models.ImplementationResult
}

// CheckProvider is a pluggable validation check. Providers declare their
// identity and classification; the evaluator owns scheduling and
// aggregation.
type CheckProvider interface {
	// Name identifies the check. Names must be unique within one
	// evaluator configuration.
	Name() string
	// Required reports whether a failure blocks pipeline progress.
	Required() bool
	// Retryable reports whether a failure should be treated as
	// transient and retried rather than failed.
	Retryable() bool
	// Threshold returns the configured minimum for scored checks, or
	// nil for boolean checks.
	Threshold() *float64
	// Run executes the check. A returned error means the check itself
	// broke, which is always treated as a non-retryable required
	// failure.
	Run(ctx context.Context, subject Subject) (models.ValidationCheck, error)
}

// Evaluator runs a configured set of checks and maps the aggregate
// outcome to a gate decision. It is shared by the validate and
// implement stages.
type Evaluator struct {
	providers []CheckProvider
}

// NewEvaluator creates an Evaluator over the given providers.
// Returns an error if two providers share a name.
func NewEvaluator(providers []CheckProvider) (*Evaluator, error) {
	seen := make(map[string]bool, len(providers))
	for _, p := range providers {
		if seen[p.Name()] {
			return nil, fmt.Errorf("duplicate check name %q", p.Name())
		}
		seen[p.Name()] = true
	}
	return &Evaluator{providers: providers}, nil
}

// Evaluate runs every configured check and returns the gate decision.
// Checks are independent and run concurrently; no check observes
// another's result, and all results are collected before aggregation so
// a single pass surfaces every problem at once.
//
// An empty check set passes vacuously, so pipelines can disable
// validation without special-casing the stage.
func (e *Evaluator) Evaluate(ctx context.Context, subject Subject) *models.GateResult {
	result := models.ValidationResult{
		Checks: make([]models.ValidationCheck, len(e.providers)),
	}

	var wg sync.WaitGroup
	for i, provider := range e.providers {
		wg.Add(1)
		go func(i int, provider CheckProvider) {
			defer wg.Done()
			result.Checks[i] = e.runCheck(ctx, provider, subject)
		}(i, provider)
	}
	wg.Wait()

	result.Timestamp = time.Now()
	result.Status = deriveStatus(result.Checks)

	return decide(result)
}

// runCheck executes one provider and stamps its declared identity and
// classification onto the result. A check that errors or panics is
// recorded as a failed, non-retryable required check regardless of its
// configured classification: a broken check must never silently pass.
func (e *Evaluator) runCheck(ctx context.Context, provider CheckProvider, subject Subject) (check models.ValidationCheck) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[validation] check %s panicked: %v", provider.Name(), r)
			check = brokenCheck(provider.Name(), fmt.Sprintf("check panicked: %v", r))
		}
	}()

	check, err := provider.Run(ctx, subject)
	if err != nil {
		log.Printf("[validation] check %s errored: %v", provider.Name(), err)
		return brokenCheck(provider.Name(), fmt.Sprintf("check errored: %v", err))
	}

	// Identity and classification come from configuration, not from the
	// check body.
	check.Name = provider.Name()
	check.Required = provider.Required()
	check.Threshold = provider.Threshold()
	if check.Passed {
		check.Retryable = false
	} else {
		check.Retryable = provider.Retryable()
	}
	return check
}

// brokenCheck builds the most conservative outcome for a malfunctioning
// check.
func brokenCheck(name, detail string) models.ValidationCheck {
	return models.ValidationCheck{
		Name:      name,
		Passed:    false,
		Detail:    detail,
		Required:  true,
		Retryable: false,
	}
}

// deriveStatus computes the overall validation status: failed if any
// required check failed, passed otherwise. Advisory failures are
// recorded but do not fail the result.
func deriveStatus(checks []models.ValidationCheck) models.StageStatus {
	for _, c := range checks {
		if c.Required && !c.Passed {
			return models.StatusFailed
		}
	}
	return models.StatusPassed
}

// decide maps a validation result to a gate decision:
//
//   - every required check passed and every scored check meets its
//     threshold: pass
//   - a required check failed and every required failure is retryable,
//     with no threshold missed: escalate
//   - otherwise: fail
func decide(result models.ValidationResult) *models.GateResult {
	if len(result.Checks) == 0 {
		return &models.GateResult{
			Tag:        models.GatePass,
			Validation: result,
			Reason:     "no checks configured; validation passes vacuously",
		}
	}

	var requiredFailures, thresholdMisses, advisoryFailures []models.ValidationCheck
	allRetryable := true

	for _, c := range result.Checks {
		if !c.MeetsThreshold() {
			thresholdMisses = append(thresholdMisses, c)
		}
		if c.Passed {
			continue
		}
		if c.Required {
			requiredFailures = append(requiredFailures, c)
			if !c.Retryable {
				allRetryable = false
			}
		} else {
			advisoryFailures = append(advisoryFailures, c)
		}
	}

	switch {
	case len(requiredFailures) == 0 && len(thresholdMisses) == 0:
		return &models.GateResult{
			Tag:        models.GatePass,
			Validation: result,
			Reason:     passReason(advisoryFailures),
		}
	case len(requiredFailures) > 0 && allRetryable && len(thresholdMisses) == 0:
		return &models.GateResult{
			Tag:        models.GateEscalate,
			Validation: result,
			Reason:     failReason(requiredFailures, thresholdMisses, advisoryFailures) + "; failures are transient, stage will be retried",
		}
	default:
		return &models.GateResult{
			Tag:        models.GateFail,
			Validation: result,
			Reason:     failReason(requiredFailures, thresholdMisses, advisoryFailures),
		}
	}
}

// passReason summarizes a passing gate, noting advisory failures for
// visibility.
func passReason(advisory []models.ValidationCheck) string {
	if len(advisory) == 0 {
		return "all checks passed"
	}
	names := make([]string, len(advisory))
	for i, c := range advisory {
		names[i] = c.Name
	}
	return fmt.Sprintf("all required checks passed; advisory failures: %s", strings.Join(names, ", "))
}

// failReason names every failing check and, for scored checks, the
// observed value versus the threshold.
func failReason(required, misses, advisory []models.ValidationCheck) string {
	var parts []string
	for _, c := range required {
		part := fmt.Sprintf("required check %s failed", c.Name)
		if c.Detail != "" {
			part += ": " + c.Detail
		}
		parts = append(parts, part)
	}
	for _, c := range misses {
		observed := "no score"
		if c.Score != nil {
			observed = fmt.Sprintf("score %.2f", *c.Score)
		}
		parts = append(parts, fmt.Sprintf("check %s: %s below threshold %.2f", c.Name, observed, *c.Threshold))
	}
	for _, c := range advisory {
		parts = append(parts, fmt.Sprintf("advisory check %s failed", c.Name))
	}
	return strings.Join(parts, "; ")
}
