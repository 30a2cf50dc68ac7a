package models

import "time"

// ValidationCheck is the outcome of one named, independently-run check.
// Identity is the check name: a ValidationResult never contains two
// checks with the same name.
type ValidationCheck struct {
	// Name identifies the check.
	Name string `json:"name"`
	// Passed is the check outcome.
	Passed bool `json:"passed"`
	// Score is an optional numeric result (e.g., a mutation score).
	Score *float64 `json:"score,omitempty"`
	// Detail is free-form text describing the outcome.
	Detail string `json:"detail,omitempty"`
	// Required records the configuration-time classification. A failing
	// required check blocks pipeline progress; advisory failures do not.
	Required bool `json:"required"`
	// Retryable marks a failure as transient. Only meaningful when the
	// check did not pass.
	Retryable bool `json:"retryable,omitempty"`
	// Threshold is the configured minimum for scored checks.
	Threshold *float64 `json:"threshold,omitempty"`
}

// MeetsThreshold returns true if the check has no threshold or its
// score meets the configured minimum. A scored check with a threshold
// but no observed score does not meet it.
func (c ValidationCheck) MeetsThreshold() bool {
	if c.Threshold == nil {
		return true
	}
	if c.Score == nil {
		return false
	}
	return *c.Score >= *c.Threshold
}

// ValidationResult aggregates check outcomes for one validation pass.
type ValidationResult struct {
	// Checks holds every check outcome, including advisory failures.
	Checks []ValidationCheck `json:"checks"`
	// Status is the derived overall status: failed if any required check
	// failed, passed otherwise.
	Status StageStatus `json:"status"`
	// Timestamp is when the validation pass completed.
	Timestamp time.Time `json:"timestamp"`
}

// Check returns the check with the given name, or nil if not present.
func (v *ValidationResult) Check(name string) *ValidationCheck {
	for i := range v.Checks {
		if v.Checks[i].Name == name {
			return &v.Checks[i]
		}
	}
	return nil
}

// GateResult is the decision computed from a validation pass.
// It is immutable once created.
type GateResult struct {
	// Tag is the gate decision.
	Tag GateTag `json:"tag"`
	// Validation is the result the decision was computed from.
	Validation ValidationResult `json:"validation"`
	// Reason names every failing check and, for scored checks, the
	// observed value versus the threshold.
	Reason string `json:"reason,omitempty"`
}

// StepOutcome records why a step failed or was skipped.
type StepOutcome struct {
	// StepID is the plan step identifier.
	StepID string `json:"step_id"`
	// Reason explains the failure or skip.
	Reason string `json:"reason"`
}

// ImplementationResult is the Implement Stage's output.
type ImplementationResult struct {
	// Status is the terminal status of the implementation stage.
	Status StageStatus `json:"status"`
	// Applied lists step IDs that were executed successfully, in
	// application order.
	Applied []string `json:"applied,omitempty"`
	// Failed lists steps whose execution failed, with reasons.
	Failed []StepOutcome `json:"failed,omitempty"`
	// Skipped lists steps not executed because a dependency failed.
	Skipped []StepOutcome `json:"skipped,omitempty"`
	// Gate is the post-implementation gate decision.
	Gate *GateResult `json:"gate,omitempty"`
}
