// Package models defines the data contracts passed between pipeline stages.
package models

// Stage identifies one of the pipeline stages.
type Stage string

const (
	// StagePlan is the planning stage.
	StagePlan Stage = "plan"
	// StageValidate is the validation stage.
	StageValidate Stage = "validate"
	// StageImplement is the implementation stage.
	StageImplement Stage = "implement"
	// StagePipeline marks handoffs written by the orchestrator itself,
	// such as a cancellation record.
	StagePipeline Stage = "pipeline"
)

// Valid returns true if the stage is a known value.
func (s Stage) Valid() bool {
	switch s {
	case StagePlan, StageValidate, StageImplement, StagePipeline:
		return true
	default:
		return false
	}
}

// StageStatus represents the current state of a stage execution.
type StageStatus string

const (
	// StatusPending indicates the stage has not started.
	StatusPending StageStatus = "pending"
	// StatusRunning indicates the stage is executing.
	StatusRunning StageStatus = "running"
	// StatusPassed indicates the stage completed successfully.
	StatusPassed StageStatus = "passed"
	// StatusFailed indicates the stage failed.
	StatusFailed StageStatus = "failed"
	// StatusSkipped indicates the stage was not executed.
	StatusSkipped StageStatus = "skipped"
)

// Valid returns true if the status is a known value.
func (s StageStatus) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusPassed, StatusFailed, StatusSkipped:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status is a final stage outcome.
// Pending and running are transient and never persisted in a handoff.
func (s StageStatus) Terminal() bool {
	switch s {
	case StatusPassed, StatusFailed, StatusSkipped:
		return true
	default:
		return false
	}
}

// GateTag is the decision computed from a set of validation checks.
type GateTag string

const (
	// GatePass indicates all required checks passed and thresholds were met.
	GatePass GateTag = "pass"
	// GateFail indicates a required check failed for a non-retryable reason
	// or a numeric threshold was missed.
	GateFail GateTag = "fail"
	// GateEscalate indicates a required check failed due to a transient
	// condition and the stage should be retried.
	GateEscalate GateTag = "escalate"
)

// Valid returns true if the tag is a known value.
func (t GateTag) Valid() bool {
	switch t {
	case GatePass, GateFail, GateEscalate:
		return true
	default:
		return false
	}
}

// TerminalOutcome classifies how a pipeline run ended.
type TerminalOutcome string

const (
	// OutcomeCompleted indicates all three stages passed.
	OutcomeCompleted TerminalOutcome = "completed"
	// OutcomeHaltedAtPlan indicates planning produced no usable steps.
	OutcomeHaltedAtPlan TerminalOutcome = "halted-at-plan"
	// OutcomeHaltedAtValidate indicates the validation gate failed.
	OutcomeHaltedAtValidate TerminalOutcome = "halted-at-validate"
	// OutcomeHaltedAtImplement indicates the implementation stage failed.
	OutcomeHaltedAtImplement TerminalOutcome = "halted-at-implement"
	// OutcomeAborted indicates an unexpected error or cancellation stopped
	// the run. Distinct from halted: halted is a policy-driven stop.
	OutcomeAborted TerminalOutcome = "aborted"
)

// Valid returns true if the outcome is a known value.
func (o TerminalOutcome) Valid() bool {
	switch o {
	case OutcomeCompleted, OutcomeHaltedAtPlan, OutcomeHaltedAtValidate, OutcomeHaltedAtImplement, OutcomeAborted:
		return true
	default:
		return false
	}
}

// RiskLevel is the estimated risk of applying a plan step.
type RiskLevel string

const (
	// RiskLow indicates a step unlikely to break existing behavior.
	RiskLow RiskLevel = "low"
	// RiskMedium indicates a step touching shared code paths.
	RiskMedium RiskLevel = "medium"
	// RiskHigh indicates a step changing core behavior or interfaces.
	RiskHigh RiskLevel = "high"
)

// Valid returns true if the risk level is a known value.
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh:
		return true
	default:
		return false
	}
}
