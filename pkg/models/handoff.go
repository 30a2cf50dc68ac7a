package models

import (
	"fmt"
	"time"
)

// StageHandoff is the contract passed between stages. It is the sole
// channel of information between stages and the durable recovery
// checkpoint: once appended to a run's history it is never mutated.
type StageHandoff struct {
	// RunID identifies the pipeline run this handoff belongs to.
	RunID string `json:"run_id"`
	// Seq is the handoff's position in the run. Sequence numbers start
	// at 1 and increase strictly and gaplessly within a run.
	Seq int `json:"seq"`
	// Source is the stage that produced this handoff.
	Source Stage `json:"source"`
	// Status is the terminal status the source stage ended in.
	Status StageStatus `json:"status"`
	// CreatedAt is when the handoff was appended.
	CreatedAt time.Time `json:"created_at"`
	// Note carries orchestrator-written context, such as a cancellation
	// reason. Empty for ordinary stage handoffs.
	Note string `json:"note,omitempty"`

	// Exactly one of the following is set, matching Source. Handoffs
	// written by the orchestrator itself carry no payload.

	// Plan is set when Source is the plan stage.
	Plan *PlanResult `json:"plan,omitempty"`
	// Gate is set when Source is the validate stage.
	Gate *GateResult `json:"gate,omitempty"`
	// Implementation is set when Source is the implement stage.
	Implementation *ImplementationResult `json:"implementation,omitempty"`
}

// Validate checks the handoff's internal invariants: a known source, a
// terminal status, and a payload matching the source stage.
func (h *StageHandoff) Validate() error {
	if h.RunID == "" {
		return fmt.Errorf("handoff has no run ID")
	}
	if h.Seq < 1 {
		return fmt.Errorf("handoff sequence %d: must be >= 1", h.Seq)
	}
	if !h.Source.Valid() {
		return fmt.Errorf("handoff source %q: unknown stage", h.Source)
	}
	if !h.Status.Terminal() {
		return fmt.Errorf("handoff status %q: not a terminal status", h.Status)
	}

	payloads := 0
	if h.Plan != nil {
		payloads++
	}
	if h.Gate != nil {
		payloads++
	}
	if h.Implementation != nil {
		payloads++
	}
	if payloads > 1 {
		return fmt.Errorf("handoff carries %d payloads, want at most 1", payloads)
	}

	switch h.Source {
	case StagePlan:
		if h.Plan == nil {
			return fmt.Errorf("plan handoff missing plan payload")
		}
	case StageValidate:
		if h.Gate == nil {
			return fmt.Errorf("validate handoff missing gate payload")
		}
	case StageImplement:
		if h.Implementation == nil {
			return fmt.Errorf("implement handoff missing implementation payload")
		}
	case StagePipeline:
		if payloads != 0 {
			return fmt.Errorf("pipeline handoff must not carry a payload")
		}
	}

	return nil
}

// PipelineResult is the run-level summary.
type PipelineResult struct {
	// RunID identifies the run.
	RunID string `json:"run_id"`
	// Status is the final run status: passed for completed runs, failed
	// for halted or aborted runs.
	Status StageStatus `json:"status"`
	// Outcome classifies how the run ended.
	Outcome TerminalOutcome `json:"outcome"`
	// Reason explains the terminal classification.
	Reason string `json:"reason,omitempty"`
	// Handoffs is the full ordered handoff chain for the run.
	Handoffs []StageHandoff `json:"handoffs"`
	// Elapsed is the total run duration.
	Elapsed time.Duration `json:"elapsed"`
}

// LastHandoff returns the most recent handoff, or nil for an empty chain.
func (r *PipelineResult) LastHandoff() *StageHandoff {
	if len(r.Handoffs) == 0 {
		return nil
	}
	return &r.Handoffs[len(r.Handoffs)-1]
}
