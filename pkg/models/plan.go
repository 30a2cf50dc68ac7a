package models

// PlanStep is one unit of planned work.
type PlanStep struct {
	// ID uniquely identifies the step within a plan. It is stable across
	// retries of the same run.
	ID string `json:"id"`
	// Description explains what the step changes.
	Description string `json:"description"`
	// DependsOn lists step IDs that must be applied before this step.
	// References may only point at earlier steps in the plan.
	DependsOn []string `json:"depends_on,omitempty"`
	// Risk is the estimated risk of applying this step.
	Risk RiskLevel `json:"risk"`
}

// PlanResult is the Plan Stage's output. It is owned by the Plan Stage
// until wrapped into a handoff and read-only thereafter.
type PlanResult struct {
	// Steps is the ordered sequence of planned work.
	Steps []PlanStep `json:"steps"`
	// Status is the terminal status of the planning stage.
	Status StageStatus `json:"status"`
	// Rationale is free-form text explaining the plan, or the failure
	// when Status is failed.
	Rationale string `json:"rationale,omitempty"`
}

// StepIDs returns the IDs of all steps in plan order.
func (p *PlanResult) StepIDs() []string {
	ids := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		ids[i] = s.ID
	}
	return ids
}

// Step returns the step with the given ID, or nil if not present.
func (p *PlanResult) Step(id string) *PlanStep {
	for i := range p.Steps {
		if p.Steps[i].ID == id {
			return &p.Steps[i]
		}
	}
	return nil
}
