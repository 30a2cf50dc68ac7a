// Package pipeline sequences the plan, validate and implement stages,
// owns the run-level state machine, and persists handoffs between
// stages.
package pipeline

// State is the orchestrator's position in the run-level state machine.
type State string

const (
	// StateNotStarted is the initial state.
	StateNotStarted State = "not_started"
	// StatePlanning means the plan stage is executing.
	StatePlanning State = "planning"
	// StateValidating means the validate stage is executing.
	StateValidating State = "validating"
	// StateImplementing means the implement stage is executing.
	StateImplementing State = "implementing"
	// StateCompleted is the successful terminal state.
	StateCompleted State = "completed"
	// StateHalted is the expected, policy-driven terminal stop.
	StateHalted State = "halted"
	// StateAborted is the unexpected-error terminal stop.
	StateAborted State = "aborted"
)

// Terminal returns true if no further transition is possible.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateHalted, StateAborted:
		return true
	default:
		return false
	}
}
