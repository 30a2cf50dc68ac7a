package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/kestrelworks/stagecraft/pkg/models"
)

// Resume continues an interrupted run from its persisted handoff
// chain. The chain is the sole source of truth: the resumed run picks
// up at the first stage with no recorded outcome. Resuming a run whose
// chain is already terminal does not re-execute anything; the stored
// result is reconstructed and returned.
//
// The request must match the one the run was started with; it is
// needed because stage inputs are not persisted, only stage outcomes.
func (o *Orchestrator) Resume(ctx context.Context, runID, request string) (*models.PipelineResult, error) {
	handoffs, err := o.store.List(runID)
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}
	if len(handoffs) == 0 {
		return nil, fmt.Errorf("run %s has no handoffs to resume from", runID)
	}

	r := &run{
		id:       runID,
		request:  request,
		started:  time.Now(),
		handoffs: handoffs,
	}
	if err := replay(r); err != nil {
		return nil, fmt.Errorf("replay run %s: %w", runID, err)
	}

	if r.state.Terminal() {
		log.Printf("[pipeline] run %s: already terminal (%s), nothing to resume", runID, r.state)
		return o.finish(r)
	}

	o.logEvent(r, "run_resumed", fmt.Sprintf("resuming at state %s from seq %d", r.state, handoffs[len(handoffs)-1].Seq))
	log.Printf("[pipeline] run %s: resuming at state %s", runID, r.state)
	return o.loop(ctx, r)
}

// replay derives the run's state and carried stage outputs from its
// handoff chain by applying the same transition rules the live
// orchestrator uses. A chain that no set of transitions could have
// produced is corrupt and yields an error.
func replay(r *run) error {
	r.state = StatePlanning

	for i := range r.handoffs {
		h := &r.handoffs[i]
		if err := replayStep(r, h); err != nil {
			return fmt.Errorf("handoff seq %d: %w", h.Seq, err)
		}
	}
	return nil
}

func replayStep(r *run, h *models.StageHandoff) error {
	if h.Source == models.StagePipeline {
		// Orchestrator-written terminal record: the run was aborted.
		r.state = StateAborted
		return nil
	}
	if r.state.Terminal() {
		return fmt.Errorf("handoff from %s recorded after terminal state %s", h.Source, r.state)
	}

	switch h.Source {
	case models.StagePlan:
		if r.state != StatePlanning {
			return fmt.Errorf("plan handoff in state %s", r.state)
		}
		r.plan = h.Plan
		if h.Status == models.StatusPassed && h.Plan != nil && len(h.Plan.Steps) > 0 {
			r.state = StateValidating
		} else {
			r.state = StateHalted
		}

	case models.StageValidate:
		if r.state != StateValidating {
			return fmt.Errorf("validate handoff in state %s", r.state)
		}
		r.gate = h.Gate
		if h.Status == models.StatusPassed {
			r.state = StateImplementing
		} else {
			r.state = StateHalted
		}

	case models.StageImplement:
		if r.state != StateImplementing {
			return fmt.Errorf("implement handoff in state %s", r.state)
		}
		if h.Status == models.StatusPassed {
			r.state = StateCompleted
		} else {
			r.state = StateHalted
		}

	default:
		return fmt.Errorf("unknown handoff source %q", h.Source)
	}
	return nil
}
