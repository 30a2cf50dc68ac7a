package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelworks/stagecraft/internal/implement"
	"github.com/kestrelworks/stagecraft/internal/plan"
	"github.com/kestrelworks/stagecraft/internal/store"
	"github.com/kestrelworks/stagecraft/internal/validation"
	"github.com/kestrelworks/stagecraft/pkg/models"
)

// StatusSink receives the current pipeline result after every state
// transition. The orchestrator calls it synchronously so external
// observers never see a snapshot more than one transition stale.
type StatusSink interface {
	Publish(result models.PipelineResult)
}

// CancelChecker reports whether the run should stop. It is consulted
// between stages only; a stage in flight always finishes.
type CancelChecker interface {
	ShouldStop() bool
}

// Config holds orchestrator settings.
type Config struct {
	// MaxAttempts is the maximum number of attempts per stage when a
	// gate escalates. Exceeding it converts the escalation to a
	// failure; escalation never retries indefinitely.
	MaxAttempts int
	// Backoff is the delay before the first retry. It doubles on each
	// subsequent attempt, giving transient conditions time to clear.
	Backoff time.Duration
	// Sleep is the delay function. Tests inject a fake.
	Sleep func(time.Duration)
}

// DefaultConfig returns the orchestrator defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		Backoff:     2 * time.Second,
		Sleep:       time.Sleep,
	}
}

// Orchestrator sequences the three stages for one run at a time.
// Multiple orchestrators may run concurrently against the same store as
// long as each owns its run ID.
type Orchestrator struct {
	planStage      *plan.Stage
	validateStage  *validation.Stage
	implementStage *implement.Stage
	store          store.HandoffStore
	sink           StatusSink
	cancel         CancelChecker
	cfg            Config
}

// New creates an Orchestrator. The sink and cancel checker are
// optional.
func New(
	planStage *plan.Stage,
	validateStage *validation.Stage,
	implementStage *implement.Stage,
	handoffs store.HandoffStore,
	cfg Config,
) *Orchestrator {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Sleep == nil {
		cfg.Sleep = time.Sleep
	}
	return &Orchestrator{
		planStage:      planStage,
		validateStage:  validateStage,
		implementStage: implementStage,
		store:          handoffs,
		cfg:            cfg,
	}
}

// SetSink registers the status sink notified after every transition.
func (o *Orchestrator) SetSink(sink StatusSink) {
	o.sink = sink
}

// SetCancelChecker registers the between-stage cancellation check.
func (o *Orchestrator) SetCancelChecker(c CancelChecker) {
	o.cancel = c
}

// run carries the in-flight state of one pipeline run. Retry attempt
// counters live here, not in the handoff chain: a crash mid-retry
// resumes from the last persisted handoff with a fresh counter.
type run struct {
	id       string
	request  string
	prior    *plan.PriorContext
	state    State
	started  time.Time
	handoffs []models.StageHandoff

	// Stage outputs carried across states.
	plan *models.PlanResult
	gate *models.GateResult
}

// Start executes a new pipeline run for the feature request.
func (o *Orchestrator) Start(ctx context.Context, request string) (*models.PipelineResult, error) {
	return o.StartWithPrior(ctx, request, nil)
}

// StartWithPrior executes a new run carrying replanning context from a
// previous failed run.
func (o *Orchestrator) StartWithPrior(ctx context.Context, request string, prior *plan.PriorContext) (*models.PipelineResult, error) {
	r := &run{
		id:      uuid.NewString(),
		request: request,
		prior:   prior,
		state:   StateNotStarted,
		started: time.Now(),
	}
	o.logEvent(r, "run_started", request)
	o.transition(r, StatePlanning, "run started")
	return o.loop(ctx, r)
}

// loop drives the state machine to a terminal state. All dispatch on
// stage outcomes happens here; stages only report results.
func (o *Orchestrator) loop(ctx context.Context, r *run) (*models.PipelineResult, error) {
	for !r.state.Terminal() {
		// Cancellation is honored between stages only.
		if o.cancel != nil && o.cancel.ShouldStop() {
			return o.abort(r, "run cancelled", models.StatusSkipped)
		}

		var err error
		switch r.state {
		case StatePlanning:
			err = o.runPlanning(ctx, r)
		case StateValidating:
			err = o.runValidating(ctx, r)
		case StateImplementing:
			err = o.runImplementing(ctx, r)
		default:
			err = fmt.Errorf("unexpected pipeline state %q", r.state)
		}

		if err != nil {
			// Unhandled internal error: loud, never swallowed.
			log.Printf("[pipeline] run %s aborted in state %s: %v", r.id, r.state, err)
			return o.abort(r, err.Error(), models.StatusFailed)
		}
	}

	return o.finish(r)
}

// runPlanning executes the plan stage and decides the next state. The
// plan stage has no internal gate: the transition condition is simply
// that the plan contains at least one step.
func (o *Orchestrator) runPlanning(ctx context.Context, r *run) error {
	result, err := o.planStage.Run(ctx, r.request, r.prior)
	if err != nil {
		return fmt.Errorf("plan stage: %w", err)
	}
	r.plan = result

	if err := o.append(r, models.StageHandoff{
		Source: models.StagePlan,
		Status: result.Status,
		Plan:   result,
	}); err != nil {
		return err
	}

	if result.Status == models.StatusPassed && len(result.Steps) > 0 {
		o.transition(r, StateValidating, "plan produced %d steps", len(result.Steps))
		return nil
	}
	o.transition(r, StateHalted, "plan produced no usable steps")
	return nil
}

// runValidating executes the validate stage with bounded retry on
// escalation.
func (o *Orchestrator) runValidating(ctx context.Context, r *run) error {
	for attempt := 1; ; attempt++ {
		gate, err := o.validateStage.Run(ctx, r.plan)
		if err != nil {
			return fmt.Errorf("validate stage: %w", err)
		}

		switch gate.Tag {
		case models.GatePass:
			r.gate = gate
			if err := o.append(r, models.StageHandoff{
				Source: models.StageValidate,
				Status: validation.StatusForTag(gate.Tag),
				Gate:   gate,
			}); err != nil {
				return err
			}
			o.transition(r, StateImplementing, "validation gate passed")
			return nil

		case models.GateFail:
			if err := o.append(r, models.StageHandoff{
				Source: models.StageValidate,
				Status: validation.StatusForTag(gate.Tag),
				Gate:   gate,
			}); err != nil {
				return err
			}
			o.transition(r, StateHalted, "validation gate failed: %s", gate.Reason)
			return nil

		case models.GateEscalate:
			if attempt >= o.cfg.MaxAttempts {
				// Retries exhausted: the escalation is reclassified as
				// a stage outcome failure.
				if err := o.append(r, models.StageHandoff{
					Source: models.StageValidate,
					Status: validation.StatusForTag(gate.Tag),
					Gate:   gate,
					Note:   fmt.Sprintf("retry limit reached after %d attempts", attempt),
				}); err != nil {
					return err
				}
				o.transition(r, StateHalted, "validation escalated %d times, retry limit reached", attempt)
				return nil
			}
			o.retryDelay(r, "validate", attempt, gate.Reason)

		default:
			return fmt.Errorf("unknown gate tag %q", gate.Tag)
		}
	}
}

// runImplementing executes the implement stage with bounded retry on
// post-implementation escalation.
func (o *Orchestrator) runImplementing(ctx context.Context, r *run) error {
	for attempt := 1; ; attempt++ {
		result, err := o.implementStage.Run(ctx, r.gate, r.plan)
		if err != nil {
			return fmt.Errorf("implement stage: %w", err)
		}

		if result.Gate != nil && result.Gate.Tag == models.GateEscalate {
			if attempt < o.cfg.MaxAttempts {
				o.retryDelay(r, "implement", attempt, result.Gate.Reason)
				continue
			}
			// Retries exhausted: record the final attempt as failed.
			result.Status = models.StatusFailed
			if err := o.append(r, models.StageHandoff{
				Source:         models.StageImplement,
				Status:         models.StatusFailed,
				Implementation: result,
				Note:           fmt.Sprintf("retry limit reached after %d attempts", attempt),
			}); err != nil {
				return err
			}
			o.transition(r, StateHalted, "implementation escalated %d times, retry limit reached", attempt)
			return nil
		}

		if err := o.append(r, models.StageHandoff{
			Source:         models.StageImplement,
			Status:         result.Status,
			Implementation: result,
		}); err != nil {
			return err
		}

		if result.Status == models.StatusPassed {
			o.transition(r, StateCompleted, "implementation passed")
		} else {
			o.transition(r, StateHalted, "implementation failed")
		}
		return nil
	}
}

// retryDelay logs and waits before the next attempt of a stage. The
// orchestrator owns the delay, not individual checks.
func (o *Orchestrator) retryDelay(r *run, stage string, attempt int, reason string) {
	delay := o.cfg.Backoff << (attempt - 1)
	log.Printf("[pipeline] run %s: %s escalated (attempt %d/%d), retrying in %s: %s",
		r.id, stage, attempt, o.cfg.MaxAttempts, delay, reason)
	o.logEvent(r, "retry", fmt.Sprintf("%s attempt %d: %s", stage, attempt, reason))
	o.cfg.Sleep(delay)
}

// append persists one handoff, stamping run identity and sequence, and
// notifies the sink. A store rejection is an invariant violation and
// aborts the run.
func (o *Orchestrator) append(r *run, h models.StageHandoff) error {
	h.RunID = r.id
	h.Seq = len(r.handoffs) + 1
	h.CreatedAt = time.Now()

	if err := o.store.Append(h); err != nil {
		return fmt.Errorf("append handoff seq %d: %w", h.Seq, err)
	}
	r.handoffs = append(r.handoffs, h)
	return nil
}

// transition moves the run to a new state, records the event, and
// publishes a snapshot.
func (o *Orchestrator) transition(r *run, next State, format string, args ...any) {
	detail := fmt.Sprintf(format, args...)
	log.Printf("[pipeline] run %s: %s -> %s (%s)", r.id, r.state, next, detail)
	o.logEvent(r, "state_"+string(next), detail)
	r.state = next
	o.publish(r, detail)
}

// abort moves the run to the aborted state, appending a terminal
// orchestrator handoff so the abort is diagnosable from storage alone.
func (o *Orchestrator) abort(r *run, reason string, status models.StageStatus) (*models.PipelineResult, error) {
	h := models.StageHandoff{
		Source: models.StagePipeline,
		Status: status,
		Note:   reason,
	}
	if err := o.append(r, h); err != nil {
		// The abort record itself could not be written; the run is
		// still aborted, just with a poorer audit trail.
		log.Printf("[pipeline] run %s: failed to record abort: %v", r.id, err)
	}
	o.transition(r, StateAborted, "%s", reason)
	return o.finish(r)
}

// finish builds the final PipelineResult for a terminal run.
func (o *Orchestrator) finish(r *run) (*models.PipelineResult, error) {
	result := &models.PipelineResult{
		RunID:    r.id,
		Handoffs: r.handoffs,
		Elapsed:  time.Since(r.started),
	}

	switch r.state {
	case StateCompleted:
		result.Status = models.StatusPassed
		result.Outcome = models.OutcomeCompleted
		result.Reason = "all stages passed"
	case StateAborted:
		result.Status = models.StatusFailed
		result.Outcome = models.OutcomeAborted
		result.Reason = abortReason(r)
	case StateHalted:
		result.Status = models.StatusFailed
		result.Outcome, result.Reason = haltClassification(r)
	default:
		return nil, fmt.Errorf("finish called in non-terminal state %q", r.state)
	}

	o.logEvent(r, "run_finished", string(result.Outcome))
	o.publish(r, result.Reason)
	return result, nil
}

// haltClassification derives the terminal outcome from the last
// handoff's source stage.
func haltClassification(r *run) (models.TerminalOutcome, string) {
	last := lastHandoff(r.handoffs)
	if last == nil {
		return models.OutcomeAborted, "halted with no handoffs recorded"
	}

	reason := last.Note
	switch last.Source {
	case models.StagePlan:
		if reason == "" {
			reason = "planning produced no usable steps"
			if last.Plan != nil && last.Plan.Rationale != "" {
				reason = last.Plan.Rationale
			}
		}
		return models.OutcomeHaltedAtPlan, reason
	case models.StageValidate:
		if reason == "" && last.Gate != nil {
			reason = last.Gate.Reason
		}
		return models.OutcomeHaltedAtValidate, reason
	case models.StageImplement:
		if reason == "" && last.Implementation != nil && last.Implementation.Gate != nil {
			reason = last.Implementation.Gate.Reason
		}
		return models.OutcomeHaltedAtImplement, reason
	default:
		return models.OutcomeAborted, reason
	}
}

// abortReason extracts the abort note from the terminal handoff.
func abortReason(r *run) string {
	if last := lastHandoff(r.handoffs); last != nil && last.Note != "" {
		return last.Note
	}
	return "aborted by internal error"
}

// lastHandoff returns the most recent handoff or nil.
func lastHandoff(handoffs []models.StageHandoff) *models.StageHandoff {
	if len(handoffs) == 0 {
		return nil
	}
	return &handoffs[len(handoffs)-1]
}

// publish sends a snapshot to the sink, synchronously.
func (o *Orchestrator) publish(r *run, reason string) {
	if o.sink == nil {
		return
	}

	snapshot := models.PipelineResult{
		RunID:    r.id,
		Handoffs: append([]models.StageHandoff(nil), r.handoffs...),
		Elapsed:  time.Since(r.started),
		Reason:   reason,
	}
	switch r.state {
	case StateCompleted:
		snapshot.Status = models.StatusPassed
		snapshot.Outcome = models.OutcomeCompleted
	case StateHalted:
		snapshot.Status = models.StatusFailed
		snapshot.Outcome, _ = haltClassification(r)
	case StateAborted:
		snapshot.Status = models.StatusFailed
		snapshot.Outcome = models.OutcomeAborted
	default:
		snapshot.Status = models.StatusRunning
	}
	o.sink.Publish(snapshot)
}

// logEvent writes one episode-log entry, best effort.
func (o *Orchestrator) logEvent(r *run, event, detail string) {
	if err := o.store.LogEvent(r.id, event, detail); err != nil {
		log.Printf("[pipeline] run %s: log event %s: %v", r.id, event, err)
	}
}
