package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kestrelworks/stagecraft/internal/implement"
	"github.com/kestrelworks/stagecraft/internal/plan"
	"github.com/kestrelworks/stagecraft/internal/store"
	"github.com/kestrelworks/stagecraft/internal/validation"
	"github.com/kestrelworks/stagecraft/pkg/models"
)

// scriptedProducer returns a fixed plan or error.
type scriptedProducer struct {
	result *models.PlanResult
	err    error
}

func (p *scriptedProducer) GeneratePlan(ctx context.Context, request string, prior *plan.PriorContext) (*models.PlanResult, error) {
	return p.result, p.err
}

// scriptedCheck pops one outcome per Run call; the last outcome repeats
// once the script is exhausted.
type scriptedCheck struct {
	mu        sync.Mutex
	name      string
	required  bool
	retryable bool
	outcomes  []bool
	calls     int
}

func (c *scriptedCheck) Name() string        { return c.name }
func (c *scriptedCheck) Required() bool      { return c.required }
func (c *scriptedCheck) Retryable() bool     { return c.retryable }
func (c *scriptedCheck) Threshold() *float64 { return nil }

func (c *scriptedCheck) Run(ctx context.Context, subject validation.Subject) (models.ValidationCheck, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.calls
	if idx >= len(c.outcomes) {
		idx = len(c.outcomes) - 1
	}
	c.calls++
	passed := c.outcomes[idx]
	return models.ValidationCheck{Passed: passed, Detail: fmt.Sprintf("call %d", c.calls)}, nil
}

// postEscalateCheck passes before implementation and retryably fails
// after it, forcing the implement stage's gate to escalate.
type postEscalateCheck struct{}

func (postEscalateCheck) Name() string        { return "post-escalate" }
func (postEscalateCheck) Required() bool      { return true }
func (postEscalateCheck) Retryable() bool     { return true }
func (postEscalateCheck) Threshold() *float64 { return nil }

func (postEscalateCheck) Run(ctx context.Context, subject validation.Subject) (models.ValidationCheck, error) {
	return models.ValidationCheck{Passed: subject.Implementation == nil, Detail: "flaky environment"}, nil
}

// scriptedExecutor applies steps, failing those listed in failOn.
type scriptedExecutor struct {
	mu      sync.Mutex
	failOn  map[string]bool
	applied []string
	calls   int
}

func (e *scriptedExecutor) ExecuteStep(ctx context.Context, step models.PlanStep, target string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.failOn[step.ID] {
		return fmt.Errorf("step %s refused", step.ID)
	}
	e.applied = append(e.applied, step.ID)
	return nil
}

// captureSink records each published snapshot.
type captureSink struct {
	mu        sync.Mutex
	snapshots []models.PipelineResult
}

func (s *captureSink) Publish(result models.PipelineResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, result)
}

type stopChecker bool

func (s stopChecker) ShouldStop() bool { return bool(s) }

func chainPlan() *models.PlanResult {
	return &models.PlanResult{
		Status:    models.StatusPassed,
		Rationale: "linear chain",
		Steps: []models.PlanStep{
			{ID: "a", Description: "scaffold", Risk: models.RiskLow},
			{ID: "b", Description: "core change", DependsOn: []string{"a"}, Risk: models.RiskMedium},
			{ID: "c", Description: "wire up", DependsOn: []string{"b"}, Risk: models.RiskLow},
		},
	}
}

type testHarness struct {
	orchestrator *Orchestrator
	store        *store.MemoryStore
	executor     *scriptedExecutor
	sink         *captureSink
	sleeps       []time.Duration
}

func newHarness(t *testing.T, producer plan.Producer, checks []validation.CheckProvider) *testHarness {
	t.Helper()

	evaluator, err := validation.NewEvaluator(checks)
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}

	h := &testHarness{
		store:    store.NewMemoryStore(),
		executor: &scriptedExecutor{},
		sink:     &captureSink{},
	}
	cfg := Config{
		MaxAttempts: 3,
		Backoff:     2 * time.Second,
		Sleep:       func(d time.Duration) { h.sleeps = append(h.sleeps, d) },
	}
	h.orchestrator = New(
		plan.NewStage(producer),
		validation.NewStage(evaluator),
		implement.NewStage(h.executor, evaluator, t.TempDir()),
		h.store,
		cfg,
	)
	h.orchestrator.SetSink(h.sink)
	return h
}

func requireSeqChain(t *testing.T, handoffs []models.StageHandoff, sources ...models.Stage) {
	t.Helper()
	if len(handoffs) != len(sources) {
		t.Fatalf("got %d handoffs, want %d", len(handoffs), len(sources))
	}
	for i, h := range handoffs {
		if h.Seq != i+1 {
			t.Errorf("handoff %d has seq %d, want %d", i, h.Seq, i+1)
		}
		if h.Source != sources[i] {
			t.Errorf("handoff %d has source %s, want %s", i, h.Source, sources[i])
		}
	}
}

func TestStartHappyPath(t *testing.T) {
	h := newHarness(t,
		&scriptedProducer{result: chainPlan()},
		[]validation.CheckProvider{
			&scriptedCheck{name: "lint", required: true, outcomes: []bool{true}},
		},
	)

	result, err := h.orchestrator.Start(context.Background(), "add retry handling")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if result.Outcome != models.OutcomeCompleted {
		t.Fatalf("outcome = %s, want %s (%s)", result.Outcome, models.OutcomeCompleted, result.Reason)
	}
	if result.Status != models.StatusPassed {
		t.Errorf("status = %s, want passed", result.Status)
	}
	requireSeqChain(t, result.Handoffs, models.StagePlan, models.StageValidate, models.StageImplement)

	want := []string{"a", "b", "c"}
	if len(h.executor.applied) != len(want) {
		t.Fatalf("applied = %v, want %v", h.executor.applied, want)
	}
	for i, id := range want {
		if h.executor.applied[i] != id {
			t.Errorf("applied[%d] = %s, want %s", i, h.executor.applied[i], id)
		}
	}

	stored, err := h.store.List(result.RunID)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(stored) != 3 {
		t.Errorf("stored %d handoffs, want 3", len(stored))
	}

	if len(h.sink.snapshots) == 0 {
		t.Fatal("sink received no snapshots")
	}
	final := h.sink.snapshots[len(h.sink.snapshots)-1]
	if final.Outcome != models.OutcomeCompleted {
		t.Errorf("final snapshot outcome = %s, want completed", final.Outcome)
	}
}

func TestStartPublishesBeforePlanning(t *testing.T) {
	h := newHarness(t, &scriptedProducer{result: chainPlan()}, nil)

	if _, err := h.orchestrator.Start(context.Background(), "add retry handling"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// The sink hears about the run when it enters planning, not only
	// after the first stage finishes.
	if len(h.sink.snapshots) == 0 {
		t.Fatal("sink received no snapshots")
	}
	first := h.sink.snapshots[0]
	if first.Status != models.StatusRunning {
		t.Errorf("first snapshot status = %s, want running", first.Status)
	}
	if len(first.Handoffs) != 0 {
		t.Errorf("first snapshot carries %d handoffs, want 0", len(first.Handoffs))
	}
}

func TestStartHaltsWhenPlanEmpty(t *testing.T) {
	h := newHarness(t,
		&scriptedProducer{result: &models.PlanResult{Status: models.StatusPassed, Rationale: "nothing to do"}},
		nil,
	)

	result, err := h.orchestrator.Start(context.Background(), "noop request")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if result.Outcome != models.OutcomeHaltedAtPlan {
		t.Fatalf("outcome = %s, want %s", result.Outcome, models.OutcomeHaltedAtPlan)
	}
	requireSeqChain(t, result.Handoffs, models.StagePlan)
	if h.executor.calls != 0 {
		t.Errorf("executor ran %d steps after an empty plan", h.executor.calls)
	}
}

func TestStartHaltsWhenProducerFails(t *testing.T) {
	h := newHarness(t,
		&scriptedProducer{err: errors.New("model unavailable")},
		nil,
	)

	result, err := h.orchestrator.Start(context.Background(), "add caching")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if result.Outcome != models.OutcomeHaltedAtPlan {
		t.Fatalf("outcome = %s, want %s", result.Outcome, models.OutcomeHaltedAtPlan)
	}
	if !strings.Contains(result.Reason, "model unavailable") {
		t.Errorf("reason %q does not carry the producer failure", result.Reason)
	}
}

func TestStartHaltsOnGateFail(t *testing.T) {
	h := newHarness(t,
		&scriptedProducer{result: chainPlan()},
		[]validation.CheckProvider{
			&scriptedCheck{name: "security-review", required: true, outcomes: []bool{false}},
		},
	)

	result, err := h.orchestrator.Start(context.Background(), "add retry handling")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if result.Outcome != models.OutcomeHaltedAtValidate {
		t.Fatalf("outcome = %s, want %s", result.Outcome, models.OutcomeHaltedAtValidate)
	}
	requireSeqChain(t, result.Handoffs, models.StagePlan, models.StageValidate)
	if !strings.Contains(result.Reason, "security-review") {
		t.Errorf("reason %q does not name the failing check", result.Reason)
	}
	if h.executor.calls != 0 {
		t.Errorf("executor ran %d steps past a failed gate", h.executor.calls)
	}
}

func TestStartRetriesEscalationThenPasses(t *testing.T) {
	check := &scriptedCheck{
		name:      "integration",
		required:  true,
		retryable: true,
		outcomes:  []bool{false, false, true},
	}
	h := newHarness(t, &scriptedProducer{result: chainPlan()}, []validation.CheckProvider{check})

	result, err := h.orchestrator.Start(context.Background(), "add retry handling")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if result.Outcome != models.OutcomeCompleted {
		t.Fatalf("outcome = %s, want completed (%s)", result.Outcome, result.Reason)
	}
	// Retries are in-flight state: only the terminal validate outcome is
	// recorded.
	requireSeqChain(t, result.Handoffs, models.StagePlan, models.StageValidate, models.StageImplement)
	if result.Handoffs[1].Status != models.StatusPassed {
		t.Errorf("validate handoff status = %s, want passed", result.Handoffs[1].Status)
	}

	wantSleeps := []time.Duration{2 * time.Second, 4 * time.Second}
	if len(h.sleeps) != len(wantSleeps) {
		t.Fatalf("slept %d times (%v), want %d", len(h.sleeps), h.sleeps, len(wantSleeps))
	}
	for i, d := range wantSleeps {
		if h.sleeps[i] != d {
			t.Errorf("sleep %d = %s, want %s", i, h.sleeps[i], d)
		}
	}
}

func TestStartConvertsExhaustedEscalationToFailure(t *testing.T) {
	check := &scriptedCheck{
		name:      "integration",
		required:  true,
		retryable: true,
		outcomes:  []bool{false},
	}
	h := newHarness(t, &scriptedProducer{result: chainPlan()}, []validation.CheckProvider{check})

	result, err := h.orchestrator.Start(context.Background(), "add retry handling")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if result.Outcome != models.OutcomeHaltedAtValidate {
		t.Fatalf("outcome = %s, want %s", result.Outcome, models.OutcomeHaltedAtValidate)
	}
	if check.calls != 3 {
		t.Errorf("check ran %d times, want 3", check.calls)
	}

	requireSeqChain(t, result.Handoffs, models.StagePlan, models.StageValidate)
	last := result.Handoffs[1]
	if last.Status != models.StatusFailed {
		t.Errorf("validate handoff status = %s, want failed", last.Status)
	}
	if !strings.Contains(last.Note, "retry limit") {
		t.Errorf("note %q does not explain the retry-limit conversion", last.Note)
	}
	if h.executor.calls != 0 {
		t.Errorf("executor ran %d steps after retry exhaustion", h.executor.calls)
	}
}

func TestStartStepFailureSkipsDependents(t *testing.T) {
	producer := &scriptedProducer{result: &models.PlanResult{
		Status: models.StatusPassed,
		Steps: []models.PlanStep{
			{ID: "a", Description: "base", Risk: models.RiskLow},
			{ID: "b", Description: "breaks", DependsOn: []string{"a"}, Risk: models.RiskHigh},
			{ID: "c", Description: "independent", DependsOn: []string{"a"}, Risk: models.RiskLow},
			{ID: "d", Description: "needs b", DependsOn: []string{"b"}, Risk: models.RiskLow},
		},
	}}
	h := newHarness(t, producer, nil)
	h.executor.failOn = map[string]bool{"b": true}

	result, err := h.orchestrator.Start(context.Background(), "add retry handling")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if result.Outcome != models.OutcomeHaltedAtImplement {
		t.Fatalf("outcome = %s, want %s", result.Outcome, models.OutcomeHaltedAtImplement)
	}

	impl := result.Handoffs[len(result.Handoffs)-1].Implementation
	if impl == nil {
		t.Fatal("implement handoff has no implementation payload")
	}
	if len(impl.Applied) != 2 {
		t.Errorf("applied = %v, want a and c", impl.Applied)
	}
	if len(impl.Failed) != 1 || impl.Failed[0].StepID != "b" {
		t.Errorf("failed = %v, want step b", impl.Failed)
	}
	if len(impl.Skipped) != 1 || impl.Skipped[0].StepID != "d" {
		t.Errorf("skipped = %v, want step d", impl.Skipped)
	}
}

func TestStartConvertsExhaustedImplementEscalation(t *testing.T) {
	h := newHarness(t,
		&scriptedProducer{result: chainPlan()},
		[]validation.CheckProvider{postEscalateCheck{}},
	)

	result, err := h.orchestrator.Start(context.Background(), "add retry handling")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if result.Outcome != models.OutcomeHaltedAtImplement {
		t.Fatalf("outcome = %s, want %s", result.Outcome, models.OutcomeHaltedAtImplement)
	}
	// Three attempts, three full step applications, one recorded outcome.
	if h.executor.calls != 9 {
		t.Errorf("executor ran %d steps, want 9 (3 attempts over 3 steps)", h.executor.calls)
	}
	requireSeqChain(t, result.Handoffs, models.StagePlan, models.StageValidate, models.StageImplement)
	last := result.Handoffs[2]
	if last.Status != models.StatusFailed {
		t.Errorf("implement handoff status = %s, want failed", last.Status)
	}
	if !strings.Contains(last.Note, "retry limit") {
		t.Errorf("note %q does not explain the retry-limit conversion", last.Note)
	}
}

func TestStartCancelledBetweenStages(t *testing.T) {
	h := newHarness(t, &scriptedProducer{result: chainPlan()}, nil)
	h.orchestrator.SetCancelChecker(stopChecker(true))

	result, err := h.orchestrator.Start(context.Background(), "add retry handling")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if result.Outcome != models.OutcomeAborted {
		t.Fatalf("outcome = %s, want aborted", result.Outcome)
	}
	requireSeqChain(t, result.Handoffs, models.StagePipeline)
	if result.Handoffs[0].Status != models.StatusSkipped {
		t.Errorf("abort handoff status = %s, want skipped", result.Handoffs[0].Status)
	}
	if h.executor.calls != 0 {
		t.Errorf("executor ran %d steps after cancellation", h.executor.calls)
	}
}

func TestStartWithPriorRequiresFailedRun(t *testing.T) {
	h := newHarness(t, &scriptedProducer{result: chainPlan()}, nil)

	prior := &plan.PriorContext{RunID: "r1", LastStatus: models.StatusPassed}
	result, err := h.orchestrator.StartWithPrior(context.Background(), "redo it", prior)
	if err != nil {
		t.Fatalf("StartWithPrior: %v", err)
	}
	// The contract violation surfaces as an aborted run, not a panic or a
	// silent restart.
	if result.Outcome != models.OutcomeAborted {
		t.Fatalf("outcome = %s, want aborted", result.Outcome)
	}
}

func TestRunIDsAreUnique(t *testing.T) {
	h := newHarness(t, &scriptedProducer{result: chainPlan()}, nil)

	first, err := h.orchestrator.Start(context.Background(), "one")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	second, err := h.orchestrator.Start(context.Background(), "two")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if first.RunID == second.RunID {
		t.Fatalf("two runs share ID %s", first.RunID)
	}

	runs, err := h.store.Runs()
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("store has %d runs, want 2", len(runs))
	}
}
