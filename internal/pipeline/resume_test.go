package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/kestrelworks/stagecraft/internal/validation"
	"github.com/kestrelworks/stagecraft/pkg/models"
)

func appendHandoff(t *testing.T, h *testHarness, handoff models.StageHandoff) {
	t.Helper()
	handoff.CreatedAt = time.Now()
	if err := h.store.Append(handoff); err != nil {
		t.Fatalf("Append: %v", err)
	}
}

func TestResumeContinuesAfterPlan(t *testing.T) {
	h := newHarness(t, &scriptedProducer{result: chainPlan()}, nil)

	appendHandoff(t, h, models.StageHandoff{
		RunID:  "run-1",
		Seq:    1,
		Source: models.StagePlan,
		Status: models.StatusPassed,
		Plan:   chainPlan(),
	})

	result, err := h.orchestrator.Resume(context.Background(), "run-1", "add retry handling")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}

	if result.Outcome != models.OutcomeCompleted {
		t.Fatalf("outcome = %s, want completed (%s)", result.Outcome, result.Reason)
	}
	if result.RunID != "run-1" {
		t.Errorf("run ID = %s, want run-1", result.RunID)
	}
	// Planning is not re-executed; the resumed run appends after the
	// persisted plan handoff.
	requireSeqChain(t, result.Handoffs, models.StagePlan, models.StageValidate, models.StageImplement)
	if h.executor.calls != 3 {
		t.Errorf("executor ran %d steps, want 3", h.executor.calls)
	}
}

func TestResumeContinuesAfterValidate(t *testing.T) {
	check := &scriptedCheck{name: "lint", required: true, outcomes: []bool{true}}
	h := newHarness(t, &scriptedProducer{result: chainPlan()}, []validation.CheckProvider{check})

	planResult := chainPlan()
	appendHandoff(t, h, models.StageHandoff{
		RunID:  "run-2",
		Seq:    1,
		Source: models.StagePlan,
		Status: models.StatusPassed,
		Plan:   planResult,
	})
	appendHandoff(t, h, models.StageHandoff{
		RunID:  "run-2",
		Seq:    2,
		Source: models.StageValidate,
		Status: models.StatusPassed,
		Gate: &models.GateResult{
			Tag:    models.GatePass,
			Reason: "all checks passed",
		},
	})

	result, err := h.orchestrator.Resume(context.Background(), "run-2", "add retry handling")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}

	if result.Outcome != models.OutcomeCompleted {
		t.Fatalf("outcome = %s, want completed (%s)", result.Outcome, result.Reason)
	}
	requireSeqChain(t, result.Handoffs, models.StagePlan, models.StageValidate, models.StageImplement)
	// The pre-implementation gate is not re-run; only the implement
	// stage's post-gate exercises the check.
	if check.calls != 1 {
		t.Errorf("check ran %d times, want 1", check.calls)
	}
}

func TestResumeTerminalChainDoesNotReExecute(t *testing.T) {
	h := newHarness(t, &scriptedProducer{result: chainPlan()}, nil)

	appendHandoff(t, h, models.StageHandoff{
		RunID:  "run-3",
		Seq:    1,
		Source: models.StagePlan,
		Status: models.StatusPassed,
		Plan:   chainPlan(),
	})
	appendHandoff(t, h, models.StageHandoff{
		RunID:  "run-3",
		Seq:    2,
		Source: models.StageValidate,
		Status: models.StatusFailed,
		Gate: &models.GateResult{
			Tag:    models.GateFail,
			Reason: "required check security-review failed",
		},
	})

	result, err := h.orchestrator.Resume(context.Background(), "run-3", "add retry handling")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}

	if result.Outcome != models.OutcomeHaltedAtValidate {
		t.Fatalf("outcome = %s, want %s", result.Outcome, models.OutcomeHaltedAtValidate)
	}
	if result.Reason != "required check security-review failed" {
		t.Errorf("reason = %q, want the stored gate reason", result.Reason)
	}
	if h.executor.calls != 0 {
		t.Errorf("executor ran %d steps on a terminal chain", h.executor.calls)
	}
}

func TestResumeUnknownRun(t *testing.T) {
	h := newHarness(t, &scriptedProducer{result: chainPlan()}, nil)

	if _, err := h.orchestrator.Resume(context.Background(), "no-such-run", "request"); err == nil {
		t.Fatal("expected error for run with no handoffs")
	}
}

func TestReplayRejectsImpossibleChains(t *testing.T) {
	tests := []struct {
		name     string
		handoffs []models.StageHandoff
	}{
		{
			name: "implement before validate",
			handoffs: []models.StageHandoff{
				{Seq: 1, Source: models.StagePlan, Status: models.StatusPassed, Plan: chainPlan()},
				{Seq: 2, Source: models.StageImplement, Status: models.StatusPassed, Implementation: &models.ImplementationResult{Status: models.StatusPassed}},
			},
		},
		{
			name: "handoff after terminal failure",
			handoffs: []models.StageHandoff{
				{Seq: 1, Source: models.StagePlan, Status: models.StatusFailed, Plan: &models.PlanResult{Status: models.StatusFailed}},
				{Seq: 2, Source: models.StageValidate, Status: models.StatusPassed, Gate: &models.GateResult{Tag: models.GatePass}},
			},
		},
		{
			name: "validate before plan",
			handoffs: []models.StageHandoff{
				{Seq: 1, Source: models.StageValidate, Status: models.StatusPassed, Gate: &models.GateResult{Tag: models.GatePass}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &run{id: "corrupt", handoffs: tt.handoffs}
			if err := replay(r); err == nil {
				t.Fatal("expected replay error")
			}
		})
	}
}
