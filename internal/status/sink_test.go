package status

import (
	"strings"
	"testing"
	"time"

	"github.com/kestrelworks/stagecraft/pkg/models"
)

func sampleResult() models.PipelineResult {
	return models.PipelineResult{
		RunID:   "run-1",
		Status:  models.StatusFailed,
		Outcome: models.OutcomeHaltedAtValidate,
		Reason:  "required check lint failed",
		Elapsed: 1500 * time.Millisecond,
		Handoffs: []models.StageHandoff{
			{
				RunID: "run-1", Seq: 1, Source: models.StagePlan, Status: models.StatusPassed,
				Plan: &models.PlanResult{Status: models.StatusPassed, Steps: []models.PlanStep{{ID: "a"}}},
			},
			{
				RunID: "run-1", Seq: 2, Source: models.StageValidate, Status: models.StatusFailed,
				Gate: &models.GateResult{Tag: models.GateFail, Reason: "required check lint failed"},
			},
		},
	}
}

func TestFileSinkPublishAndLoad(t *testing.T) {
	sink, err := NewFileSink(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}

	sink.Publish(sampleResult())

	snapshot, err := sink.Load("run-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snapshot.Outcome != models.OutcomeHaltedAtValidate {
		t.Errorf("outcome = %s, want halted-at-validate", snapshot.Outcome)
	}
	if snapshot.Stages[models.StagePlan] != models.StatusPassed {
		t.Errorf("plan stage = %s, want passed", snapshot.Stages[models.StagePlan])
	}
	if snapshot.Stages[models.StageImplement] != models.StatusPending {
		t.Errorf("implement stage = %s, want pending", snapshot.Stages[models.StageImplement])
	}
	if snapshot.Handoffs != 2 {
		t.Errorf("handoffs = %d, want 2", snapshot.Handoffs)
	}
}

func TestFileSinkOverwritesPerRun(t *testing.T) {
	sink, err := NewFileSink(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}

	first := sampleResult()
	first.Outcome = ""
	first.Status = models.StatusRunning
	sink.Publish(first)
	sink.Publish(sampleResult())

	snapshot, err := sink.Load("run-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snapshot.Status != models.StatusFailed {
		t.Errorf("status = %s, want the later snapshot", snapshot.Status)
	}
}

func TestLoadUnknownRun(t *testing.T) {
	sink, err := NewFileSink(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}
	if _, err := sink.Load("missing"); err == nil {
		t.Fatal("expected error for unknown run")
	}
}

func TestRender(t *testing.T) {
	out := Render(sampleResult())

	for _, want := range []string{"run-1", "halted-at-validate", "plan", "validate", "required check lint failed", "1 steps"} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "implement") {
		t.Errorf("rendered output lists a stage that never ran:\n%s", out)
	}
}
