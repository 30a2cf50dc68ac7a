package implement

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kestrelworks/stagecraft/pkg/models"
)

func TestCommandExecutorExposesStep(t *testing.T) {
	dir := t.TempDir()
	executor := NewCommandExecutor(`echo "$STAGECRAFT_STEP_ID $STAGECRAFT_STEP_RISK" > applied.txt`)

	step := models.PlanStep{ID: "add-schema", Description: "add the table", Risk: models.RiskMedium}
	if err := executor.ExecuteStep(context.Background(), step, dir); err != nil {
		t.Fatalf("ExecuteStep: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "applied.txt"))
	if err != nil {
		t.Fatalf("read marker: %v", err)
	}
	if got := strings.TrimSpace(string(data)); got != "add-schema medium" {
		t.Errorf("marker = %q", got)
	}
}

func TestCommandExecutorFailure(t *testing.T) {
	executor := NewCommandExecutor("echo nope >&2 && exit 1")

	err := executor.ExecuteStep(context.Background(), models.PlanStep{ID: "x"}, t.TempDir())
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
	if !strings.Contains(err.Error(), "nope") {
		t.Errorf("error %q should carry command output", err)
	}
}

func TestLogExecutorAlwaysSucceeds(t *testing.T) {
	if err := (LogExecutor{}).ExecuteStep(context.Background(), models.PlanStep{ID: "x"}, ""); err != nil {
		t.Fatalf("LogExecutor: %v", err)
	}
}
