package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/kestrelworks/stagecraft/pkg/models"
)

func handoff(runID string, seq int) models.StageHandoff {
	return models.StageHandoff{
		RunID:     runID,
		Seq:       seq,
		Source:    models.StagePlan,
		Status:    models.StatusPassed,
		CreatedAt: time.Now(),
		Plan:      &models.PlanResult{Status: models.StatusPassed, Rationale: "test plan"},
	}
}

// storeUnderTest runs the shared HandoffStore contract against an
// implementation.
func storeUnderTest(t *testing.T, s HandoffStore) {
	t.Helper()

	// Appends must be strictly sequential and gapless.
	if err := s.Append(handoff("r1", 1)); err != nil {
		t.Fatalf("Append(seq 1) error = %v", err)
	}
	if err := s.Append(handoff("r1", 3)); !errors.Is(err, ErrSequenceGap) {
		t.Errorf("Append(seq 3 after 1) error = %v, want ErrSequenceGap", err)
	}
	if err := s.Append(handoff("r1", 1)); !errors.Is(err, ErrSequenceGap) {
		t.Errorf("Append(duplicate seq 1) error = %v, want ErrSequenceGap", err)
	}
	if err := s.Append(handoff("r1", 2)); err != nil {
		t.Fatalf("Append(seq 2) error = %v", err)
	}

	// Runs are isolated: another run starts at 1.
	if err := s.Append(handoff("r2", 1)); err != nil {
		t.Fatalf("Append(r2 seq 1) error = %v", err)
	}

	chain, err := s.List("r1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(chain) != 2 {
		t.Fatalf("List() returned %d handoffs, want 2", len(chain))
	}
	for i, h := range chain {
		if h.Seq != i+1 {
			t.Errorf("chain[%d].Seq = %d, want %d", i, h.Seq, i+1)
		}
		if h.Plan == nil {
			t.Errorf("chain[%d] lost its payload", i)
		}
	}

	// Unknown runs list empty, not an error.
	empty, err := s.List("absent")
	if err != nil {
		t.Fatalf("List(absent) error = %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("List(absent) = %v, want empty", empty)
	}

	runs, err := s.Runs()
	if err != nil {
		t.Fatalf("Runs() error = %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("Runs() = %v, want 2 runs", runs)
	}

	// Invalid handoffs never reach storage.
	bad := handoff("r1", 3)
	bad.Status = models.StatusRunning
	if err := s.Append(bad); err == nil {
		t.Error("Append(transient status) error = nil, want error")
	}

	if err := s.LogEvent("r1", "stage_passed", "plan"); err != nil {
		t.Errorf("LogEvent() error = %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	storeUnderTest(t, NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	storeUnderTest(t, s)

	events, err := s.Events("r1")
	if err != nil {
		t.Fatalf("Events() error = %v", err)
	}
	if len(events) != 1 || events[0].Name != "stage_passed" {
		t.Errorf("Events() = %+v, want one stage_passed event", events)
	}
}

func TestSQLiteStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := s.Append(handoff("r1", 1)); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	s.Close()

	// A new instance sees the persisted chain and continues it.
	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()

	chain, err := reopened.List("r1")
	if err != nil {
		t.Fatalf("List() after reopen error = %v", err)
	}
	if len(chain) != 1 {
		t.Fatalf("List() after reopen = %d handoffs, want 1", len(chain))
	}
	if err := reopened.Append(handoff("r1", 2)); err != nil {
		t.Errorf("Append() after reopen error = %v", err)
	}
}
