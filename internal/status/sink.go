// Package status publishes run snapshots to external observers: a JSON
// file other tooling can poll, and a styled terminal rendering.
package status

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kestrelworks/stagecraft/pkg/models"
)

// Snapshot is the file format published after every pipeline
// transition.
type Snapshot struct {
	// RunID is the run being reported.
	RunID string `json:"run_id"`
	// Status is the aggregate run status.
	Status models.StageStatus `json:"status"`
	// Outcome is set once the run is terminal.
	Outcome models.TerminalOutcome `json:"outcome,omitempty"`
	// Reason explains the most recent transition.
	Reason string `json:"reason,omitempty"`
	// Stages maps each stage to its last recorded status.
	Stages map[models.Stage]models.StageStatus `json:"stages"`
	// Handoffs is the number of handoffs recorded so far.
	Handoffs int `json:"handoffs"`
	// UpdatedAt is when this snapshot was written.
	UpdatedAt time.Time `json:"updated_at"`
}

// FileSink writes one JSON snapshot file per run. Writes are
// synchronous; a failed write is logged, never propagated, so status
// reporting cannot fail a run.
type FileSink struct {
	mu  sync.Mutex
	dir string
}

// NewFileSink creates a sink writing under dir, creating it if needed.
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create status dir: %w", err)
	}
	return &FileSink{dir: dir}, nil
}

// Publish writes the snapshot file for the result's run.
func (s *FileSink) Publish(result models.PipelineResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := buildSnapshot(result)
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		log.Printf("[status] marshal snapshot for run %s: %v", result.RunID, err)
		return
	}

	path := filepath.Join(s.dir, result.RunID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Printf("[status] write snapshot %s: %v", path, err)
	}
}

// Load reads a previously published snapshot.
func (s *FileSink) Load(runID string) (*Snapshot, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, runID+".json"))
	if err != nil {
		return nil, fmt.Errorf("read snapshot for run %s: %w", runID, err)
	}
	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("parse snapshot for run %s: %w", runID, err)
	}
	return &snapshot, nil
}

func buildSnapshot(result models.PipelineResult) Snapshot {
	stages := map[models.Stage]models.StageStatus{
		models.StagePlan:      models.StatusPending,
		models.StageValidate:  models.StatusPending,
		models.StageImplement: models.StatusPending,
	}
	for _, h := range result.Handoffs {
		if h.Source == models.StagePipeline {
			continue
		}
		stages[h.Source] = h.Status
	}

	return Snapshot{
		RunID:     result.RunID,
		Status:    result.Status,
		Outcome:   result.Outcome,
		Reason:    result.Reason,
		Stages:    stages,
		Handoffs:  len(result.Handoffs),
		UpdatedAt: time.Now(),
	}
}
