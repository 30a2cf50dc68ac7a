// Package store persists the append-only handoff log that doubles as
// audit trail and recovery checkpoint.
package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/kestrelworks/stagecraft/pkg/models"
)

// ErrSequenceGap indicates a run's stored handoff chain is not strictly
// increasing and gapless. This is a storage or collaborator bug, never
// a normal runtime condition.
var ErrSequenceGap = errors.New("handoff sequence gap")

// HandoffStore is the durable append-only store keyed by run ID. A
// run's handoffs are only ever appended by that run's orchestrator
// instance, never mutated by a second writer.
type HandoffStore interface {
	// Append persists one handoff. The handoff's sequence number must
	// be exactly one greater than the run's last stored handoff.
	Append(handoff models.StageHandoff) error
	// List returns a run's handoffs in sequence order. An empty chain
	// is returned for unknown runs.
	List(runID string) ([]models.StageHandoff, error)
	// Runs returns all run IDs with at least one handoff.
	Runs() ([]string, error)
	// LogEvent appends one entry to the run's episode log. Events are
	// audit context, not recovery state.
	LogEvent(runID, event, detail string) error
}

// verifyAppend checks the append-only invariants shared by both store
// implementations.
func verifyAppend(handoff models.StageHandoff, lastSeq int) error {
	if err := handoff.Validate(); err != nil {
		return fmt.Errorf("invalid handoff: %w", err)
	}
	if handoff.Seq != lastSeq+1 {
		return fmt.Errorf("%w: appending seq %d after seq %d in run %s",
			ErrSequenceGap, handoff.Seq, lastSeq, handoff.RunID)
	}
	return nil
}

// verifyChain checks a loaded chain for gaps or disorder.
func verifyChain(runID string, handoffs []models.StageHandoff) error {
	for i, h := range handoffs {
		if h.Seq != i+1 {
			return fmt.Errorf("%w: run %s position %d has seq %d", ErrSequenceGap, runID, i, h.Seq)
		}
	}
	return nil
}

// MemoryStore is an in-memory HandoffStore for tests and dry runs.
type MemoryStore struct {
	mu       sync.RWMutex
	handoffs map[string][]models.StageHandoff
	events   map[string][]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		handoffs: make(map[string][]models.StageHandoff),
		events:   make(map[string][]string),
	}
}

// Append persists one handoff.
func (m *MemoryStore) Append(handoff models.StageHandoff) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	chain := m.handoffs[handoff.RunID]
	if err := verifyAppend(handoff, len(chain)); err != nil {
		return err
	}
	m.handoffs[handoff.RunID] = append(chain, handoff)
	return nil
}

// List returns a run's handoffs in sequence order.
func (m *MemoryStore) List(runID string) ([]models.StageHandoff, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chain := m.handoffs[runID]
	out := make([]models.StageHandoff, len(chain))
	copy(out, chain)
	if err := verifyChain(runID, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Runs returns all run IDs with at least one handoff.
func (m *MemoryStore) Runs() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.handoffs))
	for id := range m.handoffs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// LogEvent appends one episode-log entry.
func (m *MemoryStore) LogEvent(runID, event, detail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[runID] = append(m.events[runID], event+": "+detail)
	return nil
}

// Events returns the episode log for a run, for tests.
func (m *MemoryStore) Events(runID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.events[runID]))
	copy(out, m.events[runID])
	return out
}
