package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kestrelworks/stagecraft/pkg/models"
)

// SQLiteStore is the durable HandoffStore backed by SQLite.
type SQLiteStore struct {
	conn *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens a SQLite handoff store at the given path, creating parent
// directories as needed. WAL mode is enabled for concurrent reads.
func Open(path string) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &SQLiteStore{conn: conn, path: path}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}

// Path returns the path to the database file.
func (s *SQLiteStore) Path() string {
	return s.path
}

// migrate applies all pending schema migrations.
func (s *SQLiteStore) migrate() error {
	_, err := s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := s.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Handoffs},
		{2, migrationV2Events},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := s.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	return nil
}

const migrationV1Handoffs = `
CREATE TABLE IF NOT EXISTS handoffs (
	run_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	source TEXT NOT NULL,
	status TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	PRIMARY KEY (run_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_handoffs_run_id ON handoffs(run_id);
`

const migrationV2Events = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	event TEXT NOT NULL,
	detail TEXT,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_run_id ON events(run_id);
`

// Append persists one handoff. The whole handoff is stored as JSON so
// the payload round-trips exactly; run and sequence columns enforce the
// append-only invariant at the schema level.
func (s *SQLiteStore) Append(handoff models.StageHandoff) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var lastSeq int
	row := s.conn.QueryRow("SELECT COALESCE(MAX(seq), 0) FROM handoffs WHERE run_id = ?", handoff.RunID)
	if err := row.Scan(&lastSeq); err != nil {
		return fmt.Errorf("read last sequence for run %s: %w", handoff.RunID, err)
	}
	if err := verifyAppend(handoff, lastSeq); err != nil {
		return err
	}

	payload, err := json.Marshal(handoff)
	if err != nil {
		return fmt.Errorf("marshal handoff: %w", err)
	}

	_, err = s.conn.Exec(`
		INSERT INTO handoffs (run_id, seq, source, status, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, handoff.RunID, handoff.Seq, string(handoff.Source), string(handoff.Status),
		string(payload), formatTime(handoff.CreatedAt))
	if err != nil {
		return fmt.Errorf("append handoff: %w", err)
	}
	return nil
}

// List returns a run's handoffs in sequence order.
func (s *SQLiteStore) List(runID string) ([]models.StageHandoff, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.conn.Query("SELECT payload FROM handoffs WHERE run_id = ? ORDER BY seq", runID)
	if err != nil {
		return nil, fmt.Errorf("list handoffs for run %s: %w", runID, err)
	}
	defer rows.Close()

	var handoffs []models.StageHandoff
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan handoff: %w", err)
		}
		var h models.StageHandoff
		if err := json.Unmarshal([]byte(payload), &h); err != nil {
			return nil, fmt.Errorf("unmarshal handoff: %w", err)
		}
		handoffs = append(handoffs, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate handoffs: %w", err)
	}

	if err := verifyChain(runID, handoffs); err != nil {
		return nil, err
	}
	return handoffs, nil
}

// Runs returns all run IDs with at least one handoff, oldest first.
func (s *SQLiteStore) Runs() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.conn.Query("SELECT run_id FROM handoffs GROUP BY run_id ORDER BY MIN(created_at)")
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan run id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LogEvent appends one episode-log entry for the run.
func (s *SQLiteStore) LogEvent(runID, event, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.Exec(`
		INSERT INTO events (run_id, event, detail, created_at)
		VALUES (?, ?, ?, ?)
	`, runID, event, detail, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("log event: %w", err)
	}
	return nil
}

// Event is one episode-log entry.
type Event struct {
	// RunID identifies the run the event belongs to.
	RunID string
	// Name is the event kind (run_started, stage_passed, retry, ...).
	Name string
	// Detail is free-form event context.
	Detail string
	// CreatedAt is when the event was recorded.
	CreatedAt time.Time
}

// Events returns a run's episode log, oldest first.
func (s *SQLiteStore) Events(runID string) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.conn.Query(`
		SELECT event, detail, created_at FROM events
		WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list events for run %s: %w", runID, err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var created string
		var detail sql.NullString
		if err := rows.Scan(&e.Name, &detail, &created); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.RunID = runID
		e.Detail = detail.String
		if t, err := parseTime(created); err == nil {
			e.CreatedAt = t
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// formatTime formats a time.Time for SQLite storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// parseTime parses a time string from SQLite.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
