// Package audit keeps a local record of mutation outcomes.
package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"grimm.is/ruledesk/internal/clock"
	"grimm.is/ruledesk/internal/logging"
)

// MemoryPath opens a store that lives only as long as the process.
const MemoryPath = ":memory:"

// Event is one recorded mutation outcome.
type Event struct {
	ID           int64          `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	User         string         `json:"user,omitempty"`
	SubmissionID string         `json:"submission_id"`
	Operation    string         `json:"operation"`
	Rule         string         `json:"rule"`
	Outcome      string         `json:"outcome"`
	ErrorKind    string         `json:"error_kind,omitempty"`
	Handle       uint64         `json:"handle,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
}

// Filter narrows a Query. Zero fields match everything.
type Filter struct {
	Since     time.Time
	Until     time.Time
	Operation string
	Outcome   string
	User      string
	Limit     int
}

// Store provides persistent storage for audit events.
type Store struct {
	mu            sync.RWMutex
	db            *sql.DB
	retentionDays int
	clock         clock.Clock
	logger        *logging.Logger
}

// NewStore creates a new audit store at the given path.
func NewStore(dbPath string, retentionDays int) (*Store, error) {
	if dbPath != MemoryPath {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("create audit dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	// An in-memory database is private to its connection.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS mutation_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp DATETIME NOT NULL,
			user TEXT,
			submission_id TEXT NOT NULL,
			operation TEXT NOT NULL,
			rule TEXT NOT NULL,
			outcome TEXT NOT NULL,
			error_kind TEXT,
			handle INTEGER DEFAULT 0,
			details TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_mutation_timestamp ON mutation_events(timestamp);
		CREATE INDEX IF NOT EXISTS idx_mutation_outcome ON mutation_events(outcome);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create audit table: %w", err)
	}

	if retentionDays <= 0 {
		retentionDays = 90
	}

	return &Store{
		db:            db,
		retentionDays: retentionDays,
		clock:         clock.Or(nil),
		logger:        logging.WithComponent("audit"),
	}, nil
}

// SetClock replaces the clock used for timestamps and pruning.
func (s *Store) SetClock(c clock.Clock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock.Or(c)
}

// Record persists an audit event. A zero Timestamp is set to now.
func (s *Store) Record(evt Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if evt.Timestamp.IsZero() {
		evt.Timestamp = s.clock.Now()
	}

	var detailsJSON []byte
	if evt.Details != nil {
		var err error
		detailsJSON, err = json.Marshal(evt.Details)
		if err != nil {
			detailsJSON = []byte("{}")
		}
	}

	_, err := s.db.Exec(`
		INSERT INTO mutation_events (timestamp, user, submission_id, operation, rule, outcome, error_kind, handle, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, evt.Timestamp.UTC(), evt.User, evt.SubmissionID, evt.Operation, evt.Rule, evt.Outcome,
		evt.ErrorKind, int64(evt.Handle), string(detailsJSON))
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}

	s.logger.Info("mutation recorded",
		"submission", evt.SubmissionID, "operation", evt.Operation,
		"rule", evt.Rule, "outcome", evt.Outcome, "user", evt.User)
	return nil
}

// Query returns audit events matching f, newest first.
func (s *Store) Query(f Filter) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, timestamp, user, submission_id, operation, rule, outcome, error_kind, handle, details
		FROM mutation_events WHERE 1=1`
	var args []any

	if !f.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, f.Since.UTC())
	}
	if !f.Until.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, f.Until.UTC())
	}
	if f.Operation != "" {
		query += " AND operation = ?"
		args = append(args, f.Operation)
	}
	if f.Outcome != "" {
		query += " AND outcome = ?"
		args = append(args, f.Outcome)
	}
	if f.User != "" {
		query += " AND user = ?"
		args = append(args, f.User)
	}

	query += " ORDER BY timestamp DESC, id DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var evt Event
		var user, errorKind, detailsJSON sql.NullString
		var handle int64

		err := rows.Scan(&evt.ID, &evt.Timestamp, &user, &evt.SubmissionID, &evt.Operation,
			&evt.Rule, &evt.Outcome, &errorKind, &handle, &detailsJSON)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}

		evt.User = user.String
		evt.ErrorKind = errorKind.String
		evt.Handle = uint64(handle)
		if detailsJSON.Valid && detailsJSON.String != "" {
			_ = json.Unmarshal([]byte(detailsJSON.String), &evt.Details)
		}

		events = append(events, evt)
	}

	return events, rows.Err()
}

// Prune removes events older than the retention period.
func (s *Store) Prune() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.clock.Now().AddDate(0, 0, -s.retentionDays).UTC()
	result, err := s.db.Exec("DELETE FROM mutation_events WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune audit events: %w", err)
	}

	return result.RowsAffected()
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Count returns the total number of events in the store.
func (s *Store) Count() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	err := s.db.QueryRow("SELECT COUNT(*) FROM mutation_events").Scan(&count)
	return count, err
}
