// Package audit persists isolation history in a local SQLite database.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"grimm.is/isolator/internal/clock"
	"grimm.is/isolator/internal/events"
	"grimm.is/isolator/internal/logging"
)

// DefaultRetentionDays applies when a store is opened with no retention.
const DefaultRetentionDays = 90

// Event represents a single audit log entry.
type Event struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"` // events.EventType
	RecordID  string    `json:"record_id,omitempty"`
	PID       int       `json:"pid,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Backend   string    `json:"backend,omitempty"`
	Rules     int       `json:"rules,omitempty"`
	DryRun    bool      `json:"dry_run,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Filter selects events for Query. Zero fields match everything.
type Filter struct {
	Since  time.Time
	Until  time.Time
	Action string
	PID    int
	Limit  int
}

// Store provides persistent storage for audit events.
type Store struct {
	mu            sync.RWMutex
	db            *sql.DB
	retentionDays int
}

// NewStore creates a new audit store at the given path. ":memory:" opens a
// private in-memory database.
func NewStore(dbPath string, retentionDays int) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
			return nil, fmt.Errorf("create audit dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	// One connection: an in-memory database exists per connection.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS isolation_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			action TEXT NOT NULL,
			record_id TEXT,
			pid INTEGER,
			reason TEXT,
			backend TEXT,
			rules INTEGER DEFAULT 0,
			dry_run INTEGER DEFAULT 0,
			error TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_isolation_ts ON isolation_events(ts);
		CREATE INDEX IF NOT EXISTS idx_isolation_pid ON isolation_events(pid);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create audit table: %w", err)
	}

	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}

	return &Store{db: db, retentionDays: retentionDays}, nil
}

// Write persists an audit event. A zero timestamp is set to now.
func (s *Store) Write(evt Event) error {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = clock.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO isolation_events (ts, action, record_id, pid, reason, backend, rules, dry_run, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, evt.Timestamp.UnixNano(), evt.Action, evt.RecordID, evt.PID, evt.Reason, evt.Backend,
		evt.Rules, evt.DryRun, evt.Error)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// Query returns matching events, newest first.
func (s *Store) Query(f Filter) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var where []string
	var args []any
	if !f.Since.IsZero() {
		where = append(where, "ts >= ?")
		args = append(args, f.Since.UnixNano())
	}
	if !f.Until.IsZero() {
		where = append(where, "ts <= ?")
		args = append(args, f.Until.UnixNano())
	}
	if f.Action != "" {
		where = append(where, "action = ?")
		args = append(args, f.Action)
	}
	if f.PID != 0 {
		where = append(where, "pid = ?")
		args = append(args, f.PID)
	}

	query := `SELECT id, ts, action, record_id, pid, reason, backend, rules, dry_run, error FROM isolation_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY ts DESC, id DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			evt                                Event
			ts                                 int64
			recordID, reason, backend, errText sql.NullString
			pid, rules                         sql.NullInt64
			dryRun                             bool
		)
		if err := rows.Scan(&evt.ID, &ts, &evt.Action, &recordID, &pid, &reason, &backend, &rules, &dryRun, &errText); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		evt.Timestamp = time.Unix(0, ts)
		evt.RecordID = recordID.String
		evt.PID = int(pid.Int64)
		evt.Reason = reason.String
		evt.Backend = backend.String
		evt.Rules = int(rules.Int64)
		evt.DryRun = dryRun
		evt.Error = errText.String
		out = append(out, evt)
	}
	return out, rows.Err()
}

// Prune removes events older than the retention period.
func (s *Store) Prune() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := clock.Now().AddDate(0, 0, -s.retentionDays)
	result, err := s.db.Exec("DELETE FROM isolation_events WHERE ts < ?", cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune audit events: %w", err)
	}
	return result.RowsAffected()
}

// Count returns the total number of events in the store.
func (s *Store) Count() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	err := s.db.QueryRow("SELECT COUNT(*) FROM isolation_events").Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Consume writes isolation events from ch until ch is closed or ctx is done.
// Events with other payloads are ignored; write failures are logged.
func (s *Store) Consume(ctx context.Context, ch <-chan events.Event, logger *logging.Logger) {
	logger = logging.OrDefault(logger).WithComponent("audit")
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			data, ok := e.Data.(events.IsolationData)
			if !ok {
				continue
			}
			err := s.Write(Event{
				Timestamp: e.Timestamp,
				Action:    string(e.Type),
				RecordID:  data.RecordID,
				PID:       data.PID,
				Reason:    data.Reason,
				Backend:   data.Backend,
				Rules:     data.Rules,
				DryRun:    data.DryRun,
				Error:     data.Error,
			})
			if err != nil {
				logger.Error("failed to persist audit event", "type", e.Type, "error", err)
			}
		}
	}
}

// Attach subscribes the store to every event on hub. The returned function
// unsubscribes and waits until buffered events are written.
func (s *Store) Attach(hub *events.Hub, logger *logging.Logger) (detach func()) {
	ch := hub.Subscribe(256)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Consume(context.Background(), ch, logger)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			hub.Unsubscribe(ch)
			<-done
		})
	}
}
