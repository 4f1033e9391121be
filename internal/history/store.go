package history

import (
	"context"
	"fmt"
	"time"

	"github.com/hallgate/edinbridge/internal/infrastructure/database"
	"github.com/hallgate/edinbridge/internal/infrastructure/logging"
)

// Store persists channel state changes and input events to SQLite.
type Store struct {
	db  *database.DB
	log *logging.Logger
}

// StateChange is one recorded output channel transition.
type StateChange struct {
	ID        int64
	DeviceID  string
	Name      string
	Level     int
	IsOn      bool
	Timestamp time.Time
}

// InputEvent is one recorded button or contact event.
type InputEvent struct {
	ID        int64
	DeviceID  string
	Event     string
	Timestamp time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS state_history (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    device_id  TEXT NOT NULL,
    name       TEXT NOT NULL,
    level      INTEGER NOT NULL,
    is_on      INTEGER NOT NULL,
    timestamp  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_state_history_device_time
    ON state_history(device_id, timestamp);

CREATE TABLE IF NOT EXISTS input_events (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    device_id  TEXT NOT NULL,
    event      TEXT NOT NULL,
    timestamp  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_input_events_device_time
    ON input_events(device_id, timestamp);
`

// New creates a Store over an open database, applying the schema.
func New(db *database.DB, log *logging.Logger) (*Store, error) {
	if log == nil {
		log = logging.Default()
	}
	if _, err := db.Conn().Exec(schema); err != nil {
		return nil, fmt.Errorf("apply history schema: %w", err)
	}
	return &Store{db: db, log: log}, nil
}

// RecordStateChange stores an output channel transition.
func (s *Store) RecordStateChange(ctx context.Context, deviceID, name string, level int) error {
	_, err := s.db.Conn().ExecContext(ctx,
		`INSERT INTO state_history (device_id, name, level, is_on, timestamp) VALUES (?, ?, ?, ?, ?)`,
		deviceID, name, level, level > 0, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record state change: %w", err)
	}
	return nil
}

// RecordInputEvent stores a button or contact event.
func (s *Store) RecordInputEvent(ctx context.Context, deviceID, event string) error {
	_, err := s.db.Conn().ExecContext(ctx,
		`INSERT INTO input_events (device_id, event, timestamp) VALUES (?, ?, ?)`,
		deviceID, event, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record input event: %w", err)
	}
	return nil
}

// StateHistory returns the most recent state changes for a device,
// newest first.
func (s *Store) StateHistory(ctx context.Context, deviceID string, limit int) ([]StateChange, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Conn().QueryContext(ctx,
		`SELECT id, device_id, name, level, is_on, timestamp
		 FROM state_history WHERE device_id = ?
		 ORDER BY timestamp DESC LIMIT ?`,
		deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("query state history: %w", err)
	}
	defer rows.Close()

	var changes []StateChange
	for rows.Next() {
		var c StateChange
		if err := rows.Scan(&c.ID, &c.DeviceID, &c.Name, &c.Level, &c.IsOn, &c.Timestamp); err != nil {
			return nil, fmt.Errorf("scan state history row: %w", err)
		}
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

// InputEvents returns the most recent input events for a device,
// newest first.
func (s *Store) InputEvents(ctx context.Context, deviceID string, limit int) ([]InputEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Conn().QueryContext(ctx,
		`SELECT id, device_id, event, timestamp
		 FROM input_events WHERE device_id = ?
		 ORDER BY timestamp DESC LIMIT ?`,
		deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("query input events: %w", err)
	}
	defer rows.Close()

	var events []InputEvent
	for rows.Next() {
		var e InputEvent
		if err := rows.Scan(&e.ID, &e.DeviceID, &e.Event, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan input event row: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Prune deletes rows older than the retention window from both tables
// and returns the total number of rows removed.
func (s *Store) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)

	var total int64
	for _, table := range []string{"state_history", "input_events"} {
		res, err := s.db.Conn().ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE timestamp < ?`, table), cutoff)
		if err != nil {
			return total, fmt.Errorf("prune %s: %w", table, err)
		}
		n, err := res.RowsAffected()
		if err == nil {
			total += n
		}
	}

	if total > 0 {
		s.log.Info("pruned history", "rows", total, "cutoff", cutoff)
	}
	return total, nil
}
