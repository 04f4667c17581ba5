package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/user/rescuemesh/internal/model"
)

// EventStorage is the relay outcome log.
type EventStorage struct {
	db *DB
}

// NewEventStorage creates a new event storage handler.
func NewEventStorage(db *DB) *EventStorage {
	return &EventStorage{db: db}
}

// RecordEvent appends a relay event.
func (s *EventStorage) RecordEvent(e model.RelayEvent) error {
	trace, err := json.Marshal(e.Trace)
	if err != nil {
		return fmt.Errorf("failed to encode trace: %w", err)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	return s.db.WithLock(func() error {
		_, err := s.db.Exec(`INSERT INTO relay_events
			(packet_id, target_id, status, hop_count, trace, message, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e.PacketID, e.TargetID, string(e.Status), e.HopCount, string(trace), e.Message, e.Timestamp.UTC())
		if err != nil {
			return fmt.Errorf("failed to insert relay event: %w", err)
		}
		return nil
	})
}

const eventColumns = `id, packet_id, target_id, status, hop_count, trace, message, timestamp`

// GetSince returns events in [since, until) oldest first. A zero until
// means now.
func (s *EventStorage) GetSince(since, until time.Time) ([]model.RelayEvent, error) {
	if until.IsZero() {
		until = time.Now()
	}
	rows, err := s.db.Query(`SELECT `+eventColumns+` FROM relay_events
		WHERE timestamp >= ? AND timestamp < ? ORDER BY timestamp ASC, id ASC`,
		since.UTC(), until.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query relay events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// Recent returns the latest events, newest first.
func (s *EventStorage) Recent(limit int) ([]model.RelayEvent, error) {
	rows, err := s.db.Query(`SELECT `+eventColumns+` FROM relay_events
		ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query relay events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ForPacket returns a packet's events in order.
func (s *EventStorage) ForPacket(packetID string) ([]model.RelayEvent, error) {
	rows, err := s.db.Query(`SELECT `+eventColumns+` FROM relay_events
		WHERE packet_id = ? ORDER BY id ASC`, packetID)
	if err != nil {
		return nil, fmt.Errorf("failed to query relay events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// CountByStatus counts events per status since a given time.
func (s *EventStorage) CountByStatus(since time.Time) (map[model.RelayStatus]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM relay_events
		WHERE timestamp >= ? GROUP BY status`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to count relay events: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.RelayStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[model.RelayStatus(status)] = n
	}
	return counts, rows.Err()
}

// Prune deletes events older than before.
func (s *EventStorage) Prune(before time.Time) (int64, error) {
	var n int64
	err := s.db.WithLock(func() error {
		res, err := s.db.Exec(`DELETE FROM relay_events WHERE timestamp < ?`, before.UTC())
		if err != nil {
			return fmt.Errorf("failed to prune relay events: %w", err)
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

func scanEvents(rows *sql.Rows) ([]model.RelayEvent, error) {
	var events []model.RelayEvent
	for rows.Next() {
		var e model.RelayEvent
		var target, trace, message sql.NullString
		var status string
		if err := rows.Scan(&e.ID, &e.PacketID, &target, &status, &e.HopCount,
			&trace, &message, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan relay event: %w", err)
		}
		e.TargetID = target.String
		e.Status = model.RelayStatus(status)
		e.Message = message.String
		if trace.Valid && trace.String != "" {
			_ = json.Unmarshal([]byte(trace.String), &e.Trace)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
