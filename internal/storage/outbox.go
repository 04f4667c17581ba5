package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/user/rescuemesh/internal/model"
)

// OutboxItem is a locally originated packet waiting for the daemon.
type OutboxItem struct {
	ID        int64
	Packet    model.MeshPacket
	CreatedAt time.Time
}

// OutboxStorage hands packets from the CLI to the running daemon.
type OutboxStorage struct {
	db *DB
}

// NewOutboxStorage creates a new outbox storage handler.
func NewOutboxStorage(db *DB) *OutboxStorage {
	return &OutboxStorage{db: db}
}

// Add queues a packet for pickup.
func (s *OutboxStorage) Add(p model.MeshPacket) (int64, error) {
	data, err := p.Marshal()
	if err != nil {
		return 0, err
	}

	var id int64
	err = s.db.WithLock(func() error {
		res, err := s.db.Exec(`INSERT INTO outbox (packet_id, packet, created_at) VALUES (?, ?, ?)`,
			p.ID, string(data), time.Now().UTC())
		if err != nil {
			return fmt.Errorf("failed to insert outbox packet: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// Pending returns packets not yet picked up, oldest first.
func (s *OutboxStorage) Pending(limit int) ([]OutboxItem, error) {
	rows, err := s.db.Query(`SELECT id, packet, created_at FROM outbox
		WHERE picked_at IS NULL ORDER BY id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox: %w", err)
	}
	defer rows.Close()

	var items []OutboxItem
	for rows.Next() {
		var item OutboxItem
		var data string
		if err := rows.Scan(&item.ID, &data, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox row: %w", err)
		}
		p, err := model.UnmarshalPacket([]byte(data))
		if err != nil {
			return nil, fmt.Errorf("outbox row %d: %w", item.ID, err)
		}
		item.Packet = p
		items = append(items, item)
	}
	return items, rows.Err()
}

// MarkPicked records that the daemon took the packet. The row stays
// unsettled until Settle sees a terminal outcome.
func (s *OutboxStorage) MarkPicked(id int64) error {
	return s.db.WithLock(func() error {
		_, err := s.db.Exec(`UPDATE outbox SET picked_at = ? WHERE id = ?`, time.Now().UTC(), id)
		if err != nil {
			return fmt.Errorf("failed to mark outbox row %d: %w", id, err)
		}
		return nil
	})
}

// Settle marks the packet with packetID as finished: sent on, delivered or
// dropped. Ids that never came through the outbox are ignored.
func (s *OutboxStorage) Settle(packetID string) error {
	return s.db.WithLock(func() error {
		_, err := s.db.Exec(`UPDATE outbox SET settled_at = ? WHERE packet_id = ? AND settled_at IS NULL`,
			time.Now().UTC(), packetID)
		if err != nil {
			return fmt.Errorf("failed to settle outbox packet %s: %w", packetID, err)
		}
		return nil
	})
}

// Requeue returns picked but unsettled packets to the pending set. The
// daemon calls it at start-up since its in-memory queue did not survive.
func (s *OutboxStorage) Requeue() (int64, error) {
	var n int64
	err := s.db.WithLock(func() error {
		res, err := s.db.Exec(`UPDATE outbox SET picked_at = NULL
			WHERE picked_at IS NOT NULL AND settled_at IS NULL`)
		if err != nil {
			return fmt.Errorf("failed to requeue outbox: %w", err)
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

// PendingCount returns the number of packets waiting for pickup.
func (s *OutboxStorage) PendingCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM outbox WHERE picked_at IS NULL`).Scan(&n)
	return n, err
}

// DeliveredStorage keeps packets that reached this node as a goal node.
type DeliveredStorage struct {
	db *DB
}

// NewDeliveredStorage creates a new delivered-packet storage handler.
func NewDeliveredStorage(db *DB) *DeliveredStorage {
	return &DeliveredStorage{db: db}
}

// Deliver stores a packet. Re-deliveries of the same id are ignored.
func (s *DeliveredStorage) Deliver(p model.MeshPacket) error {
	trace, err := json.Marshal(p.Trace)
	if err != nil {
		return err
	}
	return s.db.WithLock(func() error {
		_, err := s.db.Exec(`INSERT OR IGNORE INTO delivered_packets
			(packet_id, originator_id, packet_type, priority, hop_count, trace, payload, created_at, delivered_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.OriginatorID, p.Type.String(), p.Priority.String(), p.HopCount(),
			string(trace), p.Payload, p.Timestamp.UTC(), time.Now().UTC())
		if err != nil {
			return fmt.Errorf("failed to store delivered packet: %w", err)
		}
		return nil
	})
}

// DeliveredPacket is a stored delivery.
type DeliveredPacket struct {
	Packet      model.MeshPacket
	DeliveredAt time.Time
}

// List returns deliveries since a given time, newest first.
func (s *DeliveredStorage) List(since time.Time) ([]DeliveredPacket, error) {
	rows, err := s.db.Query(`SELECT packet_id, originator_id, packet_type, priority, trace, payload,
		created_at, delivered_at FROM delivered_packets WHERE delivered_at >= ? ORDER BY delivered_at DESC`,
		since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query delivered packets: %w", err)
	}
	defer rows.Close()

	var out []DeliveredPacket
	for rows.Next() {
		var d DeliveredPacket
		var typ, prio, trace, payload sql.NullString
		if err := rows.Scan(&d.Packet.ID, &d.Packet.OriginatorID, &typ, &prio, &trace, &payload,
			&d.Packet.Timestamp, &d.DeliveredAt); err != nil {
			return nil, fmt.Errorf("failed to scan delivered packet: %w", err)
		}
		if t, err := model.ParsePacketType(typ.String); err == nil {
			d.Packet.Type = t
		}
		if p, err := model.ParsePriority(prio.String); err == nil {
			d.Packet.Priority = p
		}
		if trace.String != "" {
			_ = json.Unmarshal([]byte(trace.String), &d.Packet.Trace)
		}
		d.Packet.Payload = payload.String
		out = append(out, d)
	}
	return out, rows.Err()
}
