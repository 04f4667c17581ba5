package storage

import (
	"fmt"

	"github.com/user/rescuemesh/internal/model"
)

// RouteStorage persists route cache snapshots across restarts.
type RouteStorage struct {
	db *DB
}

// NewRouteStorage creates a new route storage handler.
func NewRouteStorage(db *DB) *RouteStorage {
	return &RouteStorage{db: db}
}

// Replace overwrites the stored routes with entries.
func (s *RouteStorage) Replace(entries []model.RoutingEntry) error {
	return s.db.WithLock(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		if _, err := tx.Exec(`DELETE FROM routes`); err != nil {
			return fmt.Errorf("failed to clear routes: %w", err)
		}

		stmt, err := tx.Prepare(`INSERT INTO routes
			(destination_id, next_hop_id, hop_count, score, last_updated, is_active,
			 success_count, failure_count, failure_streak)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare route insert: %w", err)
		}
		defer stmt.Close()

		for _, e := range entries {
			if _, err := stmt.Exec(e.DestinationID, e.NextHopID, e.HopCount, e.Score,
				e.LastUpdated.UTC(), e.IsActive, e.SuccessCount, e.FailureCount, e.FailureStreak); err != nil {
				return fmt.Errorf("failed to insert route %s: %w", e.DestinationID, err)
			}
		}

		return tx.Commit()
	})
}

// Load returns all stored routes.
func (s *RouteStorage) Load() ([]model.RoutingEntry, error) {
	rows, err := s.db.Query(`SELECT destination_id, next_hop_id, hop_count, score, last_updated,
		is_active, success_count, failure_count, failure_streak FROM routes ORDER BY destination_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query routes: %w", err)
	}
	defer rows.Close()

	var entries []model.RoutingEntry
	for rows.Next() {
		var e model.RoutingEntry
		if err := rows.Scan(&e.DestinationID, &e.NextHopID, &e.HopCount, &e.Score, &e.LastUpdated,
			&e.IsActive, &e.SuccessCount, &e.FailureCount, &e.FailureStreak); err != nil {
			return nil, fmt.Errorf("failed to scan route: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
