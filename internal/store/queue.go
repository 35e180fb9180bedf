// https://github.com/relaysync/core

package store

import (
	"context"
	"fmt"

	"github.com/relaysync/core/internal/models"
)

// QueueStats summarizes pending_events by lifecycle state, for the
// dashboard's queue-depth view.
type QueueStats struct {
	Pending     int64
	Processing  int64
	WaitingItem int64
}

// GetQueueStats counts rows per state, excluding finalized events
// (applied/skipped/failed leave no row behind; see Finalize).
func (s *Store) GetQueueStats(ctx context.Context) (QueueStats, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT state, COUNT(*) FROM pending_events GROUP BY state`,
	)
	if err != nil {
		return QueueStats{}, fmt.Errorf("failed to query queue stats: %w", err)
	}
	defer rows.Close()

	var stats QueueStats
	for rows.Next() {
		var state string
		var count int64
		if err := rows.Scan(&state, &count); err != nil {
			return QueueStats{}, fmt.Errorf("failed to scan queue stats: %w", err)
		}
		switch models.PendingEventStatus(state) {
		case models.StatusPending:
			stats.Pending = count
		case models.StatusProcessing:
			stats.Processing = count
		case models.StatusWaitingItem:
			stats.WaitingItem = count
		}
	}
	return stats, rows.Err()
}

// ListPendingEventsByState returns pending_events rows in the given
// state, most recently updated first, for the dashboard's queue
// inspection views. state must be one of StatusPending or
// StatusWaitingItem; LeaseDue already owns StatusProcessing rows so
// there is nothing useful to page through there.
func (s *Store) ListPendingEventsByState(ctx context.Context, state models.PendingEventStatus, limit, offset int) ([]models.PendingEvent, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, dedup_key, event_type, source_node, target_node, payload, state,
			attempts, item_not_found_count, item_not_found_max, next_retry_at,
			created_at, updated_at, last_error
		 FROM pending_events
		 WHERE state = ?
		 ORDER BY updated_at DESC
		 LIMIT ? OFFSET ?`,
		string(state), limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending events: %w", err)
	}
	defer rows.Close()

	var events []models.PendingEvent
	for rows.Next() {
		ev, err := scanPendingEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
