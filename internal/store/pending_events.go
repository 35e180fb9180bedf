// https://github.com/relaysync/core

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/relaysync/core/internal/models"
)

// nextID returns the next value for a manually-sequenced primary key.
// DuckDB has no auto-increment column constraint, so callers sequence
// ids themselves inside the same transaction that inserts the row.
func nextID(ctx context.Context, tx *sql.Tx, table string) (int64, error) {
	var id int64
	row := tx.QueryRowContext(ctx, fmt.Sprintf("SELECT COALESCE(MAX(id), 0) + 1 FROM %s", table))
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to compute next id for %s: %w", table, err)
	}
	return id, nil
}

// Enqueue performs the WAL coalesce rule: if a non-terminal row already
// matches dedupKey, its payload is replaced in place and next_retry_at
// is reset to now, with retry counters preserved. Otherwise a new row
// is inserted in state pending.
func (s *Store) Enqueue(ctx context.Context, intent models.EventIntent, dedupKey string, itemNotFoundMax int) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var resultID int64
	err := s.withWriteTxLocked(ctx, func(tx *sql.Tx) error {
		id, err := enqueueOne(ctx, tx, intent, dedupKey, itemNotFoundMax)
		if err != nil {
			return err
		}
		resultID = id
		return nil
	})
	if err != nil {
		return 0, err
	}
	return resultID, nil
}

// EnqueueRequest is one intent to enqueue as part of an EnqueueBatch
// call: the Event Ingestor's fan-out produces up to N-1 of these from a
// single inbound webhook, all committed atomically.
type EnqueueRequest struct {
	Intent          models.EventIntent
	DedupKey        string
	ItemNotFoundMax int
}

// EnqueueBatch enqueues every request in one transaction, applying the
// same coalesce rule as Enqueue to each. Either all intents land or
// none do, per the Event Ingestor's atomic-enqueue requirement.
func (s *Store) EnqueueBatch(ctx context.Context, requests []EnqueueRequest) ([]int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	ids := make([]int64, len(requests))
	err := s.withWriteTxLocked(ctx, func(tx *sql.Tx) error {
		for i, req := range requests {
			id, err := enqueueOne(ctx, tx, req.Intent, req.DedupKey, req.ItemNotFoundMax)
			if err != nil {
				return err
			}
			ids[i] = id
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func enqueueOne(ctx context.Context, tx *sql.Tx, intent models.EventIntent, dedupKey string, itemNotFoundMax int) (int64, error) {
	payloadJSON, err := json.Marshal(intent.Payload)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event payload: %w", err)
	}
	now := time.Now().UTC()

	var existingID int64
	var existingPayload []byte
	scanErr := tx.QueryRowContext(ctx,
		`SELECT id, payload FROM pending_events
		 WHERE dedup_key = ? AND state IN ('pending', 'waiting_item')`,
		dedupKey,
	).Scan(&existingID, &existingPayload)

	switch {
	case scanErr == sql.ErrNoRows:
		id, err := nextID(ctx, tx, "pending_events")
		if err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO pending_events
				(id, dedup_key, event_type, source_node, target_node, payload, state,
				 attempts, item_not_found_count, item_not_found_max, next_retry_at,
				 created_at, updated_at, last_error)
			 VALUES (?, ?, ?, ?, ?, ?, 'pending', 0, 0, ?, ?, ?, ?, '')`,
			id, dedupKey, string(intent.EventType), intent.SourceNode, intent.TargetNode,
			string(payloadJSON), itemNotFoundMax, now, now, now,
		); err != nil {
			return 0, fmt.Errorf("failed to insert pending event: %w", err)
		}
		return id, nil

	case scanErr != nil:
		return 0, fmt.Errorf("failed to query existing pending event: %w", scanErr)

	default:
		merged, err := mergePayload(existingPayload, payloadJSON)
		if err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE pending_events
			 SET payload = ?, state = 'pending', next_retry_at = ?, updated_at = ?
			 WHERE id = ?`,
			string(merged), now, now, existingID,
		); err != nil {
			return 0, fmt.Errorf("failed to coalesce pending event: %w", err)
		}
		return existingID, nil
	}
}

// mergePayload applies last-write-wins per field, keeping whichever of
// the two payloads carries the newer timestamp for each field, per the
// Progress/Watched/Favorite/Rating coalesce rule.
func mergePayload(existing, incoming []byte) ([]byte, error) {
	var a, b models.EventPayload
	if err := json.Unmarshal(existing, &a); err != nil {
		return nil, fmt.Errorf("failed to unmarshal existing payload: %w", err)
	}
	if err := json.Unmarshal(incoming, &b); err != nil {
		return nil, fmt.Errorf("failed to unmarshal incoming payload: %w", err)
	}

	merged := b
	merged.PositionTicks = newerField(a.PositionTicks, b.PositionTicks)
	merged.Played = newerField(a.Played, b.Played)
	merged.Favorite = newerField(a.Favorite, b.Favorite)
	merged.Rating = newerField(a.Rating, b.Rating)
	if b.PlayedToCompletion {
		merged.PlayedToCompletion = true
	} else {
		merged.PlayedToCompletion = a.PlayedToCompletion
	}

	out, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal merged payload: %w", err)
	}
	return out, nil
}

func newerField(a, b *models.FieldValue) *models.FieldValue {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case b.Timestamp.After(a.Timestamp):
		return b
	default:
		return a
	}
}

// LeaseDue selects up to limit rows in state pending or waiting_item
// whose next_retry_at has passed, transitions them to processing, and
// returns them ordered by next_retry_at, all within one transaction.
func (s *Store) LeaseDue(ctx context.Context, limit int, now time.Time) ([]models.PendingEvent, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var events []models.PendingEvent
	err := s.withWriteTxLocked(ctx, func(tx *sql.Tx) error {
		events = nil

		rows, err := tx.QueryContext(ctx,
			`SELECT id, dedup_key, event_type, source_node, target_node, payload, state,
				attempts, item_not_found_count, item_not_found_max, next_retry_at,
				created_at, updated_at, last_error
			 FROM pending_events
			 WHERE state IN ('pending', 'waiting_item') AND next_retry_at <= ?
			 ORDER BY next_retry_at
			 LIMIT ?`,
			now, limit,
		)
		if err != nil {
			return fmt.Errorf("failed to query due events: %w", err)
		}

		for rows.Next() {
			ev, err := scanPendingEvent(rows)
			if err != nil {
				rows.Close()
				return err
			}
			events = append(events, ev)
		}
		if err := rows.Close(); err != nil {
			return err
		}

		for _, ev := range events {
			if _, err := tx.ExecContext(ctx,
				`UPDATE pending_events SET state = 'processing', updated_at = ? WHERE id = ?`,
				now, ev.ID,
			); err != nil {
				return fmt.Errorf("failed to lease event %d: %w", ev.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i := range events {
		events[i].State = models.StatusProcessing
	}
	return events, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPendingEvent(row scanner) (models.PendingEvent, error) {
	var ev models.PendingEvent
	var payloadJSON string
	var state string
	if err := row.Scan(
		&ev.ID, &ev.DedupKey, &ev.EventType, &ev.SourceNode, &ev.TargetNode,
		&payloadJSON, &state, &ev.Attempts, &ev.ItemNotFoundCount, &ev.ItemNotFoundMax,
		&ev.NextRetryAt, &ev.CreatedAt, &ev.UpdatedAt, &ev.LastError,
	); err != nil {
		return ev, fmt.Errorf("failed to scan pending event: %w", err)
	}
	ev.State = models.PendingEventStatus(state)
	if err := json.Unmarshal([]byte(payloadJSON), &ev.Payload); err != nil {
		return ev, fmt.Errorf("failed to unmarshal event payload: %w", err)
	}
	return ev, nil
}

// Finalize applies the outcome of one Worker pipeline run to a leased
// event: applied/skipped/failed remove the row and append a sync_log
// entry; retry/wait_item transition back with bumped counters and a
// new next_retry_at.
func (s *Store) Finalize(ctx context.Context, event models.PendingEvent, outcome models.Outcome, logEntry models.SyncLogEntry) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := time.Now().UTC()

	return s.withWriteTxLocked(ctx, func(tx *sql.Tx) error {
		switch outcome.Kind {
		case models.OutcomeApplied, models.OutcomeSkipped, models.OutcomeFailed:
			if _, err := tx.ExecContext(ctx, `DELETE FROM pending_events WHERE id = ?`, event.ID); err != nil {
				return fmt.Errorf("failed to remove finalized event %d: %w", event.ID, err)
			}
			return appendSyncLog(ctx, tx, logEntry)

		case models.OutcomeRetry:
			if _, err := tx.ExecContext(ctx,
				`UPDATE pending_events
				 SET state = 'pending', attempts = attempts + 1, next_retry_at = ?,
				     updated_at = ?, last_error = ?
				 WHERE id = ?`,
				now.Add(outcome.RetryDelay), now, outcome.Reason, event.ID,
			); err != nil {
				return fmt.Errorf("failed to schedule retry for event %d: %w", event.ID, err)
			}
			return nil

		case models.OutcomeWaitItem:
			if _, err := tx.ExecContext(ctx,
				`UPDATE pending_events
				 SET state = 'waiting_item', item_not_found_count = item_not_found_count + 1,
				     next_retry_at = ?, updated_at = ?, last_error = ?
				 WHERE id = ?`,
				now.Add(outcome.RetryDelay), now, outcome.Reason, event.ID,
			); err != nil {
				return fmt.Errorf("failed to schedule item wait for event %d: %w", event.ID, err)
			}
			return nil

		default:
			return fmt.Errorf("unknown outcome kind %q", outcome.Kind)
		}
	})
}

// ReapOrphans returns any row left in processing (a crash mid-lease)
// back to pending, run once at startup before the Worker's first tick.
func (s *Store) ReapOrphans(ctx context.Context) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.conn.ExecContext(ctx,
		`UPDATE pending_events SET state = 'pending', updated_at = ? WHERE state = 'processing'`,
		time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to reap orphaned events: %w", err)
	}
	return res.RowsAffected()
}
