// https://github.com/relaysync/core

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/relaysync/core/internal/models"
)

// appendSyncLog inserts one observability record within an already-open
// transaction; called from Finalize so the sync_log write and the
// pending_events removal commit atomically.
func appendSyncLog(ctx context.Context, tx *sql.Tx, entry models.SyncLogEntry) error {
	id, err := nextID(ctx, tx, "sync_log")
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO sync_log
			(id, created_at, event_type, source_node, target_node, username,
			 item_name, synced_value, success, message)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, time.Now().UTC(), string(entry.EventType), entry.SourceNode, entry.TargetNode,
		entry.Username, entry.ItemName, entry.SyncedValue, entry.Success, entry.Message,
	)
	if err != nil {
		return fmt.Errorf("failed to append sync log entry: %w", err)
	}
	return nil
}

// AppendSyncLog inserts a standalone sync_log entry outside of a
// Finalize call, used by the Worker's user-lifecycle fan-out path where
// there is no corresponding pending_events row to remove.
func (s *Store) AppendSyncLog(ctx context.Context, entry models.SyncLogEntry) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.withWriteTxLocked(ctx, func(tx *sql.Tx) error {
		return appendSyncLog(ctx, tx, entry)
	})
}

// SyncLogFilter narrows QuerySyncLog's result set; zero-value fields
// are not applied.
type SyncLogFilter struct {
	SourceNode string
	TargetNode string
	Username   string
	Success    *bool
}

// QuerySyncLog returns the most recent matching entries, newest first,
// for the dashboard's sync log view.
func (s *Store) QuerySyncLog(ctx context.Context, filter SyncLogFilter, limit, offset int) ([]models.SyncLogEntry, error) {
	var clauses []string
	var args []interface{}

	if filter.SourceNode != "" {
		clauses = append(clauses, "source_node = ?")
		args = append(args, filter.SourceNode)
	}
	if filter.TargetNode != "" {
		clauses = append(clauses, "target_node = ?")
		args = append(args, filter.TargetNode)
	}
	if filter.Username != "" {
		clauses = append(clauses, "username = ?")
		args = append(args, filter.Username)
	}
	if filter.Success != nil {
		clauses = append(clauses, "success = ?")
		args = append(args, *filter.Success)
	}

	query := `SELECT id, created_at, event_type, source_node, target_node, username,
		item_name, synced_value, success, message FROM sync_log`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync log: %w", err)
	}
	defer rows.Close()

	var entries []models.SyncLogEntry
	for rows.Next() {
		var e models.SyncLogEntry
		var eventType string
		if err := rows.Scan(
			&e.ID, &e.CreatedAt, &eventType, &e.SourceNode, &e.TargetNode, &e.Username,
			&e.ItemName, &e.SyncedValue, &e.Success, &e.Message,
		); err != nil {
			return nil, fmt.Errorf("failed to scan sync log entry: %w", err)
		}
		e.EventType = models.SyncEventType(eventType)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
