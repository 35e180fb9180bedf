// https://github.com/relaysync/core

package store

import (
	"context"
	"fmt"
	"time"
)

func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

// createTables creates the tables backing pending events, the sync
// log, and the user/item mapping caches, plus a schema_migrations
// ledger.
func (s *Store) createTables() error {
	ctx, cancel := schemaContext()
	defer cancel()

	for _, query := range s.tableCreationQueries() {
		if _, err := s.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute schema query: %w", err)
		}
	}
	return nil
}

func (s *Store) tableCreationQueries() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS pending_events (
			id BIGINT PRIMARY KEY,
			dedup_key TEXT NOT NULL,
			event_type TEXT NOT NULL,
			source_node TEXT NOT NULL,
			target_node TEXT NOT NULL,
			payload TEXT NOT NULL,
			state TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			item_not_found_count INTEGER NOT NULL DEFAULT 0,
			item_not_found_max INTEGER NOT NULL DEFAULT 0,
			next_retry_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			last_error TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS sync_log (
			id BIGINT PRIMARY KEY,
			created_at TIMESTAMP NOT NULL,
			event_type TEXT NOT NULL,
			source_node TEXT NOT NULL,
			target_node TEXT NOT NULL,
			username TEXT NOT NULL,
			item_name TEXT NOT NULL,
			synced_value TEXT NOT NULL,
			success BOOLEAN NOT NULL,
			message TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS user_mappings (
			username TEXT NOT NULL,
			node_name TEXT NOT NULL,
			remote_user_id TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (username, node_name)
		)`,
		`CREATE TABLE IF NOT EXISTS item_cache (
			node_name TEXT NOT NULL,
			lookup_key TEXT NOT NULL,
			remote_item_id TEXT NOT NULL,
			fetched_at TIMESTAMP NOT NULL,
			PRIMARY KEY (node_name, lookup_key)
		)`,
		`CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL
		)`,
	}
}

func (s *Store) createIndexes() error {
	ctx, cancel := schemaContext()
	defer cancel()

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_pending_events_dedup_key ON pending_events(dedup_key)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_events_state_retry ON pending_events(state, next_retry_at)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_log_created_at ON sync_log(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_user_mappings_node_remote ON user_mappings(node_name, remote_user_id)`,
	}
	for _, idx := range indexes {
		if _, err := s.conn.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// migration is one additive, forward-compatible schema change, applied
// at most once per Store, tracked by schema_migrations.version.
type migration struct {
	version int
	stmts   []string
}

// migrations is intentionally empty at this revision: the initial
// createTables already carries the full schema this spec needs.
// Future additive changes (e.g. a new sync_log column) append here
// rather than editing tableCreationQueries, so existing deployments
// keep opening forward-compatibly.
var migrations = []migration{}

func (s *Store) runMigrations() error {
	ctx, cancel := schemaContext()
	defer cancel()

	applied := make(map[int]bool)
	rows, err := s.conn.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return fmt.Errorf("failed to read schema_migrations: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[v] = true
	}
	if err := rows.Close(); err != nil {
		return err
	}

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		tx, err := s.conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", m.version, err)
		}
		for _, stmt := range m.stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("migration %d failed: %w", m.version, err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
			m.version, time.Now().UTC()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d record failed: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d commit failed: %w", m.version, err)
		}
	}
	return nil
}
