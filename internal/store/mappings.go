// https://github.com/relaysync/core

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/relaysync/core/internal/models"
)

// GetUserMapping returns the cached remote user id for (username, node),
// matched case-insensitively, or sql.ErrNoRows on a cache miss.
func (s *Store) GetUserMapping(ctx context.Context, username, nodeName string) (models.UserMapping, error) {
	var m models.UserMapping
	row := s.conn.QueryRowContext(ctx,
		`SELECT username, node_name, remote_user_id, updated_at
		 FROM user_mappings WHERE LOWER(username) = LOWER(?) AND node_name = ?`,
		username, nodeName,
	)
	if err := row.Scan(&m.Username, &m.NodeName, &m.RemoteUserID, &m.UpdatedAt); err != nil {
		return m, err
	}
	return m, nil
}

// GetUsernameByRemoteID reverse-looks-up the username cached for a
// (nodeName, remoteUserID) pair, or sql.ErrNoRows on a cache miss.
func (s *Store) GetUsernameByRemoteID(ctx context.Context, nodeName, remoteUserID string) (string, error) {
	var username string
	row := s.conn.QueryRowContext(ctx,
		`SELECT username FROM user_mappings WHERE node_name = ? AND remote_user_id = ?`,
		nodeName, remoteUserID,
	)
	if err := row.Scan(&username); err != nil {
		return "", err
	}
	return username, nil
}

// PutUserMapping upserts the (username, node) → remote_user_id cache
// entry populated lazily on first successful resolution.
func (s *Store) PutUserMapping(ctx context.Context, m models.UserMapping) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO user_mappings (username, node_name, remote_user_id, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (username, node_name)
		 DO UPDATE SET remote_user_id = EXCLUDED.remote_user_id, updated_at = EXCLUDED.updated_at`,
		m.Username, m.NodeName, m.RemoteUserID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to put user mapping: %w", err)
	}
	return nil
}

// InvalidateUser drops every cached mapping for username across all
// nodes, called on a UserDeleted event.
func (s *Store) InvalidateUser(ctx context.Context, username string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.conn.ExecContext(ctx,
		`DELETE FROM user_mappings WHERE LOWER(username) = LOWER(?)`, username,
	)
	if err != nil {
		return fmt.Errorf("failed to invalidate user mapping: %w", err)
	}
	return nil
}

// GetItemCache returns the cached remote item id for (nodeName,
// lookupKey). Callers are responsible for treating an entry older than
// models.ItemCacheTTL as a miss worth refreshing.
func (s *Store) GetItemCache(ctx context.Context, nodeName, lookupKey string) (models.ItemCacheEntry, error) {
	var e models.ItemCacheEntry
	row := s.conn.QueryRowContext(ctx,
		`SELECT node_name, lookup_key, remote_item_id, fetched_at
		 FROM item_cache WHERE node_name = ? AND lookup_key = ?`,
		nodeName, lookupKey,
	)
	if err := row.Scan(&e.NodeName, &e.LookupKey, &e.RemoteItemID, &e.FetchedAt); err != nil {
		return e, err
	}
	return e, nil
}

// PutItemCache upserts a positive item resolution. Negative results
// (item not found) must never be passed here: the item may appear on
// the target later.
func (s *Store) PutItemCache(ctx context.Context, e models.ItemCacheEntry) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO item_cache (node_name, lookup_key, remote_item_id, fetched_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (node_name, lookup_key)
		 DO UPDATE SET remote_item_id = EXCLUDED.remote_item_id, fetched_at = EXCLUDED.fetched_at`,
		e.NodeName, e.LookupKey, e.RemoteItemID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to put item cache entry: %w", err)
	}
	return nil
}

// InvalidateItem drops one cached item entry, or every entry for a
// node when lookupKey is empty.
func (s *Store) InvalidateItem(ctx context.Context, nodeName, lookupKey string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var err error
	if lookupKey == "" {
		_, err = s.conn.ExecContext(ctx, `DELETE FROM item_cache WHERE node_name = ?`, nodeName)
	} else {
		_, err = s.conn.ExecContext(ctx,
			`DELETE FROM item_cache WHERE node_name = ? AND lookup_key = ?`, nodeName, lookupKey)
	}
	if err != nil {
		return fmt.Errorf("failed to invalidate item cache entry: %w", err)
	}
	return nil
}

// IsMiss reports whether err represents a cache miss, as opposed to a
// genuine query failure, so callers can fall through to a Node Client
// lookup without treating sql.ErrNoRows as an error condition.
func IsMiss(err error) bool {
	return err == sql.ErrNoRows
}
