// https://github.com/relaysync/core

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/relaysync/core/internal/logging"
)

// withWriteTxLocked runs fn inside a transaction, reconnecting and
// retrying once per attempt if BeginTx fails with what looks like a
// dropped connection. Callers must already hold writeMu. DuckDB is an
// embedded, single-process database, so this guards against the file
// handle going stale under a backup tool or a filesystem hiccup, not
// against network partition.
func (s *Store) withWriteTxLocked(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt <= s.maxReconnectTries; attempt++ {
		tx, err := s.conn.BeginTx(ctx, nil)
		if err != nil {
			lastErr = err
			if !isConnectionError(err) {
				return fmt.Errorf("failed to begin transaction: %w", err)
			}
			if rerr := s.reconnect(ctx); rerr != nil {
				return fmt.Errorf("failed to begin transaction: %w (reconnect also failed: %v)", err, rerr)
			}
			continue
		}

		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	}
	return fmt.Errorf("failed to begin transaction after %d reconnect attempts: %w", s.maxReconnectTries, lastErr)
}

// reconnect closes and reopens the DuckDB connection pool with
// exponential backoff between attempts.
func (s *Store) reconnect(ctx context.Context) error {
	delay := s.reconnectDelay
	var lastErr error
	for attempt := 1; attempt <= s.maxReconnectTries; attempt++ {
		_ = s.conn.Close()

		conn, err := sql.Open("duckdb", fmt.Sprintf("%s?access_mode=read_write", s.cfg.Path))
		if err != nil {
			lastErr = err
		} else {
			s.conn = conn
			s.configureConnectionPool()
			if pingErr := s.conn.PingContext(ctx); pingErr == nil {
				logging.Warn().Int("attempt", attempt).Msg("store reconnected after connection loss")
				return nil
			} else {
				lastErr = pingErr
			}
		}

		select {
		case <-time.After(delay):
			delay *= 2
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("exhausted reconnect attempts: %w", lastErr)
}
