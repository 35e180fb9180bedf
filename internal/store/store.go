// https://github.com/relaysync/core

// Package store provides durable persistence for pending sync events,
// user/item mapping caches, and the sync log. It is a
// single-writer, concurrent-reader wrapper around an embedded DuckDB
// file.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/relaysync/core/internal/config"
	"github.com/relaysync/core/internal/logging"
)

// Store wraps the DuckDB connection and provides the Enqueue/LeaseDue/
// Finalize/mapping-cache/sync-log operations the Ingestor and Worker
// consume.
type Store struct {
	conn *sql.DB
	cfg  config.DatabaseConfig

	writeMu sync.Mutex // single logical writer; DuckDB serializes writes anyway

	maxReconnectTries int
	reconnectDelay    time.Duration
}

// Open creates a new DuckDB-backed Store, creating the parent directory
// and schema if needed.
func Open(cfg config.DatabaseConfig) (*Store, error) {
	dbDir := filepath.Dir(cfg.Path)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
		}
	}

	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d", cfg.Path, runtime.NumCPU())
	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{
		conn:              conn,
		cfg:               cfg,
		maxReconnectTries: 3,
		reconnectDelay:    2 * time.Second,
	}

	s.configureConnectionPool()

	if err := s.initialize(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	return s, nil
}

func (s *Store) configureConnectionPool() {
	s.conn.SetMaxOpenConns(runtime.NumCPU())
	s.conn.SetMaxIdleConns(2)
	s.conn.SetConnMaxLifetime(time.Hour)
	s.conn.SetConnMaxIdleTime(5 * time.Minute)
}

func (s *Store) initialize() error {
	if err := s.createTables(); err != nil {
		return err
	}
	if err := s.runMigrations(); err != nil {
		return err
	}
	return s.createIndexes()
}

// Ping checks that the underlying connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	if s.conn == nil {
		return fmt.Errorf("store connection is nil")
	}
	return s.conn.PingContext(ctx)
}

// IsOpen reports whether the Store's connection is usable, for the
// /readyz contract.
func (s *Store) IsOpen() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.Ping(ctx) == nil
}

// Close flushes and closes the underlying connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := s.conn.ExecContext(ctx, "CHECKPOINT"); err != nil {
		logging.Warn().Err(err).Msg("failed to checkpoint store before close")
	}
	return s.conn.Close()
}

// Conn exposes the raw connection for the testcontainers-backed
// integration test and for callers that need a direct read snapshot.
func (s *Store) Conn() *sql.DB {
	return s.conn
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, substr := range []string{
		"connection refused", "connection reset", "broken pipe",
		"bad connection", "database is closed",
	} {
		if containsSubstr(msg, substr) {
			return true
		}
	}
	return false
}

func containsSubstr(s, substr string) bool {
	return len(substr) == 0 || (len(s) >= len(substr) && indexOf(s, substr) >= 0)
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
