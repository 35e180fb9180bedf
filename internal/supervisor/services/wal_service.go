// https://github.com/relaysync/core

package services

import (
	"context"
	"fmt"
)

// WALStartStopper matches the WAL Compactor lifecycle.
//
// This interface allows WALCompactorService to work with the actual WAL
// compactor without importing the wal package, avoiding circular dependencies.
//
// Satisfied by *wal.Compactor from internal/wal/compaction.go.
type WALStartStopper interface {
	Start(ctx context.Context) error
	Stop()
	IsRunning() bool
}

// WALCompactorService wraps the WAL compactor as a supervised service.
//
// The compactor handles periodic cleanup of confirmed WAL entries and
// triggers BadgerDB garbage collection.
//
// It adapts the Start/Stop lifecycle pattern to suture's Serve pattern:
//  1. Calls Start(ctx) to begin the compaction loop
//  2. Waits for context cancellation
//  3. Calls Stop() for graceful shutdown (waits for goroutines via WaitGroup)
//
// Example usage:
//
//	compactor := wal.NewCompactor(w)
//	svc := services.NewWALCompactorService(compactor)
//	tree.AddDataService(svc)
type WALCompactorService struct {
	compactor WALStartStopper
	name      string
}

// NewWALCompactorService creates a new WAL compactor service wrapper.
func NewWALCompactorService(compactor WALStartStopper) *WALCompactorService {
	return &WALCompactorService{
		compactor: compactor,
		name:      "wal-compactor",
	}
}

// Serve implements suture.Service.
func (s *WALCompactorService) Serve(ctx context.Context) error {
	if err := s.compactor.Start(ctx); err != nil {
		return fmt.Errorf("WAL compactor start failed: %w", err)
	}

	<-ctx.Done()

	s.compactor.Stop()

	return ctx.Err()
}

// String implements fmt.Stringer for logging.
func (s *WALCompactorService) String() string {
	return s.name
}
