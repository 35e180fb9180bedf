// https://github.com/relaysync/core

package services

import (
	"context"
)

// ContextRunner matches *worker.Worker's Run method.
//
// This interface allows SyncWorkerService to work with the Sync Worker
// without importing internal/worker, avoiding circular dependencies (the
// worker package is wired from cmd/server alongside this one).
//
// Satisfied by *worker.Worker from internal/worker/worker.go: Run already
// blocks until ctx is canceled and returns ctx.Err(), the same shape
// suture.Service expects from Serve.
type ContextRunner interface {
	Run(ctx context.Context) error
}

// SyncWorkerService wraps the Sync Worker as a supervised service.
//
// Run already implements the suture.Service pattern directly - this
// wrapper only renames the method and supplies a name for logging.
//
// Example usage:
//
//	w := worker.New(cfg, store, resolver, policyEngine, clients, supervisor)
//	svc := services.NewSyncWorkerService(w)
//	tree.AddNodeService(svc)
type SyncWorkerService struct {
	runner ContextRunner
	name   string
}

// NewSyncWorkerService creates a new Sync Worker service wrapper.
func NewSyncWorkerService(runner ContextRunner) *SyncWorkerService {
	return &SyncWorkerService{
		runner: runner,
		name:   "sync-worker",
	}
}

// Serve implements suture.Service.
func (s *SyncWorkerService) Serve(ctx context.Context) error {
	return s.runner.Run(ctx)
}

// String implements fmt.Stringer for logging.
func (s *SyncWorkerService) String() string {
	return s.name
}
