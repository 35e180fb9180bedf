// https://github.com/relaysync/core

package api

import (
	"context"

	"github.com/relaysync/core/internal/config"
	"github.com/relaysync/core/internal/ingest"
	"github.com/relaysync/core/internal/models"
	"github.com/relaysync/core/internal/store"
	"github.com/relaysync/core/internal/supervisor"
)

// Ingestor is the subset of *ingest.Ingestor the webhook handler needs.
type Ingestor interface {
	Ingest(ctx context.Context, originNode string, rawPayload []byte) (*ingest.Result, error)
}

// Store is the subset of *store.Store the dashboard read handlers and
// readiness probe need.
type Store interface {
	Ping(ctx context.Context) error
	GetQueueStats(ctx context.Context) (store.QueueStats, error)
	ListPendingEventsByState(ctx context.Context, state models.PendingEventStatus, limit, offset int) ([]models.PendingEvent, error)
	QuerySyncLog(ctx context.Context, filter store.SyncLogFilter, limit, offset int) ([]models.SyncLogEntry, error)
}

// NodeSupervisor is the subset of *supervisor.NodeSupervisor the status
// and readiness handlers need.
type NodeSupervisor interface {
	GetAllNodeStatuses() []supervisor.NodeStatus
	AnyReachable() bool
}

// Worker is the subset of *worker.Worker the readiness probe needs.
type Worker interface {
	IsRunning() bool
}

// Handler holds every dependency relaysync's HTTP routes need and
// implements the per-route methods registered by NewRouter.
type Handler struct {
	cfg        *config.Config
	ingestor   Ingestor
	store      Store
	supervisor NodeSupervisor
	worker     Worker
	jwtManager *JWTManager
	hub        *StreamHub
	startedAt  string
}

// NewHandler builds a Handler over the given dependencies.
func NewHandler(cfg *config.Config, ingestor Ingestor, s Store, sup NodeSupervisor, w Worker, jwtManager *JWTManager, hub *StreamHub, startedAt string) *Handler {
	return &Handler{
		cfg:        cfg,
		ingestor:   ingestor,
		store:      s,
		supervisor: sup,
		worker:     w,
		jwtManager: jwtManager,
		hub:        hub,
		startedAt:  startedAt,
	}
}
