// https://github.com/relaysync/core

// Package worker implements the Sync Worker: a single cooperative loop
// that leases due pending_events rows, resolves cross-node identity and
// item placement for each, compares current target state against the
// intended value, applies the change if still needed, and finalizes the
// row back to the Store with the outcome. One Worker per process; the
// lease/finalize cycle on pending_events is the only concurrency control
// it needs, so nothing here needs its own locking beyond the in-memory
// cooldown map.
package worker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/relaysync/core/internal/config"
	"github.com/relaysync/core/internal/logging"
	"github.com/relaysync/core/internal/metrics"
	"github.com/relaysync/core/internal/models"
	"github.com/relaysync/core/internal/nodeclient"
	"github.com/relaysync/core/internal/policy"
)

// NodeClient is the subset of *nodeclient.Client one pipeline run
// needs, narrowed so worker_test.go can exercise the pipeline against
// stubs instead of an HTTP-backed client.
type NodeClient interface {
	ListUsers(ctx context.Context) ([]nodeclient.User, error)
	GetUserItemData(ctx context.Context, userID, itemID string) (nodeclient.ItemUserData, error)
	MarkPlayed(ctx context.Context, userID, itemID string, at time.Time) error
	MarkUnplayed(ctx context.Context, userID, itemID string) error
	SetFavorite(ctx context.Context, userID, itemID string, favorite bool) error
	SetRating(ctx context.Context, userID, itemID string, rating *float64) error
	SetProgress(ctx context.Context, userID, itemID string, positionTicks int64) error
	CreateUser(ctx context.Context, username, password string) (string, error)
	DeleteUser(ctx context.Context, remoteID string) error
	ListPlaylists(ctx context.Context, userID string) ([]nodeclient.Playlist, error)
	AddToPlaylist(ctx context.Context, userID, playlistName, itemID string) error
}

// Resolver is the subset of *resolver.Resolver the Worker depends on.
type Resolver interface {
	ResolveTargetUser(ctx context.Context, username, targetNode string) (string, error)
	ResolveItem(ctx context.Context, targetNode string, item models.ItemDescriptor) (string, error)
}

// Store is the subset of *store.Store the Worker depends on.
type Store interface {
	LeaseDue(ctx context.Context, limit int, now time.Time) ([]models.PendingEvent, error)
	Finalize(ctx context.Context, event models.PendingEvent, outcome models.Outcome, logEntry models.SyncLogEntry) error
	ReapOrphans(ctx context.Context) (int64, error)
	PutUserMapping(ctx context.Context, m models.UserMapping) error
	InvalidateUser(ctx context.Context, username string) error
}

// NodeAuthority degrades a node's readiness once its client reports an
// Unauthorized apply error, per the Node Supervisor's readiness model.
type NodeAuthority interface {
	MarkUnauthorized(name string) error
}

// OutcomeNotifier is notified of every pipeline run's terminal or
// transitional outcome, for the dashboard's live event stream. Optional:
// a Worker built with a nil notifier simply skips the call.
type OutcomeNotifier interface {
	NotifyOutcome(eventType, targetNode, outcome string)
}

// Worker is the Sync Worker: one instance, one goroutine, driven by
// Run's ticker loop.
type Worker struct {
	cfg       *config.Config
	store     Store
	resolver  Resolver
	policy    *policy.Engine
	clients   map[string]NodeClient
	authority NodeAuthority
	notifier  OutcomeNotifier
	cooldown  *cooldownMap
	running   atomic.Bool
}

// New builds a Worker over the given dependencies. clients is keyed by
// node name, mirroring config.NodeConfig.Name.
func New(cfg *config.Config, s Store, r Resolver, p *policy.Engine, clients map[string]NodeClient, authority NodeAuthority) *Worker {
	return &Worker{
		cfg:       cfg,
		store:     s,
		resolver:  r,
		policy:    p,
		clients:   clients,
		authority: authority,
		cooldown:  newCooldownMap(),
	}
}

// SetOutcomeNotifier attaches a live-stream notifier. Called once
// during wiring, before Run starts.
func (w *Worker) SetOutcomeNotifier(n OutcomeNotifier) {
	w.notifier = n
}

// IsRunning reports whether Run's ticker loop is currently active, for
// the readiness probe's "Worker task is running" leg.
func (w *Worker) IsRunning() bool {
	return w.running.Load()
}

// Run reaps any row orphaned by a prior crash mid-lease, then ticks
// forever at the configured interval until ctx is cancelled. A leased
// batch in flight when ctx is cancelled is allowed to finish its
// current event; Run does not abandon a lease mid-apply.
func (w *Worker) Run(ctx context.Context) error {
	w.running.Store(true)
	defer w.running.Store(false)

	if n, err := w.store.ReapOrphans(ctx); err != nil {
		logging.Error().Err(err).Msg("failed to reap orphaned pending events at startup")
	} else if n > 0 {
		logging.Info().Int64("count", n).Msg("reaped orphaned pending events")
	}

	interval := time.Duration(w.cfg.Sync.WorkerIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var playlistTicker *time.Ticker
	var playlistC <-chan time.Time
	if w.cfg.Sync.Playlists {
		playlistTicker = time.NewTicker(playlistReconcileInterval)
		defer playlistTicker.Stop()
		playlistC = playlistTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.cooldown.sweep()
			if err := w.Tick(ctx); err != nil {
				logging.Error().Err(err).Msg("worker tick failed")
			}
		case <-playlistC:
			w.reconcilePlaylists(ctx)
		}
	}
}

// Tick leases up to the configured batch size and processes each
// leased event in turn, sequentially, per the single-threaded pipeline
// model: no two events race on the same cooldown or dedup key. It
// checks for shutdown between events, not during one: the event in
// flight always runs to completion, but a cancellation observed before
// the next one starts returns every still-leased row in the batch to
// pending instead of holding it until the next ReapOrphans pass.
func (w *Worker) Tick(ctx context.Context) error {
	start := time.Now()

	limit := w.cfg.Sync.LeaseBatchSize
	if limit <= 0 {
		limit = 32
	}
	events, err := w.store.LeaseDue(ctx, limit, time.Now().UTC())
	if err != nil {
		return err
	}

	for i, ev := range events {
		select {
		case <-ctx.Done():
			w.abandonLeased(events[i:])
			metrics.RecordWorkerTick(time.Since(start), i)
			return ctx.Err()
		default:
		}
		w.processEvent(ctx, ev)
	}

	metrics.RecordWorkerTick(time.Since(start), len(events))
	return nil
}

// abandonLeased returns every row in events to pending via a
// zero-delay "shutdown" retry. Called when the Worker is asked to stop
// while it still holds a leased batch, so the rows are due again
// immediately instead of sitting in processing until the next startup's
// ReapOrphans sweep. Uses a detached context: ctx is already cancelled
// by the time this runs, and the finalize write must still go through.
func (w *Worker) abandonLeased(events []models.PendingEvent) {
	outcome := models.Outcome{Kind: models.OutcomeRetry, RetryDelay: 0, Reason: "shutdown"}
	for _, ev := range events {
		logEntry := models.SyncLogEntry{
			CreatedAt:  time.Now().UTC(),
			EventType:  ev.EventType,
			SourceNode: ev.SourceNode,
			TargetNode: ev.TargetNode,
			Username:   ev.Payload.Username,
			Message:    outcome.Reason,
		}
		if err := w.store.Finalize(context.Background(), ev, outcome, logEntry); err != nil {
			logging.Error().Err(err).Int64("event_id", ev.ID).Msg("failed to return leased event to pending on shutdown")
		}
	}
}
