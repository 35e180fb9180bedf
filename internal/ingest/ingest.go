// https://github.com/relaysync/core

// Package ingest implements the Event Ingestor: it turns one inbound
// webhook into the set of normalized event intents that fan out to the
// rest of the fleet, pre-logs them to the WAL, and commits them to the
// Store in a single atomic batch.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/relaysync/core/internal/config"
	"github.com/relaysync/core/internal/logging"
	"github.com/relaysync/core/internal/metrics"
	"github.com/relaysync/core/internal/models"
	"github.com/relaysync/core/internal/policy"
	"github.com/relaysync/core/internal/store"
	"github.com/relaysync/core/internal/validation"
	"github.com/relaysync/core/internal/wal"
)

// walEnvelope is what actually gets written to the WAL: the raw
// webhook plus the origin node, since the node name arrives on the
// webhook route's URL path and isn't part of the Plex payload itself.
// Recovery needs it back to re-derive the same fan-out.
type walEnvelope struct {
	OriginNode string
	Payload    models.WebhookPayload
}

// UnknownSourceError is returned when a webhook names an origin node
// that is not in the configured fleet.
type UnknownSourceError struct {
	OriginNode string
}

func (e *UnknownSourceError) Error() string {
	return fmt.Sprintf("ingest: unknown source node %q", e.OriginNode)
}

// WAL is the subset of wal.WAL the Ingestor depends on, narrowed so
// ingest_test.go can exercise it against an in-memory fake instead of a
// BadgerDB-backed instance.
type WAL interface {
	Write(ctx context.Context, event interface{}) (string, error)
	Confirm(ctx context.Context, entryID string) error
}

// Store is the subset of *store.Store the Ingestor depends on.
type Store interface {
	EnqueueBatch(ctx context.Context, requests []store.EnqueueRequest) ([]int64, error)
}

// Ingestor normalizes inbound webhooks into pending events and commits
// them atomically, durably pre-logged to the WAL.
type Ingestor struct {
	cfg    *config.Config
	store  Store
	wal    WAL
	policy *policy.Engine
}

// New builds an Ingestor over the given configuration, Store, WAL, and
// retry Policy Engine.
func New(cfg *config.Config, s Store, w WAL, p *policy.Engine) *Ingestor {
	return &Ingestor{cfg: cfg, store: s, wal: w, policy: p}
}

// Result is the Ingestor's response to one webhook: acknowledgement
// only, no apply-synchronous behavior.
type Result struct {
	IntentIDs []int64
}

// Ingest normalizes one webhook from originNode and commits the
// resulting intents atomically. Returns *UnknownSourceError if
// originNode is not configured.
func (i *Ingestor) Ingest(ctx context.Context, originNode string, rawPayload []byte) (*Result, error) {
	if i.cfg.NodeByName(originNode) == nil {
		return nil, &UnknownSourceError{OriginNode: originNode}
	}

	var payload models.WebhookPayload
	if err := json.Unmarshal(rawPayload, &payload); err != nil {
		return nil, fmt.Errorf("ingest: decode webhook payload: %w", err)
	}
	if verr := validation.ValidateStruct(&payload); verr != nil {
		return nil, verr
	}

	entryID, err := i.wal.Write(ctx, walEnvelope{OriginNode: originNode, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("ingest: wal pre-log: %w", err)
	}

	requests := i.normalize(originNode, payload)
	if len(requests) == 0 {
		if confirmErr := i.wal.Confirm(ctx, entryID); confirmErr != nil {
			logging.Warn().Err(confirmErr).Str("entry_id", entryID).Msg("failed to confirm empty-fanout wal entry")
		}
		return &Result{}, nil
	}

	ids, err := i.store.EnqueueBatch(ctx, requests)
	if err != nil {
		return nil, fmt.Errorf("ingest: enqueue batch: %w", err)
	}

	for _, req := range requests {
		metrics.RecordEnqueue(string(req.Intent.EventType), len(requests))
	}

	if err := i.wal.Confirm(ctx, entryID); err != nil {
		logging.Warn().Err(err).Str("entry_id", entryID).Msg("failed to confirm wal entry after commit")
	}

	return &Result{IntentIDs: ids}, nil
}

// RecoverEntry replays one WAL entry found pending at startup: it
// decodes the envelope Ingest wrote, re-derives the same enqueue
// requests, and commits them to the Store. It never re-writes the WAL,
// since the entry being replayed already is the WAL's own record of
// the attempt.
func (i *Ingestor) RecoverEntry(ctx context.Context, entry *wal.Entry) error {
	var env walEnvelope
	if err := json.Unmarshal(entry.Payload, &env); err != nil {
		return fmt.Errorf("ingest: decode recovered wal entry: %w", err)
	}

	requests := i.normalize(env.OriginNode, env.Payload)
	if len(requests) == 0 {
		return nil
	}

	if _, err := i.store.EnqueueBatch(ctx, requests); err != nil {
		return fmt.Errorf("ingest: recover enqueue batch: %w", err)
	}

	for _, req := range requests {
		metrics.RecordEnqueue(string(req.Intent.EventType), len(requests))
	}

	return nil
}

// Committer adapts RecoverEntry to wal.Committer, for wiring
// BadgerWAL.RecoverPending into startup.
func (i *Ingestor) Committer() wal.CommitterFunc {
	return i.RecoverEntry
}

// sourceTimestamp returns the event's observed time: the webhook's own
// UtcTimestamp if present, else the time the webhook was received.
func sourceTimestamp(payload models.WebhookPayload, receivedAt time.Time) time.Time {
	if payload.UtcTimestamp != nil {
		return *payload.UtcTimestamp
	}
	return receivedAt
}

func itemFromPayload(payload models.WebhookPayload) models.ItemDescriptor {
	return models.ItemDescriptor{
		Path:         payload.Path,
		ProviderImdb: payload.ProviderImdb,
		ProviderTmdb: payload.ProviderTmdb,
		ProviderTvdb: payload.ProviderTvdb,
	}
}

// itemNotFoundMax resolves the Policy Engine rule for item, converting
// an unbounded rule (-1) to a sentinel the Store already understands as
// "never stop retrying while item is absent".
func (i *Ingestor) itemNotFoundMax(item models.ItemDescriptor) int {
	if item.Path == "" {
		return 0
	}
	return i.policy.Select(item.Path).MaxAttempts
}

func dedupKey(eventType models.SyncEventType, username string, item models.ItemDescriptor, targetNode string) string {
	return string(eventType) + "|" + username + "|" + item.LookupKey() + "|" + targetNode
}

func (i *Ingestor) buildRequest(eventType models.SyncEventType, originNode, targetNode string, payload models.WebhookPayload, item models.ItemDescriptor, fields models.EventPayload) store.EnqueueRequest {
	fields.Username = payload.NotificationUsername
	fields.Item = item
	intent := models.EventIntent{
		EventType:  eventType,
		SourceNode: originNode,
		SourceUser: payload.NotificationUsername,
		TargetNode: targetNode,
		Item:       item,
		Payload:    fields,
	}
	return store.EnqueueRequest{
		Intent:          intent,
		DedupKey:        dedupKey(eventType, payload.NotificationUsername, item, targetNode),
		ItemNotFoundMax: i.itemNotFoundMax(item),
	}
}

// normalize maps one webhook to the set of pending-event enqueue
// requests it produces, one per other configured node except where the
// event type carries no item and fans out identically regardless.
func (i *Ingestor) normalize(originNode string, payload models.WebhookPayload) []store.EnqueueRequest {
	ts := sourceTimestamp(payload, time.Now().UTC())
	item := itemFromPayload(payload)
	targets := i.cfg.OtherNodes(originNode)

	var requests []store.EnqueueRequest

	switch payload.NotificationType {
	case models.EventUserCreated, models.EventUserDeleted:
		eventType := models.SyncUserCreated
		if payload.NotificationType == models.EventUserDeleted {
			eventType = models.SyncUserDeleted
		}
		for _, target := range targets {
			requests = append(requests, i.buildRequest(eventType, originNode, target.Name, payload, models.ItemDescriptor{}, models.EventPayload{}))
		}

	case models.EventPlaybackProgress:
		if !i.cfg.Sync.PlaybackProgress {
			return nil
		}
		for _, target := range targets {
			requests = append(requests, i.progressRequest(originNode, target.Name, payload, item, ts)...)
		}

	case models.EventPlaybackStop:
		for _, target := range targets {
			if payload.PlayedToCompletion {
				if i.cfg.Sync.WatchedStatus {
					requests = append(requests, i.buildRequest(models.SyncWatched, originNode, target.Name, payload, item, models.EventPayload{
						Played:             &models.FieldValue{Value: true, Timestamp: ts},
						PlayedToCompletion: true,
					}))
				}
				continue
			}
			if i.cfg.Sync.PlaybackProgress {
				requests = append(requests, i.progressRequest(originNode, target.Name, payload, item, ts)...)
			}
		}

	case models.EventUserDataSaved:
		for _, target := range targets {
			if i.cfg.Sync.WatchedStatus {
				requests = append(requests, i.buildRequest(models.SyncWatched, originNode, target.Name, payload, item, models.EventPayload{
					Played: &models.FieldValue{Value: payload.Played, Timestamp: ts},
				}))
			}
			if i.cfg.Sync.Favorites {
				requests = append(requests, i.buildRequest(models.SyncFavorite, originNode, target.Name, payload, item, models.EventPayload{
					Favorite: &models.FieldValue{Value: payload.IsFavorite, Timestamp: ts},
				}))
			}
		}

	case models.EventPlaybackStart, models.EventItemAdded:
		// Observability-only notifications: neither changes user state
		// nor affects item cache (negative lookups are never cached, so
		// there is nothing to invalidate on ItemAdded).
		return nil
	}

	return requests
}

// progressRequest builds the Progress intent for one target, plus, when
// PlayedToCompletion is set on the payload, the Watched intent the
// debounce-bypass rule requires alongside it.
func (i *Ingestor) progressRequest(originNode, targetNode string, payload models.WebhookPayload, item models.ItemDescriptor, ts time.Time) []store.EnqueueRequest {
	requests := []store.EnqueueRequest{
		i.buildRequest(models.SyncProgress, originNode, targetNode, payload, item, models.EventPayload{
			PositionTicks:      &models.FieldValue{Value: payload.PlaybackPositionTicks, Timestamp: ts},
			PlayedToCompletion: payload.PlayedToCompletion,
		}),
	}
	if payload.PlayedToCompletion && i.cfg.Sync.WatchedStatus {
		requests = append(requests, i.buildRequest(models.SyncWatched, originNode, targetNode, payload, item, models.EventPayload{
			Played:             &models.FieldValue{Value: true, Timestamp: ts},
			PlayedToCompletion: true,
		}))
	}
	return requests
}
