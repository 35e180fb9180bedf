// https://github.com/relaysync/core

// Package models holds the data shapes shared across relaysync's
// pipeline: the raw webhook payload, the normalized event intents
// derived from it, and the durable records the Store persists for
// each.
package models

import "time"

// EventType is the raw notification kind carried on an inbound webhook.
type EventType string

const (
	EventPlaybackStart    EventType = "PlaybackStart"
	EventPlaybackStop     EventType = "PlaybackStop"
	EventPlaybackProgress EventType = "PlaybackProgress"
	EventItemAdded        EventType = "ItemAdded"
	EventUserDataSaved    EventType = "UserDataSaved"
	EventUserCreated      EventType = "UserCreated"
	EventUserDeleted      EventType = "UserDeleted"
)

// SyncEventType is the normalized intent kind the Ingestor derives from
// a webhook notification. One webhook may produce zero or more intents,
// one per target node.
type SyncEventType string

const (
	SyncProgress     SyncEventType = "progress"
	SyncWatched      SyncEventType = "watched"
	SyncFavorite     SyncEventType = "favorite"
	SyncRating       SyncEventType = "rating"
	SyncPlaylist     SyncEventType = "playlist"
	SyncUserCreated  SyncEventType = "user_created"
	SyncUserDeleted  SyncEventType = "user_deleted"
)

// WebhookPayload is the raw inbound JSON body accepted on
// POST /webhook/{node_name}.
type WebhookPayload struct {
	NotificationType      EventType  `json:"NotificationType" validate:"required"`
	NotificationUsername  string     `json:"NotificationUsername"`
	ItemId                string     `json:"ItemId"`
	Name                  string     `json:"Name"`
	ItemType              string     `json:"ItemType"`
	Path                  string     `json:"Path"`
	PlaybackPositionTicks int64      `json:"PlaybackPositionTicks"`
	PlayedToCompletion    bool       `json:"PlayedToCompletion"`
	IsFavorite            bool       `json:"IsFavorite"`
	Played                bool       `json:"Played"`
	ProviderImdb          string     `json:"Provider_imdb"`
	ProviderTmdb          string     `json:"Provider_tmdb"`
	ProviderTvdb          string     `json:"Provider_tvdb"`
	UtcTimestamp          *time.Time `json:"UtcTimestamp,omitempty"`
}

// ItemDescriptor identifies a media item independent of which node
// holds it: a normalized file path (the primary matching key) and a
// set of external provider ids (fallback matching for content without
// a stable shared path, e.g. a remux renamed between libraries).
type ItemDescriptor struct {
	Path         string `json:"path,omitempty"`
	ProviderImdb string `json:"provider_imdb,omitempty"`
	ProviderTmdb string `json:"provider_tmdb,omitempty"`
	ProviderTvdb string `json:"provider_tvdb,omitempty"`
}

// LookupKey returns the Item Cache's key for this descriptor: the
// normalized path if present, else the first available provider tuple
// in imdb → tmdb → tvdb order.
func (d ItemDescriptor) LookupKey() string {
	if d.Path != "" {
		return d.Path
	}
	if d.ProviderImdb != "" {
		return "imdb:" + d.ProviderImdb
	}
	if d.ProviderTmdb != "" {
		return "tmdb:" + d.ProviderTmdb
	}
	if d.ProviderTvdb != "" {
		return "tvdb:" + d.ProviderTvdb
	}
	return ""
}

// FieldValue is one field's value paired with the wall-clock time at
// which the source node observed it, for last-write-wins comparison on
// apply.
type FieldValue struct {
	Value     interface{} `json:"value"`
	Timestamp time.Time   `json:"timestamp"`
}

// EventPayload is the normalized, opaque-to-the-Store snapshot a
// PendingEvent carries: enough to apply the change without re-deriving
// it from the original webhook.
type EventPayload struct {
	Username           string         `json:"username"`
	Item               ItemDescriptor `json:"item"`
	PositionTicks      *FieldValue    `json:"position_ticks,omitempty"`
	Played             *FieldValue    `json:"played,omitempty"`
	Favorite           *FieldValue    `json:"favorite,omitempty"`
	Rating             *FieldValue    `json:"rating,omitempty"`
	PlayedToCompletion bool           `json:"played_to_completion,omitempty"`
}

// PendingEventStatus is a PendingEvent's lifecycle state.
type PendingEventStatus string

const (
	StatusPending     PendingEventStatus = "pending"
	StatusProcessing  PendingEventStatus = "processing"
	StatusWaitingItem PendingEventStatus = "waiting_item"
	StatusFailed      PendingEventStatus = "failed"
)

// PendingEvent is the Store's central WAL-coalesced record.
type PendingEvent struct {
	ID                int64
	DedupKey          string
	EventType         SyncEventType
	SourceNode        string
	TargetNode        string
	Payload           EventPayload
	State             PendingEventStatus
	Attempts          int
	ItemNotFoundCount int
	ItemNotFoundMax   int
	NextRetryAt       time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
	LastError         string
}

// SyncLogEntry is an append-only observability record.
type SyncLogEntry struct {
	ID          int64
	CreatedAt   time.Time
	EventType   SyncEventType
	SourceNode  string
	TargetNode  string
	Username    string
	ItemName    string
	SyncedValue string
	Success     bool
	Message     string
}

// UserMapping caches (username, node) → remote user id.
type UserMapping struct {
	Username     string
	NodeName     string
	RemoteUserID string
	UpdatedAt    time.Time
}

// ItemCacheEntry caches (node, lookup_key) → remote item id.
type ItemCacheEntry struct {
	NodeName     string
	LookupKey    string
	RemoteItemID string
	FetchedAt    time.Time
}

// ItemCacheTTL is the age at which an Item Cache Entry is refreshed on
// next use rather than trusted as-is.
const ItemCacheTTL = 24 * time.Hour

// EventIntent is what the Ingestor hands to the Store's Enqueue path:
// an not-yet-persisted PendingEvent plus enough to compute its dedup key.
type EventIntent struct {
	EventType  SyncEventType
	SourceNode string
	SourceUser string
	TargetNode string
	Item       ItemDescriptor
	Payload    EventPayload
}

// Outcome is the result the Worker reports back to Store.Finalize.
type Outcome struct {
	Kind        OutcomeKind
	RetryDelay  time.Duration
	Reason      string
	SyncedValue string
}

// OutcomeKind enumerates the terminal/transitional classifications a
// Worker pipeline run can produce.
type OutcomeKind string

const (
	OutcomeApplied  OutcomeKind = "applied"
	OutcomeSkipped  OutcomeKind = "skipped"
	OutcomeRetry    OutcomeKind = "retry"
	OutcomeWaitItem OutcomeKind = "wait_item"
	OutcomeFailed   OutcomeKind = "failed"
)
