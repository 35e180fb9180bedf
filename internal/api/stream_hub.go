// https://github.com/relaysync/core

package api

import (
	"context"
	"sync"
	"time"

	"github.com/relaysync/core/internal/logging"
)

// StreamEvent is one update pushed to every connected dashboard client:
// either an inbound webhook having been ingested, or a pipeline run
// having reached a terminal outcome.
type StreamEvent struct {
	Type        string `json:"type"` // "webhook" or "outcome"
	Node        string `json:"node,omitempty"`
	IntentCount int    `json:"intent_count,omitempty"`
	EventType   string `json:"event_type,omitempty"`
	TargetNode  string `json:"target_node,omitempty"`
	Outcome     string `json:"outcome,omitempty"`
}

// StreamHub fans StreamEvents out to every connected dashboard
// WebSocket client. One instance is shared across the process; the
// Sync Worker and webhook handler both publish to it.
type StreamHub struct {
	clients    map[*streamClient]bool
	broadcast  chan StreamEvent
	register   chan *streamClient
	unregister chan *streamClient
	mu         sync.RWMutex
}

// NewStreamHub builds an idle hub; call RunWithContext to start it.
func NewStreamHub() *StreamHub {
	return &StreamHub{
		clients:    make(map[*streamClient]bool),
		broadcast:  make(chan StreamEvent, 256),
		register:   make(chan *streamClient),
		unregister: make(chan *streamClient),
	}
}

// Broadcast enqueues an event for delivery to every connected client.
// Never blocks: a full buffer drops the event rather than stall the
// caller (the webhook handler and Worker tick loop).
func (h *StreamHub) Broadcast(event StreamEvent) {
	select {
	case h.broadcast <- event:
	default:
		logging.Warn().Msg("stream hub broadcast buffer full, dropping event")
	}
}

// NotifyOutcome implements worker.OutcomeNotifier, translating one
// pipeline run's result into a StreamEvent for connected dashboards.
func (h *StreamHub) NotifyOutcome(eventType, targetNode, outcome string) {
	h.Broadcast(StreamEvent{
		Type:       "outcome",
		EventType:  eventType,
		TargetNode: targetNode,
		Outcome:    outcome,
	})
}

// ClientCount reports how many dashboard clients are currently
// connected.
func (h *StreamHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RunWithContext drives client registration and broadcast fan-out
// until ctx is canceled, at which point every connected client is
// closed and the method returns ctx.Err().
func (h *StreamHub) RunWithContext(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case event := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- event:
				default:
					logging.Warn().Msg("dropping stream event for slow dashboard client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *StreamHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// String implements fmt.Stringer, for identifying this service in
// supervisor logs.
func (h *StreamHub) String() string {
	return "dashboard-stream-hub"
}

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = (streamPongWait * 9) / 10
)
