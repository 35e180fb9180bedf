// https://github.com/relaysync/core

package api

import (
	"net/http"
	"strconv"

	"github.com/relaysync/core/internal/models"
	"github.com/relaysync/core/internal/store"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
)

// pageParams reads limit/offset query parameters with sane defaults
// and an upper bound on limit, so a careless dashboard client can't
// request an unbounded page.
func pageParams(r *http.Request) (limit, offset int) {
	limit = defaultPageLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

// Status handles GET /api/status: queue depth plus per-node health, a
// single call for the dashboard's landing view.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	stats, err := h.store.GetQueueStats(r.Context())
	if err != nil {
		rw.InternalError(err)
		return
	}

	rw.Success(map[string]interface{}{
		"queue": stats,
		"nodes": h.supervisor.GetAllNodeStatuses(),
	})
}

// Queue handles GET /api/queue: the same depth summary as Status, on
// its own route for polling clients that don't need node health.
func (h *Handler) Queue(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	stats, err := h.store.GetQueueStats(r.Context())
	if err != nil {
		rw.InternalError(err)
		return
	}
	rw.Success(stats)
}

// EventsPending handles GET /api/events/pending: a page of events
// still awaiting their next lease.
func (h *Handler) EventsPending(w http.ResponseWriter, r *http.Request) {
	h.listEventsByState(w, r, models.StatusPending)
}

// EventsWaiting handles GET /api/events/waiting: a page of events
// parked on ItemAbsent, waiting for their target item to appear.
func (h *Handler) EventsWaiting(w http.ResponseWriter, r *http.Request) {
	h.listEventsByState(w, r, models.StatusWaitingItem)
}

func (h *Handler) listEventsByState(w http.ResponseWriter, r *http.Request, state models.PendingEventStatus) {
	rw := NewResponseWriter(w, r)
	limit, offset := pageParams(r)

	events, err := h.store.ListPendingEventsByState(r.Context(), state, limit, offset)
	if err != nil {
		rw.InternalError(err)
		return
	}

	rw.SuccessWithPagination(events, &PaginationMeta{
		Count:   len(events),
		Offset:  offset,
		Limit:   limit,
		HasMore: len(events) == limit,
	})
}

// SyncLog handles GET /api/sync-log: a page of the append-only
// observability log, optionally filtered by source_node, target_node,
// username, or success.
func (h *Handler) SyncLog(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	limit, offset := pageParams(r)

	filter := store.SyncLogFilter{
		SourceNode: r.URL.Query().Get("source_node"),
		TargetNode: r.URL.Query().Get("target_node"),
		Username:   r.URL.Query().Get("username"),
	}
	if v := r.URL.Query().Get("success"); v != "" {
		success := v == "true"
		filter.Success = &success
	}

	entries, err := h.store.QuerySyncLog(r.Context(), filter, limit, offset)
	if err != nil {
		rw.InternalError(err)
		return
	}

	rw.SuccessWithPagination(entries, &PaginationMeta{
		Count:   len(entries),
		Offset:  offset,
		Limit:   limit,
		HasMore: len(entries) == limit,
	})
}
