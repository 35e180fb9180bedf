// https://github.com/relaysync/core

package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/relaysync/core/internal/ingest"
	"github.com/relaysync/core/internal/logging"
	"github.com/relaysync/core/internal/validation"
)

const maxWebhookBodyBytes = 1 << 20 // 1 MiB; webhook payloads are small JSON documents

// Webhook handles POST /webhook/{node_name}: the inbound notification a
// media-library node sends on every user-data event. It has no
// authentication of its own - the calling node cannot attach a bearer
// token - and relies entirely on the route's rate limit for abuse
// protection.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	nodeName := chi.URLParam(r, "node_name")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes+1))
	if err != nil {
		rw.BadRequest("failed to read request body")
		return
	}
	if len(body) > maxWebhookBodyBytes {
		rw.Error(http.StatusRequestEntityTooLarge, ErrCodeBadRequest, "webhook payload too large")
		return
	}

	result, err := h.ingestor.Ingest(r.Context(), nodeName, body)
	if err != nil {
		var unknownSource *ingest.UnknownSourceError
		var validationErr *validation.RequestValidationError
		switch {
		case errors.As(err, &unknownSource):
			rw.Error(http.StatusNotFound, ErrCodeUnknownNode, err.Error())
		case errors.As(err, &validationErr):
			rw.ValidationError("webhook payload failed validation", validationErr)
		default:
			logging.Ctx(r.Context()).Error().Err(err).Str("node", nodeName).Msg("failed to ingest webhook")
			rw.InternalError(err)
		}
		return
	}

	if h.hub != nil {
		h.hub.Broadcast(StreamEvent{Type: "webhook", Node: nodeName, IntentCount: len(result.IntentIDs)})
	}

	rw.Created(map[string]interface{}{
		"intent_ids": result.IntentIDs,
	})
}

// ValidationError writes a 400 error wrapping a validation failure's
// field-level details.
func (rw *ResponseWriter) ValidationError(message string, err error) {
	rw.ErrorWithDetails(http.StatusBadRequest, "VALIDATION_FAILED", message, err.Error())
}
