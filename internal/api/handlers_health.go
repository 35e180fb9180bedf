// https://github.com/relaysync/core

package api

import (
	"net/http"
)

// Healthz handles GET /healthz: liveness only. If the process can
// answer HTTP at all, it is alive; this never touches the Store or any
// node.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(map[string]string{
		"status":     "alive",
		"started_at": h.startedAt,
	})
}

// Readyz handles GET /readyz: readiness. The process is ready once the
// Store is reachable, the Sync Worker's loop is running, and at least
// one configured node is reachable - there would otherwise be nothing
// to sync to.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	if err := h.store.Ping(r.Context()); err != nil {
		rw.ServiceUnavailable("store is not reachable")
		return
	}

	if !h.worker.IsRunning() {
		rw.ServiceUnavailable("sync worker is not running")
		return
	}

	if !h.supervisor.AnyReachable() {
		rw.ServiceUnavailable("no configured node is currently reachable")
		return
	}

	rw.Success(map[string]string{"status": "ready"})
}
