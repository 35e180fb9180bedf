// https://github.com/relaysync/core

package api

import (
	"net/http"

	"github.com/relaysync/core/internal/middleware"
)

// performanceHandler handles GET /api/performance: per-endpoint
// latency percentiles collected by the router's PerformanceMonitor
// middleware, for spotting a route that's degraded before it shows up
// as operator complaints.
func performanceHandler(pm *middleware.PerformanceMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		NewResponseWriter(w, r).Success(map[string]interface{}{
			"endpoints": pm.GetStats(),
		})
	}
}
