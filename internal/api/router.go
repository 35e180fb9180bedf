// https://github.com/relaysync/core

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/relaysync/core/internal/config"
	"github.com/relaysync/core/internal/middleware"
)

// performanceMonitorWindow bounds the PerformanceMonitor's in-memory
// sample ring to the most recent requests, so a long-running process
// doesn't grow it unbounded.
const performanceMonitorWindow = 1000

// NewRouter assembles relaysync's full HTTP surface: the webhook
// ingestion route, the dashboard auth/read/stream routes, health
// checks, metrics, and interactive API docs.
func NewRouter(h *Handler, cfg *config.Config) http.Handler {
	r := chi.NewRouter()

	pm := middleware.NewPerformanceMonitor(performanceMonitorWindow)

	r.Use(asHandlerMiddleware(middleware.RequestID))
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogging())
	r.Use(securityHeaders())
	r.Use(asHandlerMiddleware(middleware.PrometheusMetrics))
	r.Use(asHandlerMiddleware(middleware.Compression))
	r.Use(pm.Middleware)

	webhookLimit := RateLimitConfig{Requests: cfg.Auth.WebhookRateLimitPerMinute, Window: time.Minute}
	dashboardLimit := RateLimitConfig{Requests: cfg.Auth.DashboardRateLimitPerMinute, Window: time.Minute}

	r.Route("/webhook", func(r chi.Router) {
		r.Use(rateLimitByIP(webhookLimit))
		r.Post("/{node_name}", h.Webhook)
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(corsMiddleware(cfg.Auth.CORSAllowedOrigins))
		r.Use(rateLimitByIP(dashboardLimit))

		r.Post("/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(requireAuth(h.jwtManager))
			r.Get("/status", h.Status)
			r.Get("/queue", h.Queue)
			r.Get("/events/pending", h.EventsPending)
			r.Get("/events/waiting", h.EventsWaiting)
			r.Get("/sync-log", h.SyncLog)
			r.Get("/events/stream", h.EventsStream)
			r.Get("/performance", performanceHandler(pm))
		})

	})

	r.Get("/docs/*", httpSwagger.Handler(
		httpSwagger.URL("/docs/doc.json"),
		httpSwagger.DeepLinking(true),
		httpSwagger.DomID("swagger-ui"),
	))

	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
	r.Handle("/metrics", promhttp.Handler())

	return r
}
