// https://github.com/relaysync/core

package api

import (
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/relaysync/core/internal/logging"
)

// asHandlerMiddleware adapts an http.HandlerFunc-based middleware (the
// convention internal/middleware uses) into chi's func(http.Handler)
// http.Handler convention, so the two middleware styles compose in the
// same Use() chain.
func asHandlerMiddleware(mw func(http.HandlerFunc) http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return mw(next.ServeHTTP)
	}
}

// RateLimitConfig bounds requests per source IP in a fixed window.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// corsMiddleware builds the dashboard's CORS handler from the
// configured allowed origins. The webhook route never mounts this: it
// is called by a node's server process, not a browser.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           300,
	})
}

// rateLimitByIP returns an httprate middleware keyed by source IP.
func rateLimitByIP(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return httprate.LimitByIP(cfg.Requests, cfg.Window)
}

// securityHeaders adds the standard set of defensive response headers.
func securityHeaders() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
				w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requestLogging logs one line per completed request at info level,
// tagged with the request ID chi's RequestID middleware attaches.
func requestLogging() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logging.Ctx(r.Context()).Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Msg("request completed")
		})
	}
}

// requireAuth gates a route group behind a valid dashboard bearer
// token. relaysync has a single operator identity, so there is nothing
// to authorize beyond "is this token valid" - no role check.
func requireAuth(jwtManager *JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := NewResponseWriter(w, r)

			header := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
				rw.Unauthorized("missing or malformed authorization header")
				return
			}

			claims, err := jwtManager.ValidateToken(header[len(prefix):])
			if err != nil {
				logging.Ctx(r.Context()).Warn().Err(err).Msg("rejected dashboard token")
				rw.Unauthorized("invalid or expired token")
				return
			}

			ctx := contextWithUsername(r.Context(), claims.Username)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
