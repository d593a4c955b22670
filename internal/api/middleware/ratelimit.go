package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"golang.org/x/time/rate"
)

// RateLimit creates a middleware that applies a global token-bucket limit to
// the monitoring endpoints. The API has a handful of well-known callers
// (health checks, metric scrapers), so one shared bucket is enough.
func RateLimit(limiter *rate.Limiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				logger.Warn("Request rate limited",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", r.RemoteAddr),
				)

				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)

				response := map[string]string{
					"error": "rate limit exceeded",
				}
				if err := json.NewEncoder(w).Encode(response); err != nil {
					logger.Error("Failed to encode rate limit response", slog.Any("error", err))
				}

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
