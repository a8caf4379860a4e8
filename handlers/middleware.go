// modgate/handlers/middleware.go
package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"modgate/utils"

	"github.com/go-chi/chi/v5/middleware"
)

// NewStructuredLogger writes one log line per request.
func NewStructuredLogger(logger *slog.Logger) func(next http.Handler) http.Handler {
	logger = logger.With("component", "http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				level := slog.LevelInfo
				if status >= http.StatusInternalServerError {
					level = slog.LevelError
				}
				logger.Log(r.Context(), level, "Request handled",
					"request_id", middleware.GetReqID(r.Context()),
					"method", r.Method,
					"path", r.URL.Path,
					"status", status,
					"bytes", ww.BytesWritten(),
					"duration", time.Since(start),
					"ip_hash", utils.HashIP(utils.GetIPAddress(r)),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// RequireLAN restricts access to a handler to private or loopback IP addresses.
func RequireLAN(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !utils.IsLAN(r) {
			http.Error(w, "Forbidden: Moderation access restricted to LAN", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
