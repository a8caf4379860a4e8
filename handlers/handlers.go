// modgate/handlers/handlers.go

package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"modgate/database"
	"modgate/models"
	"modgate/moderation"

	"github.com/go-chi/chi/v5"
)

// App is an interface that defines the dependencies our handlers need.
type App interface {
	DB() *database.DatabaseService
	Pipeline() *moderation.Pipeline
	Reconciler() *moderation.Reconciler
	Storage() models.StorageService
	RateLimiter() *models.RateLimiter
	WebhookLimiter() *models.RateLimiter
	Tasks() *models.TaskGroup
	Logger() *slog.Logger
	UploadDir() string
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}, app App) {
	response, err := json.Marshal(payload)
	if err != nil {
		app.Logger().Error("Failed to marshal JSON payload", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		if _, werr := w.Write([]byte(`{"error":"Failed to marshal JSON response"}`)); werr != nil {
			app.Logger().Error("Failed to write internal server error response", "error", werr)
		}
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(response); err != nil {
		app.Logger().Error("Failed to write JSON response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, msg string, app App) {
	respondJSON(w, status, map[string]string{"error": msg}, app)
}

// MakeHandler adapts a handler that needs the App to an http.HandlerFunc.
func MakeHandler(app App, fn func(http.ResponseWriter, *http.Request, App)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fn(w, r, app)
	}
}

// idParam parses a positive integer URL parameter.
func idParam(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}

// storeStatus maps a store error to an HTTP status.
func storeStatus(err error) int {
	if errors.Is(err, models.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// HandleHealth reports whether the database is reachable.
func HandleHealth(w http.ResponseWriter, r *http.Request, app App) {
	if err := app.DB().DB.PingContext(r.Context()); err != nil {
		app.Logger().Error("Health check failed", "error", err)
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"}, app)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"}, app)
}
