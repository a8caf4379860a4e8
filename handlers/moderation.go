// modgate/handlers/moderation.go
package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"modgate/database"
	"modgate/models"
	"modgate/utils"

	"golang.org/x/crypto/bcrypt"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

type reviewableResponse struct {
	ID              int64     `json:"id"`
	TargetPostID    int64     `json:"target_post_id"`
	TargetCreatedBy int64     `json:"target_created_by"`
	CreatedBy       int64     `json:"created_by"`
	Raw             string    `json:"raw"`
	PotentialSpam   bool      `json:"potential_spam"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func newReviewableResponse(rv *models.Reviewable) reviewableResponse {
	return reviewableResponse{
		ID:              rv.ID,
		TargetPostID:    rv.TargetPostID,
		TargetCreatedBy: rv.TargetCreatedBy,
		CreatedBy:       rv.CreatedBy,
		Raw:             rv.Raw,
		PotentialSpam:   rv.PotentialSpam,
		Status:          rv.Status,
		CreatedAt:       rv.CreatedAt,
		UpdatedAt:       rv.UpdatedAt,
	}
}

type modActionResponse struct {
	ID            int64     `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	ActorID       int64     `json:"actor_id,omitempty"`
	ModeratorHash string    `json:"moderator_hash,omitempty"`
	Action        string    `json:"action"`
	TargetID      *int64    `json:"target_id"`
	Details       string    `json:"details,omitempty"`
}

func listLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		return defaultListLimit
	}
	return min(limit, maxListLimit)
}

// HandleListReviewables lists the review queue, pending items by default.
func HandleListReviewables(w http.ResponseWriter, r *http.Request, app App) {
	status := r.URL.Query().Get("status")
	switch status {
	case "":
		status = models.ReviewableStatusPending
	case models.ReviewableStatusPending, models.ReviewableStatusApproved, models.ReviewableStatusRejected:
	default:
		respondError(w, http.StatusBadRequest, "Unknown status.", app)
		return
	}

	reviewables, err := app.DB().ListReviewables(r.Context(), status, listLimit(r))
	if err != nil {
		app.Logger().Error("Failed to list reviewables", "handler", "HandleListReviewables", "error", err)
		respondError(w, http.StatusInternalServerError, "Database error.", app)
		return
	}
	out := make([]reviewableResponse, 0, len(reviewables))
	for i := range reviewables {
		out = append(out, newReviewableResponse(&reviewables[i]))
	}
	respondJSON(w, http.StatusOK, map[string]any{"reviewables": out}, app)
}

func HandleApproveReviewable(w http.ResponseWriter, r *http.Request, app App) {
	resolveReviewable(w, r, app, true)
}

func HandleRejectReviewable(w http.ResponseWriter, r *http.Request, app App) {
	resolveReviewable(w, r, app, false)
}

func resolveReviewable(w http.ResponseWriter, r *http.Request, app App, approve bool) {
	logger := app.Logger().With("handler", "resolveReviewable", "approve", approve)
	id, ok := idParam(r, "reviewableID")
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid reviewable ID.", app)
		return
	}

	rv, err := app.DB().ResolveReviewable(r.Context(), id, approve, utils.HashIP(utils.GetIPAddress(r)))
	switch {
	case errors.Is(err, models.ErrNotFound):
		respondError(w, http.StatusNotFound, "Reviewable not found.", app)
		return
	case errors.Is(err, database.ErrReviewableClosed):
		respondError(w, http.StatusConflict, "Reviewable was already resolved.", app)
		return
	case err != nil:
		logger.Error("Failed to resolve reviewable", "reviewable_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "Database error.", app)
		return
	}

	logger.Info("Reviewable resolved by moderator", "reviewable_id", id, "post_id", rv.TargetPostID)
	respondJSON(w, http.StatusOK, newReviewableResponse(rv), app)
}

// HandleModLog lists mod log entries, newest first, optionally filtered by
// an action prefix such as "webhook_".
func HandleModLog(w http.ResponseWriter, r *http.Request, app App) {
	actions, err := app.DB().ListModActions(r.Context(), r.URL.Query().Get("action"), listLimit(r))
	if err != nil {
		app.Logger().Error("Failed to retrieve log", "handler", "HandleModLog", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to retrieve log.", app)
		return
	}
	out := make([]modActionResponse, 0, len(actions))
	for _, a := range actions {
		entry := modActionResponse{
			ID:            a.ID,
			Timestamp:     a.Timestamp,
			ActorID:       a.ActorID,
			ModeratorHash: a.ModeratorHash,
			Action:        a.Action,
			Details:       a.Details.String,
		}
		if a.TargetID.Valid {
			target := a.TargetID.Int64
			entry.TargetID = &target
		}
		out = append(out, entry)
	}
	respondJSON(w, http.StatusOK, map[string]any{"actions": out}, app)
}

func HandleDatabaseBackup(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleDatabaseBackup")
	backupPath, err := app.DB().BackupDatabase()
	if err != nil {
		logger.Error("Failed to create database backup", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to create database backup: "+err.Error(), app)
		return
	}
	logger.Info("Database backup created successfully", "path", backupPath)
	if err := app.DB().LogModeratorAction(r.Context(), utils.HashIP(utils.GetIPAddress(r)), "database_backup", 0, backupPath); err != nil {
		logger.Error("Failed to log backup", "error", err)
		respondError(w, http.StatusInternalServerError, "Database error logging action.", app)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"path": backupPath}, app)
}

// HandleCreateUser creates a forum account. Groups are given as a
// pipe separated list of ids, e.g. "3|10".
func HandleCreateUser(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleCreateUser")
	username := strings.TrimSpace(r.FormValue("username"))
	password := r.FormValue("password")
	if username == "" || len(username) > 60 {
		respondError(w, http.StatusBadRequest, "Invalid username.", app)
		return
	}
	if len(password) < 8 || len(password) > 72 {
		respondError(w, http.StatusBadRequest, "Password must be between 8 and 72 characters.", app)
		return
	}

	var groups []int64
	for _, part := range strings.Split(r.FormValue("groups"), "|") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			respondError(w, http.StatusBadRequest, "Invalid group ID: "+part, app)
			return
		}
		groups = append(groups, id)
	}

	ctx := r.Context()
	if _, err := app.DB().FindUserByUsername(ctx, username); err == nil {
		respondError(w, http.StatusConflict, "Username is taken.", app)
		return
	} else if !errors.Is(err, models.ErrNotFound) {
		logger.Error("Failed to check username", "error", err)
		respondError(w, http.StatusInternalServerError, "Database error.", app)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		logger.Error("Failed to hash password", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to create user.", app)
		return
	}
	user := &models.User{
		Username:     username,
		Name:         strings.TrimSpace(r.FormValue("name")),
		Email:        strings.TrimSpace(r.FormValue("email")),
		PasswordHash: string(hash),
		Active:       true,
		Approved:     true,
		GroupIDs:     groups,
	}
	id, err := app.DB().CreateUser(ctx, user)
	if err != nil {
		logger.Error("Failed to create user", "username", username, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to create user.", app)
		return
	}
	if err := app.DB().LogModeratorAction(ctx, utils.HashIP(utils.GetIPAddress(r)), "create_user", id, username); err != nil {
		logger.Warn("Failed to log user creation", "error", err)
	}
	logger.Info("User created by moderator", "user_id", id)
	respondJSON(w, http.StatusCreated, map[string]any{"id": id, "username": username, "groups": groups}, app)
}

type notificationResponse struct {
	ID        int64             `json:"id"`
	Template  string            `json:"template"`
	Params    map[string]string `json:"params"`
	Read      bool              `json:"read"`
	CreatedAt time.Time         `json:"created_at"`
}

// HandleNotifications lists a user's inbox.
func HandleNotifications(w http.ResponseWriter, r *http.Request, app App) {
	userID, ok := idParam(r, "userID")
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid user ID.", app)
		return
	}
	if _, err := app.DB().GetUser(r.Context(), userID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			respondError(w, http.StatusNotFound, "User not found.", app)
			return
		}
		app.Logger().Error("Failed to load user", "handler", "HandleNotifications", "error", err)
		respondError(w, http.StatusInternalServerError, "Database error.", app)
		return
	}

	notifications, err := app.DB().ListNotifications(r.Context(), userID)
	if err != nil {
		app.Logger().Error("Failed to list notifications", "handler", "HandleNotifications", "error", err)
		respondError(w, http.StatusInternalServerError, "Database error.", app)
		return
	}
	out := make([]notificationResponse, 0, len(notifications))
	for _, n := range notifications {
		out = append(out, notificationResponse{ID: n.ID, Template: n.Template, Params: n.Params, Read: n.Read, CreatedAt: n.CreatedAt})
	}
	respondJSON(w, http.StatusOK, map[string]any{"notifications": out}, app)
}
