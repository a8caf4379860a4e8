// modgate/handlers/actions.go
package handlers

import (
	"context"
	"errors"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"modgate/config"
	"modgate/models"
	"modgate/moderation"
	"modgate/utils"
)

type postResponse struct {
	ID           int64     `json:"id"`
	TopicID      int64     `json:"topic_id"`
	UserID       int64     `json:"user_id"`
	PostNumber   int       `json:"post_number"`
	Raw          string    `json:"raw"`
	ImageURL     string    `json:"image_url,omitempty"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	EditCount    int       `json:"edit_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func newPostResponse(p *models.Post) postResponse {
	return postResponse{
		ID:           p.ID,
		TopicID:      p.ThreadID,
		UserID:       p.UserID,
		PostNumber:   p.PostNumber,
		Raw:          p.Raw,
		ImageURL:     p.ImagePath,
		ThumbnailURL: p.ThumbnailPath.String,
		EditCount:    p.EditCount,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}

// HandleCreatePost creates a new topic, or a reply when thread_id is set.
func HandleCreatePost(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleCreatePost")

	if err := r.ParseMultipartForm(config.MaxFileSize + 1024); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		logger.Warn("Form parsing error", "error", err)
		respondError(w, http.StatusBadRequest, "Form parsing error: "+err.Error(), app)
		return
	}

	ip := utils.GetIPAddress(r)
	if !app.RateLimiter().GetLimiter(ip).Allow() {
		logger.Warn("Rate limit exceeded", "ip", ip)
		respondError(w, http.StatusTooManyRequests, "Rate limit exceeded. Please wait a moment.", app)
		return
	}

	ctx := r.Context()
	userID, err := strconv.ParseInt(r.FormValue("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		respondError(w, http.StatusBadRequest, "Invalid user ID.", app)
		return
	}
	author, err := app.DB().GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			respondError(w, http.StatusBadRequest, "Unknown author.", app)
			return
		}
		logger.Error("Failed to load author", "user_id", userID, "error", err)
		respondError(w, http.StatusInternalServerError, "Database error.", app)
		return
	}
	if !author.Active {
		respondError(w, http.StatusForbidden, "Account is not active.", app)
		return
	}

	title := strings.TrimSpace(r.FormValue("title"))
	raw := r.FormValue("raw")
	if len(title) > config.MaxTitleLen || len(raw) > config.MaxRawLen {
		respondError(w, http.StatusBadRequest, "A form field exceeds the maximum length.", app)
		return
	}

	upload, err := readUpload(r, logger)
	if err != nil {
		logger.Warn("Image processing failed", "error", err)
		respondError(w, http.StatusBadRequest, "Image processing failed: "+err.Error(), app)
		return
	}
	if strings.TrimSpace(raw) == "" && upload == nil {
		respondError(w, http.StatusBadRequest, "Post must have content or an image.", app)
		return
	}

	item := &moderation.ContentItem{
		AuthorID:       author.ID,
		Raw:            raw,
		AuthorGroupIDs: author.GroupIDs,
	}
	var thread *models.Thread
	threadIDStr := r.FormValue("thread_id")
	if threadIDStr == "" || threadIDStr == "0" { // New topic
		if title == "" {
			respondError(w, http.StatusBadRequest, "New topics need a title.", app)
			return
		}
		archetype := r.FormValue("archetype")
		if archetype == "" {
			archetype = models.ArchetypeRegular
		}
		if archetype != models.ArchetypeRegular && archetype != models.ArchetypePrivateMessage {
			respondError(w, http.StatusBadRequest, "Unknown archetype.", app)
			return
		}
		categoryID := int64(1)
		if c := r.FormValue("category_id"); c != "" {
			if categoryID, err = strconv.ParseInt(c, 10, 64); err != nil || categoryID <= 0 {
				respondError(w, http.StatusBadRequest, "Invalid category ID.", app)
				return
			}
		}
		thread = &models.Thread{CategoryID: categoryID, UserID: author.ID, Title: title, Archetype: archetype}
		item.IsFirstPost = true
		item.TopicTitle = title
		item.CategoryID = categoryID
		item.IsPrivateMessage = archetype == models.ArchetypePrivateMessage
	} else { // New reply
		threadID, err := strconv.ParseInt(threadIDStr, 10, 64)
		if err != nil || threadID <= 0 {
			respondError(w, http.StatusBadRequest, "Invalid thread ID.", app)
			return
		}
		existing, err := app.DB().GetThread(ctx, threadID)
		if err != nil || existing.DeletedAt.Valid {
			if err != nil && !errors.Is(err, models.ErrNotFound) {
				logger.Error("Failed to load thread", "thread_id", threadID, "error", err)
				respondError(w, http.StatusInternalServerError, "Database error.", app)
				return
			}
			respondError(w, http.StatusNotFound, "Thread not found.", app)
			return
		}
		item.TopicID = existing.ID
		item.TopicTitle = existing.Title
		item.CategoryID = existing.CategoryID
		item.IsPrivateMessage = existing.Archetype == models.ArchetypePrivateMessage
	}

	post := &models.Post{
		ThreadID: item.TopicID,
		UserID:   author.ID,
		Raw:      raw,
		IPHash:   utils.HashIP(ip),
	}
	var written []string
	if upload != nil {
		if written, err = saveUpload(ctx, app, upload, post, logger); err != nil {
			logger.Error("Failed to store attachment", "error", err)
			respondError(w, http.StatusInternalServerError, "Failed to store image.", app)
			return
		}
		item.ImageURLs = []string{post.ImagePath}
	}

	if res := app.Pipeline().BeforeCreate(ctx, item); res.Rejected() {
		logger.Info("Post blocked by content filter", "user_id", author.ID)
		discardUpload(app, written, logger)
		respondJSON(w, http.StatusUnprocessableEntity, map[string]any{"errors": item.Errors}, app)
		return
	}

	if thread != nil {
		item.TopicID, item.ID, err = app.DB().CreateTopic(ctx, thread, post)
	} else {
		item.ID, err = app.DB().CreateReply(ctx, post)
	}
	if err != nil {
		discardUpload(app, written, logger)
		if errors.Is(err, models.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Thread not found.", app)
			return
		}
		logger.Error("Failed to save post", "error", err)
		respondError(w, http.StatusInternalServerError, "Database error saving post.", app)
		return
	}

	logger.Info("New post created", "post_id", item.ID, "topic_id", item.TopicID)
	runAfterResponse(app, "post_created", item, app.Pipeline().PostCreated)
	respondJSON(w, http.StatusCreated, map[string]int64{"post_id": item.ID, "topic_id": item.TopicID}, app)
}

// HandleEditPost replaces the raw text of a post. When posts are blocked
// before saving, a rejected edit is not written.
func HandleEditPost(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleEditPost")
	postID, ok := idParam(r, "postID")
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid post ID.", app)
		return
	}
	raw := r.FormValue("raw")
	if strings.TrimSpace(raw) == "" {
		respondError(w, http.StatusBadRequest, "Post content cannot be empty.", app)
		return
	}
	if len(raw) > config.MaxRawLen {
		respondError(w, http.StatusBadRequest, "A form field exceeds the maximum length.", app)
		return
	}

	ctx := r.Context()
	post, err := app.DB().GetPostUnscoped(ctx, postID)
	if err == nil && post.TopicTrashed {
		err = models.ErrNotFound
	}
	if err != nil {
		if status := storeStatus(err); status == http.StatusNotFound {
			respondError(w, status, "Post not found.", app)
			return
		}
		logger.Error("Failed to load post", "post_id", postID, "error", err)
		respondError(w, http.StatusInternalServerError, "Database error.", app)
		return
	}

	item := moderation.NewContentItem(post)
	item.Raw = raw
	pipeline := app.Pipeline()
	if pipeline.Blocking() {
		if res := pipeline.PostEdited(ctx, item); res.Rejected() {
			logger.Info("Edit blocked by content filter", "post_id", postID)
			respondJSON(w, http.StatusUnprocessableEntity, map[string]any{"errors": item.Errors}, app)
			return
		}
	}

	if err := app.DB().UpdatePostRaw(ctx, postID, raw); err != nil {
		logger.Error("Failed to update post", "post_id", postID, "error", err)
		respondError(w, storeStatus(err), "Failed to update post.", app)
		return
	}
	if !pipeline.Blocking() {
		runAfterResponse(app, "post_edited", item, pipeline.PostEdited)
	}
	respondJSON(w, http.StatusOK, map[string]int64{"post_id": postID}, app)
}

// HandleGetPost returns a publicly visible post.
func HandleGetPost(w http.ResponseWriter, r *http.Request, app App) {
	postID, ok := idParam(r, "postID")
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid post ID.", app)
		return
	}
	post, err := app.DB().GetPost(r.Context(), postID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			respondError(w, http.StatusNotFound, "Post not found.", app)
			return
		}
		app.Logger().Error("Failed to load post", "handler", "HandleGetPost", "post_id", postID, "error", err)
		respondError(w, http.StatusInternalServerError, "Database error.", app)
		return
	}
	respondJSON(w, http.StatusOK, newPostResponse(post), app)
}

// runAfterResponse runs a lifecycle hook detached from the request, so a
// slow analysis never holds up the poster.
func runAfterResponse(app App, hook string, item *moderation.ContentItem, fn func(context.Context, *moderation.ContentItem) moderation.EnforcementResult) {
	app.Tasks().Go(func() {
		defer func() {
			if rec := recover(); rec != nil {
				app.Logger().Error("Moderation hook panicked", "hook", hook, "post_id", item.ID, "panic", rec, "stack", string(debug.Stack()))
			}
		}()
		res := fn(context.Background(), item)
		if res.Err != nil {
			app.Logger().Error("Moderation hook failed", "hook", hook, "post_id", item.ID, "decision", res.Decision.String(), "error", res.Err)
		}
	})
}
