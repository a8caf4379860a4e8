package moderation

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"modgate/models"
)

const (
	// SignatureHeader carries the hex HMAC-SHA256 of the raw webhook body.
	SignatureHeader = "modapi-signature"

	EventQueueItemAction = "QUEUE_ITEM_ACTION"
)

var (
	ErrSignatureMissing  = errors.New("signature required")
	ErrSignatureMismatch = errors.New("signature verification failed")
)

// VerifySignature checks header against the HMAC-SHA256 of body keyed with
// secret. Lengths are compared before the constant-time value comparison.
func VerifySignature(secret string, body []byte, header string) error {
	actual := strings.TrimSpace(header)
	if actual == "" {
		return ErrSignatureMissing
	}
	expected := Sign(secret, body)
	if len(actual) != len(expected) || !hmac.Equal([]byte(actual), []byte(expected)) {
		return ErrSignatureMismatch
	}
	return nil
}

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// ActionKind is an action requested by the moderation dashboard.
type ActionKind int

const (
	ActionDelete ActionKind = iota + 1
	ActionHide
	ActionShow
)

// ParseActionKind maps an action key such as "discourse:hide".
func ParseActionKind(key string) (ActionKind, bool) {
	switch key {
	case "discourse:delete":
		return ActionDelete, true
	case "discourse:hide":
		return ActionHide, true
	case "discourse:show":
		return ActionShow, true
	}
	return 0, false
}

func (k ActionKind) String() string {
	switch k {
	case ActionDelete:
		return "discourse:delete"
	case ActionHide:
		return "discourse:hide"
	case ActionShow:
		return "discourse:show"
	}
	return "ActionKind(" + strconv.Itoa(int(k)) + ")"
}

// WebhookEvent is the inbound callback payload.
type WebhookEvent struct {
	Type   string        `json:"type"`
	Item   WebhookItem   `json:"item"`
	Action WebhookAction `json:"action"`
}

// WebhookItem identifies the content an action targets.
type WebhookItem struct {
	ID        ContentRef `json:"id"`
	ContextID ContentRef `json:"contextId"`
}

// WebhookAction is the dashboard decision. Value is kept raw since the
// dashboard sends free-form data there.
type WebhookAction struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// Message returns the action value as a custom message. Non-string values
// are returned as their JSON text.
func (a WebhookAction) Message() string {
	raw := bytes.TrimSpace(a.Value)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// ContentRef is an id sent either as a JSON string or a JSON number.
type ContentRef string

func (c *ContentRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*c = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = ContentRef(s)
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("content id must be a string or number: %s", data)
		}
		*c = ContentRef(n)
	}
	return nil
}

// Int64 parses the reference as a base 10 integer. Integral JSON numbers
// such as 10.0 are accepted.
func (c ContentRef) Int64() (int64, error) {
	s := strings.TrimSpace(string(c))
	if id, err := strconv.ParseInt(s, 10, 64); err == nil {
		return id, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) >= 1<<53 {
		return 0, fmt.Errorf("invalid content id %q", s)
	}
	return int64(f), nil
}

// ParseWebhookEvent decodes body. Malformed JSON or a missing type yields an
// empty event and no error. An error is returned only when a
// QUEUE_ITEM_ACTION event has fields of the wrong shape; the returned event
// still carries its type.
func ParseWebhookEvent(body []byte) (WebhookEvent, error) {
	var envelope struct {
		Type json.RawMessage `json:"type"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return WebhookEvent{}, nil
	}
	var eventType string
	if err := json.Unmarshal(envelope.Type, &eventType); err != nil || eventType != EventQueueItemAction {
		return WebhookEvent{Type: eventType}, nil
	}

	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return WebhookEvent{Type: eventType}, fmt.Errorf("decode %s event: %w", eventType, err)
	}
	return event, nil
}

// WebhookResult is the HTTP response the endpoint should write.
type WebhookResult struct {
	Status int
	Body   map[string]any
}

// Reconciler applies dashboard decisions to local content.
type Reconciler struct {
	store   Store
	system  *SystemAccount
	archive models.StorageService
	secret  string
	logger  *slog.Logger
	now     func() time.Time
}

// NewReconciler creates a Reconciler. archive may be nil; when set, deleted
// posts are snapshotted to it first. An empty secret disables signature checks.
func NewReconciler(store Store, system *SystemAccount, archive models.StorageService, secret string, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:   store,
		system:  system,
		archive: archive,
		secret:  secret,
		logger:  logger.With("component", "webhook"),
		now:     time.Now,
	}
}

// SignatureRequired reports whether webhooks must be signed.
func (r *Reconciler) SignatureRequired() bool {
	return r.secret != ""
}

// Handle runs one delivery through verification, parsing, resolution and
// the requested action.
func (r *Reconciler) Handle(ctx context.Context, body []byte, signature string) WebhookResult {
	res, action := r.handle(ctx, body, signature)
	webhookCount.WithLabelValues(action, strconv.Itoa(res.Status)).Inc()
	return res
}

func (r *Reconciler) handle(ctx context.Context, body []byte, signature string) (WebhookResult, string) {
	if r.secret != "" {
		if err := VerifySignature(r.secret, body, signature); err != nil {
			r.logger.Warn("Webhook signature rejected", "error", err)
			return WebhookResult{Status: http.StatusUnauthorized, Body: map[string]any{
				"error": signatureMessage(err),
				"time":  r.now().UTC().Format(time.RFC3339),
			}}, "none"
		}
	}

	sys, err := r.system.Get(ctx)
	if err != nil {
		r.logger.Error("Moderation API bot user not found", "error", err)
		return errorResult(http.StatusInternalServerError, "System configuration error - bot user not available"), "none"
	}

	event, parseErr := ParseWebhookEvent(body)
	if event.Type != EventQueueItemAction {
		r.logger.Info("Ignoring webhook", "type", event.Type)
		return WebhookResult{Status: http.StatusOK, Body: map[string]any{
			"status":  "ignored",
			"message": "Only QUEUE_ITEM_ACTION type is processed",
		}}, "ignored"
	}
	if parseErr != nil {
		r.logger.Warn("Malformed webhook payload", "error", parseErr)
		return errorResult(http.StatusBadRequest, "Invalid payload"), "invalid"
	}

	contentID, err := event.Item.ID.Int64()
	if err != nil || contentID <= 0 {
		r.logger.Warn("Invalid content ID", "item_id", string(event.Item.ID))
		return errorResult(http.StatusBadRequest, "Invalid content ID"), "invalid"
	}
	contextID, _ := event.Item.ContextID.Int64()
	logger := r.logger.With("content_id", contentID, "action", event.Action.Key)

	target, err := r.resolve(ctx, contentID)
	if err != nil {
		logger.Error("Failed to look up content", "error", err)
		return errorResult(http.StatusInternalServerError, "Failed to look up content"), "error"
	}
	if target.empty() {
		logger.Warn("Could not find post, reviewable or topic")
		return errorResult(http.StatusNotFound, "Content not found"), "not_found"
	}

	kind, ok := ParseActionKind(event.Action.Key)
	if !ok {
		logger.Warn("Unknown action key")
		return errorResult(http.StatusBadRequest, "Unknown action"), "unknown"
	}

	var destroyed int64
	if target.topic != nil {
		err = r.applyTopic(ctx, kind, target.topic)
	} else {
		err = r.apply(ctx, kind, contentID, target.post, event.Action.Message())
		if err == nil {
			destroyed, err = r.store.DestroyReviewables(ctx, contentID)
		}
	}
	if err != nil {
		logger.Error("Failed to apply webhook action", "error", err)
		return errorResult(http.StatusInternalServerError, "Failed to apply action"), kind.String()
	}

	details := fmt.Sprintf("webhook %s on %s, reviewables removed: %d", kind, target.contentType(), destroyed)
	if err := r.store.LogModAction(ctx, sys.ID, "webhook_"+strings.TrimPrefix(kind.String(), "discourse:"), contentID, details); err != nil {
		logger.Warn("Failed to write mod log entry", "error", err)
	}
	logger.Info("Applied webhook action", "content_type", target.contentType(), "post_found", target.post != nil, "reviewables_removed", destroyed)

	return WebhookResult{Status: http.StatusOK, Body: map[string]any{
		"status":       "success",
		"action":       kind.String(),
		"content_type": target.contentType(),
		"content_id":   contentID,
		"topic_id":     contextID,
	}}, kind.String()
}

// webhookTarget is what a content id resolved to. A post or its leftover
// reviewables win over a topic with the same id.
type webhookTarget struct {
	post        *models.Post
	reviewables []models.Reviewable
	topic       *models.Thread
}

func (t webhookTarget) empty() bool {
	return t.post == nil && len(t.reviewables) == 0 && t.topic == nil
}

func (t webhookTarget) contentType() string {
	if t.topic != nil {
		return "topic"
	}
	return "post"
}

func (r *Reconciler) resolve(ctx context.Context, id int64) (webhookTarget, error) {
	var target webhookTarget
	post, err := r.store.GetPostUnscoped(ctx, id)
	switch {
	case err == nil:
		target.post = post
	case !errors.Is(err, models.ErrNotFound):
		return target, fmt.Errorf("post: %w", err)
	}
	if target.reviewables, err = r.store.FindReviewables(ctx, id); err != nil {
		return target, fmt.Errorf("reviewables: %w", err)
	}
	if target.post != nil || len(target.reviewables) > 0 {
		return target, nil
	}

	topic, err := r.store.GetThread(ctx, id)
	switch {
	case err == nil:
		target.topic = topic
	case !errors.Is(err, models.ErrNotFound):
		return target, fmt.Errorf("topic: %w", err)
	}
	return target, nil
}

// apply performs the action on post, which is nil when only reviewables remain.
func (r *Reconciler) apply(ctx context.Context, kind ActionKind, postID int64, post *models.Post, message string) error {
	if post == nil {
		return nil
	}
	switch kind {
	case ActionDelete:
		r.snapshot("post", post.ID, post)
		if err := r.store.DeletePost(ctx, postID); err != nil && !errors.Is(err, models.ErrNotFound) {
			return fmt.Errorf("delete post: %w", err)
		}
	case ActionHide:
		if err := r.store.HidePost(ctx, postID, models.HiddenReasonModeratorAction, message); err != nil {
			return fmt.Errorf("hide post: %w", err)
		}
		if post.IsOp {
			if err := r.store.SetTopicVisible(ctx, post.ThreadID, false); err != nil {
				return fmt.Errorf("hide topic: %w", err)
			}
		}
	case ActionShow:
		if _, err := r.store.DeletePostActions(ctx, postID, models.PostActionModeratorAction); err != nil {
			return fmt.Errorf("remove moderator actions: %w", err)
		}
		if err := r.store.UnhidePost(ctx, postID); err != nil {
			return fmt.Errorf("show post: %w", err)
		}
		if post.IsOp {
			if err := r.store.SetTopicVisible(ctx, post.ThreadID, true); err != nil {
				return fmt.Errorf("show topic: %w", err)
			}
		}
	default:
		return fmt.Errorf("unhandled action %v", kind)
	}
	return nil
}

// applyTopic performs the action on a whole topic.
func (r *Reconciler) applyTopic(ctx context.Context, kind ActionKind, topic *models.Thread) error {
	switch kind {
	case ActionDelete:
		r.snapshot("topic", topic.ID, topic)
		if err := r.store.DeleteTopic(ctx, topic.ID); err != nil && !errors.Is(err, models.ErrNotFound) {
			return fmt.Errorf("delete topic: %w", err)
		}
	case ActionHide, ActionShow:
		if err := r.store.SetTopicVisible(ctx, topic.ID, kind == ActionShow); err != nil {
			return fmt.Errorf("set topic visibility: %w", err)
		}
	default:
		return fmt.Errorf("unhandled action %v", kind)
	}
	return nil
}

// snapshot writes a JSON snapshot of deleted content to the archive store.
func (r *Reconciler) snapshot(kind string, id int64, v any) {
	if r.archive == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		r.logger.Warn("Failed to encode content for archive", "content_type", kind, "id", id, "error", err)
		return
	}
	name := fmt.Sprintf("archive_%s_%d_%d.json", kind, id, r.now().Unix())
	if _, err := r.archive.SaveFile(name, data, "application/json"); err != nil {
		r.logger.Warn("Failed to archive deleted content", "content_type", kind, "id", id, "error", err)
	}
}

func signatureMessage(err error) string {
	if errors.Is(err, ErrSignatureMissing) {
		return "Signature required"
	}
	return "Signature verification failed"
}

func errorResult(status int, msg string) WebhookResult {
	return WebhookResult{Status: status, Body: map[string]any{"error": msg}}
}
