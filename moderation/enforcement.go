package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"modgate/models"
)

// Decision is what the resolver did with a verdict.
type Decision int

const (
	DecisionAllowed Decision = iota
	DecisionRejected
	DecisionQueued
	DecisionFlagged
	DecisionRecorded
)

func (d Decision) String() string {
	switch d {
	case DecisionAllowed:
		return "allowed"
	case DecisionRejected:
		return "rejected"
	case DecisionQueued:
		return "queued"
	case DecisionFlagged:
		return "flagged"
	case DecisionRecorded:
		return "recorded"
	}
	return fmt.Sprintf("Decision(%d)", int(d))
}

// EnforcementResult reports the decision and any side-effect failure.
type EnforcementResult struct {
	Decision Decision
	Err      error
}

// Rejected reports whether the caller must refuse to persist the content.
func (r EnforcementResult) Rejected() bool {
	return r.Decision == DecisionRejected
}

const (
	FlagMessage          = "Flagged by Moderation API"
	QueuedNotificationID = "moderation_api_post_queued_for_review"
)

// Resolver enforces analysis outcomes.
type Resolver struct {
	store    Store
	system   *SystemAccount
	settings Settings
	logger   *slog.Logger
	postURL  func(item *ContentItem) string
}

// NewResolver creates a Resolver. postURL builds the link sent in queue notifications.
func NewResolver(store Store, system *SystemAccount, settings Settings, postURL func(*ContentItem) string, logger *slog.Logger) *Resolver {
	return &Resolver{
		store:    store,
		system:   system,
		settings: settings,
		postURL:  postURL,
		logger:   logger.With("component", "enforcement"),
	}
}

// Resolve applies behavior to item when outcome is not approved.
func (r *Resolver) Resolve(ctx context.Context, item *ContentItem, outcome Outcome, behavior Behavior) EnforcementResult {
	if outcome.Approved {
		return EnforcementResult{Decision: DecisionAllowed}
	}

	var res EnforcementResult
	switch behavior {
	case BehaviorBlockPost:
		item.AddError(r.settings.BlockMessage)
		res = EnforcementResult{Decision: DecisionRejected}
	case BehaviorQueueForReview:
		res = EnforcementResult{Decision: DecisionQueued, Err: r.queueForReview(ctx, item)}
	case BehaviorFlagPost:
		res = EnforcementResult{Decision: DecisionFlagged, Err: r.flag(ctx, item)}
	case BehaviorNothing:
		res = EnforcementResult{Decision: DecisionRecorded}
	default:
		res = EnforcementResult{Decision: DecisionAllowed, Err: fmt.Errorf("unhandled behavior %v", behavior)}
	}

	enforcementCount.WithLabelValues(behavior.String(), res.Decision.String()).Inc()
	logger := r.logger.With("post_id", item.ID, "behavior", behavior.String(), "decision", res.Decision.String())
	if res.Err != nil {
		logger.Error("Failed to enforce moderation result", "error", res.Err)
	} else {
		logger.Info("Content flagged by moderation API")
	}
	if item.ID > 0 && res.Decision != DecisionRejected {
		r.logAction(ctx, "moderation_"+res.Decision.String(), item.ID, behavior.String())
	}
	return res
}

func (r *Resolver) queueForReview(ctx context.Context, item *ContentItem) error {
	if item.ID <= 0 {
		return errors.New("cannot queue content that has not been saved")
	}
	sys, err := r.system.Get(ctx)
	if err != nil {
		return err
	}

	if err := r.store.HidePost(ctx, item.ID, models.HiddenReasonQueuedForReview, ""); err != nil {
		return fmt.Errorf("failed to hide post: %w", err)
	}
	if item.IsFirstPost && item.TopicID > 0 {
		if err := r.store.SetTopicVisible(ctx, item.TopicID, false); err != nil {
			return fmt.Errorf("failed to hide topic: %w", err)
		}
	}

	created, err := r.store.CreateReviewable(ctx, &models.Reviewable{
		TargetPostID:          item.ID,
		TargetCreatedBy:       item.AuthorID,
		CreatedBy:             sys.ID,
		Raw:                   item.Raw,
		PotentialSpam:         true,
		ReviewableByModerator: true,
		Status:                models.ReviewableStatusPending,
	})
	if err != nil {
		return fmt.Errorf("failed to create reviewable: %w", err)
	}
	if !created || !r.settings.NotifyOnQueue {
		return nil
	}

	link := ""
	if r.postURL != nil {
		link = r.postURL(item)
	}
	err = r.store.CreateNotification(ctx, &models.Notification{
		UserID:   item.AuthorID,
		Template: QueuedNotificationID,
		Params: map[string]string{
			"topic_title": item.TopicTitle,
			"post_link":   link,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to notify author: %w", err)
	}
	return nil
}

func (r *Resolver) flag(ctx context.Context, item *ContentItem) error {
	if item.ID <= 0 {
		return errors.New("cannot flag content that has not been saved")
	}
	sys, err := r.system.Get(ctx)
	if err != nil {
		return err
	}
	created, err := r.store.CreatePostAction(ctx, &models.PostAction{
		PostID:     item.ID,
		UserID:     sys.ID,
		ActionType: models.PostActionInappropriate,
		Message:    FlagMessage,
	})
	if err != nil {
		return fmt.Errorf("failed to flag post: %w", err)
	}
	if !created {
		r.logger.Debug("Post already flagged by system account", "post_id", item.ID)
	}
	return nil
}

func (r *Resolver) logAction(ctx context.Context, action string, targetID int64, details string) {
	sys, err := r.system.Get(ctx)
	if err != nil {
		r.logger.Warn("Skipping mod log entry, system account unavailable", "action", action, "error", err)
		return
	}
	if err := r.store.LogModAction(ctx, sys.ID, action, targetID, details); err != nil {
		r.logger.Warn("Failed to write mod log entry", "action", action, "error", err)
	}
}
