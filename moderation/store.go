package moderation

import (
	"context"

	"modgate/models"
)

// ReviewableChecker reports whether a post already has a reviewable.
type ReviewableChecker interface {
	ReviewableExists(ctx context.Context, postID int64) (bool, error)
}

// AccountStore looks up and creates user accounts.
type AccountStore interface {
	FindUserByUsername(ctx context.Context, username string) (*models.User, error)
	CreateUser(ctx context.Context, u *models.User) (int64, error)
}

// Store is the set of forum services the moderation core mutates.
// Lookups return models.ErrNotFound when nothing matches.
type Store interface {
	ReviewableChecker
	AccountStore

	// GetPostUnscoped finds a post even when it is hidden or its topic is
	// invisible or trashed.
	GetPostUnscoped(ctx context.Context, postID int64) (*models.Post, error)
	HidePost(ctx context.Context, postID int64, reason, message string) error
	UnhidePost(ctx context.Context, postID int64) error
	SetTopicVisible(ctx context.Context, threadID int64, visible bool) error
	// DeletePost permanently removes a post; removing the first post
	// removes its whole topic.
	DeletePost(ctx context.Context, postID int64) error
	// GetThread finds a topic including invisible and trashed ones.
	GetThread(ctx context.Context, threadID int64) (*models.Thread, error)
	// DeleteTopic permanently removes a topic with all of its posts.
	DeleteTopic(ctx context.Context, threadID int64) error

	FindReviewables(ctx context.Context, postID int64) ([]models.Reviewable, error)
	// CreateReviewable returns false when the post already had one.
	CreateReviewable(ctx context.Context, r *models.Reviewable) (bool, error)
	DestroyReviewables(ctx context.Context, postID int64) (int64, error)

	// CreatePostAction returns false when the same user already recorded
	// the same action on the post.
	CreatePostAction(ctx context.Context, a *models.PostAction) (bool, error)
	DeletePostActions(ctx context.Context, postID int64, actionType string) (int64, error)

	CreateNotification(ctx context.Context, n *models.Notification) error
	LogModAction(ctx context.Context, actorID int64, action string, targetID int64, details string) error
}
