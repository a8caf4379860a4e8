package moderation

import (
	"context"
	"log/slog"
)

// ShouldModerate decides whether item must be submitted for analysis.
// It has no side effects and may be called repeatedly.
func ShouldModerate(ctx context.Context, item *ContentItem, s Settings, reviewables ReviewableChecker, logger *slog.Logger) bool {
	if item == nil || !s.Enabled {
		logger.Debug("Skipping moderation - content is absent or moderation not enabled")
		return false
	}
	logger = logger.With("post_id", item.ID)

	if item.Invalid() {
		logger.Debug("Skipping moderation - content has errors", "errors", item.Errors)
		return false
	}

	// system messages and posts without an author
	if item.AuthorID <= 0 {
		logger.Debug("Skipping moderation - system message or no user")
		return false
	}

	if item.TopicMissing || item.TopicTrashed {
		logger.Debug("Skipping moderation - topic is trashed or missing")
		return false
	}

	if intersects(item.AuthorGroupIDs, s.SkipGroups) {
		logger.Debug("Skipping moderation - user is in excluded groups")
		return false
	}

	if _, skip := s.SkipCategories[item.CategoryID]; skip && item.CategoryID > 0 {
		logger.Debug("Skipping moderation - category is excluded", "category_id", item.CategoryID)
		return false
	}

	if item.IsPrivateMessage && !s.CheckPrivateMessages {
		logger.Debug("Skipping moderation - private message and checking disabled")
		return false
	}

	if item.ID > 0 && reviewables != nil {
		exists, err := reviewables.ReviewableExists(ctx, item.ID)
		if err != nil {
			// Reviewable creation is idempotent, so a failed lookup still moderates.
			logger.Warn("Failed to check for existing reviewable", "error", err)
		} else if exists {
			logger.Debug("Skipping moderation - reviewable already exists for post")
			return false
		}
	}

	logger.Debug("Post will be moderated")
	return true
}

func intersects(ids []int64, set map[int64]struct{}) bool {
	if len(set) == 0 {
		return false
	}
	for _, id := range ids {
		if _, ok := set[id]; ok {
			return true
		}
	}
	return false
}
