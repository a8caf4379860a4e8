package moderation

import (
	"context"
	"testing"

	"modgate/models"
)

func eligibleItem() *ContentItem {
	return &ContentItem{
		ID:             10,
		TopicID:        5,
		AuthorID:       42,
		CategoryID:     1,
		Raw:            "hello world",
		AuthorGroupIDs: []int64{1, 2},
	}
}

func enabledSettings() Settings {
	return Settings{
		Enabled:        true,
		Behavior:       BehaviorQueueForReview,
		BlockMessage:   "blocked",
		SkipGroups:     map[int64]struct{}{},
		SkipCategories: map[int64]struct{}{},
	}
}

func TestShouldModerate(t *testing.T) {
	ctx := context.Background()
	logger := discardLogger()

	testCases := []struct {
		name     string
		mutate   func(*ContentItem, *Settings)
		expected bool
	}{
		{"Eligible post", func(*ContentItem, *Settings) {}, true},
		{"Moderation disabled", func(_ *ContentItem, s *Settings) { s.Enabled = false }, false},
		{"Content has errors", func(c *ContentItem, _ *Settings) { c.AddError("too short") }, false},
		{"System author", func(c *ContentItem, _ *Settings) { c.AuthorID = -1 }, false},
		{"Missing author", func(c *ContentItem, _ *Settings) { c.AuthorID = 0 }, false},
		{"Trashed topic", func(c *ContentItem, _ *Settings) { c.TopicTrashed = true }, false},
		{"Missing topic", func(c *ContentItem, _ *Settings) { c.TopicMissing = true }, false},
		{"Skipped group", func(_ *ContentItem, s *Settings) { s.SkipGroups = map[int64]struct{}{2: {}} }, false},
		{"Unrelated skip group", func(_ *ContentItem, s *Settings) { s.SkipGroups = map[int64]struct{}{9: {}} }, true},
		{"Skipped category", func(_ *ContentItem, s *Settings) { s.SkipCategories = map[int64]struct{}{1: {}} }, false},
		{"Private message unchecked", func(c *ContentItem, _ *Settings) { c.IsPrivateMessage = true }, false},
		{"Private message checked", func(c *ContentItem, s *Settings) {
			c.IsPrivateMessage = true
			s.CheckPrivateMessages = true
		}, true},
		{"Unsaved post", func(c *ContentItem, _ *Settings) { c.ID = 0 }, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			item, s := eligibleItem(), enabledSettings()
			tc.mutate(item, &s)
			if got := ShouldModerate(ctx, item, s, newMemStore(), logger); got != tc.expected {
				t.Errorf("Expected %v, got %v", tc.expected, got)
			}
		})
	}

	t.Run("Nil content", func(t *testing.T) {
		if ShouldModerate(ctx, nil, enabledSettings(), newMemStore(), logger) {
			t.Error("Expected nil content to be skipped")
		}
	})

	t.Run("Existing reviewable", func(t *testing.T) {
		store := newMemStore()
		store.CreateReviewable(ctx, &models.Reviewable{TargetPostID: 10})
		if ShouldModerate(ctx, eligibleItem(), enabledSettings(), store, logger) {
			t.Error("Expected post with a reviewable to be skipped")
		}
		// The check is repeatable and side-effect free.
		if ShouldModerate(ctx, eligibleItem(), enabledSettings(), store, logger) {
			t.Error("Expected repeated check to give the same answer")
		}
	})
}

func TestShouldModerateNonPositiveAuthors(t *testing.T) {
	for _, author := range []int64{0, -1, -2, -100} {
		item := eligibleItem()
		item.AuthorID = author
		if ShouldModerate(context.Background(), item, enabledSettings(), newMemStore(), discardLogger()) {
			t.Errorf("Expected author %d to be skipped", author)
		}
	}
}

func TestShouldModerateAnyGroupIntersection(t *testing.T) {
	s := enabledSettings()
	s.SkipGroups = map[int64]struct{}{3: {}, 7: {}, 11: {}}
	for _, groups := range [][]int64{{3}, {7}, {1, 11}, {3, 7, 11}, {4, 5, 6, 7}} {
		item := eligibleItem()
		item.AuthorGroupIDs = groups
		if ShouldModerate(context.Background(), item, s, newMemStore(), discardLogger()) {
			t.Errorf("Expected groups %v to be skipped", groups)
		}
	}
}
