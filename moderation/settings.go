package moderation

import (
	"fmt"
	"strconv"
	"strings"

	"modgate/config"
)

// Behavior selects how a flagged verdict is enforced.
type Behavior int

const (
	BehaviorBlockPost Behavior = iota + 1
	BehaviorQueueForReview
	BehaviorFlagPost
	BehaviorNothing
)

// ParseBehavior maps the settings value to a Behavior.
func ParseBehavior(s string) (Behavior, error) {
	switch strings.TrimSpace(s) {
	case "Block post":
		return BehaviorBlockPost, nil
	case "Queue for review":
		return BehaviorQueueForReview, nil
	case "Flag post":
		return BehaviorFlagPost, nil
	case "Nothing":
		return BehaviorNothing, nil
	}
	return 0, fmt.Errorf("unknown flagging behavior %q", s)
}

func (b Behavior) String() string {
	switch b {
	case BehaviorBlockPost:
		return "Block post"
	case BehaviorQueueForReview:
		return "Queue for review"
	case BehaviorFlagPost:
		return "Flag post"
	case BehaviorNothing:
		return "Nothing"
	}
	return "Behavior(" + strconv.Itoa(int(b)) + ")"
}

// Settings is the parsed form of config.Settings used by the pipeline.
type Settings struct {
	Enabled              bool
	Behavior             Behavior
	BlockMessage         string
	NotifyOnQueue        bool
	CheckPrivateMessages bool
	SkipGroups           map[int64]struct{}
	SkipCategories       map[int64]struct{}
	WebhookSecret        string
}

// NewSettings validates and parses the raw settings.
func NewSettings(cfg config.Settings) (Settings, error) {
	behavior, err := ParseBehavior(cfg.FlaggingBehavior)
	if err != nil {
		return Settings{}, err
	}
	groups, err := parseIDList(cfg.SkipGroups)
	if err != nil {
		return Settings{}, fmt.Errorf("invalid skip groups: %w", err)
	}
	categories, err := parseIDList(cfg.SkipCategories)
	if err != nil {
		return Settings{}, fmt.Errorf("invalid skip categories: %w", err)
	}
	return Settings{
		Enabled:              cfg.Enabled,
		Behavior:             behavior,
		BlockMessage:         cfg.BlockMessage,
		NotifyOnQueue:        cfg.NotifyOnQueue,
		CheckPrivateMessages: cfg.CheckPrivateMessages,
		SkipGroups:           groups,
		SkipCategories:       categories,
		WebhookSecret:        cfg.WebhookSecret,
	}, nil
}

// parseIDList parses a pipe separated list such as "3|10|12".
func parseIDList(s string) (map[int64]struct{}, error) {
	ids := make(map[int64]struct{})
	for _, part := range strings.Split(s, "|") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a numeric id", part)
		}
		ids[id] = struct{}{}
	}
	return ids, nil
}
