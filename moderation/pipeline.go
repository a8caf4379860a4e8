package moderation

import (
	"context"
	"log/slog"
	"time"
)

// Pipeline binds the forum's post lifecycle hooks to the moderation flow:
// eligibility, normalization, analysis and enforcement.
type Pipeline struct {
	settings    Settings
	normalizer  *Normalizer
	analyzer    Analyzer
	resolver    *Resolver
	reviewables ReviewableChecker
	timeout     time.Duration
	logger      *slog.Logger
}

// NewPipeline wires the pipeline components together.
func NewPipeline(settings Settings, normalizer *Normalizer, analyzer Analyzer, resolver *Resolver, reviewables ReviewableChecker, timeout time.Duration, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		settings:    settings,
		normalizer:  normalizer,
		analyzer:    analyzer,
		resolver:    resolver,
		reviewables: reviewables,
		timeout:     timeout,
		logger:      logger.With("component", "pipeline"),
	}
}

// Blocking reports whether verdicts are enforced before content is saved.
func (p *Pipeline) Blocking() bool {
	return p.settings.Behavior == BehaviorBlockPost
}

// BeforeCreate runs before a post is persisted. Only the BlockPost
// behavior acts here; a rejected result means the post must not be saved.
func (p *Pipeline) BeforeCreate(ctx context.Context, item *ContentItem) EnforcementResult {
	return p.run(ctx, "before_create_post", item, BehaviorBlockPost)
}

// PostCreated runs after a post was saved, for the queue and flag behaviors.
func (p *Pipeline) PostCreated(ctx context.Context, item *ContentItem) EnforcementResult {
	return p.run(ctx, "post_created", item, BehaviorQueueForReview, BehaviorFlagPost)
}

// PostEdited runs for every behavior once an edit has an id.
func (p *Pipeline) PostEdited(ctx context.Context, item *ContentItem) EnforcementResult {
	return p.run(ctx, "post_edited", item, BehaviorBlockPost, BehaviorQueueForReview, BehaviorFlagPost, BehaviorNothing)
}

func (p *Pipeline) run(ctx context.Context, hook string, item *ContentItem, behaviors ...Behavior) EnforcementResult {
	allowed := EnforcementResult{Decision: DecisionAllowed}
	if !p.handles(behaviors) {
		return allowed
	}
	logger := p.logger.With("hook", hook)
	if !ShouldModerate(ctx, item, p.settings, p.reviewables, logger) {
		return allowed
	}

	req := p.normalizer.BuildRequest(item)
	outcome := AnalyzeFailOpen(ctx, p.analyzer, req, p.timeout, logger)
	return p.resolver.Resolve(ctx, item, outcome, p.settings.Behavior)
}

func (p *Pipeline) handles(behaviors []Behavior) bool {
	for _, b := range behaviors {
		if b == p.settings.Behavior {
			return true
		}
	}
	return false
}
