// modgate/config/config.go
package config

import (
	"log/slog"
	"os"
	"time"

	"modgate/utils"

	"github.com/subosito/gotenv"
)

const (
	AppVersion = "0.9.0"

	// Form & Post Limits
	MaxTitleLen = 255
	MaxRawLen   = 32000

	// File Upload Limits
	MaxFileSize     = 15 * 1024 * 1024 // 15MB
	MaxWidth        = 8000
	MaxHeight       = 8000
	ThumbnailWidth  = 250
	ThumbnailHeight = 250

	// Webhook bodies larger than this are rejected before signature checks.
	MaxWebhookBody = 1 << 20

	// Rate Limiting Defaults
	DefaultRateLimitEvery  = "30s"
	DefaultRateLimitBurst  = 3
	DefaultRateLimitPrune  = "1h"
	DefaultRateLimitExpire = "24h"

	// The dashboard may deliver bursts after bulk actions.
	DefaultWebhookRateEvery = "100ms"
	DefaultWebhookRateBurst = 50

	// Moderation Defaults
	DefaultAPIBaseURL       = "https://moderationapi.com/api/v1"
	DefaultFlaggingBehavior = "Queue for review"
	DefaultBlockMessage     = "Your post was blocked by our content filter."
	DefaultAnalysisTimeout  = "10s"
	DefaultBaseURL          = "http://localhost:8080"

	EnvPrefix = "MODGATE_"
)

// Settings is the moderation settings surface. It is read once at startup.
type Settings struct {
	Enabled              bool
	APIKey               string
	APIBaseURL           string
	WebhookSecret        string
	FlaggingBehavior     string
	BlockMessage         string
	NotifyOnQueue        bool
	CheckPrivateMessages bool
	SkipGroups           string // pipe separated group ids, e.g. "3|10"
	SkipCategories       string // pipe separated category ids
	BaseURL              string
	AnalysisTimeout      time.Duration
}

// LoadDotEnv loads an optional .env file. A missing file is not an error.
func LoadDotEnv(path string, logger *slog.Logger) {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		return
	}
	if err := gotenv.Load(path); err != nil {
		logger.Warn("Failed to load env file, using OS environment", "path", path, "error", err)
		return
	}
	logger.Info("Loaded environment file", "path", path)
}

// LoadSettings reads the moderation settings from MODGATE_* variables.
func LoadSettings(logger *slog.Logger) Settings {
	env := func(key, fallback string) string { return utils.GetEnv(EnvPrefix+key, fallback) }
	flag := func(key string) bool { return utils.GetEnvBool(EnvPrefix+key, false, logger) }

	return Settings{
		Enabled:              flag("ENABLED"),
		APIKey:               env("API_KEY", ""),
		APIBaseURL:           env("API_BASE_URL", DefaultAPIBaseURL),
		WebhookSecret:        env("WEBHOOK_SECRET", ""),
		FlaggingBehavior:     env("FLAGGING_BEHAVIOR", DefaultFlaggingBehavior),
		BlockMessage:         env("BLOCK_MESSAGE", DefaultBlockMessage),
		NotifyOnQueue:        flag("NOTIFY_ON_QUEUE"),
		CheckPrivateMessages: flag("CHECK_PRIVATE_MESSAGES"),
		SkipGroups:           env("SKIP_GROUPS", ""),
		SkipCategories:       env("SKIP_CATEGORIES", ""),
		BaseURL:              env("BASE_URL", DefaultBaseURL),
		AnalysisTimeout:      utils.GetEnvDuration(EnvPrefix+"ANALYSIS_TIMEOUT", DefaultAnalysisTimeout, logger),
	}
}
