package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadSettingsDefaults(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	s := LoadSettings(logger)

	if s.Enabled {
		t.Error("Expected moderation to be disabled by default")
	}
	if s.FlaggingBehavior != DefaultFlaggingBehavior {
		t.Errorf("Expected default behavior %q, got %q", DefaultFlaggingBehavior, s.FlaggingBehavior)
	}
	if s.AnalysisTimeout != 10*time.Second {
		t.Errorf("Expected 10s analysis timeout, got %v", s.AnalysisTimeout)
	}
}

func TestLoadSettingsFromEnv(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	t.Setenv("MODGATE_ENABLED", "true")
	t.Setenv("MODGATE_API_KEY", "proj_key")
	t.Setenv("MODGATE_WEBHOOK_SECRET", "shh")
	t.Setenv("MODGATE_FLAGGING_BEHAVIOR", "Flag post")
	t.Setenv("MODGATE_SKIP_GROUPS", "3|10")
	t.Setenv("MODGATE_ANALYSIS_TIMEOUT", "2s")
	t.Setenv("MODGATE_NOTIFY_ON_QUEUE", "not-a-bool")

	s := LoadSettings(logger)
	if !s.Enabled || s.APIKey != "proj_key" || s.WebhookSecret != "shh" {
		t.Errorf("Settings not read from environment: %+v", s)
	}
	if s.FlaggingBehavior != "Flag post" {
		t.Errorf("Expected 'Flag post', got %q", s.FlaggingBehavior)
	}
	if s.SkipGroups != "3|10" {
		t.Errorf("Expected skip groups '3|10', got %q", s.SkipGroups)
	}
	if s.AnalysisTimeout != 2*time.Second {
		t.Errorf("Expected 2s timeout, got %v", s.AnalysisTimeout)
	}
	if s.NotifyOnQueue {
		t.Error("Invalid boolean should fall back to the default")
	}
}

func TestLoadSettingsInvalidTimeout(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	t.Setenv("MODGATE_ANALYSIS_TIMEOUT", "0s")
	t.Setenv("MODGATE_ENABLED", "")
	s := LoadSettings(logger)
	if s.AnalysisTimeout != 10*time.Second {
		t.Errorf("Expected non-positive timeout to fall back to 10s, got %v", s.AnalysisTimeout)
	}
	if s.Enabled {
		t.Error("Expected empty flag to use the default")
	}
}

func TestLoadDotEnv(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("MODGATE_TEST_DOTENV=loaded\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("MODGATE_TEST_DOTENV") })

	LoadDotEnv(path, logger)
	if got := os.Getenv("MODGATE_TEST_DOTENV"); got != "loaded" {
		t.Errorf("Expected value from .env file, got %q", got)
	}

	// Missing files are silently ignored.
	LoadDotEnv(filepath.Join(dir, "missing.env"), logger)
}
