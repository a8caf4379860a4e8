// modgate/main.go
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"modgate/config"
	"modgate/database"
	"modgate/handlers"
	"modgate/models"
	"modgate/moderation"
	"modgate/utils"

	"github.com/lmittmann/tint"
)

type Application struct {
	db             *database.DatabaseService
	pipeline       *moderation.Pipeline
	reconciler     *moderation.Reconciler
	storage        models.StorageService
	rateLimiter    *models.RateLimiter
	webhookLimiter *models.RateLimiter
	tasks          *models.TaskGroup
	logger         *slog.Logger
	uploadDir      string
}

// Methods to satisfy the handlers.App interface
func (a *Application) DB() *database.DatabaseService       { return a.db }
func (a *Application) Pipeline() *moderation.Pipeline      { return a.pipeline }
func (a *Application) Reconciler() *moderation.Reconciler  { return a.reconciler }
func (a *Application) Storage() models.StorageService      { return a.storage }
func (a *Application) RateLimiter() *models.RateLimiter    { return a.rateLimiter }
func (a *Application) WebhookLimiter() *models.RateLimiter { return a.webhookLimiter }
func (a *Application) Tasks() *models.TaskGroup            { return a.tasks }
func (a *Application) Logger() *slog.Logger                { return a.logger }
func (a *Application) UploadDir() string                   { return a.uploadDir }

// newLogger builds the process logger: JSON by default, coloured text when
// MODGATE_LOG_FORMAT=text.
func newLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(utils.GetEnv("MODGATE_LOG_LEVEL", "info"))); err != nil {
		level = slog.LevelInfo
	}
	if strings.EqualFold(utils.GetEnv("MODGATE_LOG_FORMAT", "json"), "text") {
		return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		}))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

// newStorage picks S3 or local disk for attachments, and a private store
// for snapshots of posts deleted through the webhook.
func newStorage(logger *slog.Logger) (files, archive models.StorageService, uploadDir string, err error) {
	archiveDir := utils.GetEnv("MODGATE_ARCHIVE_DIR", "./archive")
	if archive, err = utils.NewLocalStorage(archiveDir); err != nil {
		return nil, nil, "", err
	}

	if utils.GetEnvBool("MODGATE_S3_ENABLED", false, logger) {
		endpoint := utils.GetEnv("MODGATE_S3_ENDPOINT", "")
		accessKey := utils.GetEnv("MODGATE_S3_ACCESS_KEY", "")
		secretKey := utils.GetEnv("MODGATE_S3_SECRET_KEY", "")
		bucket := utils.GetEnv("MODGATE_S3_BUCKET", "")
		region := utils.GetEnv("MODGATE_S3_REGION", "us-east-1")
		publicURL := utils.GetEnv("MODGATE_S3_PUBLIC_URL", "")
		useSSL := utils.GetEnvBool("MODGATE_S3_USE_SSL", true, logger)

		s3, err := utils.NewS3Storage(endpoint, accessKey, secretKey, bucket, region, publicURL, useSSL)
		if err != nil {
			return nil, nil, "", fmt.Errorf("failed to initialize S3 storage: %w", err)
		}
		logger.Info("S3 Storage initialized", "endpoint", endpoint, "bucket", bucket)

		if archiveBucket := utils.GetEnv("MODGATE_S3_ARCHIVE_BUCKET", ""); archiveBucket != "" {
			if archive, err = utils.NewS3Storage(endpoint, accessKey, secretKey, archiveBucket, region, "", useSSL); err != nil {
				return nil, nil, "", fmt.Errorf("failed to initialize S3 archive storage: %w", err)
			}
			logger.Info("S3 archive storage initialized", "bucket", archiveBucket)
		}
		return s3, archive, "", nil
	}

	uploadDir = utils.GetEnv("MODGATE_UPLOAD_DIR", "./uploads")
	local, err := utils.NewLocalStorage(uploadDir)
	if err != nil {
		return nil, nil, "", err
	}
	logger.Info("Local Storage initialized", "dir", uploadDir, "archive_dir", archiveDir)
	return local, archive, uploadDir, nil
}

// newModeration wires the moderation pipeline and the webhook reconciler
// onto the forum store.
func newModeration(cfg config.Settings, db *database.DatabaseService, archive models.StorageService, logger *slog.Logger) (*moderation.Pipeline, *moderation.Reconciler, error) {
	settings, err := moderation.NewSettings(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid moderation settings: %w", err)
	}
	normalizer, err := moderation.NewNormalizer(cfg.BaseURL)
	if err != nil {
		return nil, nil, err
	}

	system := moderation.NewSystemAccount(db, logger)
	base := strings.TrimSuffix(cfg.BaseURL, "/")
	postURL := func(item *moderation.ContentItem) string {
		return fmt.Sprintf("%s/t/%d/%d", base, item.TopicID, item.ID)
	}
	analyzer := moderation.NewHTTPAnalyzer(cfg.APIBaseURL, cfg.APIKey, logger.With("component", "analysis"))
	resolver := moderation.NewResolver(db, system, settings, postURL, logger)
	pipeline := moderation.NewPipeline(settings, normalizer, analyzer, resolver, db, cfg.AnalysisTimeout, logger)
	reconciler := moderation.NewReconciler(db, system, archive, cfg.WebhookSecret, logger)

	if settings.Enabled && cfg.APIKey == "" {
		logger.Warn("Moderation is enabled but MODGATE_API_KEY is empty; every post will be allowed")
	}
	if !reconciler.SignatureRequired() {
		logger.Warn("MODGATE_WEBHOOK_SECRET is not set; webhook signatures will not be verified")
	}
	logger.Info("Moderation configured", "enabled", settings.Enabled, "behavior", settings.Behavior.String())
	return pipeline, reconciler, nil
}

func main() {
	bootLogger := newLogger()
	config.LoadDotEnv(os.Getenv("MODGATE_ENV_FILE"), bootLogger)
	logger := newLogger()
	slog.SetDefault(logger)

	saltBytes := make([]byte, 32)
	if _, err := rand.Read(saltBytes); err != nil {
		logger.Error("Failed to generate IP salt", "error", err)
		os.Exit(1)
	}
	utils.IPSalt = hex.EncodeToString(saltBytes)

	proxies, err := utils.ParseTrustedProxies(utils.GetEnv("MODGATE_TRUSTED_PROXIES", utils.DefaultTrustedProxies))
	if err != nil {
		logger.Error("Invalid MODGATE_TRUSTED_PROXIES", "error", err)
		os.Exit(1)
	}
	utils.TrustedProxies = proxies

	// --- External Configuration ---
	port := utils.GetEnv("MODGATE_PORT", "8080")
	dbPath := utils.GetEnv("MODGATE_DB_PATH", "./modgate.db?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	utils.BackupDir = utils.GetEnv("MODGATE_BACKUP_DIR", "./backups")
	if err := os.MkdirAll(utils.BackupDir, 0755); err != nil {
		logger.Error("FATAL: Could not create backup directory", "path", utils.BackupDir, "error", err)
		os.Exit(1)
	}

	rateLimitEvery := utils.GetEnvDuration("MODGATE_RATE_EVERY", config.DefaultRateLimitEvery, logger)
	rateLimitBurst := utils.GetEnvInt("MODGATE_RATE_BURST", config.DefaultRateLimitBurst, logger)
	rateLimitPrune := utils.GetEnvDuration("MODGATE_RATE_PRUNE", config.DefaultRateLimitPrune, logger)
	rateLimitExpire := utils.GetEnvDuration("MODGATE_RATE_EXPIRE", config.DefaultRateLimitExpire, logger)
	webhookEvery := utils.GetEnvDuration("MODGATE_WEBHOOK_RATE_EVERY", config.DefaultWebhookRateEvery, logger)
	webhookBurst := utils.GetEnvInt("MODGATE_WEBHOOK_RATE_BURST", config.DefaultWebhookRateBurst, logger)

	dbService, err := database.InitDB(dbPath, logger)
	if err != nil {
		logger.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbService.Close(); err != nil {
			logger.Error("Failed to close database", "error", err)
		}
	}()

	storageService, archive, uploadDir, err := newStorage(logger)
	if err != nil {
		logger.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	dbService.UseStorage(storageService)

	pipeline, reconciler, err := newModeration(config.LoadSettings(logger), dbService, archive, logger)
	if err != nil {
		logger.Error("Failed to configure moderation", "error", err)
		os.Exit(1)
	}

	app := &Application{
		db:             dbService,
		pipeline:       pipeline,
		reconciler:     reconciler,
		storage:        storageService,
		rateLimiter:    models.NewRateLimiter(rateLimitEvery, rateLimitBurst, rateLimitPrune, rateLimitExpire),
		webhookLimiter: models.NewRateLimiter(webhookEvery, webhookBurst, rateLimitPrune, rateLimitExpire),
		tasks:          &models.TaskGroup{},
		logger:         logger,
		uploadDir:      uploadDir,
	}
	defer app.rateLimiter.Stop()
	defer app.webhookLimiter.Stop()

	// --- Graceful Shutdown ---
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           handlers.SetupRouter(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed unexpectedly", "error", err)
			os.Exit(1)
		}
	}()

	logger.Info("modgate server started successfully",
		"version", config.AppVersion,
		"address", "http://localhost:"+port,
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}
	// Hooks started after a response still hold posts to moderate.
	app.tasks.Wait()
	logger.Info("Server exiting")
}
