package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"modgate/database"
	"modgate/models"
	"modgate/moderation"
	"modgate/utils"
)

const testWebhookSecret = "whsec-test"

// MockApplication holds dependencies for handler tests.
type MockApplication struct {
	db             *database.DatabaseService
	pipeline       *moderation.Pipeline
	reconciler     *moderation.Reconciler
	storage        *utils.LocalStorage
	rateLimiter    *models.RateLimiter
	webhookLimiter *models.RateLimiter
	tasks          *models.TaskGroup
	logger         *slog.Logger
	uploadDir      string
	archiveDir     string
}

func (a *MockApplication) DB() *database.DatabaseService       { return a.db }
func (a *MockApplication) Pipeline() *moderation.Pipeline      { return a.pipeline }
func (a *MockApplication) Reconciler() *moderation.Reconciler  { return a.reconciler }
func (a *MockApplication) Storage() models.StorageService      { return a.storage }
func (a *MockApplication) RateLimiter() *models.RateLimiter    { return a.rateLimiter }
func (a *MockApplication) WebhookLimiter() *models.RateLimiter { return a.webhookLimiter }
func (a *MockApplication) Tasks() *models.TaskGroup            { return a.tasks }
func (a *MockApplication) Logger() *slog.Logger                { return a.logger }
func (a *MockApplication) UploadDir() string                   { return a.uploadDir }

// stubAnalyzer answers every analysis with the current flagged state.
type stubAnalyzer struct {
	flagged atomic.Bool
	err     error
	calls   atomic.Int32

	mu   sync.Mutex
	last moderation.AnalysisRequest
}

func (s *stubAnalyzer) Analyze(_ context.Context, req moderation.AnalysisRequest) (moderation.Outcome, error) {
	s.calls.Add(1)
	s.mu.Lock()
	s.last = req
	s.mu.Unlock()
	if s.err != nil {
		return moderation.Outcome{}, s.err
	}
	return moderation.Outcome{Approved: !s.flagged.Load()}, nil
}

func (s *stubAnalyzer) lastRequest() moderation.AnalysisRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// setupTestApp creates a full application stack with a test database for integration testing.
func setupTestApp(t *testing.T, behavior moderation.Behavior, analyzer moderation.Analyzer) *MockApplication {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	dir := t.TempDir()

	db, err := database.InitDB(filepath.Join(dir, "test.db?_journal_mode=WAL&_foreign_keys=on"), logger)
	if err != nil {
		t.Fatalf("Failed to initialize test database: %v", err)
	}
	uploadDir := filepath.Join(dir, "uploads")
	storage, err := utils.NewLocalStorage(uploadDir)
	if err != nil {
		t.Fatal(err)
	}
	archiveDir := filepath.Join(dir, "archive")
	archive, err := utils.NewLocalStorage(archiveDir)
	if err != nil {
		t.Fatal(err)
	}
	db.UseStorage(storage)

	settings := moderation.Settings{
		Enabled:       true,
		Behavior:      behavior,
		BlockMessage:  "Blocked by filter.",
		NotifyOnQueue: true,
	}
	normalizer, err := moderation.NewNormalizer("https://forum.example.com")
	if err != nil {
		t.Fatal(err)
	}
	system := moderation.NewSystemAccount(db, logger)
	resolver := moderation.NewResolver(db, system, settings, nil, logger)

	app := &MockApplication{
		db:             db,
		pipeline:       moderation.NewPipeline(settings, normalizer, analyzer, resolver, db, time.Second, logger),
		reconciler:     moderation.NewReconciler(db, system, archive, testWebhookSecret, logger),
		storage:        storage,
		rateLimiter:    models.NewRateLimiter(time.Millisecond, 100, time.Hour, 24*time.Hour),
		webhookLimiter: models.NewRateLimiter(time.Millisecond, 100, time.Hour, 24*time.Hour),
		tasks:          &models.TaskGroup{},
		logger:         logger,
		uploadDir:      uploadDir,
		archiveDir:     archiveDir,
	}
	utils.IPSalt = "test-salt"

	t.Cleanup(func() {
		app.tasks.Wait()
		app.rateLimiter.Stop()
		app.webhookLimiter.Stop()
		db.Close()
		utils.IPSalt = ""
	})
	return app
}

func createTestUser(t *testing.T, app *MockApplication, username string, groups ...int64) int64 {
	t.Helper()
	id, err := app.db.CreateUser(context.Background(), &models.User{Username: username, Active: true, GroupIDs: groups})
	if err != nil {
		t.Fatalf("Failed to create user %s: %v", username, err)
	}
	return id
}

func newPostRequest(t *testing.T, fields map[string]string, image []byte) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if image != nil {
		part, err := writer.CreateFormFile("image", "upload.png")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := part.Write(image); err != nil {
			t.Fatal(err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest("POST", "/posts", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

// createTopic posts a new topic and returns the post and topic ids.
func createTopic(t *testing.T, app *MockApplication, userID int64, title, raw string) (postID, topicID int64) {
	t.Helper()
	rr := serve(app, newPostRequest(t, map[string]string{
		"user_id": strconv.FormatInt(userID, 10),
		"title":   title,
		"raw":     raw,
	}, nil))
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d. Body: %s", rr.Code, rr.Body.String())
	}
	resp := decodeBody(t, rr)
	return int64(resp["post_id"].(float64)), int64(resp["topic_id"].(float64))
}

func serve(app *MockApplication, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	SetupRouter(app).ServeHTTP(rr, req)
	return rr
}

// modRequest builds a request that arrives from the LAN.
func modRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "127.0.0.1:4000"
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	return req
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rr.Body.String(), err)
	}
	return resp
}
