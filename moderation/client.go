package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"

	"modgate/config"
)

// Analyzer calls the external moderation service.
type Analyzer interface {
	Analyze(ctx context.Context, req AnalysisRequest) (Outcome, error)
}

// ErrorKind classifies analysis failures.
type ErrorKind string

const (
	ErrKindConfig    ErrorKind = "config"
	ErrKindTransport ErrorKind = "transport"
	ErrKindStatus    ErrorKind = "status"
	ErrKindDecode    ErrorKind = "decode"
	ErrKindInternal  ErrorKind = "internal"
)

// AnalysisError is returned when no verdict could be obtained.
type AnalysisError struct {
	Kind       ErrorKind
	StatusCode int
	Body       string
	Err        error
}

func (e *AnalysisError) Error() string {
	msg := "moderation api " + string(e.Kind) + " error"
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AnalysisError) Unwrap() error { return e.Err }

// FailOpen converts an analysis result into an Outcome. Any error approves
// the content so that a moderation outage never blocks the forum.
func FailOpen(outcome Outcome, err error) Outcome {
	if err != nil {
		return approved
	}
	return outcome
}

// AnalyzeFailOpen runs the analyzer under timeout and applies FailOpen.
// Failures, including panics inside the analyzer, are logged and approved.
func AnalyzeFailOpen(ctx context.Context, a Analyzer, req AnalysisRequest, timeout time.Duration, logger *slog.Logger) Outcome {
	outcome, err := analyzeSafely(ctx, a, req, timeout)
	if err != nil {
		var aerr *AnalysisError
		if errors.As(err, &aerr) {
			logger.Error("Moderation API error, approving content",
				"kind", aerr.Kind, "status", aerr.StatusCode, "response_body", aerr.Body,
				"content_id", req.ContentID, "error", err)
		} else {
			logger.Error("Unexpected error in moderation service, approving content", "content_id", req.ContentID, "error", err)
		}
	}
	return FailOpen(outcome, err)
}

func analyzeSafely(ctx context.Context, a Analyzer, req AnalysisRequest, timeout time.Duration) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &AnalysisError{Kind: ErrKindInternal, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	outcome, err = a.Analyze(ctx, req)
	analysisDuration.Observe(time.Since(start).Seconds())
	switch {
	case err != nil:
		analysisCount.WithLabelValues("error").Inc()
	case outcome.Approved:
		analysisCount.WithLabelValues("approved").Inc()
	default:
		analysisCount.WithLabelValues("flagged").Inc()
	}
	return outcome, err
}

// leveledSlog adapts slog to retryablehttp. Request errors are logged at
// WARN because they are retried.
type leveledSlog struct {
	inner *slog.Logger
}

func (l leveledSlog) Error(msg string, keysAndValues ...any) { l.inner.Warn(msg, keysAndValues...) }
func (l leveledSlog) Warn(msg string, keysAndValues ...any)  { l.inner.Warn(msg, keysAndValues...) }
func (l leveledSlog) Info(msg string, keysAndValues ...any)  { l.inner.Debug(msg, keysAndValues...) }
func (l leveledSlog) Debug(msg string, keysAndValues ...any) { l.inner.Debug(msg, keysAndValues...) }

// HTTPAnalyzer talks to the vendor's object analysis endpoint.
type HTTPAnalyzer struct {
	client   *retryablehttp.Client
	endpoint string
	apiKey   string
	logger   *slog.Logger
}

type analysisResponse struct {
	Flagged *bool `json:"flagged"`
}

// NewHTTPAnalyzer creates an analyzer for the API rooted at baseURL.
func NewHTTPAnalyzer(baseURL, apiKey string, logger *slog.Logger) *HTTPAnalyzer {
	client := retryablehttp.NewClient()
	client.HTTPClient = cleanhttp.DefaultPooledClient()
	client.RetryMax = 2
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.Logger = retryablehttp.LeveledLogger(leveledSlog{inner: logger})

	return &HTTPAnalyzer{
		client:   client,
		endpoint: strings.TrimSuffix(baseURL, "/") + "/moderate/object",
		apiKey:   apiKey,
		logger:   logger,
	}
}

// Analyze submits req and maps flagged=true to a disapproval.
func (h *HTTPAnalyzer) Analyze(ctx context.Context, req AnalysisRequest) (Outcome, error) {
	if h.apiKey == "" {
		return Outcome{}, &AnalysisError{Kind: ErrKindConfig, Err: errors.New("api key is not configured")}
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return Outcome{}, &AnalysisError{Kind: ErrKindInternal, Err: err}
	}
	h.logger.Debug("Analyzing content with Moderation API",
		"content_id", req.ContentID, "author_id", req.AuthorID, "context_id", req.ContextID, "fields", req.FieldNames())

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(payload))
	if err != nil {
		return Outcome{}, &AnalysisError{Kind: ErrKindInternal, Err: err}
	}
	httpReq.Header.Set("Authorization", "Bearer "+h.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "modgate/"+config.AppVersion)

	res, err := h.client.Do(httpReq)
	if err != nil {
		return Outcome{}, &AnalysisError{Kind: ErrKindTransport, Err: err}
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return Outcome{}, &AnalysisError{Kind: ErrKindTransport, StatusCode: res.StatusCode, Err: err}
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return Outcome{}, &AnalysisError{Kind: ErrKindStatus, StatusCode: res.StatusCode, Body: string(body)}
	}

	var parsed analysisResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Outcome{}, &AnalysisError{Kind: ErrKindDecode, StatusCode: res.StatusCode, Body: string(body), Err: err}
	}
	if parsed.Flagged == nil {
		return Outcome{}, &AnalysisError{Kind: ErrKindDecode, StatusCode: res.StatusCode, Body: string(body), Err: errors.New("response has no flagged field")}
	}
	h.logger.Debug("Moderation API response", "content_id", req.ContentID, "flagged", *parsed.Flagged)
	return Outcome{Approved: !*parsed.Flagged}, nil
}
