// Package executor issues single load requests against the target endpoint
// and turns the HTTP exchange into a UserResponse via the stream parsers.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/trussbench/trussbench/pkg/models"
	"github.com/trussbench/trussbench/pkg/stream"
)

// maxErrorBody bounds how much of a non-200 body is kept as the error text.
const maxErrorBody = 64 << 10

// TokenProvider supplies the bearer token for outbound requests. An empty
// token means no Authorization header.
type TokenProvider interface {
	Token() string
}

// Config is the per-executor configuration. Replaces any process-wide
// endpoint/auth state; every executor carries its own copy.
type Config struct {
	BaseURL string
	Adapter Adapter
	Auth    TokenProvider

	// Timeout bounds one full request including body read. Zero means no
	// per-request timeout; the run's context still cancels in-flight reads.
	Timeout time.Duration

	// DisableStreaming switches chat requests to single-JSON responses.
	DisableStreaming bool

	// IgnoreEOS asks the backend to keep generating to max_tokens.
	IgnoreEOS bool

	// Tokenizer counts generated tokens in plain-text mode. Nil falls back
	// to whitespace splitting.
	Tokenizer stream.Tokenizer
}

// Executor issues requests for one worker. Each worker owns exactly one
// Executor, so the underlying connection pool is single-owner and keep-alive
// connections are reused across that worker's requests.
type Executor struct {
	cfg    Config
	client *http.Client
	parser *stream.Parser
	logger *slog.Logger
}

// New creates an Executor with its own HTTP client.
func New(cfg Config, logger *slog.Logger) *Executor {
	if cfg.Adapter == nil {
		cfg.Adapter = OpenAIAdapter{}
	}
	transport := &http.Transport{
		MaxIdleConns:        8,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Executor{
		cfg: cfg,
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		parser: stream.NewParser(),
		logger: logger.With("component", "executor"),
	}
}

// Do issues one request and blocks until the full response is consumed.
// Never returns an error; every failure mode is encoded in the UserResponse.
func (e *Executor) Do(ctx context.Context, req models.UserRequest) models.UserResponse {
	task := req.RequestTask()

	url, err := e.cfg.Adapter.RequestURL(e.cfg.BaseURL, task)
	if err != nil {
		return failedResponse(err)
	}

	streaming := !e.cfg.DisableStreaming && task != models.TaskEmbeddings
	payload, err := e.cfg.Adapter.Payload(req, PayloadOptions{
		Stream:    streaming,
		IgnoreEOS: e.cfg.IgnoreEOS,
	})
	if err != nil {
		return failedResponse(err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return failedResponse(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return failedResponse(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if e.cfg.Auth != nil {
		if token := e.cfg.Auth.Token(); token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}
	}

	start := time.Now()
	resp, err := e.client.Do(httpReq)
	if err != nil {
		e.logger.Warn("Request transport error", "url", url, "error", err)
		return models.UserResponse{
			StatusCode:   -1,
			StartTime:    start,
			EndTime:      time.Now(),
			ErrorMessage: err.Error(),
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return models.UserResponse{
			StatusCode:   resp.StatusCode,
			StartTime:    start,
			EndTime:      time.Now(),
			ErrorMessage: strings.TrimSpace(string(raw)),
		}
	}

	prefill := prefillTokens(req)
	switch {
	case task == models.TaskEmbeddings:
		return e.parser.ParseEmbeddings(resp.Body, start)
	case e.cfg.Adapter.Shape() == ShapePlain:
		return e.parser.ParsePlainTextStream(resp.Body, start, prefill, e.cfg.Tokenizer)
	case streaming:
		return e.parser.ParseChatStream(resp.Body, start, prefill)
	default:
		return e.parser.ParseChatJSON(resp.Body, start, prefill)
	}
}

func prefillTokens(req models.UserRequest) int {
	switch r := req.(type) {
	case *models.ChatRequest:
		return r.NumPrefillTokens
	case *models.ImageChatRequest:
		return r.NumPrefillTokens
	case *models.EmbeddingRequest:
		return r.NumPrefillTokens
	default:
		return 0
	}
}

func failedResponse(err error) models.UserResponse {
	now := time.Now()
	return models.UserResponse{
		StatusCode:   -1,
		StartTime:    now,
		EndTime:      now,
		ErrorMessage: err.Error(),
	}
}
