package executor

import (
	"fmt"
	"strings"

	"github.com/trussbench/trussbench/pkg/models"
)

// Adapter shapes the outbound request for one backend API family. The
// adapter alone decides the final URL; the executor never concatenates a
// path onto the configured endpoint on its own.
type Adapter interface {
	// Shape identifies the body/response shape ("openai" or "plain").
	Shape() string

	// RequestURL returns the full URL for a task against the configured
	// base endpoint.
	RequestURL(base string, task models.Task) (string, error)

	// Payload builds the JSON request body.
	Payload(req models.UserRequest, opts PayloadOptions) (map[string]any, error)
}

// PayloadOptions carries the executor-level knobs adapters fold into the body.
type PayloadOptions struct {
	Stream    bool
	IgnoreEOS bool
}

// Adapter shapes.
const (
	ShapeOpenAI = "openai"
	ShapePlain  = "plain"
)

// OpenAIAdapter speaks the OpenAI-compatible chat/embeddings API.
type OpenAIAdapter struct{}

func (OpenAIAdapter) Shape() string { return ShapeOpenAI }

func (OpenAIAdapter) RequestURL(base string, task models.Task) (string, error) {
	base = strings.TrimSuffix(base, "/")
	switch task {
	case models.TaskChat, models.TaskImageChat:
		return base + "/v1/chat/completions", nil
	case models.TaskEmbeddings:
		return base + "/v1/embeddings", nil
	default:
		return "", fmt.Errorf("unsupported task %q", task)
	}
}

func (OpenAIAdapter) Payload(req models.UserRequest, opts PayloadOptions) (map[string]any, error) {
	switch r := req.(type) {
	case *models.ChatRequest:
		return openAIChatBody(r, textContent(r.Prompt), opts), nil
	case *models.ImageChatRequest:
		return openAIChatBody(&r.ChatRequest, imageContent(r), opts), nil
	case *models.EmbeddingRequest:
		body := map[string]any{
			"model": r.Model,
			"input": r.Input,
		}
		if r.EncodingFormat != "" {
			body["encoding_format"] = r.EncodingFormat
		}
		return body, nil
	default:
		return nil, fmt.Errorf("unsupported request type %T", req)
	}
}

func openAIChatBody(r *models.ChatRequest, content any, opts PayloadOptions) map[string]any {
	body := map[string]any{
		"model": r.Model,
		"messages": []map[string]any{
			{"role": "user", "content": content},
		},
		"max_tokens":  r.MaxTokens,
		"temperature": r.Temperature,
		"stream":      opts.Stream,
	}
	if opts.IgnoreEOS {
		body["ignore_eos"] = true
	}
	if opts.Stream {
		body["stream_options"] = map[string]any{"include_usage": true}
	}
	mergeParams(body, r.AdditionalParams)
	return body
}

func textContent(prompt string) any { return prompt }

func imageContent(r *models.ImageChatRequest) any {
	parts := make([]map[string]any, 0, len(r.ImageContent)+1)
	parts = append(parts, map[string]any{"type": "text", "text": r.Prompt})
	for _, url := range r.ImageContent {
		parts = append(parts, map[string]any{
			"type":      "image_url",
			"image_url": map[string]any{"url": url},
		})
	}
	return parts
}

// PlainAdapter posts a bare prompt body to the configured URL verbatim.
// Used for endpoints that expose a single predict route rather than the
// OpenAI path layout.
type PlainAdapter struct{}

func (PlainAdapter) Shape() string { return ShapePlain }

func (PlainAdapter) RequestURL(base string, task models.Task) (string, error) {
	if task != models.TaskChat {
		return "", fmt.Errorf("plain adapter supports text chat only, got %q", task)
	}
	return base, nil
}

func (PlainAdapter) Payload(req models.UserRequest, opts PayloadOptions) (map[string]any, error) {
	r, ok := req.(*models.ChatRequest)
	if !ok {
		return nil, fmt.Errorf("unsupported request type %T", req)
	}
	body := map[string]any{
		"prompt":      r.Prompt,
		"max_tokens":  r.MaxTokens,
		"temperature": r.Temperature,
		"stream":      opts.Stream,
	}
	mergeParams(body, r.AdditionalParams)
	return body, nil
}

// mergeParams copies passthrough params into the body, except keys the
// adapter owns.
func mergeParams(body, params map[string]any) {
	for k, v := range params {
		switch k {
		case "stream", "use_prompt_format":
			continue
		}
		body[k] = v
	}
}
