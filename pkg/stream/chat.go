package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/trussbench/trussbench/pkg/models"
)

// readChunkSize is the per-Read buffer for response bodies. Small enough to
// surface partial SSE frames promptly, large enough to not thrash on long
// completions.
const readChunkSize = 4096

// Parser turns raw response bodies into UserResponses. The clock is
// injectable so tests can observe exact TTFT capture points.
type Parser struct {
	now func() time.Time
}

// NewParser returns a Parser using the real clock.
func NewParser() *Parser {
	return &Parser{now: time.Now}
}

// NewParserWithClock returns a Parser with a custom clock, for tests.
func NewParserWithClock(now func() time.Time) *Parser {
	return &Parser{now: now}
}

// sseChunk is the subset of an OpenAI-style streaming chunk the parser needs.
type sseChunk struct {
	Error   *apiError   `json:"error"`
	Choices []sseChoice `json:"choices"`
	Usage   *sseUsage   `json:"usage"`
}

type sseChoice struct {
	Delta        sseDelta `json:"delta"`
	FinishReason string   `json:"finish_reason"`
}

type sseDelta struct {
	Content          string `json:"content"`
	ReasoningContent string `json:"reasoning_content"`
	Reasoning        string `json:"reasoning"`
}

// text returns the delta's payload text, whichever field carries it.
func (d *sseDelta) text() string {
	if d.Content != "" {
		return d.Content
	}
	if d.ReasoningContent != "" {
		return d.ReasoningContent
	}
	return d.Reasoning
}

type sseUsage struct {
	PromptTokens     *int `json:"prompt_tokens"`
	CompletionTokens *int `json:"completion_tokens"`
}

// apiError is a server-signaled error embedded in a 200 stream.
// Code tolerates both numeric and string forms; non-numeric codes map to -1.
type apiError struct {
	Code    json.Number `json:"code"`
	Message string      `json:"message"`
}

func (e *apiError) statusCode() int {
	if n, err := e.Code.Int64(); err == nil && n != 0 {
		return int(n)
	}
	return -1
}

func (e *apiError) message() string {
	if e.Message != "" {
		return e.Message
	}
	return "unknown error, please check server logs"
}

// ParseChatStream consumes an SSE chat-completion body and produces a timed
// UserResponse. startTime is the instant the request was sent;
// numPrefillTokens is the sampler's prompt length, used unless the server's
// usage block supplies its own.
//
// TTFT is captured exactly once, at the first frame whose choices array is
// non-empty (a role-only delta counts; an empty choices array does not).
// Per-delta token counting is provisional: a usage block, when present, is
// authoritative for both prompt and completion token counts.
func (p *Parser) ParseChatStream(body io.Reader, startTime time.Time, numPrefillTokens int) models.UserResponse {
	var (
		fb           FrameBuffer
		generated    strings.Builder
		tokens       int
		ttft         time.Time
		finishReason string
		promptTokens int
		usagePrompt  bool
	)

	buf := make([]byte, readChunkSize)
reading:
	for {
		n, err := body.Read(buf)
		if n > 0 {
			for _, frame := range fb.Push(buf[:n]) {
				// SSE comment frames.
				if strings.HasPrefix(frame, ":") {
					continue
				}
				payload := strings.TrimPrefix(frame, dataPrefix)
				if payload == doneMarker {
					break reading
				}

				var chunk sseChunk
				if jsonErr := json.Unmarshal([]byte(payload), &chunk); jsonErr != nil {
					slog.Debug("Skipping malformed SSE frame", "error", jsonErr)
					continue
				}

				if chunk.Error != nil {
					return models.UserResponse{
						StatusCode:   chunk.Error.statusCode(),
						ErrorMessage: chunk.Error.message(),
					}
				}

				if len(chunk.Choices) > 0 {
					if ttft.IsZero() {
						ttft = p.now()
					}
					choice := chunk.Choices[0]
					if text := choice.Delta.text(); text != "" {
						generated.WriteString(text)
						tokens++
					}
					if choice.FinishReason != "" {
						finishReason = choice.FinishReason
					}
				}

				if chunk.Usage != nil {
					if chunk.Usage.PromptTokens != nil {
						promptTokens = *chunk.Usage.PromptTokens
						usagePrompt = true
					}
					if chunk.Usage.CompletionTokens != nil {
						tokens = *chunk.Usage.CompletionTokens
					}
				}
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return models.UserResponse{
				StatusCode:   500,
				ErrorMessage: fmt.Sprintf("error reading streaming response: %v", err),
			}
		}
	}

	// A stream that never produced a populated choices frame carried no
	// usable data; a bare usage block does not make a success. Returning
	// 200 here would hand the collector a response with no first-token
	// time.
	if ttft.IsZero() {
		return models.UserResponse{
			StatusCode:   500,
			ErrorMessage: "No valid streaming data received",
		}
	}

	prefill := numPrefillTokens
	if prefill == 0 && usagePrompt {
		prefill = promptTokens
	}

	return models.UserResponse{
		StatusCode:       200,
		StartTime:        startTime,
		EndTime:          p.now(),
		TimeAtFirstToken: ttft,
		TokensReceived:   tokens,
		NumPrefillTokens: prefill,
		GeneratedText:    generated.String(),
		FinishReason:     finishReason,
	}
}

// chatCompletion is the non-streaming chat response body.
type chatCompletion struct {
	Error   *apiError `json:"error"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *sseUsage `json:"usage"`
}

// ParseChatJSON parses a non-streaming chat completion. TTFT is not
// observable without a stream, so it is synthesized as startTime + 1ms to
// keep downstream metrics well-defined.
func (p *Parser) ParseChatJSON(body io.Reader, startTime time.Time, numPrefillTokens int) models.UserResponse {
	raw, err := io.ReadAll(body)
	if err != nil {
		return models.UserResponse{
			StatusCode:   500,
			ErrorMessage: fmt.Sprintf("error reading response: %v", err),
		}
	}

	var completion chatCompletion
	if err := json.Unmarshal(raw, &completion); err != nil {
		return models.UserResponse{
			StatusCode:   500,
			ErrorMessage: fmt.Sprintf("error parsing response: %v", err),
		}
	}
	if completion.Error != nil {
		return models.UserResponse{
			StatusCode:   completion.Error.statusCode(),
			ErrorMessage: completion.Error.message(),
		}
	}

	var generated, finishReason string
	if len(completion.Choices) > 0 {
		generated = completion.Choices[0].Message.Content
		finishReason = completion.Choices[0].FinishReason
	}

	tokens := 0
	prefill := numPrefillTokens
	if completion.Usage != nil {
		if completion.Usage.CompletionTokens != nil {
			tokens = *completion.Usage.CompletionTokens
		}
		if prefill == 0 && completion.Usage.PromptTokens != nil {
			prefill = *completion.Usage.PromptTokens
		}
	}

	return models.UserResponse{
		StatusCode:       200,
		StartTime:        startTime,
		EndTime:          p.now(),
		TimeAtFirstToken: startTime.Add(time.Millisecond),
		TokensReceived:   tokens,
		NumPrefillTokens: prefill,
		GeneratedText:    generated,
		FinishReason:     finishReason,
	}
}

// ParseEmbeddings parses an embeddings response. Only latency is measured;
// the vectors themselves are discarded.
func (p *Parser) ParseEmbeddings(body io.Reader, startTime time.Time) models.UserResponse {
	raw, err := io.ReadAll(body)
	if err != nil {
		return models.UserResponse{
			StatusCode:   500,
			ErrorMessage: fmt.Sprintf("error reading embeddings response: %v", err),
		}
	}

	var parsed struct {
		Error *apiError `json:"error"`
		Data  []any     `json:"data"`
		Usage *sseUsage `json:"usage"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return models.UserResponse{
			StatusCode:   500,
			ErrorMessage: fmt.Sprintf("error parsing embeddings response: %v", err),
		}
	}
	if parsed.Error != nil {
		return models.UserResponse{
			StatusCode:   parsed.Error.statusCode(),
			ErrorMessage: parsed.Error.message(),
		}
	}

	prefill := 0
	if parsed.Usage != nil && parsed.Usage.PromptTokens != nil {
		prefill = *parsed.Usage.PromptTokens
	}

	return models.UserResponse{
		StatusCode:       200,
		StartTime:        startTime,
		EndTime:          p.now(),
		TimeAtFirstToken: startTime.Add(time.Millisecond),
		NumPrefillTokens: prefill,
	}
}
