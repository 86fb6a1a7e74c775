package stream

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/trussbench/trussbench/pkg/models"
)

// Tokenizer estimates the token count of generated text. Supplied by the
// caller (typically the sampler's tokenizer); used only in plain-prompt mode
// where the server reports no usage.
type Tokenizer func(text string) int

// ParsePlainTextStream consumes a raw text stream (the plain-prompt mode:
// no SSE framing, every byte is generated text). TTFT is set at the first
// chunk containing non-whitespace. When tokenize is nil the token count
// falls back to a whitespace-separated word count.
func (p *Parser) ParsePlainTextStream(body io.Reader, startTime time.Time, numPrefillTokens int, tokenize Tokenizer) models.UserResponse {
	var (
		generated strings.Builder
		ttft      time.Time
	)

	buf := make([]byte, readChunkSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			chunk := string(buf[:n])
			if ttft.IsZero() && strings.TrimSpace(chunk) != "" {
				ttft = p.now()
			}
			generated.WriteString(chunk)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return models.UserResponse{
				StatusCode:   500,
				ErrorMessage: fmt.Sprintf("failed to parse plain text streaming response: %v", err),
			}
		}
	}

	text := generated.String()
	tokens := 0
	if tokenize != nil {
		tokens = tokenize(text)
	} else {
		tokens = len(strings.Fields(text))
	}

	// An all-whitespace stream never sets TTFT; fall back to startTime so
	// the 200 invariant start <= ttft <= end still holds.
	if ttft.IsZero() {
		ttft = startTime
	}

	return models.UserResponse{
		StatusCode:       200,
		StartTime:        startTime,
		EndTime:          p.now(),
		TimeAtFirstToken: ttft,
		TokensReceived:   tokens,
		NumPrefillTokens: numPrefillTokens,
		GeneratedText:    text,
	}
}
