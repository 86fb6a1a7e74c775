package stream

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// timedChunk is one body read with an optional delay before it is served.
type timedChunk struct {
	delay time.Duration
	data  []byte
}

// chunkedReader serves each chunk as a separate Read, simulating network
// packet boundaries.
type chunkedReader struct {
	chunks []timedChunk
	idx    int
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if r.idx >= len(r.chunks) {
		return 0, io.EOF
	}
	c := r.chunks[r.idx]
	r.idx++
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	return copy(p, c.data), nil
}

func TestParseChatStreamByteLevelTTFT(t *testing.T) {
	// Empty choices must not set TTFT; the role-only delta must; content
	// arriving 100ms later must not move it.
	body := &chunkedReader{chunks: []timedChunk{
		{data: []byte("data: {\"id\":\"x\",\"choices\":[]}\n\n")},
		{data: []byte("data: {\"id\":\"x\",\"choices\":[{\"index\":0,\"delta\":{\"role\":\"assistant\"}}]}\n\n")},
		{delay: 100 * time.Millisecond, data: []byte("data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"H\"}}]}\n\n")},
		{data: []byte("data: {\"choices\":[{\"index\":0,\"delta\":{},\"finish_reason\":\"stop\"}],\"usage\":{\"prompt_tokens\":12,\"completion_tokens\":2}}\n\n")},
		{data: []byte("data: [DONE]\n\n")},
	}}

	start := time.Now()
	resp := NewParser().ParseChatStream(body, start, 0)

	require.Equal(t, 200, resp.StatusCode)
	require.True(t, resp.HasTTFT())
	assert.Less(t, resp.TTFT(), 80*time.Millisecond,
		"TTFT must be captured at the role delta, before the delayed content frame")
	assert.Equal(t, "H", resp.GeneratedText)
	assert.Equal(t, 2, resp.TokensReceived, "usage completion_tokens is authoritative")
	assert.Equal(t, 12, resp.NumPrefillTokens)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.False(t, resp.StartTime.After(resp.TimeAtFirstToken))
	assert.False(t, resp.TimeAtFirstToken.After(resp.EndTime))
}

func TestParseChatStreamPartialFrameSetsTTFTOnce(t *testing.T) {
	var captures int
	parser := NewParserWithClock(func() time.Time {
		captures++
		return time.Now()
	})

	body := &chunkedReader{chunks: []timedChunk{
		{data: []byte(`data: {"choices":[{"index":0,"delta":{"role":"assistant"`)},
		{data: []byte("}}]}\n\n")},
		{data: []byte("data: [DONE]\n\n")},
	}}

	resp := parser.ParseChatStream(body, time.Now(), 0)

	require.Equal(t, 200, resp.StatusCode)
	require.True(t, resp.HasTTFT())
	// One clock call for TTFT, one for EndTime.
	assert.Equal(t, 2, captures)
}

func TestParseChatStreamServerError(t *testing.T) {
	body := strings.NewReader("data: {\"error\":{\"code\":503,\"message\":\"upstream down\"}}\n\n")

	resp := NewParser().ParseChatStream(body, time.Now(), 0)

	assert.Equal(t, 503, resp.StatusCode)
	assert.Equal(t, "upstream down", resp.ErrorMessage)
	assert.False(t, resp.HasTTFT())
}

func TestParseChatStreamErrorStringCode(t *testing.T) {
	body := strings.NewReader("data: {\"error\":{\"code\":\"model_not_found\",\"message\":\"no such model\"}}\n\n")

	resp := NewParser().ParseChatStream(body, time.Now(), 0)

	assert.Equal(t, -1, resp.StatusCode)
	assert.Equal(t, "no such model", resp.ErrorMessage)
}

func TestParseChatStreamNoValidData(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty stream", ""},
		{"only done", "data: [DONE]\n\n"},
		{"only empty choices", "data: {\"choices\":[]}\n\ndata: [DONE]\n\n"},
		{"only comments", ": keepalive\n\n: keepalive\n\n"},
		{"usage only", "data: {\"usage\":{\"prompt_tokens\":10,\"completion_tokens\":0}}\n\ndata: [DONE]\n\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := NewParser().ParseChatStream(strings.NewReader(tt.body), time.Now(), 0)
			assert.Equal(t, 500, resp.StatusCode)
			assert.Equal(t, "No valid streaming data received", resp.ErrorMessage)
			assert.False(t, resp.HasTTFT(), "a failed parse must never report 200 without a first token")
		})
	}
}

func TestParseChatStreamSkipsMalformedFrames(t *testing.T) {
	body := strings.NewReader("data: {not json}\n\n" +
		"data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"ok\"}}]}\n\n" +
		"data: [DONE]\n\n")

	resp := NewParser().ParseChatStream(body, time.Now(), 0)

	require.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "ok", resp.GeneratedText)
	assert.Equal(t, 1, resp.TokensReceived)
}

func TestParseChatStreamReasoningContent(t *testing.T) {
	body := strings.NewReader("data: {\"choices\":[{\"index\":0,\"delta\":{\"reasoning_content\":\"thinking\"}}]}\n\n" +
		"data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\" answer\"}}]}\n\n" +
		"data: [DONE]\n\n")

	resp := NewParser().ParseChatStream(body, time.Now(), 0)

	require.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "thinking answer", resp.GeneratedText)
	assert.Equal(t, 2, resp.TokensReceived)
}

func TestParseChatStreamSamplerPrefillWins(t *testing.T) {
	body := strings.NewReader("data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"x\"}}],\"usage\":{\"prompt_tokens\":99}}\n\n" +
		"data: [DONE]\n\n")

	resp := NewParser().ParseChatStream(body, time.Now(), 42)

	assert.Equal(t, 42, resp.NumPrefillTokens,
		"sampler-supplied prefill count takes precedence over usage")
}

func TestParseChatJSONNonStreaming(t *testing.T) {
	body := strings.NewReader(`{"choices":[{"message":{"content":"hello there"},"finish_reason":"stop"}],` +
		`"usage":{"prompt_tokens":7,"completion_tokens":3}}`)

	start := time.Now()
	resp := NewParser().ParseChatJSON(body, start, 0)

	require.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "hello there", resp.GeneratedText)
	assert.Equal(t, 3, resp.TokensReceived)
	assert.Equal(t, 7, resp.NumPrefillTokens)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, time.Millisecond, resp.TimeAtFirstToken.Sub(start))
}

func TestParseEmbeddings(t *testing.T) {
	body := strings.NewReader(`{"data":[{"embedding":[0.1,0.2]}],"usage":{"prompt_tokens":5}}`)

	resp := NewParser().ParseEmbeddings(body, time.Now())

	require.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, 5, resp.NumPrefillTokens)
	assert.False(t, resp.EndTime.Before(resp.StartTime))
}

func TestParsePlainTextStream(t *testing.T) {
	body := &chunkedReader{chunks: []timedChunk{
		{data: []byte("  ")}, // whitespace must not set TTFT
		{delay: 10 * time.Millisecond, data: []byte("Once upon")},
		{data: []byte(" a time")},
	}}

	resp := NewParser().ParsePlainTextStream(body, time.Now(), 3, func(s string) int { return 5 })

	require.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "  Once upon a time", resp.GeneratedText)
	assert.Equal(t, 5, resp.TokensReceived, "tokenizer callback is used when supplied")
	assert.Equal(t, 3, resp.NumPrefillTokens)
	assert.GreaterOrEqual(t, resp.TTFT(), 10*time.Millisecond)
}

func TestParsePlainTextStreamFallbackTokenCount(t *testing.T) {
	resp := NewParser().ParsePlainTextStream(strings.NewReader("one two three"), time.Now(), 0, nil)

	require.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, 3, resp.TokensReceived)
}
