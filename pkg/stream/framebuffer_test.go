package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameBufferSplitsOnDoubleNewline(t *testing.T) {
	var fb FrameBuffer

	frames := fb.Push([]byte("data: {\"a\":1}\n\ndata: {\"b\":2}\n\n"))
	require.Len(t, frames, 2)
	assert.Equal(t, `data: {"a":1}`, frames[0])
	assert.Equal(t, `data: {"b":2}`, frames[1])
	assert.Zero(t, fb.Pending())
}

func TestFrameBufferReassemblesPartialFrames(t *testing.T) {
	var fb FrameBuffer

	frames := fb.Push([]byte(`data: {"choices":[{"index":0,"delta":{"role":"assistant"`))
	assert.Empty(t, frames)
	assert.NotZero(t, fb.Pending())

	frames = fb.Push([]byte("}}]}\n\n"))
	require.Len(t, frames, 1)
	assert.Equal(t, `data: {"choices":[{"index":0,"delta":{"role":"assistant"}}]}`, frames[0])
	assert.Zero(t, fb.Pending())
}

func TestFrameBufferEarlyEmitsCompleteJSONTail(t *testing.T) {
	var fb FrameBuffer

	// No trailing \n\n, but the payload is already complete JSON: the frame
	// must be emitted immediately rather than waiting for the separator.
	frames := fb.Push([]byte(`data: {"choices":[{"delta":{"content":"x"}}]}`))
	require.Len(t, frames, 1)
	assert.Zero(t, fb.Pending())
}

func TestFrameBufferEarlyEmitsDoneTail(t *testing.T) {
	var fb FrameBuffer

	frames := fb.Push([]byte("data: [DONE]"))
	require.Len(t, frames, 1)
	assert.Equal(t, "data: [DONE]", frames[0])
	assert.Zero(t, fb.Pending())
}

func TestFrameBufferHoldsIncompleteJSONTail(t *testing.T) {
	var fb FrameBuffer

	frames := fb.Push([]byte(`data: {"choices":[`))
	assert.Empty(t, frames)
	assert.NotZero(t, fb.Pending())
}

func TestFrameBufferDropsEmptyFrames(t *testing.T) {
	var fb FrameBuffer

	frames := fb.Push([]byte("\n\n\n\ndata: {\"a\":1}\n\n"))
	require.Len(t, frames, 1)
	assert.Equal(t, `data: {"a":1}`, frames[0])
}
