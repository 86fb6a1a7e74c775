// Package stream parses streaming inference responses at byte granularity.
//
// The SSE reassembly deliberately works on raw bytes rather than lines:
// servers often flush a complete `data: {...}` payload and only send the
// trailing frame separator with the next write. Waiting for the separator
// would inflate time-to-first-token by up to one network round trip, so the
// frame buffer also emits a buffered tail as soon as it forms a complete
// payload on its own.
package stream

import (
	"bytes"
	"encoding/json"
	"strings"
)

const (
	dataPrefix = "data: "
	doneMarker = "[DONE]"
)

// FrameBuffer reassembles SSE frames from arbitrarily split byte chunks.
// Frames are separated by "\n\n". Not safe for concurrent use; each response
// body gets its own FrameBuffer.
type FrameBuffer struct {
	buf []byte
}

// Push appends a chunk and returns every complete frame it closed, stripped
// of surrounding whitespace and with empty frames dropped.
//
// A tail that has not yet seen its "\n\n" separator is still emitted early
// when it is, by itself, a complete payload: either the literal terminator
// `data: [DONE]` or `data: ` followed by valid JSON. This is what lets TTFT
// be captured before the server flushes the separator.
func (b *FrameBuffer) Push(chunk []byte) []string {
	b.buf = append(b.buf, chunk...)

	var frames []string
	for {
		i := bytes.Index(b.buf, []byte("\n\n"))
		if i < 0 {
			break
		}
		frame := strings.TrimSpace(string(b.buf[:i]))
		b.buf = b.buf[i+2:]
		if frame != "" {
			frames = append(frames, frame)
		}
	}

	if tail := strings.TrimSpace(string(b.buf)); strings.HasPrefix(tail, dataPrefix) {
		payload := strings.TrimSpace(strings.TrimPrefix(tail, dataPrefix))
		if payload == doneMarker || (payload != "" && json.Valid([]byte(payload))) {
			frames = append(frames, tail)
			b.buf = b.buf[:0]
		}
	}

	return frames
}

// Pending returns the number of buffered bytes awaiting a frame boundary.
func (b *FrameBuffer) Pending() int { return len(b.buf) }
