package models

import "time"

// UserResponse is the timed outcome of a single request. It is built once by
// the executor, consumed once by the metrics collector, then discarded.
//
// Times carry Go's monotonic clock reading; durations derived from them are
// immune to wall-clock adjustments. A zero TimeAtFirstToken means TTFT was
// never observed.
type UserResponse struct {
	StatusCode       int
	StartTime        time.Time
	EndTime          time.Time
	TimeAtFirstToken time.Time
	TokensReceived   int
	// NumPrefillTokens is 0 when neither the sampler nor the server's usage
	// block supplied it.
	NumPrefillTokens int
	GeneratedText    string
	FinishReason     string
	ErrorMessage     string
}

// OK reports whether the request completed with HTTP 200.
func (r *UserResponse) OK() bool { return r.StatusCode == 200 }

// HasTTFT reports whether a first token was observed.
func (r *UserResponse) HasTTFT() bool { return !r.TimeAtFirstToken.IsZero() }

// TTFT returns the time-to-first-token, or 0 if no token was observed.
func (r *UserResponse) TTFT() time.Duration {
	if !r.HasTTFT() {
		return 0
	}
	return r.TimeAtFirstToken.Sub(r.StartTime)
}

// E2ELatency returns the total request latency.
func (r *UserResponse) E2ELatency() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// StatusClass buckets a status code for error accounting: "2xx", "4xx",
// "5xx", or "other" (transport failures report -1 and land in "other").
func StatusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "other"
	}
}
