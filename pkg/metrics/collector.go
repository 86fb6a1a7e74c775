// Package metrics derives per-request latency/throughput metrics from
// UserResponses and maintains bounded sliding-window aggregates.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/trussbench/trussbench/pkg/models"
)

// DefaultWindowSize caps each sliding window to bound memory on long runs.
const DefaultWindowSize = 1000

var requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "trussbench_requests_total",
	Help: "Completed load requests by HTTP status class.",
}, []string{"class"})

// Collector turns UserResponses into derived metrics and running aggregates.
//
// Window appends and stats recomputation happen under one mutex, so readers
// always observe a snapshot consistent with a whole number of requests.
type Collector struct {
	mu sync.Mutex

	ttft             window
	inputThroughput  window
	outputThroughput window
	outputLatency    window
	e2eLatency       window

	totalRequests int
	errorCounts   map[string]int
}

// NewCollector creates a Collector with the given window cap.
// windowSize <= 0 uses DefaultWindowSize.
func NewCollector(windowSize int) *Collector {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &Collector{
		ttft:             newWindow(windowSize),
		inputThroughput:  newWindow(windowSize),
		outputThroughput: newWindow(windowSize),
		outputLatency:    newWindow(windowSize),
		e2eLatency:       newWindow(windowSize),
		errorCounts:      make(map[string]int),
	}
}

// Process admits one completed response. Successful responses update the
// latency/throughput windows and yield the per-request scatter point; failed
// responses only advance the error counters and return ok=false.
func (c *Collector) Process(resp *models.UserResponse) (point models.ScatterPoint, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalRequests++
	requestsTotal.WithLabelValues(models.StatusClass(resp.StatusCode)).Inc()

	if !resp.OK() {
		c.errorCounts[models.StatusClass(resp.StatusCode)]++
		return models.ScatterPoint{}, false
	}

	c.e2eLatency.add(resp.E2ELatency().Seconds())
	point = models.ScatterPoint{}

	// A success without an observed first token contributes e2e latency
	// only; a zero TimeAtFirstToken would put a zero in the ttft window
	// and a wall-clock-epoch decode time in the others.
	if !resp.HasTTFT() {
		return point, true
	}

	ttft := resp.TTFT().Seconds()
	decode := resp.EndTime.Sub(resp.TimeAtFirstToken).Seconds()

	// Per-output-token latency after the first token.
	denomTokens := resp.TokensReceived - 1
	if denomTokens < 1 {
		denomTokens = 1
	}
	outputLatency := decode / float64(denomTokens)

	c.ttft.add(ttft)
	c.outputLatency.add(outputLatency)
	point.TTFT = ttft
	point.OutputLatency = outputLatency

	if resp.NumPrefillTokens > 0 && ttft > 0 {
		point.InputThroughput = float64(resp.NumPrefillTokens) / ttft
		c.inputThroughput.add(point.InputThroughput)
	}
	if decode > 0 {
		point.OutputThroughput = float64(resp.TokensReceived) / decode
		c.outputThroughput.add(point.OutputThroughput)
	}

	return point, true
}

// Snapshot returns a deep copy of the current windows, stats, and counters.
func (c *Collector) Snapshot() models.LiveMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	errs := make(map[string]int, len(c.errorCounts))
	for k, v := range c.errorCounts {
		errs[k] = v
	}

	return models.LiveMetrics{
		TTFT:             c.ttft.values(),
		InputThroughput:  c.inputThroughput.values(),
		OutputThroughput: c.outputThroughput.values(),
		OutputLatency:    c.outputLatency.values(),
		E2ELatency:       c.e2eLatency.values(),
		Stats: models.AggregateStats{
			TTFT:             c.ttft.stats(),
			InputThroughput:  c.inputThroughput.stats(),
			OutputThroughput: c.outputThroughput.stats(),
			OutputLatency:    c.outputLatency.stats(),
			E2ELatency:       c.e2eLatency.stats(),
		},
		TotalRequests: c.totalRequests,
		ErrorCounts:   errs,
	}
}

// TotalRequests returns the number of responses processed since the last Reset.
func (c *Collector) TotalRequests() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalRequests
}

// Reset clears all windows and counters for the next run cell.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ttft.reset()
	c.inputThroughput.reset()
	c.outputThroughput.reset()
	c.outputLatency.reset()
	c.e2eLatency.reset()
	c.totalRequests = 0
	c.errorCounts = make(map[string]int)
}
