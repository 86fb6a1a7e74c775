package models

// Stats summarizes one sliding window of samples.
type Stats struct {
	Mean float64 `json:"mean"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	P50  float64 `json:"p50"`
	P90  float64 `json:"p90"`
	P95  float64 `json:"p95"`
	P99  float64 `json:"p99"`
}

// AggregateStats holds the Stats block for each metric window. A nil field
// means the window is empty. The latency-proxy preference order in the
// scheduler depends on this nil-ness, so fields stay pointers.
type AggregateStats struct {
	TTFT             *Stats `json:"ttft,omitempty"`
	InputThroughput  *Stats `json:"input_throughput,omitempty"`
	OutputThroughput *Stats `json:"output_throughput,omitempty"`
	OutputLatency    *Stats `json:"output_latency,omitempty"`
	E2ELatency       *Stats `json:"e2e_latency,omitempty"`
}

// LiveMetrics is a point-in-time deep copy of the collector state. The raw
// window slices feed the dashboard histograms; Stats feeds the panels.
type LiveMetrics struct {
	TTFT             []float64      `json:"ttft"`
	InputThroughput  []float64      `json:"input_throughput"`
	OutputThroughput []float64      `json:"output_throughput"`
	OutputLatency    []float64      `json:"output_latency"`
	E2ELatency       []float64      `json:"e2e_latency"`
	Stats            AggregateStats `json:"stats"`
	TotalRequests    int            `json:"total_requests"`
	ErrorCounts      map[string]int `json:"error_counts"`
}

// ScatterPoint is the per-request vec4 plotted on the scatter panel.
type ScatterPoint struct {
	TTFT             float64 `json:"ttft"`
	OutputLatency    float64 `json:"output_latency"`
	InputThroughput  float64 `json:"input_throughput"`
	OutputThroughput float64 `json:"output_throughput"`
}

// RunSummary is the completed-run record appended to historical data, one
// per (scenario, concurrency) cell.
type RunSummary struct {
	RunName       string         `json:"run_name"`
	Scenario      string         `json:"scenario"`
	Concurrency   int            `json:"concurrency"`
	TotalRequests int            `json:"total_requests"`
	ErrorCounts   map[string]int `json:"error_counts"`
	RunTime       float64        `json:"run_time"`
	RPS           float64        `json:"rps"`
	// LatencyProxy labels which stat produced Latency: "ttft.mean",
	// "output_latency.mean", or "e2e_latency.mean".
	LatencyProxy string         `json:"latency_proxy,omitempty"`
	Latency      float64        `json:"latency,omitempty"`
	Stats        AggregateStats `json:"stats"`
	Timestamp    float64        `json:"timestamp"`
}
