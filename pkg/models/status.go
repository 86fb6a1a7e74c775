package models

// BenchmarkState is the lifecycle state of the whole benchmark process.
type BenchmarkState string

// Benchmark lifecycle states. Only the scheduler transitions between them.
const (
	StateIdle         BenchmarkState = "idle"
	StateInitializing BenchmarkState = "initializing"
	StateRunning      BenchmarkState = "running"
	StateCompleted    BenchmarkState = "completed"
	StateFailed       BenchmarkState = "failed"
)

// BenchmarkStatus is the singleton status record broadcast to dashboard
// clients. Timestamps are unix seconds to match the wire format the frontend
// consumes.
type BenchmarkStatus struct {
	Status             BenchmarkState `json:"status"`
	CurrentScenario    string         `json:"current_scenario"`
	CurrentIteration   int            `json:"current_iteration"`
	TotalScenarios     int            `json:"total_scenarios"`
	TotalIterations    int            `json:"total_iterations"`
	CurrentConcurrency int            `json:"current_concurrency"`
	ProgressPercentage float64        `json:"progress_percentage"`
	StartTime          float64        `json:"start_time"`
	EstimatedEndTime   float64        `json:"estimated_end_time,omitempty"`
	ErrorMessage       string         `json:"error_message,omitempty"`
}
