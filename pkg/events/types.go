// Package events provides the in-process event bus that feeds the dashboard
// WebSocket fan-out, plus the bounded replay history late clients receive on
// connect.
//
// Delivery contract: within one subscriber's channel, events arrive in
// publish order. Across subscribers no ordering is guaranteed. A slow
// subscriber loses its OLDEST undelivered events first; the newest event is
// never the one dropped.
package events

import "time"

// Broadcast event types.
const (
	EventTypeStatus           = "status"
	EventTypeMetrics          = "metrics"
	EventTypeHistogram        = "histogram"
	EventTypeScatter          = "scatter"
	EventTypeRPSVsLatency     = "rps_vs_latency"
	EventTypeProgress         = "progress"
	EventTypeLog              = "log"
	EventTypeTaskCreated      = "task_created"
	EventTypeRunStarted       = "run_started"
	EventTypeRequestProcessed = "request_processed"
	EventTypePanelsReset      = "panels_reset"
	EventTypeMetricsReset     = "metrics_reset"
	EventTypeHeartbeat        = "heartbeat"
	EventTypeHistoricalData   = "historical_data"
)

// Server → client reply types (sent to a single connection, never broadcast).
const (
	EventTypeCurrentParameters       = "current_parameters"
	EventTypeParameterUpdateOK       = "parameter_update_confirmed"
	EventTypeParameterUpdateError    = "parameter_update_error"
	EventTypeBenchmarkStartRequested = "benchmark_start_requested"
)

// StreamEvent is the wire shape of every dashboard broadcast.
type StreamEvent struct {
	EventType string  `json:"event_type"`
	Timestamp float64 `json:"timestamp"` // unix seconds
	Data      any     `json:"data"`
}

// New builds a StreamEvent stamped with the current time.
func New(eventType string, data any) StreamEvent {
	return StreamEvent{
		EventType: eventType,
		Timestamp: float64(time.Now().UnixNano()) / float64(time.Second),
		Data:      data,
	}
}

// ClientMessage is the JSON structure for client → server WebSocket messages.
type ClientMessage struct {
	Type       string         `json:"type"`                 // "get_parameters", "update_parameters", "start_benchmark"
	Parameters map[string]any `json:"parameters,omitempty"` // for update_parameters
}
