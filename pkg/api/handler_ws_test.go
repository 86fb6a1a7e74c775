package api

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trussbench/trussbench/pkg/events"
	"github.com/trussbench/trussbench/pkg/models"
)

// wireEvent mirrors the serialized StreamEvent with the payload left raw.
type wireEvent struct {
	EventType string          `json:"event_type"`
	Timestamp float64         `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) wireEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var ev wireEvent
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func sendMessage(t *testing.T, conn *websocket.Conn, msg events.ClientMessage) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

func TestConnectReplaysHistoryThenStreamsLive(t *testing.T) {
	srv, _, dash, ts := newTestServer(t)

	for i := 1; i <= 5; i++ {
		dash.UpdateMetricsPanels(models.LiveMetrics{TotalRequests: i})
	}

	conn := dialWS(t, ts)

	first := readEvent(t, conn)
	require.Equal(t, events.EventTypeStatus, first.EventType)

	second := readEvent(t, conn)
	require.Equal(t, events.EventTypeHistoricalData, second.EventType)

	var history struct {
		MetricsHistory []wireEvent `json:"metrics_history"`
		CurrentStatus  struct {
			Status string `json:"status"`
		} `json:"current_status"`
	}
	require.NoError(t, json.Unmarshal(second.Data, &history))
	require.Len(t, history.MetricsHistory, 5)
	assert.Equal(t, "idle", history.CurrentStatus.Status)

	// Replayed entries keep publish order.
	for i, ev := range history.MetricsHistory {
		var live models.LiveMetrics
		require.NoError(t, json.Unmarshal(ev.Data, &live))
		assert.Equal(t, i+1, live.TotalRequests)
	}

	// Updates published after the connect arrive live and in order.
	dash.UpdateMetricsPanels(models.LiveMetrics{TotalRequests: 6})
	dash.UpdateMetricsPanels(models.LiveMetrics{TotalRequests: 7})

	for want := 6; want <= 7; want++ {
		ev := readEvent(t, conn)
		require.Equal(t, events.EventTypeMetrics, ev.EventType)
		var live models.LiveMetrics
		require.NoError(t, json.Unmarshal(ev.Data, &live))
		assert.Equal(t, want, live.TotalRequests)
	}

	assert.Equal(t, 1, srv.ConnectedClients())
}

// Top-level timestamps never go backwards within one connection; history
// replay arrives wrapped in a freshly stamped event.
func TestTimestampsMonotonicWithinConnection(t *testing.T) {
	_, _, dash, ts := newTestServer(t)

	for i := 0; i < 3; i++ {
		dash.UpdateMetricsPanels(models.LiveMetrics{TotalRequests: i})
	}

	conn := dialWS(t, ts)

	var last float64
	for i := 0; i < 2; i++ {
		ev := readEvent(t, conn)
		require.GreaterOrEqual(t, ev.Timestamp, last)
		last = ev.Timestamp
	}

	dash.UpdateMetricsPanels(models.LiveMetrics{TotalRequests: 99})
	ev := readEvent(t, conn)
	assert.GreaterOrEqual(t, ev.Timestamp, last)
}

func TestGetParameters(t *testing.T) {
	_, _, _, ts := newTestServer(t)
	conn := dialWS(t, ts)
	readEvent(t, conn) // status
	readEvent(t, conn) // historical_data

	sendMessage(t, conn, events.ClientMessage{Type: "get_parameters"})

	reply := readEvent(t, conn)
	require.Equal(t, events.EventTypeCurrentParameters, reply.EventType)

	var params struct {
		MaxRequestsPerRun int      `json:"max_requests_per_run"`
		NumConcurrency    []int    `json:"num_concurrency"`
		TrafficScenario   []string `json:"traffic_scenario"`
	}
	require.NoError(t, json.Unmarshal(reply.Data, &params))
	assert.Equal(t, 100, params.MaxRequestsPerRun)
	assert.Equal(t, []int{1}, params.NumConcurrency)
	assert.Equal(t, []string{"D(100,100)"}, params.TrafficScenario)
}

func TestUpdateParameters(t *testing.T) {
	srv, _, _, ts := newTestServer(t)
	conn := dialWS(t, ts)
	readEvent(t, conn)
	readEvent(t, conn)

	sendMessage(t, conn, events.ClientMessage{
		Type: "update_parameters",
		Parameters: map[string]any{
			"max_requests_per_run": 25,
			"num_concurrency":      []any{float64(2), float64(8)},
		},
	})

	reply := readEvent(t, conn)
	require.Equal(t, events.EventTypeParameterUpdateOK, reply.EventType)

	params := srv.Params()
	assert.Equal(t, 25, params.MaxRequestsPerRun)
	assert.Equal(t, []int{2, 8}, params.NumConcurrency)
}

func TestUpdateParametersRejected(t *testing.T) {
	srv, _, _, ts := newTestServer(t)
	before := srv.Params()

	conn := dialWS(t, ts)
	readEvent(t, conn)
	readEvent(t, conn)

	sendMessage(t, conn, events.ClientMessage{
		Type:       "update_parameters",
		Parameters: map[string]any{"warp_factor": float64(9)},
	})

	reply := readEvent(t, conn)
	require.Equal(t, events.EventTypeParameterUpdateError, reply.EventType)

	var payload struct {
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(reply.Data, &payload))
	assert.Contains(t, payload.Message, "unknown parameter")
	assert.Equal(t, before, srv.Params())
}

func TestStartBenchmark(t *testing.T) {
	srv, _, _, ts := newTestServer(t)

	started := make(chan struct{})
	srv.SetStartHandler(func() error {
		close(started)
		return nil
	})

	conn := dialWS(t, ts)
	readEvent(t, conn)
	readEvent(t, conn)

	sendMessage(t, conn, events.ClientMessage{Type: "start_benchmark"})

	reply := readEvent(t, conn)
	require.Equal(t, events.EventTypeBenchmarkStartRequested, reply.EventType)

	var payload struct {
		Accepted bool   `json:"accepted"`
		Message  string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(reply.Data, &payload))
	assert.True(t, payload.Accepted)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("start handler was not invoked")
	}
}

func TestStartBenchmarkWithoutRunner(t *testing.T) {
	_, _, _, ts := newTestServer(t)
	conn := dialWS(t, ts)
	readEvent(t, conn)
	readEvent(t, conn)

	sendMessage(t, conn, events.ClientMessage{Type: "start_benchmark"})

	reply := readEvent(t, conn)
	require.Equal(t, events.EventTypeBenchmarkStartRequested, reply.EventType)

	var payload struct {
		Accepted bool   `json:"accepted"`
		Message  string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(reply.Data, &payload))
	assert.False(t, payload.Accepted)
	assert.Contains(t, payload.Message, "no benchmark runner")
}

// Malformed frames and unknown message types are ignored; the connection
// stays usable.
func TestMalformedAndUnknownMessagesIgnored(t *testing.T) {
	_, _, dash, ts := newTestServer(t)
	conn := dialWS(t, ts)
	readEvent(t, conn)
	readEvent(t, conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("{not json")))

	sendMessage(t, conn, events.ClientMessage{Type: "dance"})

	dash.UpdateMetricsPanels(models.LiveMetrics{TotalRequests: 1})
	ev := readEvent(t, conn)
	assert.Equal(t, events.EventTypeMetrics, ev.EventType)
}

// After a quiet interval the server synthesizes a heartbeat; any outbound
// send counts as activity and pushes the next heartbeat out a full interval.
func TestHeartbeatAfterSilence(t *testing.T) {
	srv, _, dash, ts := newTestServer(t)
	srv.heartbeatEvery = 100 * time.Millisecond

	conn := dialWS(t, ts)
	readEvent(t, conn) // status
	readEvent(t, conn) // historical_data

	ev := readEvent(t, conn)
	require.Equal(t, events.EventTypeHeartbeat, ev.EventType)

	dash.UpdateMetricsPanels(models.LiveMetrics{TotalRequests: 1})
	for ev = readEvent(t, conn); ev.EventType == events.EventTypeHeartbeat; ev = readEvent(t, conn) {
	}
	require.Equal(t, events.EventTypeMetrics, ev.EventType)

	// The metrics send reset the timer, so the next heartbeat arrives a
	// full interval later, not on the original schedule.
	quiet := time.Now()
	ev = readEvent(t, conn)
	require.Equal(t, events.EventTypeHeartbeat, ev.EventType)
	assert.GreaterOrEqual(t, time.Since(quiet), 80*time.Millisecond)
}

func TestRejectsClientsDuringShutdown(t *testing.T) {
	srv, _, _, ts := newTestServer(t)

	srv.mu.Lock()
	srv.accepting = false
	srv.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, resp, err := websocket.Dial(ctx, url, nil)
	require.Error(t, err)
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}
	require.NotNil(t, resp)
	assert.Equal(t, 503, resp.StatusCode)
}

func TestMultipleClientsReceiveBroadcasts(t *testing.T) {
	srv, _, dash, ts := newTestServer(t)

	connA := dialWS(t, ts)
	readEvent(t, connA)
	readEvent(t, connA)
	connB := dialWS(t, ts)
	readEvent(t, connB)
	readEvent(t, connB)

	assert.Equal(t, 2, srv.ConnectedClients())

	dash.AddLogMessage("broadcast check", "INFO")

	for _, conn := range []*websocket.Conn{connA, connB} {
		ev := readEvent(t, conn)
		require.Equal(t, events.EventTypeLog, ev.EventType)
		var payload struct {
			Message string `json:"message"`
		}
		require.NoError(t, json.Unmarshal(ev.Data, &payload))
		assert.Equal(t, "broadcast check", payload.Message)
	}
}
