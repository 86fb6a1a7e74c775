package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/trussbench/trussbench/pkg/events"
)

const (
	// heartbeatInterval is the default silence threshold after which the
	// server synthesizes a heartbeat event.
	heartbeatInterval = 30 * time.Second

	wsWriteTimeout = 10 * time.Second
)

// handleWS upgrades the connection and runs the client's event loop.
func (s *Server) handleWS(c *echo.Context) error {
	if !s.acceptingClients() {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "server is shutting down")
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		// The dashboard binds to operator-controlled hosts; origin
		// enforcement stays off so remote UIs can connect directly.
		InsecureSkipVerify: true,
	})
	if err != nil {
		return err
	}

	s.handleConnection(c.Request().Context(), conn)
	return nil
}

// handleConnection blocks until the WebSocket closes.
//
// Lifecycle: register → status event → historical_data replay → select loop
// over bus events, inbound messages, and the heartbeat timer → unregister.
func (s *Server) handleConnection(parentCtx context.Context, conn *websocket.Conn) {
	clientID := uuid.New().String()
	log := s.logger.With("client_id", clientID)

	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	s.registerClient(clientID)
	defer s.unregisterClient(clientID)

	ch := s.bus.Subscribe(clientID)
	defer s.bus.Unsubscribe(clientID)

	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()
	log.Debug("WebSocket client connected")

	// Replay prefix: current status first, then the full history. Clients
	// suppress live handlers until the replay is ingested.
	if !s.send(ctx, conn, log, events.New(events.EventTypeStatus, s.dash.Status())) {
		return
	}
	if !s.send(ctx, conn, log, events.New(events.EventTypeHistoricalData, s.snapshotHistory())) {
		return
	}

	// Inbound frames feed the select loop through a channel so one loop
	// owns all writes to this connection.
	inbound := make(chan events.ClientMessage)
	go s.readLoop(ctx, conn, log, inbound)

	heartbeat := time.NewTimer(s.heartbeatEvery)
	defer heartbeat.Stop()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if !s.send(ctx, conn, log, ev) {
				return
			}
		case msg, ok := <-inbound:
			if !ok {
				return
			}
			if !s.handleClientMessage(ctx, conn, log, msg) {
				return
			}
		case <-heartbeat.C:
			if !s.send(ctx, conn, log, events.New(events.EventTypeHeartbeat, nil)) {
				return
			}
		case <-ctx.Done():
			return
		}

		if !heartbeat.Stop() {
			select {
			case <-heartbeat.C:
			default:
			}
		}
		heartbeat.Reset(s.heartbeatEvery)
	}
}

// readLoop parses inbound frames. Malformed JSON is logged and ignored; a
// read error closes the channel and ends the connection.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, log *slog.Logger, inbound chan<- events.ClientMessage) {
	defer close(inbound)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg events.ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn("Invalid WebSocket message", "error", err)
			continue
		}
		select {
		case inbound <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// handleClientMessage dispatches one inbound message and sends its
// correlated reply.
func (s *Server) handleClientMessage(ctx context.Context, conn *websocket.Conn, log *slog.Logger, msg events.ClientMessage) bool {
	switch msg.Type {
	case "get_parameters":
		return s.send(ctx, conn, log, events.New(events.EventTypeCurrentParameters, s.Params()))

	case "update_parameters":
		updated, err := s.applyParameters(msg.Parameters)
		if err != nil {
			log.Warn("Parameter update rejected", "error", err)
			return s.send(ctx, conn, log, events.New(events.EventTypeParameterUpdateError,
				map[string]any{"message": err.Error()}))
		}
		return s.send(ctx, conn, log, events.New(events.EventTypeParameterUpdateOK, updated))

	case "start_benchmark":
		accepted, reason := s.requestStart()
		return s.send(ctx, conn, log, events.New(events.EventTypeBenchmarkStartRequested,
			map[string]any{"accepted": accepted, "message": reason}))

	default:
		log.Debug("Ignoring unknown WebSocket message type", "type", msg.Type)
		return true
	}
}

// requestStart invokes the start hook, if any, on a fresh goroutine.
func (s *Server) requestStart() (bool, string) {
	s.mu.Lock()
	fn := s.startFn
	s.mu.Unlock()

	if fn == nil {
		return false, "no benchmark runner attached"
	}
	go func() {
		if err := fn(); err != nil {
			s.logger.Warn("Benchmark start rejected", "error", err)
		}
	}()
	return true, "benchmark start requested"
}

// send writes one event with a bounded timeout. Returns false when the
// connection is no longer usable.
func (s *Server) send(ctx context.Context, conn *websocket.Conn, log *slog.Logger, ev events.StreamEvent) bool {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Warn("Failed to marshal event", "event_type", ev.EventType, "error", err)
		return true
	}

	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		log.Debug("WebSocket write failed", "error", err)
		return false
	}
	return true
}
