// Package api exposes the dashboard surface: the REST endpoints, the
// Prometheus endpoint, and the live WebSocket stream.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trussbench/trussbench/pkg/config"
	"github.com/trussbench/trussbench/pkg/dashboard"
	"github.com/trussbench/trussbench/pkg/events"
	"github.com/trussbench/trussbench/pkg/metrics"
)

// shutdownGrace bounds in-flight WebSocket sends during shutdown.
const shutdownGrace = 2 * time.Second

var wsClients = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "trussbench_ws_clients",
	Help: "Currently connected WebSocket clients.",
})

// Server is the dashboard HTTP/WS server.
type Server struct {
	host      string
	port      int
	bus       *events.Bus
	dash      dashboard.Dashboard
	collector *metrics.Collector
	logger    *slog.Logger

	echo *echo.Echo
	http *http.Server

	// heartbeatEvery is the per-connection silence threshold before a
	// synthesized heartbeat. Tests shorten it.
	heartbeatEvery time.Duration

	mu        sync.Mutex
	params    config.RunConfig
	accepting bool
	startFn   func() error
	clients   map[string]struct{}
}

// NewServer wires the dashboard surface. params seeds the run parameters
// clients can inspect and update over the WebSocket.
func NewServer(host string, port int, bus *events.Bus, dash dashboard.Dashboard,
	collector *metrics.Collector, params config.RunConfig, logger *slog.Logger) *Server {
	s := &Server{
		host:      host,
		port:      port,
		bus:       bus,
		dash:      dash,
		collector: collector,
		logger:    logger.With("component", "api"),
		params:    params,
		accepting: true,
		clients:   make(map[string]struct{}),

		heartbeatEvery: heartbeatInterval,
	}

	e := echo.New()
	e.Use(securityHeaders())

	e.GET("/", s.handleIndex)
	e.GET("/api/status", s.handleStatus)
	e.GET("/api/history", s.handleHistory)
	e.GET("/api/historical-data", s.handleHistoricalData)
	e.GET("/api/connection-info", s.handleConnectionInfo)
	e.GET("/api/metrics", s.handleMetrics)
	e.GET("/metrics", func(c *echo.Context) error {
		promhttp.Handler().ServeHTTP(c.Response(), c.Request())
		return nil
	})
	e.GET("/ws", s.handleWS)

	s.echo = e
	s.http = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: e,
	}
	return s
}

// SetStartHandler installs the callback invoked when a client requests a
// benchmark start. Called once during wiring.
func (s *Server) SetStartHandler(fn func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startFn = fn
}

// Params returns a copy of the current run parameters.
func (s *Server) Params() config.RunConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

// Start serves until Shutdown. Blocks.
func (s *Server) Start() error {
	s.logger.Info("Dashboard server listening", "addr", s.http.Addr)
	return s.http.ListenAndServe()
}

// Shutdown drains gracefully: stop accepting WS clients, broadcast a final
// status, give in-flight sends a short grace period, then close.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.accepting = false
	s.mu.Unlock()

	status := s.dash.Status()
	s.bus.Publish(events.New(events.EventTypeStatus, status))

	graceCtx, cancel := context.WithTimeout(ctx, shutdownGrace)
	defer cancel()
	<-graceCtx.Done()

	s.bus.Close()
	return s.http.Shutdown(ctx)
}

func (s *Server) acceptingClients() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepting
}

func (s *Server) registerClient(id string) {
	s.mu.Lock()
	s.clients[id] = struct{}{}
	s.mu.Unlock()
	wsClients.Inc()
}

func (s *Server) unregisterClient(id string) {
	s.mu.Lock()
	delete(s.clients, id)
	s.mu.Unlock()
	wsClients.Dec()
}

// ConnectedClients returns the number of active WebSocket clients.
func (s *Server) ConnectedClients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}
