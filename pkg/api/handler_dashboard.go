package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/trussbench/trussbench/pkg/events"
	"github.com/trussbench/trussbench/pkg/models"

	_ "embed"
)

//go:embed static/index.html
var indexHTML []byte

// historySnapshot is the GET /api/history shape: every replay buffer plus
// the current status. Also the payload of the historical_data WS event.
type historySnapshot struct {
	events.HistoricalData
	CurrentStatus models.BenchmarkStatus `json:"current_status"`
}

func (s *Server) snapshotHistory() historySnapshot {
	return historySnapshot{
		HistoricalData: s.bus.History().Snapshot(),
		CurrentStatus:  s.dash.Status(),
	}
}

// handleIndex serves the embedded fallback dashboard page.
func (s *Server) handleIndex(c *echo.Context) error {
	return c.HTMLBlob(http.StatusOK, indexHTML)
}

// handleStatus handles GET /api/status.
func (s *Server) handleStatus(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.dash.Status())
}

// handleHistory handles GET /api/history.
func (s *Server) handleHistory(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.snapshotHistory())
}

// handleHistoricalData handles GET /api/historical-data: just the
// completed-run summaries.
func (s *Server) handleHistoricalData(c *echo.Context) error {
	snap := s.bus.History().Snapshot()
	summaries := snap.HistoricalData
	if summaries == nil {
		summaries = []models.RunSummary{}
	}
	return c.JSON(http.StatusOK, summaries)
}

// connectionInfo bootstraps remote UIs.
type connectionInfo struct {
	DashboardURL string `json:"dashboard_url"`
	WebsocketURL string `json:"websocket_url"`
	Host         string `json:"host"`
	Port         int    `json:"port"`
	Protocol     string `json:"protocol"`
}

// handleConnectionInfo handles GET /api/connection-info.
func (s *Server) handleConnectionInfo(c *echo.Context) error {
	host := c.Request().Host
	if host == "" {
		host = s.http.Addr
	}
	return c.JSON(http.StatusOK, connectionInfo{
		DashboardURL: "http://" + host + "/",
		WebsocketURL: "ws://" + host + "/ws",
		Host:         s.host,
		Port:         s.port,
		Protocol:     "http",
	})
}

// handleMetrics handles GET /api/metrics: the latest live snapshot, which
// may be empty before the first run.
func (s *Server) handleMetrics(c *echo.Context) error {
	return c.JSON(http.StatusOK, s.collector.Snapshot())
}
