package dashboard

import (
	"log/slog"
	"sync"
	"time"

	"github.com/trussbench/trussbench/pkg/events"
	"github.com/trussbench/trussbench/pkg/models"
)

// Streaming is the Dashboard implementation backed by the event bus. It owns
// the BenchmarkStatus singleton and the per-run tracking fields.
type Streaming struct {
	bus    *events.Bus
	logger *slog.Logger

	mu     sync.Mutex
	status models.BenchmarkStatus

	// Run tracking for the current (scenario, concurrency) cell.
	runStartTime time.Time
	runDuration  time.Duration
	maxRequests  int
}

// NewStreaming creates the bus-backed dashboard. The bus may already be
// closed; every emit then degrades to a debug-logged drop inside the bus.
func NewStreaming(bus *events.Bus, logger *slog.Logger) *Streaming {
	return &Streaming{
		bus:    bus,
		logger: logger.With("component", "dashboard"),
		status: models.BenchmarkStatus{Status: models.StateIdle},
	}
}

func (d *Streaming) emit(eventType string, data any) {
	d.bus.Publish(events.New(eventType, data))
}

// UpdateBenchmarkStatus applies a mutation to the status singleton and
// broadcasts the updated copy.
func (d *Streaming) UpdateBenchmarkStatus(apply func(*models.BenchmarkStatus)) {
	d.mu.Lock()
	apply(&d.status)
	snapshot := d.status
	d.mu.Unlock()

	d.emit(events.EventTypeStatus, snapshot)
}

// Status returns a copy of the current benchmark status.
func (d *Streaming) Status() models.BenchmarkStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

func (d *Streaming) UpdateMetricsPanels(live models.LiveMetrics) {
	d.emit(events.EventTypeMetrics, live)
}

// HistogramPayload carries the server-side binned distributions for the two
// latency panels.
type HistogramPayload struct {
	TTFT          HistogramData `json:"ttft"`
	OutputLatency HistogramData `json:"output_latency"`
}

func (d *Streaming) UpdateHistogramPanel(live models.LiveMetrics) {
	d.emit(events.EventTypeHistogram, HistogramPayload{
		TTFT:          computeHistogram(live.TTFT),
		OutputLatency: computeHistogram(live.OutputLatency),
	})
}

func (d *Streaming) UpdateScatterPlotPanel(point models.ScatterPoint) {
	d.emit(events.EventTypeScatter, point)
}

// UpdateRPSVsLatencyPlot emits one point on the throughput-vs-latency plot.
// source labels which stat produced the latency value.
func (d *Streaming) UpdateRPSVsLatencyPlot(rps, latency float64, source string) {
	d.emit(events.EventTypeRPSVsLatency, map[string]any{
		"rps":            rps,
		"e2e_latency":    latency,
		"latency_source": source,
	})
}

// UpdateIterationRPSVsLatency derives the per-cell RPS point from the final
// aggregates. When no latency window has samples (every request failed) no
// point is emitted.
func (d *Streaming) UpdateIterationRPSVsLatency(concurrency int, agg models.AggregateStats, runTime time.Duration, totalRequests int) {
	if runTime <= 0 {
		return
	}
	latency, source, ok := LatencyProxy(agg)
	if !ok {
		d.logger.Debug("No latency samples for iteration; skipping RPS point",
			"concurrency", concurrency)
		return
	}
	rps := float64(totalRequests) / runTime.Seconds()
	d.UpdateRPSVsLatencyPlot(rps, latency, source)
}

func (d *Streaming) UpdateBenchmarkProgressBars(pct float64) {
	d.mu.Lock()
	d.status.ProgressPercentage = pct
	d.mu.Unlock()

	d.emit(events.EventTypeProgress, map[string]any{"progress": pct})
}

func (d *Streaming) CreateBenchmarkProgressTask(name string) {
	d.emit(events.EventTypeTaskCreated, map[string]any{"task_name": name})
}

// StartRun records the timing envelope of the upcoming run cell and
// announces it.
func (d *Streaming) StartRun(runTime time.Duration, startTime time.Time, maxRequests int) {
	d.mu.Lock()
	d.runStartTime = startTime
	d.runDuration = runTime
	d.maxRequests = maxRequests
	d.mu.Unlock()

	d.emit(events.EventTypeRunStarted, map[string]any{
		"start_time":   float64(startTime.UnixNano()) / float64(time.Second),
		"run_time":     runTime.Seconds(),
		"max_requests": maxRequests,
	})
}

// HandleSingleRequest is the per-completion hook. Every completion emits
// request_processed; only successful ones refresh the metric panels.
func (d *Streaming) HandleSingleRequest(live models.LiveMetrics, point models.ScatterPoint, success bool, totalRequests, errorCode int) {
	d.emit(events.EventTypeRequestProcessed, map[string]any{
		"total_requests": totalRequests,
		"error_code":     errorCode,
	})
	if !success {
		return
	}
	d.UpdateMetricsPanels(live)
	d.UpdateHistogramPanel(live)
	d.UpdateScatterPlotPanel(point)
}

// ResetPlotMetrics clears the plot replay rings and tells clients to clear
// their plots.
func (d *Streaming) ResetPlotMetrics() {
	d.bus.History().ResetPlots()
	d.emit(events.EventTypeMetricsReset, nil)
}

func (d *Streaming) ResetPanels() {
	d.emit(events.EventTypePanelsReset, nil)
}

func (d *Streaming) ResetRunTracking() {
	d.mu.Lock()
	d.runStartTime = time.Time{}
	d.runDuration = 0
	d.maxRequests = 0
	d.mu.Unlock()
}

func (d *Streaming) AddLogMessage(msg, level string) {
	d.emit(events.EventTypeLog, map[string]any{
		"message": msg,
		"level":   level,
	})
}

// AddHistoricalData appends a completed-run summary to the replay history.
// Live clients already received the run's rps_vs_latency point; the summary
// list is for late joiners and the REST surface.
func (d *Streaming) AddHistoricalData(summary models.RunSummary) {
	d.bus.History().AddRunSummary(summary)
}

// LatencyProxy picks the latency stat for the RPS-vs-latency plot using a
// fixed preference order and returns the label of the stat chosen.
func LatencyProxy(agg models.AggregateStats) (value float64, source string, ok bool) {
	switch {
	case agg.TTFT != nil:
		return agg.TTFT.Mean, "ttft.mean", true
	case agg.OutputLatency != nil:
		return agg.OutputLatency.Mean, "output_latency.mean", true
	case agg.E2ELatency != nil:
		return agg.E2ELatency.Mean, "e2e_latency.mean", true
	default:
		return 0, "", false
	}
}
