// Package dashboard is the producer-facing facade over the event bus. Load
// workers, the metrics collector, and the scheduler never touch the bus
// directly; they call facade methods, which build the corresponding stream
// events, maintain benchmark status and run tracking, and publish.
package dashboard

import (
	"time"

	"github.com/trussbench/trussbench/pkg/models"
)

// Dashboard is the only API surface event producers call. When no bus is
// active (shutdown, headless runs) every method is a silent no-op; producers
// never need to guard their calls.
type Dashboard interface {
	UpdateBenchmarkStatus(apply func(*models.BenchmarkStatus))
	UpdateMetricsPanels(live models.LiveMetrics)
	UpdateHistogramPanel(live models.LiveMetrics)
	UpdateScatterPlotPanel(point models.ScatterPoint)
	UpdateRPSVsLatencyPlot(rps, latency float64, source string)
	UpdateIterationRPSVsLatency(concurrency int, agg models.AggregateStats, runTime time.Duration, totalRequests int)
	UpdateBenchmarkProgressBars(pct float64)
	CreateBenchmarkProgressTask(name string)
	StartRun(runTime time.Duration, startTime time.Time, maxRequests int)
	HandleSingleRequest(live models.LiveMetrics, point models.ScatterPoint, success bool, totalRequests, errorCode int)
	ResetPlotMetrics()
	ResetPanels()
	ResetRunTracking()
	AddLogMessage(msg, level string)
	AddHistoricalData(summary models.RunSummary)

	// Status returns a copy of the current benchmark status.
	Status() models.BenchmarkStatus
}

// Null is a Dashboard that discards everything. Used by headless runs and as
// a default before wiring.
type Null struct{}

func (Null) UpdateBenchmarkStatus(func(*models.BenchmarkStatus)) {}
func (Null) UpdateMetricsPanels(models.LiveMetrics)              {}
func (Null) UpdateHistogramPanel(models.LiveMetrics)             {}
func (Null) UpdateScatterPlotPanel(models.ScatterPoint)          {}
func (Null) UpdateRPSVsLatencyPlot(float64, float64, string)     {}
func (Null) UpdateIterationRPSVsLatency(int, models.AggregateStats, time.Duration, int) {
}
func (Null) UpdateBenchmarkProgressBars(float64)    {}
func (Null) CreateBenchmarkProgressTask(string)     {}
func (Null) StartRun(time.Duration, time.Time, int) {}
func (Null) HandleSingleRequest(models.LiveMetrics, models.ScatterPoint, bool, int, int) {
}
func (Null) ResetPlotMetrics()                   {}
func (Null) ResetPanels()                        {}
func (Null) ResetRunTracking()                   {}
func (Null) AddLogMessage(string, string)        {}
func (Null) AddHistoricalData(models.RunSummary) {}
func (Null) Status() models.BenchmarkStatus {
	return models.BenchmarkStatus{Status: models.StateIdle}
}
