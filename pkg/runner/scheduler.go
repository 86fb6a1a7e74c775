package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/trussbench/trussbench/pkg/dashboard"
	"github.com/trussbench/trussbench/pkg/metrics"
	"github.com/trussbench/trussbench/pkg/models"
)

// SchedulerConfig is the full benchmark plan.
type SchedulerConfig struct {
	Scenarios     []string
	Concurrencies []int

	// Per-cell bounds. At least one must be positive or a run would never
	// terminate; Validate enforces that.
	MaxRequestsPerRun int
	MaxTimePerRun     time.Duration

	Model string
	Task  models.Task
}

// Validate rejects plans that cannot run.
func (c SchedulerConfig) Validate() error {
	if len(c.Scenarios) == 0 {
		return fmt.Errorf("at least one traffic scenario is required")
	}
	if len(c.Concurrencies) == 0 {
		return fmt.Errorf("at least one concurrency level is required")
	}
	for _, n := range c.Concurrencies {
		if n <= 0 {
			return fmt.Errorf("concurrency levels must be positive, got %d", n)
		}
	}
	if c.MaxRequestsPerRun <= 0 && c.MaxTimePerRun <= 0 {
		return fmt.Errorf("either max_requests_per_run or max_time_per_run must be set")
	}
	return nil
}

// Scheduler walks scenarios × concurrencies (scenarios outer) and runs one
// pool per cell.
type Scheduler struct {
	cfg       SchedulerConfig
	collector *metrics.Collector
	dash      dashboard.Dashboard
	logger    *slog.Logger

	// newSampler and newDoer are injectable for tests.
	newSampler func(scenario string) (Sampler, error)
	newDoer    func() RequestDoer
}

// NewScheduler builds a scheduler. newDoer is handed down to each pool and
// called once per worker.
func NewScheduler(cfg SchedulerConfig, collector *metrics.Collector,
	dash dashboard.Dashboard, newDoer func() RequestDoer, logger *slog.Logger) *Scheduler {
	s := &Scheduler{
		cfg:       cfg,
		collector: collector,
		dash:      dash,
		logger:    logger.With("component", "scheduler"),
		newDoer:   newDoer,
	}
	s.newSampler = func(scenario string) (Sampler, error) {
		return NewScenarioSampler(scenario, cfg.Model, cfg.Task, time.Now().UnixNano())
	}
	return s
}

// Run executes the whole plan. Returns ctx.Err() on interrupt, a non-nil
// error on sampler/infrastructure failure, nil when every cell completed.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.cfg.Validate(); err != nil {
		return s.fail(err)
	}

	totalCells := len(s.cfg.Scenarios) * len(s.cfg.Concurrencies)
	startTime := time.Now()

	s.dash.UpdateBenchmarkStatus(func(st *models.BenchmarkStatus) {
		st.Status = models.StateInitializing
		st.TotalScenarios = len(s.cfg.Scenarios)
		st.TotalIterations = totalCells
		st.StartTime = unixSeconds(startTime)
		st.ProgressPercentage = 0
		st.ErrorMessage = ""
	})

	cellsDone := 0
	for _, scenario := range s.cfg.Scenarios {
		for _, concurrency := range s.cfg.Concurrencies {
			if ctx.Err() != nil {
				return s.interrupted(ctx)
			}
			if err := s.runCell(ctx, scenario, concurrency, cellsDone, totalCells); err != nil {
				if ctx.Err() != nil {
					return s.interrupted(ctx)
				}
				return s.fail(err)
			}
			cellsDone++
			s.dash.UpdateBenchmarkProgressBars(100 * float64(cellsDone) / float64(totalCells))
		}
	}

	s.dash.UpdateBenchmarkStatus(func(st *models.BenchmarkStatus) {
		st.Status = models.StateCompleted
		st.ProgressPercentage = 100
	})
	s.logger.Info("Benchmark complete", "cells", totalCells, "elapsed", time.Since(startTime))
	return nil
}

// runCell runs one (scenario, concurrency) pairing end to end.
func (s *Scheduler) runCell(ctx context.Context, scenario string, concurrency, cellIndex, totalCells int) error {
	runName := fmt.Sprintf("%s_concurrency_%d", scenario, concurrency)
	s.logger.Info("Starting run", "run_name", runName,
		"scenario", scenario, "concurrency", concurrency)

	// Fresh windows and panels for every cell.
	s.collector.Reset()
	s.dash.ResetPlotMetrics()
	s.dash.ResetPanels()
	s.dash.ResetRunTracking()

	start := time.Now()
	s.dash.CreateBenchmarkProgressTask(runName)
	s.dash.StartRun(s.cfg.MaxTimePerRun, start, s.cfg.MaxRequestsPerRun)
	s.dash.UpdateBenchmarkStatus(func(st *models.BenchmarkStatus) {
		st.Status = models.StateRunning
		st.CurrentScenario = scenario
		st.CurrentIteration = cellIndex + 1
		st.CurrentConcurrency = concurrency
		st.ProgressPercentage = 100 * float64(cellIndex) / float64(totalCells)
	})

	sampler, err := s.newSampler(scenario)
	if err != nil {
		return err
	}

	// Config leaves max_requests at 0 for duration-bounded runs; the pool's
	// zero is a literal zero-request budget.
	maxRequests := s.cfg.MaxRequestsPerRun
	if maxRequests <= 0 {
		maxRequests = -1
	}
	pool := NewPool(PoolConfig{
		Concurrency: concurrency,
		MaxRequests: maxRequests,
		MaxDuration: s.cfg.MaxTimePerRun,
	}, sampler, s.newDoer, s.collector, s.dash, s.logger)

	result, err := pool.Run(ctx)
	if err != nil {
		return err
	}
	if result.State == RunCancelled {
		return ctx.Err()
	}

	live := s.collector.Snapshot()
	s.dash.UpdateIterationRPSVsLatency(concurrency, live.Stats, result.Elapsed, result.TotalRequests)

	summary := models.RunSummary{
		RunName:       runName,
		Scenario:      scenario,
		Concurrency:   concurrency,
		TotalRequests: result.TotalRequests,
		ErrorCounts:   live.ErrorCounts,
		RunTime:       result.Elapsed.Seconds(),
		Stats:         live.Stats,
		Timestamp:     unixSeconds(time.Now()),
	}
	if result.Elapsed > 0 {
		summary.RPS = float64(result.TotalRequests) / result.Elapsed.Seconds()
	}
	if latency, source, ok := dashboard.LatencyProxy(live.Stats); ok {
		summary.Latency = latency
		summary.LatencyProxy = source
	}
	s.dash.AddHistoricalData(summary)

	return nil
}

func (s *Scheduler) fail(err error) error {
	s.logger.Error("Benchmark failed", "error", err)
	s.dash.UpdateBenchmarkStatus(func(st *models.BenchmarkStatus) {
		st.Status = models.StateFailed
		st.ErrorMessage = err.Error()
	})
	return err
}

func (s *Scheduler) interrupted(ctx context.Context) error {
	s.logger.Warn("Benchmark interrupted")
	s.dash.UpdateBenchmarkStatus(func(st *models.BenchmarkStatus) {
		st.Status = models.StateFailed
		st.ErrorMessage = "interrupted"
	})
	return ctx.Err()
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
