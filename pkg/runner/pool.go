package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trussbench/trussbench/pkg/dashboard"
	"github.com/trussbench/trussbench/pkg/metrics"
	"github.com/trussbench/trussbench/pkg/models"
)

// RunState is the lifecycle state of one pool run.
type RunState string

const (
	RunQueued    RunState = "queued"
	RunStarting  RunState = "starting"
	RunRunning   RunState = "running"
	RunDraining  RunState = "draining"
	RunDone      RunState = "done"
	RunFailed    RunState = "failed"
	RunCancelled RunState = "cancelled"
)

// Stop reasons, first one recorded wins.
const (
	stopMaxRequests = "max_requests"
	stopMaxDuration = "max_duration"
	stopCancelled   = "cancelled"
	stopSampler     = "sampler"
)

// RequestDoer issues one request. Satisfied by *executor.Executor.
type RequestDoer interface {
	Do(ctx context.Context, req models.UserRequest) models.UserResponse
}

// PoolConfig bounds one (scenario, concurrency) run.
type PoolConfig struct {
	Concurrency int

	// MaxRequests stops the run once completions reach it. The predicate is
	// completed >= MaxRequests, so 0 finishes immediately with no requests
	// issued. Negative means unbounded (the run is bounded by MaxDuration).
	MaxRequests int

	// MaxDuration stops the run after this much wall time. 0 means the run
	// is bounded by MaxRequests only.
	MaxDuration time.Duration
}

// RunResult is what a finished run reports back to the scheduler.
type RunResult struct {
	State         RunState
	TotalRequests int
	Elapsed       time.Duration
}

// Pool holds exactly Concurrency requests in flight until a termination
// predicate fires, then drains.
//
// Workers self-schedule: each one loops sample → execute → record, so a new
// request launches only when that worker's previous request completed
// (tail-launching). At start exactly Concurrency workers launch together.
type Pool struct {
	cfg       PoolConfig
	sampler   Sampler
	newDoer   func() RequestDoer
	collector *metrics.Collector
	dash      dashboard.Dashboard
	logger    *slog.Logger

	mu         sync.Mutex
	state      RunState
	stopReason string

	issued    atomic.Int64
	completed atomic.Int64
	inFlight  atomic.Int64
}

// NewPool creates a pool. newDoer is called once per worker so every worker
// owns its own HTTP client.
func NewPool(cfg PoolConfig, sampler Sampler, newDoer func() RequestDoer,
	collector *metrics.Collector, dash dashboard.Dashboard, logger *slog.Logger) *Pool {
	return &Pool{
		cfg:       cfg,
		sampler:   sampler,
		newDoer:   newDoer,
		collector: collector,
		dash:      dash,
		logger:    logger.With("component", "pool"),
		state:     RunQueued,
	}
}

// State returns the run's current lifecycle state.
func (p *Pool) State() RunState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// InFlight returns the number of requests currently being executed.
func (p *Pool) InFlight() int64 {
	return p.inFlight.Load()
}

func (p *Pool) setState(s RunState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// noteStop records the first termination cause.
func (p *Pool) noteStop(reason string) {
	p.mu.Lock()
	if p.stopReason == "" {
		p.stopReason = reason
	}
	p.mu.Unlock()
}

// Run blocks until the run terminates and all in-flight requests drained.
// The returned error is non-nil only for sampler/infrastructure failures;
// hitting a request or time bound is a normal completion.
func (p *Pool) Run(ctx context.Context) (RunResult, error) {
	if p.cfg.Concurrency <= 0 {
		return RunResult{State: RunFailed}, fmt.Errorf("concurrency must be positive, got %d", p.cfg.Concurrency)
	}

	p.setState(RunStarting)
	start := time.Now()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if p.cfg.MaxDuration > 0 {
		timer := time.AfterFunc(p.cfg.MaxDuration, func() {
			p.noteStop(stopMaxDuration)
			cancel()
		})
		defer timer.Stop()
	}

	var samplerErr error
	var samplerOnce sync.Once
	failSampler := func(err error) {
		samplerOnce.Do(func() {
			samplerErr = err
			p.noteStop(stopSampler)
			cancel()
		})
	}

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			doer := p.newDoer()
			p.workerLoop(runCtx, cancel, doer, failSampler)
		}(i)
	}
	p.setState(RunRunning)

	wg.Wait()
	p.setState(RunDraining)

	if ctx.Err() != nil {
		p.noteStop(stopCancelled)
	}

	p.mu.Lock()
	reason := p.stopReason
	p.mu.Unlock()

	result := RunResult{
		TotalRequests: int(p.completed.Load()),
		Elapsed:       time.Since(start),
	}

	switch {
	case samplerErr != nil:
		result.State = RunFailed
		p.setState(RunFailed)
		return result, samplerErr
	case reason == stopCancelled:
		result.State = RunCancelled
		p.setState(RunCancelled)
		return result, nil
	default:
		result.State = RunDone
		p.setState(RunDone)
		p.logger.Info("Run complete",
			"total_requests", result.TotalRequests,
			"elapsed", result.Elapsed,
			"stop_reason", reason)
		return result, nil
	}
}

// workerLoop issues requests until the run context is cancelled or the
// request budget is exhausted.
func (p *Pool) workerLoop(ctx context.Context, cancel context.CancelFunc,
	doer RequestDoer, failSampler func(error)) {
	for {
		if ctx.Err() != nil {
			return
		}
		if p.cfg.MaxRequests >= 0 && p.issued.Add(1) > int64(p.cfg.MaxRequests) {
			return
		}

		req, err := p.sampler.Sample()
		if err != nil {
			p.logger.Error("Sampler failed", "error", err)
			failSampler(err)
			return
		}

		resp := p.execute(ctx, doer, req)

		completed := p.completed.Add(1)
		point, ok := p.collector.Process(&resp)
		live := p.collector.Snapshot()
		p.dash.HandleSingleRequest(live, point, ok, live.TotalRequests, resp.StatusCode)

		if p.cfg.MaxRequests >= 0 && completed >= int64(p.cfg.MaxRequests) {
			p.noteStop(stopMaxRequests)
			cancel()
			return
		}
	}
}

// execute wraps one request with in-flight accounting and panic recovery.
// A panicking request becomes a status -1 response; it never kills the run.
func (p *Pool) execute(ctx context.Context, doer RequestDoer, req models.UserRequest) (resp models.UserResponse) {
	p.inFlight.Add(1)
	defer p.inFlight.Add(-1)

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Request panicked", "panic", r)
			now := time.Now()
			resp = models.UserResponse{
				StatusCode:   -1,
				StartTime:    now,
				EndTime:      now,
				ErrorMessage: fmt.Sprintf("panic: %v", r),
			}
		}
	}()

	return doer.Do(ctx, req)
}
