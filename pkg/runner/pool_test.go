package runner

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trussbench/trussbench/pkg/dashboard"
	"github.com/trussbench/trussbench/pkg/metrics"
	"github.com/trussbench/trussbench/pkg/models"
)

// fakeDoer is a deterministic RequestDoer that records the peak number of
// concurrent calls.
type fakeDoer struct {
	delay      time.Duration
	statusCode int
	panicAfter int64 // panic on calls after this many, 0 = never

	calls       atomic.Int64
	inFlight    atomic.Int64
	maxInFlight atomic.Int64
}

func (d *fakeDoer) Do(ctx context.Context, req models.UserRequest) models.UserResponse {
	cur := d.inFlight.Add(1)
	defer d.inFlight.Add(-1)
	for {
		max := d.maxInFlight.Load()
		if cur <= max || d.maxInFlight.CompareAndSwap(max, cur) {
			break
		}
	}

	if n := d.calls.Add(1); d.panicAfter > 0 && n > d.panicAfter {
		panic("doer exploded")
	}

	start := time.Now()
	if d.delay > 0 {
		select {
		case <-time.After(d.delay):
		case <-ctx.Done():
			return models.UserResponse{
				StatusCode:   -1,
				StartTime:    start,
				EndTime:      time.Now(),
				ErrorMessage: ctx.Err().Error(),
			}
		}
	}

	code := d.statusCode
	if code == 0 {
		code = 200
	}
	now := time.Now()
	return models.UserResponse{
		StatusCode:       code,
		StartTime:        start,
		TimeAtFirstToken: start.Add(time.Millisecond),
		EndTime:          now,
		TokensReceived:   5,
		NumPrefillTokens: 10,
	}
}

// recordingDash captures facade calls; everything else is a no-op.
type recordingDash struct {
	dashboard.Null

	mu            sync.Mutex
	singleReqs    int
	errorCodes    []int
	rpsPoints     int
	statusUpdates []models.BenchmarkStatus
	runsStarted   int
	taskNames     []string
	summaries     []models.RunSummary
	status        models.BenchmarkStatus
}

func (r *recordingDash) HandleSingleRequest(_ models.LiveMetrics, _ models.ScatterPoint, _ bool, _ int, errorCode int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.singleReqs++
	r.errorCodes = append(r.errorCodes, errorCode)
}

func (r *recordingDash) UpdateIterationRPSVsLatency(int, models.AggregateStats, time.Duration, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rpsPoints++
}

func (r *recordingDash) UpdateBenchmarkStatus(apply func(*models.BenchmarkStatus)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	apply(&r.status)
	r.statusUpdates = append(r.statusUpdates, r.status)
}

func (r *recordingDash) Status() models.BenchmarkStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *recordingDash) StartRun(time.Duration, time.Time, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runsStarted++
}

func (r *recordingDash) CreateBenchmarkProgressTask(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.taskNames = append(r.taskNames, name)
}

func (r *recordingDash) AddHistoricalData(s models.RunSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaries = append(r.summaries, s)
}

type staticSampler struct{}

func (staticSampler) Sample() (models.UserRequest, error) {
	return &models.ChatRequest{Model: "m", Prompt: "p", NumPrefillTokens: 10, MaxTokens: 5}, nil
}

type failingSampler struct{ after atomic.Int64 }

func (f *failingSampler) Sample() (models.UserRequest, error) {
	if f.after.Add(-1) < 0 {
		return nil, errors.New("dataset exhausted")
	}
	return staticSampler{}.Sample()
}

func newTestPool(cfg PoolConfig, sampler Sampler, doer RequestDoer, dash dashboard.Dashboard) *Pool {
	return NewPool(cfg, sampler, func() RequestDoer { return doer },
		metrics.NewCollector(0), dash, slog.Default())
}

func TestPoolStopsAtMaxRequests(t *testing.T) {
	doer := &fakeDoer{}
	dash := &recordingDash{}
	pool := newTestPool(PoolConfig{Concurrency: 4, MaxRequests: 20}, staticSampler{}, doer, dash)

	result, err := pool.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, RunDone, result.State)
	assert.Equal(t, 20, result.TotalRequests)
	assert.Equal(t, int64(20), doer.calls.Load(), "exactly the budget is issued")
	assert.Equal(t, 20, dash.singleReqs, "per-completion hook fires once per request")
}

func TestPoolConcurrencyNeverExceeded(t *testing.T) {
	doer := &fakeDoer{delay: 2 * time.Millisecond}
	pool := newTestPool(PoolConfig{Concurrency: 4, MaxRequests: 60}, staticSampler{}, doer, &recordingDash{})

	_, err := pool.Run(context.Background())

	require.NoError(t, err)
	assert.LessOrEqual(t, doer.maxInFlight.Load(), int64(4))
	assert.Equal(t, int64(4), doer.maxInFlight.Load(),
		"all workers run simultaneously at start")
	assert.Zero(t, pool.InFlight())
}

func TestPoolStopsAtMaxDuration(t *testing.T) {
	doer := &fakeDoer{delay: 5 * time.Millisecond}
	pool := newTestPool(PoolConfig{Concurrency: 2, MaxRequests: -1, MaxDuration: 50 * time.Millisecond},
		staticSampler{}, doer, &recordingDash{})

	start := time.Now()
	result, err := pool.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, RunDone, result.State)
	assert.Greater(t, result.TotalRequests, 0)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestPoolCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	doer := &fakeDoer{delay: 5 * time.Millisecond}
	pool := newTestPool(PoolConfig{Concurrency: 2, MaxRequests: -1, MaxDuration: time.Minute},
		staticSampler{}, doer, &recordingDash{})

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	result, err := pool.Run(ctx)

	require.NoError(t, err)
	assert.Equal(t, RunCancelled, result.State)
	assert.Equal(t, RunCancelled, pool.State())
}

func TestPoolSamplerFailureFailsRun(t *testing.T) {
	sampler := &failingSampler{}
	sampler.after.Store(5)
	pool := newTestPool(PoolConfig{Concurrency: 2, MaxRequests: 100},
		sampler, &fakeDoer{}, &recordingDash{})

	result, err := pool.Run(context.Background())

	require.ErrorContains(t, err, "dataset exhausted")
	assert.Equal(t, RunFailed, result.State)
}

func TestPoolPanicBecomesErrorResponse(t *testing.T) {
	doer := &fakeDoer{panicAfter: 3}
	dash := &recordingDash{}
	pool := newTestPool(PoolConfig{Concurrency: 1, MaxRequests: 5}, staticSampler{}, doer, dash)

	result, err := pool.Run(context.Background())

	require.NoError(t, err, "a panicking request never aborts the run")
	assert.Equal(t, RunDone, result.State)
	assert.Equal(t, 5, result.TotalRequests)
	assert.Contains(t, dash.errorCodes, -1)
}

func TestPoolErrorResponsesStillAdvanceHook(t *testing.T) {
	doer := &fakeDoer{statusCode: 503}
	dash := &recordingDash{}
	pool := newTestPool(PoolConfig{Concurrency: 2, MaxRequests: 10}, staticSampler{}, doer, dash)

	result, err := pool.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 10, result.TotalRequests)
	assert.Equal(t, 10, dash.singleReqs)
	for _, code := range dash.errorCodes {
		assert.Equal(t, 503, code)
	}
}

// A zero request budget is satisfied before anything launches.
func TestPoolZeroBudgetCompletesImmediately(t *testing.T) {
	doer := &fakeDoer{}
	dash := &recordingDash{}
	pool := newTestPool(PoolConfig{Concurrency: 4, MaxRequests: 0}, staticSampler{}, doer, dash)

	result, err := pool.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, RunDone, result.State)
	assert.Zero(t, result.TotalRequests)
	assert.Zero(t, doer.calls.Load())
	assert.Zero(t, dash.singleReqs)
}

// With concurrency 1 requests are strictly serialized.
func TestPoolSerializesAtConcurrencyOne(t *testing.T) {
	doer := &fakeDoer{delay: time.Millisecond}
	pool := newTestPool(PoolConfig{Concurrency: 1, MaxRequests: 10}, staticSampler{}, doer, &recordingDash{})

	result, err := pool.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 10, result.TotalRequests)
	assert.Equal(t, int64(1), doer.maxInFlight.Load())
}

func TestPoolRejectsNonPositiveConcurrency(t *testing.T) {
	pool := newTestPool(PoolConfig{Concurrency: 0, MaxRequests: 1}, staticSampler{}, &fakeDoer{}, &recordingDash{})
	_, err := pool.Run(context.Background())
	assert.Error(t, err)
}
