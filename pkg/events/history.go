package events

import (
	"sync"

	"github.com/trussbench/trussbench/pkg/models"
)

// Ring buffer caps. The histogram ring is smaller because each entry carries
// full bin arrays.
const (
	DefaultRingCap   = 1000
	HistogramRingCap = 100
)

// ring is a bounded FIFO of events. Appending to a full ring evicts the
// oldest entry.
type ring struct {
	entries []StreamEvent
	cap     int
}

func newRing(cap int) *ring {
	return &ring{cap: cap}
}

func (r *ring) add(ev StreamEvent) {
	if len(r.entries) >= r.cap {
		r.entries = r.entries[1:]
	}
	r.entries = append(r.entries, ev)
}

func (r *ring) snapshot() []StreamEvent {
	out := make([]StreamEvent, len(r.entries))
	copy(out, r.entries)
	return out
}

func (r *ring) clear() {
	r.entries = nil
}

// HistoricalData is the payload of the historical_data event a client
// receives right after connecting, and of GET /api/historical-data.
type HistoricalData struct {
	MetricsHistory   []StreamEvent       `json:"metrics_history"`
	LogHistory       []StreamEvent       `json:"log_history"`
	StatusHistory    []StreamEvent       `json:"status_history"`
	ScatterHistory   []StreamEvent       `json:"scatter_history"`
	HistogramHistory []StreamEvent       `json:"histogram_history"`
	HistoricalData   []models.RunSummary `json:"historical_data"`
}

// History holds the bounded replay buffers. The historical_data run-summary
// list is unbounded here; the scheduler bounds it by the size of the
// scenario × concurrency grid.
type History struct {
	mu         sync.RWMutex
	metrics    *ring
	logs       *ring
	status     *ring
	scatter    *ring
	histogram  *ring
	historical []models.RunSummary
}

func NewHistory() *History {
	return &History{
		metrics:   newRing(DefaultRingCap),
		logs:      newRing(DefaultRingCap),
		status:    newRing(DefaultRingCap),
		scatter:   newRing(DefaultRingCap),
		histogram: newRing(HistogramRingCap),
	}
}

// Record files the event into the ring for its type. Event types without a
// replay ring (progress, heartbeat, resets) are broadcast-only and ignored
// here.
func (h *History) Record(ev StreamEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch ev.EventType {
	case EventTypeMetrics:
		h.metrics.add(ev)
	case EventTypeLog:
		h.logs.add(ev)
	case EventTypeStatus:
		h.status.add(ev)
	case EventTypeScatter:
		h.scatter.add(ev)
	case EventTypeHistogram:
		h.histogram.add(ev)
	}
}

// AddRunSummary appends a completed-run summary to the historical list.
func (h *History) AddRunSummary(s models.RunSummary) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.historical = append(h.historical, s)
}

// Snapshot returns a deep copy of every buffer.
func (h *History) Snapshot() HistoricalData {
	h.mu.RLock()
	defer h.mu.RUnlock()

	hist := make([]models.RunSummary, len(h.historical))
	copy(hist, h.historical)

	return HistoricalData{
		MetricsHistory:   h.metrics.snapshot(),
		LogHistory:       h.logs.snapshot(),
		StatusHistory:    h.status.snapshot(),
		ScatterHistory:   h.scatter.snapshot(),
		HistogramHistory: h.histogram.snapshot(),
		HistoricalData:   hist,
	}
}

// ResetPlots clears the metrics, scatter, and histogram rings. Log and
// status history survive plot resets, as does the run-summary list.
func (h *History) ResetPlots() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.metrics.clear()
	h.scatter.clear()
	h.histogram.clear()
}
