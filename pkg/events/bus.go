package events

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultQueueSize is the per-subscriber channel capacity.
const DefaultQueueSize = 256

var droppedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "trussbench_events_dropped_total",
	Help: "Events dropped from slow subscriber queues.",
})

// Bus fans published events out to per-subscriber buffered channels and
// records replayable event types into History.
//
// Publishing never blocks on a slow subscriber: when a queue is full the
// oldest queued event is discarded to make room for the new one.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]chan StreamEvent
	queueSize   int
	closed      bool

	dropped atomic.Int64

	history *History
}

// NewBus creates a Bus with the given per-subscriber queue capacity.
// queueSize <= 0 uses DefaultQueueSize.
func NewBus(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Bus{
		subscribers: make(map[string]chan StreamEvent),
		queueSize:   queueSize,
		history:     NewHistory(),
	}
}

// History returns the replay buffers owned by this bus.
func (b *Bus) History() *History {
	return b.history
}

// Subscribe registers a subscriber and returns its event channel. The
// channel is closed by Unsubscribe or Close.
func (b *Bus) Subscribe(id string) <-chan StreamEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan StreamEvent)
		close(ch)
		return ch
	}

	ch := make(chan StreamEvent, b.queueSize)
	b.subscribers[id] = ch
	return ch
}

// Unsubscribe removes a subscriber and closes its channel. Safe to call for
// an unknown id.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(ch)
	}
}

// Publish records the event into history and enqueues it to every
// subscriber. On a closed bus the event is dropped silently.
func (b *Bus) Publish(ev StreamEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		slog.Debug("Event dropped: bus closed", "event_type", ev.EventType)
		return
	}

	b.history.Record(ev)

	for id, ch := range b.subscribers {
		b.enqueue(id, ch, ev)
	}
}

// enqueue delivers one event to one subscriber queue, evicting the oldest
// queued event when full. Called with mu held (read).
func (b *Bus) enqueue(id string, ch chan StreamEvent, ev StreamEvent) {
	for {
		select {
		case ch <- ev:
			return
		default:
		}
		// Queue full: pop the oldest and retry. The receiver may have
		// drained concurrently, so the pop itself must not block.
		select {
		case <-ch:
			b.dropped.Add(1)
			droppedTotal.Inc()
			slog.Debug("Event dropped: subscriber queue full", "subscriber_id", id)
		default:
		}
	}
}

// Dropped returns the total number of events evicted from subscriber queues.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Subscribers returns the number of active subscribers.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Active reports whether the bus is accepting events.
func (b *Bus) Active() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.closed
}

// Close stops delivery and closes all subscriber channels. Publish after
// Close is a silent drop.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subscribers {
		delete(b.subscribers, id)
		close(ch)
	}
}
