package capture

import (
	"log/slog"
	"sync"

	"github.com/chaz8081/ble-logger/internal/metrics"
)

// DefaultQueueSize is the number of batches that may wait for the sink.
const DefaultQueueSize = 16

// Sink persists a batch of lines under a name.
type Sink interface {
	Append(name string, lines []string) error
}

// Batch is a set of lines bound to the routing key captured when the batch
// left the buffer.
type Batch struct {
	Key   string
	Lines []string
}

// Flusher moves batches from the notification path to the sink on its own
// goroutine so notification delivery never waits on disk I/O.
type Flusher struct {
	sink    Sink
	metrics *metrics.Metrics

	mu     sync.Mutex
	queue  chan Batch
	closed bool
	done   chan struct{}
}

// NewFlusher returns a flusher with room for queueSize pending batches.
// A queueSize below 1 uses DefaultQueueSize.
func NewFlusher(sink Sink, queueSize int, m *metrics.Metrics) *Flusher {
	if queueSize < 1 {
		queueSize = DefaultQueueSize
	}
	return &Flusher{
		sink:    sink,
		metrics: m,
		queue:   make(chan Batch, queueSize),
		done:    make(chan struct{}),
	}
}

// Enqueue hands b to the writer goroutine without blocking. It returns false
// and drops the batch if the queue is full or the flusher is closed.
func (f *Flusher) Enqueue(b Batch) bool {
	if len(b.Lines) == 0 {
		return true
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		slog.Error("[SINK] flusher closed, dropping batch", "key", b.Key, "lines", len(b.Lines))
		f.metrics.Dropped()
		return false
	}
	select {
	case f.queue <- b:
		return true
	default:
		slog.Error("[SINK] flush queue full, dropping batch", "key", b.Key, "lines", len(b.Lines))
		f.metrics.Dropped()
		return false
	}
}

// Run writes queued batches until Close is called and the queue is empty.
func (f *Flusher) Run() {
	defer close(f.done)
	for b := range f.queue {
		f.write(b)
	}
}

// Close stops accepting batches. Run returns once everything already queued
// has been written. Safe to call more than once.
func (f *Flusher) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	close(f.queue)
}

// Done is closed when Run has returned.
func (f *Flusher) Done() <-chan struct{} {
	return f.done
}

// write appends one batch. Failures are logged and the batch is abandoned.
func (f *Flusher) write(b Batch) {
	if err := f.sink.Append(b.Key, b.Lines); err != nil {
		slog.Error("[SINK] append failed", "key", b.Key, "lines", len(b.Lines), "error", err)
		f.metrics.WriteError("sink")
		return
	}
	f.metrics.Flushed(len(b.Lines))
	slog.Debug("[SINK] flushed batch", "key", b.Key, "lines", len(b.Lines))
}
