package capture

import (
	"log/slog"
	"strings"

	"github.com/chaz8081/ble-logger/internal/metrics"
)

// KeySource supplies the current routing key.
type KeySource interface {
	RoutingKey() string
}

// Recorder turns notification payloads into buffered lines and hands full
// buffers to the Flusher.
type Recorder struct {
	buf     *Buffer
	flusher *Flusher
	keys    KeySource
	metrics *metrics.Metrics
}

// NewRecorder wires a buffer to a flusher. keys is read each time a batch
// leaves the buffer.
func NewRecorder(buf *Buffer, flusher *Flusher, keys KeySource, m *metrics.Metrics) *Recorder {
	return &Recorder{buf: buf, flusher: flusher, keys: keys, metrics: m}
}

// Handle is the notification callback. It decodes payload as one text line
// and never blocks on the sink.
func (r *Recorder) Handle(payload []byte) {
	r.metrics.Notification()
	line := strings.TrimRight(string(payload), "\r\n")
	batch, full := r.buf.Append(line)
	if full {
		r.enqueue(batch)
	}
	r.metrics.SetBuffered(r.buf.Len())
}

// Flush hands whatever is buffered to the flusher.
func (r *Recorder) Flush() {
	r.enqueue(r.buf.Drain())
	r.metrics.SetBuffered(0)
}

// Reset drops buffered lines without writing them.
func (r *Recorder) Reset() {
	n := r.buf.Clear()
	r.metrics.Discarded(n)
	r.metrics.SetBuffered(0)
	if n > 0 {
		slog.Info("[CMD] buffer cleared", "discarded", n)
	}
}

// Discard drops buffered lines after the peripheral went away.
func (r *Recorder) Discard() {
	n := r.buf.Clear()
	r.metrics.Discarded(n)
	r.metrics.SetBuffered(0)
	if n > 0 {
		slog.Warn("[BLE] discarded partial buffer after disconnect", "lines", n)
	}
}

// Buffered returns the number of lines waiting for the next flush.
func (r *Recorder) Buffered() int {
	return r.buf.Len()
}

// enqueue captures the routing key before the batch is handed off, so a key
// change after this point does not redirect the batch.
func (r *Recorder) enqueue(lines []string) {
	if len(lines) == 0 {
		return
	}
	r.flusher.Enqueue(Batch{Key: r.keys.RoutingKey(), Lines: lines})
}
