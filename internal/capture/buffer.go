// Package capture batches notification payloads and hands full batches to a
// sink under the routing key that was active when the batch was taken.
package capture

import "sync"

// DefaultCapacity is the number of lines buffered before a flush.
const DefaultCapacity = 256

// Buffer accumulates lines up to a fixed capacity. Every method is a single
// critical section, so Append and Clear never interleave.
type Buffer struct {
	mu       sync.Mutex
	lines    []string
	capacity int
}

// NewBuffer returns an empty buffer. A capacity below 1 uses DefaultCapacity.
func NewBuffer(capacity int) *Buffer {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		lines:    make([]string, 0, capacity),
		capacity: capacity,
	}
}

// Append adds line. When the buffer reaches capacity its contents are
// drained and returned with full set, leaving the buffer empty.
func (b *Buffer) Append(line string) (batch []string, full bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, line)
	if len(b.lines) < b.capacity {
		return nil, false
	}
	return b.drainLocked(), true
}

// Drain removes and returns everything buffered.
func (b *Buffer) Drain() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.lines) == 0 {
		return nil
	}
	return b.drainLocked()
}

// Clear drops all buffered lines without returning them and reports how
// many were dropped.
func (b *Buffer) Clear() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.lines)
	b.lines = b.lines[:0]
	return n
}

// Len returns the number of buffered lines.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines)
}

// IsFull reports whether the buffer holds capacity lines or more.
func (b *Buffer) IsFull() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines) >= b.capacity
}

// Capacity returns the flush threshold.
func (b *Buffer) Capacity() int {
	return b.capacity
}

// drainLocked swaps in a fresh slice so the returned batch is never aliased
// by later appends. Caller must hold mu.
func (b *Buffer) drainLocked() []string {
	batch := b.lines
	b.lines = make([]string, 0, b.capacity)
	return batch
}
