// Package console reads operator lines from a terminal for whichever loop
// is currently waiting on input.
package console

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// DefaultMaxLineBytes bounds a single operator line. Longer lines are
// dropped with a warning and reading continues.
const DefaultMaxLineBytes = 64 * 1024

// Reader pumps lines from an io.Reader on a background goroutine. Lines are
// delivered one at a time to ReadLine callers; a line nobody asked for stays
// queued for the next caller.
type Reader struct {
	lines   chan string
	done    chan struct{}
	maxLine int

	mu  sync.Mutex
	err error
}

// NewReader starts reading r with DefaultMaxLineBytes. The goroutine exits
// when r returns EOF or an error.
func NewReader(r io.Reader) *Reader {
	return NewReaderSize(r, DefaultMaxLineBytes)
}

// NewReaderSize is NewReader with an explicit line limit. A limit below 1
// uses DefaultMaxLineBytes.
func NewReaderSize(r io.Reader, maxLine int) *Reader {
	if maxLine < 1 {
		maxLine = DefaultMaxLineBytes
	}
	rd := &Reader{
		lines:   make(chan string),
		done:    make(chan struct{}),
		maxLine: maxLine,
	}
	go rd.pump(r)
	return rd
}

func (r *Reader) pump(src io.Reader) {
	defer close(r.done)
	br := bufio.NewReader(src)

	var (
		buf       []byte
		oversized bool
	)
	for {
		frag, isPrefix, err := br.ReadLine()
		if err != nil {
			r.finish(err)
			return
		}
		if !oversized {
			if len(buf)+len(frag) > r.maxLine {
				oversized = true
				buf = buf[:0]
			} else {
				buf = append(buf, frag...)
			}
		}
		if isPrefix {
			continue
		}

		if oversized {
			slog.Warn("[CONSOLE] input line too long, ignored", "limit", r.maxLine)
			oversized = false
			continue
		}
		line := strings.TrimRight(string(buf), "\r")
		buf = buf[:0]
		r.lines <- line
	}
}

func (r *Reader) finish(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// ReadLine blocks until a line is available, ctx is done, or the input is
// exhausted (io.EOF). A context that is already done always wins, so a
// pending line is left for the next caller.
func (r *Reader) ReadLine(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	select {
	case line := <-r.lines:
		return line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-r.done:
		r.mu.Lock()
		defer r.mu.Unlock()
		return "", r.err
	}
}
