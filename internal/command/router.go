// Package command reads operator commands, switches the active output
// stream, and forwards each command to the peripheral.
package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/chaz8081/ble-logger/internal/ble/protocol"
	"github.com/chaz8081/ble-logger/internal/metrics"
	"github.com/chaz8081/ble-logger/internal/session"
)

// DefaultStopKeyword clears the notification buffer instead of being
// forwarded.
const DefaultStopKeyword = "stop"

// LineReader supplies operator input.
type LineReader interface {
	ReadLine(ctx context.Context) (string, error)
}

// Resetter drops buffered notification data.
type Resetter interface {
	Reset()
}

// Options configures the router.
type Options struct {
	StopKeyword   string        // compared case-insensitively; default "stop"
	IdleInterval  time.Duration // re-check period while disconnected
	MaxWriteBytes int           // longer commands are rejected, not split

	Output  io.Writer // prompt destination; defaults to os.Stdout
	Metrics *metrics.Metrics
}

// DefaultOptions returns the router defaults.
func DefaultOptions() Options {
	return Options{
		StopKeyword:   DefaultStopKeyword,
		IdleInterval:  2 * time.Second,
		MaxWriteBytes: protocol.DefaultMaxWriteBytes,
	}
}

// Router is the operator command loop. Every command both names the output
// stream and is sent to the device; the stop keyword only resets the buffer.
type Router struct {
	sess   *session.Session
	input  LineReader
	buffer Resetter
	opts   Options
	out    io.Writer
}

// NewRouter creates a router. Zero values in opts use DefaultOptions.
func NewRouter(sess *session.Session, input LineReader, buffer Resetter, opts Options) *Router {
	def := DefaultOptions()
	if opts.StopKeyword == "" {
		opts.StopKeyword = def.StopKeyword
	}
	if opts.IdleInterval <= 0 {
		opts.IdleInterval = def.IdleInterval
	}
	if opts.MaxWriteBytes <= 0 {
		opts.MaxWriteBytes = def.MaxWriteBytes
	}
	opts.StopKeyword = strings.ToLower(strings.TrimSpace(opts.StopKeyword))
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	return &Router{sess: sess, input: input, buffer: buffer, opts: opts, out: out}
}

// Run reads commands while a peripheral is connected and idles otherwise.
// It returns when ctx is done or the input is exhausted.
func (r *Router) Run(ctx context.Context) error {
	idle := time.NewTicker(r.opts.IdleInterval)
	defer idle.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !r.sess.Connected() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-idle.C:
			}
			continue
		}

		line, err := r.readWhileConnected(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, context.Canceled) {
				// The link dropped while waiting; the line, if any, is left
				// for device selection.
				continue
			}
			return err
		}
		r.Handle(line)
	}
}

// readWhileConnected reads one line, giving up when the connection drops.
func (r *Router) readWhileConnected(ctx context.Context) (string, error) {
	lctx, cancel := r.sess.Link(ctx)
	defer cancel()
	fmt.Fprint(r.out, "Enter command: ")
	return r.input.ReadLine(lctx)
}

// Handle processes one operator line. Blank lines are ignored.
func (r *Router) Handle(line string) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return
	}

	key := r.sess.SetRoutingKey(line)
	if key == r.opts.StopKeyword {
		slog.Info("[CMD] stop keyword received, clearing buffer", "key", key)
		r.opts.Metrics.Command("reset")
		r.buffer.Reset()
		return
	}

	r.opts.Metrics.Command("forward")
	slog.Info("[CMD] routing to new stream", "key", key)
	if err := r.forward(line); err != nil {
		slog.Error("[CMD] forward to peripheral failed", "command", line, "error", err)
		r.opts.Metrics.WriteError("peripheral")
	}
}

// forward sends the raw command bytes to the peripheral as one write.
func (r *Router) forward(line string) error {
	payload, err := protocol.EncodeCommand(line, r.opts.MaxWriteBytes)
	if err != nil {
		return fmt.Errorf("command: %w", err)
	}
	if err := r.sess.Write(payload); err != nil {
		return fmt.Errorf("command: write %q: %w", line, err)
	}
	return nil
}
