// Package supervisor runs the logger's long-lived loops together and owns
// the shutdown sequence.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chaz8081/ble-logger/internal/ble"
	"github.com/chaz8081/ble-logger/internal/metrics"
)

// DefaultHeartbeatInterval is how often the status line is logged.
const DefaultHeartbeatInterval = 5 * time.Second

// Connection is the part of ble.Manager the supervisor drives.
type Connection interface {
	Run(ctx context.Context) error
	Cleanup() error
	State() ble.State
}

// Runner is a loop that runs until ctx is done or it fails.
type Runner interface {
	Run(ctx context.Context) error
}

// Recorder is the notification buffer front end.
type Recorder interface {
	Flush()
	Buffered() int
}

// Flusher writes queued batches on its own goroutine.
type Flusher interface {
	Run()
	Close()
	Done() <-chan struct{}
}

// KeySource reports the active output stream.
type KeySource interface {
	RoutingKey() string
}

// Options wires the supervised components together.
type Options struct {
	Manager  Connection
	Router   Runner
	Recorder Recorder
	Flusher  Flusher
	Keys     KeySource

	Metrics           *metrics.Metrics
	MetricsAddr       string // empty disables the HTTP endpoint
	HeartbeatInterval time.Duration
	Output            io.Writer // operator messages; defaults to os.Stdout
}

// Supervisor starts every task, waits for the first to stop, and then
// shuts the rest down in order.
type Supervisor struct {
	opts Options
	out  io.Writer

	cleanupOnce sync.Once
	cleanupErr  error
}

// New returns a Supervisor. Manager, Router, Recorder and Flusher are
// required.
func New(opts Options) (*Supervisor, error) {
	if opts.Manager == nil || opts.Router == nil || opts.Recorder == nil || opts.Flusher == nil {
		return nil, errors.New("supervisor: manager, router, recorder and flusher are required")
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	return &Supervisor{opts: opts, out: out}, nil
}

// Run blocks until ctx is cancelled, operator input ends, or a task fails.
// Cancellation and end of input are a normal stop and return nil.
func (s *Supervisor) Run(ctx context.Context) error {
	go s.opts.Flusher.Run()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.opts.Manager.Run(gctx) })
	g.Go(func() error { return s.opts.Router.Run(gctx) })
	g.Go(func() error { return s.heartbeat(gctx) })
	if s.opts.MetricsAddr != "" && s.opts.Metrics != nil {
		g.Go(func() error { return s.opts.Metrics.Serve(gctx, s.opts.MetricsAddr) })
	}

	err := g.Wait()
	if ctx.Err() != nil {
		fmt.Fprintln(s.out, "User stopped program.")
	} else if errors.Is(err, io.EOF) {
		slog.Info("[SUP] operator input closed")
	}

	fmt.Fprintln(s.out, "Disconnecting...")
	if cerr := s.Shutdown(); cerr != nil {
		slog.Warn("[SUP] cleanup reported errors", "error", cerr)
	}

	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("supervisor: %w", err)
}

// Shutdown stops notifications and releases the peripheral, then flushes
// buffered lines and drains the flush queue. Only the first call
// does any work; later calls return the first call's error. Run must have
// started the flusher.
func (s *Supervisor) Shutdown() error {
	s.cleanupOnce.Do(func() {
		s.cleanupErr = s.opts.Manager.Cleanup()
		s.opts.Recorder.Flush()
		s.opts.Flusher.Close()
		<-s.opts.Flusher.Done()
		slog.Info("[SUP] shutdown complete")
	})
	return s.cleanupErr
}

func (s *Supervisor) heartbeat(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			attrs := []any{
				"state", s.opts.Manager.State().String(),
				"buffered", s.opts.Recorder.Buffered(),
			}
			if s.opts.Keys != nil {
				attrs = append(attrs, "key", s.opts.Keys.RoutingKey())
			}
			slog.Debug("[SUP] heartbeat", attrs...)
		}
	}
}
