// Package metrics exposes Prometheus counters and gauges for the logger.
// All methods are safe to call on a nil *Metrics, which records nothing.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "blelogger"

// Metrics holds the logger's collectors and the registry they live in.
type Metrics struct {
	registry *prometheus.Registry

	NotificationsReceived prometheus.Counter
	BatchesFlushed        prometheus.Counter
	LinesWritten          prometheus.Counter
	BatchesDropped        prometheus.Counter
	LinesDiscarded        prometheus.Counter
	WriteErrors           *prometheus.CounterVec
	ConnectAttempts       *prometheus.CounterVec
	CommandsReceived      *prometheus.CounterVec
	ConnectionState       prometheus.Gauge
	BufferedLines         prometheus.Gauge
}

// New creates a Metrics instance registered on its own registry, together
// with the standard Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		NotificationsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ble",
			Name:      "notifications_received_total",
			Help:      "Notification payloads received from the peripheral",
		}),
		BatchesFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "batches_flushed_total",
			Help:      "Batches successfully appended to an output file",
		}),
		LinesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "lines_written_total",
			Help:      "Records appended to output files",
		}),
		BatchesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "batches_dropped_total",
			Help:      "Batches dropped because the flush queue was full or closed",
		}),
		LinesDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "buffer",
			Name:      "lines_discarded_total",
			Help:      "Buffered lines dropped by a reset command or a disconnect",
		}),
		WriteErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_errors_total",
			Help:      "Failed writes by target (sink or peripheral)",
		}, []string{"target"}),
		ConnectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ble",
			Name:      "connect_attempts_total",
			Help:      "Connection attempts by result",
		}, []string{"result"}),
		CommandsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "command",
			Name:      "received_total",
			Help:      "Operator commands by kind (forward or reset)",
		}, []string{"kind"}),
		ConnectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ble",
			Name:      "connection_state",
			Help:      "Connection manager state (0=idle, 1=discovering, 2=awaiting_selection, 3=connecting, 4=connected, 5=disconnected)",
		}),
		BufferedLines: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "buffer",
			Name:      "lines",
			Help:      "Lines currently held in the notification buffer",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.NotificationsReceived,
		m.BatchesFlushed,
		m.LinesWritten,
		m.BatchesDropped,
		m.LinesDiscarded,
		m.WriteErrors,
		m.ConnectAttempts,
		m.CommandsReceived,
		m.ConnectionState,
		m.BufferedLines,
	)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Notification records one received payload.
func (m *Metrics) Notification() {
	if m == nil {
		return
	}
	m.NotificationsReceived.Inc()
}

// Flushed records a batch of n lines appended to the sink.
func (m *Metrics) Flushed(n int) {
	if m == nil {
		return
	}
	m.BatchesFlushed.Inc()
	m.LinesWritten.Add(float64(n))
}

// Dropped records a batch that never reached the sink.
func (m *Metrics) Dropped() {
	if m == nil {
		return
	}
	m.BatchesDropped.Inc()
}

// Discarded records n buffered lines thrown away.
func (m *Metrics) Discarded(n int) {
	if m == nil || n == 0 {
		return
	}
	m.LinesDiscarded.Add(float64(n))
}

// WriteError records a failed write to target ("sink" or "peripheral").
func (m *Metrics) WriteError(target string) {
	if m == nil {
		return
	}
	m.WriteErrors.WithLabelValues(target).Inc()
}

// ConnectAttempt records a connection attempt outcome ("success" or "failure").
func (m *Metrics) ConnectAttempt(result string) {
	if m == nil {
		return
	}
	m.ConnectAttempts.WithLabelValues(result).Inc()
}

// Command records an operator command of the given kind.
func (m *Metrics) Command(kind string) {
	if m == nil {
		return
	}
	m.CommandsReceived.WithLabelValues(kind).Inc()
}

// SetState records the numeric connection manager state.
func (m *Metrics) SetState(state int) {
	if m == nil {
		return
	}
	m.ConnectionState.Set(float64(state))
}

// SetBuffered records the current buffer length.
func (m *Metrics) SetBuffered(n int) {
	if m == nil {
		return
	}
	m.BufferedLines.Set(float64(n))
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("[METRICS] listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
