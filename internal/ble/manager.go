package ble

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chaz8081/ble-logger/internal/metrics"
	"github.com/chaz8081/ble-logger/internal/session"
)

// State is a connection manager state.
type State int

const (
	StateIdle State = iota
	StateDiscovering
	StateAwaitingSelection
	StateConnecting
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDiscovering:
		return "discovering"
	case StateAwaitingSelection:
		return "awaiting_selection"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// LineReader supplies operator input.
type LineReader interface {
	ReadLine(ctx context.Context) (string, error)
}

// Handlers are the data-path callbacks the manager drives.
type Handlers struct {
	// Notification receives every payload from the read characteristic.
	// It runs on the transport's goroutine and must not block.
	Notification func(payload []byte)
	// Disconnect runs after the peripheral drops, before the cooldown.
	Disconnect func()
}

// ManagerOptions configures the connection manager.
type ManagerOptions struct {
	ServiceUUID    string        // advertised service to filter on; empty lists every device
	ReadCharUUID   string        // notify characteristic streamed to the sink
	WriteCharUUID  string        // characteristic operator commands are written to
	ScanTimeout    time.Duration // length of one discovery scan
	ConnectTimeout time.Duration // bound on a single connect attempt
	Warmup         time.Duration // delay before each scan
	PollInterval   time.Duration // connected-state poll period
	Cooldown       time.Duration // wait after a failed connect or a disconnect

	Output  io.Writer // operator-facing messages; defaults to os.Stdout
	Metrics *metrics.Metrics
}

// DefaultManagerOptions returns the timings the field firmware was tuned for.
func DefaultManagerOptions() ManagerOptions {
	return ManagerOptions{
		ReadCharUUID:   DefaultReadCharUUID,
		WriteCharUUID:  DefaultWriteCharUUID,
		ScanTimeout:    5 * time.Second,
		ConnectTimeout: 10 * time.Second,
		Warmup:         2 * time.Second,
		PollInterval:   3 * time.Second,
		Cooldown:       15 * time.Second,
	}
}

// Manager owns the single peripheral connection: it discovers devices, asks
// the operator to pick one, connects, subscribes, and starts over after a
// failure or disconnect.
type Manager struct {
	adapter  Adapter
	sess     *session.Session
	input    LineReader
	handlers Handlers
	opts     ManagerOptions
	out      io.Writer

	// sleep waits for d or until ctx is done. Replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error

	mu           sync.Mutex
	state        State
	devices      []Device
	selected     *Device
	conn         Connection
	readChar     Characteristic
	disconnects  chan struct{}
	onTransition func(from, to State)

	connecting atomic.Bool
}

// NewManager creates a manager in StateIdle. Zero timeouts and poll interval
// fall back to DefaultManagerOptions; zero Warmup and Cooldown mean no wait.
func NewManager(adapter Adapter, sess *session.Session, input LineReader, handlers Handlers, opts ManagerOptions) *Manager {
	def := DefaultManagerOptions()
	if opts.ReadCharUUID == "" {
		opts.ReadCharUUID = def.ReadCharUUID
	}
	if opts.WriteCharUUID == "" {
		opts.WriteCharUUID = def.WriteCharUUID
	}
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = def.ScanTimeout
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = def.ConnectTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	return &Manager{
		adapter:  adapter,
		sess:     sess,
		input:    input,
		handlers: handlers,
		opts:     opts,
		out:      out,
		sleep:    sleepContext,
	}
}

// OnTransition registers fn to be called after every state change.
func (m *Manager) OnTransition(fn func(from, to State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onTransition = fn
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Selected returns the device chosen by the operator, if any.
func (m *Manager) Selected() (Device, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.selected == nil {
		return Device{}, false
	}
	return *m.selected, true
}

// Run drives the state machine until ctx is done or operator input is
// exhausted. Transport failures never end the loop.
func (m *Manager) Run(ctx context.Context) error {
	slog.Info("[BLE] starting connection manager")
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var err error
		switch m.State() {
		case StateIdle:
			m.transition(StateDiscovering)
		case StateDiscovering:
			err = m.discover(ctx)
		case StateAwaitingSelection:
			err = m.awaitSelection(ctx)
		case StateConnecting:
			err = m.attemptConnect(ctx)
		case StateConnected:
			err = m.waitWhileConnected(ctx)
		case StateDisconnected:
			err = m.recoverFromDisconnect(ctx)
		}
		if err != nil {
			return err
		}
	}
}

// discover scans once. A failed or empty scan stays in StateDiscovering
// after the cooldown.
func (m *Manager) discover(ctx context.Context) error {
	fmt.Fprintln(m.out, "Bluetooth LE hardware warming up...")
	if err := m.sleep(ctx, m.opts.Warmup); err != nil {
		return err
	}

	devices, err := ScanForDevices(ctx, m.adapter, m.opts.ServiceUUID, m.opts.ScanTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("[BLE] discovery failed, retrying after cooldown", "error", err, "cooldown", m.opts.Cooldown)
		return m.sleep(ctx, m.opts.Cooldown)
	}

	m.mu.Lock()
	m.devices = devices
	m.mu.Unlock()
	slog.Info("[BLE] discovered devices", "count", len(devices))
	m.transition(StateAwaitingSelection)
	return nil
}

// awaitSelection prompts until the operator enters a valid index.
func (m *Manager) awaitSelection(ctx context.Context) error {
	m.mu.Lock()
	devices := m.devices
	m.mu.Unlock()

	fmt.Fprintln(m.out, "Please select device:")
	for i, d := range devices {
		fmt.Fprintf(m.out, "%d: %s (%s, %d dBm)\n", i, d.DisplayName(), d.Address, d.RSSI)
	}

	for {
		fmt.Fprint(m.out, "Select device: ")
		line, err := m.input.ReadLine(ctx)
		if err != nil {
			return err
		}

		idx, err := ParseSelection(line, len(devices))
		if err != nil {
			slog.Debug("[BLE] rejected selection", "input", line, "error", err)
			fmt.Fprintln(m.out, "Please make valid selection.")
			continue
		}

		sel := devices[idx]
		m.mu.Lock()
		m.selected = &sel
		m.mu.Unlock()
		fmt.Fprintf(m.out, "Connecting to %s\n", sel.DisplayName())
		m.transition(StateConnecting)
		return nil
	}
}

// attemptConnect connects to the selected device. Failure goes back to
// discovery after the cooldown.
func (m *Manager) attemptConnect(ctx context.Context) error {
	err := m.connect(ctx)
	if err == nil {
		m.transition(StateConnected)
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	sel, _ := m.Selected()
	slog.Error("[BLE] connect failed", "device", sel.DisplayName(), "error", err, "cooldown", m.opts.Cooldown)
	fmt.Fprintf(m.out, "Failed to connect to %s\n", sel.DisplayName())
	if err := m.sleep(ctx, m.opts.Cooldown); err != nil {
		return err
	}
	m.transition(StateDiscovering)
	return nil
}

// connect opens the link, registers the disconnect callback and subscribes.
// It is a no-op while a connection is already attached.
func (m *Manager) connect(ctx context.Context) error {
	if m.sess.Connected() {
		return nil
	}
	if !m.connecting.CompareAndSwap(false, true) {
		return ErrConnectInFlight
	}
	defer m.connecting.Store(false)

	sel, ok := m.Selected()
	if !ok {
		return fmt.Errorf("%w: no device selected", ErrConnect)
	}

	cctx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	defer cancel()

	conn, err := m.adapter.Connect(cctx, sel.Address)
	if err != nil {
		m.opts.Metrics.ConnectAttempt("failure")
		return fmt.Errorf("%w: %v", ErrConnect, err)
	}

	fail := func(action string, err error) error {
		_ = conn.Disconnect()
		m.opts.Metrics.ConnectAttempt("failure")
		return fmt.Errorf("%w: %s: %v", ErrConnect, action, err)
	}

	readChar, err := conn.DiscoverCharacteristic(m.opts.ServiceUUID, m.opts.ReadCharUUID)
	if err != nil {
		return fail("discover read characteristic", err)
	}
	writeChar, err := conn.DiscoverCharacteristic(m.opts.ServiceUUID, m.opts.WriteCharUUID)
	if err != nil {
		return fail("discover write characteristic", err)
	}

	// Buffered so a drop that lands before Run starts waiting is not lost.
	disconnects := make(chan struct{}, 1)
	conn.OnDisconnect(func() {
		select {
		case disconnects <- struct{}{}:
		default:
		}
	})

	handler := m.handlers.Notification
	if handler == nil {
		handler = func([]byte) {}
	}
	if err := readChar.Subscribe(handler); err != nil {
		return fail("subscribe", err)
	}

	m.mu.Lock()
	m.conn = conn
	m.readChar = readChar
	m.disconnects = disconnects
	m.mu.Unlock()

	m.sess.Attach(sel.DisplayName(), writeChar)
	m.opts.Metrics.ConnectAttempt("success")
	slog.Info("[BLE] connected", "device", sel.DisplayName(), "address", sel.Address)
	fmt.Fprintf(m.out, "Connected to %s\n", sel.DisplayName())
	return nil
}

// waitWhileConnected returns once the peripheral drops.
func (m *Manager) waitWhileConnected(ctx context.Context) error {
	m.mu.Lock()
	disconnects := m.disconnects
	m.mu.Unlock()

	ticker := time.NewTicker(m.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-disconnects:
			m.transition(StateDisconnected)
			return nil
		case <-ticker.C:
			if !m.sess.Connected() {
				m.transition(StateDisconnected)
				return nil
			}
		}
	}
}

// recoverFromDisconnect drops the dead link and the partial buffer, waits
// the cooldown, and starts discovery again.
func (m *Manager) recoverFromDisconnect(ctx context.Context) error {
	name := m.sess.DeviceName()
	m.sess.Detach()
	slog.Warn("[BLE] disconnected", "device", name, "cooldown", m.opts.Cooldown)
	fmt.Fprintf(m.out, "Disconnected from %s!\n", name)

	if m.handlers.Disconnect != nil {
		m.handlers.Disconnect()
	}

	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.readChar = nil
	m.disconnects = nil
	m.mu.Unlock()
	if conn != nil {
		// Release the stale handle; the link is already gone.
		_ = conn.Disconnect()
	}

	if err := m.sleep(ctx, m.opts.Cooldown); err != nil {
		return err
	}
	m.transition(StateDiscovering)
	return nil
}

// Cleanup stops notifications and disconnects if a connection exists. It is
// idempotent and safe to call when nothing was ever connected.
func (m *Manager) Cleanup() error {
	m.mu.Lock()
	conn := m.conn
	readChar := m.readChar
	m.conn = nil
	m.readChar = nil
	m.disconnects = nil
	m.mu.Unlock()

	m.sess.Detach()
	if conn == nil {
		return nil
	}

	slog.Info("[BLE] cleaning up connection")
	var errs []error
	if readChar != nil {
		if err := readChar.Unsubscribe(); err != nil {
			errs = append(errs, fmt.Errorf("ble: stop notifications: %w", err))
		}
	}
	if err := conn.Disconnect(); err != nil {
		errs = append(errs, fmt.Errorf("ble: disconnect: %w", err))
	}
	return errors.Join(errs...)
}

func (m *Manager) transition(to State) {
	m.mu.Lock()
	from := m.state
	m.state = to
	hook := m.onTransition
	m.mu.Unlock()

	m.opts.Metrics.SetState(int(to))
	slog.Debug("[BLE] state change", "from", from, "to", to)
	if hook != nil {
		hook(from, to)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
