// Package session holds the routing and connection state shared between the
// connection manager and the command router.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ErrNotConnected is returned by Write when no peripheral is attached.
var ErrNotConnected = errors.New("session: not connected")

// Writer sends raw bytes to the peripheral's write characteristic.
type Writer interface {
	Write(data []byte) error
}

// Session is the single process-wide record of which peripheral is attached
// and which output stream is active. The zero value is not usable; call New.
type Session struct {
	mu         sync.RWMutex
	routingKey string
	deviceName string
	writer     Writer

	// linkCtx is cancelled when the current connection is detached.
	linkCtx    context.Context
	linkCancel context.CancelFunc
}

// New returns a detached Session with an empty routing key.
func New() *Session {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return &Session{linkCtx: ctx, linkCancel: cancel}
}

// RoutingKey returns the active output stream name.
func (s *Session) RoutingKey() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.routingKey
}

// SetRoutingKey stores the lower-cased, trimmed command as the routing key
// and returns the stored value.
func (s *Session) SetRoutingKey(command string) string {
	key := strings.ToLower(strings.TrimSpace(command))
	s.mu.Lock()
	s.routingKey = key
	s.mu.Unlock()
	return key
}

// Attach marks the session connected to the named device. Writes go to w
// until Detach is called.
func (s *Session) Attach(deviceName string, w Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.linkCancel()
	s.deviceName = deviceName
	s.writer = w
	s.linkCtx, s.linkCancel = context.WithCancel(context.Background())
}

// Detach marks the session disconnected and cancels every context handed
// out by Link. Safe to call when already detached.
func (s *Session) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writer = nil
	s.linkCancel()
}

// Connected reports whether a write handle is attached.
func (s *Session) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writer != nil
}

// DeviceName returns the name of the most recently attached device.
func (s *Session) DeviceName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deviceName
}

// Link returns a context derived from parent that is also cancelled when
// the current connection is detached. If nothing is attached the returned
// context is already done.
func (s *Session) Link(parent context.Context) (context.Context, context.CancelFunc) {
	s.mu.RLock()
	link := s.linkCtx
	s.mu.RUnlock()

	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(link, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// Write forwards data to the attached peripheral.
func (s *Session) Write(data []byte) error {
	s.mu.RLock()
	w := s.writer
	s.mu.RUnlock()
	if w == nil {
		return ErrNotConnected
	}
	return w.Write(data)
}
