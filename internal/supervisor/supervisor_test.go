package supervisor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaz8081/ble-logger/internal/ble"
	"github.com/chaz8081/ble-logger/internal/capture"
	"github.com/chaz8081/ble-logger/internal/session"
)

// callLog records the order of shutdown steps across fakes.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(s string) {
	l.mu.Lock()
	l.calls = append(l.calls, s)
	l.mu.Unlock()
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type fakeManager struct {
	log        *callLog
	runErr     error
	cleanupErr error
	onCleanup  func()

	mu       sync.Mutex
	cleanups int
}

func (m *fakeManager) Run(ctx context.Context) error {
	if m.runErr != nil {
		return m.runErr
	}
	<-ctx.Done()
	return ctx.Err()
}

func (m *fakeManager) Cleanup() error {
	m.mu.Lock()
	m.cleanups++
	m.mu.Unlock()
	m.log.add("cleanup")
	if m.onCleanup != nil {
		m.onCleanup()
	}
	return m.cleanupErr
}

func (m *fakeManager) State() ble.State { return ble.StateConnected }

func (m *fakeManager) cleanupCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cleanups
}

type fakeRouter struct {
	err error
}

func (r *fakeRouter) Run(ctx context.Context) error {
	if r.err != nil {
		return r.err
	}
	<-ctx.Done()
	return ctx.Err()
}

type fakeRecorder struct {
	log *callLog
}

func (r *fakeRecorder) Flush()        { r.log.add("flush") }
func (r *fakeRecorder) Buffered() int { return 0 }

type fakeFlusher struct {
	log  *callLog
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func newFakeFlusher(log *callLog) *fakeFlusher {
	return &fakeFlusher{log: log, stop: make(chan struct{}), done: make(chan struct{})}
}

func (f *fakeFlusher) Run() {
	<-f.stop
	f.log.add("drained")
	close(f.done)
}

func (f *fakeFlusher) Close() {
	f.once.Do(func() {
		f.log.add("close")
		close(f.stop)
	})
}

func (f *fakeFlusher) Done() <-chan struct{} { return f.done }

type fakeKeys struct{}

func (fakeKeys) RoutingKey() string { return "walk" }

func newTestSupervisor(t *testing.T, mgr *fakeManager, router *fakeRouter, log *callLog, out io.Writer) *Supervisor {
	t.Helper()
	sup, err := New(Options{
		Manager:           mgr,
		Router:            router,
		Recorder:          &fakeRecorder{log: log},
		Flusher:           newFakeFlusher(log),
		Keys:              fakeKeys{},
		HeartbeatInterval: time.Millisecond,
		Output:            out,
	})
	require.NoError(t, err)
	return sup
}

func TestRunCancelledShutsDownInOrder(t *testing.T) {
	log := &callLog{}
	mgr := &fakeManager{log: log}
	var out bytes.Buffer
	sup := newTestSupervisor(t, mgr, &fakeRouter{}, log, &out)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- sup.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, []string{"cleanup", "flush", "close", "drained"}, log.snapshot())
	assert.Equal(t, 1, mgr.cleanupCount())
	assert.Contains(t, out.String(), "User stopped program.")
	assert.Contains(t, out.String(), "Disconnecting...")
}

func TestRunInputEOFIsNormalStop(t *testing.T) {
	log := &callLog{}
	mgr := &fakeManager{log: log}
	var out bytes.Buffer
	sup := newTestSupervisor(t, mgr, &fakeRouter{err: io.EOF}, log, &out)

	err := sup.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, mgr.cleanupCount())
	assert.NotContains(t, out.String(), "User stopped program.")
}

func TestRunTaskFailureStillCleansUp(t *testing.T) {
	log := &callLog{}
	boom := errors.New("adapter gone")
	mgr := &fakeManager{log: log, runErr: boom}
	sup := newTestSupervisor(t, mgr, &fakeRouter{}, log, io.Discard)

	err := sup.Run(context.Background())

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, mgr.cleanupCount())
}

func TestShutdownRunsCleanupOnce(t *testing.T) {
	log := &callLog{}
	mgr := &fakeManager{log: log, cleanupErr: errors.New("unsubscribe failed")}
	sup := newTestSupervisor(t, mgr, &fakeRouter{}, log, io.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, sup.Run(ctx), "cleanup errors do not fail a normal stop")

	err := sup.Shutdown()
	assert.EqualError(t, err, "unsubscribe failed")
	assert.Equal(t, 1, mgr.cleanupCount())
}

func TestNewRequiresComponents(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

type memorySink struct {
	mu      sync.Mutex
	written map[string][]string
}

func (s *memorySink) Append(name string, lines []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.written == nil {
		s.written = map[string][]string{}
	}
	s.written[name] = append(s.written[name], lines...)
	return nil
}

func (s *memorySink) snapshot() map[string][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

// A notification delivered while the manager is unsubscribing must still
// reach the sink through the final flush.
func TestShutdownFlushesNotificationsArrivingDuringCleanup(t *testing.T) {
	out := &memorySink{}
	sess := session.New()
	sess.SetRoutingKey("walk")
	flusher := capture.NewFlusher(out, 4, nil)
	rec := capture.NewRecorder(capture.NewBuffer(8), flusher, sess, nil)

	rec.Handle([]byte("1\n"))
	mgr := &fakeManager{log: &callLog{}, onCleanup: func() {
		rec.Handle([]byte("2\n"))
	}}

	sup, err := New(Options{
		Manager:  mgr,
		Router:   &fakeRouter{},
		Recorder: rec,
		Flusher:  flusher,
		Keys:     sess,
		Output:   io.Discard,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, sup.Run(ctx))

	assert.Equal(t, map[string][]string{"walk": {"1", "2"}}, out.snapshot())
	assert.Zero(t, rec.Buffered())
}
