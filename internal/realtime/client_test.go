package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/storefront-notify/internal/backoff"
	"github.com/nhle/storefront-notify/internal/event"
	"github.com/nhle/storefront-notify/internal/model"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

// fakeConn is an in-memory socket. Frames pushed by the test are
// returned from ReadMessage until either side closes it.
type fakeConn struct {
	frames chan []byte
	done   chan struct{}
	once   sync.Once

	mu        sync.Mutex
	readErr   error
	written   [][]byte
	closeCode int
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan []byte, 16), done: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case <-c.done:
		c.mu.Lock()
		defer c.mu.Unlock()
		return nil, c.readErr
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	select {
	case <-c.done:
		return errors.New("closed")
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, data)
	return nil
}

func (c *fakeConn) Close(code int, reason string) error {
	c.end(code, &CloseError{Code: backoff.CodeAbnormal, Reason: "use of closed connection"})
	return nil
}

// serverClose simulates the server ending the connection with code.
func (c *fakeConn) serverClose(code int, reason string) {
	c.end(0, &CloseError{Code: code, Reason: reason})
}

func (c *fakeConn) end(code int, readErr error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.closeCode = code
		c.readErr = readErr
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *fakeConn) writtenFrames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.written))
	for i, w := range c.written {
		out[i] = string(w)
	}
	return out
}

type fakeDialer struct {
	attempts atomic.Int32
	dial     func(ctx context.Context) (Conn, error)
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.attempts.Add(1)
	return d.dial(ctx)
}

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	mu      sync.Mutex
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

func (t *fakeTimer) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// fakeClock records scheduled reconnects; the test fires them by hand.
type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (k *fakeClock) afterFunc(d time.Duration, f func()) timer {
	k.mu.Lock()
	defer k.mu.Unlock()
	t := &fakeTimer{delay: d, fn: f}
	k.timers = append(k.timers, t)
	return t
}

func (k *fakeClock) count() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.timers)
}

func (k *fakeClock) last() *fakeTimer {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.timers[len(k.timers)-1]
}

func (k *fakeClock) delays() []time.Duration {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]time.Duration, len(k.timers))
	for i, t := range k.timers {
		out[i] = t.delay
	}
	return out
}

// recorder captures every lifecycle and message event in order.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, s)
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) has(s string) bool {
	for _, e := range r.all() {
		if e == s {
			return true
		}
	}
	return false
}

func record(d *event.Dispatcher) *recorder {
	r := &recorder{}
	event.Subscribe(d, event.Connected, func(event.Empty) { r.add("connected") })
	event.Subscribe(d, event.Disconnected, func(c event.Closure) { r.add(fmt.Sprintf("disconnected:%d", c.Code)) })
	event.Subscribe(d, event.Error, func(error) { r.add("error") })
	event.Subscribe(d, event.AuthRequired, func(event.Closure) { r.add("authRequired") })
	event.Subscribe(d, event.BackendUnavailable, func(event.Closure) { r.add("backendUnavailable") })
	event.Subscribe(d, event.MaxRetriesExceeded, func(n int) { r.add(fmt.Sprintf("maxRetriesExceeded:%d", n)) })
	event.Subscribe(d, event.Reconnecting, func(rt event.Retry) { r.add(fmt.Sprintf("reconnecting:%d", rt.Attempt)) })
	event.Subscribe(d, event.ServerAck, func(event.Empty) { r.add("serverAck") })
	event.Subscribe(d, event.NotificationCreated, func(n model.Notification) { r.add("created:" + n.ID) })
	event.Subscribe(d, event.UnreadCountReceived, func(n int) { r.add(fmt.Sprintf("unread:%d", n)) })
	event.Subscribe(d, event.ServerError, func(m string) { r.add("serverError:" + m) })
	return r
}

type harness struct {
	client *Client
	dialer *fakeDialer
	clock  *fakeClock
	events *recorder
}

func newHarness(t *testing.T, token string, dial func(ctx context.Context) (Conn, error)) *harness {
	t.Helper()

	d := event.NewDispatcher()
	dialer := &fakeDialer{dial: dial}
	clock := &fakeClock{}
	c := NewClient(Options{
		URL:               func(tok string) string { return "ws://test/ws/notifications/?token=" + tok },
		Token:             func() (string, error) { return token, nil },
		Dispatcher:        d,
		Dialer:            dialer,
		HandshakeTimeout:  50 * time.Millisecond,
		HeartbeatInterval: time.Hour,
	})
	c.afterFunc = clock.afterFunc
	t.Cleanup(c.Disconnect)

	return &harness{client: c, dialer: dialer, clock: clock, events: record(d)}
}

// openHarness returns a harness whose first dial succeeds with conn.
func openHarness(t *testing.T, conn *fakeConn) *harness {
	t.Helper()
	h := newHarness(t, "tok", func(context.Context) (Conn, error) { return conn, nil })
	h.client.Connect()
	require.Eventually(t, func() bool { return h.client.State() == Open }, waitFor, tick)
	return h
}

func TestClient_ConnectIsIdempotent(t *testing.T) {
	release := make(chan struct{})
	conn := newFakeConn()
	h := newHarness(t, "tok", func(ctx context.Context) (Conn, error) {
		<-release
		return conn, nil
	})
	h.client.handshakeTimeout = waitFor

	assert.Equal(t, Connecting, h.client.Connect())
	assert.Equal(t, Connecting, h.client.Connect())
	close(release)

	require.Eventually(t, func() bool { return h.client.State() == Open }, waitFor, tick)
	assert.Equal(t, Open, h.client.Connect())
	assert.Equal(t, int32(1), h.dialer.attempts.Load())
}

func TestClient_ConnectedAndFrames(t *testing.T) {
	conn := newFakeConn()
	h := openHarness(t, conn)

	conn.frames <- []byte(`{"type":"connection_established"}`)
	conn.frames <- []byte(`{"type":"new_notification","notification":{"id":"n9","title":"Shipped"}}`)
	conn.frames <- []byte(`{"type":"unread_count","unread_count":3}`)
	conn.frames <- []byte(`{"type":"error","message":"slow down"}`)

	require.Eventually(t, func() bool { return h.events.has("serverError:slow down") }, waitFor, tick)
	assert.Equal(t,
		[]string{"connected", "serverAck", "created:n9", "unread:3", "serverError:slow down"},
		h.events.all())
	assert.Equal(t, 0, h.client.RetryCount())
}

func TestClient_MalformedFrameKeepsConnectionOpen(t *testing.T) {
	conn := newFakeConn()
	h := openHarness(t, conn)

	conn.frames <- []byte(`this is not json`)
	conn.frames <- []byte(`{"type":"something_new"}`)
	conn.frames <- []byte(`{"type":"new_notification","notification":{"id":"ok","title":"t"}}`)

	require.Eventually(t, func() bool { return h.events.has("created:ok") }, waitFor, tick)
	assert.Equal(t, Open, h.client.State())
	assert.Equal(t, 0, h.clock.count())
}

func TestClient_PongFeedsHeartbeat(t *testing.T) {
	conn := newFakeConn()
	h := openHarness(t, conn)

	h.client.mu.Lock()
	monitor := h.client.monitor
	h.client.mu.Unlock()
	require.NotNil(t, monitor)
	require.True(t, monitor.Running())

	conn.frames <- []byte(`{"type":"pong"}`)
	require.Eventually(t, func() bool { return !monitor.LastPong().IsZero() }, waitFor, tick)
}

func TestClient_HeartbeatRunsOnlyWhileOpen(t *testing.T) {
	conn := newFakeConn()
	h := newHarness(t, "tok", func(context.Context) (Conn, error) { return conn, nil })
	h.client.hbInterval = 5 * time.Millisecond

	h.client.Connect()
	require.Eventually(t, func() bool { return h.client.State() == Open }, waitFor, tick)

	h.client.mu.Lock()
	monitor := h.client.monitor
	h.client.mu.Unlock()
	require.NotNil(t, monitor)

	require.Eventually(t, func() bool {
		for _, f := range conn.writtenFrames() {
			if f == `{"type":"ping"}` {
				return true
			}
		}
		return false
	}, waitFor, tick)

	conn.serverClose(backoff.CodeAbnormal, "gone")
	require.Eventually(t, func() bool { return h.client.State() == Closed }, waitFor, tick)
	assert.False(t, monitor.Running())

	h.client.mu.Lock()
	assert.Nil(t, h.client.monitor)
	h.client.mu.Unlock()
}

func TestClient_DisconnectStopsHeartbeat(t *testing.T) {
	conn := newFakeConn()
	h := openHarness(t, conn)

	h.client.mu.Lock()
	monitor := h.client.monitor
	h.client.mu.Unlock()
	require.True(t, monitor.Running())

	h.client.Disconnect()
	assert.False(t, monitor.Running())
}

func TestClient_SendRequiresOpenSocket(t *testing.T) {
	h := newHarness(t, "tok", func(context.Context) (Conn, error) { return newFakeConn(), nil })
	assert.False(t, h.client.Ping())
	assert.False(t, h.client.MarkRead("n1"))

	conn := newFakeConn()
	h = openHarness(t, conn)
	require.True(t, h.client.RequestNotifications(20))
	require.True(t, h.client.MarkRead("n1"))
	require.True(t, h.client.MarkAllRead())
	require.True(t, h.client.RequestUnreadCount())

	assert.Equal(t, []string{
		`{"type":"get_notifications","limit":20}`,
		`{"type":"mark_read","notification_id":"n1"}`,
		`{"type":"mark_all_read"}`,
		`{"type":"get_unread_count"}`,
	}, conn.writtenFrames())
}

func TestClient_BackoffScheduleThenMaxRetries(t *testing.T) {
	h := newHarness(t, "tok", func(context.Context) (Conn, error) {
		return nil, errors.New("connection refused")
	})

	h.client.Connect()
	for i := 1; i <= 5; i++ {
		require.Eventually(t, func() bool { return h.clock.count() == i }, waitFor, tick)
		require.Eventually(t, func() bool { return h.client.State() == Closed }, waitFor, tick)
		h.clock.last().fn()
	}

	require.Eventually(t, func() bool { return h.events.has("maxRetriesExceeded:5") }, waitFor, tick)
	assert.Equal(t, []time.Duration{
		3 * time.Second, 6 * time.Second, 12 * time.Second, 24 * time.Second, 48 * time.Second,
	}, h.clock.delays())
	assert.Equal(t, int32(6), h.dialer.attempts.Load())
	assert.Equal(t, Closed, h.client.State())
	assert.Equal(t, 5, h.clock.count(), "no retry after the ceiling")
	assert.False(t, h.events.has("backendUnavailable"), "plain dial failures carry no close code")
}

func TestClient_AbnormalClosureRetriesAndSignalsBackend(t *testing.T) {
	conn := newFakeConn()
	h := openHarness(t, conn)

	conn.serverClose(backoff.CodeAbnormal, "gone")

	require.Eventually(t, func() bool { return h.clock.count() == 1 }, waitFor, tick)
	assert.Equal(t, 3*time.Second, h.clock.last().delay)
	assert.Equal(t, Closed, h.client.State())
	require.Eventually(t, func() bool { return h.events.has("reconnecting:1") }, waitFor, tick)
	assert.Equal(t,
		[]string{"connected", "disconnected:1006", "backendUnavailable", "reconnecting:1"},
		h.events.all())
}

func TestClient_ReconnectResetsRetryCountOnOpen(t *testing.T) {
	conn := newFakeConn()
	h := openHarness(t, conn)

	conn.serverClose(4500, "restart")
	require.Eventually(t, func() bool { return h.clock.count() == 1 }, waitFor, tick)
	assert.Equal(t, 1, h.client.RetryCount())

	next := newFakeConn()
	h.dialer.dial = func(context.Context) (Conn, error) { return next, nil }
	h.clock.last().fn()

	require.Eventually(t, func() bool { return h.client.State() == Open }, waitFor, tick)
	assert.Equal(t, 0, h.client.RetryCount())
}

func TestClient_TerminalClosures(t *testing.T) {
	tests := []struct {
		name string
		code int
		want string
	}{
		{"normal", backoff.CodeNormal, "disconnected:1000"},
		{"unauthorized", backoff.CodeUnauthorized, "authRequired"},
		{"forbidden", backoff.CodeForbidden, "authRequired"},
		{"rate limited", backoff.CodeRateLimited, "backendUnavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := newFakeConn()
			h := openHarness(t, conn)

			conn.serverClose(tt.code, tt.name)

			require.Eventually(t, func() bool { return h.events.has(tt.want) }, waitFor, tick)
			assert.Equal(t, Closed, h.client.State())
			assert.Equal(t, 0, h.clock.count())
			assert.False(t, h.events.has("reconnecting:1"))
		})
	}
}

func TestClient_NoTokenIsTerminal(t *testing.T) {
	h := newHarness(t, "", func(context.Context) (Conn, error) {
		t.Fatal("must not dial without a token")
		return nil, nil
	})

	assert.Equal(t, Closed, h.client.Connect())
	assert.Equal(t, []string{"error", "authRequired"}, h.events.all())
	assert.ErrorIs(t, h.client.LastError(), ErrNoToken)
	assert.Equal(t, int32(0), h.dialer.attempts.Load())
	assert.Equal(t, 0, h.clock.count())
}

func TestClient_HandshakeRejectedForAuth(t *testing.T) {
	h := newHarness(t, "tok", func(context.Context) (Conn, error) {
		return nil, &CloseError{Code: backoff.CodeUnauthorized, Reason: "handshake rejected"}
	})

	h.client.Connect()

	require.Eventually(t, func() bool { return h.events.has("authRequired") }, waitFor, tick)
	assert.Equal(t, []string{"error", "authRequired"}, h.events.all())
	assert.Equal(t, 0, h.clock.count())
}

func TestClient_HandshakeTimeout(t *testing.T) {
	h := newHarness(t, "tok", func(ctx context.Context) (Conn, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	h.client.Connect()

	require.Eventually(t, func() bool { return h.clock.count() == 1 }, waitFor, tick)
	assert.Equal(t, Closed, h.client.State())
	assert.ErrorIs(t, h.client.LastError(), ErrHandshakeTimeout)
	assert.True(t, h.events.has("error"))
}

func TestClient_DisconnectCancelsPendingRetry(t *testing.T) {
	conn := newFakeConn()
	h := openHarness(t, conn)

	conn.serverClose(backoff.CodeAbnormal, "gone")
	require.Eventually(t, func() bool { return h.clock.count() == 1 }, waitFor, tick)
	pending := h.clock.last()

	h.client.Disconnect()
	assert.True(t, pending.isStopped())
	assert.Equal(t, Idle, h.client.State())

	// A timer that fires anyway must be ignored.
	pending.fn()
	assert.Equal(t, Idle, h.client.State())
	assert.Equal(t, int32(1), h.dialer.attempts.Load())
}

func TestClient_DisconnectWhileOpen(t *testing.T) {
	conn := newFakeConn()
	h := openHarness(t, conn)

	h.client.Disconnect()

	assert.Equal(t, Idle, h.client.State())
	assert.Equal(t, backoff.CodeNormal, conn.closeCode)
	assert.Equal(t, []string{"connected", "disconnected:1000"}, h.events.all())

	// The read loop sees the close as an error; it belongs to a stale
	// generation and must not schedule anything.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, h.clock.count())
	assert.Equal(t, []string{"connected", "disconnected:1000"}, h.events.all())
}

func TestClient_LateHandshakeAfterDisconnect(t *testing.T) {
	release := make(chan struct{})
	conn := newFakeConn()
	h := newHarness(t, "tok", func(ctx context.Context) (Conn, error) {
		<-release
		return conn, nil
	})
	h.client.handshakeTimeout = waitFor

	h.client.Connect()
	h.client.Disconnect()
	close(release)

	require.Eventually(t, func() bool {
		select {
		case <-conn.done:
			return true
		default:
			return false
		}
	}, waitFor, tick, "superseded connection must be closed")
	assert.Equal(t, Idle, h.client.State())
	assert.Empty(t, h.events.all())
}

func TestClient_HandlerMayDisconnect(t *testing.T) {
	conn := newFakeConn()
	h := openHarness(t, conn)

	var after atomic.Int32
	event.Subscribe(h.client.Dispatcher(), event.BackendUnavailable, func(event.Closure) {
		h.client.Disconnect()
	})
	event.Subscribe(h.client.Dispatcher(), event.Reconnecting, func(event.Retry) {
		after.Add(1)
	})

	conn.serverClose(backoff.CodeAbnormal, "gone")

	require.Eventually(t, func() bool { return h.client.State() == Idle }, waitFor, tick)
	require.Eventually(t, func() bool { return h.clock.count() == 1 }, waitFor, tick)
	assert.True(t, h.clock.last().isStopped(), "pending retry is cancelled")
	assert.Equal(t, int32(0), after.Load(), "events after the disconnect are dropped")
	assert.True(t, h.events.has("backendUnavailable"))
}

func TestClient_ConnectAfterDisconnectStartsFresh(t *testing.T) {
	conn := newFakeConn()
	h := openHarness(t, conn)
	h.client.Disconnect()

	next := newFakeConn()
	h.dialer.dial = func(context.Context) (Conn, error) { return next, nil }
	h.client.Connect()

	require.Eventually(t, func() bool { return h.client.State() == Open }, waitFor, tick)
	assert.Equal(t, int32(2), h.dialer.attempts.Load())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "connecting", Connecting.String())
	assert.Equal(t, "open", Open.String())
	assert.Equal(t, "closing", Closing.String())
	assert.Equal(t, "closed", Closed.String())
	assert.Equal(t, "unknown", State(42).String())
}
