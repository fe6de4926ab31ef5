// Package realtime owns the persistent notification socket: its lifecycle,
// keep-alive, reconnection and the routing of inbound frames onto the
// event dispatcher.
//
// All state transitions happen under a single mutex. Every connection
// attempt gets a new generation number, and callbacks from the dialer, the
// read loop and the retry timer carry the generation they were started
// for. A callback whose generation is no longer current is dropped, so
// Disconnect only has to bump the generation to silence everything that
// belonged to the old connection.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/zlog"

	"github.com/nhle/storefront-notify/internal/backoff"
	"github.com/nhle/storefront-notify/internal/event"
	"github.com/nhle/storefront-notify/internal/heartbeat"
	"github.com/nhle/storefront-notify/internal/protocol"
)

// DefaultHandshakeTimeout bounds a single opening handshake.
const DefaultHandshakeTimeout = 10 * time.Second

var (
	// ErrNoToken is reported when no credential is available to connect.
	ErrNoToken = errors.New("no credential available")

	// ErrHandshakeTimeout is reported when the opening handshake does not
	// complete in time.
	ErrHandshakeTimeout = errors.New("handshake timed out")
)

// TokenSource returns the credential used to open the socket. An empty
// token or an error means the user is not signed in.
type TokenSource func() (string, error)

// Options configures a Client.
type Options struct {
	// URL builds the socket endpoint for a token.
	URL func(token string) string

	Token      TokenSource
	Dispatcher *event.Dispatcher

	// Dialer defaults to a gorilla/websocket dialer.
	Dialer Dialer

	// Policy defaults to backoff.DefaultPolicy.
	Policy *backoff.Policy

	HandshakeTimeout  time.Duration
	HeartbeatInterval time.Duration
}

// timer is the part of *time.Timer the client needs.
type timer interface {
	Stop() bool
}

// Client maintains one notification socket.
type Client struct {
	url              func(string) string
	token            TokenSource
	dialer           Dialer
	dispatcher       *event.Dispatcher
	policy           backoff.Policy
	handshakeTimeout time.Duration
	hbInterval       time.Duration
	codec            *protocol.Codec
	logger           zerolog.Logger

	// afterFunc schedules reconnects; replaced in tests.
	afterFunc func(time.Duration, func()) timer

	mu         sync.Mutex
	state      State
	gen        uint64
	retryCount int
	lastErr    error
	conn       Conn
	cancelDial context.CancelFunc
	retry      timer
	monitor    *heartbeat.Monitor

	// writeMu serializes frame writes on the current connection.
	writeMu sync.Mutex

	// publishMu orders events raised from background goroutines so
	// subscribers observe one sequence per client.
	publishMu sync.Mutex
}

// NewClient creates an idle client. Nothing is dialed until Connect.
func NewClient(opts Options) *Client {
	c := &Client{
		url:              opts.URL,
		token:            opts.Token,
		dialer:           opts.Dialer,
		dispatcher:       opts.Dispatcher,
		handshakeTimeout: opts.HandshakeTimeout,
		hbInterval:       opts.HeartbeatInterval,
		codec:            protocol.NewCodec(),
		logger:           zlog.Logger.With().Str("component", "realtime").Logger(),
		afterFunc: func(d time.Duration, f func()) timer {
			return time.AfterFunc(d, f)
		},
	}

	if c.dialer == nil {
		c.dialer = NewWebsocketDialer()
	}
	if c.dispatcher == nil {
		c.dispatcher = event.NewDispatcher()
	}
	if opts.Policy != nil {
		c.policy = *opts.Policy
	} else {
		c.policy = backoff.DefaultPolicy()
	}
	if c.handshakeTimeout <= 0 {
		c.handshakeTimeout = DefaultHandshakeTimeout
	}
	if c.hbInterval <= 0 {
		c.hbInterval = heartbeat.DefaultInterval
	}
	if c.token == nil {
		c.token = func() (string, error) { return "", ErrNoToken }
	}

	return c
}

// Dispatcher returns the dispatcher the client publishes on.
func (c *Client) Dispatcher() *event.Dispatcher {
	return c.dispatcher
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RetryCount returns the number of reconnects scheduled since the last
// successful open.
func (c *Client) RetryCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retryCount
}

// LastError returns the error that ended the most recent connection or
// attempt, or nil.
func (c *Client) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Connect starts a connection attempt and returns the resulting state. It
// is a no-op while an attempt is in flight or the socket is open. An
// explicit Connect cancels any scheduled reconnect and resets the retry
// budget.
func (c *Client) Connect() State {
	c.mu.Lock()
	if c.state == Connecting || c.state == Open {
		s := c.state
		c.mu.Unlock()
		return s
	}

	c.cancelRetryLocked()
	c.retryCount = 0
	events, start := c.attemptLocked()
	s := c.state
	c.mu.Unlock()

	for _, publish := range events {
		publish()
	}
	if start != nil {
		start()
	}
	return s
}

// Disconnect closes the socket with a normal closure, cancels any pending
// handshake or reconnect, and returns to Idle. An event of the old
// connection whose generation check already passed may still be running a
// handler when Disconnect returns; none is delivered after that. Disconnect
// does not wait for it, so handlers may call Disconnect themselves.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.cancelRetryLocked()
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
	if c.monitor != nil {
		c.monitor.Stop()
		c.monitor = nil
	}

	wasOpen := c.state == Open
	conn := c.conn
	c.conn = nil
	if conn != nil {
		c.state = Closing
	}
	c.mu.Unlock()

	if conn != nil {
		if err := conn.Close(backoff.CodeNormal, "client disconnect"); err != nil {
			c.logger.Debug().Err(err).Msg("closing socket")
		}
	}

	c.mu.Lock()
	if c.gen == gen {
		c.state = Idle
		c.retryCount = 0
	}
	c.mu.Unlock()

	c.logger.Info().Bool("was_open", wasOpen).Msg("disconnected")
	if wasOpen {
		event.Publish(c.dispatcher, event.Disconnected, event.Closure{
			Code:   backoff.CodeNormal,
			Reason: "client disconnect",
		})
	}
}

// Send encodes msg and writes it to the open socket. It reports false
// when the socket is not open or the write fails.
func (c *Client) Send(msg protocol.Outbound) bool {
	c.mu.Lock()
	conn := c.conn
	open := c.state == Open
	c.mu.Unlock()

	if !open || conn == nil {
		c.logger.Debug().Str("type", string(msg.Type)).Msg("send skipped: socket not open")
		return false
	}
	return c.write(conn, msg)
}

// Ping sends a keep-alive ping.
func (c *Client) Ping() bool {
	return c.Send(protocol.Ping())
}

// RequestNotifications asks the server for its latest notifications.
func (c *Client) RequestNotifications(limit int) bool {
	return c.Send(protocol.GetNotifications(limit))
}

// RequestUnreadCount asks the server for the unread count.
func (c *Client) RequestUnreadCount() bool {
	return c.Send(protocol.GetUnreadCount())
}

// MarkRead asks the server to mark one notification read.
func (c *Client) MarkRead(id string) bool {
	return c.Send(protocol.MarkRead(id))
}

// MarkAllRead asks the server to mark every notification read.
func (c *Client) MarkAllRead() bool {
	return c.Send(protocol.MarkAllRead())
}

func (c *Client) write(conn Conn, msg protocol.Outbound) bool {
	data, err := c.codec.Encode(msg)
	if err != nil {
		c.logger.Warn().Err(err).Msg("encoding outbound frame")
		return false
	}

	c.writeMu.Lock()
	err = conn.WriteMessage(data)
	c.writeMu.Unlock()
	if err != nil {
		c.logger.Warn().Err(err).Str("type", string(msg.Type)).Msg("writing frame")
		return false
	}
	return true
}

// sendFor writes msg only while gen is the open connection. The
// heartbeat uses it so a late tick never touches a newer socket.
func (c *Client) sendFor(gen uint64, msg protocol.Outbound) bool {
	c.mu.Lock()
	conn := c.conn
	ok := c.gen == gen && c.state == Open && conn != nil
	c.mu.Unlock()
	if !ok {
		return false
	}
	return c.write(conn, msg)
}

// attemptLocked moves to Connecting and returns the events to publish
// and the func that starts the dial, both to be run after c.mu is
// released. Without a token it moves straight to Closed and reports
// AuthRequired.
func (c *Client) attemptLocked() (events []func(), start func()) {
	token, err := c.token()
	if err == nil && token == "" {
		err = ErrNoToken
	}
	if err != nil {
		err = fmt.Errorf("resolving token: %w", err)
		c.state = Closed
		c.lastErr = err
		c.logger.Warn().Err(err).Msg("not connecting: no credential")
		return []func(){
			func() { event.Publish(c.dispatcher, event.Error, err) },
			func() {
				event.Publish(c.dispatcher, event.AuthRequired, event.Closure{Reason: ErrNoToken.Error()})
			},
		}, nil
	}

	c.gen++
	gen := c.gen
	c.state = Connecting
	ctx, cancel := context.WithTimeout(context.Background(), c.handshakeTimeout)
	c.cancelDial = cancel
	url := c.url(token)

	c.logger.Info().Uint64("generation", gen).Int("retry", c.retryCount).Msg("connecting")
	return nil, func() { go c.dial(ctx, cancel, gen, url) }
}

func (c *Client) dial(ctx context.Context, cancel context.CancelFunc, gen uint64, url string) {
	defer cancel()

	conn, err := c.dialer.Dial(ctx, url)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w after %s: %w", ErrHandshakeTimeout, c.handshakeTimeout, err)
	}

	c.mu.Lock()
	if gen != c.gen || c.state != Connecting {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close(backoff.CodeNormal, "superseded")
		}
		return
	}
	c.cancelDial = nil

	if err != nil {
		c.state = Closed
		c.lastErr = err
		code, reason := closeInfo(err, false)
		c.logger.Warn().Err(err).Int("code", code).Msg("handshake failed")
		events := c.afterClosureLocked(gen, code, reason, err, false)
		c.mu.Unlock()
		c.emit(gen, events)
		return
	}

	c.conn = conn
	c.state = Open
	c.retryCount = 0
	c.lastErr = nil
	monitor := heartbeat.New(c.hbInterval, func() bool {
		return c.sendFor(gen, protocol.Ping())
	})
	c.monitor = monitor
	monitor.Start()
	c.mu.Unlock()

	c.logger.Info().Uint64("generation", gen).Msg("connected")
	c.emit(gen, []func(){
		func() { event.Publish(c.dispatcher, event.Connected, event.Empty{}) },
	})

	go c.readLoop(gen, conn, monitor)
}

func (c *Client) readLoop(gen uint64, conn Conn, monitor *heartbeat.Monitor) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			c.closed(gen, err)
			return
		}
		c.handleFrame(gen, data, monitor)
	}
}

// closed handles the end of an open connection.
func (c *Client) closed(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen || c.state != Open {
		c.mu.Unlock()
		return
	}
	if c.monitor != nil {
		c.monitor.Stop()
		c.monitor = nil
	}
	c.conn = nil
	c.state = Closed
	c.lastErr = err

	code, reason := closeInfo(err, true)
	c.logger.Info().Int("code", code).Str("reason", reason).Msg("socket closed")
	events := c.afterClosureLocked(gen, code, reason, err, true)
	c.mu.Unlock()

	c.emit(gen, events)
}

// afterClosureLocked classifies a closure, schedules a reconnect when it
// is retryable, and returns the events describing it.
func (c *Client) afterClosureLocked(gen uint64, code int, reason string, err error, wasOpen bool) []func() {
	closure := event.Closure{Code: code, Reason: reason}
	var events []func()

	if wasOpen {
		events = append(events, func() { event.Publish(c.dispatcher, event.Disconnected, closure) })
	} else if err != nil {
		events = append(events, func() { event.Publish(c.dispatcher, event.Error, err) })
	}

	class := backoff.Classify(code)
	switch class.Signal {
	case backoff.SignalAuthRequired:
		events = append(events, func() { event.Publish(c.dispatcher, event.AuthRequired, closure) })
	case backoff.SignalBackendUnavailable:
		events = append(events, func() { event.Publish(c.dispatcher, event.BackendUnavailable, closure) })
	}

	if class.Kind == backoff.Terminal {
		c.logger.Info().Int("code", code).Msg("closure is terminal, not reconnecting")
		return events
	}

	delay, ok := c.policy.Next(c.retryCount)
	if !ok {
		retries := c.retryCount
		c.logger.Warn().Int("retries", retries).Msg("reconnect attempts exhausted")
		return append(events, func() { event.Publish(c.dispatcher, event.MaxRetriesExceeded, retries) })
	}

	c.retryCount++
	attempt := c.retryCount
	c.retry = c.afterFunc(delay, func() { c.reconnect(gen) })
	c.logger.Info().Int("attempt", attempt).Dur("delay", delay).Msg("reconnect scheduled")

	return append(events, func() {
		event.Publish(c.dispatcher, event.Reconnecting, event.Retry{Attempt: attempt, Delay: delay})
	})
}

// reconnect runs when a scheduled retry fires.
func (c *Client) reconnect(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != Closed {
		c.mu.Unlock()
		return
	}
	c.retry = nil
	events, start := c.attemptLocked()
	current := c.gen
	c.mu.Unlock()

	c.emit(current, events)
	if start != nil {
		start()
	}
}

func (c *Client) cancelRetryLocked() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}

// emit publishes events raised by gen, unless a newer generation has
// started in the meantime. The check runs before each event, so a
// Disconnect landing between the check and the publish lets that one event
// through.
func (c *Client) emit(gen uint64, events []func()) {
	if len(events) == 0 {
		return
	}

	c.publishMu.Lock()
	defer c.publishMu.Unlock()

	for _, publish := range events {
		c.mu.Lock()
		current := c.gen == gen
		c.mu.Unlock()
		if !current {
			return
		}
		publish()
	}
}
