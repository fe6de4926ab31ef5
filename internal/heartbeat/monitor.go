// Package heartbeat keeps an idle notification socket alive.
//
// The monitor only sends keepalive frames so NATs and proxies do not drop
// an idle connection. It never declares the connection dead; loss is
// detected by the transport itself.
package heartbeat

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/zlog"
)

// DefaultInterval is the keepalive period.
const DefaultInterval = 30 * time.Second

// Monitor periodically invokes a send func while running.
type Monitor struct {
	interval time.Duration
	send     func() bool
	logger   zerolog.Logger

	mu       sync.Mutex
	stopCh   chan struct{}
	sent     int
	lastPing time.Time
	lastPong time.Time
}

// New creates a stopped Monitor. send reports whether the keepalive frame
// was written.
func New(interval time.Duration, send func() bool) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		interval: interval,
		send:     send,
		logger:   zlog.Logger.With().Str("component", "heartbeat").Logger(),
	}
}

// Start begins sending keepalives. Calling Start on a running monitor is
// a no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopCh != nil {
		return
	}
	m.stopCh = make(chan struct{})
	go m.run(m.stopCh)
}

// Stop halts the monitor. It does not wait for an in-flight send and is
// safe to call repeatedly.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopCh == nil {
		return
	}
	close(m.stopCh)
	m.stopCh = nil
}

// Running reports whether the monitor is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopCh != nil
}

// Pong records a keepalive reply.
func (m *Monitor) Pong() {
	m.mu.Lock()
	m.lastPong = time.Now()
	m.mu.Unlock()
}

// LastPong returns when the last reply arrived, or the zero time.
func (m *Monitor) LastPong() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastPong
}

// LastPing returns when the last keepalive was written, or the zero time.
func (m *Monitor) LastPing() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastPing
}

// Sent returns the number of keepalives written so far.
func (m *Monitor) Sent() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent
}

func (m *Monitor) run(stop <-chan struct{}) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			// A tick can race with Stop; re-check before sending.
			select {
			case <-stop:
				return
			default:
			}

			if !m.send() {
				m.logger.Debug().Msg("keepalive not sent, connection not open")
				continue
			}

			m.mu.Lock()
			m.sent++
			m.lastPing = time.Now()
			m.mu.Unlock()
		}
	}
}
