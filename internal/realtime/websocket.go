package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nhle/storefront-notify/internal/backoff"
)

// defaultWriteTimeout bounds a single frame write.
const defaultWriteTimeout = 10 * time.Second

// WebsocketDialer dials notification sockets with gorilla/websocket.
type WebsocketDialer struct {
	dialer       *websocket.Dialer
	writeTimeout time.Duration
}

// NewWebsocketDialer creates a dialer that honours proxy environment
// variables. The handshake deadline comes from the context passed to Dial.
func NewWebsocketDialer() *WebsocketDialer {
	return &WebsocketDialer{
		dialer: &websocket.Dialer{
			Proxy: http.ProxyFromEnvironment,
		},
		writeTimeout: defaultWriteTimeout,
	}
}

// Dial implements Dialer.
func (d *WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	ws, resp, err := d.dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			switch resp.StatusCode {
			case http.StatusUnauthorized:
				return nil, &CloseError{Code: backoff.CodeUnauthorized, Reason: "handshake rejected: unauthorized"}
			case http.StatusForbidden:
				return nil, &CloseError{Code: backoff.CodeForbidden, Reason: "handshake rejected: forbidden"}
			case http.StatusTooManyRequests:
				return nil, &CloseError{Code: backoff.CodeRateLimited, Reason: "handshake rejected: rate limited"}
			}
			return nil, fmt.Errorf("dialing notification socket: unexpected status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dialing notification socket: %w", err)
	}

	return &websocketConn{ws: ws, writeTimeout: d.writeTimeout}, nil
}

type websocketConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
}

func (c *websocketConn) ReadMessage() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			return nil, &CloseError{Code: ce.Code, Reason: ce.Text}
		}
		return nil, &CloseError{Code: backoff.CodeAbnormal, Reason: err.Error()}
	}
	return data, nil
}

func (c *websocketConn) WriteMessage(data []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return fmt.Errorf("setting write deadline: %w", err)
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

func (c *websocketConn) Close(code int, reason string) error {
	msg := websocket.FormatCloseMessage(code, reason)
	// Best effort: the peer may already be gone.
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.ws.Close()
}
