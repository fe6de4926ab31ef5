package realtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/nhle/storefront-notify/internal/backoff"
)

// Conn is an established notification socket.
type Conn interface {
	// ReadMessage blocks for the next text frame. When the connection
	// ends it returns a *CloseError carrying the close code.
	ReadMessage() ([]byte, error)

	// WriteMessage writes one text frame. Calls are serialized by the
	// client.
	WriteMessage(data []byte) error

	// Close sends a close frame with code and reason and releases the
	// connection. It may be called concurrently with ReadMessage.
	Close(code int, reason string) error
}

// Dialer opens notification sockets.
type Dialer interface {
	// Dial performs the opening handshake. It must give up when ctx is
	// done. A handshake refused for authorization reasons is reported
	// as a *CloseError with the matching application close code.
	Dial(ctx context.Context, url string) (Conn, error)
}

// CloseError reports how a connection ended.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("connection closed (%d)", e.Code)
	}
	return fmt.Sprintf("connection closed (%d): %s", e.Code, e.Reason)
}

// closeInfo extracts the close code from a read or dial error. Errors
// without one count as abnormal closures when the connection was open,
// or as plain failures (code 0) during the handshake.
func closeInfo(err error, wasOpen bool) (int, string) {
	var ce *CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Reason
	}
	if wasOpen {
		return backoff.CodeAbnormal, err.Error()
	}
	return 0, err.Error()
}
