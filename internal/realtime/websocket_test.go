package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/storefront-notify/internal/backoff"
)

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebsocketDialer_RoundTripAndCloseCode(t *testing.T) {
	upgrader := websocket.Upgrader{}
	received := make(chan string, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		received <- string(data)

		_ = ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"pong"}`))
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(backoff.CodeUnauthorized, "token expired"),
			time.Now().Add(time.Second))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := NewWebsocketDialer().Dial(ctx, wsURL(srv))
	require.NoError(t, err)
	defer conn.Close(backoff.CodeNormal, "")

	require.NoError(t, conn.WriteMessage([]byte(`{"type":"ping"}`)))
	assert.Equal(t, `{"type":"ping"}`, <-received)

	data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, `{"type":"pong"}`, string(data))

	_, err = conn.ReadMessage()
	var ce *CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, backoff.CodeUnauthorized, ce.Code)
	assert.Equal(t, "token expired", ce.Reason)
}

func TestWebsocketDialer_HandshakeStatus(t *testing.T) {
	tests := []struct {
		status int
		code   int
	}{
		{http.StatusUnauthorized, backoff.CodeUnauthorized},
		{http.StatusForbidden, backoff.CodeForbidden},
		{http.StatusTooManyRequests, backoff.CodeRateLimited},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			_, err := NewWebsocketDialer().Dial(context.Background(), wsURL(srv))

			var ce *CloseError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.code, ce.Code)
		})
	}
}

func TestWebsocketDialer_OtherFailuresAreNotCloseErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewWebsocketDialer().Dial(context.Background(), wsURL(srv))
	require.Error(t, err)

	var ce *CloseError
	assert.False(t, errors.As(err, &ce))

	code, _ := closeInfo(err, false)
	assert.Equal(t, 0, code)
	code, _ = closeInfo(err, true)
	assert.Equal(t, backoff.CodeAbnormal, code)
}
