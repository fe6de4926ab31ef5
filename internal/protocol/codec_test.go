package protocol_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/storefront-notify/internal/protocol"
)

func TestCodec_DecodeNewNotification(t *testing.T) {
	c := protocol.NewCodec()

	in, err := c.Decode([]byte(`{"type":"new_notification","notification":{"id":"n9","title":"Order shipped","read":false,"created_at":"2024-01-01T00:00:00Z","order_id":"o-17","data":{"product_name":"Mug"}}}`))
	require.NoError(t, err)

	assert.Equal(t, protocol.TypeNewNotification, in.Type)
	assert.Equal(t, "n9", in.Notification.ID)
	assert.Equal(t, "Order shipped", in.Notification.Title)
	assert.False(t, in.Notification.Read)
	assert.True(t, in.Notification.CreatedAt.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	require.NotNil(t, in.Notification.OrderID)
	assert.Equal(t, "o-17", *in.Notification.OrderID)
	assert.Equal(t, "Mug", in.Notification.Data["product_name"])
}

func TestCodec_DecodeBroadcast(t *testing.T) {
	c := protocol.NewCodec()

	in, err := c.Decode([]byte(`{"type":"broadcast_notification","notification":{"id":"b1","title":"Sale"}}`))
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeBroadcastNotification, in.Type)
	assert.Equal(t, "b1", in.Notification.ID)
}

func TestCodec_DecodeList(t *testing.T) {
	c := protocol.NewCodec()

	in, err := c.Decode([]byte(`{"type":"notifications_list","notifications":[{"id":"a","title":"A"},{"title":"no id"},{"id":"b","title":"B","read":true}]}`))
	require.NoError(t, err)
	require.Len(t, in.Notifications, 2)
	assert.Equal(t, "a", in.Notifications[0].ID)
	assert.Equal(t, "b", in.Notifications[1].ID)
	assert.True(t, in.Notifications[1].Read)
}

func TestCodec_DecodeUnreadCount(t *testing.T) {
	c := protocol.NewCodec()

	in, err := c.Decode([]byte(`{"type":"unread_count","unread_count":7}`))
	require.NoError(t, err)
	assert.Equal(t, 7, in.UnreadCount)

	in, err = c.Decode([]byte(`{"type":"unread_count_update","count":2}`))
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeUnreadCountUpdate, in.Type)
	assert.Equal(t, 2, in.UnreadCount)

	_, err = c.Decode([]byte(`{"type":"unread_count"}`))
	assert.ErrorIs(t, err, protocol.ErrMalformed)

	_, err = c.Decode([]byte(`{"type":"unread_count","unread_count":-1}`))
	assert.ErrorIs(t, err, protocol.ErrMalformed)
}

func TestCodec_DecodeMarkResults(t *testing.T) {
	c := protocol.NewCodec()

	in, err := c.Decode([]byte(`{"type":"mark_read_result","notification_id":"n1","success":true}`))
	require.NoError(t, err)
	assert.Equal(t, "n1", in.NotificationID)
	assert.True(t, in.Success)

	in, err = c.Decode([]byte(`{"type":"mark_all_read_result","success":false}`))
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeMarkAllReadResult, in.Type)
	assert.False(t, in.Success)
}

func TestCodec_DecodeErrorAndControlFrames(t *testing.T) {
	c := protocol.NewCodec()

	in, err := c.Decode([]byte(`{"type":"error","message":"bad request"}`))
	require.NoError(t, err)
	assert.Equal(t, "bad request", in.Message)

	in, err = c.Decode([]byte(`{"type":"pong"}`))
	require.NoError(t, err)
	assert.Equal(t, protocol.TypePong, in.Type)

	in, err = c.Decode([]byte(`{"type":"connection_established","user_id":42}`))
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeConnectionEstablished, in.Type)
}

func TestCodec_DecodeFailures(t *testing.T) {
	c := protocol.NewCodec()

	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"not json", `this is not json`, protocol.ErrMalformed},
		{"missing type", `{"notification":{}}`, protocol.ErrMalformed},
		{"unknown type", `{"type":"flash_sale_started"}`, protocol.ErrUnknownType},
		{"notification without id", `{"type":"new_notification","notification":{"title":"x"}}`, protocol.ErrMalformed},
		{"notification missing", `{"type":"new_notification"}`, protocol.ErrMalformed},
		{"bad timestamp", `{"type":"new_notification","notification":{"id":"n","title":"t","created_at":"yesterday"}}`, protocol.ErrMalformed},
		{"mark read without id", `{"type":"mark_read_result","success":true}`, protocol.ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				_, err := c.Decode([]byte(tt.raw))
				assert.ErrorIs(t, err, tt.want)
			})
		})
	}
}

func TestCodec_EncodeOutbound(t *testing.T) {
	c := protocol.NewCodec()

	tests := []struct {
		msg  protocol.Outbound
		want map[string]any
	}{
		{protocol.Ping(), map[string]any{"type": "ping"}},
		{protocol.GetNotifications(20), map[string]any{"type": "get_notifications", "limit": float64(20)}},
		{protocol.GetUnreadCount(), map[string]any{"type": "get_unread_count"}},
		{protocol.MarkRead("n3"), map[string]any{"type": "mark_read", "notification_id": "n3"}},
		{protocol.MarkAllRead(), map[string]any{"type": "mark_all_read"}},
	}

	for _, tt := range tests {
		data, err := c.Encode(tt.msg)
		require.NoError(t, err)

		var got map[string]any
		require.NoError(t, json.Unmarshal(data, &got))
		assert.Equal(t, tt.want, got)
	}

	_, err := c.Encode(protocol.Outbound{})
	assert.Error(t, err)
}
