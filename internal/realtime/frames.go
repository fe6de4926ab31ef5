package realtime

import (
	"errors"

	"github.com/nhle/storefront-notify/internal/event"
	"github.com/nhle/storefront-notify/internal/heartbeat"
	"github.com/nhle/storefront-notify/internal/protocol"
)

// handleFrame decodes one inbound frame and publishes it. Frames that
// fail to decode are logged and dropped; the connection stays open.
func (c *Client) handleFrame(gen uint64, data []byte, monitor *heartbeat.Monitor) {
	in, err := c.codec.Decode(data)
	if err != nil {
		l := c.logger.Warn()
		if errors.Is(err, protocol.ErrUnknownType) {
			l = c.logger.Debug()
		}
		l.Err(err).Int("bytes", len(data)).Msg("dropping inbound frame")
		return
	}

	d := c.dispatcher
	var publish func()

	switch in.Type {
	case protocol.TypeConnectionEstablished:
		publish = func() { event.Publish(d, event.ServerAck, event.Empty{}) }
	case protocol.TypeNewNotification, protocol.TypeBroadcastNotification:
		n := in.Notification
		publish = func() { event.Publish(d, event.NotificationCreated, n) }
	case protocol.TypeNotificationsList:
		list := in.Notifications
		publish = func() { event.Publish(d, event.SnapshotReceived, list) }
	case protocol.TypeUnreadCount, protocol.TypeUnreadCountUpdate:
		count := in.UnreadCount
		publish = func() { event.Publish(d, event.UnreadCountReceived, count) }
	case protocol.TypeMarkReadResult:
		ack := event.Ack{ID: in.NotificationID, Success: in.Success}
		publish = func() { event.Publish(d, event.MarkReadAck, ack) }
	case protocol.TypeMarkAllReadResult:
		ack := event.Ack{Success: in.Success}
		publish = func() { event.Publish(d, event.MarkAllReadAck, ack) }
	case protocol.TypePong:
		monitor.Pong()
		return
	case protocol.TypeError:
		msg := in.Message
		c.logger.Warn().Str("message", msg).Msg("server reported an error")
		publish = func() { event.Publish(d, event.ServerError, msg) }
	default:
		return
	}

	c.emit(gen, []func(){publish})
}
