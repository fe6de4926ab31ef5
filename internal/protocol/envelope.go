// Package protocol encodes and decodes the typed JSON envelopes exchanged
// over the notification socket.
//
// Every frame is a JSON object with a "type" field. Inbound frames of an
// unknown type are reported with ErrUnknownType so newer servers can add
// message types without breaking older clients. Frames that cannot be
// parsed or fail payload validation are reported with ErrMalformed. Neither
// error is fatal to the connection.
package protocol

import (
	"errors"

	"github.com/nhle/storefront-notify/internal/model"
)

// Type is the envelope type tag.
type Type string

// Inbound types.
const (
	TypeConnectionEstablished Type = "connection_established"
	TypeNewNotification       Type = "new_notification"
	TypeBroadcastNotification Type = "broadcast_notification"
	TypeNotificationsList     Type = "notifications_list"
	TypeUnreadCount           Type = "unread_count"
	TypeUnreadCountUpdate     Type = "unread_count_update"
	TypeMarkReadResult        Type = "mark_read_result"
	TypeMarkAllReadResult     Type = "mark_all_read_result"
	TypePong                  Type = "pong"
	TypeError                 Type = "error"
)

// Outbound types.
const (
	TypePing             Type = "ping"
	TypeGetNotifications Type = "get_notifications"
	TypeGetUnreadCount   Type = "get_unread_count"
	TypeMarkRead         Type = "mark_read"
	TypeMarkAllRead      Type = "mark_all_read"
)

var (
	ErrMalformed   = errors.New("malformed frame")
	ErrUnknownType = errors.New("unknown message type")
)

// Inbound is a decoded server frame. Only the fields relevant to Type are
// populated.
type Inbound struct {
	Type Type

	// Notification is set for new_notification and broadcast_notification.
	Notification model.Notification

	// Notifications is set for notifications_list.
	Notifications []model.Notification

	// UnreadCount is set for unread_count and unread_count_update.
	UnreadCount int

	// NotificationID and Success are set for mark_read_result;
	// Success alone for mark_all_read_result.
	NotificationID string
	Success        bool

	// Message is set for error.
	Message string
}

// Outbound is a client frame.
type Outbound struct {
	Type           Type   `json:"type"`
	Limit          int    `json:"limit,omitempty"`
	NotificationID string `json:"notification_id,omitempty"`
}

// Ping is the heartbeat frame.
func Ping() Outbound {
	return Outbound{Type: TypePing}
}

// GetNotifications asks the server for its latest limit notifications.
func GetNotifications(limit int) Outbound {
	return Outbound{Type: TypeGetNotifications, Limit: limit}
}

// GetUnreadCount asks the server for the unread count.
func GetUnreadCount() Outbound {
	return Outbound{Type: TypeGetUnreadCount}
}

// MarkRead asks the server to mark one notification read.
func MarkRead(id string) Outbound {
	return Outbound{Type: TypeMarkRead, NotificationID: id}
}

// MarkAllRead asks the server to mark every notification read.
func MarkAllRead() Outbound {
	return Outbound{Type: TypeMarkAllRead}
}
