package event

import (
	"time"

	"github.com/nhle/storefront-notify/internal/model"
)

// Empty is the payload of topics that carry no data.
type Empty struct{}

// Closure describes why a connection ended or was refused.
type Closure struct {
	Code   int
	Reason string
}

// Retry describes a scheduled reconnect attempt.
type Retry struct {
	Attempt int
	Delay   time.Duration
}

// Ack is a backend confirmation of a read mutation. ID is empty for
// mark-all-read.
type Ack struct {
	ID      string
	Success bool
}

// MutationFailure reports a backend mutation that failed after the local
// optimistic update was already applied.
type MutationFailure struct {
	Op  string
	ID  string
	Err error
}

// Connection lifecycle.
var (
	Connected          = NewTopic[Empty]("connected")
	Disconnected       = NewTopic[Closure]("disconnected")
	Error              = NewTopic[error]("error")
	BackendUnavailable = NewTopic[Closure]("backendUnavailable")
	AuthRequired       = NewTopic[Closure]("authRequired")
	MaxRetriesExceeded = NewTopic[int]("maxRetriesExceeded")
	Reconnecting       = NewTopic[Retry]("reconnecting")
)

// Server messages.
var (
	ServerAck           = NewTopic[Empty]("serverAck")
	NotificationCreated = NewTopic[model.Notification]("notificationCreated")
	SnapshotReceived    = NewTopic[[]model.Notification]("snapshotReceived")
	UnreadCountReceived = NewTopic[int]("unreadCountReceived")
	MarkReadAck         = NewTopic[Ack]("markReadAck")
	MarkAllReadAck      = NewTopic[Ack]("markAllReadAck")
	ServerError         = NewTopic[string]("serverError")
)

// Registry notifications.
var (
	MutationFailed = NewTopic[MutationFailure]("mutationFailed")

	// NotificationsChanged carries the unread count after any change to
	// the registry contents.
	NotificationsChanged = NewTopic[int]("notificationsChanged")
)
