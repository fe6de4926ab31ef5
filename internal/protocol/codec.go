package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/zlog"

	"github.com/nhle/storefront-notify/internal/model"
)

// wireFrame is the union of every inbound field the server sends.
type wireFrame struct {
	Type           Type            `json:"type"`
	Notification   json.RawMessage `json:"notification"`
	Notifications  json.RawMessage `json:"notifications"`
	UnreadCount    *int            `json:"unread_count"`
	Count          *int            `json:"count"`
	NotificationID string          `json:"notification_id"`
	ID             string          `json:"id"`
	Success        *bool           `json:"success"`
	Message        string          `json:"message"`
}

// Codec decodes inbound frames and encodes outbound ones. It is safe for
// concurrent use.
type Codec struct {
	validate *validator.Validate
	logger   zerolog.Logger
}

// NewCodec creates a Codec.
func NewCodec() *Codec {
	return &Codec{
		validate: validator.New(),
		logger:   zlog.Logger.With().Str("component", "codec").Logger(),
	}
}

// Decode parses a raw frame. It never panics; every failure is returned
// as an error wrapping ErrMalformed or ErrUnknownType.
func (c *Codec) Decode(data []byte) (Inbound, error) {
	var f wireFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if f.Type == "" {
		return Inbound{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	in := Inbound{Type: f.Type}

	switch f.Type {
	case TypeConnectionEstablished, TypePong:
		return in, nil

	case TypeNewNotification, TypeBroadcastNotification:
		n, err := c.decodeNotification(f.Notification)
		if err != nil {
			return Inbound{}, fmt.Errorf("%w: %s: %v", ErrMalformed, f.Type, err)
		}
		in.Notification = n
		return in, nil

	case TypeNotificationsList:
		list, err := c.decodeList(f.Notifications)
		if err != nil {
			return Inbound{}, fmt.Errorf("%w: %s: %v", ErrMalformed, f.Type, err)
		}
		in.Notifications = list
		return in, nil

	case TypeUnreadCount, TypeUnreadCountUpdate:
		count := f.UnreadCount
		if count == nil {
			count = f.Count
		}
		if count == nil || *count < 0 {
			return Inbound{}, fmt.Errorf("%w: %s: missing or negative count", ErrMalformed, f.Type)
		}
		in.UnreadCount = *count
		return in, nil

	case TypeMarkReadResult:
		id := f.NotificationID
		if id == "" {
			id = f.ID
		}
		if id == "" {
			return Inbound{}, fmt.Errorf("%w: %s: missing notification id", ErrMalformed, f.Type)
		}
		in.NotificationID = id
		in.Success = f.Success != nil && *f.Success
		return in, nil

	case TypeMarkAllReadResult:
		in.Success = f.Success != nil && *f.Success
		return in, nil

	case TypeError:
		in.Message = f.Message
		return in, nil
	}

	return Inbound{}, fmt.Errorf("%w: %q", ErrUnknownType, f.Type)
}

// Encode serializes an outbound frame.
func (c *Codec) Encode(msg Outbound) ([]byte, error) {
	if msg.Type == "" {
		return nil, fmt.Errorf("encoding frame: missing type")
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encoding %s frame: %w", msg.Type, err)
	}
	return data, nil
}

func (c *Codec) decodeNotification(raw json.RawMessage) (model.Notification, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return model.Notification{}, fmt.Errorf("missing notification")
	}

	var n model.Notification
	if err := json.Unmarshal(raw, &n); err != nil {
		return model.Notification{}, fmt.Errorf("parsing notification: %w", err)
	}
	if err := c.validate.Struct(n); err != nil {
		return model.Notification{}, fmt.Errorf("validating notification: %w", err)
	}
	return n, nil
}

// decodeList keeps the valid entries of a list and logs the rest, so one
// bad item does not hide the whole snapshot.
func (c *Codec) decodeList(raw json.RawMessage) ([]model.Notification, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return []model.Notification{}, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("parsing notifications: %w", err)
	}

	list := make([]model.Notification, 0, len(items))
	for i, item := range items {
		n, err := c.decodeNotification(item)
		if err != nil {
			c.logger.Warn().Err(err).Int("index", i).Msg("dropping invalid notification from list")
			continue
		}
		list = append(list, n)
	}
	return list, nil
}
