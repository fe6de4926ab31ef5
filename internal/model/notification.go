package model

import "time"

// Notification represents an alert about the shopper's account or orders,
// as reported by the storefront backend over the socket or the REST API.
type Notification struct {
	// ID is the backend identifier. It is stable across the push and
	// fetch paths and is the dedupe key everywhere in the client.
	ID string `json:"id" validate:"required"`

	// Title is the short headline shown in the notification list.
	Title string `json:"title" validate:"required"`

	// Message is the human-readable notification text.
	Message string `json:"message"`

	// CreatedAt is when the backend generated this notification.
	CreatedAt time.Time `json:"created_at"`

	// Read indicates whether the user has seen this notification.
	Read bool `json:"read"`

	// OrderID links the notification to an order, when there is one.
	OrderID *string `json:"order_id,omitempty"`

	// Icon is an optional presentation tag (e.g. "shipping", "promo").
	Icon string `json:"icon,omitempty"`

	// Data carries optional structured extras such as a product name or
	// image URL.
	Data map[string]any `json:"data,omitempty"`
}

// Clone returns a copy of n that shares no mutable state with it.
func (n Notification) Clone() Notification {
	c := n
	if n.OrderID != nil {
		id := *n.OrderID
		c.OrderID = &id
	}
	if n.Data != nil {
		c.Data = make(map[string]any, len(n.Data))
		for k, v := range n.Data {
			c.Data[k] = v
		}
	}
	return c
}
