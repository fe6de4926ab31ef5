package store

import (
	"context"
	"time"

	"github.com/nhle/storefront-notify/internal/model"
)

// Store is the local notification cache. It holds the last list fetched
// from the backend so it can be shown while offline. It is not a
// durability guarantee.
type Store interface {
	// SaveNotifications replaces the cached list with list.
	SaveNotifications(ctx context.Context, list []model.Notification) error

	// LoadNotifications returns the cached list, newest first.
	LoadNotifications(ctx context.Context) ([]model.Notification, error)

	// LastSaved returns when the cache was last written, or the zero
	// time if it never was.
	LastSaved(ctx context.Context) (time.Time, error)

	Close() error
}
