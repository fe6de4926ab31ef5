// Package testutil holds helpers shared by package tests.
package testutil

import (
	"context"
	"testing"

	"github.com/nhle/storefront-notify/internal/model"
	"github.com/nhle/storefront-notify/internal/store"
)

// NewTestStore returns an in-memory notification cache, closed when the
// test ends.
func NewTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("opening cache: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing cache: %v", err)
		}
	})
	return s
}

// SeededStore returns an in-memory cache already holding list.
func SeededStore(t *testing.T, list ...model.Notification) *store.SQLiteStore {
	t.Helper()

	s := NewTestStore(t)
	if err := s.SaveNotifications(context.Background(), list); err != nil {
		t.Fatalf("seeding cache: %v", err)
	}
	return s
}

// IDs returns the ids of list in order.
func IDs(list []model.Notification) []string {
	ids := make([]string, 0, len(list))
	for _, n := range list {
		ids = append(ids, n.ID)
	}
	return ids
}
