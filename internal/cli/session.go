package cli

import (
	"context"

	"github.com/nhle/storefront-notify/internal/api"
	"github.com/nhle/storefront-notify/internal/event"
	"github.com/nhle/storefront-notify/internal/model"
	"github.com/nhle/storefront-notify/internal/registry"
	"github.com/nhle/storefront-notify/internal/store"
)

// session is the offline-first stack used by one-shot commands: the
// cached list loaded into a registry that talks to the REST API.
type session struct {
	cfg   *model.AppConfig
	d     *event.Dispatcher
	rest  *api.Client
	store *store.SQLiteStore
	reg   *registry.Registry
}

func openSession(ctx context.Context, e *env) (*session, error) {
	cfg, err := e.config()
	if err != nil {
		return nil, err
	}
	token, err := e.vault.Token()
	if err != nil {
		return nil, err
	}

	s, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	cached, err := s.LoadNotifications(ctx)
	if err != nil {
		s.Close()
		return nil, err
	}

	d := event.NewDispatcher()
	rest := api.NewClient(cfg.Server.APIURL(), token)
	reg := registry.New(registry.Options{
		Dispatcher: d,
		Backend:    rest,
		PageLimit:  cfg.Sync.PageLimit,
	})
	reg.ApplySnapshot(cached, true)

	return &session{cfg: cfg, d: d, rest: rest, store: s, reg: reg}, nil
}

// save writes the registry contents back to the cache.
func (s *session) save(ctx context.Context) error {
	return s.store.SaveNotifications(ctx, s.reg.Notifications())
}

func (s *session) Close() {
	s.reg.Close()
	s.store.Close()
}
