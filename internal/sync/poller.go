// Package sync periodically fetches the notification list over REST and
// merges it into the registry. It is the durability backstop for pushes
// missed while the socket was down.
package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/nhle/storefront-notify/internal/api"
	"github.com/nhle/storefront-notify/internal/event"
	"github.com/nhle/storefront-notify/internal/model"
)

// SyncState represents the current state of the sync loop.
type SyncState int

const (
	SyncIdle SyncState = iota
	SyncRunning
	SyncError
)

func (s SyncState) String() string {
	switch s {
	case SyncIdle:
		return "idle"
	case SyncRunning:
		return "running"
	case SyncError:
		return "error"
	default:
		return "unknown"
	}
}

// SyncStatus holds the state of the last sync.
type SyncStatus struct {
	State    SyncState
	LastSync time.Time
	Error    error
}

// SyncResult describes one completed sync.
type SyncResult struct {
	Notifications []model.Notification
	NewCount      int
	Error         error
	AuthError     bool
}

// defaultFetchTimeout is the maximum time allowed for a single fetch,
// retries included.
const defaultFetchTimeout = 30 * time.Second

const defaultInterval = 300 * time.Second

type fetcher interface {
	ListNotifications(ctx context.Context, limit int) ([]model.Notification, error)
}

// sink receives fetched snapshots. *registry.Registry satisfies it.
type sink interface {
	Get(id string) (model.Notification, bool)
	ApplySnapshot(list []model.Notification, replace bool)
	Notifications() []model.Notification
}

// cache persists the merged list. *store.SQLiteStore satisfies it.
type cache interface {
	SaveNotifications(ctx context.Context, list []model.Notification) error
}

// Options configures a Poller.
type Options struct {
	Fetcher    fetcher
	Sink       sink
	Cache      cache
	Dispatcher *event.Dispatcher

	Interval     time.Duration
	PageLimit    int
	FetchTimeout time.Duration
	Retry        retry.Strategy

	// Replace makes every sync a full replacement: notifications missing
	// from the fetched list are dropped from the sink and the cache.
	Replace bool
}

// Poller runs the background sync loop.
type Poller struct {
	fetcher      fetcher
	sink         sink
	cache        cache
	dispatcher   *event.Dispatcher
	interval     time.Duration
	pageLimit    int
	fetchTimeout time.Duration
	strategy     retry.Strategy
	replace      bool
	logger       zerolog.Logger

	status    SyncStatus
	resultCh  chan SyncResult
	triggerCh chan struct{}
	stopCh    chan struct{}
	done      chan struct{}
	mu        gosync.Mutex
	running   bool
}

// New creates a Poller. Sink and Cache are optional.
func New(opts Options) *Poller {
	p := &Poller{
		fetcher:      opts.Fetcher,
		sink:         opts.Sink,
		cache:        opts.Cache,
		dispatcher:   opts.Dispatcher,
		interval:     opts.Interval,
		pageLimit:    opts.PageLimit,
		fetchTimeout: opts.FetchTimeout,
		strategy:     opts.Retry,
		replace:      opts.Replace,
		logger:       zlog.Logger.With().Str("component", "sync").Logger(),
		resultCh:     make(chan SyncResult, 16),
		triggerCh:    make(chan struct{}, 1),
	}
	if p.interval <= 0 {
		p.interval = defaultInterval
	}
	if p.pageLimit <= 0 {
		p.pageLimit = 50
	}
	if p.fetchTimeout <= 0 {
		p.fetchTimeout = defaultFetchTimeout
	}
	if p.strategy.Attempts <= 0 {
		p.strategy.Attempts = 1
	}
	return p
}

// Start launches the polling goroutine. The first sync runs immediately.
// Calling Start on a running Poller does nothing.
func (p *Poller) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.done = make(chan struct{})
	stop, done := p.stopCh, p.done
	p.mu.Unlock()

	go p.poll(stop, done)
}

// Stop halts the polling goroutine and waits for an in-flight sync to
// finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	close(p.stopCh)
	done := p.done
	p.running = false
	p.mu.Unlock()

	<-done
}

// RefreshNow triggers an immediate sync. Triggers arriving while one is
// already pending are coalesced.
func (p *Poller) RefreshNow() {
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
}

// Results delivers a SyncResult after every sync. Results are dropped
// when nobody reads them.
func (p *Poller) Results() <-chan SyncResult {
	return p.resultCh
}

// Status returns the current sync status.
func (p *Poller) Status() SyncStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// SyncOnce fetches the list, merges it into the sink (or replaces the
// sink's contents when Replace is set) and saves the result to the cache.
// Auth failures are published as event.AuthRequired and are not retried.
func (p *Poller) SyncOnce(ctx context.Context) SyncResult {
	p.setStatus(SyncRunning, nil)

	ctx, cancel := context.WithTimeout(ctx, p.fetchTimeout)
	defer cancel()

	var (
		list    []model.Notification
		authErr error
	)
	err := retry.Do(func() error {
		if authErr != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		got, err := p.fetcher.ListNotifications(ctx, p.pageLimit)
		if api.IsAuthError(err) {
			authErr = err
			return nil
		}
		if err != nil {
			p.logger.Debug().Err(err).Msg("fetch attempt failed")
			return err
		}
		list = got
		return nil
	}, p.strategy)
	if authErr != nil {
		err = authErr
	}

	if err != nil {
		err = fmt.Errorf("syncing notifications: %w", err)
		p.setStatus(SyncError, err)

		res := SyncResult{Error: err}
		if api.IsAuthError(err) {
			res.AuthError = true
			p.logger.Warn().Err(err).Msg("sync rejected: authentication required")
			if p.dispatcher != nil {
				event.Publish(p.dispatcher, event.AuthRequired, event.Closure{Reason: err.Error()})
			}
		} else {
			p.logger.Warn().Err(err).Msg("sync failed")
		}
		p.sendResult(res)
		return res
	}

	newCount := 0
	merged := list
	if p.sink != nil {
		for _, n := range list {
			if _, ok := p.sink.Get(n.ID); !ok {
				newCount++
			}
		}
		p.sink.ApplySnapshot(list, p.replace)
		merged = p.sink.Notifications()
	}

	if p.cache != nil {
		if saveErr := p.cache.SaveNotifications(ctx, merged); saveErr != nil {
			// The merge already happened; a stale cache is only an
			// offline-display problem.
			p.logger.Warn().Err(saveErr).Msg("caching notifications")
		}
	}

	p.setStatus(SyncIdle, nil)
	p.logger.Info().Int("fetched", len(list)).Int("new", newCount).Msg("sync complete")

	res := SyncResult{Notifications: list, NewCount: newCount}
	p.sendResult(res)
	return res
}

// poll runs the polling loop.
func (p *Poller) poll(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	// Do an initial fetch immediately
	p.SyncOnce(ctx)

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.SyncOnce(ctx)
		case <-p.triggerCh:
			p.SyncOnce(ctx)
		}
	}
}

// setStatus updates the sync status.
func (p *Poller) setStatus(state SyncState, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status.State = state
	p.status.Error = err
	if state == SyncIdle && err == nil {
		p.status.LastSync = time.Now()
	}
}

// sendResult sends a SyncResult on the result channel without blocking.
func (p *Poller) sendResult(res SyncResult) {
	select {
	case p.resultCh <- res:
	default:
		// Drop if channel is full to avoid blocking the poller
	}
}
