// Package registry is the in-memory source of truth for the user's
// notifications. It merges pushes and snapshots by id, keeps them ordered
// newest first, tracks the unread count incrementally, and applies
// read/delete mutations optimistically before telling the backend.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/zlog"

	"github.com/nhle/storefront-notify/internal/event"
	"github.com/nhle/storefront-notify/internal/model"
)

//go:generate mockgen -source=registry.go -destination=../mocks/registry/mock.go -package=mocks

// ErrNotFound is returned for mutations on ids the registry does not hold.
var ErrNotFound = errors.New("notification not found")

// Mutation names reported in event.MutationFailure.Op.
const (
	OpMarkRead    = "mark_read"
	OpMarkAllRead = "mark_all_read"
	OpDelete      = "delete"
	OpDeleteAll   = "delete_all"
)

const (
	defaultPageLimit       = 50
	defaultMutationTimeout = 30 * time.Second
)

// Backend performs mutations and fetches against the REST API.
type Backend interface {
	ListNotifications(ctx context.Context, limit int) ([]model.Notification, error)
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) error
	Delete(ctx context.Context, id string) error
	DeleteAll(ctx context.Context) error
}

// Socket is the part of the realtime client the registry drives.
type Socket interface {
	RequestNotifications(limit int) bool
	RequestUnreadCount() bool
}

type entry struct {
	n model.Notification

	// seq is the arrival order; a higher seq sorts first among equal
	// timestamps.
	seq uint64
}

// Options configures a Registry.
type Options struct {
	Dispatcher *event.Dispatcher

	// Backend receives mutations. A nil Backend keeps mutations local.
	Backend Backend

	// Socket, when set, is asked for a fresh list on every Connected.
	Socket Socket

	PageLimit       int
	MutationTimeout time.Duration
}

// Registry holds the notification set. It is safe for concurrent use.
type Registry struct {
	dispatcher      *event.Dispatcher
	backend         Backend
	socket          Socket
	pageLimit       int
	mutationTimeout time.Duration
	logger          zerolog.Logger

	mu           sync.RWMutex
	entries      map[string]*entry
	deleted      map[string]struct{}
	seq          uint64
	unread       int
	serverUnread int
	lastErr      error

	ctx         context.Context
	cancel      context.CancelFunc
	inflight    sync.WaitGroup
	unsubscribe []func()
}

// New creates an empty registry subscribed to opts.Dispatcher.
func New(opts Options) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		dispatcher:      opts.Dispatcher,
		backend:         opts.Backend,
		socket:          opts.Socket,
		pageLimit:       opts.PageLimit,
		mutationTimeout: opts.MutationTimeout,
		logger:          zlog.Logger.With().Str("component", "registry").Logger(),
		entries:         make(map[string]*entry),
		deleted:         make(map[string]struct{}),
		serverUnread:    -1,
		ctx:             ctx,
		cancel:          cancel,
	}
	if r.dispatcher == nil {
		r.dispatcher = event.NewDispatcher()
	}
	if r.pageLimit <= 0 {
		r.pageLimit = defaultPageLimit
	}
	if r.mutationTimeout <= 0 {
		r.mutationTimeout = defaultMutationTimeout
	}

	d := r.dispatcher
	r.unsubscribe = []func(){
		event.Subscribe(d, event.NotificationCreated, func(n model.Notification) { r.ApplyCreated(n) }),
		event.Subscribe(d, event.SnapshotReceived, func(list []model.Notification) { r.ApplySnapshot(list, false) }),
		event.Subscribe(d, event.UnreadCountReceived, r.onUnreadCount),
		event.Subscribe(d, event.MarkReadAck, r.onMarkReadAck),
		event.Subscribe(d, event.MarkAllReadAck, r.onMarkAllReadAck),
		event.Subscribe(d, event.Connected, r.onConnected),
	}

	return r
}

// Close detaches the registry from the dispatcher, cancels in-flight
// backend calls and waits for them to return.
func (r *Registry) Close() {
	for _, unsub := range r.unsubscribe {
		unsub()
	}
	r.cancel()
	r.inflight.Wait()
}

// Wait blocks until every backend call fired so far has returned.
func (r *Registry) Wait() {
	r.inflight.Wait()
}

// ApplyCreated inserts n unless its id is already known. It reports
// whether n was inserted.
func (r *Registry) ApplyCreated(n model.Notification) bool {
	if n.ID == "" {
		return false
	}

	r.mu.Lock()
	if _, ok := r.entries[n.ID]; ok {
		r.mu.Unlock()
		return false
	}
	if _, ok := r.deleted[n.ID]; ok {
		r.mu.Unlock()
		r.logger.Debug().Str("id", n.ID).Msg("ignoring push for deleted notification")
		return false
	}
	r.insertLocked(n)
	unread := r.unread
	r.mu.Unlock()

	r.changed(unread)
	return true
}

// ApplySnapshot merges list into the registry. Known entries take the
// snapshot's fields but never go from read back to unread. Entries missing
// from list are kept, unless replace is set, in which case they are
// dropped and the set becomes exactly list.
func (r *Registry) ApplySnapshot(list []model.Notification, replace bool) {
	r.mu.Lock()

	var present map[string]struct{}
	if replace {
		present = make(map[string]struct{}, len(list))
		r.deleted = make(map[string]struct{})
	}

	// Walk oldest-last-in-list first so list order survives timestamp ties.
	for i := len(list) - 1; i >= 0; i-- {
		n := list[i]
		if n.ID == "" {
			continue
		}
		if replace {
			present[n.ID] = struct{}{}
		}

		e, ok := r.entries[n.ID]
		if !ok {
			if _, gone := r.deleted[n.ID]; gone {
				continue
			}
			r.insertLocked(n)
			continue
		}

		wasRead := e.n.Read
		e.n = n.Clone()
		if wasRead {
			e.n.Read = true
		} else if e.n.Read {
			r.unread--
		}
	}

	if replace {
		for id, e := range r.entries {
			if _, ok := present[id]; ok {
				continue
			}
			if !e.n.Read {
				r.unread--
			}
			delete(r.entries, id)
		}
	}

	unread := r.unread
	size := len(r.entries)
	r.mu.Unlock()

	r.logger.Debug().Int("incoming", len(list)).Bool("replace", replace).Int("size", size).Msg("snapshot applied")
	r.changed(unread)
}

// MarkRead marks id read locally and tells the backend. Backend failures
// are reported through event.MutationFailed and LastError; the local
// change is kept.
func (r *Registry) MarkRead(id string) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("mark read %s: %w", id, ErrNotFound)
	}
	if e.n.Read {
		r.mu.Unlock()
		return nil
	}
	e.n.Read = true
	r.unread--
	unread := r.unread
	r.mu.Unlock()

	r.changed(unread)
	r.fire(OpMarkRead, id, func(ctx context.Context, b Backend) error {
		return b.MarkRead(ctx, id)
	})
	return nil
}

// MarkAllRead marks every notification read locally and tells the
// backend.
func (r *Registry) MarkAllRead() {
	r.mu.Lock()
	for _, e := range r.entries {
		e.n.Read = true
	}
	r.unread = 0
	r.mu.Unlock()

	r.changed(0)
	r.fire(OpMarkAllRead, "", func(ctx context.Context, b Backend) error {
		return b.MarkAllRead(ctx)
	})
}

// Delete removes id locally and tells the backend. Deleting an id that is
// already gone is a no-op returning ErrNotFound.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("delete %s: %w", id, ErrNotFound)
	}
	if !e.n.Read {
		r.unread--
	}
	delete(r.entries, id)
	r.deleted[id] = struct{}{}
	unread := r.unread
	r.mu.Unlock()

	r.changed(unread)
	r.fire(OpDelete, id, func(ctx context.Context, b Backend) error {
		return b.Delete(ctx, id)
	})
	return nil
}

// DeleteAll clears the registry and tells the backend.
func (r *Registry) DeleteAll() {
	r.mu.Lock()
	for id := range r.entries {
		r.deleted[id] = struct{}{}
	}
	r.entries = make(map[string]*entry)
	r.unread = 0
	r.mu.Unlock()

	r.changed(0)
	r.fire(OpDeleteAll, "", func(ctx context.Context, b Backend) error {
		return b.DeleteAll(ctx)
	})
}

// Refresh fetches the list from the backend and replaces the registry
// contents with it.
func (r *Registry) Refresh(ctx context.Context) error {
	if r.backend == nil {
		return nil
	}

	list, err := r.backend.ListNotifications(ctx, r.pageLimit)
	if err != nil {
		err = fmt.Errorf("refreshing notifications: %w", err)
		r.setErr(err)
		return err
	}

	r.ApplySnapshot(list, true)
	return nil
}

// UnreadCount returns the number of unread notifications held locally.
func (r *Registry) UnreadCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.unread
}

// ServerUnreadCount returns the last unread count the server reported,
// or -1 if it has not reported one.
func (r *Registry) ServerUnreadCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.serverUnread
}

// Len returns the number of notifications held.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Get returns a copy of the notification with id.
func (r *Registry) Get(id string) (model.Notification, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return model.Notification{}, false
	}
	return e.n.Clone(), true
}

// Notifications returns a copy of the set, newest first. Ties on
// CreatedAt are broken by arrival, latest first.
func (r *Registry) Notifications() []model.Notification {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.n.CreatedAt.Equal(b.n.CreatedAt) {
			return a.n.CreatedAt.After(b.n.CreatedAt)
		}
		return a.seq > b.seq
	})
	out := make([]model.Notification, len(entries))
	for i, e := range entries {
		out[i] = e.n.Clone()
	}
	r.mu.RUnlock()
	return out
}

// LastError returns the most recent backend failure, or nil.
func (r *Registry) LastError() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastErr
}

func (r *Registry) insertLocked(n model.Notification) {
	r.seq++
	r.entries[n.ID] = &entry{n: n.Clone(), seq: r.seq}
	if !n.Read {
		r.unread++
	}
}

func (r *Registry) changed(unread int) {
	event.Publish(r.dispatcher, event.NotificationsChanged, unread)
}

func (r *Registry) setErr(err error) {
	r.mu.Lock()
	r.lastErr = err
	r.mu.Unlock()
}

// fire runs call against the backend on its own goroutine. Calls are not
// queued behind each other.
func (r *Registry) fire(op, id string, call func(context.Context, Backend) error) {
	if r.backend == nil {
		return
	}

	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()

		ctx, cancel := context.WithTimeout(r.ctx, r.mutationTimeout)
		defer cancel()

		if err := call(ctx, r.backend); err != nil {
			r.failed(op, id, err)
		}
	}()
}

func (r *Registry) failed(op, id string, err error) {
	err = fmt.Errorf("%s %s: %w", op, id, err)
	r.setErr(err)
	r.logger.Warn().Err(err).Str("op", op).Str("id", id).Msg("backend mutation failed, keeping local state")
	event.Publish(r.dispatcher, event.MutationFailed, event.MutationFailure{Op: op, ID: id, Err: err})
}

func (r *Registry) onConnected(event.Empty) {
	if r.socket == nil {
		return
	}
	if !r.socket.RequestNotifications(r.pageLimit) {
		r.logger.Debug().Msg("could not request notifications after connect")
	}
	r.socket.RequestUnreadCount()
}

func (r *Registry) onUnreadCount(n int) {
	r.mu.Lock()
	r.serverUnread = n
	local := r.unread
	r.mu.Unlock()

	if n != local {
		r.logger.Debug().Int("server", n).Int("local", local).Msg("unread count differs from server")
	}
}

func (r *Registry) onMarkReadAck(ack event.Ack) {
	if ack.Success {
		r.mu.Lock()
		e, ok := r.entries[ack.ID]
		changed := ok && !e.n.Read
		if changed {
			e.n.Read = true
			r.unread--
		}
		unread := r.unread
		r.mu.Unlock()
		if changed {
			r.changed(unread)
		}
		return
	}
	r.failed(OpMarkRead, ack.ID, errors.New("rejected by server"))
}

func (r *Registry) onMarkAllReadAck(ack event.Ack) {
	if ack.Success {
		r.mu.Lock()
		changed := r.unread != 0
		for _, e := range r.entries {
			e.n.Read = true
		}
		r.unread = 0
		r.mu.Unlock()
		if changed {
			r.changed(0)
		}
		return
	}
	r.failed(OpMarkAllRead, "", errors.New("rejected by server"))
}
