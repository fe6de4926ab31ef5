package event

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/zlog"
)

// Topic names an event and fixes the payload type its handlers receive.
type Topic[T any] struct {
	name string
}

// NewTopic declares a topic. Two topics with the same name share
// subscribers, so names must be unique per payload type.
func NewTopic[T any](name string) Topic[T] {
	return Topic[T]{name: name}
}

// Name returns the topic name.
func (t Topic[T]) Name() string {
	return t.name
}

type subscription struct {
	id uuid.UUID
	fn func(any)
}

// Dispatcher is a synchronous in-process publish/subscribe hub. Handlers
// run on the publishing goroutine in registration order. A handler that
// panics is logged and skipped; the remaining handlers still run.
type Dispatcher struct {
	mu     sync.RWMutex
	subs   map[string][]subscription
	logger zerolog.Logger
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subs:   make(map[string][]subscription),
		logger: zlog.Logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Subscribe registers fn for topic t and returns a func that removes the
// registration. Calling the returned func more than once is harmless.
func Subscribe[T any](d *Dispatcher, t Topic[T], fn func(T)) (unsubscribe func()) {
	id := uuid.New()
	sub := subscription{
		id: id,
		fn: func(v any) { fn(v.(T)) },
	}

	d.mu.Lock()
	d.subs[t.name] = append(d.subs[t.name], sub)
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { d.remove(t.name, id) })
	}
}

// Publish delivers v to every handler currently subscribed to t. Handlers
// added after Publish returns never see v.
func Publish[T any](d *Dispatcher, t Topic[T], v T) {
	d.mu.RLock()
	subs := make([]subscription, len(d.subs[t.name]))
	copy(subs, d.subs[t.name])
	d.mu.RUnlock()

	for _, s := range subs {
		d.invoke(t.name, s, v)
	}
}

// SubscriberCount returns the number of handlers registered for a topic.
func SubscriberCount[T any](d *Dispatcher, t Topic[T]) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs[t.name])
}

func (d *Dispatcher) invoke(topic string, s subscription, v any) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().
				Str("topic", topic).
				Str("subscription", s.id.String()).
				Err(fmt.Errorf("handler panic: %v", r)).
				Msg("event handler failed")
		}
	}()
	s.fn(v)
}

func (d *Dispatcher) remove(topic string, id uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	subs := d.subs[topic]
	for i, s := range subs {
		if s.id != id {
			continue
		}
		next := make([]subscription, 0, len(subs)-1)
		next = append(next, subs[:i]...)
		next = append(next, subs[i+1:]...)
		if len(next) == 0 {
			delete(d.subs, topic)
		} else {
			d.subs[topic] = next
		}
		return
	}
}
