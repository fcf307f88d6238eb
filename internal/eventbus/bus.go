// Package eventbus implements the pub/sub layer over the event store
// (spec §4.5): pattern-filtered subscriptions, a bounded global
// broadcast channel, and a per-subscriber circuit breaker. A
// subscriber's pattern is evaluated before its breaker or channel is
// touched, so a non-matching event never counts against a slow
// subscriber (grounded on original_source's events/bus.rs).
package eventbus

import (
	"sync"

	"github.com/google/uuid"

	"github.com/antigravity-dev/weave/internal/eventstore"
	"github.com/antigravity-dev/weave/internal/model"
)

// Subscription is what Subscribe hands back to a caller: the assigned
// id and the channel to receive matching events on.
type Subscription struct {
	ID      model.SubscriberId
	Events  <-chan model.BeadEvent
}

type subscriber struct {
	id      model.SubscriberId
	pattern Pattern
	ch      chan model.BeadEvent
	breaker *breaker
}

// Bus layers pub/sub on top of an *eventstore.EventStore.
type Bus struct {
	store *eventstore.EventStore

	broadcastCap int
	broadcast    chan model.BeadEvent

	mu          sync.RWMutex
	subscribers map[model.SubscriberId]*subscriber
}

// New returns a Bus backed by store, with a global broadcast channel of
// the given bounded capacity.
func New(store *eventstore.EventStore, broadcastCapacity int) *Bus {
	return &Bus{
		store:        store,
		broadcastCap: broadcastCapacity,
		broadcast:    make(chan model.BeadEvent, broadcastCapacity),
		subscribers:  make(map[model.SubscriberId]*subscriber),
	}
}

// Broadcast returns the global broadcast channel. Reads from it never
// block appends; a full channel simply drops the event for this
// receiver (there is no breaker on the broadcast channel itself, only on
// per-subscriber queues).
func (b *Bus) Broadcast() <-chan model.BeadEvent {
	return b.broadcast
}

// Subscribe registers a new subscriber with the given pattern, delivery
// channel capacity, and circuit-breaker failure threshold.
func (b *Bus) Subscribe(pattern Pattern, chanCapacity, breakerThreshold int) Subscription {
	sub := &subscriber{
		id:      model.SubscriberId(uuid.NewString()),
		pattern: pattern,
		ch:      make(chan model.BeadEvent, chanCapacity),
		breaker: newBreaker(breakerThreshold),
	}

	b.mu.Lock()
	b.subscribers[sub.id] = sub
	b.mu.Unlock()

	return Subscription{ID: sub.id, Events: sub.ch}
}

// Unsubscribe removes the subscriber and closes its channel. A no-op if
// the id is unknown.
func (b *Bus) Unsubscribe(id model.SubscriberId) {
	b.mu.Lock()
	sub, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
	if ok {
		close(sub.ch)
	}
}

// ResetBreaker clears the named subscriber's circuit breaker, allowing
// delivery to resume. A no-op if the id is unknown.
func (b *Bus) ResetBreaker(id model.SubscriberId) {
	b.mu.RLock()
	sub, ok := b.subscribers[id]
	b.mu.RUnlock()
	if ok {
		sub.breaker.Reset()
	}
}

// Publish appends event to the backing store, then delivers it to the
// global broadcast channel and every pattern-matched subscriber whose
// breaker is closed. Per-subscriber sends are non-blocking: a full or
// closed channel counts as a delivery failure against that subscriber's
// breaker, never against the publisher.
func (b *Bus) Publish(event model.BeadEvent) (model.EventId, error) {
	id, err := b.store.Append(event)
	if err != nil {
		return 0, err
	}
	event.EventID = id

	select {
	case b.broadcast <- event:
	default:
	}

	b.mu.RLock()
	subs := make([]*subscriber, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		if !s.pattern.Match(event) {
			continue
		}
		if s.breaker.Open() {
			continue
		}
		if trySend(s.ch, event) {
			s.breaker.RecordSuccess()
		} else {
			s.breaker.RecordFailure()
		}
	}

	return id, nil
}

func trySend(ch chan model.BeadEvent, event model.BeadEvent) (sent bool) {
	defer func() {
		if recover() != nil {
			sent = false
		}
	}()
	select {
	case ch <- event:
		return true
	default:
		return false
	}
}

// ReplayFrom delegates to the backing event store and returns its
// snapshot, giving a subscriber a way to catch up on history before or
// after subscribing.
func (b *Bus) ReplayFrom(from *model.EventId) []model.BeadEvent {
	return b.store.Read(from)
}
