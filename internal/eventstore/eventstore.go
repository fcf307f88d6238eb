// Package eventstore implements the append-only lifecycle event log
// (spec §4.4): monotonic event identifiers, stable read-only snapshots,
// and an optional configurable retention policy.
package eventstore

import (
	"sync"

	"github.com/antigravity-dev/weave/internal/model"
)

// Persister is the optional durable backing for an EventStore. A
// *store.Store satisfies this interface; an EventStore configured
// without one is purely in-memory, per spec §4.4 ("in-memory or durable
// per configuration").
type Persister interface {
	PutEvent(model.BeadEvent) (model.EventId, error)
}

// EventStore is an append-only log keyed by a monotonically increasing
// event identifier. Appends are serialized; reads share a read lock, so
// they run concurrently with each other, and an append waits for reads
// in progress to finish copying the log.
type EventStore struct {
	mu        sync.RWMutex
	events    []model.BeadEvent
	nextID    model.EventId
	persister Persister

	// retentionMax is the maximum number of events retained in memory;
	// 0 means unlimited. Trimming never reuses or resurrects identifiers
	// -- it only drops the oldest retained events.
	retentionMax int
}

// Option configures an EventStore at construction time.
type Option func(*EventStore)

// WithPersister attaches a durable backing store. Appends are written
// to it after being assigned an identifier and before the in-memory
// append; a persister failure is returned to the caller, the event is
// not added to the in-memory log, and its identifier is not reused.
func WithPersister(p Persister) Option {
	return func(s *EventStore) { s.persister = p }
}

// WithRetention caps the number of events retained in memory. A value of
// 0 (the default) disables retention entirely.
func WithRetention(maxEvents int) Option {
	return func(s *EventStore) { s.retentionMax = maxEvents }
}

// New returns an empty EventStore.
func New(opts ...Option) *EventStore {
	s := &EventStore{nextID: 1}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append assigns the next monotonic EventId to event, persists it (to
// memory, and to the durable backing if configured), and returns the
// assigned id.
func (s *EventStore) Append(event model.BeadEvent) (model.EventId, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	event.EventID = id

	if s.persister != nil {
		if _, err := s.persister.PutEvent(event); err != nil {
			return 0, err
		}
	}

	s.events = append(s.events, event)
	if s.retentionMax > 0 && len(s.events) > s.retentionMax {
		drop := len(s.events) - s.retentionMax
		s.events = append([]model.BeadEvent(nil), s.events[drop:]...)
	}
	return id, nil
}

// Read returns the sequence of events strictly after `from` (or the
// whole retained log if from is nil), in insertion order. The returned
// slice is a stable copy: later appends never mutate it.
func (s *EventStore) Read(from *model.EventId) []model.BeadEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if from == nil {
		out := make([]model.BeadEvent, len(s.events))
		copy(out, s.events)
		return out
	}

	out := make([]model.BeadEvent, 0, len(s.events))
	for _, e := range s.events {
		if e.EventID > *from {
			out = append(out, e)
		}
	}
	return out
}

// Latest returns the EventId of the most recently retained event, or 0
// if the in-memory log is empty.
func (s *EventStore) Latest() model.EventId {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.events) == 0 {
		return 0
	}
	return s.events[len(s.events)-1].EventID
}
