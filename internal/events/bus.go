package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type Kind string

const (
	KindUpdate Kind = "update"
	KindRemove Kind = "remove"
	KindInsert Kind = "insert"
	KindReload Kind = "reload"
)

const (
	TypeFile    = "file"
	TypePackage = "package"

	BucketQueue     = "queue"
	BucketCollector = "collector"
)

var ErrClosed = errors.New("subscription closed")

type Event struct {
	Kind   Kind      `json:"kind"`
	Type   string    `json:"type"`
	ID     int       `json:"id"`
	Bucket string    `json:"bucket,omitempty"`
	Time   time.Time `json:"time"`
}

// Bus fans every emitted event out to all subscriptions. Emission is
// serialized, so each subscription sees events in emission order.
type Bus struct {
	mu   sync.Mutex
	subs map[string]*Subscription
	now  func() time.Time
}

func NewBus() *Bus {
	return &Bus{
		subs: make(map[string]*Subscription),
		now:  time.Now,
	}
}

func (b *Bus) Emit(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ev.Time.IsZero() {
		ev.Time = b.now()
	}
	for _, sub := range b.subs {
		sub.push(ev)
	}
}

// Update emits an update event for one entity.
func (b *Bus) Update(entityType string, id int, bucket string) {
	b.Emit(Event{Kind: KindUpdate, Type: entityType, ID: id, Bucket: bucket})
}

func (b *Bus) Remove(entityType string, id int, bucket string) {
	b.Emit(Event{Kind: KindRemove, Type: entityType, ID: id, Bucket: bucket})
}

func (b *Bus) Subscribe() *Subscription {
	sub := &Subscription{
		ID:       uuid.NewString(),
		ready:    make(chan struct{}, 1),
		done:     make(chan struct{}),
		lastSeen: b.now(),
	}
	b.mu.Lock()
	b.subs[sub.ID] = sub
	b.mu.Unlock()
	log.Debug().Str("op", "events/bus").Str("subscriber", sub.ID).Msg("subscriber registered")
	return sub
}

func (b *Bus) Get(id string) (*Subscription, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.subs[id]
	return sub, ok
}

func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	delete(b.subs, id)
	b.mu.Unlock()
	if ok {
		sub.close()
	}
}

// Pull drains the pending events of a pull client and marks it active.
func (b *Bus) Pull(id string) ([]Event, bool) {
	sub, ok := b.Get(id)
	if !ok {
		return nil, false
	}
	sub.touch(b.now())
	return sub.Drain(), true
}

// Prune drops subscriptions that have not pulled within maxIdle.
func (b *Bus) Prune(maxIdle time.Duration) int {
	cutoff := b.now().Add(-maxIdle)
	var stale []*Subscription
	b.mu.Lock()
	for id, sub := range b.subs {
		if sub.seenBefore(cutoff) {
			stale = append(stale, sub)
			delete(b.subs, id)
		}
	}
	b.mu.Unlock()
	for _, sub := range stale {
		sub.close()
		log.Debug().Str("op", "events/bus").Str("subscriber", sub.ID).Msg("idle subscriber pruned")
	}
	return len(stale)
}

// HasActive reports whether any subscriber was seen within maxIdle.
func (b *Bus) HasActive(maxIdle time.Duration) bool {
	cutoff := b.now().Add(-maxIdle)
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		if !sub.seenBefore(cutoff) {
			return true
		}
	}
	return false
}

func (b *Bus) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Subscription is an unbounded FIFO of events for one consumer.
type Subscription struct {
	ID       string
	mu       sync.Mutex
	queue    []Event
	ready    chan struct{}
	done     chan struct{}
	closed   bool
	lastSeen time.Time
}

func (s *Subscription) push(ev Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// Drain returns and clears all pending events.
func (s *Subscription) Drain() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.queue
	s.queue = nil
	return out
}

// Next blocks until at least one event is pending, then drains.
func (s *Subscription) Next(ctx context.Context) ([]Event, error) {
	for {
		if evs := s.Drain(); len(evs) > 0 {
			return evs, nil
		}
		select {
		case <-s.ready:
		case <-s.done:
			if evs := s.Drain(); len(evs) > 0 {
				return evs, nil
			}
			return nil, ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Subscription) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Subscription) seenBefore(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen.Before(cutoff)
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
}
