package feed

import (
	"slices"
	"sync"
	"sync/atomic"
)

// Bus fans events out to subscribers. Delivery never blocks the publisher: a
// subscriber whose buffer is full misses the event and its drop count grows.
type Bus struct {
	mu      sync.Mutex
	subs    []*Subscription
	dropped atomic.Uint64
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscription receives events on C until Close is called.
type Subscription struct {
	C <-chan Event

	bus     *Bus
	ch      chan Event
	kinds   map[Kind]struct{}
	mu      sync.Mutex
	closed  bool
	dropped atomic.Uint64
}

// Subscribe registers a subscriber with the given buffer. With no kinds every
// event is delivered.
func (b *Bus) Subscribe(buffer int, kinds ...Kind) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)
	s := &Subscription{C: ch, bus: b, ch: ch}
	if len(kinds) > 0 {
		s.kinds = make(map[Kind]struct{}, len(kinds))
		for _, k := range kinds {
			s.kinds[k] = struct{}{}
		}
	}
	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()
	return s
}

// Publish delivers e to every interested subscriber.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	subs := slices.Clone(b.subs)
	b.mu.Unlock()

	for _, s := range subs {
		if !s.deliver(e) {
			b.dropped.Add(1)
		}
	}
}

// Dropped is the total number of events missed by all subscribers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Len reports the number of live subscriptions.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = slices.DeleteFunc(b.subs, func(other *Subscription) bool { return other == s })
}

// deliver reports false only when the event was wanted but dropped.
func (s *Subscription) deliver(e Event) bool {
	if s.kinds != nil {
		if _, ok := s.kinds[e.Kind()]; !ok {
			return true
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- e:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Dropped is the number of events this subscriber missed.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unsubscribes and closes C. It is safe to call more than once.
func (s *Subscription) Close() {
	s.bus.remove(s)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
