package registry

import (
	"sync"
	"sync/atomic"
)

// subscriberQueueDepth bounds how far a slow subscriber can lag before it is
// dropped from the bus.
const subscriberQueueDepth = 256

// Subscription is a live feed of Events matching a Filter. Callers read from
// Events() until it is closed, which happens either on Unsubscribe or when
// the bus drops the subscriber for falling behind.
type Subscription struct {
	id       uint64
	filter   Filter
	ch       chan Event
	dropped  atomic.Bool
	unsubbed atomic.Bool
	bus      *EventBus
}

// Events returns the channel events arrive on. It is closed when the
// subscription ends, whether by explicit Unsubscribe or by being dropped.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Dropped reports whether the bus evicted this subscriber for a full queue,
// as distinct from a clean Unsubscribe.
func (s *Subscription) Dropped() bool { return s.dropped.Load() }

// Unsubscribe removes this subscription from the bus. Safe to call more
// than once.
func (s *Subscription) Unsubscribe() {
	s.bus.remove(s)
}

// EventBus is a single-producer, multi-consumer fan-out: Publish is called
// from one place (the daemon's supervisor/controller event loop) and
// delivers to every matching Subscription without blocking on a slow reader
//.
type EventBus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]*Subscription
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[uint64]*Subscription)}
}

// Subscribe registers a new Subscription matching filter.
func (b *EventBus) Subscribe(filter Filter) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &Subscription{
		id:     b.nextID,
		filter: filter,
		ch:     make(chan Event, subscriberQueueDepth),
		bus:    b,
	}
	b.subs[sub.id] = sub
	return sub
}

func (b *EventBus) remove(sub *Subscription) {
	if sub.unsubbed.CompareAndSwap(false, true) {
		b.mu.Lock()
		delete(b.subs, sub.id)
		b.mu.Unlock()
		close(sub.ch)
	}
}

// Publish delivers e to every matching subscriber. Events for a given AppId
// are totally ordered because Publish is only ever called from the single
// producer owning that AppId's controller loop.
func (b *EventBus) Publish(e Event) {
	b.mu.RLock()
	targets := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.filter.matches(e) {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		select {
		case sub.ch <- e:
		default:
			sub.dropped.Store(true)
			b.remove(sub)
		}
	}
}

// Close tears down every live subscription.
func (b *EventBus) Close() {
	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()
	for _, sub := range subs {
		b.remove(sub)
	}
}
