package events

import (
	"sync"
	"sync/atomic"
)

// Delivery wraps an Event with the number of earlier events this
// subscriber missed because its queue was full (Lagged, spec §5/§9).
// Lagged is 0 on every delivery except the first one after an overflow.
type Delivery struct {
	Event  Event
	Lagged int64
}

const defaultQueueSize = 64

type subscription struct {
	ch      chan Delivery
	dropped atomic.Int64
	closed  atomic.Bool
}

// Bus is C9: a broadcast channel with a bounded per-subscriber queue.
// Producers (Publish) never block; a slow subscriber loses events and
// observes Delivery.Lagged > 0 instead.
type Bus struct {
	mu   sync.RWMutex
	subs map[int64]*subscription
	next int64
}

// New constructs an empty event bus.
func New() *Bus {
	return &Bus{subs: make(map[int64]*subscription)}
}

// Subscription is the handle returned by Subscribe. Receiving from C()
// blocks until the next delivery or Close; after Close, that channel is
// closed and never blocks again, matching spec §4.5's cancellation semantics extended to
// every subscriber of the bus.
type Subscription struct {
	id   int64
	bus  *Bus
	sub  *subscription
}

// C returns the channel to range over for deliveries.
func (s *Subscription) C() <-chan Delivery {
	return s.sub.ch
}

// Close unregisters the subscription and closes its channel. Safe to call
// more than once.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()
	if s.sub.closed.CompareAndSwap(false, true) {
		close(s.sub.ch)
	}
}

// Subscribe registers a new subscriber. It sees every event Published
// after this call, with a queue of defaultQueueSize buffered deliveries.
func (b *Bus) Subscribe() *Subscription {
	return b.SubscribeBuffered(defaultQueueSize)
}

// SubscribeBuffered is Subscribe with an explicit queue depth.
func (b *Bus) SubscribeBuffered(queueSize int) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	sub := &subscription{ch: make(chan Delivery, queueSize)}
	b.subs[id] = sub
	return &Subscription{id: id, bus: b, sub: sub}
}

// Publish broadcasts ev to every current subscriber. Never blocks: a
// subscriber whose queue is full is skipped and its drop counter
// incremented, surfaced as Lagged on its next successful delivery.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		b.deliver(sub, ev)
	}
}

func (b *Bus) deliver(sub *subscription, ev Event) {
	d := Delivery{Event: ev.Clone()}
	if n := sub.dropped.Swap(0); n > 0 {
		d.Lagged = n
	}
	select {
	case sub.ch <- d:
	default:
		sub.dropped.Add(d.Lagged + 1)
	}
}

// Close shuts down every outstanding subscription; producers calling
// Publish afterwards are no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subs {
		if sub.closed.CompareAndSwap(false, true) {
			close(sub.ch)
		}
		delete(b.subs, id)
	}
}
