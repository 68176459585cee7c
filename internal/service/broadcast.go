package service

import (
	"sync"
	"sync/atomic"

	"logging_proxy/internal/models"

	"github.com/google/uuid"
)

// DefaultQueueSize is the per-subscription queue bound used when none is given.
const DefaultQueueSize = 256

// BroadcastMetrics receives broadcaster counters. *metrics.Metrics implements it.
type BroadcastMetrics interface {
	EventPublished()
	EventDropped()
	SubscribersChanged(n int)
}

// BroadcastStats is a point-in-time view of the broadcaster.
type BroadcastStats struct {
	Subscribers int    `json:"subscribers"`
	Published   uint64 `json:"published"`
	Dropped     uint64 `json:"dropped"`
}

// Subscription is one observer's view of the event stream. It starts open and
// becomes closed exactly once, after which Events is closed and nothing more is
// delivered.
type Subscription struct {
	id    string
	queue chan models.LogEvent

	mu      sync.Mutex
	closed  bool
	dropped uint64
}

// ID returns the opaque subscription identifier.
func (s *Subscription) ID() string { return s.id }

// Events is the delivery queue. It is closed when the subscription closes.
func (s *Subscription) Events() <-chan models.LogEvent { return s.queue }

// Closed reports whether the subscription reached its terminal state.
func (s *Subscription) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Dropped reports how many events this subscription lost to overflow.
func (s *Subscription) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// deliver enqueues ev without blocking. When the queue is full the oldest
// undelivered event is discarded first. Returns whether an event was dropped.
func (s *Subscription) deliver(ev models.LogEvent) (dropped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	for {
		select {
		case s.queue <- ev:
			return dropped
		default:
		}
		// Full. Only deliver (under s.mu) adds to the queue, so after one
		// receive there is room unless the reader raced us to it.
		select {
		case <-s.queue:
			s.dropped++
			dropped = true
		default:
		}
	}
}

// close discards undelivered events and closes the queue.
func (s *Subscription) close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
drain:
	for {
		select {
		case <-s.queue:
		default:
			break drain
		}
	}
	close(s.queue)
	return true
}

// Broadcaster fans published events out to every open subscription.
// Publish never blocks on subscribers; structural changes to the subscriber
// set are serialized by mu.
type Broadcaster struct {
	queueSize int
	metrics   BroadcastMetrics

	mu     sync.RWMutex
	subs   map[string]*Subscription
	closed bool

	published atomic.Uint64
	dropped   atomic.Uint64
}

// NewBroadcaster creates a broadcaster whose subscriptions buffer up to
// queueSize events. metrics may be nil.
func NewBroadcaster(queueSize int, metrics BroadcastMetrics) *Broadcaster {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Broadcaster{
		queueSize: queueSize,
		metrics:   metrics,
		subs:      make(map[string]*Subscription),
	}
}

// Publish delivers ev to every open subscription.
func (b *Broadcaster) Publish(ev models.LogEvent) {
	b.published.Add(1)
	if b.metrics != nil {
		b.metrics.EventPublished()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.deliver(ev) {
			b.dropped.Add(1)
			if b.metrics != nil {
				b.metrics.EventDropped()
			}
		}
	}
}

// Subscribe registers a new open subscription with an empty queue. It only
// receives events published after this call. After Close it returns an
// already-closed subscription.
func (b *Broadcaster) Subscribe() *Subscription {
	sub := &Subscription{
		id:    uuid.NewString(),
		queue: make(chan models.LogEvent, b.queueSize),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.close()
		return sub
	}
	b.subs[sub.id] = sub
	n := len(b.subs)
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.SubscribersChanged(n)
	}
	return sub
}

// Unsubscribe closes sub and removes it. Calling it twice is harmless.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	delete(b.subs, sub.id)
	n := len(b.subs)
	b.mu.Unlock()

	if sub.close() && b.metrics != nil {
		b.metrics.SubscribersChanged(n)
	}
}

// Stats returns current counters.
func (b *Broadcaster) Stats() BroadcastStats {
	b.mu.RLock()
	n := len(b.subs)
	b.mu.RUnlock()
	return BroadcastStats{
		Subscribers: n,
		Published:   b.published.Load(),
		Dropped:     b.dropped.Load(),
	}
}

// Close closes every subscription and rejects new ones.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[string]*Subscription)
	b.closed = true
	b.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
	if b.metrics != nil {
		b.metrics.SubscribersChanged(0)
	}
}
