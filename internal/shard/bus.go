package shard

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/parsascontentcorner/discordlitegateway/internal/dispatch"
)

// DefaultBufferSize is the per-subscriber channel capacity.
const DefaultBufferSize = 256

// Subscription receives notifications until it is unsubscribed.
type Subscription struct {
	ID uuid.UUID
	C  <-chan dispatch.Notification

	ch     chan dispatch.Notification
	events map[string]struct{}
}

func (s *Subscription) wants(name string) bool {
	if len(s.events) == 0 {
		return true
	}
	_, ok := s.events[name]
	return ok
}

// BusStats are the bus counters.
type BusStats struct {
	Subscribers int    `json:"subscribers"`
	Published   uint64 `json:"published"`
	Delivered   uint64 `json:"delivered"`
	Dropped     uint64 `json:"dropped"`
}

// Bus fans notifications out to subscribers. Delivery never blocks the
// publisher: a subscriber whose buffer is full loses the notification.
type Bus struct {
	buffer int
	logger *zap.Logger

	mu     sync.RWMutex
	subs   map[uuid.UUID]*Subscription
	closed bool

	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// NewBus creates a bus with the given per-subscriber buffer.
func NewBus(buffer int, logger *zap.Logger) *Bus {
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}
	return &Bus{
		buffer: buffer,
		logger: logger.Named("bus"),
		subs:   make(map[uuid.UUID]*Subscription),
	}
}

// Subscribe registers a subscriber for the named events, or for every event
// when none are named.
func (b *Bus) Subscribe(events ...string) *Subscription {
	ch := make(chan dispatch.Notification, b.buffer)
	sub := &Subscription{ID: uuid.New(), C: ch, ch: ch}
	if len(events) > 0 {
		sub.events = make(map[string]struct{}, len(events))
		for _, e := range events {
			sub.events[e] = struct{}{}
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return sub
	}
	b.subs[sub.ID] = sub

	b.logger.Debug("subscriber added",
		zap.String("subscription_id", sub.ID.String()),
		zap.Strings("events", events),
	)
	return sub
}

// Unsubscribe removes a subscriber and closes its channel. It reports
// whether the subscription existed.
func (b *Bus) Unsubscribe(id uuid.UUID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.subs[id]
	if !ok {
		return false
	}
	delete(b.subs, id)
	close(sub.ch)
	b.logger.Debug("subscriber removed", zap.String("subscription_id", id.String()))
	return true
}

// Publish implements dispatch.Sink.
func (b *Bus) Publish(n dispatch.Notification) {
	b.published.Add(1)
	name := n.Event.Name()

	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, sub := range b.subs {
		if !sub.wants(name) {
			continue
		}
		select {
		case sub.ch <- n:
			b.delivered.Add(1)
		default:
			b.dropped.Add(1)
			b.logger.Warn("subscriber channel full, dropping notification",
				zap.String("subscription_id", id.String()),
				zap.String("event", name),
				zap.Int("shard_id", n.Shard),
			)
		}
	}
}

// Stats returns the bus counters.
func (b *Bus) Stats() BusStats {
	b.mu.RLock()
	n := len(b.subs)
	b.mu.RUnlock()
	return BusStats{
		Subscribers: n,
		Published:   b.published.Load(),
		Delivered:   b.delivered.Load(),
		Dropped:     b.dropped.Load(),
	}
}

// Close unsubscribes everyone. Later subscriptions are closed immediately.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
	b.closed = true
}
