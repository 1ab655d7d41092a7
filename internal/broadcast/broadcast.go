// Package broadcast fans readings out to live subscribers.
//
// Each subscriber owns a bounded queue. Publish never blocks: when a queue
// is full its oldest reading is evicted and counted as dropped, so a slow
// dashboard loses history instead of stalling ingestion. Readings reach each
// subscriber in publish order.
package broadcast

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/xtxerr/catwatch/internal/logging"
	"github.com/xtxerr/catwatch/internal/types"
)

// Broadcaster is the subscriber registry.
type Broadcaster struct {
	mu        sync.RWMutex
	subs      map[string]*Subscription
	closed    bool
	queueSize int

	published atomic.Int64

	// dropped accumulates drops of subscriptions that already left.
	dropped atomic.Int64

	log *slog.Logger
}

// Stats holds broadcaster statistics.
type Stats struct {
	Subscribers int
	Published   int64
	Dropped     int64
}

// SubscriberInfo describes one live subscription.
type SubscriberInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Queued    int    `json:"queued"`
	Delivered int64  `json:"delivered"`
	Dropped   int64  `json:"dropped"`
}

// New creates a broadcaster with queueSize readings per subscriber.
func New(queueSize int) *Broadcaster {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Broadcaster{
		subs:      make(map[string]*Subscription),
		queueSize: queueSize,
		log:       logging.Component("broadcast"),
	}
}

// Subscribe registers a new subscriber.
// After Close it returns a subscription whose channel closes immediately.
func (b *Broadcaster) Subscribe(name string) *Subscription {
	s := newSubscription(uuid.NewString(), name, b.queueSize)
	go s.pump()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		s.close()
		return s
	}
	b.subs[s.id] = s
	count := len(b.subs)
	b.mu.Unlock()

	b.log.Debug("subscribed", "subscriber", s.id, "name", name, "subscribers", count)
	return s
}

// Unsubscribe removes s and closes its channel. It is safe to call more
// than once.
func (b *Broadcaster) Unsubscribe(s *Subscription) {
	if s == nil {
		return
	}

	b.mu.Lock()
	_, ok := b.subs[s.id]
	delete(b.subs, s.id)
	count := len(b.subs)
	b.mu.Unlock()

	s.close()

	if ok {
		b.dropped.Add(s.Dropped())
		b.log.Debug("unsubscribed",
			"subscriber", s.id,
			"name", s.name,
			"dropped", s.Dropped(),
			"subscribers", count)
	}
}

// Publish delivers r to every subscriber without blocking.
func (b *Broadcaster) Publish(r types.Reading) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	b.published.Add(1)
	for _, s := range b.subs {
		s.offer(r)
	}
}

// Close closes every subscription. Later publishes are ignored.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[string]*Subscription)
	b.mu.Unlock()

	for _, s := range subs {
		b.dropped.Add(s.Dropped())
		s.close()
	}

	b.log.Info("broadcaster closed", "subscribers", len(subs))
}

// Stats returns broadcaster statistics.
func (b *Broadcaster) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	dropped := b.dropped.Load()
	for _, s := range b.subs {
		dropped += s.Dropped()
	}

	return Stats{
		Subscribers: len(b.subs),
		Published:   b.published.Load(),
		Dropped:     dropped,
	}
}

// Subscribers lists live subscriptions ordered by name, then id.
func (b *Broadcaster) Subscribers() []SubscriberInfo {
	b.mu.RLock()
	out := make([]SubscriberInfo, 0, len(b.subs))
	for _, s := range b.subs {
		out = append(out, SubscriberInfo{
			ID:        s.id,
			Name:      s.name,
			Queued:    s.queue.Len(),
			Delivered: s.delivered.Load(),
			Dropped:   s.Dropped(),
		})
	}
	b.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}
