// Package bus implements the named-channel publish/subscribe core: a
// mapping from channel name to subscriber set with best-effort,
// non-blocking fan-out, plus the topic-level arbitration layer built on
// top of it (see topic.go).
package bus

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Message is an opaque payload published on a channel. The Bus never
// inspects or copies Payload; only the reference is handed to
// subscribers.
type Message struct {
	Channel    string
	Payload    any
	Originator string
	Published  time.Time
}

// Subscriber receives delivered messages. A worker's mailbox implements
// this; the Bus calls Deliver once per subscribed channel per publish and
// never waits on it beyond what Deliver itself chooses to block for.
type Subscriber interface {
	Deliver(msg Message) error
}

// Bus is the sole owner of the channel -> subscriber-set mapping. A
// System holds exactly one Bus.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]map[string]Subscriber // channel -> subscriberID -> Subscriber

	metrics *metrics
}

// New returns an empty Bus with metrics registered against reg. reg may be
// nil, in which case metrics are created but never exposed.
func New(reg prometheus.Registerer) *Bus {
	return &Bus{
		subs:    make(map[string]map[string]Subscriber),
		metrics: newMetrics(reg),
	}
}

// Subscribe adds subscriber under id to channel. Idempotent: subscribing
// the same id twice to the same channel is a no-op.
func (b *Bus) Subscribe(channel, id string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[channel]
	if !ok {
		set = make(map[string]Subscriber)
		b.subs[channel] = set
	}
	set[id] = sub
}

// Unsubscribe removes id from channel. Idempotent: unsubscribing an id
// that was never subscribed is a no-op.
func (b *Bus) Unsubscribe(channel, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.subs[channel]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(b.subs, channel)
		}
	}
}

// Subscribers returns a snapshot of worker IDs currently subscribed to
// channel.
func (b *Bus) Subscribers(channel string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	set := b.subs[channel]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// Publish enqueues payload as a Message on every current subscriber of
// channel. The snapshot of subscribers is taken under the read lock so a
// concurrent Subscribe/Unsubscribe either happens fully before or fully
// after this publish's view — no subscriber sees a partial delivery.
//
// Fan-out is best-effort and never blocks on a slow subscriber for longer
// than that subscriber's own Deliver chooses to: the Bus itself holds no
// lock while calling Deliver, so one stuck subscriber cannot stall
// Subscribe/Unsubscribe/Publish for others.
func (b *Bus) Publish(channel string, payload any, originator string) {
	b.mu.RLock()
	set := b.subs[channel]
	subs := make(map[string]Subscriber, len(set))
	for id, s := range set {
		subs[id] = s
	}
	b.mu.RUnlock()

	msg := Message{Channel: channel, Payload: payload, Originator: originator, Published: time.Now()}
	for id, sub := range subs {
		if err := sub.Deliver(msg); err != nil {
			b.metrics.dropped.WithLabelValues(channel).Inc()
			_ = id // per-subscriber failure does not affect other subscribers
			continue
		}
		b.metrics.delivered.WithLabelValues(channel).Inc()
	}
}
