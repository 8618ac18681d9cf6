// Package bus is the in-process fan-out layer between the scoring pipeline
// and its consumers (websocket gateway, overlay feed, webhooks, bridges).
// Subscriptions are keyed by (bout_id, topic) so a courtside display for one
// bout never sees another bout's traffic.
package bus

import (
	"log"
	"sync"

	"github.com/ringside/backend/internal/clock"
	"github.com/ringside/backend/internal/core"
	"github.com/ringside/backend/internal/metrics"
)

// Topic partitions the message stream per bout.
type Topic string

const (
	TopicCVEvents      Topic = "cv_events"
	TopicJudgeEvents   Topic = "judge_events"
	TopicScoreUpdates  Topic = "score_updates"
	TopicLifecycle     Topic = "lifecycle"
	TopicConfigUpdates Topic = "config_updates"
)

// GlobalKey is the bout key for messages that are not scoped to a single
// bout, such as calibration changes.
const GlobalKey = "*"

// DefaultBufferSize is the per-subscriber queue depth when none is configured.
const DefaultBufferSize = 128

// Message is the envelope delivered to subscribers.
type Message struct {
	Type      string                 `json:"type"`
	BoutID    string                 `json:"bout_id,omitempty"`
	RoundID   string                 `json:"round_id,omitempty"`
	Timestamp string                 `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`

	// Origin identifies which process first published the message. Bridges
	// use it to stop cross-pod loops; it is empty for locally produced
	// messages until a bridge forwards them.
	Origin string `json:"origin,omitempty"`

	// Topic is filled in by Publish so bridges know which channel to mirror
	// the message onto. Not part of the wire envelope; the transport carries
	// it out of band (Redis channel name, Pub/Sub attribute).
	Topic Topic `json:"-"`
}

type subKey struct {
	bout  string
	topic Topic
}

// Subscription is a live subscriber handle. Receive from C; the channel is
// closed when the subscription is cancelled or the bus evicts it for
// falling behind.
type Subscription struct {
	C <-chan *Message

	id     uint64
	ch     chan *Message
	keys   []subKey
	all    bool
	closed bool
}

// Bus fans messages out to bounded subscriber queues. A subscriber whose
// queue is full at publish time is evicted: the round keeps scoring even if
// a display stalls, and the consumer learns about the gap from its channel
// closing rather than silently missing messages.
type Bus struct {
	mu      sync.RWMutex
	nextID  uint64
	subs    map[subKey][]*Subscription
	allSubs []*Subscription

	bufferSize int
	clock      clock.Clock
	meters     *metrics.Metrics
	logger     *log.Logger
}

// NewBus creates a bus with the given per-subscriber buffer size
// (DefaultBufferSize if <= 0). The metrics handle may be nil.
func NewBus(bufferSize int, clk clock.Clock, meters *metrics.Metrics) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Bus{
		subs:       make(map[subKey][]*Subscription),
		bufferSize: bufferSize,
		clock:      clk,
		meters:     meters,
		logger:     log.New(log.Writer(), "[BUS] ", log.LstdFlags),
	}
}

// Subscribe registers for the given topics of one bout. Use GlobalKey as the
// bout ID for bout-independent topics like config updates.
func (b *Bus) Subscribe(boutID string, topics ...Topic) *Subscription {
	sub := &Subscription{ch: make(chan *Message, b.bufferSize)}
	sub.C = sub.ch
	for _, t := range topics {
		sub.keys = append(sub.keys, subKey{bout: boutID, topic: t})
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub.id = b.nextID
	for _, k := range sub.keys {
		b.subs[k] = append(b.subs[k], sub)
	}
	if b.meters != nil {
		b.meters.BusSubscribers.Inc()
	}
	return sub
}

// SubscribeAll registers for every message on the bus. Bridges and the
// webhook dispatcher use this to see all bouts.
func (b *Bus) SubscribeAll() *Subscription {
	sub := &Subscription{ch: make(chan *Message, b.bufferSize), all: true}
	sub.C = sub.ch

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub.id = b.nextID
	b.allSubs = append(b.allSubs, sub)
	if b.meters != nil {
		b.meters.BusSubscribers.Inc()
	}
	return sub
}

// Unsubscribe removes the subscription and closes its channel. Safe to call
// after the bus has already evicted the subscriber.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(sub)
}

// Publish stamps the message (timestamp, bout key) and delivers it to every
// matching subscriber without blocking. Queues are bounded: a full queue
// evicts its subscriber after the sweep.
func (b *Bus) Publish(topic Topic, msg *Message) {
	if msg.Timestamp == "" {
		msg.Timestamp = core.FormatTimestamp(b.clock.Now())
	}
	msg.Topic = topic
	key := subKey{bout: msg.BoutID, topic: topic}
	if msg.BoutID == "" {
		key.bout = GlobalKey
	}

	var evict []*Subscription

	b.mu.RLock()
	for _, sub := range b.subs[key] {
		select {
		case sub.ch <- msg:
		default:
			evict = append(evict, sub)
		}
	}
	for _, sub := range b.allSubs {
		select {
		case sub.ch <- msg:
		default:
			evict = append(evict, sub)
		}
	}
	b.mu.RUnlock()

	if b.meters != nil {
		b.meters.RecordPublish(string(topic))
	}

	if len(evict) == 0 {
		return
	}

	b.mu.Lock()
	for _, sub := range evict {
		if sub.closed {
			continue
		}
		b.removeLocked(sub)
		if b.meters != nil {
			b.meters.BusEvictedSubscribers.Inc()
		}
		b.logger.Printf("⚠️ Evicted slow subscriber %d (topic=%s bout=%s)", sub.id, topic, key.bout)
	}
	b.mu.Unlock()
}

// SubscriberCount returns the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	seen := make(map[uint64]struct{})
	for _, subs := range b.subs {
		for _, s := range subs {
			seen[s.id] = struct{}{}
		}
	}
	return len(seen) + len(b.allSubs)
}

// removeLocked detaches the subscription from every index and closes its
// channel. Caller holds the write lock, so no publisher can be mid-send.
func (b *Bus) removeLocked(sub *Subscription) {
	if sub.closed {
		return
	}
	sub.closed = true

	for _, k := range sub.keys {
		subs := b.subs[k]
		for i, s := range subs {
			if s.id == sub.id {
				b.subs[k] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		if len(b.subs[k]) == 0 {
			delete(b.subs, k)
		}
	}
	if sub.all {
		for i, s := range b.allSubs {
			if s.id == sub.id {
				b.allSubs = append(b.allSubs[:i], b.allSubs[i+1:]...)
				break
			}
		}
	}

	close(sub.ch)
	if b.meters != nil {
		b.meters.BusSubscribers.Dec()
	}
}
