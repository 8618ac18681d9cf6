package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// channelPrefix namespaces bus traffic on shared Redis instances.
const channelPrefix = "ringside:events:"

// RedisBridge mirrors the local bus onto Redis Pub/Sub so a multi-pod
// deployment delivers every message on every pod. Messages are tagged with
// the originating bridge ID: a bridge never re-forwards traffic it received
// from Redis, which keeps two pods from ping-ponging the same message.
type RedisBridge struct {
	rdb    *redis.Client
	bus    *Bus
	id     string
	sub    *Subscription
	psub   *redis.PubSub
	logger *log.Logger
}

// NewRedisBridge wires a bus to a connected Redis client. Call Start to
// begin mirroring.
func NewRedisBridge(rdb *redis.Client, b *Bus) *RedisBridge {
	return &RedisBridge{
		rdb:    rdb,
		bus:    b,
		id:     uuid.NewString(),
		logger: log.New(log.Writer(), "[RedisBridge] ", log.LstdFlags),
	}
}

// Start subscribes to the Redis pattern channel and begins forwarding in
// both directions. The context bounds the subscription handshake only.
func (br *RedisBridge) Start(ctx context.Context) error {
	br.psub = br.rdb.PSubscribe(ctx, channelPrefix+"*")

	// Wait for subscription confirmation before forwarding anything out,
	// otherwise a message published now would be missed by this pod.
	if _, err := br.psub.Receive(ctx); err != nil {
		br.psub.Close()
		return fmt.Errorf("failed to subscribe to %s*: %w", channelPrefix, err)
	}

	br.sub = br.bus.SubscribeAll()
	go br.outbound()
	go br.inbound()

	br.logger.Printf("✅ Mirroring bus on %s* (bridge=%s)", channelPrefix, br.id)
	return nil
}

// Close stops both directions. The outbound loop ends when the local
// subscription channel closes, the inbound loop when the Redis subscription
// closes.
func (br *RedisBridge) Close() error {
	if br.sub != nil {
		br.bus.Unsubscribe(br.sub)
	}
	if br.psub != nil {
		return br.psub.Close()
	}
	return nil
}

func (br *RedisBridge) outbound() {
	ctx := context.Background()
	for msg := range br.sub.C {
		if msg.Origin != "" {
			continue // arrived via a bridge already
		}

		out := *msg
		out.Origin = br.id
		payload, err := json.Marshal(&out)
		if err != nil {
			br.logger.Printf("❌ Failed to marshal message (type=%s): %v", msg.Type, err)
			continue
		}

		channel := channelPrefix + string(msg.Topic)
		if err := br.rdb.Publish(ctx, channel, payload).Err(); err != nil {
			br.logger.Printf("⚠️ Redis publish failed (channel=%s): %v", channel, err)
		}
	}
}

func (br *RedisBridge) inbound() {
	for m := range br.psub.Channel() {
		var msg Message
		if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
			br.logger.Printf("⚠️ Dropping malformed message on %s: %v", m.Channel, err)
			continue
		}
		if msg.Origin == br.id {
			continue // our own publication echoed back
		}

		topic := Topic(strings.TrimPrefix(m.Channel, channelPrefix))
		br.bus.Publish(topic, &msg)
	}
}
