package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"time"

	"cloud.google.com/go/pubsub"
)

// PubSubBridge forwards every locally produced bus message to a Google Cloud
// Pub/Sub topic for durable, at-least-once delivery to downstream consumers
// (broadcast graphics, stats warehouses, replay archives).
//
// Ordering is per bout: messages carry the bout ID as ordering key, so a
// consumer never sees round_locked before the score_computed that preceded
// it inside one bout, while separate bouts publish in parallel.
type PubSubBridge struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	bus    *Bus
	sub    *Subscription
	logger *log.Logger
}

// NewPubSubBridge connects to Pub/Sub and creates the topic if it does not
// exist. Call Start to begin forwarding.
func NewPubSubBridge(projectID, topicID string, b *Bus) (*PubSubBridge, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub.NewClient: %w", err)
	}

	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("topic.Exists: %w", err)
	}
	if !exists {
		topic, err = client.CreateTopic(ctx, topicID)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("CreateTopic: %w", err)
		}
		slog.Info("Created Pub/Sub topic", "topic_id", topicID)
	}

	topic.EnableMessageOrdering = true

	bridge := &PubSubBridge{
		client: client,
		topic:  topic,
		bus:    b,
		logger: log.New(log.Writer(), "[PUBSUB] ", log.LstdFlags),
	}

	bridge.logger.Printf("✅ Connected to Pub/Sub topic: projects/%s/topics/%s", projectID, topicID)
	return bridge, nil
}

// Start begins forwarding local messages.
func (pb *PubSubBridge) Start() {
	pb.sub = pb.bus.SubscribeAll()
	go pb.run()
}

// Close stops forwarding and flushes pending publishes.
func (pb *PubSubBridge) Close() error {
	if pb.sub != nil {
		pb.bus.Unsubscribe(pb.sub)
	}
	pb.topic.Stop()
	if err := pb.client.Close(); err != nil {
		return fmt.Errorf("pubsub client close: %w", err)
	}
	pb.logger.Printf("🔌 Pub/Sub client closed")
	return nil
}

// TopicPath returns the fully-qualified Pub/Sub topic path.
func (pb *PubSubBridge) TopicPath() string {
	return pb.topic.String()
}

// HealthCheck verifies the Pub/Sub topic is reachable.
func (pb *PubSubBridge) HealthCheck(ctx context.Context) error {
	exists, err := pb.topic.Exists(ctx)
	if err != nil {
		return fmt.Errorf("topic health check: %w", err)
	}
	if !exists {
		return fmt.Errorf("topic does not exist")
	}
	return nil
}

func (pb *PubSubBridge) run() {
	for msg := range pb.sub.C {
		if msg.Origin != "" {
			continue // another pod's bridge already made this durable
		}
		pb.forward(msg)
	}
}

// forward publishes one message. The publish result is checked off the hot
// path so a slow Pub/Sub backend cannot stall bus consumption.
func (pb *PubSubBridge) forward(msg *Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		pb.logger.Printf("❌ Failed to marshal message (type=%s): %v", msg.Type, err)
		return
	}

	orderingKey := msg.BoutID
	if orderingKey == "" {
		orderingKey = GlobalKey
	}

	result := pb.topic.Publish(context.Background(), &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"type":     msg.Type,
			"topic":    string(msg.Topic),
			"bout_id":  msg.BoutID,
			"round_id": msg.RoundID,
		},
		OrderingKey: orderingKey,
	})

	go func() {
		serverID, err := result.Get(context.Background())
		if err != nil {
			pb.logger.Printf("❌ Pub/Sub publish failed (type=%s): %v", msg.Type, err)
			pb.topic.ResumePublish(orderingKey)
			return
		}
		pb.logger.Printf("📤 Published %s → msgID=%s (bout=%s)", msg.Type, serverID, msg.BoutID)
	}()
}
