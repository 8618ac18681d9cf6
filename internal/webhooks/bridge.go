package webhooks

import (
	"log"

	"github.com/ringside/backend/internal/bus"
)

// BusBridge forwards bus traffic to the webhook emitter. It subscribes
// to every bout and translates score and lifecycle messages into
// webhook event types; raw event traffic (cv_events, judge_events) is
// deliberately not exposed over webhooks.
type BusBridge struct {
	bus     *bus.Bus
	emitter WebhookEmitter
	sub     *bus.Subscription
	logger  *log.Logger
	done    chan struct{}
}

// NewBusBridge wires the emitter to the bus and starts forwarding.
func NewBusBridge(b *bus.Bus, emitter WebhookEmitter) *BusBridge {
	br := &BusBridge{
		bus:     b,
		emitter: emitter,
		sub:     b.SubscribeAll(),
		logger:  log.New(log.Writer(), "[WEBHOOK-BRIDGE] ", log.LstdFlags),
		done:    make(chan struct{}),
	}
	go br.run()
	return br
}

func (br *BusBridge) run() {
	defer close(br.done)

	for msg := range br.sub.C {
		eventType, ok := translate(msg)
		if !ok {
			continue
		}
		br.emitter.Emit(eventType, msg.BoutID, msg.Data)
	}
	br.logger.Printf("Bus subscription closed, bridge stopping")
}

// translate maps a bus message onto a webhook event type.
func translate(msg *bus.Message) (EventType, bool) {
	switch msg.Topic {
	case bus.TopicScoreUpdates:
		return EventScoreUpdated, true
	case bus.TopicLifecycle:
		switch msg.Data["event"] {
		case "round_opened":
			return EventRoundOpened, true
		case "round_locked":
			return EventRoundLocked, true
		}
	case bus.TopicConfigUpdates:
		return EventCalibrationChanged, true
	}
	return "", false
}

// Stop detaches from the bus and waits for in-flight forwarding to
// finish. The emitter is left running; callers own its shutdown.
func (br *BusBridge) Stop() {
	br.bus.Unsubscribe(br.sub)
	<-br.done
}
