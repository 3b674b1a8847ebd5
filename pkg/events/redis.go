package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// WireMessage is the JSON envelope the bridge publishes to Redis
type WireMessage struct {
	ID          string          `json:"id"`
	Topic       string          `json:"topic"`
	PublishedAt time.Time       `json:"published_at"`
	Payload     json.RawMessage `json:"payload"`
}

// RedisBridge connects the local bus to Redis pub/sub. Load requests published on
// the "<prefix>Load plugin" channel are republished locally; discovery results are
// forwarded to "<prefix>Add plugins menu items".
type RedisBridge struct {
	client *redis.Client
	bus    *Bus
	prefix string
	log    logrus.FieldLogger

	ready     chan struct{}
	readyOnce sync.Once
}

// NewRedisBridge creates a bridge between bus and client
func NewRedisBridge(client *redis.Client, bus *Bus, prefix string, log logrus.FieldLogger) *RedisBridge {
	if log == nil {
		log = logrus.New()
	}

	return &RedisBridge{
		client: client,
		bus:    bus,
		prefix: prefix,
		log:    log.WithField("component", "redis-bridge"),
		ready:  make(chan struct{}),
	}
}

// Channel returns the Redis channel name used for topic
func (b *RedisBridge) Channel(topic string) string {
	return b.prefix + topic
}

// Ready is closed once the inbound subscription is confirmed
func (b *RedisBridge) Ready() <-chan struct{} {
	return b.ready
}

// Run relays messages until ctx is cancelled
func (b *RedisBridge) Run(ctx context.Context) error {
	inbound := b.Channel(TopicLoadPlugin)

	pubsub := b.client.Subscribe(ctx, inbound)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", inbound, err)
	}

	unsubscribe := b.bus.Subscribe(TopicPluginsDiscovered, b.forward)
	defer unsubscribe()

	b.readyOnce.Do(func() { close(b.ready) })
	b.log.Infof("Relaying Redis channel %s", inbound)

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			b.log.WithField("channel", msg.Channel).Debugf("Received load request for %q", msg.Payload)
			b.bus.Publish(ctx, TopicLoadPlugin, msg.Payload)
		}
	}
}

// forward publishes a local event to Redis as a WireMessage
func (b *RedisBridge) forward(ctx context.Context, event Event) {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		b.log.WithError(err).Warnf("Failed to encode %q payload", event.Topic)
		return
	}

	data, err := json.Marshal(WireMessage{
		ID:          event.ID.String(),
		Topic:       event.Topic,
		PublishedAt: event.PublishedAt,
		Payload:     payload,
	})
	if err != nil {
		b.log.WithError(err).Warnf("Failed to encode %q message", event.Topic)
		return
	}

	if err := b.client.Publish(ctx, b.Channel(event.Topic), data).Err(); err != nil {
		b.log.WithError(err).Warnf("Failed to publish %q to Redis", event.Topic)
	}
}
