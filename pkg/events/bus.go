package events

import (
	"context"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Topics exchanged between the plugin manager and the host
const (
	// TopicLoadPlugin asks the manager to load a plugin; payload is the plugin name
	TopicLoadPlugin = "Load plugin"

	// TopicPluginsDiscovered carries the registry built by a discovery run
	TopicPluginsDiscovered = "Add plugins menu items"
)

// Event is a published message as seen by handlers
type Event struct {
	ID          uuid.UUID
	Topic       string
	Payload     any
	PublishedAt time.Time
}

// Handler receives events for a topic
type Handler func(ctx context.Context, event Event)

type subscription struct {
	id      uint64
	handler Handler
}

// Stats counts bus activity
type Stats struct {
	Published uint64
	Delivered uint64
	Panics    uint64
}

// Bus is an in-process publish/subscribe bus. Delivery is synchronous on the
// publishing goroutine, in subscription order.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]subscription
	nextID uint64
	log    logrus.FieldLogger

	published atomic.Uint64
	delivered atomic.Uint64
	panics    atomic.Uint64
}

// NewBus creates an empty bus
func NewBus(log logrus.FieldLogger) *Bus {
	if log == nil {
		log = logrus.New()
	}

	return &Bus{
		subs: make(map[string][]subscription),
		log:  log.WithField("component", "bus"),
	}
}

// Subscribe registers handler for topic and returns a function that removes it
func (b *Bus) Subscribe(topic string, handler Handler) func() {
	if handler == nil {
		return func() {}
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[topic] = append(b.subs[topic], subscription{id: id, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()

			subs := b.subs[topic]
			for i, sub := range subs {
				if sub.id == id {
					b.subs[topic] = append(subs[:i:i], subs[i+1:]...)
					break
				}
			}
			if len(b.subs[topic]) == 0 {
				delete(b.subs, topic)
			}
		})
	}
}

// Publish delivers payload to every handler of topic before returning.
// A panicking handler is logged and does not stop delivery to the others.
func (b *Bus) Publish(ctx context.Context, topic string, payload any) {
	if ctx == nil {
		ctx = context.Background()
	}

	b.mu.RLock()
	subs := append([]subscription(nil), b.subs[topic]...)
	b.mu.RUnlock()

	b.published.Add(1)

	event := Event{
		ID:          uuid.New(),
		Topic:       topic,
		Payload:     payload,
		PublishedAt: time.Now(),
	}

	for _, sub := range subs {
		b.deliver(ctx, sub, event)
	}
}

func (b *Bus) deliver(ctx context.Context, sub subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.panics.Add(1)
			b.log.WithFields(logrus.Fields{
				"topic":    event.Topic,
				"event_id": event.ID.String(),
				"panic":    r,
				"stack":    string(debug.Stack()),
			}).Error("Event handler panicked")
		}
	}()

	sub.handler(ctx, event)
	b.delivered.Add(1)
}

// HasSubscribers reports whether topic has at least one handler
func (b *Bus) HasSubscribers(topic string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.subs[topic]) > 0
}

// Topics returns the topics that currently have handlers, sorted
func (b *Bus) Topics() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	topics := make([]string, 0, len(b.subs))
	for topic := range b.subs {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// Stats returns a snapshot of the bus counters
func (b *Bus) Stats() Stats {
	return Stats{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
		Panics:    b.panics.Load(),
	}
}
