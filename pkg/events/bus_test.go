package events

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_DeliversInSubscriptionOrder(t *testing.T) {
	bus := NewBus(nil)

	var order []string
	bus.Subscribe("topic", func(ctx context.Context, e Event) { order = append(order, "first") })
	bus.Subscribe("topic", func(ctx context.Context, e Event) { order = append(order, "second") })
	bus.Subscribe("other", func(ctx context.Context, e Event) { order = append(order, "other") })

	bus.Publish(context.Background(), "topic", nil)

	assert.Equal(t, []string{"first", "second"}, order)
}

func TestBus_EventFields(t *testing.T) {
	bus := NewBus(nil)

	var got Event
	bus.Subscribe(TopicLoadPlugin, func(ctx context.Context, e Event) { got = e })

	bus.Publish(context.Background(), TopicLoadPlugin, "Foo")

	assert.Equal(t, TopicLoadPlugin, got.Topic)
	assert.Equal(t, "Foo", got.Payload)
	assert.NotEqual(t, uuid.Nil, got.ID)
	assert.False(t, got.PublishedAt.IsZero())
}

func TestBus_PanickingHandlerDoesNotStopDelivery(t *testing.T) {
	logger, hook := test.NewNullLogger()
	bus := NewBus(logger)

	delivered := false
	bus.Subscribe("topic", func(ctx context.Context, e Event) { panic("boom") })
	bus.Subscribe("topic", func(ctx context.Context, e Event) { delivered = true })

	assert.NotPanics(t, func() {
		bus.Publish(context.Background(), "topic", nil)
	})

	assert.True(t, delivered)
	assert.Equal(t, Stats{Published: 1, Delivered: 1, Panics: 1}, bus.Stats())

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, "boom", entry.Data["panic"])
	assert.Equal(t, "topic", entry.Data["topic"])
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(nil)

	calls := 0
	unsubscribe := bus.Subscribe("topic", func(ctx context.Context, e Event) { calls++ })
	assert.True(t, bus.HasSubscribers("topic"))
	assert.Equal(t, []string{"topic"}, bus.Topics())

	unsubscribe()
	unsubscribe()

	bus.Publish(context.Background(), "topic", nil)
	assert.Equal(t, 0, calls)
	assert.False(t, bus.HasSubscribers("topic"))
	assert.Empty(t, bus.Topics())
}

func TestBus_UnsubscribeKeepsOthers(t *testing.T) {
	bus := NewBus(nil)

	var order []string
	first := bus.Subscribe("topic", func(ctx context.Context, e Event) { order = append(order, "first") })
	bus.Subscribe("topic", func(ctx context.Context, e Event) { order = append(order, "second") })

	first()
	bus.Publish(context.Background(), "topic", nil)

	assert.Equal(t, []string{"second"}, order)
}

func TestBus_NilHandler(t *testing.T) {
	bus := NewBus(nil)

	unsubscribe := bus.Subscribe("topic", nil)
	assert.NotPanics(t, unsubscribe)
	assert.False(t, bus.HasSubscribers("topic"))
}

func TestBus_HandlerMayPublish(t *testing.T) {
	bus := NewBus(nil)

	var got []string
	bus.Subscribe("outer", func(ctx context.Context, e Event) {
		got = append(got, "outer")
		bus.Publish(ctx, "inner", nil)
	})
	bus.Subscribe("inner", func(ctx context.Context, e Event) { got = append(got, "inner") })

	bus.Publish(context.Background(), "outer", nil)
	assert.Equal(t, []string{"outer", "inner"}, got)
}
