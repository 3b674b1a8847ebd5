// Package events carries messages between the plugin manager and the host.
//
// Bus is an in-process publish/subscribe bus. Publish delivers to every handler of
// the topic, in subscription order, on the caller's goroutine:
//
//	bus := events.NewBus(logger)
//	unsubscribe := bus.Subscribe(events.TopicPluginsDiscovered, func(ctx context.Context, e events.Event) {
//		registry := e.Payload.(*plugins.Registry)
//		...
//	})
//	defer unsubscribe()
//
// RedisBridge extends the bus over Redis pub/sub, so load requests can come from
// other processes and discovery results are visible to them.
package events
