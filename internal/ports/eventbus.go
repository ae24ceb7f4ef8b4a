// Package ports defines the EventBus interface for event-driven communication.
package ports

import (
	"github.com/ariaplayer/aria/internal/domain"
)

// EventBus is the interface for publishing and subscribing to events.
// It decouples event producers (services) from consumers (UI views, the
// scrobble coordinator, logging). Fan-out is synchronous and in-process;
// a late subscriber does not receive past events.
//
// Thread-safety: implementations must be safe for concurrent publish and
// subscribe/unsubscribe.
//
// Example usage:
//
//	// In a service: publish an event
//	bus.Publish(domain.NewPlayerTrackEvent(song, index))
//
//	// In a view: subscribe to events
//	subID := bus.Subscribe(domain.EventUserFavorite, func(event domain.Event) {
//	    e := event.(domain.FavoriteEvent)
//	    view.ApplyFavorite(e.SongIDs, e.Favorite)
//	})
//
//	// Later: unsubscribe
//	bus.Unsubscribe(subID)
type EventBus interface {
	// Publish delivers an event to all subscribers of its type.
	// Handlers should process events quickly or dispatch to a background
	// goroutine if long processing is needed.
	Publish(event domain.Event)

	// Subscribe registers a handler for events of the specified type.
	// The same handler can be registered multiple times, resulting in
	// multiple calls. Returns an ID used to unsubscribe.
	Subscribe(eventType domain.EventType, handler domain.EventHandler) domain.SubscriptionID

	// Unsubscribe removes a previously registered handler.
	// Unknown or already removed IDs are a no-op.
	Unsubscribe(id domain.SubscriptionID)

	// SubscribeAll registers a handler that receives every event regardless
	// of type. Useful for logging and debugging.
	SubscribeAll(handler domain.EventHandler) domain.SubscriptionID

	// HasSubscribers reports whether any handler is registered for the
	// given event type. Lets publishers skip expensive event construction.
	HasSubscribers(eventType domain.EventType) bool

	// Close shuts down the bus and clears all subscriptions.
	Close() error
}
