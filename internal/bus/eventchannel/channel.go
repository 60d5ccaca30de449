// Package eventchannel defines the pub/sub channel carrying discovery events.
package eventchannel

import (
	"context"

	"github.com/strobelight/beacon/internal/schema"
)

// SubscriptionID uniquely identifies a channel listener registration.
type SubscriptionID uint64

// Event is the unit delivered to listeners.
type Event struct {
	Type    schema.EventType
	Payload any
}

// ListenerFunc receives events synchronously on the broadcaster's goroutine.
type ListenerFunc func(evt Event)

// Channel delivers named events to registered listeners. Channels are
// explicitly constructed instances so independent registries can coexist
// without cross-contamination; there is no package-global channel.
//
// Delivery is synchronous and in listener-registration order. Events
// broadcast before a listener registers are never replayed to it; the
// request/announce handshake exists so late listeners can re-trigger
// announcements.
type Channel interface {
	Broadcast(ctx context.Context, typ schema.EventType, payload any) error
	AddListener(typ schema.EventType, fn ListenerFunc) (SubscriptionID, error)
	RemoveListener(id SubscriptionID)
	Close()
}
