// Package schema defines the canonical types exchanged over the discovery protocol.
package schema

import (
	"github.com/strobelight/beacon/errs"
)

// EventType names an event carried by the event channel.
type EventType string

const (
	// EventTypeRequestProvider asks every live provider to (re-)announce itself.
	// Consumers broadcast it; it carries no payload.
	EventTypeRequestProvider EventType = "request-provider"
	// EventTypeAnnounceProvider publishes a provider's metadata and handle.
	// Providers broadcast it, solicited or not; its payload is an Announcement.
	EventTypeAnnounceProvider EventType = "announce-provider"
)

// Validate ensures the event type is one of the protocol's two wire events.
func (t EventType) Validate() error {
	switch t {
	case EventTypeRequestProvider, EventTypeAnnounceProvider:
		return nil
	case "":
		return errs.New("schema/event-type", errs.CodeInvalid, errs.WithMessage("event type required"))
	default:
		return errs.New("schema/event-type", errs.CodeInvalid,
			errs.WithMessage("unknown event type"), errs.WithField("event_type", string(t)))
	}
}
