package discovery

import (
	"github.com/strobelight/beacon/internal/bus/eventchannel"
	"github.com/strobelight/beacon/internal/observability"
	"github.com/strobelight/beacon/internal/schema"
)

// IngestFunc receives validated announcements extracted from the channel.
type IngestFunc func(info schema.ProviderInfo, handle schema.Handle)

// Listener subscribes to announce-provider events and forwards valid
// announcements to the registry's ingest path. Malformed payloads are
// discarded silently; the protocol has no error channel back to the
// announcing provider.
type Listener struct {
	channel eventchannel.Channel
	sub     eventchannel.SubscriptionID
	ingest  IngestFunc
}

// NewListener registers an announce-provider listener on the channel.
func NewListener(channel eventchannel.Channel, ingest IngestFunc) (*Listener, error) {
	l := &Listener{channel: channel, sub: 0, ingest: ingest}
	sub, err := channel.AddListener(schema.EventTypeAnnounceProvider, l.handle)
	if err != nil {
		return nil, err
	}
	l.sub = sub
	return l, nil
}

func (l *Listener) handle(evt eventchannel.Event) {
	ann, ok := schema.DecodeAnnouncement(evt.Payload)
	if !ok {
		observability.Log().Debug("announcement discarded",
			observability.F("reason", "unrecognized payload"))
		return
	}
	if err := ann.Validate(); err != nil {
		observability.Log().Debug("announcement discarded",
			observability.F("reason", "malformed"),
			observability.F("error", err))
		return
	}
	l.ingest(ann.Info, ann.Handle)
}

// Close deregisters the listener. Safe to call more than once.
func (l *Listener) Close() {
	l.channel.RemoveListener(l.sub)
}
