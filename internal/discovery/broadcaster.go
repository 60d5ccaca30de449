package discovery

import (
	"context"

	"github.com/strobelight/beacon/internal/bus/eventchannel"
	"github.com/strobelight/beacon/internal/schema"
)

// Broadcaster emits request-provider events prompting every live provider
// to (re-)announce itself.
type Broadcaster struct {
	channel eventchannel.Channel
}

// NewBroadcaster constructs a Broadcaster bound to the given channel.
func NewBroadcaster(channel eventchannel.Channel) *Broadcaster {
	return &Broadcaster{channel: channel}
}

// RequestProviders broadcasts one request-provider event. The event carries
// no payload and may be sent any number of times; an environment with no
// listening providers is a normal outcome.
func (b *Broadcaster) RequestProviders(ctx context.Context) error {
	return b.channel.Broadcast(ctx, schema.EventTypeRequestProvider, nil)
}
