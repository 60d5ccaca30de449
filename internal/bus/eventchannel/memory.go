package eventchannel

import (
	"context"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/strobelight/beacon/errs"
	"github.com/strobelight/beacon/internal/schema"
	"github.com/strobelight/beacon/internal/telemetry"
)

// MemoryChannel is an in-process implementation of the event channel.
type MemoryChannel struct {
	mu        sync.RWMutex
	listeners map[schema.EventType][]*listener
	byID      map[SubscriptionID]schema.EventType
	closed    bool
	nextID    atomic.Uint64

	broadcastCounter metric.Int64Counter
	deliveryCounter  metric.Int64Counter
	listenerGauge    metric.Int64UpDownCounter
}

type listener struct {
	id SubscriptionID
	fn ListenerFunc
}

// NewMemoryChannel constructs an in-process event channel.
func NewMemoryChannel() *MemoryChannel {
	ch := new(MemoryChannel)
	ch.listeners = make(map[schema.EventType][]*listener)
	ch.byID = make(map[SubscriptionID]schema.EventType)

	meter := otel.Meter("eventchannel")
	ch.broadcastCounter, _ = meter.Int64Counter("eventchannel.broadcasts",
		metric.WithDescription("Number of events broadcast on the channel"),
		metric.WithUnit("{event}"))
	ch.deliveryCounter, _ = meter.Int64Counter("eventchannel.deliveries",
		metric.WithDescription("Number of listener invocations"),
		metric.WithUnit("{delivery}"))
	ch.listenerGauge, _ = meter.Int64UpDownCounter("eventchannel.listeners",
		metric.WithDescription("Number of registered listeners"),
		metric.WithUnit("{listener}"))

	return ch
}

// Broadcast fires the event to every current listener of its type,
// synchronously on the caller's goroutine, in registration order.
// Having zero listeners is a normal outcome, not an error.
func (c *MemoryChannel) Broadcast(ctx context.Context, typ schema.EventType, payload any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := typ.Validate(); err != nil {
		return err
	}

	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return errs.New("eventchannel/broadcast", errs.CodeUnavailable, errs.WithMessage("channel closed"))
	}
	current := append([]*listener(nil), c.listeners[typ]...)
	c.mu.RUnlock()

	if c.broadcastCounter != nil {
		attrs := telemetry.EventAttributes(telemetry.Environment(), string(typ))
		c.broadcastCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}

	evt := Event{Type: typ, Payload: payload}
	for _, l := range current {
		l.fn(evt)
	}
	if c.deliveryCounter != nil && len(current) > 0 {
		attrs := telemetry.EventAttributes(telemetry.Environment(), string(typ))
		c.deliveryCounter.Add(ctx, int64(len(current)), metric.WithAttributes(attrs...))
	}
	return nil
}

// AddListener registers fn for events of the given type and returns its
// subscription ID. Registration order determines delivery order.
func (c *MemoryChannel) AddListener(typ schema.EventType, fn ListenerFunc) (SubscriptionID, error) {
	if err := typ.Validate(); err != nil {
		return 0, err
	}
	if fn == nil {
		return 0, errs.New("eventchannel/add-listener", errs.CodeInvalid, errs.WithMessage("listener func required"))
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, errs.New("eventchannel/add-listener", errs.CodeUnavailable, errs.WithMessage("channel closed"))
	}
	id := SubscriptionID(c.nextID.Add(1))
	c.listeners[typ] = append(c.listeners[typ], &listener{id: id, fn: fn})
	c.byID[id] = typ
	c.mu.Unlock()

	if c.listenerGauge != nil {
		attrs := telemetry.EventAttributes(telemetry.Environment(), string(typ))
		c.listenerGauge.Add(context.Background(), 1, metric.WithAttributes(attrs...))
	}
	return id, nil
}

// RemoveListener drops the identified listener. Unknown or already-removed
// IDs are ignored, so removal is idempotent.
func (c *MemoryChannel) RemoveListener(id SubscriptionID) {
	if id == 0 {
		return
	}
	c.mu.Lock()
	typ, ok := c.byID[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.byID, id)
	current := c.listeners[typ]
	for i, l := range current {
		if l.id == id {
			c.listeners[typ] = append(current[:i:i], current[i+1:]...)
			break
		}
	}
	if len(c.listeners[typ]) == 0 {
		delete(c.listeners, typ)
	}
	c.mu.Unlock()

	if c.listenerGauge != nil {
		attrs := telemetry.EventAttributes(telemetry.Environment(), string(typ))
		c.listenerGauge.Add(context.Background(), -1, metric.WithAttributes(attrs...))
	}
}

// Close drops all listeners and rejects further broadcasts and registrations.
func (c *MemoryChannel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.listeners = make(map[schema.EventType][]*listener)
	c.byID = make(map[SubscriptionID]schema.EventType)
}
