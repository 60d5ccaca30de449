package eventchannel

import (
	"context"
	"testing"

	"github.com/strobelight/beacon/internal/schema"
)

func TestBroadcastNoListeners(t *testing.T) {
	ch := NewMemoryChannel()
	defer ch.Close()

	// An empty environment is a normal outcome.
	if err := ch.Broadcast(context.Background(), schema.EventTypeRequestProvider, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestBroadcastInvalidType(t *testing.T) {
	ch := NewMemoryChannel()
	defer ch.Close()

	if err := ch.Broadcast(context.Background(), "", nil); err == nil {
		t.Fatal("expected error for empty event type")
	}
	if err := ch.Broadcast(context.Background(), "bogus", nil); err == nil {
		t.Fatal("expected error for unknown event type")
	}
}

func TestDeliveryInRegistrationOrder(t *testing.T) {
	ch := NewMemoryChannel()
	defer ch.Close()

	var order []string
	for _, name := range []string{"first", "second", "third"} {
		captured := name
		if _, err := ch.AddListener(schema.EventTypeAnnounceProvider, func(Event) {
			order = append(order, captured)
		}); err != nil {
			t.Fatalf("AddListener() error = %v", err)
		}
	}

	if err := ch.Broadcast(context.Background(), schema.EventTypeAnnounceProvider, nil); err != nil {
		t.Fatalf("Broadcast() error = %v", err)
	}

	if len(order) != 3 || order[0] != "first" || order[1] != "second" || order[2] != "third" {
		t.Fatalf("listeners fired out of registration order: %v", order)
	}
}

func TestBroadcastIsSynchronous(t *testing.T) {
	ch := NewMemoryChannel()
	defer ch.Close()

	delivered := false
	if _, err := ch.AddListener(schema.EventTypeRequestProvider, func(Event) {
		delivered = true
	}); err != nil {
		t.Fatalf("AddListener() error = %v", err)
	}

	if err := ch.Broadcast(context.Background(), schema.EventTypeRequestProvider, nil); err != nil {
		t.Fatalf("Broadcast() error = %v", err)
	}
	if !delivered {
		t.Fatal("delivery must complete before Broadcast returns")
	}
}

func TestNoQueuingForLateListeners(t *testing.T) {
	ch := NewMemoryChannel()
	defer ch.Close()

	if err := ch.Broadcast(context.Background(), schema.EventTypeAnnounceProvider, "early"); err != nil {
		t.Fatalf("Broadcast() error = %v", err)
	}

	got := 0
	if _, err := ch.AddListener(schema.EventTypeAnnounceProvider, func(Event) { got++ }); err != nil {
		t.Fatalf("AddListener() error = %v", err)
	}
	if got != 0 {
		t.Fatalf("late listener received %d replayed events, want 0", got)
	}
}

func TestListenersAreTypeScoped(t *testing.T) {
	ch := NewMemoryChannel()
	defer ch.Close()

	announces, requests := 0, 0
	if _, err := ch.AddListener(schema.EventTypeAnnounceProvider, func(Event) { announces++ }); err != nil {
		t.Fatalf("AddListener() error = %v", err)
	}
	if _, err := ch.AddListener(schema.EventTypeRequestProvider, func(Event) { requests++ }); err != nil {
		t.Fatalf("AddListener() error = %v", err)
	}

	if err := ch.Broadcast(context.Background(), schema.EventTypeRequestProvider, nil); err != nil {
		t.Fatalf("Broadcast() error = %v", err)
	}
	if announces != 0 || requests != 1 {
		t.Fatalf("unexpected delivery: announces=%d requests=%d", announces, requests)
	}
}

func TestRemoveListenerIdempotent(t *testing.T) {
	ch := NewMemoryChannel()
	defer ch.Close()

	fired := 0
	id, err := ch.AddListener(schema.EventTypeAnnounceProvider, func(Event) { fired++ })
	if err != nil {
		t.Fatalf("AddListener() error = %v", err)
	}

	ch.RemoveListener(id)
	ch.RemoveListener(id)
	ch.RemoveListener(0)

	if err := ch.Broadcast(context.Background(), schema.EventTypeAnnounceProvider, nil); err != nil {
		t.Fatalf("Broadcast() error = %v", err)
	}
	if fired != 0 {
		t.Fatalf("removed listener fired %d times", fired)
	}
}

func TestRemovePreservesRemainingOrder(t *testing.T) {
	ch := NewMemoryChannel()
	defer ch.Close()

	var order []string
	add := func(name string) SubscriptionID {
		t.Helper()
		id, err := ch.AddListener(schema.EventTypeAnnounceProvider, func(Event) {
			order = append(order, name)
		})
		if err != nil {
			t.Fatalf("AddListener() error = %v", err)
		}
		return id
	}

	add("a")
	middle := add("b")
	add("c")
	ch.RemoveListener(middle)

	if err := ch.Broadcast(context.Background(), schema.EventTypeAnnounceProvider, nil); err != nil {
		t.Fatalf("Broadcast() error = %v", err)
	}
	if len(order) != 2 || order[0] != "a" || order[1] != "c" {
		t.Fatalf("unexpected order after removal: %v", order)
	}
}

func TestClosedChannelRejectsOperations(t *testing.T) {
	ch := NewMemoryChannel()
	ch.Close()
	ch.Close() // idempotent

	if err := ch.Broadcast(context.Background(), schema.EventTypeRequestProvider, nil); err == nil {
		t.Fatal("expected error broadcasting on closed channel")
	}
	if _, err := ch.AddListener(schema.EventTypeRequestProvider, func(Event) {}); err == nil {
		t.Fatal("expected error registering on closed channel")
	}
}

func TestIndependentChannelsDoNotCrossDeliver(t *testing.T) {
	chA := NewMemoryChannel()
	defer chA.Close()
	chB := NewMemoryChannel()
	defer chB.Close()

	got := 0
	if _, err := chA.AddListener(schema.EventTypeAnnounceProvider, func(Event) { got++ }); err != nil {
		t.Fatalf("AddListener() error = %v", err)
	}
	if err := chB.Broadcast(context.Background(), schema.EventTypeAnnounceProvider, nil); err != nil {
		t.Fatalf("Broadcast() error = %v", err)
	}
	if got != 0 {
		t.Fatalf("listener on channel A received %d events from channel B", got)
	}
}
