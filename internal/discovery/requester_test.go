package discovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/strobelight/beacon/internal/bus/eventchannel"
	"github.com/strobelight/beacon/internal/schema"
)

func TestRequesterStopsWhenDiscovered(t *testing.T) {
	channel := eventchannel.NewMemoryChannel()
	t.Cleanup(channel.Close)
	requestResponder(t, channel, "uuid-1", "walleta")

	service, err := NewService(channel, Config{})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	t.Cleanup(service.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	requester := NewRequester(service, RequesterConfig{
		InitialInterval:    time.Millisecond,
		MaxInterval:        5 * time.Millisecond,
		StopWhenDiscovered: true,
	})
	if err := requester.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if service.Registry().Len() != 1 {
		t.Fatalf("len = %d, want 1", service.Registry().Len())
	}
}

func TestRequesterHonorsContext(t *testing.T) {
	channel := eventchannel.NewMemoryChannel()
	t.Cleanup(channel.Close)

	service, err := NewService(channel, Config{})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	t.Cleanup(service.Close)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	requester := NewRequester(service, RequesterConfig{InitialInterval: time.Millisecond})
	if err := requester.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
}

func TestRequesterKeepsPromptingInEmptyEnvironment(t *testing.T) {
	channel := eventchannel.NewMemoryChannel()
	t.Cleanup(channel.Close)

	requests := 0
	if _, err := channel.AddListener(schema.EventTypeRequestProvider, func(eventchannel.Event) {
		requests++
	}); err != nil {
		t.Fatalf("AddListener() error = %v", err)
	}

	service, err := NewService(channel, Config{})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	t.Cleanup(service.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	requester := NewRequester(service, RequesterConfig{
		InitialInterval:    time.Millisecond,
		MaxInterval:        5 * time.Millisecond,
		StopWhenDiscovered: true,
	})
	// The deadline expiring is reported as such, not as a cancellation.
	if err := requester.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() error = %v, want context.DeadlineExceeded", err)
	}
	if requests == 0 {
		t.Fatal("requester must keep prompting while nothing answers")
	}
}
