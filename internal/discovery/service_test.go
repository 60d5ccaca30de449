package discovery

import (
	"context"
	"testing"

	"github.com/strobelight/beacon/internal/bus/eventchannel"
	"github.com/strobelight/beacon/internal/policy"
	"github.com/strobelight/beacon/internal/schema"
)

func setupService(t *testing.T, cfg Config) (*Service, *eventchannel.MemoryChannel) {
	t.Helper()
	channel := eventchannel.NewMemoryChannel()
	t.Cleanup(channel.Close)

	service, err := NewService(channel, cfg)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	t.Cleanup(service.Close)
	return service, channel
}

func announce(t *testing.T, channel eventchannel.Channel, uuid, name string) {
	t.Helper()
	ann := schema.Announcement{Info: infoWith(uuid, name), Handle: "handle-" + uuid}
	if err := channel.Broadcast(context.Background(), schema.EventTypeAnnounceProvider, ann); err != nil {
		t.Fatalf("Broadcast(announce) error = %v", err)
	}
}

// requestResponder simulates a live provider: it re-announces itself on
// every request-provider broadcast.
func requestResponder(t *testing.T, channel eventchannel.Channel, uuid, name string) {
	t.Helper()
	_, err := channel.AddListener(schema.EventTypeRequestProvider, func(eventchannel.Event) {
		ann := schema.Announcement{Info: infoWith(uuid, name), Handle: "handle-" + uuid}
		if err := channel.Broadcast(context.Background(), schema.EventTypeAnnounceProvider, ann); err != nil {
			t.Errorf("responder broadcast error = %v", err)
		}
	})
	if err != nil {
		t.Fatalf("AddListener(request) error = %v", err)
	}
}

func TestSubscribeTriggersOneRequest(t *testing.T) {
	service, channel := setupService(t, Config{})

	requests := 0
	if _, err := channel.AddListener(schema.EventTypeRequestProvider, func(eventchannel.Event) {
		requests++
	}); err != nil {
		t.Fatalf("AddListener() error = %v", err)
	}

	unsubscribe, err := service.Subscribe(context.Background(), func([]schema.ProviderRecord, uint64) {})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer unsubscribe()

	if requests != 1 {
		t.Fatalf("request broadcasts = %d, want exactly 1 per subscribe", requests)
	}

	if _, err := service.Subscribe(context.Background(), func([]schema.ProviderRecord, uint64) {}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if requests != 2 {
		t.Fatalf("request broadcasts = %d, want 2 after second subscribe", requests)
	}
}

func TestCallbackFiresOncePerUniqueIngest(t *testing.T) {
	service, channel := setupService(t, Config{})

	var notified [][]schema.ProviderRecord
	if _, err := service.Subscribe(context.Background(), func(records []schema.ProviderRecord, _ uint64) {
		notified = append(notified, records)
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	announce(t, channel, "uuid-1", "walleta")
	announce(t, channel, "uuid-1", "walleta") // duplicate: no notification
	announce(t, channel, "uuid-2", "walletb")

	if len(notified) != 2 {
		t.Fatalf("notifications = %d, want 2", len(notified))
	}
	if len(notified[0]) != 1 || len(notified[1]) != 2 {
		t.Fatalf("snapshot sizes = %d,%d want 1,2", len(notified[0]), len(notified[1]))
	}
}

func TestCallbacksInSubscriptionOrder(t *testing.T) {
	service, channel := setupService(t, Config{})

	var order []string
	for _, name := range []string{"first", "second"} {
		captured := name
		if _, err := service.Subscribe(context.Background(), func([]schema.ProviderRecord, uint64) {
			order = append(order, captured)
		}); err != nil {
			t.Fatalf("Subscribe() error = %v", err)
		}
	}

	announce(t, channel, "uuid-1", "walleta")
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("callback order = %v", order)
	}
}

func TestUnsubscribeStopsNotification(t *testing.T) {
	service, channel := setupService(t, Config{})

	calls := 0
	unsubscribe, err := service.Subscribe(context.Background(), func([]schema.ProviderRecord, uint64) { calls++ })
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	announce(t, channel, "uuid-1", "walleta")
	unsubscribe()
	unsubscribe() // idempotent
	announce(t, channel, "uuid-2", "walletb")

	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	// Unsubscribe affects notification only; the registry keeps its state.
	if service.Registry().Len() != 2 {
		t.Fatalf("registry len = %d, want 2", service.Registry().Len())
	}
}

func TestMalformedAnnouncementsDiscarded(t *testing.T) {
	service, channel := setupService(t, Config{})

	payloads := []any{
		nil,
		"not an announcement",
		schema.Announcement{},                                               // empty info
		schema.Announcement{Info: infoWith("uuid-x", "x")},                  // nil handle
		schema.Announcement{Info: schema.ProviderInfo{UUID: "only-uuid"}, Handle: 1}, // missing name/rdns
	}
	for _, payload := range payloads {
		if err := channel.Broadcast(context.Background(), schema.EventTypeAnnounceProvider, payload); err != nil {
			t.Fatalf("Broadcast() error = %v", err)
		}
	}

	if service.Registry().Len() != 0 {
		t.Fatalf("registry len = %d, want 0 after malformed announcements", service.Registry().Len())
	}
}

func TestAdmissionPolicyRejectsSilently(t *testing.T) {
	script, err := policy.CompileScript(`function admit(info) { return info.rdns.indexOf("com.example.") === 0 }`)
	if err != nil {
		t.Fatalf("CompileScript() error = %v", err)
	}
	service, channel := setupService(t, Config{Admission: script})

	announce(t, channel, "uuid-1", "walleta")
	if err := channel.Broadcast(context.Background(), schema.EventTypeAnnounceProvider, schema.Announcement{
		Info:   schema.ProviderInfo{UUID: "uuid-evil", Name: "Evil", RDNS: "io.sketchy.wallet"},
		Handle: struct{}{},
	}); err != nil {
		t.Fatalf("Broadcast() error = %v", err)
	}

	records := service.Snapshot()
	if len(records) != 1 || records[0].Info.UUID != "uuid-1" {
		t.Fatalf("unexpected records: %+v", records)
	}
}

func TestEarlyAnnouncerDiscoveredAfterSubscribe(t *testing.T) {
	channel := eventchannel.NewMemoryChannel()
	t.Cleanup(channel.Close)

	// Provider announces before any consumer listens; nobody hears it, but
	// it remains request-responsive.
	requestResponder(t, channel, "uuid-1", "walleta")
	ann := schema.Announcement{Info: infoWith("uuid-1", "walleta"), Handle: "handle-uuid-1"}
	if err := channel.Broadcast(context.Background(), schema.EventTypeAnnounceProvider, ann); err != nil {
		t.Fatalf("Broadcast() error = %v", err)
	}

	service, err := NewService(channel, Config{})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	t.Cleanup(service.Close)

	if service.Registry().Len() != 0 {
		t.Fatal("pre-subscription announcement must not be queued")
	}

	if _, err := service.Subscribe(context.Background(), func([]schema.ProviderRecord, uint64) {}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	records := service.Snapshot()
	if len(records) != 1 || records[0].Info.UUID != "uuid-1" {
		t.Fatalf("unexpected records after request: %+v", records)
	}
}

func TestTwoProvidersOneRequest(t *testing.T) {
	channel := eventchannel.NewMemoryChannel()
	t.Cleanup(channel.Close)
	requestResponder(t, channel, "uuid-1", "walleta")
	requestResponder(t, channel, "uuid-2", "walletb")

	service, err := NewService(channel, Config{})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	t.Cleanup(service.Close)

	if _, err := service.Subscribe(context.Background(), func([]schema.ProviderRecord, uint64) {}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	records := service.Snapshot()
	if len(records) != 2 {
		t.Fatalf("len = %d, want 2", len(records))
	}
	if records[0].Info.UUID != "uuid-1" || records[1].Info.UUID != "uuid-2" {
		t.Fatalf("arrival order not preserved: %+v", records)
	}
}

func TestRepeatedRequestsDoNotDuplicate(t *testing.T) {
	channel := eventchannel.NewMemoryChannel()
	t.Cleanup(channel.Close)
	requestResponder(t, channel, "uuid-1", "walleta")

	service, err := NewService(channel, Config{})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	t.Cleanup(service.Close)

	if _, err := service.Subscribe(context.Background(), func([]schema.ProviderRecord, uint64) {}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := service.RequestProviders(context.Background()); err != nil {
		t.Fatalf("RequestProviders() error = %v", err)
	}

	if got := service.Registry().Len(); got != 1 {
		t.Fatalf("len = %d, want 1 after two announcements of the same instance", got)
	}
}

func TestSubscribeValidation(t *testing.T) {
	service, _ := setupService(t, Config{})
	if _, err := service.Subscribe(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil callback")
	}
}

func TestClosedServiceStopsIngesting(t *testing.T) {
	channel := eventchannel.NewMemoryChannel()
	t.Cleanup(channel.Close)

	service, err := NewService(channel, Config{})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	service.Close()
	service.Close() // idempotent

	ann := schema.Announcement{Info: infoWith("uuid-1", "walleta"), Handle: struct{}{}}
	if err := channel.Broadcast(context.Background(), schema.EventTypeAnnounceProvider, ann); err != nil {
		t.Fatalf("Broadcast() error = %v", err)
	}
	if service.Registry().Len() != 0 {
		t.Fatal("closed service must not ingest")
	}

	if _, err := service.Subscribe(context.Background(), func([]schema.ProviderRecord, uint64) {}); err == nil {
		t.Fatal("expected error subscribing on closed service")
	}
}

func TestCallbackMayReenterBroadcastPath(t *testing.T) {
	channel := eventchannel.NewMemoryChannel()
	t.Cleanup(channel.Close)
	// A live provider answers every request synchronously on the
	// broadcaster's goroutine.
	requestResponder(t, channel, "uuid-1", "walleta")

	service, err := NewService(channel, Config{})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	t.Cleanup(service.Close)

	var snapshots [][]schema.ProviderRecord
	var versions []uint64
	if _, err := service.Subscribe(context.Background(), func(records []schema.ProviderRecord, version uint64) {
		snapshots = append(snapshots, records)
		versions = append(versions, version)
		if len(records) == 1 {
			// Re-request from inside the notification: the responder
			// re-announces on this same goroutine and must not wedge.
			if err := service.RequestProviders(context.Background()); err != nil {
				t.Errorf("RequestProviders() error = %v", err)
			}
			announce(t, channel, "uuid-2", "walletb")
		}
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if len(snapshots) != 2 {
		t.Fatalf("notifications = %d, want 2 (one per distinct change)", len(snapshots))
	}
	if len(snapshots[0]) != 1 || len(snapshots[1]) != 2 {
		t.Fatalf("snapshot sizes = %d,%d want 1,2", len(snapshots[0]), len(snapshots[1]))
	}
	if snapshots[1][1].Info.UUID != "uuid-2" {
		t.Fatalf("second change = %+v, want uuid-2 appended", snapshots[1])
	}
	if versions[0] != 1 || versions[1] != 2 {
		t.Fatalf("versions = %v, want [1 2]", versions)
	}
}
