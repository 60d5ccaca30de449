package discovery

import (
	"context"
	"sync"

	"github.com/strobelight/beacon/errs"
	"github.com/strobelight/beacon/internal/bus/eventchannel"
	"github.com/strobelight/beacon/internal/observability"
	"github.com/strobelight/beacon/internal/policy"
	"github.com/strobelight/beacon/internal/schema"
)

// ChangeFunc observes a new registry snapshot after a unique ingest.
// version identifies the content change the snapshot belongs to. The
// snapshot is owned by the registry and must not be mutated.
type ChangeFunc func(records []schema.ProviderRecord, version uint64)

// Config configures a discovery service.
type Config struct {
	// Admission decides whether announced providers enter the registry.
	// Nil admits every valid announcement.
	Admission policy.Policy
}

func (c Config) normalize() Config {
	if c.Admission == nil {
		c.Admission = policy.AdmitAll{}
	}
	return c
}

// Service ties the discovery protocol together: it owns the registry, the
// announce listener and the request broadcaster, and manages consumer
// subscriptions to registry changes.
//
// Discovery is push-based. Subscribe fires a request-provider broadcast and
// results arrive later via the callback as providers respond; it never
// returns the current set synchronously.
type Service struct {
	cfg         Config
	channel     eventchannel.Channel
	registry    *Registry
	broadcaster *Broadcaster
	listener    *Listener
	metrics     *serviceMetrics

	mu          sync.Mutex
	subscribers []*subscriberEntry
	nextSubID   uint64
	closed      bool

	// pending queues content changes in registry order; the goroutine that
	// sets draining delivers them FIFO with callbacks running outside mu.
	// A callback may therefore broadcast again (a live provider answers
	// request-provider synchronously) without deadlocking: the re-entered
	// ingest only enqueues and returns.
	pending  []change
	draining bool
}

type change struct {
	records []schema.ProviderRecord
	version uint64
}

type subscriberEntry struct {
	id uint64
	fn ChangeFunc
}

// NewService constructs a discovery service on the given channel and
// registers its announce listener. The channel remains owned by the caller.
func NewService(channel eventchannel.Channel, cfg Config) (*Service, error) {
	if channel == nil {
		return nil, errs.New("discovery/new", errs.CodeInvalid, errs.WithMessage("event channel required"))
	}
	s := new(Service)
	s.cfg = cfg.normalize()
	s.channel = channel
	s.registry = NewRegistry()
	s.broadcaster = NewBroadcaster(channel)
	s.metrics = newServiceMetrics()

	listener, err := NewListener(channel, s.ingest)
	if err != nil {
		return nil, err
	}
	s.listener = listener
	return s, nil
}

// Registry exposes the underlying registry.
func (s *Service) Registry() *Registry {
	return s.registry
}

// Snapshot returns the current ordered provider records.
func (s *Service) Snapshot() []schema.ProviderRecord {
	return s.registry.Snapshot()
}

// SnapshotVersion returns the current records with their matching version.
func (s *Service) SnapshotVersion() ([]schema.ProviderRecord, uint64) {
	return s.registry.SnapshotVersion()
}

// Version counts unique content changes.
func (s *Service) Version() uint64 {
	return s.registry.Version()
}

// RequestProviders re-broadcasts a request-provider event.
func (s *Service) RequestProviders(ctx context.Context) error {
	if err := s.broadcaster.RequestProviders(ctx); err != nil {
		return err
	}
	s.metrics.recordRequest(ctx)
	return nil
}

// Subscribe registers cb for registry content changes and triggers one
// request-provider broadcast so late subscribers receive the live provider
// set asynchronously via fresh announcements. The returned function removes
// the subscription and is idempotent.
func (s *Service) Subscribe(ctx context.Context, cb ChangeFunc) (func(), error) {
	if cb == nil {
		return nil, errs.New("discovery/subscribe", errs.CodeInvalid, errs.WithMessage("callback required"))
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errs.New("discovery/subscribe", errs.CodeUnavailable, errs.WithMessage("service closed"))
	}
	s.nextSubID++
	entry := &subscriberEntry{id: s.nextSubID, fn: cb}
	s.subscribers = append(s.subscribers, entry)
	s.mu.Unlock()

	if err := s.RequestProviders(ctx); err != nil {
		s.remove(entry.id)
		return nil, err
	}
	s.metrics.addSubscribers(ctx, 1)

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			if s.remove(entry.id) {
				s.metrics.addSubscribers(context.Background(), -1)
			}
		})
	}
	return unsubscribe, nil
}

func (s *Service) remove(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, entry := range s.subscribers {
		if entry.id == id {
			s.subscribers = append(s.subscribers[:i:i], s.subscribers[i+1:]...)
			return true
		}
	}
	return false
}

// ingest is the listener's sink for validated announcements.
func (s *Service) ingest(info schema.ProviderInfo, handle schema.Handle) {
	ctx := context.Background()

	if !s.cfg.Admission.Admit(info) {
		s.metrics.recordAnnouncement(ctx, info.RDNS, resultRejected)
		observability.Log().Debug("announcement rejected by admission policy",
			observability.F("uuid", info.UUID),
			observability.F("rdns", info.RDNS))
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if !s.registry.Ingest(info, handle) {
		s.mu.Unlock()
		s.metrics.recordAnnouncement(ctx, info.RDNS, resultDuplicate)
		return
	}
	records, version := s.registry.SnapshotVersion()
	s.pending = append(s.pending, change{records: records, version: version})
	alreadyDraining := s.draining
	s.draining = true
	s.mu.Unlock()

	s.metrics.recordAnnouncement(ctx, info.RDNS, resultIngested)
	s.metrics.addProviders(ctx, 1)
	observability.Log().Info("provider discovered",
		observability.F("uuid", info.UUID),
		observability.F("name", info.Name),
		observability.F("rdns", info.RDNS))

	if alreadyDraining {
		// A deliverer further up this goroutine's (or another's) stack owns
		// the queue and will pick this change up.
		return
	}
	s.drain()
}

// drain delivers queued changes until the queue is empty. Exactly one
// goroutine drains at a time, so every subscriber observes each distinct
// change exactly once, in registry order.
func (s *Service) drain() {
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.draining = false
			s.mu.Unlock()
			return
		}
		next := s.pending[0]
		s.pending = s.pending[1:]
		current := append([]*subscriberEntry(nil), s.subscribers...)
		s.mu.Unlock()

		for _, entry := range current {
			entry.fn(next.records, next.version)
		}
	}
}

// Reset clears the registry. Explicit teardown only; subscriptions survive.
func (s *Service) Reset() {
	s.mu.Lock()
	count := s.registry.Len()
	s.registry.Reset()
	s.mu.Unlock()
	if count > 0 {
		s.metrics.addProviders(context.Background(), -int64(count))
	}
}

// Close deregisters the announce listener and drops all subscribers. The
// event channel itself stays open for other participants.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.subscribers = nil
	s.mu.Unlock()
	s.listener.Close()
}
