// Package providersim provides synthetic capability providers for testing
// and development. A simulated provider behaves like a real one on the
// wire: it announces unsolicited at startup and re-announces on every
// request-provider broadcast.
package providersim

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/strobelight/beacon/errs"
	"github.com/strobelight/beacon/internal/bus/eventchannel"
	"github.com/strobelight/beacon/internal/observability"
	"github.com/strobelight/beacon/internal/schema"
)

// Options configures a simulated provider.
type Options struct {
	// UUID identifies the provider instance; defaults to a random UUID.
	UUID string
	Name string
	Icon string
	RDNS string
	// AnnounceRate caps how often request broadcasts can trigger a
	// re-announcement. Zero applies a default of 10/s. Unsolicited startup
	// announcements are not limited.
	AnnounceRate rate.Limit
	AnnounceBurst int
}

func (o Options) normalize() Options {
	if strings.TrimSpace(o.UUID) == "" {
		o.UUID = uuid.NewString()
	}
	if o.AnnounceRate <= 0 {
		o.AnnounceRate = rate.Limit(10)
	}
	if o.AnnounceBurst <= 0 {
		o.AnnounceBurst = 2
	}
	return o
}

// Provider is a simulated capability provider attached to an event channel.
type Provider struct {
	info    schema.ProviderInfo
	handle  *Handle
	channel eventchannel.Channel
	limiter *rate.Limiter

	mu      sync.Mutex
	sub     eventchannel.SubscriptionID
	started bool
}

// Handle is the simulated capability surface announced by the provider.
// Real providers expose their own method-call contract here; the simulator
// records invocations so tests can assert the handle reached the consumer.
type Handle struct {
	info  schema.ProviderInfo
	calls atomic.Int64
}

// Info returns the identity of the provider owning this handle.
func (h *Handle) Info() schema.ProviderInfo { return h.info }

// Invoke simulates a call on the provider's method surface.
func (h *Handle) Invoke() int64 { return h.calls.Add(1) }

// Calls reports how many invocations the handle has served.
func (h *Handle) Calls() int64 { return h.calls.Load() }

// New constructs a simulated provider bound to the given channel.
func New(channel eventchannel.Channel, opts Options) (*Provider, error) {
	if channel == nil {
		return nil, errs.New("providersim/new", errs.CodeInvalid, errs.WithMessage("event channel required"))
	}
	opts = opts.normalize()
	info := schema.ProviderInfo{
		UUID: opts.UUID,
		Name: opts.Name,
		Icon: opts.Icon,
		RDNS: opts.RDNS,
	}
	if err := info.Validate(); err != nil {
		return nil, err
	}
	return &Provider{
		info:    info,
		handle:  &Handle{info: info},
		channel: channel,
		limiter: rate.NewLimiter(opts.AnnounceRate, opts.AnnounceBurst),
		sub:     0,
	}, nil
}

// Info returns the provider's announced identity.
func (p *Provider) Info() schema.ProviderInfo { return p.info }

// Handle returns the capability handle the provider announces.
func (p *Provider) Handle() *Handle { return p.handle }

// Start registers the request listener and emits one unsolicited
// announcement so already-listening consumers see the provider without
// issuing a request.
func (p *Provider) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return errs.New("providersim/start", errs.CodeConflict, errs.WithMessage("provider already started"))
	}

	sub, err := p.channel.AddListener(schema.EventTypeRequestProvider, func(eventchannel.Event) {
		if !p.limiter.Allow() {
			observability.Log().Debug("re-announce suppressed by rate limit",
				observability.F("uuid", p.info.UUID))
			return
		}
		p.announce(context.Background())
	})
	if err != nil {
		p.mu.Unlock()
		return err
	}
	p.sub = sub
	p.started = true
	p.mu.Unlock()

	p.announce(ctx)
	return nil
}

func (p *Provider) announce(ctx context.Context) {
	ann := schema.Announcement{Info: p.info, Handle: p.handle}
	if err := p.channel.Broadcast(ctx, schema.EventTypeAnnounceProvider, ann); err != nil {
		observability.Log().Error("announce failed",
			observability.F("uuid", p.info.UUID),
			observability.F("error", err))
	}
}

// Stop detaches the provider from the channel. The protocol has no removal
// signal; consumers that already discovered the provider keep its record.
func (p *Provider) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return
	}
	p.channel.RemoveListener(p.sub)
	p.sub = 0
	p.started = false
}
