package discovery

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RequesterConfig tunes the re-request schedule.
type RequesterConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// StopWhenDiscovered ends the run once the registry holds at least one
	// record. Providers announced later still arrive through the listener;
	// they just stop being actively prompted.
	StopWhenDiscovered bool
}

func (c RequesterConfig) normalize() RequesterConfig {
	if c.InitialInterval <= 0 {
		c.InitialInterval = 500 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 30 * time.Second
	}
	return c
}

// Requester periodically re-broadcasts request-provider on an exponential
// backoff schedule. Providers may come up after the consumer subscribes;
// re-requesting lets them surface without waiting for their own unsolicited
// announcement.
type Requester struct {
	service *Service
	cfg     RequesterConfig
}

// NewRequester constructs a Requester for the given service.
func NewRequester(service *Service, cfg RequesterConfig) *Requester {
	return &Requester{service: service, cfg: cfg.normalize()}
}

// Run re-broadcasts until the context ends, the channel refuses the
// broadcast, or (when configured) a provider has been discovered.
func (r *Requester) Run(ctx context.Context) error {
	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.InitialInterval = r.cfg.InitialInterval
	backoffCfg.MaxInterval = r.cfg.MaxInterval

	for {
		sleep := backoffCfg.NextBackOff()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}

		if err := r.service.RequestProviders(ctx); err != nil {
			return err
		}
		if r.cfg.StopWhenDiscovered && r.service.Registry().Len() > 0 {
			return nil
		}
	}
}
