package providersim

import (
	"context"

	"github.com/sourcegraph/conc"

	"github.com/strobelight/beacon/errs"
	"github.com/strobelight/beacon/internal/bus/eventchannel"
)

// Fleet runs a set of simulated providers on one channel.
type Fleet struct {
	providers []*Provider
}

// NewFleet constructs providers for every option set. Construction is
// all-or-nothing: one invalid spec fails the whole fleet.
func NewFleet(channel eventchannel.Channel, specs []Options) (*Fleet, error) {
	if len(specs) == 0 {
		return &Fleet{providers: nil}, nil
	}
	providers := make([]*Provider, 0, len(specs))
	for _, spec := range specs {
		p, err := New(channel, spec)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	return &Fleet{providers: providers}, nil
}

// Providers returns the fleet members.
func (f *Fleet) Providers() []*Provider {
	return append([]*Provider(nil), f.providers...)
}

// Start brings all providers up concurrently and reports the first failure.
func (f *Fleet) Start(ctx context.Context) error {
	if len(f.providers) == 0 {
		return nil
	}
	failures := make(chan error, len(f.providers))
	var wg conc.WaitGroup
	for _, p := range f.providers {
		member := p
		wg.Go(func() {
			if err := member.Start(ctx); err != nil {
				failures <- err
			}
		})
	}
	wg.Wait()
	close(failures)

	for err := range failures {
		if err != nil {
			f.Stop()
			return errs.New("providersim/fleet-start", errs.CodeUnavailable,
				errs.WithMessage("start fleet"), errs.WithCause(err))
		}
	}
	return nil
}

// Stop detaches every provider.
func (f *Fleet) Stop() {
	for _, p := range f.providers {
		p.Stop()
	}
}
