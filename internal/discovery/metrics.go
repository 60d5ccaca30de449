package discovery

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/strobelight/beacon/internal/telemetry"
)

const (
	resultIngested  = "ingested"
	resultDuplicate = "duplicate"
	resultRejected  = "rejected"
)

type serviceMetrics struct {
	announcements   metric.Int64Counter
	requests        metric.Int64Counter
	providerGauge   metric.Int64UpDownCounter
	subscriberGauge metric.Int64UpDownCounter
}

func newServiceMetrics() *serviceMetrics {
	meter := otel.Meter("discovery")
	m := new(serviceMetrics)
	m.announcements, _ = meter.Int64Counter("discovery.announcements",
		metric.WithDescription("Announcements processed, labelled by result"),
		metric.WithUnit("{announcement}"))
	m.requests, _ = meter.Int64Counter("discovery.requests",
		metric.WithDescription("request-provider broadcasts emitted"),
		metric.WithUnit("{request}"))
	m.providerGauge, _ = meter.Int64UpDownCounter("discovery.providers",
		metric.WithDescription("Providers currently held by the registry"),
		metric.WithUnit("{provider}"))
	m.subscriberGauge, _ = meter.Int64UpDownCounter("discovery.subscribers",
		metric.WithDescription("Active change subscribers"),
		metric.WithUnit("{subscriber}"))
	return m
}

func (m *serviceMetrics) recordAnnouncement(ctx context.Context, rdns, result string) {
	if m == nil || m.announcements == nil {
		return
	}
	attrs := telemetry.IngestAttributes(telemetry.Environment(), rdns, result)
	m.announcements.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *serviceMetrics) recordRequest(ctx context.Context) {
	if m == nil || m.requests == nil {
		return
	}
	attrs := telemetry.EventAttributes(telemetry.Environment(), "request-provider")
	m.requests.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *serviceMetrics) addProviders(ctx context.Context, delta int64) {
	if m == nil || m.providerGauge == nil {
		return
	}
	m.providerGauge.Add(ctx, delta)
}

func (m *serviceMetrics) addSubscribers(ctx context.Context, delta int64) {
	if m == nil || m.subscriberGauge == nil {
		return
	}
	m.subscriberGauge.Add(ctx, delta)
}
