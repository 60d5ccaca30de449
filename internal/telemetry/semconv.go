// Package telemetry provides semantic conventions for Beacon observability.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Semantic convention attribute keys for Beacon-specific telemetry.
// Following OpenTelemetry naming conventions: namespace.attribute_name
const (
	// Event attributes
	AttrEventType = attribute.Key("event.type")
	AttrProvider  = attribute.Key("provider.rdns")
	AttrReason    = attribute.Key("reason")
	AttrResult    = attribute.Key("result")

	// Environment attribute
	AttrEnvironment = attribute.Key("environment")
)

// EventAttributes returns common attributes for channel event metrics.
func EventAttributes(environment, eventType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrEventType.String(eventType),
	}
}

// IngestAttributes returns attributes for registry ingest metrics.
func IngestAttributes(environment, rdns, result string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(environment),
		AttrProvider.String(rdns),
		AttrResult.String(result),
	}
}
