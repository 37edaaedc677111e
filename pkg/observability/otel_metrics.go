package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// BulkInstruments are the OpenTelemetry instruments recorded by the bulk
// executor alongside the prometheus metrics. They export through the
// global meter provider installed by InitOTel and are no-ops otherwise.
type BulkInstruments struct {
	items    metric.Int64Counter
	duration metric.Float64Histogram
}

// NewBulkInstruments creates the bulk instruments from the global meter
func NewBulkInstruments() (*BulkInstruments, error) {
	meter := otel.Meter(InstrumentationName)

	items, err := meter.Int64Counter("memhub.bulk.items",
		metric.WithDescription("Bulk operation items processed"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("memhub.bulk.duration",
		metric.WithDescription("Bulk operation wall time"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	return &BulkInstruments{items: items, duration: duration}, nil
}

// RecordItem counts one processed item
func (b *BulkInstruments) RecordItem(ctx context.Context, resourceType, outcome string) {
	if b == nil {
		return
	}
	b.items.Add(ctx, 1, metric.WithAttributes(
		attribute.String("resource_type", resourceType),
		attribute.String("outcome", outcome),
	))
}

// RecordDuration records the wall time of a finished operation
func (b *BulkInstruments) RecordDuration(ctx context.Context, opType, status string, seconds float64) {
	if b == nil {
		return
	}
	b.duration.Record(ctx, seconds, metric.WithAttributes(
		attribute.String("type", opType),
		attribute.String("status", status),
	))
}
