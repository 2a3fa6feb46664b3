package bulk

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type engineMetrics struct {
	flushes       metric.Int64Counter
	itemsSent     metric.Int64Counter
	itemsFailed   metric.Int64Counter
	flushDuration metric.Float64Histogram
	attrs         metric.MeasurementOption
}

// NewMetrics builds the otel instruments of an engine named name.
func NewMetrics(mp metric.MeterProvider, name string) (Metrics, error) {
	meter := mp.Meter("bulk", metric.WithInstrumentationVersion("v0.1.0"))

	m := &engineMetrics{attrs: metric.WithAttributes(attribute.String("engine", name))}
	var err error

	if m.flushes, err = meter.Int64Counter(
		"bulk_flushes_total",
		metric.WithDescription("Total number of bulk requests sent"),
	); err != nil {
		return nil, err
	}

	if m.itemsSent, err = meter.Int64Counter(
		"bulk_items_total",
		metric.WithDescription("Total number of operations sent"),
	); err != nil {
		return nil, err
	}

	if m.itemsFailed, err = meter.Int64Counter(
		"bulk_items_failed_total",
		metric.WithDescription("Total number of operations reported as failed"),
	); err != nil {
		return nil, err
	}

	if m.flushDuration, err = meter.Float64Histogram(
		"bulk_flush_duration_seconds",
		metric.WithDescription("Time spent in a bulk request"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *engineMetrics) ObserveFlush(ctx context.Context, items, failed int, duration time.Duration) {
	m.flushes.Add(ctx, 1, m.attrs)
	m.itemsSent.Add(ctx, int64(items), m.attrs)
	m.itemsFailed.Add(ctx, int64(failed), m.attrs)
	m.flushDuration.Record(ctx, duration.Seconds(), m.attrs)
}
