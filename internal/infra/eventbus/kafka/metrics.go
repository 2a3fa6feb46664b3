package kafka

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type publisherMetrics struct {
	published metric.Int64Counter
	errors    metric.Int64Counter
}

// NewMetrics creates the publisher instruments.
func NewMetrics(mp metric.MeterProvider) (PublisherMetrics, error) {
	meter := mp.Meter("kafka_publisher", metric.WithInstrumentationVersion("v0.1.0"))

	m := new(publisherMetrics)
	var err error

	if m.published, err = meter.Int64Counter(
		"kafka_messages_published_total",
		metric.WithDescription("Total number of crawl events published"),
	); err != nil {
		return nil, err
	}

	if m.errors, err = meter.Int64Counter(
		"kafka_publish_errors_total",
		metric.WithDescription("Total number of crawl events that failed to publish"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *publisherMetrics) IncMessagePublished(ctx context.Context, topic string) {
	m.published.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}

func (m *publisherMetrics) IncPublishError(ctx context.Context, topic string) {
	m.errors.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}
