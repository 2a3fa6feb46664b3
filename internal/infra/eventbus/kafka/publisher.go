// Package kafka publishes crawl lifecycle events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fscrawl/fscrawl/internal/domain/crawl"
	"github.com/fscrawl/fscrawl/internal/infra/eventbus/kafka/tracing"
	"github.com/fscrawl/fscrawl/pkg/common/logger"
)

// PublisherMetrics defines metrics operations needed to monitor event publishing.
type PublisherMetrics interface {
	IncMessagePublished(ctx context.Context, topic string)
	IncPublishError(ctx context.Context, topic string)
}

var _ crawl.EventPublisher = (*Publisher)(nil)

// Publisher implements crawl.EventPublisher on top of a synchronous producer.
// Messages are keyed by job name so a job's events stay ordered.
type Publisher struct {
	producer sarama.SyncProducer
	topic    string

	metrics PublisherMetrics
	logger  *logger.Logger
	tracer  trace.Tracer
}

// NewPublisher wraps producer. metrics may be nil.
func NewPublisher(
	producer sarama.SyncProducer,
	topic string,
	metrics PublisherMetrics,
	logger *logger.Logger,
	tracer trace.Tracer,
) *Publisher {
	return &Publisher{
		producer: producer,
		topic:    topic,
		metrics:  metrics,
		logger:   logger.With("component", "kafka_event_publisher", "topic", topic),
		tracer:   tracer,
	}
}

// Publish sends evt as JSON.
func (p *Publisher) Publish(ctx context.Context, evt crawl.Event) error {
	ctx, span := tracing.StartProducerSpan(ctx, p.topic, p.tracer)
	defer span.End()
	span.SetAttributes(
		attribute.String("event.type", string(evt.Type)),
		attribute.String("event.key", evt.Job),
	)

	payload, err := json.Marshal(evt)
	if err != nil {
		span.RecordError(err)
		p.incError(ctx)
		return fmt.Errorf("failed to serialize %s event: %w", evt.Type, err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(evt.Job),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(evt.Type)},
		},
	}
	tracing.InjectTraceContext(ctx, msg)

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send message")
		p.incError(ctx)
		return fmt.Errorf("failed to send message to kafka topic %s: %w", p.topic, err)
	}
	if p.metrics != nil {
		p.metrics.IncMessagePublished(ctx, p.topic)
	}

	p.logger.Debug(ctx, "Published crawl event",
		"type", string(evt.Type),
		"job", evt.Job,
		"partition", partition,
		"offset", offset,
	)
	return nil
}

func (p *Publisher) incError(ctx context.Context) {
	if p.metrics != nil {
		p.metrics.IncPublishError(ctx, p.topic)
	}
}

// Close closes the underlying producer.
func (p *Publisher) Close() error { return p.producer.Close() }
