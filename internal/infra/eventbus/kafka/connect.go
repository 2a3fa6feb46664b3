package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff"
	"go.opentelemetry.io/otel/trace"

	"github.com/fscrawl/fscrawl/pkg/common/logger"
)

// ConnectWithRetry attempts to establish a producer connection to Kafka with exponential
// backoff. It keeps retrying for up to maxElapsed, starting with 1 second intervals,
// which covers brokers that come up after the crawler.
func ConnectWithRetry(
	ctx context.Context,
	cfg *Config,
	maxElapsed time.Duration,
	logger *logger.Logger,
	metrics PublisherMetrics,
	tracer trace.Tracer,
) (*Publisher, error) {
	var producer sarama.SyncProducer

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.MaxElapsedTime = maxElapsed
	expBackoff.InitialInterval = time.Second

	operation := func() error {
		var err error
		producer, err = sarama.NewSyncProducer(cfg.Brokers, NewProducerConfig(cfg.ClientID))
		if err != nil {
			logger.Warn(ctx, "failed to connect to kafka, will retry", "error", err)
			return err
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(expBackoff, ctx)); err != nil {
		return nil, fmt.Errorf("failed to connect to Kafka after retries: %w", err)
	}

	return NewPublisher(producer, cfg.Topic, metrics, logger, tracer), nil
}
