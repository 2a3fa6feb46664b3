package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/fscrawl/fscrawl/internal/domain/crawl"
	"github.com/fscrawl/fscrawl/pkg/common/logger"
)

type countingMetrics struct {
	published, errors int
}

func (m *countingMetrics) IncMessagePublished(context.Context, string) { m.published++ }
func (m *countingMetrics) IncPublishError(context.Context, string)     { m.errors++ }

func newTestPublisher(t *testing.T) (*Publisher, *mocks.SyncProducer, *countingMetrics) {
	t.Helper()
	producer := mocks.NewSyncProducer(t, NewProducerConfig("test"))
	metrics := new(countingMetrics)
	p := NewPublisher(producer, "crawl-events", metrics, logger.Noop(), noop.NewTracerProvider().Tracer("test"))
	t.Cleanup(func() { _ = p.Close() })
	return p, producer, metrics
}

func TestPublisher_Publish(t *testing.T) {
	p, producer, metrics := newTestPublisher(t)

	evt := crawl.Event{
		Type:       crawl.EventScanCompleted,
		Job:        "docs",
		ScanID:     "scan-1",
		OccurredAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Status:     crawl.Status{Job: "docs", State: crawl.StateCompleted, FilesProcessed: 3},
	}

	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		assert.Equal(t, "crawl-events", msg.Topic)

		key, err := msg.Key.Encode()
		require.NoError(t, err)
		assert.Equal(t, "docs", string(key))

		value, err := msg.Value.Encode()
		require.NoError(t, err)
		var got crawl.Event
		require.NoError(t, json.Unmarshal(value, &got))
		assert.Equal(t, evt, got)
		return nil
	})

	require.NoError(t, p.Publish(context.Background(), evt))
	assert.Equal(t, 1, metrics.published)
	assert.Zero(t, metrics.errors)
}

func TestPublisher_PublishFailure(t *testing.T) {
	p, producer, metrics := newTestPublisher(t)

	sendErr := errors.New("broker unavailable")
	producer.ExpectSendMessageAndFail(sendErr)

	err := p.Publish(context.Background(), crawl.Event{Type: crawl.EventScanStarted, Job: "docs"})
	require.ErrorIs(t, err, sendErr)
	assert.Contains(t, err.Error(), "crawl-events")
	assert.Equal(t, 1, metrics.errors)
	assert.Zero(t, metrics.published)
}
