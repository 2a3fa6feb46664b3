package crawl

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/fscrawl/fscrawl/internal/domain/crawl"
	"github.com/fscrawl/fscrawl/internal/infra/bulk"
	"github.com/fscrawl/fscrawl/pkg/common/otel"
)

// counterValues sums every data point of the named int64 counters, keyed by
// metric name and the "outcome" attribute when present.
func counterValues(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				key := m.Name
				if outcome, ok := dp.Attributes.Value(attribute.Key("outcome")); ok {
					key += "/" + outcome.AsString()
				}
				out[key] += dp.Value
			}
		}
	}
	return out
}

func TestMetrics_RecordScan(t *testing.T) {
	h := newTestHarness(t)
	h.write(t, "/data/a.txt", "alpha")
	h.write(t, "/data/sub/b.txt", "beta")

	reader := sdkmetric.NewManualReader()
	metrics, err := NewMetrics(otel.NewMeterProvider("test", reader))
	require.NoError(t, err)

	m, err := NewMachine(context.Background(), testJob(t, crawl.Job{}), MachineDeps{
		Store:              h.store,
		Source:             h.source,
		Transport:          h.transport,
		Bulk:               bulk.Config{BulkSize: 10},
		Metrics:            metrics,
		CheckpointInterval: time.Hour,
		Logger:             testLogger(),
		Tracer:             testTracer(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Stop(context.Background()) })

	runScan(t, m)

	got := counterValues(t, reader)
	assert.Equal(t, int64(2), got["crawl_directories_total"])
	assert.Equal(t, int64(2), got["crawl_documents_indexed_total"])
	assert.Equal(t, int64(1), got["crawl_scans_total/completed"])
	assert.Zero(t, got["crawl_errors_total"])
}
