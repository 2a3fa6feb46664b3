package elastic

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records node health activity.
type Metrics interface {
	IncFailover(ctx context.Context, node string)
	IncProbe(ctx context.Context, node string, healthy bool)
}

type nopMetrics struct{}

func (nopMetrics) IncFailover(context.Context, string)     {}
func (nopMetrics) IncProbe(context.Context, string, bool) {}

type clientMetrics struct {
	failovers metric.Int64Counter
	probes    metric.Int64Counter
}

// RegisterMetrics instruments c with meters from mp. It must be called
// before the client is shared.
func (c *Client) RegisterMetrics(mp metric.MeterProvider) error {
	m, err := newMetrics(mp, c.AvailableNodes)
	if err != nil {
		return err
	}
	c.metrics = m
	return nil
}

func newMetrics(mp metric.MeterProvider, available func() int) (Metrics, error) {
	meter := mp.Meter("elastic", metric.WithInstrumentationVersion("v0.1.0"))

	m := new(clientMetrics)
	var err error

	if m.failovers, err = meter.Int64Counter(
		"elastic_failovers_total",
		metric.WithDescription("Total number of calls moved to another node"),
	); err != nil {
		return nil, err
	}

	if m.probes, err = meter.Int64Counter(
		"elastic_probes_total",
		metric.WithDescription("Total number of node probes"),
	); err != nil {
		return nil, err
	}

	if _, err = meter.Int64ObservableGauge(
		"elastic_available_nodes",
		metric.WithDescription("Number of nodes currently considered healthy"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(available()))
			return nil
		}),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *clientMetrics) IncFailover(ctx context.Context, node string) {
	m.failovers.Add(ctx, 1, metric.WithAttributes(attribute.String("node", node)))
}

func (m *clientMetrics) IncProbe(ctx context.Context, node string, healthy bool) {
	m.probes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("node", node),
		attribute.Bool("healthy", healthy),
	))
}
