package crawl

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records crawl activity.
type Metrics interface {
	IncDirectories(ctx context.Context, job string)
	AddIndexed(ctx context.Context, job string, n int)
	AddDeleted(ctx context.Context, job string, n int)
	AddErrors(ctx context.Context, job string, n int)
	IncScans(ctx context.Context, job string, outcome string)
}

type nopMetrics struct{}

func (nopMetrics) IncDirectories(context.Context, string)    {}
func (nopMetrics) AddIndexed(context.Context, string, int)   {}
func (nopMetrics) AddDeleted(context.Context, string, int)   {}
func (nopMetrics) AddErrors(context.Context, string, int)    {}
func (nopMetrics) IncScans(context.Context, string, string) {}

type crawlMetrics struct {
	directories metric.Int64Counter
	indexed     metric.Int64Counter
	deleted     metric.Int64Counter
	errors      metric.Int64Counter
	scans       metric.Int64Counter
}

const namespace = "crawl"

// NewMetrics creates the crawl instruments.
func NewMetrics(mp metric.MeterProvider) (Metrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(crawlMetrics)
	var err error

	if m.directories, err = meter.Int64Counter(
		"crawl_directories_total",
		metric.WithDescription("Total number of directories processed"),
	); err != nil {
		return nil, err
	}

	if m.indexed, err = meter.Int64Counter(
		"crawl_documents_indexed_total",
		metric.WithDescription("Total number of documents confirmed indexed"),
	); err != nil {
		return nil, err
	}

	if m.deleted, err = meter.Int64Counter(
		"crawl_documents_deleted_total",
		metric.WithDescription("Total number of documents confirmed deleted"),
	); err != nil {
		return nil, err
	}

	if m.errors, err = meter.Int64Counter(
		"crawl_errors_total",
		metric.WithDescription("Total number of recoverable crawl errors"),
	); err != nil {
		return nil, err
	}

	if m.scans, err = meter.Int64Counter(
		"crawl_scans_total",
		metric.WithDescription("Total number of scans by outcome"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func jobAttr(job string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("job", job))
}

func (m *crawlMetrics) IncDirectories(ctx context.Context, job string) {
	m.directories.Add(ctx, 1, jobAttr(job))
}

func (m *crawlMetrics) AddIndexed(ctx context.Context, job string, n int) {
	m.indexed.Add(ctx, int64(n), jobAttr(job))
}

func (m *crawlMetrics) AddDeleted(ctx context.Context, job string, n int) {
	m.deleted.Add(ctx, int64(n), jobAttr(job))
}

func (m *crawlMetrics) AddErrors(ctx context.Context, job string, n int) {
	m.errors.Add(ctx, int64(n), jobAttr(job))
}

func (m *crawlMetrics) IncScans(ctx context.Context, job string, outcome string) {
	m.scans.Add(ctx, 1, metric.WithAttributes(
		attribute.String("job", job),
		attribute.String("outcome", outcome),
	))
}
