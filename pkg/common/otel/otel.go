// Package otel provides otel support.
package otel

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/fscrawl/fscrawl/pkg/common/logger"
)

// Config defines the information needed to init telemetry.
type Config struct {
	ServiceName string
	// ExporterEndpoint is the OTLP gRPC endpoint. Empty disables OTLP export
	// and leaves tracing as a no-op.
	ExporterEndpoint   string
	Probability        float64
	ResourceAttributes map[string]string
	InsecureExporter   bool
	// Prometheus registers a Prometheus reader on the meter provider so that
	// RunMetricsServer has something to serve.
	Prometheus bool
}

// Providers bundles the tracer and meter providers returned by InitTelemetry.
type Providers struct {
	Tracer trace.TracerProvider
	Meter  metric.MeterProvider
}

// InitTelemetry configures open telemetry to be used with the service.
func InitTelemetry(log *logger.Logger, cfg Config) (Providers, func(ctx context.Context), error) {
	attrs := make([]attribute.KeyValue, 0, len(cfg.ResourceAttributes)+1)
	attrs = append(attrs, semconv.ServiceNameKey.String(cfg.ServiceName))
	attrs = append(attrs, attributesFromMap(cfg.ResourceAttributes)...)
	res := resource.NewWithAttributes(semconv.SchemaURL, attrs...)

	var (
		tp          trace.TracerProvider = tracenoop.NewTracerProvider()
		shutdowns   []func(context.Context) error
		metricOpts  = []sdkmetric.Option{sdkmetric.WithResource(res)}
		haveReaders bool
	)

	if cfg.ExporterEndpoint != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.ExporterEndpoint)}
		if cfg.InsecureExporter {
			traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		}
		traceExporter, err := otlptracegrpc.New(ctx, traceOpts...)
		if err != nil {
			return Providers{}, nil, fmt.Errorf("creating trace exporter: %w", err)
		}

		exportOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.ExporterEndpoint)}
		if cfg.InsecureExporter {
			exportOpts = append(exportOpts, otlpmetricgrpc.WithInsecure())
		}
		metricExporter, err := otlpmetricgrpc.New(ctx, exportOpts...)
		if err != nil {
			return Providers{}, nil, fmt.Errorf("creating metric exporter: %w", err)
		}
		metricOpts = append(metricOpts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)))
		haveReaders = true

		sdkTP := sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Probability))),
			sdktrace.WithBatcher(traceExporter,
				sdktrace.WithBatchTimeout(5*time.Second),
				sdktrace.WithMaxExportBatchSize(512),
				sdktrace.WithMaxQueueSize(2048),
			),
			sdktrace.WithResource(res),
		)
		shutdowns = append(shutdowns, sdkTP.Shutdown)
		tp = sdkTP
	}

	if cfg.Prometheus {
		promExporter, err := prometheus.New()
		if err != nil {
			return Providers{}, nil, fmt.Errorf("creating prometheus exporter: %w", err)
		}
		metricOpts = append(metricOpts, sdkmetric.WithReader(promExporter))
		haveReaders = true
	}

	var mp metric.MeterProvider = noop.NewMeterProvider()
	if haveReaders {
		sdkMP := sdkmetric.NewMeterProvider(metricOpts...)
		shutdowns = append(shutdowns, sdkMP.Shutdown)
		mp = sdkMP
	}

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	cleanup := func(ctx context.Context) {
		for _, shutdown := range shutdowns {
			if err := shutdown(ctx); err != nil {
				log.Error(ctx, "shutting down telemetry provider", "error", err)
			}
		}
	}

	return Providers{Tracer: tp, Meter: mp}, cleanup, nil
}

// Helper function to convert map to attribute.KeyValue slice
func attributesFromMap(m map[string]string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(m))
	for k, v := range m {
		attrs = append(attrs, attribute.String(k, v))
	}
	return attrs
}
