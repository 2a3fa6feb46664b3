package otel

import (
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// NewMeterProvider creates a new meter provider with the given service name
// and readers. Tests pass a sdkmetric.NewManualReader to inspect recordings.
func NewMeterProvider(serviceName string, readers ...sdkmetric.Reader) metric.MeterProvider {
	opts := []sdkmetric.Option{sdkmetric.WithResource(NewResource(serviceName))}
	for _, r := range readers {
		opts = append(opts, sdkmetric.WithReader(r))
	}
	return sdkmetric.NewMeterProvider(opts...)
}

// NewResource creates a new OpenTelemetry resource with service name.
func NewResource(serviceName string) *resource.Resource {
	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(serviceName),
	)
}
