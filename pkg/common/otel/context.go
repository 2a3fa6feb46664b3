package otel

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// GetTraceID returns the trace id carried by ctx, or an empty string when
// ctx has no valid span so callers can omit the field entirely.
func GetTraceID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		return sc.TraceID().String()
	}
	return ""
}
