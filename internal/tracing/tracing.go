package tracing

import (
	// Import required OpenTelemetry packages
	"go.opentelemetry.io/otel" // For global TracerProvider access fallback (though direct injection preferred)
	codes "go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// tracerName is the default name used when acquiring a tracer instance.
// Consistent naming helps identify the source of spans.
const tracerName = "emupilot"

// GetTracer returns a named tracer instance from the globally configured OpenTelemetry provider.
// If no global provider is configured (e.g., in tests or simple applications),
// it defaults to returning a NoOpTracer, which safely discards all tracing data.
// Note: It's generally preferred to inject the TracerProvider into components rather
// than relying on the global provider.
func GetTracer() oteltrace.Tracer {
	// otel.Tracer handles the fallback to NoOpTracer internally if no provider is set.
	return otel.Tracer(tracerName)
}

// RecordError records an error on an OpenTelemetry span and marks the span
// status as Error. It also attempts to record a stack trace. Does nothing if
// the error is nil or the span is nil/not recording.
func RecordError(span oteltrace.Span, err error) {
	if err == nil || span == nil || !span.IsRecording() {
		return
	}
	span.RecordError(err, oteltrace.WithStackTrace(true))
	span.SetStatus(codes.Error, err.Error())
}
