package otelhelper

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SetError marks the span failed and attaches the step context the error
// occurred under.
func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	span.SetAttributes(attrs...)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
