package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common span attribute keys.
//
// Never put actual credentials or webhook secrets into traces or metrics;
// only metadata such as event IDs, severities, sink names, and decision
// outcomes belongs here. Traces are persisted longer and replicated wider
// than the systems they observe.
const (
	// Admission attributes
	AttrLimitType = "ratelimit.type"
	AttrDimension = "ratelimit.dimension"
	AttrAllowed   = "ratelimit.allowed"
	AttrClientIP  = "ratelimit.client_ip"

	// Event pipeline attributes
	AttrEventID       = "event.id"
	AttrEventSeverity = "event.severity"
	AttrCorrelationID = "event.correlation_id"
)

// RecordError records an error on a span with proper status codes (nil-safe)
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe)
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe)
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddAdmissionAttributes adds admission decision attributes to a span (nil-safe)
func AddAdmissionAttributes(span trace.Span, limitType, dimension string, allowed bool) {
	SetSpanAttributes(span,
		attribute.String(AttrLimitType, limitType),
		attribute.Bool(AttrAllowed, allowed),
	)
	if dimension != "" {
		SetSpanAttributes(span, attribute.String(AttrDimension, dimension))
	}
}

// AddEventAttributes adds security event attributes to a span (nil-safe)
func AddEventAttributes(span trace.Span, eventID, severity, correlationID string) {
	SetSpanAttributes(span,
		attribute.String(AttrEventID, eventID),
		attribute.String(AttrEventSeverity, severity),
	)
	if correlationID != "" {
		SetSpanAttributes(span, attribute.String(AttrCorrelationID, correlationID))
	}
}
