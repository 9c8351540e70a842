package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the pipeline
type Metrics struct {
	// Admission Metrics
	AdmissionDecisions metric.Int64Counter

	// Event Pipeline Metrics
	EventsIngested     metric.Int64Counter
	SinkDeliveries     metric.Int64Counter
	BroadcastAttempts  metric.Int64Counter
	EscalationsEmitted metric.Int64Counter

	// Storage Metrics
	StorageOperationTotal    metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram
	CorrelationCacheSize     metric.Int64ObservableGauge
	CorrelationLogSize       metric.Int64ObservableGauge
}

// newMetrics creates and registers all metric instruments
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}

	ratelimitMeter := inst.Meter("ratelimit")
	pipelineMeter := inst.Meter("pipeline")
	storageMeter := inst.Meter("storage")

	var err error
	m.AdmissionDecisions, err = ratelimitMeter.Int64Counter(
		"ssoguard.admission.decisions",
		metric.WithDescription("Admission decisions by limit type, dimension, and outcome"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create admission.decisions counter: %w", err)
	}

	m.EventsIngested, err = pipelineMeter.Int64Counter(
		"ssoguard.events.ingested",
		metric.WithDescription("Security events entering the pipeline"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create events.ingested counter: %w", err)
	}

	m.SinkDeliveries, err = pipelineMeter.Int64Counter(
		"ssoguard.sink.deliveries",
		metric.WithDescription("Record deliveries by sink and fallback status"),
		metric.WithUnit("{delivery}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sink.deliveries counter: %w", err)
	}

	m.BroadcastAttempts, err = pipelineMeter.Int64Counter(
		"ssoguard.broadcast.attempts",
		metric.WithDescription("Webhook delivery attempts by outcome"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create broadcast.attempts counter: %w", err)
	}

	m.EscalationsEmitted, err = ratelimitMeter.Int64Counter(
		"ssoguard.escalations.emitted",
		metric.WithDescription("Suspicious-activity events escalated from rate-limit rejections"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create escalations.emitted counter: %w", err)
	}

	m.StorageOperationTotal, err = storageMeter.Int64Counter(
		"ssoguard.storage.operation.total",
		metric.WithDescription("Total number of storage operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.total counter: %w", err)
	}

	m.StorageOperationDuration, err = storageMeter.Float64Histogram(
		"ssoguard.storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	m.CorrelationCacheSize, err = storageMeter.Int64ObservableGauge(
		"ssoguard.correlation.cache.size",
		metric.WithDescription("Entries in the correlation fast tier"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create correlation.cache.size gauge: %w", err)
	}

	m.CorrelationLogSize, err = storageMeter.Int64ObservableGauge(
		"ssoguard.correlation.log.size",
		metric.WithDescription("Records in the correlation durable log"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create correlation.log.size gauge: %w", err)
	}

	return m, nil
}

// Helper methods for common metric recording patterns

// RecordAdmissionDecision records one admission decision. dimension is the
// deciding counter dimension on rejection and empty on success.
func (m *Metrics) RecordAdmissionDecision(ctx context.Context, limitType, dimension string, allowed bool) {
	attrs := []attribute.KeyValue{
		attribute.String("type", limitType),
		attribute.Bool("allowed", allowed),
	}
	if dimension != "" {
		attrs = append(attrs, attribute.String("dimension", dimension))
	}

	m.AdmissionDecisions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordEventIngested records one event entering the pipeline
func (m *Metrics) RecordEventIngested(ctx context.Context, severity string, critical bool) {
	m.EventsIngested.Add(ctx, 1, metric.WithAttributes(
		attribute.String("severity", severity),
		attribute.Bool("critical", critical),
	))
}

// RecordSinkDelivery records one record delivery to a sink
func (m *Metrics) RecordSinkDelivery(ctx context.Context, sink string, fallback bool) {
	m.SinkDeliveries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("sink", sink),
		attribute.Bool("fallback", fallback),
	))
}

// RecordBroadcastAttempt records one webhook delivery attempt.
// outcome is delivered, failed, or throttled.
func (m *Metrics) RecordBroadcastAttempt(ctx context.Context, outcome string) {
	m.BroadcastAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}

// RecordEscalation records one suspicious-activity escalation
func (m *Metrics) RecordEscalation(ctx context.Context, limitType string) {
	m.EscalationsEmitted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", limitType),
	))
}

// RecordStorageOperation records a storage operation
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	attrs := []attribute.KeyValue{
		attribute.String("operation", operation),
		attribute.String("result", result),
	}

	m.StorageOperationTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.StorageOperationDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}
