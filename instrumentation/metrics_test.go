package instrumentation

import (
	"context"
	"testing"
)

// The helpers run against no-op providers here; not panicking with nil
// attributes or unusual values is the contract under test.
func TestMetricsHelpers(t *testing.T) {
	inst, err := New(Config{Enabled: false})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	m := inst.Metrics()
	ctx := context.Background()

	m.RecordAdmissionDecision(ctx, "login", "ip", false)
	m.RecordAdmissionDecision(ctx, "api", "", true)
	m.RecordEventIngested(ctx, "critical", true)
	m.RecordEventIngested(ctx, "", false)
	m.RecordSinkDelivery(ctx, "splunk", false)
	m.RecordSinkDelivery(ctx, "local", true)
	m.RecordBroadcastAttempt(ctx, "delivered")
	m.RecordBroadcastAttempt(ctx, "throttled")
	m.RecordEscalation(ctx, "login")
	m.RecordStorageOperation(ctx, "take_token", "success", 0.4)
	m.RecordStorageOperation(ctx, "append_record", "error", 12.5)
}

func TestNewMetrics_AllInstrumentsCreated(t *testing.T) {
	inst, err := New(Config{Enabled: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	m := inst.Metrics()

	if m.AdmissionDecisions == nil {
		t.Error("AdmissionDecisions not created")
	}
	if m.EventsIngested == nil {
		t.Error("EventsIngested not created")
	}
	if m.SinkDeliveries == nil {
		t.Error("SinkDeliveries not created")
	}
	if m.BroadcastAttempts == nil {
		t.Error("BroadcastAttempts not created")
	}
	if m.EscalationsEmitted == nil {
		t.Error("EscalationsEmitted not created")
	}
	if m.StorageOperationTotal == nil || m.StorageOperationDuration == nil {
		t.Error("storage instruments not created")
	}
	if m.CorrelationCacheSize == nil || m.CorrelationLogSize == nil {
		t.Error("correlation gauges not created")
	}
}
