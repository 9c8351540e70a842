// Package instrumentation provides OpenTelemetry metrics and tracing for
// the admission and security-event pipeline: admission decisions, sink
// deliveries and fallbacks, webhook broadcast outcomes, storage operations,
// and correlation store sizes. When disabled it runs on no-op providers
// with zero overhead.
package instrumentation
