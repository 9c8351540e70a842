// Package memory provides in-process implementations of the storage
// interfaces. It is suitable for development, testing, and single-instance
// deployments.
//
// The CounterStore serializes every check-and-append under one lock, so
// sliding-window admission limits hold as a hard guarantee within a single
// process. The CorrelationStore keeps a one-hour expirable LRU fast tier
// and an append-only durable log with severity-based retention enforced by
// a background janitor.
package memory
