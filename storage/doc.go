// Package storage defines interfaces for the two shared stores of the
// admission and event pipeline:
//   - CounterStore: sliding-window request counters addressed by rate-limit key
//   - CorrelationStore: a short-TTL fast cache plus an append-only durable
//     log of security events, queryable by correlation ID and time
//
// Implementations are provided in subpackages:
//   - storage/memory: in-process storage for development, testing, and
//     single-instance deployments
//   - storage/valkey: Valkey/Redis-compatible distributed storage for
//     multi-instance deployments
package storage
