// Package valkey provides Valkey/Redis-compatible implementations of the
// storage interfaces for multi-instance deployments.
//
// Counter windows are sorted sets scored by request timestamp; pruning,
// counting, and the conditional append are pipelined, which makes the
// per-window admission limit best-effort across racing instances (see
// Store.TakeToken). The correlation fast tier uses plain keys with a TTL;
// the durable tier is a per-correlation list plus a global time index for
// metrics range scans.
package valkey
