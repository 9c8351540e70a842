package storage

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by storage implementations.
var (
	// ErrNotFound indicates no record exists for the requested key.
	ErrNotFound = errors.New("storage: record not found")
)

// CounterStore tracks request timestamps per rate-limit key inside a
// sliding window. Implementations must make TakeToken a single atomic
// read-modify-write: concurrent callers against the same key must never
// both be admitted past the limit by interleaving a check with an append.
type CounterStore interface {
	// TakeToken prunes entries older than the window, compares the
	// remaining count against limit, and appends the current timestamp
	// only if the pre-append count is below the limit. It returns the
	// in-window count after the operation and whether the token was taken.
	TakeToken(ctx context.Context, key string, limit int, window time.Duration) (count int, allowed bool, err error)

	// PeekCount returns the current in-window count for a key without
	// mutating the window.
	PeekCount(ctx context.Context, key string, window time.Duration) (int, error)
}

// CorrelationStore persists security events for correlation and metrics
// queries. It holds two independent tiers: a short-TTL fast cache keyed by
// correlation ID, and an append-only durable log queryable by correlation
// ID and time. The tiers are separate views, not a cache in front of a
// source of truth; neither is reconciled against the other.
type CorrelationStore interface {
	// CacheEvent stores the serialized event in the fast tier under its
	// correlation ID. Entries expire after the store's cache TTL.
	CacheEvent(ctx context.Context, correlationID string, payload []byte) error

	// CachedEvent returns the most recent fast-tier payload for a
	// correlation ID, or ErrNotFound if the entry is absent or expired.
	CachedEvent(ctx context.Context, correlationID string) ([]byte, error)

	// AppendRecord appends a record to the durable log.
	AppendRecord(ctx context.Context, rec *CorrelationRecord) error

	// EventsByCorrelationID returns all durable records sharing the given
	// correlation ID, ordered ascending by creation time.
	EventsByCorrelationID(ctx context.Context, correlationID string) ([]*CorrelationRecord, error)

	// MetricsSince aggregates the durable log over records created at or
	// after the given time.
	MetricsSince(ctx context.Context, since time.Time) (*MetricsSummary, error)
}

// CorrelationRecord is the durable copy of a security event plus its
// ingestion timestamp. Records are immutable once appended.
type CorrelationRecord struct {
	EventID       string
	Severity      string
	ActorUserID   string
	SourceIP      string
	Action        string
	Message       string
	DomainID      string
	Metadata      map[string]any
	CorrelationID string
	ServerID      string
	CreatedAt     time.Time
	IngestedAt    time.Time
}

// EventCount pairs an event ID with its occurrence count.
type EventCount struct {
	EventID string
	Count   int
}

// MetricsSummary is an aggregation over a time slice of the durable log.
type MetricsSummary struct {
	TotalEvents    int
	CriticalEvents int
	UniqueUsers    int
	TopEventIDs    []EventCount // descending by count, at most ten entries
}

// RetentionFor returns how long a durable record of the given severity is
// kept before the janitor may drop it. Critical and error records are kept
// for a year for forensics; lower severities age out sooner.
func RetentionFor(severity string) time.Duration {
	switch severity {
	case "critical", "error":
		return 365 * 24 * time.Hour
	case "warning":
		return 90 * 24 * time.Hour
	default:
		return 30 * 24 * time.Hour
	}
}
