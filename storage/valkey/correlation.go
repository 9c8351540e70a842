package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/ssoguard/ssoguard/storage"
)

// ============================================================
// CorrelationStore Implementation
// ============================================================

// recordJSON is the wire form of a durable correlation record.
type recordJSON struct {
	EventID       string         `json:"event_id"`
	Severity      string         `json:"severity"`
	ActorUserID   string         `json:"actor_user_id,omitempty"`
	SourceIP      string         `json:"source_ip,omitempty"`
	Action        string         `json:"action,omitempty"`
	Message       string         `json:"message,omitempty"`
	DomainID      string         `json:"domain_id,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CorrelationID string         `json:"correlation_id"`
	ServerID      string         `json:"server_id,omitempty"`
	CreatedAt     int64          `json:"created_at_ms"`
	IngestedAt    int64          `json:"ingested_at_ms"`
}

func toRecordJSON(rec *storage.CorrelationRecord) *recordJSON {
	return &recordJSON{
		EventID:       rec.EventID,
		Severity:      rec.Severity,
		ActorUserID:   rec.ActorUserID,
		SourceIP:      rec.SourceIP,
		Action:        rec.Action,
		Message:       rec.Message,
		DomainID:      rec.DomainID,
		Metadata:      rec.Metadata,
		CorrelationID: rec.CorrelationID,
		ServerID:      rec.ServerID,
		CreatedAt:     rec.CreatedAt.UnixMilli(),
		IngestedAt:    rec.IngestedAt.UnixMilli(),
	}
}

func fromRecordJSON(j *recordJSON) *storage.CorrelationRecord {
	return &storage.CorrelationRecord{
		EventID:       j.EventID,
		Severity:      j.Severity,
		ActorUserID:   j.ActorUserID,
		SourceIP:      j.SourceIP,
		Action:        j.Action,
		Message:       j.Message,
		DomainID:      j.DomainID,
		Metadata:      j.Metadata,
		CorrelationID: j.CorrelationID,
		ServerID:      j.ServerID,
		CreatedAt:     time.UnixMilli(j.CreatedAt),
		IngestedAt:    time.UnixMilli(j.IngestedAt),
	}
}

// CacheEvent implements storage.CorrelationStore. The fast tier is a plain
// SET with the store's cache TTL; a later event sharing the correlation ID
// overwrites the entry.
func (s *Store) CacheEvent(ctx context.Context, correlationID string, payload []byte) error {
	key := s.cacheKey(correlationID)

	if err := s.client.Do(ctx,
		s.client.B().Set().Key(key).Value(string(payload)).Ex(s.cacheTTL).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to cache event: %w", err)
	}

	return nil
}

// CachedEvent implements storage.CorrelationStore.
func (s *Store) CachedEvent(ctx context.Context, correlationID string) ([]byte, error) {
	key := s.cacheKey(correlationID)

	data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get cached event: %w", err)
	}

	return []byte(data), nil
}

// AppendRecord implements storage.CorrelationStore. The record lands in
// two places: a per-correlation list for CorrelateEvents lookups, and a
// global time index (sorted set scored by creation time) for metrics.
// The per-correlation list carries a key TTL of the record's severity
// retention, refreshed on each append; this approximates per-record
// retention at key granularity.
func (s *Store) AppendRecord(ctx context.Context, rec *storage.CorrelationRecord) error {
	cp := *rec
	if cp.IngestedAt.IsZero() {
		cp.IngestedAt = time.Now()
	}

	data, err := json.Marshal(toRecordJSON(&cp))
	if err != nil {
		return fmt.Errorf("failed to marshal correlation record: %w", err)
	}

	logKey := s.correlationLogKey(cp.CorrelationID)
	retention := storage.RetentionFor(cp.Severity)

	resps := s.client.DoMulti(ctx,
		s.client.B().Rpush().Key(logKey).Element(string(data)).Build(),
		s.client.B().Expire().Key(logKey).Seconds(int64(retention.Seconds())).Build(),
		s.client.B().Zadd().Key(s.timeIndexKey()).ScoreMember().
			ScoreMember(float64(cp.CreatedAt.UnixMilli()), string(data)).Build(),
	)
	for _, resp := range resps {
		if err := resp.Error(); err != nil {
			return fmt.Errorf("failed to append correlation record: %w", err)
		}
	}

	s.logger.Debug("Appended correlation record",
		"event_id", cp.EventID,
		"correlation_id", cp.CorrelationID,
		"severity", cp.Severity)

	return nil
}

// EventsByCorrelationID implements storage.CorrelationStore.
func (s *Store) EventsByCorrelationID(ctx context.Context, correlationID string) ([]*storage.CorrelationRecord, error) {
	logKey := s.correlationLogKey(correlationID)

	entries, err := s.client.Do(ctx,
		s.client.B().Lrange().Key(logKey).Start(0).Stop(-1).Build(),
	).AsStrSlice()
	if err != nil {
		if isNilError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read correlation log: %w", err)
	}

	records := make([]*storage.CorrelationRecord, 0, len(entries))
	for _, entry := range entries {
		var j recordJSON
		if err := json.Unmarshal([]byte(entry), &j); err != nil {
			s.logger.Warn("Skipping unreadable correlation record",
				"correlation_id", correlationID,
				"error", err)
			continue
		}
		records = append(records, fromRecordJSON(&j))
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})

	return records, nil
}

// MetricsSince implements storage.CorrelationStore by range-scanning the
// time index from the given instant.
func (s *Store) MetricsSince(ctx context.Context, since time.Time) (*storage.MetricsSummary, error) {
	min := strconv.FormatInt(since.UnixMilli(), 10)

	entries, err := s.client.Do(ctx,
		s.client.B().Zrangebyscore().Key(s.timeIndexKey()).Min(min).Max("+inf").Build(),
	).AsStrSlice()
	if err != nil {
		if isNilError(err) {
			return &storage.MetricsSummary{}, nil
		}
		return nil, fmt.Errorf("failed to scan time index: %w", err)
	}

	summary := &storage.MetricsSummary{}
	users := make(map[string]struct{})
	eventCounts := make(map[string]int)

	for _, entry := range entries {
		var j recordJSON
		if err := json.Unmarshal([]byte(entry), &j); err != nil {
			continue
		}
		summary.TotalEvents++
		if j.Severity == "critical" {
			summary.CriticalEvents++
		}
		if j.ActorUserID != "" {
			users[j.ActorUserID] = struct{}{}
		}
		if j.EventID != "" {
			eventCounts[j.EventID]++
		}
	}

	summary.UniqueUsers = len(users)
	summary.TopEventIDs = topCounts(eventCounts, 10)

	return summary, nil
}

// topCounts returns the n highest counts descending, ties broken by event ID.
func topCounts(counts map[string]int, n int) []storage.EventCount {
	out := make([]storage.EventCount, 0, len(counts))
	for id, c := range counts {
		out = append(out, storage.EventCount{EventID: id, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].EventID < out[j].EventID
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// SweepTimeIndex trims time-index entries older than the longest retention
// class. Severity classes below the maximum age out of their
// per-correlation keys via TTL; the shared index only needs the global
// floor. Intended to be run periodically by the embedding service.
func (s *Store) SweepTimeIndex(ctx context.Context) error {
	cutoff := strconv.FormatInt(time.Now().Add(-maxDurableRetention).UnixMilli(), 10)

	removed, err := s.client.Do(ctx,
		s.client.B().Zremrangebyscore().Key(s.timeIndexKey()).Min("-inf").Max(cutoff).Build(),
	).AsInt64()
	if err != nil {
		return fmt.Errorf("failed to sweep time index: %w", err)
	}

	if removed > 0 {
		s.logger.Debug("Time index sweep completed", "removed", removed)
	}

	return nil
}
