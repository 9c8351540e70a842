package memory

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/ssoguard/ssoguard/storage"
)

const (
	// DefaultCacheTTL is the lifetime of fast-tier correlation entries
	DefaultCacheTTL = time.Hour

	// DefaultCacheSize bounds the fast tier; least recently used entries
	// are evicted once the cap is reached, independent of TTL expiry
	DefaultCacheSize = 10000

	// defaultRetentionSweepInterval is how often the janitor enforces
	// severity-based retention on the durable log
	defaultRetentionSweepInterval = time.Minute

	// topEventIDs is the number of leading event IDs in a metrics summary
	topEventIDs = 10
)

// CorrelationStore is an in-process implementation of
// storage.CorrelationStore. The fast tier is an expirable LRU keyed by
// correlation ID; the durable tier is an append-only slice with a
// per-correlation index and a retention janitor.
type CorrelationStore struct {
	cache *expirable.LRU[string, []byte]

	mu            sync.RWMutex
	records       []*storage.CorrelationRecord // ascending by ingestion
	byCorrelation map[string][]*storage.CorrelationRecord

	logger        *slog.Logger
	sweepInterval time.Duration
	stopSweep     chan struct{}
	stopOnce      sync.Once

	// now is the clock source, replaceable in tests
	now func() time.Time
}

// CorrelationConfig holds optional tuning for the in-memory correlation store.
type CorrelationConfig struct {
	// CacheTTL is the fast-tier entry lifetime. Default: 1 hour.
	CacheTTL time.Duration

	// CacheSize is the fast-tier capacity. Default: 10,000 entries.
	CacheSize int

	// SweepInterval is how often durable retention is enforced.
	// Default: 1 minute.
	SweepInterval time.Duration

	// Logger is the optional structured logger (default: slog.Default()).
	Logger *slog.Logger
}

// NewCorrelationStore creates an in-memory correlation store with default
// cache TTL, cache size, and sweep interval.
func NewCorrelationStore(logger *slog.Logger) *CorrelationStore {
	return NewCorrelationStoreWithConfig(CorrelationConfig{Logger: logger})
}

// NewCorrelationStoreWithConfig creates an in-memory correlation store with
// custom tuning. Zero values fall back to defaults.
func NewCorrelationStoreWithConfig(cfg CorrelationConfig) *CorrelationStore {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultRetentionSweepInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &CorrelationStore{
		cache:         expirable.NewLRU[string, []byte](cfg.CacheSize, nil, cfg.CacheTTL),
		byCorrelation: make(map[string][]*storage.CorrelationRecord),
		logger:        cfg.Logger,
		sweepInterval: cfg.SweepInterval,
		stopSweep:     make(chan struct{}),
		now:           time.Now,
	}

	go s.sweepLoop()

	return s
}

var _ storage.CorrelationStore = (*CorrelationStore)(nil)

// CacheEvent implements storage.CorrelationStore.
func (s *CorrelationStore) CacheEvent(_ context.Context, correlationID string, payload []byte) error {
	s.cache.Add(correlationID, payload)
	return nil
}

// CachedEvent implements storage.CorrelationStore.
func (s *CorrelationStore) CachedEvent(_ context.Context, correlationID string) ([]byte, error) {
	payload, ok := s.cache.Get(correlationID)
	if !ok {
		return nil, storage.ErrNotFound
	}
	return payload, nil
}

// AppendRecord implements storage.CorrelationStore. The record is copied,
// so callers may not mutate what the store holds.
func (s *CorrelationStore) AppendRecord(_ context.Context, rec *storage.CorrelationRecord) error {
	cp := *rec
	if cp.IngestedAt.IsZero() {
		cp.IngestedAt = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, &cp)
	if cp.CorrelationID != "" {
		s.byCorrelation[cp.CorrelationID] = append(s.byCorrelation[cp.CorrelationID], &cp)
	}

	return nil
}

// EventsByCorrelationID implements storage.CorrelationStore. Records are
// returned ordered ascending by creation time.
func (s *CorrelationStore) EventsByCorrelationID(_ context.Context, correlationID string) ([]*storage.CorrelationRecord, error) {
	s.mu.RLock()
	indexed := s.byCorrelation[correlationID]
	out := make([]*storage.CorrelationRecord, len(indexed))
	copy(out, indexed)
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	return out, nil
}

// MetricsSince implements storage.CorrelationStore.
func (s *CorrelationStore) MetricsSince(_ context.Context, since time.Time) (*storage.MetricsSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := &storage.MetricsSummary{}
	users := make(map[string]struct{})
	eventCounts := make(map[string]int)

	for _, rec := range s.records {
		if rec.CreatedAt.Before(since) {
			continue
		}
		summary.TotalEvents++
		if rec.Severity == "critical" {
			summary.CriticalEvents++
		}
		if rec.ActorUserID != "" {
			users[rec.ActorUserID] = struct{}{}
		}
		if rec.EventID != "" {
			eventCounts[rec.EventID]++
		}
	}

	summary.UniqueUsers = len(users)
	summary.TopEventIDs = topCounts(eventCounts, topEventIDs)

	return summary, nil
}

// topCounts returns the n highest counts descending, ties broken by event
// ID for deterministic output.
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

// sweepLoop periodically enforces severity-based retention on the durable log.
func (s *CorrelationStore) sweepLoop() {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.SweepExpired()
		case <-s.stopSweep:
			return
		}
	}
}

// SweepExpired drops durable records that have outlived the retention for
// their severity class and rebuilds the correlation index.
func (s *CorrelationStore) SweepExpired() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.records[:0]
	removed := 0
	for _, rec := range s.records {
		if now.Sub(rec.CreatedAt) > storage.RetentionFor(rec.Severity) {
			removed++
			continue
		}
		kept = append(kept, rec)
	}

	if removed == 0 {
		return
	}

	s.records = kept
	s.byCorrelation = make(map[string][]*storage.CorrelationRecord, len(kept))
	for _, rec := range kept {
		if rec.CorrelationID != "" {
			s.byCorrelation[rec.CorrelationID] = append(s.byCorrelation[rec.CorrelationID], rec)
		}
	}

	s.logger.Debug("Correlation retention sweep completed",
		"removed", removed,
		"remaining", len(s.records))
}

// CacheLen returns the fast-tier entry count, for metrics callbacks.
func (s *CorrelationStore) CacheLen() int {
	return s.cache.Len()
}

// LogLen returns the durable record count, for metrics callbacks.
func (s *CorrelationStore) LogLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Stop gracefully stops the retention janitor.
func (s *CorrelationStore) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopSweep)
	})
}
