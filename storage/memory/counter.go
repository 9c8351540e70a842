package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	// defaultCleanupInterval is how often the janitor scans for idle windows
	defaultCleanupInterval = 30 * time.Second

	// idleWindowFactor controls when an untouched window is dropped entirely.
	// A window that has not been accessed for idleWindowFactor times its own
	// size holds no countable timestamps and only wastes memory.
	idleWindowFactor = 2
)

// counterWindow holds the ordered request timestamps for one rate-limit key.
type counterWindow struct {
	stamps     []time.Time // ascending
	window     time.Duration
	lastAccess time.Time
}

// CounterStore is an in-process sliding-window counter store. All
// check-and-append sequences run under a single lock, so the "at most N
// admitted per window" property holds as a hard guarantee here.
type CounterStore struct {
	mu      sync.Mutex
	windows map[string]*counterWindow

	logger          *slog.Logger
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once

	// now is the clock source, replaceable in tests
	now func() time.Time
}

// NewCounterStore creates an in-memory counter store with the default
// janitor interval.
func NewCounterStore(logger *slog.Logger) *CounterStore {
	return NewCounterStoreWithInterval(defaultCleanupInterval, logger)
}

// NewCounterStoreWithInterval creates an in-memory counter store with a
// custom janitor interval. If cleanupInterval is 0 or negative, the default
// is used.
func NewCounterStoreWithInterval(cleanupInterval time.Duration, logger *slog.Logger) *CounterStore {
	if cleanupInterval <= 0 {
		cleanupInterval = defaultCleanupInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &CounterStore{
		windows:         make(map[string]*counterWindow),
		logger:          logger,
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		now:             time.Now,
	}

	go s.cleanupLoop()

	return s
}

// TakeToken implements storage.CounterStore. The prune, check, and append
// happen under one lock acquisition, never as separate calls.
func (s *CounterStore) TakeToken(_ context.Context, key string, limit int, window time.Duration) (int, bool, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok {
		w = &counterWindow{window: window}
		s.windows[key] = w
	}
	w.window = window
	w.lastAccess = now
	w.prune(now)

	if len(w.stamps) >= limit {
		return len(w.stamps), false, nil
	}

	w.stamps = append(w.stamps, now)
	return len(w.stamps), true, nil
}

// PeekCount implements storage.CounterStore.
func (s *CounterStore) PeekCount(_ context.Context, key string, window time.Duration) (int, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok {
		return 0, nil
	}
	w.window = window
	w.prune(now)

	return len(w.stamps), nil
}

// prune drops timestamps that have aged past the window. Stamps are
// appended in order, so a single scan from the front suffices.
func (w *counterWindow) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}

// cleanupLoop periodically removes windows that have been idle long enough
// to hold no countable timestamps.
func (s *CounterStore) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Cleanup()
		case <-s.stopCleanup:
			return
		}
	}
}

// Cleanup removes entirely idle windows. A window is idle once it has not
// been touched for idleWindowFactor times its own size.
func (s *CounterStore) Cleanup() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, w := range s.windows {
		if now.Sub(w.lastAccess) > time.Duration(idleWindowFactor)*w.window {
			delete(s.windows, key)
			removed++
		}
	}

	if removed > 0 {
		s.logger.Debug("Counter window cleanup completed",
			"removed", removed,
			"remaining", len(s.windows))
	}
}

// Len returns the number of tracked windows, for metrics callbacks.
func (s *CounterStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

// Stop gracefully stops the janitor goroutine.
func (s *CounterStore) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
	})
}
