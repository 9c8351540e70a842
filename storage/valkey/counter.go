package valkey

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// ============================================================
// CounterStore Implementation
// ============================================================

// TakeToken implements storage.CounterStore against a shared Valkey
// instance. Each window is a sorted set scored by the request timestamp in
// milliseconds; members carry a UUID suffix so simultaneous requests never
// collapse into one entry.
//
// The prune+count and the conditional append are two pipelined round
// trips, not one server-side atomic step, so the per-window limit is
// best-effort under concurrency across instances: a burst racing the gap
// can overshoot by the number of in-flight requests. Single-instance
// deployments that need the hard guarantee use storage/memory instead.
func (s *Store) TakeToken(ctx context.Context, key string, limit int, window time.Duration) (int, bool, error) {
	now := time.Now()
	k := s.counterKey(key)
	cutoff := strconv.FormatInt(now.Add(-window).UnixMilli(), 10)

	pruned := s.client.DoMulti(ctx,
		s.client.B().Zremrangebyscore().Key(k).Min("-inf").Max(cutoff).Build(),
		s.client.B().Zcard().Key(k).Build(),
	)
	for _, resp := range pruned {
		if err := resp.Error(); err != nil {
			return 0, false, fmt.Errorf("failed to prune counter window: %w", err)
		}
	}

	count64, err := pruned[1].AsInt64()
	if err != nil {
		return 0, false, fmt.Errorf("failed to read counter window size: %w", err)
	}
	count := int(count64)

	if count >= limit {
		return count, false, nil
	}

	member := strconv.FormatInt(now.UnixNano(), 10) + ":" + uuid.NewString()
	appended := s.client.DoMulti(ctx,
		s.client.B().Zadd().Key(k).ScoreMember().
			ScoreMember(float64(now.UnixMilli()), member).Build(),
		// An idle window holds nothing countable after twice its size.
		s.client.B().Expire().Key(k).Seconds(int64((2 * window).Seconds())).Build(),
	)
	for _, resp := range appended {
		if err := resp.Error(); err != nil {
			return count, false, fmt.Errorf("failed to append to counter window: %w", err)
		}
	}

	return count + 1, true, nil
}

// PeekCount implements storage.CounterStore.
func (s *Store) PeekCount(ctx context.Context, key string, window time.Duration) (int, error) {
	now := time.Now()
	k := s.counterKey(key)
	cutoff := strconv.FormatInt(now.Add(-window).UnixMilli(), 10)

	resps := s.client.DoMulti(ctx,
		s.client.B().Zremrangebyscore().Key(k).Min("-inf").Max(cutoff).Build(),
		s.client.B().Zcard().Key(k).Build(),
	)
	for _, resp := range resps {
		if err := resp.Error(); err != nil {
			return 0, fmt.Errorf("failed to read counter window: %w", err)
		}
	}

	count, err := resps[1].AsInt64()
	if err != nil {
		return 0, fmt.Errorf("failed to read counter window size: %w", err)
	}

	return int(count), nil
}
