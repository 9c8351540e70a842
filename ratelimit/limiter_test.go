package ratelimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

// fakeCounterStore counts tokens without window expiry, which is enough
// for decision-logic tests; window behavior is covered by the store tests.
type fakeCounterStore struct {
	counts map[string]int
	err    error
}

func newFakeCounterStore() *fakeCounterStore {
	return &fakeCounterStore{counts: make(map[string]int)}
}

func (s *fakeCounterStore) TakeToken(_ context.Context, key string, limit int, _ time.Duration) (int, bool, error) {
	if s.err != nil {
		return 0, false, s.err
	}
	if s.counts[key] >= limit {
		return s.counts[key], false, nil
	}
	s.counts[key]++
	return s.counts[key], true, nil
}

func (s *fakeCounterStore) PeekCount(_ context.Context, key string, _ time.Duration) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	return s.counts[key], nil
}

type staticBlocklist map[string]bool

func (b staticBlocklist) IsBlocked(_ context.Context, ip string) bool { return b[ip] }

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *fakeCounterStore) {
	t.Helper()

	store := newFakeCounterStore()
	if cfg.Store == nil {
		cfg.Store = store
	}
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

	l, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return l, store
}

func TestLimiter_PerIPLimitEnforced(t *testing.T) {
	l, _ := newTestLimiter(t, Config{})
	ctx := context.Background()
	req := Request{IP: "203.0.113.7", Method: "POST", Path: "/sessions"}

	for i := 0; i < 10; i++ {
		d := l.CheckAndConsume(ctx, req, "login")
		if !d.Allowed {
			t.Fatalf("request %d denied, want allowed", i+1)
		}
	}

	d := l.CheckAndConsume(ctx, req, "login")
	if d.Allowed {
		t.Fatal("11th login from same IP allowed, want denied")
	}
	if d.Reason != ReasonIPLimit {
		t.Errorf("Reason = %q, want %q", d.Reason, ReasonIPLimit)
	}
	if d.Limit != 10 {
		t.Errorf("Limit = %d, want 10", d.Limit)
	}
}

func TestLimiter_PerUserLimitEnforced(t *testing.T) {
	l, _ := newTestLimiter(t, Config{})
	ctx := context.Background()

	// Same user rotating through IPs: the per-user counter still binds.
	for i := 0; i < 5; i++ {
		req := Request{IP: "198.51.100." + string(rune('1'+i)), Method: "POST", Path: "/sessions", UserID: "user-1"}
		if d := l.CheckAndConsume(ctx, req, "login"); !d.Allowed {
			t.Fatalf("request %d denied, want allowed", i+1)
		}
	}

	d := l.CheckAndConsume(ctx, Request{IP: "198.51.100.9", Method: "POST", Path: "/sessions", UserID: "user-1"}, "login")
	if d.Allowed {
		t.Fatal("6th login for same user allowed, want denied")
	}
	if d.Reason != ReasonUserLimit {
		t.Errorf("Reason = %q, want %q", d.Reason, ReasonUserLimit)
	}
}

func TestLimiter_UnknownTypeUsesDefaultTable(t *testing.T) {
	l, _ := newTestLimiter(t, Config{})
	ctx := context.Background()
	req := Request{IP: "203.0.113.7", Method: "GET", Path: "/things"}

	d := l.CheckAndConsume(ctx, req, "no-such-type")
	if !d.Allowed {
		t.Fatal("request denied, want allowed")
	}
	if d.Limit != DefaultTable()[DefaultType].PerIP {
		t.Errorf("Limit = %d, want api per-IP limit %d", d.Limit, DefaultTable()[DefaultType].PerIP)
	}
}

func TestLimiter_SensitiveEndpointHalvedLimit(t *testing.T) {
	l, _ := newTestLimiter(t, Config{})
	ctx := context.Background()
	req := Request{IP: "203.0.113.7", Method: "POST", Path: "/oauth/token"}

	// oauth per-IP is 30 but the sensitive per-(endpoint, IP) counter binds
	// at half of that.
	for i := 0; i < 15; i++ {
		if d := l.CheckAndConsume(ctx, req, "oauth"); !d.Allowed {
			t.Fatalf("request %d denied, want allowed", i+1)
		}
	}

	d := l.CheckAndConsume(ctx, req, "oauth")
	if d.Allowed {
		t.Fatal("16th token request allowed, want denied by endpoint counter")
	}
	if d.Reason != ReasonEndpointLimit {
		t.Errorf("Reason = %q, want %q", d.Reason, ReasonEndpointLimit)
	}
	if d.Limit != 15 {
		t.Errorf("Limit = %d, want 15", d.Limit)
	}
}

func TestLimiter_RejectionConsumesNothing(t *testing.T) {
	l, store := newTestLimiter(t, Config{})
	ctx := context.Background()
	req := Request{IP: "203.0.113.7", Method: "POST", Path: "/sessions", UserID: "user-1"}

	// Exhaust the per-user counter (5) while per-IP (10) still has room.
	for i := 0; i < 5; i++ {
		l.CheckAndConsume(ctx, req, "login")
	}
	ipKey := "login:ip:203.0.113.7"
	before := store.counts[ipKey]

	for i := 0; i < 3; i++ {
		if d := l.CheckAndConsume(ctx, req, "login"); d.Allowed {
			t.Fatal("request allowed, want denied")
		}
	}

	if got := store.counts[ipKey]; got != before {
		t.Errorf("per-IP count after denials = %d, want unchanged %d", got, before)
	}
}

func TestLimiter_BlockedIPRejected(t *testing.T) {
	l, store := newTestLimiter(t, Config{
		Blocklist: staticBlocklist{"203.0.113.7": true},
	})
	ctx := context.Background()

	d := l.CheckAndConsume(ctx, Request{IP: "203.0.113.7", Method: "GET", Path: "/things"}, "api")
	if d.Allowed {
		t.Fatal("blocked IP allowed, want denied")
	}
	if d.Reason != ReasonIPBlocked {
		t.Errorf("Reason = %q, want %q", d.Reason, ReasonIPBlocked)
	}
	if len(store.counts) != 0 {
		t.Errorf("counters touched for blocked IP: %v", store.counts)
	}

	if d := l.CheckAndConsume(ctx, Request{IP: "203.0.113.8", Method: "GET", Path: "/things"}, "api"); !d.Allowed {
		t.Error("unblocked IP denied, want allowed")
	}
}

func TestLimiter_WarningNearLimit(t *testing.T) {
	l, _ := newTestLimiter(t, Config{})
	ctx := context.Background()
	req := Request{IP: "203.0.113.7", Method: "POST", Path: "/sessions"}

	// login per-IP is 10; the warning flag appears once remaining <= 2.
	for i := 0; i < 7; i++ {
		if d := l.CheckAndConsume(ctx, req, "login"); d.Warning {
			t.Fatalf("request %d carries warning with remaining %d", i+1, d.Remaining)
		}
	}

	d := l.CheckAndConsume(ctx, req, "login")
	if !d.Warning {
		t.Errorf("request 8 (remaining %d) missing warning flag", d.Remaining)
	}
}

func TestLimiter_EscalatesTightIPLimitRejections(t *testing.T) {
	var escalated []string
	l, _ := newTestLimiter(t, Config{
		Escalate: func(_ context.Context, _ Request, limitType string, _ int) {
			escalated = append(escalated, limitType)
		},
	})
	ctx := context.Background()

	// login per-IP limit 10 qualifies for escalation.
	loginReq := Request{IP: "203.0.113.7", Method: "POST", Path: "/sessions"}
	for i := 0; i < 11; i++ {
		l.CheckAndConsume(ctx, loginReq, "login")
	}
	if len(escalated) != 1 || escalated[0] != "login" {
		t.Fatalf("escalations = %v, want [login]", escalated)
	}

	// api per-IP limit 60 is above the escalation ceiling.
	apiReq := Request{IP: "203.0.113.8", Method: "GET", Path: "/things"}
	for i := 0; i < 61; i++ {
		l.CheckAndConsume(ctx, apiReq, "api")
	}
	if len(escalated) != 1 {
		t.Errorf("escalations after api rejection = %v, want [login] only", escalated)
	}
}

func TestLimiter_FailsOpenOnStoreErrors(t *testing.T) {
	store := newFakeCounterStore()
	store.err = errors.New("store unavailable")
	l, _ := newTestLimiter(t, Config{Store: store})

	d := l.CheckAndConsume(context.Background(), Request{IP: "203.0.113.7", Method: "POST", Path: "/sessions"}, "login")
	if !d.Allowed {
		t.Error("request denied on store failure, want fail-open allow")
	}
}

func TestNew_RequiresStore(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New() without store should fail")
	}
}

func TestNew_RequiresFallbackType(t *testing.T) {
	_, err := New(Config{
		Store: newFakeCounterStore(),
		Table: Table{"login": {PerIP: 10, PerUser: 5}},
	})
	if err == nil {
		t.Error("New() with a table missing the api fallback should fail")
	}
}
