package broadcast

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type webhookCapture struct {
	mu        sync.Mutex
	count     int
	body      []byte
	event     string
	signature string
	timestamp string
}

func newWebhookServer(t *testing.T, status int) (*httptest.Server, *webhookCapture) {
	t.Helper()

	capture := &webhookCapture{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		capture.mu.Lock()
		capture.count++
		capture.body = body
		capture.event = r.Header.Get(HeaderEvent)
		capture.signature = r.Header.Get(HeaderSignature)
		capture.timestamp = r.Header.Get(HeaderTimestamp)
		capture.mu.Unlock()

		if r.URL.Path != WebhookPath {
			t.Errorf("webhook path = %q, want %q", r.URL.Path, WebhookPath)
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)

	return srv, capture
}

func TestBroadcaster_DeliversSignedPayload(t *testing.T) {
	srv, capture := newWebhookServer(t, http.StatusOK)

	b := New(Config{HTTPClient: srv.Client()})
	payload := []byte(`{"event_id":"AUTH_SUSPICIOUS_LOGIN","severity":"warning"}`)

	b.Broadcast(context.Background(), []Subscriber{
		{DomainID: "dom-1", URL: srv.URL, WebhookSecret: "secret-1", IsActive: true},
	}, "AUTH_SUSPICIOUS_LOGIN", payload)

	capture.mu.Lock()
	defer capture.mu.Unlock()

	if capture.count != 1 {
		t.Fatalf("deliveries = %d, want 1", capture.count)
	}
	if string(capture.body) != string(payload) {
		t.Errorf("body = %s, want raw payload", capture.body)
	}
	if capture.event != "AUTH_SUSPICIOUS_LOGIN" {
		t.Errorf("%s = %q", HeaderEvent, capture.event)
	}
	if !VerifySignature(capture.body, "secret-1", capture.signature) {
		t.Error("signature does not verify over the received body")
	}
	if capture.timestamp == "" {
		t.Errorf("%s header missing", HeaderTimestamp)
	}
}

func TestBroadcaster_SkipsInactiveSubscribers(t *testing.T) {
	srv, capture := newWebhookServer(t, http.StatusOK)

	b := New(Config{HTTPClient: srv.Client()})
	b.Broadcast(context.Background(), []Subscriber{
		{DomainID: "dom-1", URL: srv.URL, WebhookSecret: "s", IsActive: false},
		{DomainID: "dom-2", URL: srv.URL, WebhookSecret: "s", IsActive: true},
	}, "E1", []byte(`{}`))

	capture.mu.Lock()
	defer capture.mu.Unlock()
	if capture.count != 1 {
		t.Errorf("deliveries = %d, want 1 (inactive subscriber skipped)", capture.count)
	}
}

func TestBroadcaster_FailureIsolatedPerDomain(t *testing.T) {
	okSrv, okCap := newWebhookServer(t, http.StatusOK)

	// A domain that is unreachable must not affect the healthy one.
	deadSrv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	deadSrv.Close()

	var outcomes sync.Map
	b := New(Config{Timeout: time.Second})
	b.SetAttemptObserver(func(domainID, outcome string) {
		outcomes.Store(domainID, outcome)
	})

	b.Broadcast(context.Background(), []Subscriber{
		{DomainID: "dead", URL: deadSrv.URL, WebhookSecret: "s", IsActive: true},
		{DomainID: "ok", URL: okSrv.URL, WebhookSecret: "s", IsActive: true},
	}, "E1", []byte(`{}`))

	okCap.mu.Lock()
	defer okCap.mu.Unlock()
	if okCap.count != 1 {
		t.Errorf("healthy domain deliveries = %d, want 1", okCap.count)
	}

	if v, _ := outcomes.Load("dead"); v != "failed" {
		t.Errorf("dead domain outcome = %v, want failed", v)
	}
	if v, _ := outcomes.Load("ok"); v != "delivered" {
		t.Errorf("ok domain outcome = %v, want delivered", v)
	}
}

func TestBroadcaster_AtMostOneAttemptPerDomain(t *testing.T) {
	var attempts atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	b := New(Config{HTTPClient: srv.Client()})
	b.Broadcast(context.Background(), []Subscriber{
		{DomainID: "dom-1", URL: srv.URL, WebhookSecret: "s", IsActive: true},
	}, "E1", []byte(`{}`))

	if got := attempts.Load(); got != 1 {
		t.Errorf("attempts = %d, want 1 (no retry on failure)", got)
	}
}

func TestBroadcaster_NoThrottleByDefault(t *testing.T) {
	srv, capture := newWebhookServer(t, http.StatusOK)

	b := New(Config{HTTPClient: srv.Client()})
	subs := []Subscriber{{DomainID: "dom-1", URL: srv.URL, WebhookSecret: "s", IsActive: true}}

	// Well past any burst size; every call must still reach the domain.
	for i := 0; i < 30; i++ {
		b.Broadcast(context.Background(), subs, "E1", []byte(`{}`))
	}

	capture.mu.Lock()
	defer capture.mu.Unlock()
	if capture.count != 30 {
		t.Errorf("deliveries = %d, want 30 (throttle is opt-in)", capture.count)
	}
}

func TestBroadcaster_ThrottlesFloodedDomain(t *testing.T) {
	srv, capture := newWebhookServer(t, http.StatusOK)

	b := New(Config{
		HTTPClient:  srv.Client(),
		DomainRate:  1,
		DomainBurst: 2,
	})

	var throttled atomic.Int64
	b.SetAttemptObserver(func(_, outcome string) {
		if outcome == "throttled" {
			throttled.Add(1)
		}
	})

	subs := []Subscriber{{DomainID: "dom-1", URL: srv.URL, WebhookSecret: "s", IsActive: true}}
	for i := 0; i < 5; i++ {
		b.Broadcast(context.Background(), subs, "E1", []byte(`{}`))
	}

	capture.mu.Lock()
	delivered := capture.count
	capture.mu.Unlock()

	if delivered != 2 {
		t.Errorf("delivered = %d, want 2 (burst size)", delivered)
	}
	if throttled.Load() != 3 {
		t.Errorf("throttled = %d, want 3", throttled.Load())
	}
}
