// Package broadcast delivers signed security-event webhooks to subscriber
// domains. Every delivery is at most one attempt: no retries, no queueing,
// and a failure toward one domain never affects another.
package broadcast

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// WebhookPath is appended to every subscriber's base URL
	WebhookPath = "/sso/security-event"

	// Webhook headers carried on every delivery
	HeaderEvent     = "X-SSO-Event"
	HeaderSignature = "X-SSO-Signature"
	HeaderTimestamp = "X-SSO-Timestamp"

	// DefaultDeliverTimeout bounds each per-domain webhook call
	DefaultDeliverTimeout = 5 * time.Second

	// DefaultDomainBurst is the per-domain burst size when a throttle rate
	// is configured without an explicit burst
	DefaultDomainBurst = 20
)

// Subscriber is a tenant domain registered to receive signed
// security-event webhooks. Only active subscribers are attempted.
type Subscriber struct {
	DomainID      string
	URL           string
	WebhookSecret string
	IsActive      bool
}

// Config holds broadcaster tuning.
type Config struct {
	// Timeout bounds each per-domain delivery. Default: 5 seconds.
	Timeout time.Duration

	// DomainRate and DomainBurst configure the optional per-domain
	// outbound throttle. DomainRate 0 or negative leaves throttling off,
	// so every active subscriber gets its attempt on every call.
	DomainRate  float64
	DomainBurst int

	// HTTPClient is the client used for deliveries (default: http.DefaultClient).
	HTTPClient *http.Client

	// Logger is the optional structured logger (default: slog.Default()).
	Logger *slog.Logger
}

// Broadcaster fans out signed webhooks to subscriber domains in parallel.
type Broadcaster struct {
	client  *http.Client
	timeout time.Duration
	logger  *slog.Logger

	domainRate  rate.Limit
	domainBurst int
	mu          sync.Mutex
	limiters    map[string]*rate.Limiter

	// onAttempt, when set, observes every delivery outcome for metrics:
	// "delivered", "failed", or "throttled"
	onAttempt func(domainID, outcome string)
}

// New creates a broadcaster. Zero-value config fields fall back to defaults.
func New(cfg Config) *Broadcaster {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultDeliverTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	domainBurst := cfg.DomainBurst
	if domainBurst <= 0 {
		domainBurst = DefaultDomainBurst
	}

	return &Broadcaster{
		client:      cfg.HTTPClient,
		timeout:     cfg.Timeout,
		logger:      cfg.Logger,
		domainRate:  rate.Limit(cfg.DomainRate),
		domainBurst: domainBurst,
		limiters:    make(map[string]*rate.Limiter),
	}
}

// SetAttemptObserver registers a callback invoked once per subscriber
// attempt with the delivery outcome.
func (b *Broadcaster) SetAttemptObserver(fn func(domainID, outcome string)) {
	b.onAttempt = fn
}

// Broadcast signs and delivers the raw event payload to every active
// subscriber, each in its own goroutine with an independent timeout, so
// one slow domain cannot delay the others. Every active subscriber gets
// exactly one attempt, except when an outbound throttle is configured and
// a flooded domain has exhausted its burst, in which case that domain is
// skipped for this call. It returns once every attempt has concluded; it
// never returns an error.
func (b *Broadcaster) Broadcast(ctx context.Context, subscribers []Subscriber, eventID string, payload []byte) {
	var wg sync.WaitGroup

	for _, sub := range subscribers {
		if !sub.IsActive {
			continue
		}

		wg.Add(1)
		go func(sub Subscriber) {
			defer wg.Done()
			b.deliver(ctx, sub, eventID, payload)
		}(sub)
	}

	wg.Wait()
}

// deliver performs the single attempt toward one domain. Failures are
// logged and contained here; nothing propagates to the broadcast caller.
func (b *Broadcaster) deliver(ctx context.Context, sub Subscriber, eventID string, payload []byte) {
	if b.domainRate > 0 && !b.limiterFor(sub.DomainID).Allow() {
		b.logger.Warn("Webhook delivery throttled",
			"domain_id", sub.DomainID,
			"event_id", eventID)
		b.observe(sub.DomainID, "throttled")
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	if err := b.post(callCtx, sub, eventID, payload); err != nil {
		b.logger.Warn("Webhook delivery failed",
			"domain_id", sub.DomainID,
			"event_id", eventID,
			"error", err)
		b.observe(sub.DomainID, "failed")
		return
	}

	b.logger.Debug("Webhook delivered",
		"domain_id", sub.DomainID,
		"event_id", eventID)
	b.observe(sub.DomainID, "delivered")
}

// post sends the signed webhook request.
func (b *Broadcaster) post(ctx context.Context, sub Subscriber, eventID string, payload []byte) error {
	url := strings.TrimRight(sub.URL, "/") + WebhookPath

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, eventID)
	req.Header.Set(HeaderSignature, Sign(payload, sub.WebhookSecret))
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(time.Now().Unix(), 10))

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}

// limiterFor returns the outbound throttle for a domain, creating it on
// first use.
func (b *Broadcaster) limiterFor(domainID string) *rate.Limiter {
	b.mu.Lock()
	defer b.mu.Unlock()

	l, ok := b.limiters[domainID]
	if !ok {
		l = rate.NewLimiter(b.domainRate, b.domainBurst)
		b.limiters[domainID] = l
	}
	return l
}

func (b *Broadcaster) observe(domainID, outcome string) {
	if b.onAttempt != nil {
		b.onAttempt(domainID, outcome)
	}
}
