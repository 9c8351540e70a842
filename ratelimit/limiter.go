// Package ratelimit implements sliding-window admission control over
// multi-dimensional limit keys: per client IP, per authenticated user, and
// per sensitive endpoint.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ssoguard/ssoguard/storage"
)

const (
	// Window is the fixed sliding-window size for every counter
	Window = time.Minute

	// DefaultType is the limit table used when a request type is unknown
	DefaultType = "api"

	// warningFraction is the remaining-capacity fraction at or below which
	// a decision carries the warning flag
	warningFraction = 0.2

	// escalationLimitCeiling: IP-dimension rejections at or below this
	// limit indicate probing of a tightly limited operation and are
	// escalated as suspicious activity
	escalationLimitCeiling = 10
)

// Rejection reasons carried on denied decisions.
const (
	ReasonIPBlocked     = "ip_blocked"
	ReasonIPLimit       = "ip_rate_limited"
	ReasonUserLimit     = "user_rate_limited"
	ReasonEndpointLimit = "endpoint_rate_limited"
)

// Dimensions of a rate-limit key.
const (
	DimensionIP       = "ip"
	DimensionUser     = "user"
	DimensionEndpoint = "endpoint"
)

// Limits holds the per-dimension ceilings for one request type.
type Limits struct {
	PerIP   int `yaml:"per_ip"`
	PerUser int `yaml:"per_user"`
}

// Table maps request types to their limits. The table is loaded once at
// startup and treated as immutable afterwards.
type Table map[string]Limits

// DefaultTable returns the built-in limit table. Sensitive authentication
// operations are tight; general API traffic is loose.
func DefaultTable() Table {
	return Table{
		"login":          {PerIP: 10, PerUser: 5},
		"register":       {PerIP: 5, PerUser: 3},
		"api":            {PerIP: 60, PerUser: 120},
		"oauth":          {PerIP: 30, PerUser: 60},
		"2fa":            {PerIP: 10, PerUser: 5},
		"magic-link":     {PerIP: 5, PerUser: 3},
		"password-reset": {PerIP: 5, PerUser: 3},
		"social":         {PerIP: 20, PerUser: 30},
		"userinfo":       {PerIP: 60, PerUser: 120},
	}
}

// limitsFor resolves a request type, falling back to the default table.
func (t Table) limitsFor(limitType string) Limits {
	if l, ok := t[limitType]; ok {
		return l
	}
	return t[DefaultType]
}

// Request is the descriptor handed down by the HTTP layer.
type Request struct {
	IP        string
	Path      string
	Method    string
	UserAgent string

	// UserID is the authenticated user, if any, from the session layer.
	UserID string
}

// Decision is the outcome of one admission check. Rejection is a normal
// decision value consumed by the HTTP layer, never an error.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time

	// Warning is set when remaining capacity is at or below 20% of the limit.
	Warning bool

	// Reason identifies why a request was denied; empty when allowed.
	Reason string
}

// Blocklist is the external abuse-detection signal consulted before any
// counter.
type Blocklist interface {
	IsBlocked(ctx context.Context, ip string) bool
}

// EscalateFunc receives suspicious-activity escalations from the limiter.
// Implementations bridge into the security-event pipeline.
type EscalateFunc func(ctx context.Context, req Request, limitType string, limit int)

// Limiter evaluates admission against the counter store.
type Limiter struct {
	store     storage.CounterStore
	table     Table
	matcher   *EndpointMatcher
	blocklist Blocklist
	escalate  EscalateFunc
	logger    *slog.Logger

	// now is the clock source, replaceable in tests
	now func() time.Time

	// onDecision, when set, observes every decision for metrics
	onDecision func(limitType, dimension string, allowed bool)
}

// Config holds limiter construction options.
type Config struct {
	// Store is the shared counter store (required).
	Store storage.CounterStore

	// Table is the limit table. Nil uses DefaultTable().
	Table Table

	// Blocklist is the optional external IP block signal.
	Blocklist Blocklist

	// Escalate is the optional suspicious-activity bridge.
	Escalate EscalateFunc

	// Logger is the optional structured logger (default: slog.Default()).
	Logger *slog.Logger
}

// New creates a limiter. The sensitive-endpoint matcher is compiled here,
// once, not per request.
func New(cfg Config) (*Limiter, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("counter store is required")
	}
	table := cfg.Table
	if table == nil {
		table = DefaultTable()
	}
	if _, ok := table[DefaultType]; !ok {
		return nil, fmt.Errorf("limit table must define the %q fallback type", DefaultType)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Limiter{
		store:     cfg.Store,
		table:     table,
		matcher:   NewSensitiveEndpointMatcher(),
		blocklist: cfg.Blocklist,
		escalate:  cfg.Escalate,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// SetDecisionObserver registers a callback invoked once per decision with
// the request type, the deciding dimension, and the outcome.
func (l *Limiter) SetDecisionObserver(fn func(limitType, dimension string, allowed bool)) {
	l.onDecision = fn
}

// counterCheck is one dimension's counter evaluation within a decision.
type counterCheck struct {
	key       string
	limit     int
	dimension string
	reason    string
}

// CheckAndConsume evaluates admission for a request. Steps run in order
// (block list, then per-IP, then per-user, then sensitive endpoint) and a
// rejection short-circuits without consuming capacity on any counter. On
// success every evaluated counter is consumed atomically per key and the
// decision carries the tightest remaining capacity across them.
func (l *Limiter) CheckAndConsume(ctx context.Context, req Request, limitType string) Decision {
	limits := l.table.limitsFor(limitType)

	if l.blocklist != nil && l.blocklist.IsBlocked(ctx, req.IP) {
		l.logger.Warn("Request from blocked IP rejected",
			"ip", req.IP,
			"type", limitType)
		l.observe(limitType, DimensionIP, false)
		return Decision{
			Allowed: false,
			Limit:   limits.PerIP,
			ResetAt: l.now().Add(Window),
			Reason:  ReasonIPBlocked,
		}
	}

	checks := l.buildChecks(req, limitType, limits)

	// First pass: read-only checks so that a rejection at any step leaves
	// every counter untouched.
	for _, c := range checks {
		count, err := l.store.PeekCount(ctx, c.key, Window)
		if err != nil {
			// Availability over strictness: a broken store must not take
			// the whole service down with it.
			l.logger.Warn("Counter store read failed, admitting request",
				"key", c.key,
				"error", err)
			continue
		}
		if count >= c.limit {
			return l.reject(ctx, req, limitType, c, count)
		}
	}

	// Second pass: consume. TakeToken re-validates under the store's
	// atomicity, so a concurrent burst cannot push any single counter
	// past its limit; losing that race is a rejection like any other.
	decision := Decision{Allowed: true, ResetAt: l.now().Add(Window)}
	first := true
	for _, c := range checks {
		count, allowed, err := l.store.TakeToken(ctx, c.key, c.limit, Window)
		if err != nil {
			l.logger.Warn("Counter store write failed, admitting request",
				"key", c.key,
				"error", err)
			continue
		}
		if !allowed {
			return l.reject(ctx, req, limitType, c, count)
		}

		remaining := c.limit - count
		if remaining < 0 {
			remaining = 0
		}
		if first || remaining < decision.Remaining {
			decision.Limit = c.limit
			decision.Remaining = remaining
			first = false
		}
	}

	if decision.Limit > 0 && float64(decision.Remaining) <= warningFraction*float64(decision.Limit) {
		decision.Warning = true
	}

	l.observe(limitType, "", true)
	return decision
}

// buildChecks assembles the ordered counter evaluations for one request.
func (l *Limiter) buildChecks(req Request, limitType string, limits Limits) []counterCheck {
	checks := []counterCheck{{
		key:       limitType + ":ip:" + req.IP,
		limit:     limits.PerIP,
		dimension: DimensionIP,
		reason:    ReasonIPLimit,
	}}

	if req.UserID != "" {
		checks = append(checks, counterCheck{
			key:       limitType + ":user:" + req.UserID,
			limit:     limits.PerUser,
			dimension: DimensionUser,
			reason:    ReasonUserLimit,
		})
	}

	endpoint := NormalizeEndpoint(req.Method, req.Path)
	if l.matcher.Matches(endpoint) {
		checks = append(checks, counterCheck{
			key:       limitType + ":endpoint:" + endpoint + "|" + req.IP,
			limit:     limits.PerIP / 2,
			dimension: DimensionEndpoint,
			reason:    ReasonEndpointLimit,
		})
	}

	return checks
}

// reject produces a denial decision and performs the escalation side
// effect for tightly limited IP-dimension rejections.
func (l *Limiter) reject(ctx context.Context, req Request, limitType string, c counterCheck, count int) Decision {
	l.logger.Info("Request rate limited",
		"type", limitType,
		"dimension", c.dimension,
		"limit", c.limit,
		"count", count,
		"ip", req.IP)
	l.observe(limitType, c.dimension, false)

	if c.dimension == DimensionIP && c.limit <= escalationLimitCeiling && l.escalate != nil {
		l.escalate(ctx, req, limitType, c.limit)
	}

	return Decision{
		Allowed: false,
		Limit:   c.limit,
		ResetAt: l.now().Add(Window),
		Reason:  c.reason,
	}
}

func (l *Limiter) observe(limitType, dimension string, allowed bool) {
	if l.onDecision != nil {
		l.onDecision(limitType, dimension, allowed)
	}
}
