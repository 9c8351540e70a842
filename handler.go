package ssoguard

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ssoguard/ssoguard/instrumentation"
	"github.com/ssoguard/ssoguard/ratelimit"
)

// Rate-limit response headers set on every admitted request and on 429s.
const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderRateLimitWarning   = "X-RateLimit-Warning"
)

// retryAfterSeconds matches the sliding-window size: a denied client has
// capacity again within one window at the latest.
const retryAfterSeconds = 60

// UserIDFunc extracts the authenticated user from a request, or "" for
// anonymous traffic. Supplied by the embedding service's session layer.
type UserIDFunc func(r *http.Request) string

// TypeFunc resolves a request to its limit-table type.
type TypeFunc func(r *http.Request) string

// MiddlewareConfig holds rate-limit middleware construction options.
type MiddlewareConfig struct {
	// Limiter is the admission limiter (required).
	Limiter *ratelimit.Limiter

	// TrustProxy and TrustedProxyCount control client IP extraction.
	TrustProxy        bool
	TrustedProxyCount int

	// UserID is the optional session-layer bridge.
	UserID UserIDFunc

	// LimitType is the optional type resolver. Nil uses TypeFromPath.
	LimitType TypeFunc

	// Logger is the optional structured logger (default: slog.Default()).
	Logger *slog.Logger

	// Instrumentation enables admission metrics and request spans when set.
	Instrumentation *instrumentation.Instrumentation
}

// Middleware enforces admission control in front of an HTTP handler.
type Middleware struct {
	limiter           *ratelimit.Limiter
	trustProxy        bool
	trustedProxyCount int
	userID            UserIDFunc
	limitType         TypeFunc
	logger            *slog.Logger
	tracer            trace.Tracer
}

// NewMiddleware creates the rate-limit middleware.
func NewMiddleware(cfg MiddlewareConfig) *Middleware {
	limitType := cfg.LimitType
	if limitType == nil {
		limitType = TypeFromPath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m := &Middleware{
		limiter:           cfg.Limiter,
		trustProxy:        cfg.TrustProxy,
		trustedProxyCount: cfg.TrustedProxyCount,
		userID:            cfg.UserID,
		limitType:         limitType,
		logger:            logger,
	}

	if cfg.Instrumentation != nil {
		m.tracer = cfg.Instrumentation.Tracer("ratelimit")
		metrics := cfg.Instrumentation.Metrics()
		if m.limiter != nil {
			m.limiter.SetDecisionObserver(func(limitType, dimension string, allowed bool) {
				metrics.RecordAdmissionDecision(context.Background(), limitType, dimension, allowed)
			})
		}
	}

	return m
}

// Wrap returns a handler that admits or rejects requests before calling
// next. Admitted requests carry the X-RateLimit-* headers; rejected ones
// receive a 429 with Retry-After and a JSON body. Block-listed origins are
// rejected the same way, distinguished only by the ip_blocked error code.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		limitType := m.limitType(r)

		var span trace.Span
		if m.tracer != nil {
			ctx, span = m.tracer.Start(ctx, "ratelimit.check")
			defer span.End()
		}

		req := RequestDescriptor{
			IP:        ClientIP(r, m.trustProxy, m.trustedProxyCount),
			Path:      r.URL.Path,
			Method:    r.Method,
			UserAgent: r.UserAgent(),
		}
		if m.userID != nil {
			req.UserID = m.userID(r)
		}

		decision := m.limiter.CheckAndConsume(ctx, req, limitType)

		if span != nil {
			instrumentation.AddAdmissionAttributes(span, limitType, dimensionForReason(decision.Reason), decision.Allowed)
			instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrClientIP, req.IP))
			instrumentation.SetSpanSuccess(span)
		}

		writeRateLimitHeaders(w, decision)

		if !decision.Allowed {
			m.reject(w, decision)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeRateLimitHeaders(w http.ResponseWriter, d RateLimitDecision) {
	w.Header().Set(HeaderRateLimitLimit, strconv.Itoa(d.Limit))
	w.Header().Set(HeaderRateLimitRemaining, strconv.Itoa(d.Remaining))
	w.Header().Set(HeaderRateLimitReset, strconv.FormatInt(d.ResetAt.Unix(), 10))
	if d.Warning {
		w.Header().Set(HeaderRateLimitWarning, "true")
	}
}

// reject writes the denial response. Every denial is a 429 with retry
// guidance; a block-listed origin carries the distinct ip_blocked code in
// the body rather than a separate status.
func (m *Middleware) reject(w http.ResponseWriter, d RateLimitDecision) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	w.WriteHeader(http.StatusTooManyRequests)

	code := ErrorCodeRateLimitExceeded
	message := "Too many requests, please retry later"
	if d.Reason == ratelimit.ReasonIPBlocked {
		code = ErrorCodeIPBlocked
		message = "Request origin is blocked"
	}

	m.writeBody(w, ErrorResponse{
		Error:      code,
		Message:    message,
		RetryAfter: retryAfterSeconds,
	})
}

// dimensionForReason maps a denial reason back onto its counter dimension
// for span attributes; admitted requests have no deciding dimension.
func dimensionForReason(reason string) string {
	switch reason {
	case ratelimit.ReasonIPBlocked, ratelimit.ReasonIPLimit:
		return ratelimit.DimensionIP
	case ratelimit.ReasonUserLimit:
		return ratelimit.DimensionUser
	case ratelimit.ReasonEndpointLimit:
		return ratelimit.DimensionEndpoint
	}
	return ""
}

func (m *Middleware) writeBody(w http.ResponseWriter, body ErrorResponse) {
	if err := json.NewEncoder(w).Encode(body); err != nil {
		m.logger.Error("Failed to write rate limit response", "error", err)
	}
}

// TypeFromPath maps a request path to its limit-table type by first
// segment: /login, /register, /oauth/..., /2fa/..., /magic-link/...,
// /password-reset, /social/..., /userinfo; everything else is api.
func TypeFromPath(r *http.Request) string {
	path := strings.ToLower(strings.TrimPrefix(r.URL.Path, "/"))
	segment, _, _ := strings.Cut(path, "/")

	switch segment {
	case "login", "register", "oauth", "2fa", "magic-link", "password-reset", "social", "userinfo":
		return segment
	default:
		return ratelimit.DefaultType
	}
}
