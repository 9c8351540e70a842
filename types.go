package ssoguard

import (
	"time"

	"github.com/ssoguard/ssoguard/broadcast"
	"github.com/ssoguard/ssoguard/ratelimit"
	"github.com/ssoguard/ssoguard/storage"
)

// Severity levels carried on security events.
const (
	SeverityDebug    = "debug"
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// criticalEventIDs always broadcast to subscriber domains regardless of
// the event's own severity.
var criticalEventIDs = map[string]bool{
	"AUTH_SUSPICIOUS_LOGIN":         true,
	"AUTH_IMPOSSIBLE_TRAVEL":        true,
	"AUTH_BRUTE_FORCE_DETECTED":     true,
	"PERMISSION_ESCALATION_ATTEMPT": true,
	"SECURITY_BREACH_ATTEMPT":       true,
	"SYSTEM_COMPROMISE_DETECTED":    true,
}

// IsCriticalEvent reports whether an event must be broadcast to subscriber
// domains: critical severity, or an event ID on the fixed critical list.
func IsCriticalEvent(eventID, severity string) bool {
	return severity == SeverityCritical || criticalEventIDs[eventID]
}

// SecurityEvent is the pipeline's canonical event. Callers construct one
// per occurrence; the facade treats it as immutable after ingestion apart
// from stamping the server identity, creation time, and a correlation ID
// when absent.
type SecurityEvent struct {
	// EventID is the stable machine identifier, e.g. AUTH_LOGIN_FAILED.
	EventID string `json:"event_id"`

	// Severity is one of debug, info, warning, error, critical.
	Severity string `json:"severity"`

	// ActorUserID is the user the event concerns, if any.
	ActorUserID string `json:"actor_user_id,omitempty"`

	// SourceIP is the client address the event originated from.
	SourceIP string `json:"source_ip,omitempty"`

	// Action is the operation being performed, e.g. login.
	Action string `json:"action,omitempty"`

	// Message is the human-readable description.
	Message string `json:"message,omitempty"`

	// DomainID is the tenant domain the event belongs to, if any.
	DomainID string `json:"domain_id,omitempty"`

	// Metadata carries structured context specific to the event.
	Metadata map[string]any `json:"metadata,omitempty"`

	// CorrelationID links related events. Generated at ingestion if empty.
	CorrelationID string `json:"correlation_id,omitempty"`

	// ServerID identifies the emitting instance. Stamped at ingestion.
	ServerID string `json:"server_id,omitempty"`

	// CreatedAt is when the event occurred. Stamped at ingestion if zero.
	CreatedAt time.Time `json:"created_at"`
}

// MetricsSnapshot summarizes the durable event log over the last 24 hours.
type MetricsSnapshot struct {
	TotalEvents    int                  `json:"total_events"`
	CriticalEvents int                  `json:"critical_events"`
	UniqueUsers    int                  `json:"unique_users"`
	TopEventIDs    []storage.EventCount `json:"top_event_ids"`
}

// Aliases re-exported so embedding services depend on the root package only.
type (
	// RequestDescriptor describes one inbound request for admission control.
	RequestDescriptor = ratelimit.Request

	// RateLimitDecision is the outcome of one admission check.
	RateLimitDecision = ratelimit.Decision

	// DomainSubscriber is a tenant registered for security-event webhooks.
	DomainSubscriber = broadcast.Subscriber
)
