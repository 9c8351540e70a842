package siem

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	// cefVersion is the CEF format version in the record header
	cefVersion = 0

	// vendor and product identify this source in every record header
	vendor  = "SSOGuard"
	product = "sso-guard"

	// defaultSeverity is used for severity strings outside the known map
	defaultSeverity = 5
)

// severityMap translates event severity strings to CEF numeric severities.
var severityMap = map[string]int{
	"debug":    0,
	"info":     3,
	"warning":  6,
	"error":    8,
	"critical": 10,
}

// NumericSeverity returns the CEF severity for a severity string,
// defaulting to 5 for unrecognized values.
func NumericSeverity(severity string) int {
	if n, ok := severityMap[strings.ToLower(severity)]; ok {
		return n
	}
	return defaultSeverity
}

// Event is the formatter's view of a security event. The facade populates
// it from the pipeline's event type; the formatter never sees anything
// beyond what ends up on the wire.
type Event struct {
	EventID       string
	Severity      string
	ActorUserID   string
	SourceIP      string
	Action        string
	Message       string
	DomainID      string
	Metadata      map[string]any
	CorrelationID string
	ServerID      string
	ServerName    string
	CreatedAt     time.Time
}

// Record is the canonical structured form dispatched to sinks.
type Record struct {
	EventID       string
	Name          string
	Severity      int
	CorrelationID string
	CreatedAt     time.Time
	Line          string // the full CEF line
}

// Formatter renders events into CEF records.
type Formatter struct {
	version string
}

// NewFormatter creates a formatter stamping the given product version into
// record headers.
func NewFormatter(version string) *Formatter {
	if version == "" {
		version = "0"
	}
	return &Formatter{version: version}
}

// Format renders an event into its canonical record. The header carries
// the fixed product identity, the event ID, a humanized name, and the
// numeric severity; extensions carry everything else as key=value pairs.
func (f *Formatter) Format(e Event) Record {
	severity := NumericSeverity(e.Severity)
	name := eventName(e.EventID)

	var ext strings.Builder
	writeExt := func(key, value string) {
		if value == "" {
			return
		}
		if ext.Len() > 0 {
			ext.WriteByte(' ')
		}
		ext.WriteString(key)
		ext.WriteByte('=')
		ext.WriteString(escapeExtension(value))
	}

	writeExt("dvchost", e.ServerName)
	writeExt("rt", fmt.Sprintf("%d", e.CreatedAt.UnixMilli()))
	writeExt("src", e.SourceIP)
	writeExt("suser", e.ActorUserID)
	writeExt("act", e.Action)
	writeExt("msg", e.Message)
	writeExt("serverId", e.ServerID)
	writeExt("domainId", e.DomainID)
	writeExt("correlationId", e.CorrelationID)

	if len(e.Metadata) > 0 {
		if data, err := json.Marshal(e.Metadata); err == nil {
			writeExt("metadata", string(data))
		}
	}

	line := fmt.Sprintf("CEF:%d|%s|%s|%s|%s|%s|%d|%s",
		cefVersion,
		escapeHeader(vendor),
		escapeHeader(product),
		escapeHeader(f.version),
		escapeHeader(e.EventID),
		escapeHeader(name),
		severity,
		ext.String())

	return Record{
		EventID:       e.EventID,
		Name:          name,
		Severity:      severity,
		CorrelationID: e.CorrelationID,
		CreatedAt:     e.CreatedAt,
		Line:          line,
	}
}

// eventName humanizes an event ID like AUTH_SUSPICIOUS_LOGIN into
// "auth suspicious login" for the record header.
func eventName(eventID string) string {
	return strings.ToLower(strings.ReplaceAll(eventID, "_", " "))
}

// escapeHeader escapes backslashes and pipes, which delimit CEF header fields.
func escapeHeader(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `|`, `\|`)
}

// escapeExtension escapes backslashes, equals signs, and newlines inside
// extension values.
func escapeExtension(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `=`, `\=`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	return strings.ReplaceAll(s, "\r", `\r`)
}
