package siem

import (
	"context"
	"log/slog"
)

// LocalSink writes records to the structured log. It has no external
// dependency and no failure mode, which makes it both a valid primary
// sink (the syslog provider) and the universal fallback.
type LocalSink struct {
	logger *slog.Logger
}

// NewLocalSink creates a local sink over the given logger.
func NewLocalSink(logger *slog.Logger) *LocalSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalSink{logger: logger}
}

// Name implements Sink.
func (s *LocalSink) Name() string { return "local" }

// Deliver implements Sink. The record's numeric severity picks the log level.
func (s *LocalSink) Deliver(ctx context.Context, rec Record) error {
	s.logger.Log(ctx, levelFor(rec.Severity), "security_event",
		"event_id", rec.EventID,
		"severity", rec.Severity,
		"correlation_id", rec.CorrelationID,
		"cef", rec.Line,
	)
	return nil
}

// levelFor maps CEF numeric severities onto slog levels.
func levelFor(severity int) slog.Level {
	switch {
	case severity >= 8:
		return slog.LevelError
	case severity >= 6:
		return slog.LevelWarn
	case severity >= 3:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}
