package ssoguard

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/ssoguard/ssoguard/broadcast"
	"github.com/ssoguard/ssoguard/instrumentation"
	"github.com/ssoguard/ssoguard/siem"
	"github.com/ssoguard/ssoguard/storage"
)

// metricsWindow is the look-back slice for SecurityMetrics.
const metricsWindow = 24 * time.Hour

// SubscriberSource supplies the current tenant domains registered for
// security-event webhooks. The registry lives outside this module; the
// facade queries it per broadcast so subscription changes take effect
// without a restart.
type SubscriberSource interface {
	ActiveSubscribers(ctx context.Context) ([]DomainSubscriber, error)
}

// Service is the security-event pipeline facade: normalize, dispatch to
// the configured sink, broadcast critical events to subscriber domains,
// and persist for correlation.
type Service struct {
	serverID   string
	serverName string

	formatter   *siem.Formatter
	dispatcher  *siem.Dispatcher
	broadcaster *broadcast.Broadcaster
	store       storage.CorrelationStore
	subscribers SubscriberSource
	logger      *slog.Logger
	metrics     *instrumentation.Metrics
	tracer      trace.Tracer

	// now is the clock source, replaceable in tests
	now func() time.Time

	// pipelineDone, when set, is invoked after the asynchronous tail of
	// one event has concluded. Test hook only.
	pipelineDone func()
}

// correlationSizer is implemented by stores that can report tier sizes.
type correlationSizer interface {
	CacheLen() int
	LogLen() int
}

// NewService assembles the pipeline from the configuration. The
// correlation store is required; a nil subscriber source disables
// broadcasting.
func NewService(cfg Config, store storage.CorrelationStore, subscribers SubscriberSource) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("correlation store is required")
	}
	if cfg.ServerID == "" {
		return nil, fmt.Errorf("server_id is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sink := siem.NewSink(cfg.Sink, cfg.HTTPClient, logger)
	dispatcher := siem.NewDispatcher(sink, siem.NewLocalSink(logger), 0, logger)

	broadcaster := broadcast.New(broadcast.Config{
		Timeout:     cfg.Broadcast.DeliverTimeout(),
		DomainRate:  cfg.Broadcast.DomainRate,
		DomainBurst: cfg.Broadcast.DomainBurst,
		HTTPClient:  cfg.HTTPClient,
		Logger:      logger,
	})

	return &Service{
		serverID:    cfg.ServerID,
		serverName:  cfg.ServerName,
		formatter:   siem.NewFormatter(cfg.Version),
		dispatcher:  dispatcher,
		broadcaster: broadcaster,
		store:       store,
		subscribers: subscribers,
		logger:      logger,
		now:         time.Now,
	}, nil
}

// Dispatcher exposes the sink dispatcher for observer registration.
func (s *Service) Dispatcher() *siem.Dispatcher { return s.dispatcher }

// Broadcaster exposes the webhook broadcaster for observer registration.
func (s *Service) Broadcaster() *broadcast.Broadcaster { return s.broadcaster }

// SetInstrumentation wires pipeline metrics: sink deliveries, broadcast
// outcomes, ingested events, and correlation store size gauges when the
// store can report them. Call once during setup, before traffic.
func (s *Service) SetInstrumentation(inst *instrumentation.Instrumentation) {
	if inst == nil {
		return
	}
	s.metrics = inst.Metrics()
	s.tracer = inst.Tracer("pipeline")

	s.dispatcher.SetDeliveryObserver(func(sink string, fallback bool) {
		s.metrics.RecordSinkDelivery(context.Background(), sink, fallback)
	})
	s.broadcaster.SetAttemptObserver(func(_, outcome string) {
		s.metrics.RecordBroadcastAttempt(context.Background(), outcome)
	})

	if sizer, ok := s.store.(correlationSizer); ok {
		if err := inst.RegisterCorrelationSizeCallbacks(
			func() int64 { return int64(sizer.CacheLen()) },
			func() int64 { return int64(sizer.LogLen()) },
		); err != nil {
			s.logger.Warn("Failed to register correlation size gauges", "error", err)
		}
	}
}

// SendSecurityEvent feeds one event into the pipeline: annotate with the
// server identity, format, dispatch to the configured sink, broadcast when
// critical, and persist both correlation tiers. The call returns once the
// event is annotated; delivery and persistence continue on a detached
// context, so the caller never waits on a slow sink or subscriber domain.
func (s *Service) SendSecurityEvent(ctx context.Context, event *SecurityEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Security event pipeline panicked",
				"event_id", event.EventID,
				"panic", r)
		}
	}()

	s.annotate(event)

	if s.metrics != nil {
		s.metrics.RecordEventIngested(ctx, event.Severity, IsCriticalEvent(event.EventID, event.Severity))
	}

	// Snapshot the event so caller mutations cannot race the tail.
	queued := *event
	go s.runPipeline(context.WithoutCancel(ctx), &queued)
}

// runPipeline is the asynchronous tail of SendSecurityEvent. Steps run in
// order and each is independently fault-tolerant; a failure in one never
// blocks another.
func (s *Service) runPipeline(ctx context.Context, event *SecurityEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Security event pipeline panicked",
				"event_id", event.EventID,
				"panic", r)
		}
		if s.pipelineDone != nil {
			s.pipelineDone()
		}
	}()

	var span trace.Span
	if s.tracer != nil {
		ctx, span = s.tracer.Start(ctx, "pipeline.send_event")
		defer span.End()
		instrumentation.AddEventAttributes(span, event.EventID, event.Severity, event.CorrelationID)
	}

	rec := s.formatter.Format(siem.Event{
		EventID:       event.EventID,
		Severity:      event.Severity,
		ActorUserID:   event.ActorUserID,
		SourceIP:      event.SourceIP,
		Action:        event.Action,
		Message:       event.Message,
		DomainID:      event.DomainID,
		Metadata:      event.Metadata,
		CorrelationID: event.CorrelationID,
		ServerID:      event.ServerID,
		ServerName:    s.serverName,
		CreatedAt:     event.CreatedAt,
	})

	s.dispatcher.Dispatch(ctx, rec)

	// The fast tier and webhooks need the serialized form; the durable
	// record below does not, so a marshal failure skips only those steps.
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("Failed to serialize security event",
			"event_id", event.EventID,
			"error", err)
		instrumentation.RecordError(span, err)
		payload = nil
	}

	if payload != nil && IsCriticalEvent(event.EventID, event.Severity) {
		s.broadcastEvent(ctx, event, payload)
	}

	s.persist(ctx, event, payload)

	if err == nil {
		instrumentation.SetSpanSuccess(span)
	}
}

// annotate stamps the server identity and fills generated fields.
func (s *Service) annotate(event *SecurityEvent) {
	event.ServerID = s.serverID
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now()
	}
	if event.CorrelationID == "" {
		event.CorrelationID = uuid.NewString()
	}
}

func (s *Service) broadcastEvent(ctx context.Context, event *SecurityEvent, payload []byte) {
	if s.subscribers == nil {
		return
	}

	subs, err := s.subscribers.ActiveSubscribers(ctx)
	if err != nil {
		s.logger.Warn("Failed to load webhook subscribers",
			"event_id", event.EventID,
			"error", err)
		return
	}
	if len(subs) == 0 {
		return
	}

	s.broadcaster.Broadcast(ctx, subs, event.EventID, payload)
}

// persist writes the event to both correlation tiers. The tiers are
// independent; a failure in one does not stop the other. A nil payload
// skips the fast tier only.
func (s *Service) persist(ctx context.Context, event *SecurityEvent, payload []byte) {
	if payload != nil {
		start := time.Now()
		err := s.store.CacheEvent(ctx, event.CorrelationID, payload)
		s.recordStorage(ctx, "cache_event", start, err)
		if err != nil {
			s.logger.Warn("Failed to cache security event",
				"event_id", event.EventID,
				"correlation_id", event.CorrelationID,
				"error", err)
		}
	}

	start := time.Now()
	err := s.store.AppendRecord(ctx, recordFromEvent(event))
	s.recordStorage(ctx, "append_record", start, err)
	if err != nil {
		s.logger.Warn("Failed to persist security event",
			"event_id", event.EventID,
			"correlation_id", event.CorrelationID,
			"error", err)
	}
}

func (s *Service) recordStorage(ctx context.Context, operation string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	s.metrics.RecordStorageOperation(ctx, operation, result,
		float64(time.Since(start))/float64(time.Millisecond))
}

// CorrelateEvents returns every persisted event sharing the correlation
// ID, ordered ascending by creation time.
func (s *Service) CorrelateEvents(ctx context.Context, correlationID string) ([]SecurityEvent, error) {
	recs, err := s.store.EventsByCorrelationID(ctx, correlationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query correlated events: %w", err)
	}

	events := make([]SecurityEvent, 0, len(recs))
	for _, rec := range recs {
		events = append(events, eventFromRecord(rec))
	}
	return events, nil
}

// SecurityMetrics aggregates the durable log over the last 24 hours.
func (s *Service) SecurityMetrics(ctx context.Context) (MetricsSnapshot, error) {
	summary, err := s.store.MetricsSince(ctx, s.now().Add(-metricsWindow))
	if err != nil {
		return MetricsSnapshot{}, fmt.Errorf("failed to aggregate security metrics: %w", err)
	}

	return MetricsSnapshot{
		TotalEvents:    summary.TotalEvents,
		CriticalEvents: summary.CriticalEvents,
		UniqueUsers:    summary.UniqueUsers,
		TopEventIDs:    summary.TopEventIDs,
	}, nil
}

// EscalateRateLimit bridges limiter rejections into the event pipeline.
// Wired as the limiter's escalation func.
func (s *Service) EscalateRateLimit(ctx context.Context, req RequestDescriptor, limitType string, limit int) {
	if s.metrics != nil {
		s.metrics.RecordEscalation(ctx, limitType)
	}

	s.SendSecurityEvent(ctx, &SecurityEvent{
		EventID:     "AUTH_BRUTE_FORCE_DETECTED",
		Severity:    SeverityWarning,
		ActorUserID: req.UserID,
		SourceIP:    req.IP,
		Action:      limitType,
		Message:     fmt.Sprintf("rate limit of %d/min exceeded for %s", limit, limitType),
		Metadata: map[string]any{
			"path":       req.Path,
			"method":     req.Method,
			"user_agent": req.UserAgent,
			"limit":      limit,
		},
	})
}

func recordFromEvent(e *SecurityEvent) *storage.CorrelationRecord {
	return &storage.CorrelationRecord{
		EventID:       e.EventID,
		Severity:      e.Severity,
		ActorUserID:   e.ActorUserID,
		SourceIP:      e.SourceIP,
		Action:        e.Action,
		Message:       e.Message,
		DomainID:      e.DomainID,
		Metadata:      e.Metadata,
		CorrelationID: e.CorrelationID,
		ServerID:      e.ServerID,
		CreatedAt:     e.CreatedAt,
	}
}

func eventFromRecord(rec *storage.CorrelationRecord) SecurityEvent {
	return SecurityEvent{
		EventID:       rec.EventID,
		Severity:      rec.Severity,
		ActorUserID:   rec.ActorUserID,
		SourceIP:      rec.SourceIP,
		Action:        rec.Action,
		Message:       rec.Message,
		DomainID:      rec.DomainID,
		Metadata:      rec.Metadata,
		CorrelationID: rec.CorrelationID,
		ServerID:      rec.ServerID,
		CreatedAt:     rec.CreatedAt,
	}
}
