package siem

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const (
	// DefaultDeliverTimeout bounds every outbound sink call
	DefaultDeliverTimeout = 5 * time.Second

	// Provider names accepted in Config.Provider
	ProviderSyslog        = "syslog"
	ProviderSplunk        = "splunk"
	ProviderElasticsearch = "elasticsearch"
	ProviderDatadog       = "datadog"
)

// Sink delivers one canonical record to a destination. Implementations
// return an error on any transport, auth, or serialization failure; the
// Dispatcher owns the fallback policy.
type Sink interface {
	// Name identifies the sink in logs and metrics.
	Name() string

	// Deliver sends one record. The context carries the per-call timeout.
	Deliver(ctx context.Context, rec Record) error
}

// Config selects and configures the process-wide external sink.
type Config struct {
	// Provider is one of syslog, splunk, elasticsearch, datadog.
	// syslog (or empty) means the local sink only.
	Provider string `yaml:"provider"`

	// Endpoint is the base URL of the external sink.
	Endpoint string `yaml:"endpoint"`

	// Token authenticates against Splunk HEC.
	Token string `yaml:"token"`

	// Username and Password authenticate against Elasticsearch.
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// APIKey authenticates against the Datadog intake.
	APIKey string `yaml:"api_key"`
}

// NewSink builds the configured external sink. A missing credential or an
// unknown provider is a configuration gap, not an error: it returns nil
// and the Dispatcher runs local-only.
func NewSink(cfg Config, client *http.Client, logger *slog.Logger) Sink {
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = &http.Client{}
	}

	switch cfg.Provider {
	case "", ProviderSyslog:
		return nil
	case ProviderSplunk:
		if cfg.Endpoint == "" || cfg.Token == "" {
			logger.Warn("Splunk sink not configured, using local sink",
				"endpoint_set", cfg.Endpoint != "",
				"token_set", cfg.Token != "")
			return nil
		}
		return NewSplunkSink(cfg.Endpoint, cfg.Token, client)
	case ProviderElasticsearch:
		if cfg.Endpoint == "" || cfg.Username == "" || cfg.Password == "" {
			logger.Warn("Elasticsearch sink not configured, using local sink",
				"endpoint_set", cfg.Endpoint != "")
			return nil
		}
		return NewElasticsearchSink(cfg.Endpoint, cfg.Username, cfg.Password, client)
	case ProviderDatadog:
		if cfg.APIKey == "" {
			logger.Warn("Datadog sink not configured, using local sink")
			return nil
		}
		return NewDatadogSink(cfg.Endpoint, cfg.APIKey, client)
	default:
		logger.Warn("Unknown sink provider, using local sink", "provider", cfg.Provider)
		return nil
	}
}

// Dispatcher sends records to the selected sink and degrades to the local
// sink on every failure. The fallback rule lives here once; sink variants
// only report success or failure.
type Dispatcher struct {
	primary Sink
	local   *LocalSink
	timeout time.Duration
	logger  *slog.Logger

	// onDelivery, when set, observes every delivery outcome for metrics
	onDelivery func(sink string, fallback bool)
}

// NewDispatcher creates a dispatcher over the given primary sink. A nil
// primary means local-only delivery. If timeout is 0 or negative,
// DefaultDeliverTimeout applies.
func NewDispatcher(primary Sink, local *LocalSink, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if local == nil {
		local = NewLocalSink(logger)
	}
	if timeout <= 0 {
		timeout = DefaultDeliverTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		primary: primary,
		local:   local,
		timeout: timeout,
		logger:  logger,
	}
}

// SetDeliveryObserver registers a callback invoked after every dispatch
// with the sink name and whether the delivery was a fallback.
func (d *Dispatcher) SetDeliveryObserver(fn func(sink string, fallback bool)) {
	d.onDelivery = fn
}

// Dispatch delivers a record, falling back to the local sink on any
// failure. It never returns an error and never panics; a rejected or
// unreachable external sink degrades to local delivery, logged at Warn.
func (d *Dispatcher) Dispatch(ctx context.Context, rec Record) {
	if d.primary == nil {
		d.deliverLocal(ctx, rec, false)
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.primary.Deliver(callCtx, rec); err != nil {
		d.logger.Warn("Sink delivery failed, falling back to local sink",
			"sink", d.primary.Name(),
			"event_id", rec.EventID,
			"error", err)
		d.deliverLocal(ctx, rec, true)
		return
	}

	if d.onDelivery != nil {
		d.onDelivery(d.primary.Name(), false)
	}
}

func (d *Dispatcher) deliverLocal(ctx context.Context, rec Record, fallback bool) {
	// The local sink has no failure mode.
	_ = d.local.Deliver(ctx, rec)
	if d.onDelivery != nil {
		d.onDelivery(d.local.Name(), fallback)
	}
}

// checkResponse turns a non-success HTTP status into an error. Shared by
// every HTTP sink variant.
func checkResponse(resp *http.Response) error {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("sink returned status %d", resp.StatusCode)
	}
	return nil
}
