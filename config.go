package ssoguard

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ssoguard/ssoguard/ratelimit"
	"github.com/ssoguard/ssoguard/siem"
)

// Config holds the pipeline configuration.
// Structured using composition for better organization and maintainability
type Config struct {
	// ServerID identifies this instance in event records.
	ServerID string `yaml:"server_id"`

	// ServerName is the human-readable instance name (dvchost in records).
	ServerName string `yaml:"server_name"`

	// Version is stamped into record headers.
	Version string `yaml:"version"`

	// Rate limiting configuration
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// Sink selects and configures the external SIEM backend.
	Sink siem.Config `yaml:"sink"`

	// Broadcast tunes webhook fan-out to subscriber domains.
	Broadcast BroadcastConfig `yaml:"broadcast"`

	// Logger for structured logging (optional, uses default if not provided)
	Logger *slog.Logger `yaml:"-"`

	// HTTPClient is a custom HTTP client for outbound deliveries.
	// If not provided, uses the default HTTP client.
	HTTPClient *http.Client `yaml:"-"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	// Limits maps request types to their per-dimension ceilings.
	// Empty uses the built-in table.
	Limits ratelimit.Table `yaml:"limits"`

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers.
	// Only enable behind a trusted reverse proxy.
	TrustProxy bool `yaml:"trust_proxy"`

	// TrustedProxyCount is how many proxies to trust from the right of
	// X-Forwarded-For. Zero assumes one.
	TrustedProxyCount int `yaml:"trusted_proxy_count"`
}

// BroadcastConfig holds webhook fan-out configuration
type BroadcastConfig struct {
	// TimeoutSeconds bounds each per-domain delivery. Default: 5.
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// DomainRate is the per-domain outbound deliveries per second.
	// Zero or negative leaves the throttle off.
	DomainRate float64 `yaml:"domain_rate"`

	// DomainBurst is the per-domain outbound burst size.
	DomainBurst int `yaml:"domain_burst"`
}

// DeliverTimeout returns the configured per-domain delivery timeout.
func (c BroadcastConfig) DeliverTimeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// DefaultConfig returns a configuration with the built-in limit table and
// local-only sink delivery.
func DefaultConfig() Config {
	return Config{
		ServerID:   "sso-guard",
		ServerName: "sso-guard",
		Version:    "1",
		RateLimit: RateLimitConfig{
			Limits: ratelimit.DefaultTable(),
		},
	}
}

// LoadConfig reads a YAML configuration file over the defaults. Unknown
// keys are rejected so that a typo in a limit name cannot silently leave
// the default in place.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the pipeline cannot run with.
func (c Config) Validate() error {
	if c.ServerID == "" {
		return fmt.Errorf("server_id is required")
	}
	for name, limits := range c.RateLimit.Limits {
		if limits.PerIP <= 0 || limits.PerUser <= 0 {
			return fmt.Errorf("limit table entry %q must have positive per_ip and per_user", name)
		}
	}
	if len(c.RateLimit.Limits) > 0 {
		if _, ok := c.RateLimit.Limits[ratelimit.DefaultType]; !ok {
			return fmt.Errorf("limit table must define the %q fallback type", ratelimit.DefaultType)
		}
	}
	return nil
}
