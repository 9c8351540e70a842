package valkey

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys
	DefaultKeyPrefix = "sso:"

	// DefaultCacheTTL is the lifetime of fast-tier correlation entries
	DefaultCacheTTL = time.Hour

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second

	// maxDurableRetention is the longest any durable record is kept; the
	// time index janitor trims everything older than this in one pass
	maxDurableRetention = 365 * 24 * time.Hour
)

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "sso:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// CacheTTL is the fast-tier correlation entry lifetime (default 1 hour)
	CacheTTL time.Duration

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Store is a Valkey-backed implementation of the counter and correlation
// storage interfaces, for deployments where several application servers
// share one admission and correlation state.
type Store struct {
	client   valkeygo.Client
	prefix   string
	cacheTTL time.Duration
	logger   *slog.Logger
}

// New creates a new Valkey-backed storage instance.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = DefaultCacheTTL
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}

	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	if cfg.TLS != nil {
		opts.TLSConfig = cfg.TLS
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("Connected to Valkey storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Store{
		client:   client,
		prefix:   prefix,
		cacheTTL: cacheTTL,
		logger:   logger,
	}, nil
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("Valkey storage connection closed")
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// Key naming

func (s *Store) counterKey(key string) string {
	return s.prefix + "counter:" + key
}

func (s *Store) cacheKey(correlationID string) string {
	return s.prefix + "corr:cache:" + correlationID
}

func (s *Store) correlationLogKey(correlationID string) string {
	return s.prefix + "corr:log:" + correlationID
}

func (s *Store) timeIndexKey() string {
	return s.prefix + "corr:index"
}

// isNilError reports whether the error is a Valkey nil reply (key absent).
func isNilError(err error) bool {
	return err != nil && valkeygo.IsValkeyNil(err)
}
