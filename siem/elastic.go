package siem

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// indexPrefix names the daily-rotated Elasticsearch index.
const indexPrefix = "sso-security-"

// ElasticsearchSink delivers records as documents into a daily-rotated
// index using basic authentication.
type ElasticsearchSink struct {
	endpoint string
	username string
	password string
	client   *http.Client

	// now is the clock source for index rotation, replaceable in tests
	now func() time.Time
}

// NewElasticsearchSink creates an Elasticsearch sink. endpoint is the
// cluster base URL, e.g. "https://es.example.com:9200".
func NewElasticsearchSink(endpoint, username, password string, client *http.Client) *ElasticsearchSink {
	if client == nil {
		client = &http.Client{}
	}
	return &ElasticsearchSink{
		endpoint: strings.TrimRight(endpoint, "/"),
		username: username,
		password: password,
		client:   client,
		now:      time.Now,
	}
}

// Name implements Sink.
func (s *ElasticsearchSink) Name() string { return ProviderElasticsearch }

// indexName returns the daily index for the current UTC date,
// e.g. "sso-security-2025.06.01".
func (s *ElasticsearchSink) indexName() string {
	return indexPrefix + s.now().UTC().Format("2006.01.02")
}

// esDocument is the indexed document shape.
type esDocument struct {
	Timestamp     string `json:"@timestamp"`
	EventID       string `json:"event_id"`
	Severity      int    `json:"severity"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Message       string `json:"message"`
}

// Deliver implements Sink.
func (s *ElasticsearchSink) Deliver(ctx context.Context, rec Record) error {
	body, err := json.Marshal(esDocument{
		Timestamp:     rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		EventID:       rec.EventID,
		Severity:      rec.Severity,
		CorrelationID: rec.CorrelationID,
		Message:       rec.Line,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	url := s.endpoint + "/" + s.indexName() + "/_doc"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build index request: %w", err)
	}
	req.SetBasicAuth(s.username, s.password)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("index request failed: %w", err)
	}
	defer resp.Body.Close()

	return checkResponse(resp)
}
