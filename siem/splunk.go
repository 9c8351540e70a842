package siem

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// hecPath is the Splunk HTTP Event Collector endpoint path.
const hecPath = "/services/collector/event"

// SplunkSink delivers records to a Splunk HTTP Event Collector using
// bearer-token authentication.
type SplunkSink struct {
	url    string
	token  string
	client *http.Client
}

// NewSplunkSink creates a Splunk HEC sink. endpoint is the collector base
// URL, e.g. "https://splunk.example.com:8088".
func NewSplunkSink(endpoint, token string, client *http.Client) *SplunkSink {
	if client == nil {
		client = &http.Client{}
	}
	return &SplunkSink{
		url:    strings.TrimRight(endpoint, "/") + hecPath,
		token:  token,
		client: client,
	}
}

// Name implements Sink.
func (s *SplunkSink) Name() string { return ProviderSplunk }

// hecPayload is the HEC event envelope.
type hecPayload struct {
	Time       int64  `json:"time"`
	SourceType string `json:"sourcetype"`
	Event      string `json:"event"`
}

// Deliver implements Sink.
func (s *SplunkSink) Deliver(ctx context.Context, rec Record) error {
	body, err := json.Marshal(hecPayload{
		Time:       rec.CreatedAt.Unix(),
		SourceType: product,
		Event:      rec.Line,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal HEC payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build HEC request: %w", err)
	}
	req.Header.Set("Authorization", "Splunk "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("HEC request failed: %w", err)
	}
	defer resp.Body.Close()

	return checkResponse(resp)
}
