package siem

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const (
	// DefaultDatadogEndpoint is the fixed log intake base URL
	DefaultDatadogEndpoint = "https://http-intake.logs.datadoghq.com"

	// intakePath is the v2 logs intake path
	intakePath = "/api/v2/logs"
)

// DatadogSink delivers records to the Datadog logs intake using API-key
// authentication.
type DatadogSink struct {
	url    string
	apiKey string
	client *http.Client
}

// NewDatadogSink creates a Datadog sink. An empty endpoint uses the fixed
// default intake.
func NewDatadogSink(endpoint, apiKey string, client *http.Client) *DatadogSink {
	if endpoint == "" {
		endpoint = DefaultDatadogEndpoint
	}
	if client == nil {
		client = &http.Client{}
	}
	return &DatadogSink{
		url:    strings.TrimRight(endpoint, "/") + intakePath,
		apiKey: apiKey,
		client: client,
	}
}

// Name implements Sink.
func (s *DatadogSink) Name() string { return ProviderDatadog }

// ddEntry is one log entry in the intake batch.
type ddEntry struct {
	Source  string `json:"ddsource"`
	Service string `json:"service"`
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// Deliver implements Sink.
func (s *DatadogSink) Deliver(ctx context.Context, rec Record) error {
	body, err := json.Marshal([]ddEntry{{
		Source:  product,
		Service: product,
		Status:  rec.Severity,
		Message: rec.Line,
	}})
	if err != nil {
		return fmt.Errorf("failed to marshal intake payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build intake request: %w", err)
	}
	req.Header.Set("DD-API-KEY", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("intake request failed: %w", err)
	}
	defer resp.Body.Close()

	return checkResponse(resp)
}
