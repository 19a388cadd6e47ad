package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPConfig holds configuration for an HTTP embedding provider.
type HTTPConfig struct {
	// Name identifies the provider in record attribution.
	Name string

	// BaseURL is the base URL for the embedding API.
	BaseURL string

	// Model is the embedding model to use.
	Model string

	// APIKey is sent as a bearer token when set.
	APIKey string

	// Timeout bounds each embed call. Default: 10s.
	Timeout time.Duration

	// Dimension is the expected embedding dimension.
	// Default: 1536
	Dimension int
}

// ApplyDefaults sets default values for unset fields.
func (c *HTTPConfig) ApplyDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	if c.Dimension == 0 {
		c.Dimension = 1536
	}
}

// Validate validates the configuration.
func (c HTTPConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: provider name required", ErrInvalidConfig)
	}
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	return nil
}

// HTTPProvider generates embeddings via an HTTP embedding service
// (TEI-compatible: POST {base}/embed).
type HTTPProvider struct {
	config HTTPConfig
	client *http.Client
}

// NewHTTPProvider creates an HTTP embedding provider.
func NewHTTPProvider(config HTTPConfig) (*HTTPProvider, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &HTTPProvider{
		config: config,
		client: &http.Client{},
	}, nil
}

// embedRequest is the request body for the embed endpoint.
type embedRequest struct {
	Inputs   string `json:"inputs"`
	Truncate bool   `json:"truncate"`
}

// Name identifies the provider.
func (p *HTTPProvider) Name() string { return p.config.Name }

// Model returns the configured model name.
func (p *HTTPProvider) Model() string { return p.config.Model }

// Dimension returns the configured embedding dimension.
func (p *HTTPProvider) Dimension() int { return p.config.Dimension }

// Embed generates an embedding for the given content.
//
// Timeouts, connection failures, 429 and 5xx responses are classified
// as ErrUnavailable so the chain advances to the next provider; other
// HTTP errors are permanent.
func (p *HTTPProvider) Embed(ctx context.Context, content string) ([]float32, error) {
	if content == "" {
		return nil, fmt.Errorf("%w: content cannot be empty", ErrEmptyContent)
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	body, err := json.Marshal(embedRequest{Inputs: content, Truncate: true})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.config.BaseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s: timeout after %s", ErrUnavailable, p.config.Name, p.config.Timeout)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, p.config.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, fmt.Errorf("%w: %s: status %d: %s", ErrUnavailable, p.config.Name, resp.StatusCode, string(respBody))
		}
		return nil, fmt.Errorf("%s: status %d: %s", p.config.Name, resp.StatusCode, string(respBody))
	}

	var vectors [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		return nil, fmt.Errorf("%s: decoding response: %w", p.config.Name, err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("%w: %s: empty response", ErrUnavailable, p.config.Name)
	}

	return vectors[0], nil
}
