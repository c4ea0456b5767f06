// Package provider holds the upstream data provider clients raced by the
// fallback resolver. Providers are independently configured and independently
// unreliable; no single provider failure is ever fatal.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"gorm.io/datatypes"
)

// Provider is one external data source for a domain lookup.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, domain string, params map[string]string) (datatypes.JSONMap, error)
}

const maxResponseBytes = 1 << 20

type httpProvider struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPProvider builds a provider posting lookups to {baseURL}/{domain}.
// The client timeout is a hard upper bound; callers additionally bound each
// call with a context deadline during the fallback race.
func NewHTTPProvider(name, baseURL, apiKey string, timeout time.Duration) Provider {
	return &httpProvider{
		name:    name,
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *httpProvider) Name() string { return p.name }

func (p *httpProvider) Fetch(ctx context.Context, domain string, params map[string]string) (datatypes.JSONMap, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("%s: encode params: %w", p.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/"+domain, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", p.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("X-API-Key", p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", p.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: status %d", p.name, resp.StatusCode)
	}

	var payload datatypes.JSONMap
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", p.name, err)
	}
	if ok, _ := payload["success"].(bool); !ok {
		return nil, fmt.Errorf("%s: upstream reported failure", p.name)
	}
	return payload, nil
}
