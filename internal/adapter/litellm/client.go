// Package litellm reads the LiteLLM proxy's admin API. Completions go through
// the OpenAI-compatible adapter; this client only answers which models the
// proxy serves and whether their endpoints are healthy.
package litellm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/singleflight"
)

// catalogTTL bounds how stale the served-model set may be. switch_model
// validates against it on every call.
const catalogTTL = 30 * time.Second

// Model is one deployment entry from /model/info.
type Model struct {
	ModelName string         `json:"model_name"`
	Provider  string         `json:"litellm_provider,omitempty"`
	ModelInfo map[string]any `json:"model_info,omitempty"`
}

// Endpoint is one model endpoint in a health report.
type Endpoint struct {
	Model   string `json:"model"`
	APIBase string `json:"api_base,omitempty"`
}

// HealthReport is the proxy's per-endpoint health.
type HealthReport struct {
	HealthyEndpoints   []Endpoint `json:"healthy_endpoints"`
	UnhealthyEndpoints []Endpoint `json:"unhealthy_endpoints"`
	HealthyCount       int        `json:"healthy_count"`
	UnhealthyCount     int        `json:"unhealthy_count"`
}

// Client talks to the proxy admin API.
type Client struct {
	baseURL   string
	masterKey string
	http      *http.Client
	now       func() time.Time

	flight    singleflight.Group
	mu        sync.Mutex
	served    map[string]struct{}
	fetchedAt time.Time
}

// NewClient creates an admin client. Requests carry the master key when set.
func NewClient(baseURL, masterKey string) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		masterKey: masterKey,
		http: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		now: time.Now,
	}
}

// ListModels returns every model the proxy serves.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	var out struct {
		Data []Model `json:"data"`
	}
	if err := c.get(ctx, "/model/info", &out); err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	return out.Data, nil
}

// HealthDetailed returns per-endpoint health.
func (c *Client) HealthDetailed(ctx context.Context) (*HealthReport, error) {
	var report HealthReport
	if err := c.get(ctx, "/health", &report); err != nil {
		return nil, fmt.Errorf("health: %w", err)
	}
	return &report, nil
}

// MissingModels returns the names in want the proxy does not serve, in the
// given order. Empty names are skipped.
func (c *Client) MissingModels(ctx context.Context, want []string) ([]string, error) {
	served, err := c.servedModels(ctx)
	if err != nil {
		return nil, err
	}
	var missing []string
	for _, name := range want {
		if name == "" {
			continue
		}
		if _, ok := served[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing, nil
}

// servedModels returns the cached model set, refreshing it once per TTL.
// Concurrent refreshes share one request.
func (c *Client) servedModels(ctx context.Context) (map[string]struct{}, error) {
	c.mu.Lock()
	if c.served != nil && c.now().Sub(c.fetchedAt) < catalogTTL {
		s := c.served
		c.mu.Unlock()
		return s, nil
	}
	c.mu.Unlock()

	v, err, _ := c.flight.Do("models", func() (any, error) {
		models, err := c.ListModels(ctx)
		if err != nil {
			return nil, err
		}
		set := make(map[string]struct{}, len(models))
		for _, m := range models {
			set[m.ModelName] = struct{}{}
		}
		c.mu.Lock()
		c.served, c.fetchedAt = set, c.now()
		c.mu.Unlock()
		return set, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]struct{}), nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.masterKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.masterKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("proxy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
