// Package coingecko implements the gateway.Upstream adapter for the
// CoinGecko market-data API.
package coingecko

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gateway "github.com/eugener/marketgate/internal"
	"github.com/eugener/marketgate/internal/provider"
)

const (
	defaultBaseURL = "https://api.coingecko.com/api/v3"
	providerName   = "coingecko"
	apiKeyHeader   = "x-cg-demo-api-key"
)

var _ gateway.Upstream = (*Client)(nil)

// Client is a CoinGecko upstream. The API key travels in a request header
// and is omitted when empty (public rate limits apply).
type Client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	http    *http.Client
}

// New creates a CoinGecko Client.
// If baseURL is empty, it defaults to "https://api.coingecko.com/api/v3".
// A non-positive timeout leaves the request bounded only by ctx.
func New(baseURL, apiKey string, timeout time.Duration, client *http.Client) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		timeout: timeout,
		http:    client,
	}
}

// Name returns the provider identifier.
func (c *Client) Name() string { return providerName }

// Get issues a GET for path and returns the raw body of a 2xx response.
func (c *Client) Get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, provider.BuildURL(c.baseURL, path, query), nil)
	if err != nil {
		return nil, fmt.Errorf("coingecko: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}
	return provider.Do(c.http, providerName, req)
}
