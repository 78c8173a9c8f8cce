// Package cryptocompare implements the gateway.Upstream adapter for the
// CryptoCompare data API, which serves the news feed.
package cryptocompare

import (
	"context"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"strings"
	"time"

	gateway "github.com/eugener/marketgate/internal"
	"github.com/eugener/marketgate/internal/provider"
)

const (
	defaultBaseURL = "https://data-api.cryptocompare.com"
	providerName   = "cryptocompare"
	apiKeyParam    = "api_key"
)

var _ gateway.Upstream = (*Client)(nil)

// Client is a CryptoCompare upstream. The API key travels as a query
// parameter and is omitted when empty.
type Client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	http    *http.Client
}

// New creates a CryptoCompare Client.
// If baseURL is empty, it defaults to "https://data-api.cryptocompare.com".
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
// The caller's query is not modified.
func (c *Client) Get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if c.apiKey != "" {
		query = maps.Clone(query)
		if query == nil {
			query = url.Values{}
		}
		query.Set(apiKeyParam, c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, provider.BuildURL(c.baseURL, path, query), nil)
	if err != nil {
		return nil, fmt.Errorf("cryptocompare: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return provider.Do(c.http, providerName, req)
}
