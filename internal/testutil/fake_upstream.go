// Package testutil provides configurable test fakes for gateway interfaces.
package testutil

import (
	"context"
	"net/url"
	"sync"

	gateway "github.com/eugener/marketgate/internal"
)

// UpstreamCall is one request observed by FakeUpstream.
type UpstreamCall struct {
	Path  string
	Query url.Values
}

// FakeUpstream is a configurable gateway.Upstream that counts its calls.
type FakeUpstream struct {
	ProviderName string
	GetFn        func(ctx context.Context, path string, query url.Values) ([]byte, error)

	mu    sync.Mutex
	calls []UpstreamCall
}

// Name returns the configured provider name.
func (f *FakeUpstream) Name() string { return f.ProviderName }

// Get records the call and delegates to GetFn, or returns "{}".
func (f *FakeUpstream) Get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, UpstreamCall{Path: path, Query: query})
	f.mu.Unlock()
	if f.GetFn != nil {
		return f.GetFn(ctx, path, query)
	}
	return []byte(`{}`), nil
}

// CallCount returns the number of Get calls so far.
func (f *FakeUpstream) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// Calls returns a copy of the observed calls.
func (f *FakeUpstream) Calls() []UpstreamCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]UpstreamCall, len(f.calls))
	copy(out, f.calls)
	return out
}

// Upstreams maps provider names to upstreams; it satisfies the resolver
// interface consumed by app.MarketService.
type Upstreams map[string]gateway.Upstream

// Get returns the upstream registered under name.
func (u Upstreams) Get(name string) (gateway.Upstream, error) {
	up, ok := u[name]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	return up, nil
}
