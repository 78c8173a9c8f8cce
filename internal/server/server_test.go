package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	gateway "github.com/eugener/marketgate/internal"
	"github.com/eugener/marketgate/internal/app"
	"github.com/eugener/marketgate/internal/circuitbreaker"
	"github.com/eugener/marketgate/internal/testutil"
)

// testEnv bundles a handler with the fakes behind it. Upstream GetFn hooks
// must be set before the first request.
type testEnv struct {
	handler http.Handler
	gecko   *testutil.FakeUpstream
	compare *testutil.FakeUpstream
	cache   *testutil.FakeCache
	store   *testutil.FakeStore
}

func newTestEnv(auth gateway.Authenticator, mutate ...func(*Deps)) *testEnv {
	env := &testEnv{
		gecko:   &testutil.FakeUpstream{ProviderName: app.ProviderCoinGecko},
		compare: &testutil.FakeUpstream{ProviderName: app.ProviderCryptoCompare},
		cache:   testutil.NewFakeCache(),
		store:   testutil.NewFakeStore(),
	}
	market := app.NewMarketService(testutil.Upstreams{
		app.ProviderCoinGecko:     env.gecko,
		app.ProviderCryptoCompare: env.compare,
	}, env.cache, app.MarketOptions{})

	deps := Deps{
		Auth:      auth,
		Market:    market,
		Watchlist: app.NewWatchlistService(env.store, market, 100, nil),
		Keys:      app.NewKeyManager(env.store),
		Calls:     env.store,
		Cache:     env.cache,
	}
	for _, m := range mutate {
		m(&deps)
	}
	env.handler = New(deps)
	return env
}

func (e *testEnv) do(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req.Header.Set("Authorization", "Bearer mg_test")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) apiError {
	t.Helper()
	var e apiError
	if err := json.Unmarshal(rec.Body.Bytes(), &e); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return e
}

const marketsBody = `[
	{"id":"bitcoin","symbol":"btc","name":"Bitcoin","current_price":65000,"market_cap_rank":1},
	{"id":"ethereum","symbol":"eth","name":"Ethereum","current_price":3000,"market_cap_rank":2}
]`

func TestHealthz(t *testing.T) {
	t.Parallel()
	env := newTestEnv(testutil.FakeAuth{})

	rec := env.do(http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec.Body.String() != "ok" {
		t.Errorf("body = %q, want %q", rec.Body.String(), "ok")
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	breakers := circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig())
	breakers.GetOrCreate(app.ProviderCoinGecko)

	env := newTestEnv(testutil.FakeAuth{}, func(d *Deps) {
		d.ReadyCheck = func(context.Context) error { return nil }
		d.Breakers = breakers
	})
	rec := env.do(http.MethodGet, "/readyz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp readyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}
	if resp.Breakers[app.ProviderCoinGecko] != "closed" {
		t.Errorf("breakers = %v, want coingecko closed", resp.Breakers)
	}

	down := newTestEnv(testutil.FakeAuth{}, func(d *Deps) {
		d.ReadyCheck = func(context.Context) error { return errors.New("database is locked") }
	})
	rec = down.do(http.MethodGet, "/readyz", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestRequestID(t *testing.T) {
	t.Parallel()
	env := newTestEnv(testutil.FakeAuth{})

	rec := env.do(http.MethodGet, "/healthz", "")
	if rec.Header().Get("X-Request-Id") == "" {
		t.Error("missing generated X-Request-Id")
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "req-abc")
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-Id"); got != "req-abc" {
		t.Errorf("X-Request-Id = %q, want req-abc", got)
	}
}

func TestRecovery(t *testing.T) {
	t.Parallel()
	env := newTestEnv(testutil.FakeAuth{})
	env.gecko.GetFn = func(context.Context, string, url.Values) ([]byte, error) {
		panic("boom")
	}

	rec := env.do(http.MethodGet, "/api/global", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if e := decodeError(t, rec); e.Error.Type != errTypeInternal {
		t.Errorf("type = %q, want %q", e.Error.Type, errTypeInternal)
	}
}

func TestMarkets_ServedFromCache(t *testing.T) {
	t.Parallel()
	env := newTestEnv(testutil.FakeAuth{})
	env.gecko.GetFn = func(context.Context, string, url.Values) ([]byte, error) {
		return []byte(marketsBody), nil
	}

	for range 2 {
		rec := env.do(http.MethodGet, "/api/coins/markets?vs_currency=usd&per_page=2", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d; body = %s", rec.Code, rec.Body.String())
		}
		var rows []gateway.CoinMarket
		if err := json.Unmarshal(rec.Body.Bytes(), &rows); err != nil {
			t.Fatal(err)
		}
		if len(rows) != 2 || rows[0].ID != "bitcoin" {
			t.Fatalf("rows = %+v", rows)
		}
	}
	if got := env.gecko.CallCount(); got != 1 {
		t.Errorf("upstream calls = %d, want 1", got)
	}
	q := env.gecko.Calls()[0].Query
	if q.Get("per_page") != "2" || q.Get("order") != "market_cap_desc" {
		t.Errorf("upstream query = %v", q)
	}
}

func TestMarkets_InvalidQuery(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		target string
	}{
		{"non-numeric per_page", "/api/coins/markets?per_page=abc"},
		{"per_page too large", "/api/coins/markets?per_page=500"},
		{"negative page", "/api/coins/markets?page=-1"},
		{"simple price without ids", "/api/simple/price?vs_currencies=usd"},
		{"bad market chart days", "/api/coins/bitcoin/market_chart?days=-3"},
		{"bad news timestamp", "/api/news?lTs=yesterday"},
		{"news limit too large", "/api/news?limit=1000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(testutil.FakeAuth{})
			rec := env.do(http.MethodGet, tt.target, "")
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400; body = %s", rec.Code, rec.Body.String())
			}
			if e := decodeError(t, rec); e.Error.Type != errTypeInvalidRequest {
				t.Errorf("type = %q, want %q", e.Error.Type, errTypeInvalidRequest)
			}
			if env.gecko.CallCount()+env.compare.CallCount() != 0 {
				t.Error("invalid input must not reach an upstream")
			}
			if env.cache.Len() != 0 {
				t.Error("invalid input must not touch the cache")
			}
		})
	}
}

func TestUpstreamErrorMapping(t *testing.T) {
	t.Parallel()

	upstreamErr := func(kind gateway.ErrorKind, status int, retryAfter time.Duration) error {
		return &gateway.UpstreamError{
			Kind:       kind,
			Provider:   app.ProviderCoinGecko,
			StatusCode: status,
			Message:    "upstream says no",
			RetryAfter: retryAfter,
		}
	}

	tests := []struct {
		name           string
		err            error
		wantStatus     int
		wantType       string
		wantRetryAfter string
	}{
		{"rate limited with header", upstreamErr(gateway.KindRateLimited, 429, 12*time.Second), 429, errTypeRateLimited, "12"},
		{"rate limited without header", upstreamErr(gateway.KindRateLimited, 429, 0), 429, errTypeRateLimited, "60"},
		{"rejected 400 passthrough", upstreamErr(gateway.KindUpstreamRejected, 400, 0), 400, errTypeUpstreamRejected, ""},
		{"rejected 404 passthrough", upstreamErr(gateway.KindUpstreamRejected, 404, 0), 404, errTypeUpstreamRejected, ""},
		{"rejected 422 passthrough", upstreamErr(gateway.KindUpstreamRejected, 422, 0), 422, errTypeUpstreamRejected, ""},
		{"rejected 401 becomes 502", upstreamErr(gateway.KindUpstreamRejected, 401, 0), 502, errTypeUpstreamRejected, ""},
		{"unavailable", upstreamErr(gateway.KindUpstreamUnavailable, 503, 0), 502, errTypeUpstreamUnavailable, ""},
		{"timeout", upstreamErr(gateway.KindTimeout, 0, 0), 504, errTypeTimeout, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(testutil.FakeAuth{})
			env.gecko.GetFn = func(context.Context, string, url.Values) ([]byte, error) {
				return nil, tt.err
			}

			rec := env.do(http.MethodGet, "/api/search/trending", "")
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d; body = %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			e := decodeError(t, rec)
			if e.Error.Type != tt.wantType {
				t.Errorf("type = %q, want %q", e.Error.Type, tt.wantType)
			}
			if got := rec.Header().Get("Retry-After"); got != tt.wantRetryAfter {
				t.Errorf("Retry-After = %q, want %q", got, tt.wantRetryAfter)
			}
			if tt.wantRetryAfter != "" && e.Error.RetryAfter == 0 {
				t.Error("retry_after missing from body")
			}
			if env.cache.Len() != 0 {
				t.Error("failures must not be cached")
			}
		})
	}
}

func TestCoin_PassesThroughUpstreamBody(t *testing.T) {
	t.Parallel()
	env := newTestEnv(testutil.FakeAuth{})
	const body = `{"id":"bitcoin","links":{"homepage":["https://bitcoin.org"]}}`
	env.gecko.GetFn = func(context.Context, string, url.Values) ([]byte, error) {
		return []byte(body), nil
	}

	rec := env.do(http.MethodGet, "/api/coins/bitcoin", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != body {
		t.Errorf("body = %s, want upstream body unchanged", rec.Body.String())
	}
	if got := env.gecko.Calls()[0].Path; got != "/coins/bitcoin" {
		t.Errorf("upstream path = %q, want /coins/bitcoin", got)
	}
}

func TestNestedRoutes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		target   string
		wantPath string
	}{
		{"/api/coins/bitcoin/market_chart?days=7", "/coins/bitcoin/market_chart"},
		{"/api/nfts/cryptopunks", "/nfts/cryptopunks"},
		{"/api/exchanges/binance", "/exchanges/binance"},
		{"/api/exchanges/binance/tickers", "/exchanges/binance/tickers"},
		{"/api/exchanges?per_page=10", "/exchanges"},
		{"/api/coins?include_platform=false", "/coins"},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(testutil.FakeAuth{})
			rec := env.do(http.MethodGet, tt.target, "")
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d; body = %s", rec.Code, rec.Body.String())
			}
			calls := env.gecko.Calls()
			if len(calls) != 1 || calls[0].Path != tt.wantPath {
				t.Errorf("calls = %+v, want one call to %s", calls, tt.wantPath)
			}
		})
	}
}

func TestNews_PatchesEmptyImages(t *testing.T) {
	t.Parallel()
	env := newTestEnv(testutil.FakeAuth{})
	env.compare.GetFn = func(context.Context, string, url.Values) ([]byte, error) {
		return []byte(`{"Data":[{"TITLE":"a","IMAGE_URL":""},{"TITLE":"b","IMAGE_URL":"https://img/b.png"}]}`), nil
	}

	rec := env.do(http.MethodGet, "/api/news?lang=EN&limit=2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), app.FallbackNewsImage) {
		t.Errorf("body = %s, want fallback image", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "https://img/b.png") {
		t.Error("existing image should be kept")
	}
	if q := env.compare.Calls()[0].Query; q.Get("limit") != "2" {
		t.Errorf("upstream limit = %q, want 2", q.Get("limit"))
	}
}

func TestSimplePrice(t *testing.T) {
	t.Parallel()
	env := newTestEnv(testutil.FakeAuth{})
	env.gecko.GetFn = func(context.Context, string, url.Values) ([]byte, error) {
		return []byte(`{"bitcoin":{"usd":65000,"usd_24h_change":1.5}}`), nil
	}

	rec := env.do(http.MethodGet, "/api/simple/price?ids=bitcoin&vs_currencies=usd", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rec.Code, rec.Body.String())
	}
	var prices map[string]gateway.PriceInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &prices); err != nil {
		t.Fatal(err)
	}
	if prices["bitcoin"]["usd"] != 65000 {
		t.Errorf("prices = %v", prices)
	}
	if q := env.gecko.Calls()[0].Query; q.Get("include_24hr_change") != "true" {
		t.Errorf("upstream query = %v, want include_24hr_change", q)
	}
}

func TestProviderNotConfigured(t *testing.T) {
	t.Parallel()
	gecko := &testutil.FakeUpstream{ProviderName: app.ProviderCoinGecko}
	market := app.NewMarketService(testutil.Upstreams{app.ProviderCoinGecko: gecko}, testutil.NewFakeCache(), app.MarketOptions{})
	h := New(Deps{Auth: testutil.FakeAuth{}, Market: market})

	req := httptest.NewRequest(http.MethodGet, "/api/news", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502; body = %s", rec.Code, rec.Body.String())
	}
	if e := decodeError(t, rec); e.Error.Type != errTypeUpstreamUnavailable {
		t.Errorf("type = %q, want %q", e.Error.Type, errTypeUpstreamUnavailable)
	}
}
