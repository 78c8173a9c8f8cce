package app

import (
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	gateway "github.com/eugener/marketgate/internal"
)

func TestCacheKey_Deterministic(t *testing.T) {
	t.Parallel()

	pol := DefaultPolicies()[ClassMarkets]
	omitted := cacheKey(ClassMarkets, "", pol.effectiveParams(nil))

	tests := []struct {
		name   string
		params url.Values
		same   bool
	}{
		{"explicit defaults", url.Values{
			"vs_currency": {"usd"}, "order": {"market_cap_desc"}, "per_page": {"100"}, "page": {"1"},
		}, true},
		{"empty values dropped", url.Values{"category": {""}, "ids": {" "}}, true},
		{"credentials dropped", url.Values{"x_cg_demo_api_key": {"k"}, "API_KEY": {"k"}}, true},
		{"different page", url.Values{"page": {"2"}}, false},
		{"different currency", url.Values{"vs_currency": {"eur"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := cacheKey(ClassMarkets, "", pol.effectiveParams(tt.params))
			if (got == omitted) != tt.same {
				t.Errorf("key equal = %v, want %v", got == omitted, tt.same)
			}
		})
	}
}

func TestCacheKey_ListOrderInsensitive(t *testing.T) {
	t.Parallel()

	pol := DefaultPolicies()[ClassMarkets]
	a := cacheKey(ClassMarkets, "", pol.effectiveParams(url.Values{"ids": {"ethereum,Bitcoin"}}))
	b := cacheKey(ClassMarkets, "", pol.effectiveParams(url.Values{"ids": {"bitcoin, ethereum,bitcoin"}}))
	if a != b {
		t.Error("ids order, case and duplicates should not change the key")
	}
}

func TestCacheKey_ClassAndIDSeparate(t *testing.T) {
	t.Parallel()

	k1 := cacheKey(ClassMarketChart, "bitcoin", nil)
	k2 := cacheKey(ClassMarketChart, "ethereum", nil)
	k3 := cacheKey(ClassGlobal, "bitcoin", nil)
	if k1 == k2 || k1 == k3 {
		t.Error("keys should differ by id and class")
	}
	if !strings.HasPrefix(k1, "market_chart:") {
		t.Errorf("key = %q, want class prefix", k1)
	}
}

func TestNormalizeList(t *testing.T) {
	t.Parallel()

	tests := []struct{ in, want string }{
		{"", ""},
		{" , ,", ""},
		{"Bitcoin", "bitcoin"},
		{"solana, bitcoin ,SOLANA", "bitcoin,solana"},
	}
	for _, tt := range tests {
		if got := normalizeList(tt.in); got != tt.want {
			t.Errorf("normalizeList(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestResolvePath(t *testing.T) {
	t.Parallel()

	pol := DefaultPolicies()[ClassExchangeTickers]
	got, err := pol.resolvePath("binance")
	if err != nil || got != "/exchanges/binance/tickers" {
		t.Errorf("resolvePath = %q, %v", got, err)
	}

	for _, bad := range []string{"", "../x", "a/b", "a?b=c", strings.Repeat("a", 200)} {
		if _, err := pol.resolvePath(bad); !errors.Is(err, gateway.ErrInvalidInput) {
			t.Errorf("resolvePath(%q) err = %v, want ErrInvalidInput", bad, err)
		}
	}

	global := DefaultPolicies()[ClassGlobal]
	if got, err := global.resolvePath("ignored"); err != nil || got != "/global" {
		t.Errorf("resolvePath on collection = %q, %v", got, err)
	}
}

func TestDefaultPolicies_TTLTiers(t *testing.T) {
	t.Parallel()

	p := DefaultPolicies()
	tests := []struct {
		class EndpointClass
		ttl   time.Duration
	}{
		{ClassMarkets, 30 * time.Second},
		{ClassSimplePrice, 30 * time.Second},
		{ClassTrending, 2 * time.Minute},
		{ClassGlobal, 2 * time.Minute},
		{ClassMarketChart, 2 * time.Minute},
		{ClassExchanges, 5 * time.Minute},
		{ClassNFTList, 10 * time.Minute},
		{ClassCoin, 0},
		{ClassNews, 0},
	}
	for _, tt := range tests {
		if got := p[tt.class].TTL; got != tt.ttl {
			t.Errorf("%s TTL = %v, want %v", tt.class, got, tt.ttl)
		}
	}
	if p[ClassNFTList].Retry == nil {
		t.Error("NFT listing should retry rate limits")
	}
	if p[ClassNews].Provider != ProviderCryptoCompare {
		t.Error("news should come from cryptocompare")
	}
}

func TestApplyOverrides(t *testing.T) {
	t.Parallel()

	base := DefaultPolicies()
	retry := &RetryConfig{MaxRetries: 1, BaseDelay: time.Millisecond}
	got := applyOverrides(base, map[EndpointClass]time.Duration{
		ClassMarkets: time.Minute,
		ClassCoin:    10 * time.Second,
		"unknown":    time.Hour,
	}, retry)

	if got[ClassMarkets].TTL != time.Minute || got[ClassCoin].TTL != 10*time.Second {
		t.Errorf("overrides not applied: markets=%v coin=%v", got[ClassMarkets].TTL, got[ClassCoin].TTL)
	}
	if _, ok := got["unknown"]; ok {
		t.Error("unknown class should be ignored")
	}
	if got[ClassNFTList].Retry.MaxRetries != 1 {
		t.Error("NFT retry override not applied")
	}
	if base[ClassMarkets].TTL != 30*time.Second {
		t.Error("base table should not be mutated")
	}
}
