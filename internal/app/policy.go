package app

import (
	"crypto/sha256"
	"encoding/hex"
	"maps"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"time"

	gateway "github.com/eugener/marketgate/internal"
)

// EndpointClass names a family of upstream endpoints sharing one policy.
type EndpointClass string

const (
	ClassMarkets         EndpointClass = "markets"
	ClassCoin            EndpointClass = "coin"
	ClassMarketChart     EndpointClass = "market_chart"
	ClassCoins           EndpointClass = "coins"
	ClassSimplePrice     EndpointClass = "simple_price"
	ClassTrending        EndpointClass = "trending"
	ClassGlobal          EndpointClass = "global"
	ClassNFTList         EndpointClass = "nft_list"
	ClassNFT             EndpointClass = "nft"
	ClassExchanges       EndpointClass = "exchanges"
	ClassExchange        EndpointClass = "exchange"
	ClassExchangeTickers EndpointClass = "exchange_tickers"
	ClassNews            EndpointClass = "news"
)

// Upstream provider names.
const (
	ProviderCoinGecko     = "coingecko"
	ProviderCryptoCompare = "cryptocompare"
)

// Policy describes how one endpoint class is fetched and cached.
type Policy struct {
	Provider   string
	Path       string        // "{id}" is replaced by the request ID
	TTL        time.Duration // 0 disables caching
	Defaults   url.Values
	ListParams []string     // comma lists normalized before keying
	Retry      *RetryConfig // nil: failures surface immediately
}

// needsID reports whether the path addresses a single resource.
func (p Policy) needsID() bool { return strings.Contains(p.Path, "{id}") }

// DefaultPolicies returns the built-in policy table. High-churn listings get
// short TTLs, slow-moving aggregates medium ones and metadata-like listings
// long ones; per-resource detail endpoints and news are not cached.
func DefaultPolicies() map[EndpointClass]Policy {
	return map[EndpointClass]Policy{
		ClassMarkets: {
			Provider: ProviderCoinGecko,
			Path:     "/coins/markets",
			TTL:      30 * time.Second,
			Defaults: url.Values{
				"vs_currency": {"usd"},
				"order":       {"market_cap_desc"},
				"per_page":    {"100"},
				"page":        {"1"},
			},
			ListParams: []string{"ids", "price_change_percentage"},
		},
		ClassSimplePrice: {
			Provider: ProviderCoinGecko,
			Path:     "/simple/price",
			TTL:      30 * time.Second,
			Defaults: url.Values{
				"vs_currencies":           {"usd"},
				"include_market_cap":      {"true"},
				"include_24hr_vol":        {"true"},
				"include_24hr_change":     {"true"},
				"include_last_updated_at": {"true"},
			},
			ListParams: []string{"ids", "vs_currencies"},
		},
		ClassTrending: {
			Provider: ProviderCoinGecko,
			Path:     "/search/trending",
			TTL:      2 * time.Minute,
		},
		ClassGlobal: {
			Provider: ProviderCoinGecko,
			Path:     "/global",
			TTL:      2 * time.Minute,
		},
		ClassMarketChart: {
			Provider: ProviderCoinGecko,
			Path:     "/coins/{id}/market_chart",
			TTL:      2 * time.Minute,
			Defaults: url.Values{
				"vs_currency": {"usd"},
				"days":        {"30"},
			},
		},
		ClassExchanges: {
			Provider: ProviderCoinGecko,
			Path:     "/exchanges",
			TTL:      5 * time.Minute,
		},
		ClassNFTList: {
			Provider: ProviderCoinGecko,
			Path:     "/nfts/list",
			TTL:      10 * time.Minute,
			Defaults: url.Values{"order": {"market_cap_usd_desc"}},
			Retry:    &RetryConfig{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second},
		},
		ClassCoin:            {Provider: ProviderCoinGecko, Path: "/coins/{id}"},
		ClassCoins:           {Provider: ProviderCoinGecko, Path: "/coins"},
		ClassNFT:             {Provider: ProviderCoinGecko, Path: "/nfts/{id}"},
		ClassExchange:        {Provider: ProviderCoinGecko, Path: "/exchanges/{id}"},
		ClassExchangeTickers: {Provider: ProviderCoinGecko, Path: "/exchanges/{id}/tickers"},
		ClassNews: {
			Provider: ProviderCryptoCompare,
			Path:     "/news/v1/article/list",
			Defaults: url.Values{"lang": {"EN"}, "limit": {"4"}},
		},
	}
}

// credentialParams are injected by the upstream clients. They never reach a
// cache key and are stripped from caller input.
var credentialParams = map[string]struct{}{
	"api_key":           {},
	"x_cg_demo_api_key": {},
	"x_cg_pro_api_key":  {},
}

// effectiveParams merges params over the policy defaults (caller wins),
// drops empty values and credential names, and normalizes list params.
// The result is exactly what is sent upstream.
func (p Policy) effectiveParams(params url.Values) url.Values {
	out := make(url.Values, len(p.Defaults)+len(params))
	for k, v := range p.Defaults {
		out[k] = slices.Clone(v)
	}
	for k, v := range params {
		if _, cred := credentialParams[strings.ToLower(k)]; cred {
			continue
		}
		vals := slices.DeleteFunc(slices.Clone(v), func(s string) bool {
			return strings.TrimSpace(s) == ""
		})
		if len(vals) == 0 {
			continue
		}
		out[k] = vals
	}
	for _, k := range p.ListParams {
		if _, ok := out[k]; !ok {
			continue
		}
		if list := normalizeList(strings.Join(out[k], ",")); list != "" {
			out.Set(k, list)
		} else {
			delete(out, k)
		}
	}
	return out
}

// normalizeList trims, lower-cases, deduplicates and sorts a comma list.
func normalizeList(s string) string {
	parts := strings.Split(s, ",")
	items := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			items = append(items, p)
		}
	}
	slices.Sort(items)
	return strings.Join(slices.Compact(items), ",")
}

// cacheKey derives the cache key for a fully merged parameter set.
// url.Values.Encode sorts by key, so equal parameter sets encode equally.
func cacheKey(class EndpointClass, id string, params url.Values) string {
	h := sha256.New()
	h.Write([]byte(id))
	h.Write([]byte{0})
	h.Write([]byte(params.Encode()))
	return string(class) + ":" + hex.EncodeToString(h.Sum(nil))
}

var resourceID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// resolvePath substitutes id into the policy path.
func (p Policy) resolvePath(id string) (string, error) {
	if !p.needsID() {
		return p.Path, nil
	}
	if !resourceID.MatchString(id) {
		return "", gateway.InvalidInput("invalid resource id %q", id)
	}
	return strings.ReplaceAll(p.Path, "{id}", id), nil
}

// applyOverrides returns a copy of policies with per-class TTL and NFT retry
// overrides applied. Unknown classes are ignored.
func applyOverrides(policies map[EndpointClass]Policy, ttls map[EndpointClass]time.Duration, retry *RetryConfig) map[EndpointClass]Policy {
	out := maps.Clone(policies)
	for class, ttl := range ttls {
		if p, ok := out[class]; ok && ttl >= 0 {
			p.TTL = ttl
			out[class] = p
		}
	}
	if retry != nil {
		if p, ok := out[ClassNFTList]; ok {
			r := *retry
			p.Retry = &r
			out[ClassNFTList] = p
		}
	}
	return out
}
