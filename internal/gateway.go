// Package gateway defines domain types and interfaces for the marketgate
// market-data gateway. This package has no project imports -- it is the
// dependency root.
package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"time"
)

// --- Upstream ---

// Upstream is a third-party market-data REST API reachable over HTTP GET.
// Implementations inject their own credentials and return classified errors
// (*UpstreamError) for non-2xx responses and transport failures.
type Upstream interface {
	// Name returns the provider identifier (e.g., "coingecko").
	Name() string
	// Get issues a GET for path (relative to the provider base URL) and
	// returns the raw response body of a 2xx response.
	Get(ctx context.Context, path string, query url.Values) ([]byte, error)
}

// --- Market data ---

// CoinMarket is one row of the markets listing.
type CoinMarket struct {
	ID                       string   `json:"id"`
	Symbol                   string   `json:"symbol"`
	Name                     string   `json:"name"`
	Image                    string   `json:"image"`
	CurrentPrice             *float64 `json:"current_price"`
	MarketCap                *float64 `json:"market_cap"`
	MarketCapRank            *int     `json:"market_cap_rank"`
	TotalVolume              *float64 `json:"total_volume"`
	High24h                  *float64 `json:"high_24h"`
	Low24h                   *float64 `json:"low_24h"`
	PriceChangePercentage24h *float64 `json:"price_change_percentage_24h"`
	LastUpdated              string   `json:"last_updated,omitempty"`
}

// CoinDetail is the subset of a single-coin payload the gateway types.
type CoinDetail struct {
	ID            string            `json:"id"`
	Symbol        string            `json:"symbol"`
	Name          string            `json:"name"`
	MarketCapRank *int              `json:"market_cap_rank"`
	Description   map[string]string `json:"description,omitempty"`
	MarketData    *struct {
		CurrentPrice map[string]float64 `json:"current_price"`
		MarketCap    map[string]float64 `json:"market_cap"`
	} `json:"market_data,omitempty"`
	LastUpdated string `json:"last_updated,omitempty"`
}

// PriceInfo holds per-currency values for one coin from the simple price
// endpoint, e.g. {"usd": 1.0, "usd_24h_change": -0.2, "last_updated_at": ...}.
type PriceInfo map[string]float64

// TrendingResult is the trending search payload.
type TrendingResult struct {
	Coins []struct {
		Item TrendingCoin `json:"item"`
	} `json:"coins"`
	NFTs []struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Symbol string `json:"symbol"`
		Thumb  string `json:"thumb"`
	} `json:"nfts"`
}

// TrendingCoin is a single trending coin entry.
type TrendingCoin struct {
	ID            string `json:"id"`
	CoinID        int    `json:"coin_id"`
	Name          string `json:"name"`
	Symbol        string `json:"symbol"`
	MarketCapRank *int   `json:"market_cap_rank"`
	Thumb         string `json:"thumb"`
	Score         int    `json:"score"`
}

// GlobalMarketStats is the global market overview payload.
type GlobalMarketStats struct {
	Data struct {
		ActiveCryptocurrencies          int                `json:"active_cryptocurrencies"`
		Markets                         int                `json:"markets"`
		TotalMarketCap                  map[string]float64 `json:"total_market_cap"`
		TotalVolume                     map[string]float64 `json:"total_volume"`
		MarketCapPercentage             map[string]float64 `json:"market_cap_percentage"`
		MarketCapChangePercentage24hUSD float64            `json:"market_cap_change_percentage_24h_usd"`
		UpdatedAt                       int64              `json:"updated_at"`
	} `json:"data"`
}

// NFTListItem is one row of the NFT collection listing.
type NFTListItem struct {
	ID              string `json:"id"`
	ContractAddress string `json:"contract_address"`
	Name            string `json:"name"`
	AssetPlatformID string `json:"asset_platform_id"`
	Symbol          string `json:"symbol"`
}

// --- Watchlist ---

// WatchlistEntry is a coin a user has saved to their watchlist.
// At most one entry exists per (UserID, CoinID).
type WatchlistEntry struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"userId"`
	CoinID    string    `json:"coinId"`
	CoinName  string    `json:"coinName"`
	Symbol    string    `json:"symbol"`
	Image     string    `json:"image,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// EnrichedWatchlistEntry is a WatchlistEntry joined with live market data.
// Market fields are nil when the live lookup failed or omitted the coin.
type EnrichedWatchlistEntry struct {
	WatchlistEntry
	MarketCapRank  *int     `json:"marketCapRank,omitempty"`
	CurrentPrice   *float64 `json:"currentPrice,omitempty"`
	PriceChange24h *float64 `json:"priceChange24h,omitempty"`
	MarketCap      *float64 `json:"marketCap,omitempty"`
	High24h        *float64 `json:"high24h,omitempty"`
	Low24h         *float64 `json:"low24h,omitempty"`
	LastUpdated    string   `json:"lastUpdated,omitempty"`
}

// --- Identity ---

// APIKey represents an API key for authentication.
type APIKey struct {
	ID         string     `json:"id"`
	KeyHash    string     `json:"-"`          // SHA-256 hex, never exposed
	KeyPrefix  string     `json:"key_prefix"` // first chars for display
	UserID     int64      `json:"user_id"`
	Role       string     `json:"role"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	Blocked    bool       `json:"blocked"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Identity is the authenticated caller context attached to request context.
type Identity struct {
	Subject    string     `json:"subject"` // key prefix
	KeyID      string     `json:"key_id"`
	UserID     int64      `json:"user_id"`
	Role       string     `json:"role"` // "admin", "member"
	Perms      Permission `json:"-"`
	AuthMethod string     `json:"auth_method"`
}

// Permission is a bitmask representing authorization capabilities.
type Permission uint32

const (
	PermUseWatchlist Permission = 1 << iota // read and edit own watchlist
	PermPurgeCache                          // drop cached upstream responses
	PermManageKeys                          // create, list and revoke API keys; read call stats
)

// Can reports whether the identity has the given permission.
func (id *Identity) Can(p Permission) bool { return id.Perms&p == p }

// RolePermissions maps role names to their permission bitmasks.
var RolePermissions = map[string]Permission{
	"admin":  PermUseWatchlist | PermPurgeCache | PermManageKeys,
	"member": PermUseWatchlist,
}

// --- Upstream call log ---

// UpstreamCall records the outcome of one gateway fetch.
type UpstreamCall struct {
	ID         string    `json:"id"`
	Provider   string    `json:"provider"`
	Endpoint   string    `json:"endpoint"`
	Cached     bool      `json:"cached"`
	StatusCode int       `json:"status_code"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	LatencyMs  int       `json:"latency_ms"`
	RequestID  string    `json:"request_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// CallStats aggregates upstream call records for one endpoint class.
type CallStats struct {
	Endpoint string `json:"endpoint"`
	Total    int64  `json:"total"`
	Cached   int64  `json:"cached"`
	Errors   int64  `json:"errors"`
}

// --- Context keys ---

type contextKey int

const ctxKeyMeta contextKey = 0

// requestMeta bundles per-request values into a single context allocation.
// The Identity field is set later by the authenticate middleware via mutation
// of the same pointer.
type requestMeta struct {
	RequestID string
	Identity  *Identity
}

func metaFromContext(ctx context.Context) *requestMeta {
	m, _ := ctx.Value(ctxKeyMeta).(*requestMeta)
	return m
}

// IdentityFromContext extracts the authenticated identity from context.
func IdentityFromContext(ctx context.Context) *Identity {
	if m := metaFromContext(ctx); m != nil {
		return m.Identity
	}
	return nil
}

// ContextWithIdentity stores the identity in the existing requestMeta if present,
// falling back to new metadata if none exists (e.g., in tests).
func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	if m := metaFromContext(ctx); m != nil {
		m.Identity = id
		return ctx
	}
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{Identity: id})
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if m := metaFromContext(ctx); m != nil {
		return m.RequestID
	}
	return ""
}

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{RequestID: id})
}

// --- Shared constants and helpers ---

// APIKeyPrefix is the prefix for all marketgate API keys.
const APIKeyPrefix = "mg_"

// KeyDisplayPrefix returns the first 12 characters of a raw key, stored for
// display and logging.
func KeyDisplayPrefix(raw string) string {
	if len(raw) > 12 {
		return raw[:12]
	}
	return raw
}

// HashKey returns the hex-encoded SHA-256 hash of a raw API key.
func HashKey(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// Authenticator validates request credentials and returns the caller identity.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)
}
