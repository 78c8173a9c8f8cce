// Package app implements the market data gateway and the watchlist
// aggregator on top of the upstream providers, the response cache and the
// storage layer.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	gateway "github.com/eugener/marketgate/internal"
	"github.com/eugener/marketgate/internal/cache"
	"github.com/eugener/marketgate/internal/circuitbreaker"
	"github.com/eugener/marketgate/internal/provider"
	"github.com/eugener/marketgate/internal/ratelimit"
	"github.com/eugener/marketgate/internal/telemetry"
)

// UpstreamResolver looks up upstreams by provider name.
// *provider.Registry satisfies it.
type UpstreamResolver interface {
	Get(name string) (gateway.Upstream, error)
}

// CallRecorder receives one record per gateway fetch. It must not block.
type CallRecorder interface {
	Record(call gateway.UpstreamCall)
}

// MarketOptions configures optional MarketService collaborators.
// Zero values disable the corresponding feature.
type MarketOptions struct {
	TTLs     map[EndpointClass]time.Duration // per-class TTL overrides
	NFTRetry *RetryConfig                    // overrides the NFT listing retry
	Coalesce bool                            // single-flight identical misses

	Metrics  *telemetry.Metrics
	Breakers *circuitbreaker.Registry
	Budget   *ratelimit.Registry
	Limits   map[string]ratelimit.Limits // outbound budget per provider
	Recorder CallRecorder
}

// MarketService is the single choke point for upstream market-data calls.
// Per call it validates, consults the cache, calls the upstream on a miss,
// caches successful responses only and returns classified errors.
type MarketService struct {
	upstreams UpstreamResolver
	cache     cache.Cache
	policies  map[EndpointClass]Policy

	flight   *singleflight.Group
	metrics  *telemetry.Metrics
	breakers *circuitbreaker.Registry
	budget   *ratelimit.Registry
	limits   map[string]ratelimit.Limits
	recorder CallRecorder
	tracer   trace.Tracer
}

// NewMarketService returns a MarketService using the default policy table
// adjusted by opts.
func NewMarketService(upstreams UpstreamResolver, c cache.Cache, opts MarketOptions) *MarketService {
	s := &MarketService{
		upstreams: upstreams,
		cache:     c,
		policies:  applyOverrides(DefaultPolicies(), opts.TTLs, opts.NFTRetry),
		metrics:   opts.Metrics,
		breakers:  opts.Breakers,
		budget:    opts.Budget,
		limits:    opts.Limits,
		recorder:  opts.Recorder,
		tracer:    telemetry.Tracer("marketgate/app"),
	}
	if opts.Coalesce {
		s.flight = &singleflight.Group{}
	}
	return s
}

// Policy returns the effective policy for class.
func (s *MarketService) Policy(class EndpointClass) (Policy, bool) {
	p, ok := s.policies[class]
	return p, ok
}

// Fetch is the generic fetch-or-cache operation. It returns the upstream
// JSON body, from cache when an unexpired entry exists.
func (s *MarketService) Fetch(ctx context.Context, req Request) ([]byte, error) {
	pol, ok := s.policies[req.Class]
	if !ok {
		return nil, gateway.InvalidInput("unknown endpoint class %q", req.Class)
	}
	path, err := pol.resolvePath(req.ID)
	if err != nil {
		return nil, err
	}
	id := req.ID
	if !pol.needsID() {
		id = ""
	}
	params := pol.effectiveParams(req.Params)

	ctx, span := s.tracer.Start(ctx, "market.fetch", trace.WithAttributes(
		attribute.String("market.endpoint", string(req.Class)),
		attribute.String("market.provider", pol.Provider),
	))
	defer span.End()

	start := time.Now()
	var key string
	if pol.TTL > 0 {
		key = cacheKey(req.Class, id, params)
		if body, ok := s.cache.Get(ctx, key); ok {
			span.SetAttributes(attribute.Bool("market.cache_hit", true))
			if s.metrics != nil {
				s.metrics.CacheHits.WithLabelValues(string(req.Class)).Inc()
			}
			s.record(ctx, pol.Provider, req.Class, true, start, nil)
			return body, nil
		}
		if s.metrics != nil {
			s.metrics.CacheMisses.WithLabelValues(string(req.Class)).Inc()
		}
	}
	span.SetAttributes(attribute.Bool("market.cache_hit", false))

	load := func(ctx context.Context) ([]byte, error) {
		return s.load(ctx, req.Class, pol, key, path, params)
	}
	if pol.Retry != nil {
		load = WithRateLimitRetry(*pol.Retry, load)
	}

	body, err := load(ctx)
	s.record(ctx, pol.Provider, req.Class, false, start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return body, nil
}

// load performs the upstream call, coalescing identical concurrent misses
// when enabled. The shared call does not inherit any one caller's
// cancellation; each caller stops waiting on its own context and the
// provider timeout bounds the call itself.
func (s *MarketService) load(ctx context.Context, class EndpointClass, pol Policy, key, path string, params url.Values) ([]byte, error) {
	if s.flight == nil || key == "" {
		return s.call(ctx, class, pol, key, path, params)
	}
	shared := context.WithoutCancel(ctx)
	ch := s.flight.DoChan(key, func() (any, error) {
		return s.call(shared, class, pol, key, path, params)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	case <-ctx.Done():
		return nil, provider.TransportError(pol.Provider, ctx.Err())
	}
}

// call issues one upstream request. The cache is written only after a
// successful response carrying valid JSON.
func (s *MarketService) call(ctx context.Context, class EndpointClass, pol Policy, key, path string, params url.Values) ([]byte, error) {
	up, err := s.upstreams.Get(pol.Provider)
	if err != nil {
		return nil, &gateway.UpstreamError{
			Kind:     gateway.KindUpstreamUnavailable,
			Provider: pol.Provider,
			Message:  "provider not configured",
			Err:      err,
		}
	}
	if err := s.admit(pol.Provider); err != nil {
		return nil, err
	}

	start := time.Now()
	body, err := up.Get(ctx, path, params)
	if err == nil && !gjson.ValidBytes(body) {
		err = &gateway.UpstreamError{
			Kind:       gateway.KindUpstreamUnavailable,
			Provider:   pol.Provider,
			StatusCode: http.StatusOK,
			Message:    "invalid JSON payload",
		}
	}
	s.observe(pol.Provider, class, time.Since(start), err)
	if err != nil {
		s.pause(pol.Provider, err)
		slog.LogAttrs(ctx, slog.LevelWarn, "upstream call failed",
			slog.String("provider", pol.Provider),
			slog.String("endpoint", string(class)),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	if key != "" {
		s.cache.Set(ctx, key, body, pol.TTL)
	}
	return body, nil
}

// admit applies the circuit breaker and the outbound budget. A half-open
// breaker slot is handed back when the budget then refuses the call.
func (s *MarketService) admit(provider string) error {
	var b *circuitbreaker.Breaker
	if s.breakers != nil {
		b = s.breakers.GetOrCreate(provider)
		if !b.Allow() {
			s.reject(provider, "breaker_open")
			return &gateway.UpstreamError{
				Kind:     gateway.KindUpstreamUnavailable,
				Provider: provider,
				Message:  "circuit open",
			}
		}
	}
	if s.budget == nil {
		return nil
	}
	limits, ok := s.limits[provider]
	if !ok {
		return nil
	}
	res := s.budget.GetOrCreate(provider, limits).Allow()
	if res.Allowed {
		return nil
	}
	if b != nil {
		b.Release()
	}
	s.reject(provider, "budget_exhausted")
	return &gateway.UpstreamError{
		Kind:       gateway.KindRateLimited,
		Provider:   provider,
		Message:    "outbound request budget exhausted",
		RetryAfter: time.Duration(math.Ceil(res.RetryAfterSeconds)) * time.Second,
	}
}

// pause honours an explicit Retry-After from an upstream 429 by holding
// every further call to that provider until it passes.
func (s *MarketService) pause(provider string, err error) {
	limits, ok := s.limits[provider]
	if s.budget == nil || !ok {
		return
	}
	var ue *gateway.UpstreamError
	if errors.As(err, &ue) && ue.Kind == gateway.KindRateLimited && ue.RetryAfter > 0 {
		s.budget.GetOrCreate(provider, limits).PauseFor(ue.RetryAfter)
	}
}

func (s *MarketService) reject(provider, reason string) {
	if s.metrics != nil {
		s.metrics.UpstreamRejects.WithLabelValues(provider, reason).Inc()
	}
}

// observe feeds the outcome of an upstream round trip to the breaker and
// the upstream metrics.
func (s *MarketService) observe(provider string, class EndpointClass, elapsed time.Duration, err error) {
	if s.breakers != nil {
		b := s.breakers.GetOrCreate(provider)
		if w := circuitbreaker.ClassifyError(err); w > 0 {
			b.RecordError(w)
		} else {
			b.RecordSuccess()
		}
	}
	if s.metrics == nil {
		return
	}
	s.metrics.UpstreamDuration.WithLabelValues(provider, string(class)).Observe(elapsed.Seconds())
	if err != nil {
		s.metrics.UpstreamErrors.WithLabelValues(provider, errorKind(err)).Inc()
	}
}

// record hands the call outcome to the recorder.
func (s *MarketService) record(ctx context.Context, provider string, class EndpointClass, cached bool, start time.Time, err error) {
	if s.recorder == nil {
		return
	}
	call := gateway.UpstreamCall{
		Provider:   provider,
		Endpoint:   string(class),
		Cached:     cached,
		StatusCode: http.StatusOK,
		LatencyMs:  int(time.Since(start).Milliseconds()),
		RequestID:  gateway.RequestIDFromContext(ctx),
		CreatedAt:  time.Now().UTC(),
	}
	if err != nil {
		call.StatusCode = 0
		call.ErrorKind = errorKind(err)
		var ue *gateway.UpstreamError
		if errors.As(err, &ue) {
			call.StatusCode = ue.StatusCode
		}
	}
	s.recorder.Record(call)
}

func errorKind(err error) string {
	var ue *gateway.UpstreamError
	if errors.As(err, &ue) {
		return ue.Kind.String()
	}
	if errors.Is(err, gateway.ErrInvalidInput) {
		return "invalid_input"
	}
	return "internal"
}

// fetchAs runs Fetch and decodes the body into T. A body that does not
// decode is dropped from the cache so the next call goes upstream again.
func fetchAs[T any](ctx context.Context, s *MarketService, req Request) (T, error) {
	body, err := s.Fetch(ctx, req)
	if err != nil {
		var zero T
		return zero, err
	}
	pol := s.policies[req.Class]
	out, err := decode[T](pol.Provider, body)
	if err != nil {
		s.forget(ctx, pol, req)
	}
	return out, err
}

// forget removes the cache entry req would be served from.
func (s *MarketService) forget(ctx context.Context, pol Policy, req Request) {
	if pol.TTL <= 0 {
		return
	}
	id := req.ID
	if !pol.needsID() {
		id = ""
	}
	s.cache.Delete(ctx, cacheKey(req.Class, id, pol.effectiveParams(req.Params)))
}

// decode unmarshals an upstream payload. A payload that does not match the
// expected shape is reported as an unavailable upstream.
func decode[T any](provider string, body []byte) (T, error) {
	var out T
	if err := json.Unmarshal(body, &out); err != nil {
		return out, &gateway.UpstreamError{
			Kind:       gateway.KindUpstreamUnavailable,
			Provider:   provider,
			StatusCode: http.StatusOK,
			Message:    fmt.Sprintf("unexpected payload: %v", err),
			Err:        err,
		}
	}
	return out, nil
}

// --- Typed operations ---

// FetchMarkets returns rows of the markets listing.
func (s *MarketService) FetchMarkets(ctx context.Context, q MarketsQuery) ([]gateway.CoinMarket, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return fetchAs[[]gateway.CoinMarket](ctx, s, q.Request())
}

// FetchByID returns a single coin.
func (s *MarketService) FetchByID(ctx context.Context, coinID string) (*gateway.CoinDetail, error) {
	return fetchAs[*gateway.CoinDetail](ctx, s, Request{Class: ClassCoin, ID: coinID})
}

// FetchSimplePrice returns per-coin prices together with market cap, 24h
// volume, 24h change and last-updated values.
func (s *MarketService) FetchSimplePrice(ctx context.Context, q SimplePriceQuery) (map[string]gateway.PriceInfo, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return fetchAs[map[string]gateway.PriceInfo](ctx, s, q.Request())
}

// FetchTrending returns the trending search result.
func (s *MarketService) FetchTrending(ctx context.Context) (*gateway.TrendingResult, error) {
	return fetchAs[*gateway.TrendingResult](ctx, s, Request{Class: ClassTrending})
}

// FetchGlobal returns global market statistics.
func (s *MarketService) FetchGlobal(ctx context.Context) (*gateway.GlobalMarketStats, error) {
	return fetchAs[*gateway.GlobalMarketStats](ctx, s, Request{Class: ClassGlobal})
}

// FetchNFTList returns rows of the NFT collection listing. Rate-limited
// attempts are retried per the NFT listing policy.
func (s *MarketService) FetchNFTList(ctx context.Context, q NFTListQuery) ([]gateway.NFTListItem, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return fetchAs[[]gateway.NFTListItem](ctx, s, q.Request())
}

// FetchNFT returns a single NFT collection payload.
func (s *MarketService) FetchNFT(ctx context.Context, id string) (json.RawMessage, error) {
	return s.Fetch(ctx, Request{Class: ClassNFT, ID: id})
}

// FetchMarketChart returns a coin's price, market cap and volume history.
func (s *MarketService) FetchMarketChart(ctx context.Context, coinID string, q MarketChartQuery) (json.RawMessage, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return s.Fetch(ctx, q.Request(coinID))
}

// FetchCoins passes params through to the coins listing.
func (s *MarketService) FetchCoins(ctx context.Context, params url.Values) (json.RawMessage, error) {
	return s.Fetch(ctx, Request{Class: ClassCoins, Params: params})
}

// FetchExchanges returns the exchanges listing.
func (s *MarketService) FetchExchanges(ctx context.Context, q ExchangesQuery) (json.RawMessage, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return s.Fetch(ctx, q.Request())
}

// FetchExchange returns a single exchange.
func (s *MarketService) FetchExchange(ctx context.Context, id string) (json.RawMessage, error) {
	return s.Fetch(ctx, Request{Class: ClassExchange, ID: id})
}

// FetchExchangeTickers returns the tickers of a single exchange.
func (s *MarketService) FetchExchangeTickers(ctx context.Context, id string) (json.RawMessage, error) {
	return s.Fetch(ctx, Request{Class: ClassExchangeTickers, ID: id})
}
