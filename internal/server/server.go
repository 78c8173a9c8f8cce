// Package server implements the HTTP transport layer for the marketgate
// gateway.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	gateway "github.com/eugener/marketgate/internal"
	"github.com/eugener/marketgate/internal/app"
	"github.com/eugener/marketgate/internal/cache"
	"github.com/eugener/marketgate/internal/circuitbreaker"
	"github.com/eugener/marketgate/internal/telemetry"
)

// ReadyChecker reports whether the system is ready to serve traffic.
type ReadyChecker func(ctx context.Context) error

// KeyInvalidator drops cached lookups for a revoked key.
type KeyInvalidator interface {
	InvalidateByKeyID(keyID string)
}

// CallStatsReader aggregates the upstream call log.
type CallStatsReader interface {
	SummarizeCalls(ctx context.Context, since time.Time) ([]gateway.CallStats, error)
}

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Auth           gateway.Authenticator
	Market         *app.MarketService
	Watchlist      *app.WatchlistService
	Keys           *app.KeyManager
	KeyInvalidator KeyInvalidator           // nil = revoked keys expire from the auth cache
	Calls          CallStatsReader          // nil = call stats unavailable
	Cache          cache.Cache              // nil = purge is a no-op
	Breakers       *circuitbreaker.Registry // nil = no breaker states in readyz
	ReadyCheck     ReadyChecker             // nil = always ready (for tests)
	Metrics        *telemetry.Metrics       // nil = no request metrics
	MetricsHandler http.Handler             // nil = no /metrics route
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	s := &server{deps: deps}

	r := chi.NewRouter()

	// Global middleware
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.logging)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}

	// System endpoints (no auth)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Route("/api", func(r chi.Router) {
		// Market data (public)
		r.Get("/coins/markets", s.handleMarkets)
		r.Get("/coins", s.handleCoins)
		r.Get("/coins/{id}", s.handleCoin)
		r.Get("/coins/{id}/market_chart", s.handleMarketChart)
		r.Get("/simple/price", s.handleSimplePrice)
		r.Get("/search/trending", s.handleTrending)
		r.Get("/global", s.handleGlobal)
		r.Get("/nfts/list", s.handleNFTList)
		r.Get("/nfts/{id}", s.handleNFT)
		r.Get("/exchanges", s.handleExchanges)
		r.Get("/exchanges/{id}", s.handleExchange)
		r.Get("/exchanges/{id}/tickers", s.handleExchangeTickers)
		r.Get("/news", s.handleNews)

		// Per-user watchlist (auth required)
		r.Route("/watchlist", func(r chi.Router) {
			r.Use(s.authenticate)
			r.Use(requirePerm(gateway.PermUseWatchlist))
			r.Get("/", s.handleGetWatchlist)
			r.Post("/", s.handleAddWatchlist)
			r.Get("/count", s.handleCountWatchlist)
			r.Get("/check/{coinId}", s.handleCheckWatchlist)
			r.Post("/check-batch", s.handleCheckBatch)
			r.Delete("/{coinId}", s.handleRemoveWatchlist)
		})
	})

	// Admin API (auth required, per-route permissions)
	r.Route("/admin", func(r chi.Router) {
		r.Use(s.authenticate)
		r.With(requirePerm(gateway.PermPurgeCache)).Post("/cache/purge", s.handleCachePurge)
		r.Group(func(r chi.Router) {
			r.Use(requirePerm(gateway.PermManageKeys))
			r.Get("/keys", s.handleListKeys)
			r.Post("/keys", s.handleCreateKey)
			r.Delete("/keys/{id}", s.handleDeleteKey)
			r.Get("/calls", s.handleCallStats)
		})
	})

	return r
}

type server struct {
	deps Deps
}
