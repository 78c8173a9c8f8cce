package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/dnscache"

	"github.com/eugener/marketgate/internal/app"
	"github.com/eugener/marketgate/internal/auth"
	"github.com/eugener/marketgate/internal/cache"
	"github.com/eugener/marketgate/internal/circuitbreaker"
	"github.com/eugener/marketgate/internal/config"
	"github.com/eugener/marketgate/internal/provider"
	"github.com/eugener/marketgate/internal/provider/coingecko"
	"github.com/eugener/marketgate/internal/provider/cryptocompare"
	"github.com/eugener/marketgate/internal/ratelimit"
	"github.com/eugener/marketgate/internal/server"
	"github.com/eugener/marketgate/internal/storage/sqlite"
	"github.com/eugener/marketgate/internal/telemetry"
	"github.com/eugener/marketgate/internal/worker"
)

func run(configPath string) error {
	// Load config
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	handler, err := cfg.Log.Handler(os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(handler))

	slog.Info("starting marketgate", "version", version, "addr", cfg.Server.Addr)

	// Open database
	store, err := sqlite.New(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	// Bootstrap from config
	ctx := context.Background()
	if err := config.Bootstrap(ctx, cfg, store); err != nil {
		return err
	}

	// Background context for workers and the DNS refresher
	bgCtx, cancelBg := context.WithCancel(ctx)
	defer cancelBg()

	// Telemetry
	var (
		metrics        *telemetry.Metrics
		metricsHandler http.Handler
	)
	if cfg.Telemetry.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = telemetry.NewMetrics(reg)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}
	if cfg.Telemetry.Tracing.Enabled {
		shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TracingOptions{
			Endpoint:   cfg.Telemetry.Tracing.Endpoint,
			SampleRate: cfg.Telemetry.Tracing.SampleRate,
			Version:    version,
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := shutdownTracing(context.Background()); err != nil {
				slog.Warn("tracing shutdown failed", "error", err)
			}
		}()
	}

	// Outbound HTTP client shared by all providers
	var resolver *dnscache.Resolver
	if cfg.Upstreams.DNSRefresh > 0 {
		resolver = &dnscache.Resolver{}
		go refreshDNS(bgCtx, resolver, cfg.Upstreams.DNSRefresh)
	}
	client := &http.Client{Transport: provider.NewTransport(resolver)}

	// Register providers
	cg, cc := cfg.Upstreams.CoinGecko, cfg.Upstreams.CryptoCompare
	reg := provider.NewRegistry()
	reg.Register(app.ProviderCoinGecko, coingecko.New(cg.BaseURL, cg.APIKey, cg.Timeout, client))
	reg.Register(app.ProviderCryptoCompare, cryptocompare.New(cc.BaseURL, cc.APIKey, cc.Timeout, client))
	if cg.APIKey == "" {
		slog.Warn("coingecko api key not set, using public rate limits")
	}

	// Response cache
	respCache, closeCache, err := newCache(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeCache()

	// Upstream protection
	var breakers *circuitbreaker.Registry
	if cfg.Breaker.Enabled {
		breakers = circuitbreaker.NewRegistry(circuitbreaker.Config{
			Enabled:        true,
			ErrorThreshold: cfg.Breaker.ErrorThreshold,
			MinSamples:     cfg.Breaker.MinSamples,
			WindowSeconds:  cfg.Breaker.WindowSeconds,
			OpenTimeout:    cfg.Breaker.OpenTimeout,
		})
	}
	limits := make(map[string]ratelimit.Limits)
	if cg.RPM > 0 {
		limits[app.ProviderCoinGecko] = ratelimit.Limits{RPM: cg.RPM, Burst: cg.Burst}
	}
	if cc.RPM > 0 {
		limits[app.ProviderCryptoCompare] = ratelimit.Limits{RPM: cc.RPM, Burst: cc.Burst}
	}
	var budget *ratelimit.Registry
	if len(limits) > 0 {
		budget = ratelimit.NewRegistry()
	}

	// Call log
	var (
		workers  []worker.Worker
		recorder app.CallRecorder
	)
	if cfg.CallLog.Enabled {
		var queueLen prometheus.Gauge
		if metrics != nil {
			queueLen = metrics.CallLogQueueLength
		}
		calls := worker.NewCallRecorder(store, queueLen)
		recorder = calls
		workers = append(workers, calls, worker.NewCallLogPruner(store, cfg.CallLog.Retention, cfg.CallLog.PruneInterval))
	}

	// Wire services
	nft := cfg.Retry.NFTList
	market := app.NewMarketService(reg, respCache, app.MarketOptions{
		TTLs:     ttlOverrides(cfg.Cache.TTLs),
		NFTRetry: &app.RetryConfig{MaxRetries: nft.MaxRetries, BaseDelay: nft.BaseDelay, MaxDelay: nft.MaxDelay},
		Coalesce: cfg.Cache.Coalesce,
		Metrics:  metrics,
		Breakers: breakers,
		Budget:   budget,
		Limits:   limits,
		Recorder: recorder,
	})
	watchlist := app.NewWatchlistService(store, market, cfg.Watchlist.MaxEntries, metrics)

	apiKeyAuth, err := auth.NewAPIKeyAuth(store)
	if err != nil {
		return err
	}

	readyCheck := store.Ping
	if rc, ok := respCache.(*cache.Redis); ok {
		readyCheck = func(ctx context.Context) error {
			return errors.Join(store.Ping(ctx), rc.Ping(ctx))
		}
	}

	// Create HTTP server
	handler := server.New(server.Deps{
		Auth:           apiKeyAuth,
		Market:         market,
		Watchlist:      watchlist,
		Keys:           app.NewKeyManager(store),
		KeyInvalidator: apiKeyAuth,
		Calls:          store,
		Cache:          respCache,
		Breakers:       breakers,
		ReadyCheck:     readyCheck,
		Metrics:        metrics,
		MetricsHandler: metricsHandler,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start workers
	workersDone := make(chan error, 1)
	go func() {
		workersDone <- worker.NewRunner(workers...).Run(bgCtx)
	}()

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("marketgate ready", "addr", cfg.Server.Addr)

	// Wait for signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case err := <-errCh:
		return err
	}

	// Shutdown: stop accepting requests, then let the call recorder drain.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	cancelBg()
	if err := <-workersDone; err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("worker stopped with error", "error", err)
	}

	slog.Info("marketgate stopped")
	return nil
}

// newCache builds the configured response cache and its close func.
func newCache(ctx context.Context, cfg *config.Config) (cache.Cache, func(), error) {
	if cfg.Cache.Backend == "redis" {
		rc, err := cache.NewRedis(ctx, cfg.Cache.RedisURL, cfg.Cache.Prefix)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("response cache", "backend", "redis")
		return rc, func() {
			if err := rc.Close(); err != nil {
				slog.Warn("redis close failed", "error", err)
			}
		}, nil
	}
	mc, err := cache.NewMemory(cfg.Cache.MaxSize, longestTTL(cfg.Cache.TTLs))
	if err != nil {
		return nil, nil, err
	}
	slog.Info("response cache", "backend", "memory", "max_size", cfg.Cache.MaxSize)
	return mc, func() {}, nil
}

// ttlOverrides converts config TTLs to endpoint classes, dropping names
// that match no class.
func ttlOverrides(ttls map[string]time.Duration) map[app.EndpointClass]time.Duration {
	known := app.DefaultPolicies()
	out := make(map[app.EndpointClass]time.Duration, len(ttls))
	for name, ttl := range ttls {
		class := app.EndpointClass(name)
		if _, ok := known[class]; !ok {
			slog.Warn("unknown endpoint class in cache.ttls, ignoring", "class", name)
			continue
		}
		out[class] = ttl
	}
	return out
}

// longestTTL is the ceiling the memory cache applies to every entry.
func longestTTL(overrides map[string]time.Duration) time.Duration {
	var longest time.Duration
	for _, p := range app.DefaultPolicies() {
		longest = max(longest, p.TTL)
	}
	for _, ttl := range overrides {
		longest = max(longest, ttl)
	}
	return longest
}

// refreshDNS periodically refreshes cached DNS entries, dropping hosts that
// were not looked up since the previous refresh.
func refreshDNS(ctx context.Context, r *dnscache.Resolver, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.Refresh(true)
		}
	}
}
