// Package config handles YAML configuration loading with environment variable expansion.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"time"

	"go.yaml.in/yaml/v3"
)

// Config is the top-level gateway configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Cache     CacheConfig     `yaml:"cache"`
	Upstreams UpstreamsConfig `yaml:"upstreams"`
	Retry     RetryConfig     `yaml:"retry"`
	Watchlist WatchlistConfig `yaml:"watchlist"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	CallLog   CallLogConfig   `yaml:"call_log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Keys      []KeyEntry      `yaml:"keys"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// Handler builds the configured slog handler writing to w.
func (l LogConfig) Handler(w io.Writer) (slog.Handler, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch l.Format {
	case "text":
		return slog.NewTextHandler(w, opts), nil
	case "json":
		return slog.NewJSONHandler(w, opts), nil
	}
	return nil, fmt.Errorf("log.format must be text or json, got %q", l.Format)
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`    // OTLP gRPC endpoint
	SampleRate float64 `yaml:"sample_rate"` // 0.0 to 1.0
}

// CacheConfig holds response cache settings.
type CacheConfig struct {
	Backend  string                   `yaml:"backend"` // "memory" or "redis"
	MaxSize  int                      `yaml:"max_size"`
	RedisURL string                   `yaml:"redis_url"`
	Prefix   string                   `yaml:"prefix"`   // redis key prefix
	Coalesce bool                     `yaml:"coalesce"` // single-flight identical misses
	TTLs     map[string]time.Duration `yaml:"ttls"`     // per endpoint class; 0 disables caching
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"` // file path or ":memory:"
}

// UpstreamsConfig holds per-provider connection settings.
type UpstreamsConfig struct {
	CoinGecko     UpstreamEntry `yaml:"coingecko"`
	CryptoCompare UpstreamEntry `yaml:"cryptocompare"`
	DNSRefresh    time.Duration `yaml:"dns_refresh"` // 0 disables the DNS cache
}

// UpstreamEntry configures one upstream provider.
type UpstreamEntry struct {
	BaseURL string        `yaml:"base_url"` // empty: provider default
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
	RPM     int64         `yaml:"rpm"`   // outbound budget; 0 = unlimited
	Burst   int64         `yaml:"burst"` // 0 = rpm
}

// RetryConfig holds retry decorator settings.
type RetryConfig struct {
	NFTList RetryEntry `yaml:"nft_list"`
}

// RetryEntry bounds one retry decorator.
type RetryEntry struct {
	MaxRetries uint64        `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
}

// WatchlistConfig holds watchlist limits.
type WatchlistConfig struct {
	MaxEntries int `yaml:"max_entries"`
}

// BreakerConfig holds per-provider circuit breaker settings.
type BreakerConfig struct {
	Enabled        bool          `yaml:"enabled"`
	ErrorThreshold float64       `yaml:"error_threshold"`
	MinSamples     int           `yaml:"min_samples"`
	WindowSeconds  int           `yaml:"window_seconds"`
	OpenTimeout    time.Duration `yaml:"open_timeout"`
}

// CallLogConfig controls the persisted upstream call log.
type CallLogConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Retention     time.Duration `yaml:"retention"`
	PruneInterval time.Duration `yaml:"prune_interval"`
}

// KeyEntry is an API key seed in the config file.
type KeyEntry struct {
	Name   string `yaml:"name"`
	Key    string `yaml:"key"` // plaintext, hashed on bootstrap
	UserID int64  `yaml:"user_id"`
	Role   string `yaml:"role"`
}

// maxWatchlistEntries matches the largest markets page, so one enrichment
// call always covers the whole list.
const maxWatchlistEntries = 250

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
// Unset variables expand to the empty string so optional secrets such as
// upstream API keys stay disabled instead of being sent verbatim.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		return []byte(os.Getenv(string(match[2 : len(match)-1])))
	})
}

// Default returns the configuration used for fields a file leaves unset.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "text"},
		Database: DatabaseConfig{
			DSN: "marketgate.db",
		},
		Cache: CacheConfig{
			Backend: "memory",
			MaxSize: 10_000,
			Prefix:  "marketgate:",
		},
		Upstreams: UpstreamsConfig{
			CoinGecko:     UpstreamEntry{Timeout: 25 * time.Second},
			CryptoCompare: UpstreamEntry{Timeout: 25 * time.Second},
			DNSRefresh:    5 * time.Minute,
		},
		Retry: RetryConfig{
			NFTList: RetryEntry{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second},
		},
		Watchlist: WatchlistConfig{MaxEntries: 100},
		Breaker: BreakerConfig{
			ErrorThreshold: 0.30,
			MinSamples:     10,
			WindowSeconds:  60,
			OpenTimeout:    30 * time.Second,
		},
		CallLog: CallLogConfig{
			Enabled:       true,
			Retention:     7 * 24 * time.Hour,
			PruneInterval: time.Hour,
		},
	}
}

// Load reads and parses a YAML config file, expanding environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	data = expandEnv(data)

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate reports every inconsistent setting.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Log.Handler(io.Discard); err != nil {
		errs = append(errs, err)
	}
	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.RedisURL == "" {
			errs = append(errs, errors.New("cache.redis_url is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.backend must be memory or redis, got %q", c.Cache.Backend))
	}
	for class, ttl := range c.Cache.TTLs {
		if ttl < 0 {
			errs = append(errs, fmt.Errorf("cache.ttls.%s must not be negative", class))
		}
	}
	if c.Upstreams.CoinGecko.Timeout <= 0 || c.Upstreams.CryptoCompare.Timeout <= 0 {
		errs = append(errs, errors.New("upstream timeouts must be positive"))
	}
	if n := c.Watchlist.MaxEntries; n < 1 || n > maxWatchlistEntries {
		errs = append(errs, fmt.Errorf("watchlist.max_entries must be between 1 and %d, got %d", maxWatchlistEntries, n))
	}
	if c.Breaker.Enabled && (c.Breaker.ErrorThreshold <= 0 || c.Breaker.ErrorThreshold > 1) {
		errs = append(errs, errors.New("breaker.error_threshold must be in (0, 1]"))
	}
	if r := c.Telemetry.Tracing.SampleRate; r < 0 || r > 1 {
		errs = append(errs, errors.New("telemetry.tracing.sample_rate must be in [0, 1]"))
	}
	for i, k := range c.Keys {
		if k.UserID <= 0 {
			errs = append(errs, fmt.Errorf("keys[%d].user_id must be a positive integer", i))
		}
	}
	return errors.Join(errs...)
}
