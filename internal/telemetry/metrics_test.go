package telemetry

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewPedanticRegistry()
	m := NewMetrics(reg)

	if m.RequestsTotal == nil || m.RequestDuration == nil || m.ActiveRequests == nil {
		t.Error("HTTP metrics not initialized")
	}
	if m.UpstreamDuration == nil || m.UpstreamErrors == nil || m.UpstreamRejects == nil {
		t.Error("upstream metrics not initialized")
	}
	if m.CacheHits == nil || m.CacheMisses == nil {
		t.Error("cache metrics not initialized")
	}
	if m.WatchlistDegraded == nil || m.CallLogQueueLength == nil {
		t.Error("worker metrics not initialized")
	}

	if _, err := reg.Gather(); err != nil {
		t.Fatalf("Gather: %v", err)
	}
}

func TestNewMetricsIncrement(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewPedanticRegistry()
	m := NewMetrics(reg)

	m.RequestsTotal.WithLabelValues("GET", "/api/coins/markets", "200").Inc()
	m.CacheHits.WithLabelValues("markets").Inc()
	m.CacheMisses.WithLabelValues("markets").Inc()
	m.ActiveRequests.Set(5)
	m.RequestDuration.WithLabelValues("GET", "/api/coins/markets").Observe(0.123)
	m.UpstreamErrors.WithLabelValues("coingecko", "rate_limited").Inc()
	m.WatchlistDegraded.Inc()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather after increment: %v", err)
	}

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}

	want := []string{
		"marketgate_requests_total",
		"marketgate_cache_hits_total",
		"marketgate_cache_misses_total",
		"marketgate_active_requests",
		"marketgate_request_duration_seconds",
		"marketgate_upstream_errors_total",
		"marketgate_watchlist_degraded_total",
	}
	for _, name := range want {
		if !names[name] {
			t.Errorf("missing metric %q in gathered families", name)
		}
	}
}

func TestSampler(t *testing.T) {
	t.Parallel()

	tests := []struct {
		rate float64
		want string
	}{
		{1, "AlwaysOnSampler"},
		{2, "AlwaysOnSampler"},
		{0, "AlwaysOffSampler"},
		{-1, "AlwaysOffSampler"},
		{0.25, "ParentBased"},
	}
	for _, tt := range tests {
		if got := Sampler(tt.rate).Description(); !strings.HasPrefix(got, tt.want) {
			t.Errorf("Sampler(%v) = %q, want prefix %q", tt.rate, got, tt.want)
		}
	}
}

// SetupTracing is not unit-tested because it requires a gRPC connection
// to an OTLP collector, which is integration-test territory.
