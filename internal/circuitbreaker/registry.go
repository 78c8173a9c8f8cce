package circuitbreaker

import (
	"context"
	"log/slog"
	"maps"
	"sync"
)

// Registry hands out one Breaker per provider name.
type Registry struct {
	cfg Config

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewRegistry returns an empty registry; breakers are created lazily with cfg.
func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg, breakers: make(map[string]*Breaker)}
}

// Get returns the provider's breaker, or nil if it has not been used yet.
func (r *Registry) Get(provider string) *Breaker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.breakers[provider]
}

// GetOrCreate returns the provider's breaker, creating it on first use.
func (r *Registry) GetOrCreate(provider string) *Breaker {
	if b := r.Get(provider); b != nil {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[provider]; ok {
		return b
	}
	b := newBreaker(provider, r.cfg, logTransition)
	r.breakers[provider] = b
	return b
}

// States returns a snapshot of every breaker's state keyed by provider.
func (r *Registry) States() map[string]State {
	r.mu.RLock()
	snapshot := maps.Clone(r.breakers)
	r.mu.RUnlock()

	out := make(map[string]State, len(snapshot))
	for name, b := range snapshot {
		out[name] = b.State()
	}
	return out
}

func logTransition(provider string, from, to State) {
	level := slog.LevelInfo
	if to == StateOpen {
		level = slog.LevelWarn
	}
	slog.Log(context.Background(), level, "upstream circuit state changed",
		"provider", provider,
		"from", from.String(),
		"to", to.String(),
	)
}
