// Package ratelimit implements per-upstream outbound request budgets. Each
// provider gets a lazily refilled token bucket sized from its documented
// requests-per-minute allowance, and a pause that the gateway sets when the
// provider itself answers 429. A provider that is out of budget or paused
// is not called; the gateway reports it as rate limited with a retry hint.
package ratelimit

import (
	"sync"
	"time"
)

// Limits is the outbound budget for one provider.
// RPM of 0 means unlimited; Burst of 0 means Burst == RPM.
type Limits struct {
	RPM   int64
	Burst int64
}

// Result is the outcome of a budget check.
type Result struct {
	Allowed           bool
	Remaining         int64
	RetryAfterSeconds float64
}

// tokens is a token bucket refilled on demand.
type tokens struct {
	level    float64
	capacity float64
	perSec   float64
	filledAt time.Time
}

func newTokens(limits Limits, now time.Time) tokens {
	burst := limits.Burst
	if burst <= 0 {
		burst = limits.RPM
	}
	return tokens{
		level:    float64(burst),
		capacity: float64(burst),
		perSec:   float64(limits.RPM) / 60,
		filledAt: now,
	}
}

func (t *tokens) fill(now time.Time) {
	if elapsed := now.Sub(t.filledAt).Seconds(); elapsed > 0 {
		t.level = min(t.capacity, t.level+elapsed*t.perSec)
		t.filledAt = now
	}
}

// take removes one token, or reports how many seconds until one is there.
func (t *tokens) take(now time.Time) (ok bool, wait float64) {
	t.fill(now)
	if t.level >= 1 {
		t.level--
		return true, 0
	}
	return false, (1 - t.level) / t.perSec
}

// Limiter guards one provider's outbound budget.
type Limiter struct {
	limits Limits
	now    func() time.Time

	mu          sync.Mutex
	bucket      *tokens // nil when unlimited
	pausedUntil time.Time
}

func newLimiter(limits Limits, now func() time.Time) *Limiter {
	l := &Limiter{limits: limits, now: now}
	if limits.RPM > 0 {
		b := newTokens(limits, now())
		l.bucket = &b
	}
	return l
}

// Allow spends one request from the budget.
func (l *Limiter) Allow() Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if wait := l.pausedUntil.Sub(now); wait > 0 {
		return Result{RetryAfterSeconds: wait.Seconds()}
	}
	if l.bucket == nil {
		return Result{Allowed: true}
	}
	ok, wait := l.bucket.take(now)
	if !ok {
		return Result{RetryAfterSeconds: wait}
	}
	return Result{Allowed: true, Remaining: int64(l.bucket.level)}
}

// PauseFor stops calls to the provider for d, typically the Retry-After of
// an upstream 429. An earlier pause is only ever extended.
func (l *Limiter) PauseFor(d time.Duration) {
	if d <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if until := l.now().Add(d); until.After(l.pausedUntil) {
		l.pausedUntil = until
	}
}

// Registry manages per-provider Limiters.
type Registry struct {
	now func() time.Time

	mu       sync.RWMutex
	limiters map[string]*Limiter
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{now: time.Now, limiters: make(map[string]*Limiter)}
}

// GetOrCreate returns the provider's limiter. A limiter whose limits no
// longer match is replaced, dropping its spent budget and any pause.
func (r *Registry) GetOrCreate(provider string, limits Limits) *Limiter {
	r.mu.RLock()
	l, ok := r.limiters[provider]
	r.mu.RUnlock()
	if ok && l.limits == limits {
		return l
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.limiters[provider]; ok && l.limits == limits {
		return l
	}
	l = newLimiter(limits, r.now)
	r.limiters[provider] = l
	return l
}
