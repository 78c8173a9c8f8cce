// Package circuitbreaker implements a per-upstream circuit breaker with a
// sliding-window error rate detector. While a market-data provider keeps
// failing, calls to it fail fast as unavailable instead of waiting out the
// upstream timeout.
package circuitbreaker

import (
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // calls flow to the provider
	StateOpen                  // calls fail fast
	StateHalfOpen              // one probe call decides
)

// String returns the state name reported by readyz and logs.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config holds circuit breaker parameters.
type Config struct {
	Enabled        bool
	ErrorThreshold float64       // weighted error rate that trips the breaker
	MinSamples     int           // outcomes required in the window before tripping
	WindowSeconds  int           // sliding window length
	OpenTimeout    time.Duration // how long the breaker stays open before probing
}

// DefaultConfig returns the defaults used when the breaker is enabled
// without explicit settings.
func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		ErrorThreshold: 0.30,
		MinSamples:     10,
		WindowSeconds:  60,
		OpenTimeout:    30 * time.Second,
	}
}

const defaultWindowSeconds = 60

// slot aggregates the outcomes of one wall-clock second.
type slot struct {
	sec    int64 // unix second the slot belongs to
	weight float64
	count  int
}

// window is a ring of per-second slots. A slot whose second fell out of the
// window is treated as empty and overwritten on reuse, so nothing has to be
// cleared as time moves on.
type window struct {
	slots []slot
}

func newWindow(seconds int) window {
	if seconds <= 0 {
		seconds = defaultWindowSeconds
	}
	return window{slots: make([]slot, seconds)}
}

func (w *window) add(weight float64, now time.Time) {
	sec := now.Unix()
	s := &w.slots[int(sec%int64(len(w.slots)))]
	if s.sec != sec {
		*s = slot{sec: sec}
	}
	s.weight += weight
	s.count++
}

// rate returns the weighted error rate and the sample count of the seconds
// still inside the window at now.
func (w *window) rate(now time.Time) (float64, int) {
	oldest := now.Unix() - int64(len(w.slots)) + 1
	var weight float64
	var count int
	for _, s := range w.slots {
		if s.count == 0 || s.sec < oldest {
			continue
		}
		weight += s.weight
		count += s.count
	}
	if count == 0 {
		return 0, 0
	}
	return weight / float64(count), count
}

func (w *window) reset() {
	clear(w.slots)
}

// Breaker guards a single provider.
type Breaker struct {
	name     string
	cfg      Config
	onChange func(name string, from, to State)
	now      func() time.Time

	mu       sync.Mutex
	state    State
	outcomes window
	openedAt time.Time
	probing  bool
}

// NewBreaker returns a closed breaker.
func NewBreaker(cfg Config) *Breaker {
	return newBreaker("", cfg, nil)
}

func newBreaker(name string, cfg Config, onChange func(string, State, State)) *Breaker {
	return &Breaker{
		name:     name,
		cfg:      cfg,
		onChange: onChange,
		now:      time.Now,
		outcomes: newWindow(cfg.WindowSeconds),
	}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a call may go to the provider. Once the open
// timeout elapses, exactly one caller is let through as the probe.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.OpenTimeout {
			return false
		}
		b.transition(StateHalfOpen)
		b.probing = true
		return true
	case StateHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return true
	}
}

// Release hands back the half-open slot granted by Allow when the call
// was never made, so the next caller can try instead.
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen {
		b.probing = false
	}
}

// RecordSuccess records a call that the provider answered properly. A
// successful probe closes the breaker and forgets the window.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.outcomes.add(0, b.now())
	if b.state == StateHalfOpen {
		b.outcomes.reset()
		b.probing = false
		b.transition(StateClosed)
	}
}

// RecordError records a failed call with the given weight (see
// ClassifyError). A failed probe reopens the breaker and restarts the open
// timeout.
func (b *Breaker) RecordError(weight float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.outcomes.add(weight, now)

	switch b.state {
	case StateClosed:
		rate, n := b.outcomes.rate(now)
		if n >= b.cfg.MinSamples && rate >= b.cfg.ErrorThreshold {
			b.open(now)
		}
	case StateHalfOpen:
		b.probing = false
		b.open(now)
	}
}

func (b *Breaker) open(now time.Time) {
	b.openedAt = now
	b.transition(StateOpen)
}

// transition must be called with mu held.
func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	if b.onChange != nil && from != to {
		b.onChange(b.name, from, to)
	}
}
