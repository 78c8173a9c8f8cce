package app

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	gateway "github.com/eugener/marketgate/internal"
)

// RetryConfig bounds the rate-limit retry decorator.
type RetryConfig struct {
	MaxRetries uint64        // retries after the first attempt
	BaseDelay  time.Duration // first exponential delay; doubles per retry
	MaxDelay   time.Duration // cap for both exponential and Retry-After delays
}

// FetchFunc is an idempotent gateway call.
type FetchFunc func(ctx context.Context) ([]byte, error)

// WithRateLimitRetry wraps fn so that RateLimited failures are retried up to
// cfg.MaxRetries times. Each wait is the upstream Retry-After when present,
// otherwise BaseDelay*2^attempt, capped at MaxDelay. Other failures return
// immediately. When retries run out the last RateLimited error is returned.
func WithRateLimitRetry(cfg RetryConfig, fn FetchFunc) FetchFunc {
	return func(ctx context.Context) ([]byte, error) {
		b := newRateLimitBackoff(cfg)

		var out []byte
		var lastErr error
		err := retry.Do(ctx, b, func(ctx context.Context) error {
			body, err := fn(ctx)
			if err == nil {
				out = body
				return nil
			}
			if !errors.Is(err, gateway.ErrRateLimited) {
				return err
			}
			lastErr = err
			b.observe(err)
			return retry.RetryableError(err)
		})
		if err != nil && lastErr != nil && ctx.Err() != nil {
			// Context ended while waiting: report what the upstream said.
			return nil, lastErr
		}
		return out, err
	}
}

// rateLimitBackoff is an exponential backoff that honours a Retry-After hint
// for the next wait only.
type rateLimitBackoff struct {
	next       retry.Backoff
	maxDelay   time.Duration
	retryAfter time.Duration
}

func newRateLimitBackoff(cfg RetryConfig) *rateLimitBackoff {
	base := cfg.BaseDelay
	if base <= 0 {
		base = time.Second
	}
	maxDelay := cfg.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	b := retry.NewExponential(base)
	b = retry.WithMaxRetries(cfg.MaxRetries, b)
	b = retry.WithCappedDuration(maxDelay, b)
	return &rateLimitBackoff{next: b, maxDelay: maxDelay}
}

// observe records the Retry-After carried by a rate-limit error. The
// fallback hint is not used as a delay; without a header the exponential
// schedule applies.
func (b *rateLimitBackoff) observe(err error) {
	var ue *gateway.UpstreamError
	if errors.As(err, &ue) {
		b.retryAfter = ue.RetryAfter
	}
}

// Next implements retry.Backoff.
func (b *rateLimitBackoff) Next() (time.Duration, bool) {
	d, stop := b.next.Next()
	if stop {
		return 0, true
	}
	if b.retryAfter > 0 {
		d = min(b.retryAfter, b.maxDelay)
		b.retryAfter = 0
	}
	return d, false
}
