package gateway

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the gateway domain.
var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrForbidden           = errors.New("forbidden")
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrKeyExpired          = errors.New("api key expired")
	ErrKeyBlocked          = errors.New("api key blocked")
	ErrInvalidInput        = errors.New("invalid input")
	ErrRateLimited         = errors.New("upstream rate limited")
	ErrUpstreamRejected    = errors.New("upstream rejected request")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrTimeout             = errors.New("upstream timeout")
)

// DefaultRetryAfter is the retry hint reported for a 429 that carried no
// Retry-After header.
const DefaultRetryAfter = 60 * time.Second

// ErrorKind classifies an upstream failure.
type ErrorKind int

const (
	KindRateLimited ErrorKind = iota + 1
	KindUpstreamRejected
	KindUpstreamUnavailable
	KindTimeout
)

// String returns the wire name of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindUpstreamRejected:
		return "upstream_rejected"
	case KindUpstreamUnavailable:
		return "upstream_unavailable"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindRateLimited:
		return ErrRateLimited
	case KindUpstreamRejected:
		return ErrUpstreamRejected
	case KindUpstreamUnavailable:
		return ErrUpstreamUnavailable
	case KindTimeout:
		return ErrTimeout
	default:
		return nil
	}
}

// UpstreamError is a classified failure of an upstream provider call.
// errors.Is matches it against the sentinel of its Kind.
type UpstreamError struct {
	Kind       ErrorKind
	Provider   string
	StatusCode int           // 0 for transport failures
	Message    string        // upstream message or transport error text
	RetryAfter time.Duration // from the Retry-After header; 0 when absent
	Err        error         // underlying transport error, if any
}

// Error returns a formatted error string including provider, kind, and status.
func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s: HTTP %d: %s", e.Provider, e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
}

// Is reports whether target is the sentinel for this error's kind.
func (e *UpstreamError) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

// Unwrap returns the underlying transport error.
func (e *UpstreamError) Unwrap() error { return e.Err }

// HTTPStatus returns the upstream status code (0 for transport failures).
func (e *UpstreamError) HTTPStatus() int { return e.StatusCode }

// RetryHint returns how long the caller should wait before retrying.
// Only rate-limited errors carry a hint; a 429 without Retry-After falls back
// to DefaultRetryAfter.
func (e *UpstreamError) RetryHint() time.Duration {
	if e.Kind != KindRateLimited {
		return 0
	}
	if e.RetryAfter > 0 {
		return e.RetryAfter
	}
	return DefaultRetryAfter
}

// InvalidInput returns an error wrapping ErrInvalidInput with a reason.
func InvalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
