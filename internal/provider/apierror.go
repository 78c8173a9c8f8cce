package provider

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	gateway "github.com/eugener/marketgate/internal"
)

// messagePaths are the JSON locations upstreams use for error text, in
// lookup order. CoinGecko reports rate limits under status.error_message;
// CryptoCompare uses Err.message (data API) or Message (legacy API).
var messagePaths = []string{
	"error.message",
	"error",
	"status.error_message",
	"Err.message",
	"Message",
	"message",
}

// ParseAPIError reads up to 4KB from the response body and returns a
// classified *gateway.UpstreamError: 429 is RateLimited (with the parsed
// Retry-After), other 4xx are UpstreamRejected and everything else is
// UpstreamUnavailable.
func ParseAPIError(provider string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	e := &gateway.UpstreamError{
		Provider:   provider,
		StatusCode: resp.StatusCode,
		Message:    upstreamMessage(body, resp.StatusCode),
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		e.Kind = gateway.KindRateLimited
		e.RetryAfter = ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		e.Kind = gateway.KindUpstreamRejected
	default:
		e.Kind = gateway.KindUpstreamUnavailable
	}
	return e
}

// TransportError classifies a failed round trip (deadline, refused
// connection, DNS failure, truncated body) as a Timeout.
func TransportError(provider string, err error) error {
	msg := err.Error()
	if errors.Is(err, context.DeadlineExceeded) {
		msg = "request timed out"
	}
	return &gateway.UpstreamError{
		Kind:     gateway.KindTimeout,
		Provider: provider,
		Message:  msg,
		Err:      err,
	}
}

// ParseRetryAfter parses a Retry-After header given either as delta seconds
// or as an HTTP date relative to now. It returns 0 when the header is absent,
// malformed or already in the past.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func upstreamMessage(body []byte, status int) string {
	if gjson.ValidBytes(body) {
		for _, p := range messagePaths {
			if r := gjson.GetBytes(body, p); r.Type == gjson.String && r.Str != "" {
				return r.Str
			}
		}
	}
	if s := strings.TrimSpace(string(body)); s != "" {
		return s
	}
	return http.StatusText(status)
}
