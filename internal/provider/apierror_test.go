package provider

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	gateway "github.com/eugener/marketgate/internal"
)

func TestParseAPIError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		header string
		body   string
		kind   gateway.ErrorKind
		msg    string
		hint   time.Duration
	}{
		{
			name: "429 with retry-after", status: 429, header: "30",
			body: `{"status":{"error_code":429,"error_message":"rate limit"}}`,
			kind: gateway.KindRateLimited, msg: "rate limit", hint: 30 * time.Second,
		},
		{
			name: "429 without retry-after", status: 429,
			body: `{"error":"Throttled"}`,
			kind: gateway.KindRateLimited, msg: "Throttled", hint: gateway.DefaultRetryAfter,
		},
		{
			name: "400 nested message", status: 400,
			body: `{"error":{"message":"invalid vs_currency"}}`,
			kind: gateway.KindUpstreamRejected, msg: "invalid vs_currency",
		},
		{
			name: "401 cryptocompare", status: 401,
			body: `{"Err":{"type":1,"message":"bad api key"}}`,
			kind: gateway.KindUpstreamRejected, msg: "bad api key",
		},
		{
			name: "503 plain text", status: 503, body: "maintenance\n",
			kind: gateway.KindUpstreamUnavailable, msg: "maintenance",
		},
		{
			name: "500 empty", status: 500,
			kind: gateway.KindUpstreamUnavailable, msg: "Internal Server Error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			resp := &http.Response{
				StatusCode: tt.status,
				Header:     http.Header{},
				Body:       io.NopCloser(strings.NewReader(tt.body)),
			}
			if tt.header != "" {
				resp.Header.Set("Retry-After", tt.header)
			}

			err := ParseAPIError("coingecko", resp)
			var ue *gateway.UpstreamError
			if !errors.As(err, &ue) {
				t.Fatalf("expected *UpstreamError, got %T", err)
			}
			if ue.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v", ue.Kind, tt.kind)
			}
			if ue.HTTPStatus() != tt.status {
				t.Errorf("HTTPStatus() = %d, want %d", ue.HTTPStatus(), tt.status)
			}
			if ue.Message != tt.msg {
				t.Errorf("Message = %q, want %q", ue.Message, tt.msg)
			}
			if got := ue.RetryHint(); got != tt.hint {
				t.Errorf("RetryHint() = %v, want %v", got, tt.hint)
			}
			if !strings.Contains(ue.Error(), "coingecko") {
				t.Errorf("Error() = %q, want provider name", ue.Error())
			}
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"15", 15 * time.Second},
		{" 2 ", 2 * time.Second},
		{"0", 0},
		{"-5", 0},
		{"soon", 0},
		{now.Add(90 * time.Second).Format(http.TimeFormat), 90 * time.Second},
		{now.Add(-time.Minute).Format(http.TimeFormat), 0},
	}
	for _, tt := range tests {
		if got := ParseRetryAfter(tt.in, now); got != tt.want {
			t.Errorf("ParseRetryAfter(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestTransportError(t *testing.T) {
	t.Parallel()

	cause := errors.New("dial tcp: connection refused")
	err := TransportError("cryptocompare", cause)
	if !errors.Is(err, gateway.ErrTimeout) {
		t.Error("transport error should classify as timeout")
	}
	if !errors.Is(err, cause) {
		t.Error("transport error should wrap its cause")
	}
}
