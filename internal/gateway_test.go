package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestHashKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
	}{
		{name: "empty", raw: ""},
		{name: "prefix only", raw: APIKeyPrefix},
		{name: "typical key", raw: "mg_abc123xyz"},
		{name: "long key", raw: "mg_" + "a1b2c3d4e5f6a1b2c3d4e5f6a1b2c3d4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := HashKey(tt.raw)
			h := sha256.Sum256([]byte(tt.raw))
			want := hex.EncodeToString(h[:])
			if got != want {
				t.Errorf("HashKey(%q) = %q, want %q", tt.raw, got, want)
			}
			if len(got) != 64 {
				t.Errorf("HashKey len = %d, want 64", len(got))
			}
		})
	}
}

func TestIdentity_Can(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		role  string
		check Permission
		want  bool
	}{
		{name: "member watchlist", role: "member", check: PermUseWatchlist, want: true},
		{name: "member purge", role: "member", check: PermPurgeCache, want: false},
		{name: "admin purge", role: "admin", check: PermPurgeCache, want: true},
		{name: "admin both", role: "admin", check: PermPurgeCache | PermUseWatchlist, want: true},
		{name: "member keys", role: "member", check: PermManageKeys, want: false},
		{name: "admin keys", role: "admin", check: PermManageKeys, want: true},
		{name: "unknown role", role: "ghost", check: PermUseWatchlist, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			id := &Identity{Perms: RolePermissions[tt.role]}
			if got := id.Can(tt.check); got != tt.want {
				t.Errorf("Can(%v) = %v, want %v", tt.check, got, tt.want)
			}
		})
	}
}

func TestContextHelpers(t *testing.T) {
	t.Parallel()

	ctx := ContextWithRequestID(context.Background(), "req-1")
	if got := RequestIDFromContext(ctx); got != "req-1" {
		t.Errorf("request id = %q, want req-1", got)
	}

	id := &Identity{UserID: 7}
	ctx2 := ContextWithIdentity(ctx, id)
	if ctx2 != ctx {
		t.Error("identity should be stored by mutation when meta exists")
	}
	if got := IdentityFromContext(ctx2); got == nil || got.UserID != 7 {
		t.Errorf("identity = %+v, want user 7", got)
	}

	bare := ContextWithIdentity(context.Background(), id)
	if IdentityFromContext(bare) != id {
		t.Error("identity should be retrievable from fresh context")
	}
	if RequestIDFromContext(context.Background()) != "" {
		t.Error("empty context should have no request id")
	}
}

func TestUpstreamError_Is(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind ErrorKind
		want error
	}{
		{KindRateLimited, ErrRateLimited},
		{KindUpstreamRejected, ErrUpstreamRejected},
		{KindUpstreamUnavailable, ErrUpstreamUnavailable},
		{KindTimeout, ErrTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			t.Parallel()
			err := fmt.Errorf("wrap: %w", &UpstreamError{Kind: tt.kind, Provider: "coingecko"})
			if !errors.Is(err, tt.want) {
				t.Errorf("errors.Is(%v, %v) = false", err, tt.want)
			}
			if errors.Is(err, ErrInvalidInput) {
				t.Error("upstream error should not match ErrInvalidInput")
			}
		})
	}
}

func TestUpstreamError_RetryHint(t *testing.T) {
	t.Parallel()

	withHeader := &UpstreamError{Kind: KindRateLimited, RetryAfter: 12 * time.Second}
	if got := withHeader.RetryHint(); got != 12*time.Second {
		t.Errorf("hint = %v, want 12s", got)
	}
	noHeader := &UpstreamError{Kind: KindRateLimited}
	if got := noHeader.RetryHint(); got != DefaultRetryAfter {
		t.Errorf("hint = %v, want %v", got, DefaultRetryAfter)
	}
	other := &UpstreamError{Kind: KindUpstreamUnavailable, RetryAfter: time.Second}
	if got := other.RetryHint(); got != 0 {
		t.Errorf("hint = %v, want 0 for non rate-limited", got)
	}
}

func TestInvalidInput(t *testing.T) {
	t.Parallel()
	err := InvalidInput("page must be >= 1, got %d", 0)
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatal("should wrap ErrInvalidInput")
	}
	if err.Error() != "invalid input: page must be >= 1, got 0" {
		t.Errorf("message = %q", err.Error())
	}
}
