package coingecko

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	gateway "github.com/eugener/marketgate/internal"
)

func TestGet(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/coins/markets" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("vs_currency"); got != "usd" {
			t.Errorf("vs_currency = %q, want usd", got)
		}
		if got := r.Header.Get("x-cg-demo-api-key"); got != "cg-key" {
			t.Errorf("api key header = %q, want cg-key", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id":"bitcoin"}]`))
	}))
	defer srv.Close()

	c := New(srv.URL+"/api/v3/", "cg-key", time.Second, srv.Client())
	body, err := c.Get(context.Background(), "/coins/markets", url.Values{"vs_currency": {"usd"}})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(body) != `[{"id":"bitcoin"}]` {
		t.Errorf("body = %q", body)
	}
}

func TestGetWithoutKey(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.Header["X-Cg-Demo-Api-Key"]; ok {
			t.Error("api key header should be omitted when unset")
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "", 0, srv.Client())
	if _, err := c.Get(context.Background(), "/global", nil); err != nil {
		t.Fatalf("Get: %v", err)
	}
}

func TestGetRateLimited(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "12")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(srv.URL, "k", time.Second, srv.Client())
	_, err := c.Get(context.Background(), "/nfts/list", nil)
	if !errors.Is(err, gateway.ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	var ue *gateway.UpstreamError
	if !errors.As(err, &ue) || ue.RetryHint() != 12*time.Second {
		t.Errorf("retry hint = %v, want 12s", ue.RetryHint())
	}
	if ue.Provider != "coingecko" {
		t.Errorf("provider = %q", ue.Provider)
	}
}

func TestGetTimeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "", 50*time.Millisecond, srv.Client())
	start := time.Now()
	_, err := c.Get(context.Background(), "/global", nil)
	if !errors.Is(err, gateway.ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if time.Since(start) > time.Second {
		t.Error("timeout not enforced")
	}
}

func TestName(t *testing.T) {
	t.Parallel()
	if got := New("", "", 0, nil).Name(); got != "coingecko" {
		t.Errorf("Name() = %q", got)
	}
}
