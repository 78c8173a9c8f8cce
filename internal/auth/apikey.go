// Package auth resolves "mg_" API keys into caller identities for the
// watchlist and admin routes. Resolved keys are held briefly in an otter
// cache so the store sees one lookup per key per TTL.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/maypok86/otter/v2"

	gateway "github.com/eugener/marketgate/internal"
	"github.com/eugener/marketgate/internal/storage"
)

const (
	// keyTTL bounds how long a deleted or blocked key keeps working.
	keyTTL       = 30 * time.Second
	maxCachedKey = 10_000
	touchTimeout = 5 * time.Second
)

// APIKeyAuth authenticates requests carrying an API key as
// "Authorization: Bearer mg_..." or "X-API-Key: mg_...".
type APIKeyAuth struct {
	store storage.APIKeyStore
	cache *otter.Cache[string, *gateway.APIKey] // key hash -> record
	now   func() time.Time

	mu     sync.Mutex
	hashes map[string]string // key id -> key hash
}

// NewAPIKeyAuth returns an authenticator reading keys from store.
func NewAPIKeyAuth(store storage.APIKeyStore) (*APIKeyAuth, error) {
	c, err := otter.New(&otter.Options[string, *gateway.APIKey]{
		MaximumSize:      maxCachedKey,
		ExpiryCalculator: otter.ExpiryWriting[string, *gateway.APIKey](keyTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("auth key cache: %w", err)
	}
	return &APIKeyAuth{
		store:  store,
		cache:  c,
		now:    time.Now,
		hashes: make(map[string]string),
	}, nil
}

// Authenticate returns the identity behind the request's key. Missing,
// foreign and unknown keys all fail with gateway.ErrUnauthorized.
func (a *APIKeyAuth) Authenticate(ctx context.Context, r *http.Request) (*gateway.Identity, error) {
	raw := keyFromRequest(r)
	if !strings.HasPrefix(raw, gateway.APIKeyPrefix) {
		return nil, gateway.ErrUnauthorized
	}
	hash := gateway.HashKey(raw)

	if key, ok := a.cache.GetIfPresent(hash); ok {
		if err := a.usable(key); err != nil {
			if errors.Is(err, gateway.ErrKeyExpired) {
				a.cache.Invalidate(hash)
			}
			return nil, err
		}
		return identityOf(key), nil
	}

	key, err := a.store.GetKeyByHash(ctx, hash)
	switch {
	case errors.Is(err, gateway.ErrNotFound):
		return nil, gateway.ErrUnauthorized
	case err != nil:
		return nil, fmt.Errorf("look up api key: %w", err)
	}
	if subtle.ConstantTimeCompare([]byte(key.KeyHash), []byte(hash)) != 1 {
		return nil, gateway.ErrUnauthorized
	}
	if err := a.usable(key); err != nil {
		return nil, err
	}

	a.remember(hash, key)
	go a.touch(context.WithoutCancel(ctx), key.ID)
	return identityOf(key), nil
}

// InvalidateByKeyID drops a cached key so its next use hits the store.
func (a *APIKeyAuth) InvalidateByKeyID(keyID string) {
	a.mu.Lock()
	hash, ok := a.hashes[keyID]
	delete(a.hashes, keyID)
	a.mu.Unlock()
	if ok {
		a.cache.Invalidate(hash)
	}
}

func (a *APIKeyAuth) remember(hash string, key *gateway.APIKey) {
	a.cache.Set(hash, key)
	a.mu.Lock()
	a.hashes[key.ID] = hash
	a.mu.Unlock()
}

func (a *APIKeyAuth) usable(key *gateway.APIKey) error {
	switch {
	case key.Blocked:
		return gateway.ErrKeyBlocked
	case key.ExpiresAt != nil && !a.now().Before(*key.ExpiresAt):
		return gateway.ErrKeyExpired
	}
	return nil
}

// touch records key use; failures only cost the last_used_at stamp.
func (a *APIKeyAuth) touch(ctx context.Context, keyID string) {
	ctx, cancel := context.WithTimeout(ctx, touchTimeout)
	defer cancel()
	if err := a.store.TouchKeyUsed(ctx, keyID); err != nil {
		slog.LogAttrs(ctx, slog.LevelDebug, "touch api key failed",
			slog.String("key_id", keyID),
			slog.String("error", err.Error()),
		)
	}
}

// keyFromRequest prefers a Bearer token. Any other Authorization scheme
// hides X-API-Key.
func keyFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		token, ok := strings.CutPrefix(h, "Bearer ")
		if !ok {
			return ""
		}
		return strings.TrimSpace(token)
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

func identityOf(key *gateway.APIKey) *gateway.Identity {
	role := key.Role
	if role == "" {
		role = "member"
	}
	return &gateway.Identity{
		Subject:    key.KeyPrefix,
		KeyID:      key.ID,
		UserID:     key.UserID,
		Role:       role,
		Perms:      gateway.RolePermissions[role],
		AuthMethod: "apikey",
	}
}
