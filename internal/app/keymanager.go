package app

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/google/uuid"

	gateway "github.com/eugener/marketgate/internal"
	"github.com/eugener/marketgate/internal/storage"
)

// KeyManager handles API key lifecycle (create, list, delete).
type KeyManager struct {
	store storage.APIKeyStore
}

// NewKeyManager returns a KeyManager backed by store.
func NewKeyManager(store storage.APIKeyStore) *KeyManager {
	return &KeyManager{store: store}
}

// CreateKeyOpts holds all fields for API key creation.
type CreateKeyOpts struct {
	UserID    int64
	Role      string // defaults to "member"
	ExpiresAt *time.Time
}

// CreateKey generates a new API key for a user, stores its hash, and returns
// the plaintext (shown once) along with the persisted APIKey record.
func (km *KeyManager) CreateKey(ctx context.Context, opts CreateKeyOpts) (string, *gateway.APIKey, error) {
	if opts.UserID <= 0 {
		return "", nil, gateway.InvalidInput("user_id must be a positive integer")
	}
	role := opts.Role
	if role == "" {
		role = "member"
	}
	if _, ok := gateway.RolePermissions[role]; !ok {
		return "", nil, gateway.InvalidInput("unknown role %q", role)
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, err
	}
	plaintext := gateway.APIKeyPrefix + base64.RawURLEncoding.EncodeToString(raw)

	key := &gateway.APIKey{
		ID:        uuid.Must(uuid.NewV7()).String(),
		KeyHash:   gateway.HashKey(plaintext),
		KeyPrefix: gateway.KeyDisplayPrefix(plaintext),
		UserID:    opts.UserID,
		Role:      role,
		ExpiresAt: opts.ExpiresAt,
		CreatedAt: time.Now().UTC(),
	}
	if err := km.store.CreateKey(ctx, key); err != nil {
		return "", nil, err
	}
	return plaintext, key, nil
}

// ListKeys returns a page of the user's keys.
func (km *KeyManager) ListKeys(ctx context.Context, userID int64, offset, limit int) ([]*gateway.APIKey, error) {
	return km.store.ListKeys(ctx, userID, offset, limit)
}

// DeleteKey removes the API key with the given ID.
func (km *KeyManager) DeleteKey(ctx context.Context, id string) error {
	return km.store.DeleteKey(ctx, id)
}
