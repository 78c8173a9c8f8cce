package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	gateway "github.com/eugener/marketgate/internal"
	"github.com/eugener/marketgate/internal/storage"
)

// Bootstrap seeds API keys from the config file. Keys already present are
// left untouched, so it is safe to run on every start.
func Bootstrap(ctx context.Context, cfg *Config, store storage.APIKeyStore) error {
	for _, k := range cfg.Keys {
		if k.Key == "" {
			continue
		}
		if !strings.HasPrefix(k.Key, gateway.APIKeyPrefix) {
			return fmt.Errorf("key %q: must start with %q", k.Name, gateway.APIKeyPrefix)
		}
		hash := gateway.HashKey(k.Key)

		_, err := store.GetKeyByHash(ctx, hash)
		if err == nil {
			continue
		}
		if !errors.Is(err, gateway.ErrNotFound) {
			return err
		}

		role := k.Role
		if role == "" {
			role = "member"
		}
		if _, ok := gateway.RolePermissions[role]; !ok {
			return fmt.Errorf("key %q: unknown role %q", k.Name, role)
		}

		key := &gateway.APIKey{
			ID:        uuid.Must(uuid.NewV7()).String(),
			KeyHash:   hash,
			KeyPrefix: gateway.KeyDisplayPrefix(k.Key),
			UserID:    k.UserID,
			Role:      role,
			CreatedAt: time.Now().UTC(),
		}
		if err := store.CreateKey(ctx, key); err != nil {
			return err
		}
		slog.Info("bootstrapped api key", "name", k.Name, "prefix", key.KeyPrefix, "user_id", k.UserID)
	}
	return nil
}
