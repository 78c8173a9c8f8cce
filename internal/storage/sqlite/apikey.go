package sqlite

import (
	"context"
	"database/sql"
	"time"

	gateway "github.com/eugener/marketgate/internal"
)

const (
	selectKey = `SELECT id, key_hash, key_prefix, user_id, role, expires_at, blocked, last_used_at, created_at
		FROM api_keys`
	defaultKeyPage = 50
)

// CreateKey stores a key record. Only the hash of the secret is ever
// written.
func (s *Store) CreateKey(ctx context.Context, key *gateway.APIKey) error {
	role := key.Role
	if role == "" {
		role = "member"
	}
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO api_keys (id, key_hash, key_prefix, user_id, role, expires_at, blocked, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		key.ID, key.KeyHash, key.KeyPrefix, key.UserID, role,
		encodeOptTime(key.ExpiresAt), sqlBool(key.Blocked), encodeTime(key.CreatedAt),
	)
	return err
}

// GetKeyByHash looks a key up by the SHA-256 hex of its secret.
func (s *Store) GetKeyByHash(ctx context.Context, hash string) (*gateway.APIKey, error) {
	return readKey(s.read.QueryRowContext(ctx, selectKey+` WHERE key_hash = ?`, hash))
}

// ListKeys pages through a user's keys, newest first.
func (s *Store) ListKeys(ctx context.Context, userID int64, offset, limit int) ([]*gateway.APIKey, error) {
	if limit <= 0 {
		limit = defaultKeyPage
	}
	rows, err := s.read.QueryContext(ctx,
		selectKey+` WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*gateway.APIKey
	for rows.Next() {
		k, err := readKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (s *Store) DeleteKey(ctx context.Context, id string) error {
	res, err := s.write.ExecContext(ctx, `DELETE FROM api_keys WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return affectedOne(res, "api key")
}

// TouchKeyUsed stamps last_used_at with the current time.
func (s *Store) TouchKeyUsed(ctx context.Context, id string) error {
	_, err := s.write.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = ? WHERE id = ?`, encodeTime(time.Now()), id,
	)
	return err
}

func readKey(row rowScanner) (*gateway.APIKey, error) {
	var (
		k                 gateway.APIKey
		expires, lastUsed sql.NullString
		created           string
		blocked           int
	)
	if err := row.Scan(&k.ID, &k.KeyHash, &k.KeyPrefix, &k.UserID, &k.Role,
		&expires, &blocked, &lastUsed, &created); err != nil {
		return nil, noRows(err)
	}
	k.Blocked = blocked != 0
	k.ExpiresAt = decodeOptTime(expires)
	k.LastUsedAt = decodeOptTime(lastUsed)
	k.CreatedAt = decodeTime(created)
	return &k, nil
}
