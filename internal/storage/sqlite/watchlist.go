package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	gateway "github.com/eugener/marketgate/internal"
)

const watchlistColumns = `id, user_id, coin_id, coin_name, symbol, image, created_at`

// ListWatchlist returns the user's rows, newest first.
func (s *Store) ListWatchlist(ctx context.Context, userID int64) ([]gateway.WatchlistEntry, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT `+watchlistColumns+` FROM watchlist WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []gateway.WatchlistEntry
	for rows.Next() {
		e, err := scanWatchlist(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// WatchlistCoinIDs returns the subset of coinIDs present in the user's
// watchlist with a single query.
func (s *Store) WatchlistCoinIDs(ctx context.Context, userID int64, coinIDs []string) ([]string, error) {
	if len(coinIDs) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(coinIDs)+1)
	args = append(args, userID)
	for _, id := range coinIDs {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(coinIDs)), ", ")

	rows, err := s.read.QueryContext(ctx,
		`SELECT coin_id FROM watchlist WHERE user_id = ? AND coin_id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// GetWatchlistItem returns one row or gateway.ErrNotFound.
func (s *Store) GetWatchlistItem(ctx context.Context, userID int64, coinID string) (*gateway.WatchlistEntry, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT `+watchlistColumns+` FROM watchlist WHERE user_id = ? AND coin_id = ?`,
		userID, coinID,
	)
	return scanWatchlist(row)
}

// CreateWatchlistItem inserts a row and sets entry.ID. A duplicate
// (user, coin) pair returns gateway.ErrConflict.
func (s *Store) CreateWatchlistItem(ctx context.Context, entry *gateway.WatchlistEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	result, err := s.write.ExecContext(ctx,
		`INSERT INTO watchlist (user_id, coin_id, coin_name, symbol, image, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, coin_id) DO NOTHING`,
		entry.UserID, entry.CoinID, entry.CoinName, entry.Symbol, optString(entry.Image),
		encodeTime(entry.CreatedAt),
	)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return gateway.ErrConflict
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	entry.ID = id
	return nil
}

// DeleteWatchlistItem removes a row or returns gateway.ErrNotFound.
func (s *Store) DeleteWatchlistItem(ctx context.Context, userID int64, coinID string) error {
	result, err := s.write.ExecContext(ctx,
		`DELETE FROM watchlist WHERE user_id = ? AND coin_id = ?`, userID, coinID,
	)
	if err != nil {
		return err
	}
	return affectedOne(result, "watchlist item")
}

// CountWatchlist returns the number of rows for the user.
func (s *Store) CountWatchlist(ctx context.Context, userID int64) (int, error) {
	var n int
	err := s.read.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM watchlist WHERE user_id = ?`, userID,
	).Scan(&n)
	return n, err
}

func scanWatchlist(s rowScanner) (*gateway.WatchlistEntry, error) {
	var e gateway.WatchlistEntry
	var image sql.NullString
	var createdAt string
	if err := s.Scan(&e.ID, &e.UserID, &e.CoinID, &e.CoinName, &e.Symbol, &image, &createdAt); err != nil {
		return nil, noRows(err)
	}
	e.Image = image.String
	e.CreatedAt = decodeTime(createdAt)
	return &e, nil
}
