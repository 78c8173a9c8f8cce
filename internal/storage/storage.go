// Package storage defines persistence interfaces for the gateway.
package storage

import (
	"context"
	"time"

	gateway "github.com/eugener/marketgate/internal"
)

// APIKeyStore manages API key persistence.
type APIKeyStore interface {
	CreateKey(ctx context.Context, key *gateway.APIKey) error
	GetKeyByHash(ctx context.Context, hash string) (*gateway.APIKey, error)
	ListKeys(ctx context.Context, userID int64, offset, limit int) ([]*gateway.APIKey, error)
	DeleteKey(ctx context.Context, id string) error
	TouchKeyUsed(ctx context.Context, id string) error
}

// WatchlistStore manages per-user watchlist rows. At most one row exists per
// (user, coin); CreateWatchlistItem returns gateway.ErrConflict otherwise.
type WatchlistStore interface {
	// ListWatchlist returns the user's rows, newest first.
	ListWatchlist(ctx context.Context, userID int64) ([]gateway.WatchlistEntry, error)
	// WatchlistCoinIDs returns the subset of coinIDs present in the user's
	// watchlist using a single query.
	WatchlistCoinIDs(ctx context.Context, userID int64, coinIDs []string) ([]string, error)
	GetWatchlistItem(ctx context.Context, userID int64, coinID string) (*gateway.WatchlistEntry, error)
	CreateWatchlistItem(ctx context.Context, entry *gateway.WatchlistEntry) error
	DeleteWatchlistItem(ctx context.Context, userID int64, coinID string) error
	CountWatchlist(ctx context.Context, userID int64) (int, error)
}

// CallLogStore manages the upstream call log.
type CallLogStore interface {
	InsertCalls(ctx context.Context, calls []gateway.UpstreamCall) error
	DeleteCallsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	// SummarizeCalls aggregates records created at or after since, per endpoint.
	SummarizeCalls(ctx context.Context, since time.Time) ([]gateway.CallStats, error)
}

// Store combines all storage interfaces.
type Store interface {
	APIKeyStore
	WatchlistStore
	CallLogStore
	Ping(ctx context.Context) error
	Close() error
}
