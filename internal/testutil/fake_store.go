package testutil

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	gateway "github.com/eugener/marketgate/internal"
)

// FakeStore is an in-memory implementation of storage.Store for testing.
// Every watchlist method increments a query counter.
type FakeStore struct {
	// ListErr, when set, is returned by ListWatchlist.
	ListErr error

	mu        sync.RWMutex
	nextID    int64
	watchlist []gateway.WatchlistEntry
	keys      map[string]*gateway.APIKey // by hash
	calls     []gateway.UpstreamCall
	queries   int

	keyLookups int
	touched    map[string]int // key id -> TouchKeyUsed calls
}

// NewFakeStore returns a FakeStore with empty collections.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		keys:    make(map[string]*gateway.APIKey),
		touched: make(map[string]int),
	}
}

// AddKey stores key under the hash of raw.
func (s *FakeStore) AddKey(raw string, key *gateway.APIKey) {
	key.KeyHash = gateway.HashKey(raw)
	s.mu.Lock()
	s.keys[key.KeyHash] = key
	s.mu.Unlock()
}

// KeyLookups returns how many GetKeyByHash calls reached the store.
func (s *FakeStore) KeyLookups() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.keyLookups
}

// Touches returns how many times TouchKeyUsed ran for the key id.
func (s *FakeStore) Touches(id string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.touched[id]
}

// AddWatchlist inserts rows without counting a query.
func (s *FakeStore) AddWatchlist(entries ...gateway.WatchlistEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.nextID++
		e.ID = s.nextID
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(s.nextID) * time.Minute)
		}
		s.watchlist = append(s.watchlist, e)
	}
}

// Queries returns the number of watchlist queries issued so far.
func (s *FakeStore) Queries() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queries
}

// --- WatchlistStore ---

// ListWatchlist returns the user's rows, newest first.
func (s *FakeStore) ListWatchlist(_ context.Context, userID int64) ([]gateway.WatchlistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries++
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	var out []gateway.WatchlistEntry
	for _, e := range s.watchlist {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b gateway.WatchlistEntry) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

// WatchlistCoinIDs returns the subset of coinIDs the user has saved.
func (s *FakeStore) WatchlistCoinIDs(_ context.Context, userID int64, coinIDs []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries++
	var out []string
	for _, e := range s.watchlist {
		if e.UserID == userID && slices.Contains(coinIDs, e.CoinID) {
			out = append(out, e.CoinID)
		}
	}
	return out, nil
}

// GetWatchlistItem returns one row or ErrNotFound.
func (s *FakeStore) GetWatchlistItem(_ context.Context, userID int64, coinID string) (*gateway.WatchlistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries++
	for _, e := range s.watchlist {
		if e.UserID == userID && e.CoinID == coinID {
			return &e, nil
		}
	}
	return nil, gateway.ErrNotFound
}

// CreateWatchlistItem inserts a row, enforcing (user, coin) uniqueness.
func (s *FakeStore) CreateWatchlistItem(_ context.Context, entry *gateway.WatchlistEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries++
	for _, e := range s.watchlist {
		if e.UserID == entry.UserID && e.CoinID == entry.CoinID {
			return gateway.ErrConflict
		}
	}
	s.nextID++
	entry.ID = s.nextID
	s.watchlist = append(s.watchlist, *entry)
	return nil
}

// DeleteWatchlistItem removes a row or returns ErrNotFound.
func (s *FakeStore) DeleteWatchlistItem(_ context.Context, userID int64, coinID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries++
	for i, e := range s.watchlist {
		if e.UserID == userID && e.CoinID == coinID {
			s.watchlist = slices.Delete(s.watchlist, i, i+1)
			return nil
		}
	}
	return gateway.ErrNotFound
}

// CountWatchlist returns the number of rows for the user.
func (s *FakeStore) CountWatchlist(_ context.Context, userID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries++
	n := 0
	for _, e := range s.watchlist {
		if e.UserID == userID {
			n++
		}
	}
	return n, nil
}

// --- APIKeyStore ---

// CreateKey stores a key by hash.
func (s *FakeStore) CreateKey(_ context.Context, key *gateway.APIKey) error {
	s.mu.Lock()
	s.keys[key.KeyHash] = key
	s.mu.Unlock()
	return nil
}

// GetKeyByHash looks up a key by hash.
func (s *FakeStore) GetKeyByHash(_ context.Context, hash string) (*gateway.APIKey, error) {
	s.mu.Lock()
	s.keyLookups++
	k, ok := s.keys[hash]
	s.mu.Unlock()
	if !ok {
		return nil, gateway.ErrNotFound
	}
	return k, nil
}

// ListKeys returns the user's keys.
func (s *FakeStore) ListKeys(_ context.Context, userID int64, offset, limit int) ([]*gateway.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*gateway.APIKey
	for _, k := range s.keys {
		if k.UserID == userID {
			out = append(out, k)
		}
	}
	slices.SortFunc(out, func(a, b *gateway.APIKey) int { return a.CreatedAt.Compare(b.CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// DeleteKey removes a key by ID.
func (s *FakeStore) DeleteKey(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for h, k := range s.keys {
		if k.ID == id {
			delete(s.keys, h)
			return nil
		}
	}
	return gateway.ErrNotFound
}

// TouchKeyUsed counts the touch.
func (s *FakeStore) TouchKeyUsed(_ context.Context, id string) error {
	s.mu.Lock()
	s.touched[id]++
	s.mu.Unlock()
	return nil
}

// --- CallLogStore ---

// InsertCalls appends call records.
func (s *FakeStore) InsertCalls(_ context.Context, calls []gateway.UpstreamCall) error {
	s.mu.Lock()
	s.calls = append(s.calls, calls...)
	s.mu.Unlock()
	return nil
}

// DeleteCallsBefore removes call records created before cutoff.
func (s *FakeStore) DeleteCallsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := len(s.calls)
	s.calls = slices.DeleteFunc(s.calls, func(c gateway.UpstreamCall) bool { return c.CreatedAt.Before(cutoff) })
	return int64(before - len(s.calls)), nil
}

// SummarizeCalls aggregates stored call records per endpoint.
func (s *FakeStore) SummarizeCalls(_ context.Context, since time.Time) ([]gateway.CallStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byEndpoint := make(map[string]*gateway.CallStats)
	for _, c := range s.calls {
		if c.CreatedAt.Before(since) {
			continue
		}
		cs, ok := byEndpoint[c.Endpoint]
		if !ok {
			cs = &gateway.CallStats{Endpoint: c.Endpoint}
			byEndpoint[c.Endpoint] = cs
		}
		cs.Total++
		if c.Cached {
			cs.Cached++
		}
		if c.ErrorKind != "" {
			cs.Errors++
		}
	}
	out := make([]gateway.CallStats, 0, len(byEndpoint))
	for _, cs := range byEndpoint {
		out = append(out, *cs)
	}
	slices.SortFunc(out, func(a, b gateway.CallStats) int { return strings.Compare(a.Endpoint, b.Endpoint) })
	return out, nil
}

// Calls returns a copy of the stored call records.
func (s *FakeStore) Calls() []gateway.UpstreamCall {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.calls)
}

// Ping always succeeds.
func (s *FakeStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *FakeStore) Close() error { return nil }
