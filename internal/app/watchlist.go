package app

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	gateway "github.com/eugener/marketgate/internal"
	"github.com/eugener/marketgate/internal/storage"
	"github.com/eugener/marketgate/internal/telemetry"
)

// MarketsFetcher is the slice of the gateway the aggregator depends on.
// *MarketService satisfies it.
type MarketsFetcher interface {
	FetchMarkets(ctx context.Context, q MarketsQuery) ([]gateway.CoinMarket, error)
}

// WatchlistService serves per-user watchlists. Reads are enriched with live
// market data on a best-effort basis.
type WatchlistService struct {
	store      storage.WatchlistStore
	markets    MarketsFetcher
	maxEntries int
	metrics    *telemetry.Metrics
}

// NewWatchlistService returns a WatchlistService. maxEntries <= 0 means no
// limit; metrics may be nil.
func NewWatchlistService(store storage.WatchlistStore, markets MarketsFetcher, maxEntries int, metrics *telemetry.Metrics) *WatchlistService {
	return &WatchlistService{store: store, markets: markets, maxEntries: maxEntries, metrics: metrics}
}

// GetEnrichedWatchlist returns the user's rows merged with one batched
// markets lookup, ranked entries first by ascending rank. A failed lookup
// degrades to unenriched rows; storage failures are returned.
func (s *WatchlistService) GetEnrichedWatchlist(ctx context.Context, userID int64) ([]gateway.EnrichedWatchlistEntry, error) {
	if err := validateUser(userID); err != nil {
		return nil, err
	}
	rows, err := s.store.ListWatchlist(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]gateway.EnrichedWatchlistEntry, len(rows))
	for i, r := range rows {
		out[i].WatchlistEntry = r
	}
	if len(rows) == 0 {
		return out, nil
	}

	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.CoinID
	}
	markets, err := s.markets.FetchMarkets(ctx, MarketsQuery{
		VsCurrency: "usd",
		Order:      "market_cap_desc",
		PerPage:    len(ids),
		Page:       1,
		IDs:        ids,
	})
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelWarn, "watchlist enrichment failed, returning stored rows",
			slog.Int64("user_id", userID),
			slog.Int("count", len(rows)),
			slog.String("error", err.Error()),
		)
		if s.metrics != nil {
			s.metrics.WatchlistDegraded.Inc()
		}
		return out, nil
	}

	// Upstream ids are lower case; rows saved before ids were normalized
	// may not be.
	byID := make(map[string]*gateway.CoinMarket, len(markets))
	for i := range markets {
		byID[normalizeCoinID(markets[i].ID)] = &markets[i]
	}
	for i := range out {
		if m, ok := byID[normalizeCoinID(out[i].CoinID)]; ok {
			enrich(&out[i], m)
		}
	}

	slices.SortStableFunc(out, compareRank)
	return out, nil
}

func enrich(e *gateway.EnrichedWatchlistEntry, m *gateway.CoinMarket) {
	e.MarketCapRank = m.MarketCapRank
	e.CurrentPrice = m.CurrentPrice
	e.PriceChange24h = m.PriceChangePercentage24h
	e.MarketCap = m.MarketCap
	e.High24h = m.High24h
	e.Low24h = m.Low24h
	e.LastUpdated = m.LastUpdated
}

// compareRank orders ranked entries ascending and unranked entries last.
func compareRank(a, b gateway.EnrichedWatchlistEntry) int {
	switch {
	case a.MarketCapRank == nil && b.MarketCapRank == nil:
		return 0
	case a.MarketCapRank == nil:
		return 1
	case b.MarketCapRank == nil:
		return -1
	default:
		return cmp.Compare(*a.MarketCapRank, *b.MarketCapRank)
	}
}

// MaxBatchCheck bounds one batch check; the ids become a single SQL IN
// list.
const MaxBatchCheck = 250

// CheckBatchInWatchlist reports, for every requested coin id, whether it is
// in the user's watchlist. Each requested string comes back as a key
// exactly as given; matching is on the normalized id. Empty input returns
// an empty map without touching storage.
func (s *WatchlistService) CheckBatchInWatchlist(ctx context.Context, userID int64, coinIDs []string) (map[string]bool, error) {
	if len(coinIDs) > MaxBatchCheck {
		return nil, gateway.InvalidInput("at most %d coin ids per batch check, got %d", MaxBatchCheck, len(coinIDs))
	}
	out := make(map[string]bool, len(coinIDs))
	lookup := make([]string, 0, len(coinIDs))
	for _, raw := range coinIDs {
		out[raw] = false
		if id := normalizeCoinID(raw); id != "" && !slices.Contains(lookup, id) {
			lookup = append(lookup, id)
		}
	}
	if len(lookup) == 0 {
		return out, nil
	}
	if err := validateUser(userID); err != nil {
		return nil, err
	}

	present, err := s.store.WatchlistCoinIDs(ctx, userID, lookup)
	if err != nil {
		return nil, err
	}
	for _, raw := range coinIDs {
		out[raw] = slices.Contains(present, normalizeCoinID(raw))
	}
	return out, nil
}

// Add saves a coin to the user's watchlist.
func (s *WatchlistService) Add(ctx context.Context, userID int64, entry gateway.WatchlistEntry) (*gateway.WatchlistEntry, error) {
	if err := validateUser(userID); err != nil {
		return nil, err
	}
	entry.CoinID = normalizeCoinID(entry.CoinID)
	entry.CoinName = strings.TrimSpace(entry.CoinName)
	entry.Symbol = strings.TrimSpace(entry.Symbol)
	switch {
	case entry.CoinID == "":
		return nil, gateway.InvalidInput("coinId is required")
	case entry.CoinName == "":
		return nil, gateway.InvalidInput("coinName is required")
	case entry.Symbol == "":
		return nil, gateway.InvalidInput("symbol is required")
	}

	if _, err := s.store.GetWatchlistItem(ctx, userID, entry.CoinID); err == nil {
		return nil, gateway.ErrConflict
	} else if !errors.Is(err, gateway.ErrNotFound) {
		return nil, err
	}

	if s.maxEntries > 0 {
		n, err := s.store.CountWatchlist(ctx, userID)
		if err != nil {
			return nil, err
		}
		if n >= s.maxEntries {
			return nil, gateway.InvalidInput("watchlist is full (max %d entries)", s.maxEntries)
		}
	}

	entry.ID = 0
	entry.UserID = userID
	entry.CreatedAt = time.Now().UTC()
	if err := s.store.CreateWatchlistItem(ctx, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Remove deletes a coin from the user's watchlist. It returns
// gateway.ErrNotFound when the coin is not present.
func (s *WatchlistService) Remove(ctx context.Context, userID int64, coinID string) error {
	if err := validateUser(userID); err != nil {
		return err
	}
	return s.store.DeleteWatchlistItem(ctx, userID, normalizeCoinID(coinID))
}

// IsInWatchlist reports whether coinID is in the user's watchlist.
func (s *WatchlistService) IsInWatchlist(ctx context.Context, userID int64, coinID string) (bool, error) {
	if err := validateUser(userID); err != nil {
		return false, err
	}
	_, err := s.store.GetWatchlistItem(ctx, userID, normalizeCoinID(coinID))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, gateway.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Count returns the number of entries in the user's watchlist.
func (s *WatchlistService) Count(ctx context.Context, userID int64) (int, error) {
	if err := validateUser(userID); err != nil {
		return 0, err
	}
	return s.store.CountWatchlist(ctx, userID)
}

// normalizeCoinID matches the form the upstream uses for coin ids.
func normalizeCoinID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

func validateUser(userID int64) error {
	if userID <= 0 {
		return gateway.InvalidInput("user id must be a positive integer")
	}
	return nil
}
