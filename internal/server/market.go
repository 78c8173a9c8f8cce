package server

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	gateway "github.com/eugener/marketgate/internal"
	"github.com/eugener/marketgate/internal/app"
)

func (s *server) handleMarkets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	perPage, err := queryInt(q, "per_page")
	if err != nil {
		writeError(w, r, err)
		return
	}
	page, err := queryInt(q, "page")
	if err != nil {
		writeError(w, r, err)
		return
	}
	rows, err := s.deps.Market.FetchMarkets(r.Context(), app.MarketsQuery{
		VsCurrency:            q.Get("vs_currency"),
		Order:                 q.Get("order"),
		PerPage:               perPage,
		Page:                  page,
		IDs:                   queryList(q, "ids"),
		Category:              q.Get("category"),
		PriceChangePercentage: q.Get("price_change_percentage"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rows == nil {
		rows = []gateway.CoinMarket{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *server) handleCoins(w http.ResponseWriter, r *http.Request) {
	body, err := s.deps.Market.FetchCoins(r.Context(), r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeRaw(w, body)
}

// handleCoin serves the full upstream coin payload rather than the typed
// subset, so clients keep fields such as links and images.
func (s *server) handleCoin(w http.ResponseWriter, r *http.Request) {
	body, err := s.deps.Market.Fetch(r.Context(), app.Request{
		Class: app.ClassCoin,
		ID:    chi.URLParam(r, "id"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeRaw(w, body)
}

func (s *server) handleMarketChart(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	body, err := s.deps.Market.FetchMarketChart(r.Context(), chi.URLParam(r, "id"), app.MarketChartQuery{
		VsCurrency: q.Get("vs_currency"),
		Days:       q.Get("days"),
		Interval:   q.Get("interval"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeRaw(w, body)
}

func (s *server) handleSimplePrice(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	prices, err := s.deps.Market.FetchSimplePrice(r.Context(), app.SimplePriceQuery{
		IDs:          queryList(q, "ids"),
		VsCurrencies: queryList(q, "vs_currencies"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if prices == nil {
		prices = map[string]gateway.PriceInfo{}
	}
	writeJSON(w, http.StatusOK, prices)
}

func (s *server) handleTrending(w http.ResponseWriter, r *http.Request) {
	body, err := s.deps.Market.Fetch(r.Context(), app.Request{Class: app.ClassTrending})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeRaw(w, body)
}

func (s *server) handleGlobal(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Market.FetchGlobal(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *server) handleNFTList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	perPage, err := queryInt(q, "per_page")
	if err != nil {
		writeError(w, r, err)
		return
	}
	page, err := queryInt(q, "page")
	if err != nil {
		writeError(w, r, err)
		return
	}
	items, err := s.deps.Market.FetchNFTList(r.Context(), app.NFTListQuery{
		Order:   q.Get("order"),
		PerPage: perPage,
		Page:    page,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if items == nil {
		items = []gateway.NFTListItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *server) handleNFT(w http.ResponseWriter, r *http.Request) {
	body, err := s.deps.Market.FetchNFT(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeRaw(w, body)
}

func (s *server) handleExchanges(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	perPage, err := queryInt(q, "per_page")
	if err != nil {
		writeError(w, r, err)
		return
	}
	page, err := queryInt(q, "page")
	if err != nil {
		writeError(w, r, err)
		return
	}
	body, err := s.deps.Market.FetchExchanges(r.Context(), app.ExchangesQuery{PerPage: perPage, Page: page})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeRaw(w, body)
}

func (s *server) handleExchange(w http.ResponseWriter, r *http.Request) {
	body, err := s.deps.Market.FetchExchange(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeRaw(w, body)
}

func (s *server) handleExchangeTickers(w http.ResponseWriter, r *http.Request) {
	body, err := s.deps.Market.FetchExchangeTickers(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeRaw(w, body)
}

func (s *server) handleNews(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryInt(q, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var lts int64
	if v := q.Get("lTs"); v != "" {
		if lts, err = strconv.ParseInt(v, 10, 64); err != nil {
			writeError(w, r, gateway.InvalidInput("lTs must be a unix timestamp, got %q", v))
			return
		}
	}
	body, err := s.deps.Market.FetchNews(r.Context(), app.NewsQuery{
		Lang:              q.Get("lang"),
		Limit:             limit,
		Categories:        q.Get("categories"),
		ExcludeCategories: q.Get("exclude_categories"),
		ToTimestamp:       lts,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeRaw(w, body)
}

// queryInt parses an optional integer parameter; absent means 0.
func queryInt(q url.Values, key string) (int, error) {
	v := q.Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, gateway.InvalidInput("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

// queryList splits a comma-separated parameter.
func queryList(q url.Values, key string) []string {
	v := q.Get(key)
	if v == "" {
		return nil
	}
	return strings.Split(v, ",")
}
