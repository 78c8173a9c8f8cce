package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	gateway "github.com/eugener/marketgate/internal"
)

// maxBody is the maximum allowed JSON request body size (1 MB).
const maxBody = 1 << 20

// decodeJSON limits body size, decodes JSON into v, and writes a 400 on error.
// Returns true if decoding succeeded.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, r, gateway.InvalidInput("invalid request body"))
		return false
	}
	return true
}

func (s *server) handleGetWatchlist(w http.ResponseWriter, r *http.Request) {
	id := gateway.IdentityFromContext(r.Context())
	entries, err := s.deps.Watchlist.GetEnrichedWatchlist(r.Context(), id.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []gateway.EnrichedWatchlistEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *server) handleAddWatchlist(w http.ResponseWriter, r *http.Request) {
	var entry gateway.WatchlistEntry
	if !decodeJSON(w, r, &entry) {
		return
	}
	id := gateway.IdentityFromContext(r.Context())
	created, err := s.deps.Watchlist.Add(r.Context(), id.UserID, entry)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *server) handleRemoveWatchlist(w http.ResponseWriter, r *http.Request) {
	id := gateway.IdentityFromContext(r.Context())
	if err := s.deps.Watchlist.Remove(r.Context(), id.UserID, chi.URLParam(r, "coinId")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type checkResponse struct {
	CoinID      string `json:"coinId"`
	InWatchlist bool   `json:"inWatchlist"`
}

func (s *server) handleCheckWatchlist(w http.ResponseWriter, r *http.Request) {
	id := gateway.IdentityFromContext(r.Context())
	coinID := chi.URLParam(r, "coinId")
	ok, err := s.deps.Watchlist.IsInWatchlist(r.Context(), id.UserID, coinID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, checkResponse{CoinID: coinID, InWatchlist: ok})
}

type checkBatchRequest struct {
	CoinIDs []string `json:"coinIds"`
}

// handleCheckBatch answers with {} for an empty or malformed body instead
// of an error.
func (s *server) handleCheckBatch(w http.ResponseWriter, r *http.Request) {
	var req checkBatchRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusOK, map[string]bool{})
		return
	}
	id := gateway.IdentityFromContext(r.Context())
	present, err := s.deps.Watchlist.CheckBatchInWatchlist(r.Context(), id.UserID, req.CoinIDs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, present)
}

type countResponse struct {
	Count int `json:"count"`
}

func (s *server) handleCountWatchlist(w http.ResponseWriter, r *http.Request) {
	id := gateway.IdentityFromContext(r.Context())
	n, err := s.deps.Watchlist.Count(r.Context(), id.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Count: n})
}
