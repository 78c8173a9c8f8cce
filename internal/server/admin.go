package server

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	gateway "github.com/eugener/marketgate/internal"
	"github.com/eugener/marketgate/internal/app"
)

const (
	defaultCallWindow = 24 * time.Hour
	defaultPageSize   = 50
	maxPageSize       = 100
)

type page struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

// pageFrom reads offset and limit, falling back to the first page of the
// default size on anything out of range.
func pageFrom(q url.Values) page {
	p := page{Limit: defaultPageSize}
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 && n <= maxPageSize {
		p.Limit = n
	}
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n > 0 {
		p.Offset = n
	}
	return p
}

type pagedResponse[T any] struct {
	Data []T `json:"data"`
	Page page `json:"pagination"`
}

// rfc3339 parses an optional timestamp field; "" yields nil.
func rfc3339(field, raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, gateway.InvalidInput("%s must be an RFC3339 timestamp, got %q", field, raw)
	}
	t = t.UTC()
	return &t, nil
}

func (s *server) handleCachePurge(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cache != nil {
		s.deps.Cache.Purge(r.Context())
	}
	w.WriteHeader(http.StatusNoContent)
}

type createKeyRequest struct {
	UserID    int64  `json:"user_id"`
	Role      string `json:"role,omitempty"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

// createKeyResponse carries the plaintext key. It is never shown again.
type createKeyResponse struct {
	*gateway.APIKey
	Key string `json:"key"`
}

func (s *server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID, err := strconv.ParseInt(q.Get("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		writeError(w, r, gateway.InvalidInput("user_id must be a positive integer, got %q", q.Get("user_id")))
		return
	}
	p := pageFrom(q)

	keys, err := s.deps.Keys.ListKeys(r.Context(), userID, p.Offset, p.Limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if keys == nil {
		keys = []*gateway.APIKey{}
	}
	writeJSON(w, http.StatusOK, pagedResponse[*gateway.APIKey]{Data: keys, Page: p})
}

func (s *server) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	expiresAt, err := rfc3339("expires_at", req.ExpiresAt)
	if err != nil {
		writeError(w, r, err)
		return
	}
	plaintext, key, err := s.deps.Keys.CreateKey(r.Context(), app.CreateKeyOpts{
		UserID:    req.UserID,
		Role:      req.Role,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/admin/keys/"+key.ID)
	writeJSON(w, http.StatusCreated, createKeyResponse{APIKey: key, Key: plaintext})
}

// handleDeleteKey removes the key and evicts it from the auth cache so it
// stops working immediately.
func (s *server) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Keys.DeleteKey(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	if s.deps.KeyInvalidator != nil {
		s.deps.KeyInvalidator.InvalidateByKeyID(id)
	}
	w.WriteHeader(http.StatusNoContent)
}

type callStatsResponse struct {
	Since time.Time           `json:"since"`
	Data  []gateway.CallStats `json:"data"`
}

// handleCallStats summarizes the upstream call log per endpoint class since
// ?since= (default: the last 24 hours).
func (s *server) handleCallStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Calls == nil {
		writeError(w, r, gateway.ErrNotFound)
		return
	}
	since, err := rfc3339("since", r.URL.Query().Get("since"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if since == nil {
		t := time.Now().UTC().Add(-defaultCallWindow)
		since = &t
	}

	stats, err := s.deps.Calls.SummarizeCalls(r.Context(), *since)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if stats == nil {
		stats = []gateway.CallStats{}
	}
	writeJSON(w, http.StatusOK, callStatsResponse{Since: *since, Data: stats})
}
