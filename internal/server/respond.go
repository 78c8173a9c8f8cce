package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	gateway "github.com/eugener/marketgate/internal"
)

// Error type names carried in the error envelope.
const (
	errTypeInvalidRequest      = "invalid_request_error"
	errTypeAuthentication      = "authentication_error"
	errTypePermission          = "permission_error"
	errTypeNotFound            = "not_found_error"
	errTypeConflict            = "conflict_error"
	errTypeRateLimited         = "rate_limited"
	errTypeUpstreamRejected    = "upstream_rejected"
	errTypeUpstreamUnavailable = "upstream_unavailable"
	errTypeTimeout             = "timeout"
	errTypeInternal            = "internal_error"
)

type apiError struct {
	Error struct {
		Message    string `json:"message"`
		Type       string `json:"type"`
		RetryAfter int    `json:"retry_after,omitempty"` // seconds
	} `json:"error"`
}

func errorResponse(msg, typ string) apiError {
	var e apiError
	e.Error.Message = msg
	e.Error.Type = typ
	return e
}

// errorStatus maps a domain error to its HTTP status and envelope type.
// Classified upstream failures are mapped by kind before the sentinel
// checks, since they may wrap collaborator errors.
func errorStatus(err error) (int, string) {
	var ue *gateway.UpstreamError
	if errors.As(err, &ue) {
		return upstreamStatus(ue)
	}
	switch {
	case errors.Is(err, gateway.ErrInvalidInput):
		return http.StatusBadRequest, errTypeInvalidRequest
	case errors.Is(err, gateway.ErrUnauthorized),
		errors.Is(err, gateway.ErrKeyExpired),
		errors.Is(err, gateway.ErrKeyBlocked):
		return http.StatusUnauthorized, errTypeAuthentication
	case errors.Is(err, gateway.ErrForbidden):
		return http.StatusForbidden, errTypePermission
	case errors.Is(err, gateway.ErrNotFound):
		return http.StatusNotFound, errTypeNotFound
	case errors.Is(err, gateway.ErrConflict):
		return http.StatusConflict, errTypeConflict
	case errors.Is(err, gateway.ErrRateLimited):
		return http.StatusTooManyRequests, errTypeRateLimited
	case errors.Is(err, gateway.ErrTimeout):
		return http.StatusGatewayTimeout, errTypeTimeout
	case errors.Is(err, gateway.ErrUpstreamRejected):
		return http.StatusBadGateway, errTypeUpstreamRejected
	case errors.Is(err, gateway.ErrUpstreamUnavailable):
		return http.StatusBadGateway, errTypeUpstreamUnavailable
	default:
		return http.StatusInternalServerError, errTypeInternal
	}
}

// upstreamStatus keeps 400, 404 and 422 for rejected requests; any other
// rejection is reported as a bad gateway.
func upstreamStatus(ue *gateway.UpstreamError) (int, string) {
	switch ue.Kind {
	case gateway.KindRateLimited:
		return http.StatusTooManyRequests, errTypeRateLimited
	case gateway.KindUpstreamRejected:
		switch ue.StatusCode {
		case http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity:
			return ue.StatusCode, errTypeUpstreamRejected
		}
		return http.StatusBadGateway, errTypeUpstreamRejected
	case gateway.KindTimeout:
		return http.StatusGatewayTimeout, errTypeTimeout
	default:
		return http.StatusBadGateway, errTypeUpstreamUnavailable
	}
}

// retryAfter returns the retry hint for a rate-limited error.
func retryAfter(err error) time.Duration {
	var ue *gateway.UpstreamError
	if errors.As(err, &ue) {
		if d := ue.RetryHint(); d > 0 {
			return d
		}
	}
	return gateway.DefaultRetryAfter
}

// writeError writes the error envelope for err. Unclassified errors are
// logged server-side and reported with a generic message so storage and
// driver details never reach the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, typ := errorStatus(err)
	msg := err.Error()
	switch {
	case status == http.StatusInternalServerError:
		slog.LogAttrs(r.Context(), slog.LevelError, "request failed",
			slog.String("error", err.Error()),
			slog.String("path", r.URL.Path),
			slog.String("request_id", gateway.RequestIDFromContext(r.Context())),
		)
		msg = "internal error"
	case status >= http.StatusBadGateway:
		slog.LogAttrs(r.Context(), slog.LevelWarn, "upstream failure",
			slog.String("error", err.Error()),
			slog.String("path", r.URL.Path),
			slog.String("request_id", gateway.RequestIDFromContext(r.Context())),
		)
	}

	resp := errorResponse(msg, typ)
	if status == http.StatusTooManyRequests {
		secs := int(math.Ceil(retryAfter(err).Seconds()))
		resp.Error.RetryAfter = secs
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	writeJSON(w, status, resp)
}

// jsonCT is a pre-allocated header value slice. Direct map assignment
// avoids the []string{v} alloc that Header.Set creates on every call.
var jsonCT = []string{"application/json"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// writeRaw writes an upstream JSON body unchanged.
func writeRaw(w http.ResponseWriter, body []byte) {
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}
