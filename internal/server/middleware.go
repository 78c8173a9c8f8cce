package server

import (
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	gateway "github.com/eugener/marketgate/internal"
)

// requestIDHeader is already in canonical form, so the header map is
// indexed directly.
const requestIDHeader = "X-Request-Id"

// maxRequestIDLen bounds caller-supplied request ids before they reach logs
// and the call log.
const maxRequestIDLen = 128

// recovery turns a handler panic into a 500 and logs the stack.
func (s *server) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			slog.LogAttrs(r.Context(), slog.LevelError, "panic recovered",
				slog.Any("panic", rec),
				slog.String("path", r.URL.Path),
				slog.String("request_id", gateway.RequestIDFromContext(r.Context())),
				slog.String("stack", string(debug.Stack())),
			)
			writeJSON(w, http.StatusInternalServerError, errorResponse("internal error", errTypeInternal))
		}()
		next.ServeHTTP(w, r)
	})
}

// requestID propagates a usable caller X-Request-Id or mints a UUIDv7, and
// echoes it on the response.
func (s *server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := ""
		if vals := r.Header[requestIDHeader]; len(vals) > 0 && len(vals[0]) <= maxRequestIDLen {
			id = vals[0]
		}
		if id == "" {
			id = uuid.Must(uuid.NewV7()).String()
		}
		w.Header()[requestIDHeader] = []string{id}
		next.ServeHTTP(w, r.WithContext(gateway.ContextWithRequestID(r.Context(), id)))
	})
}

// logging writes one line per request. Probe and scrape endpoints log at
// debug so they do not drown the access log; 5xx responses log at warn.
func (s *server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := acquireWriter(w)
		defer sw.release()

		next.ServeHTTP(sw, r)

		level := slog.LevelInfo
		switch {
		case sw.status >= http.StatusInternalServerError:
			level = slog.LevelWarn
		case isProbe(r.URL.Path):
			level = slog.LevelDebug
		}
		ctx := r.Context()
		if !slog.Default().Enabled(ctx, level) {
			return
		}
		attrs := []slog.Attr{
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", sw.status),
			slog.Int64("bytes", sw.written),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			slog.String("request_id", gateway.RequestIDFromContext(ctx)),
		}
		if id := gateway.IdentityFromContext(ctx); id != nil {
			attrs = append(attrs, slog.Int64("user_id", id.UserID))
		}
		slog.LogAttrs(ctx, level, "request", attrs...)
	})
}

func isProbe(path string) bool {
	return path == "/healthz" || path == "/readyz" || path == "/metrics"
}

// authenticate resolves the caller and attaches the Identity to the
// request metadata created by requestID.
func (s *server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := s.deps.Auth.Authenticate(r.Context(), r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if ctx := gateway.ContextWithIdentity(r.Context(), identity); ctx != r.Context() {
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}

// requirePerm answers 403 unless the authenticated caller holds perm.
func requirePerm(perm gateway.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id := gateway.IdentityFromContext(r.Context()); id == nil || !id.Can(perm) {
				writeError(w, r, gateway.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// statusWriter records the first status code and the body size.
type statusWriter struct {
	http.ResponseWriter
	status      int
	written     int64
	wroteHeader bool
}

var writerPool = sync.Pool{New: func() any { return new(statusWriter) }}

func acquireWriter(w http.ResponseWriter) *statusWriter {
	sw := writerPool.Get().(*statusWriter)
	*sw = statusWriter{ResponseWriter: w, status: http.StatusOK}
	return sw
}

func (sw *statusWriter) release() {
	sw.ResponseWriter = nil
	writerPool.Put(sw)
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.wroteHeader {
		sw.status = code
		sw.wroteHeader = true
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	sw.wroteHeader = true
	n, err := sw.ResponseWriter.Write(b)
	sw.written += int64(n)
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (sw *statusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}
