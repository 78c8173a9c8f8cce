package server

import "net/http"

// Pre-allocated response body and header value slice for the liveness probe.
var (
	okBody  = []byte("ok")
	plainCT = []string{"text/plain"}
)

func (s *server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header()["Content-Type"] = plainCT
	w.WriteHeader(http.StatusOK)
	w.Write(okBody)
}

type readyResponse struct {
	Status   string            `json:"status"`
	Breakers map[string]string `json:"breakers,omitempty"`
}

// handleReadyz reports 503 when the ready check fails. Breaker states are
// informational: an open breaker degrades one provider, not the process.
func (s *server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	resp := readyResponse{Status: "ok"}
	if s.deps.Breakers != nil {
		states := s.deps.Breakers.States()
		if len(states) > 0 {
			resp.Breakers = make(map[string]string, len(states))
			for name, st := range states {
				resp.Breakers[name] = st.String()
			}
		}
	}
	if s.deps.ReadyCheck != nil {
		if err := s.deps.ReadyCheck(r.Context()); err != nil {
			resp.Status = "not ready"
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
