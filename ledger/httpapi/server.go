package httpapi

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/cors"

	"github.com/equa/scoring-ledger/internal/errkind"
	"github.com/equa/scoring-ledger/internal/xlog"
	"github.com/equa/scoring-ledger/ledger/export"
	"github.com/equa/scoring-ledger/ledger/model"
	"github.com/equa/scoring-ledger/ledger/store"
)

// httpError is the small {error, reason?} body every non-2xx response
// carries, with the exact error strings restored from
// the upstream http_server.py.
type httpError struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func writeError(w http.ResponseWriter, status int, errStr, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(httpError{Error: errStr, Reason: reason})
}

// Server is the primary-side ledger HTTP surface.
type Server struct {
	policy   *AccessPolicy
	store    store.LedgerStore
	exporter *export.Exporter
	mux      *http.ServeMux
	notifier *Notifier
}

func NewServer(policy *AccessPolicy, st store.LedgerStore, exp *export.Exporter, notifier *Notifier) *Server {
	s := &Server{policy: policy, store: st, exporter: exp, notifier: notifier}
	mux := http.NewServeMux()
	mux.HandleFunc("/ledger/auth/challenge", s.handleChallenge)
	mux.HandleFunc("/ledger/auth/respond", s.handleRespond)
	mux.HandleFunc("/ledger/checkpoints/latest", s.requireAuth(s.handleLatestCheckpoint))
	mux.HandleFunc("/ledger/deltas", s.requireAuth(s.handleListDeltas))
	mux.HandleFunc("/ledger/deltas/", s.requireAuth(s.handleGetDelta))
	mux.HandleFunc("/ledger/recompute", s.handleRecompute)
	if notifier != nil {
		mux.HandleFunc("/ledger/notify", notifier.HandleUpgrade)
	}
	s.mux = mux
	return s
}

// Handler wraps the mux with rs/cors, the CORS library go-equa itself
// depends on, since auditors fetch from an origin distinct from the
// primary's own.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{AllowedMethods: []string{"GET", "POST"}, AllowedHeaders: []string{"Authorization", "Content-Type"}})
	return withRequestID(c.Handler(s.mux))
}

// withRequestID attaches a google/uuid correlation id to every request's
// structured log line.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()
		xlog.Info("http request", "request_id", id, "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authz := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(authz, prefix) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "")
			return
		}
		token := strings.TrimPrefix(authz, prefix)
		hotkey, ok := s.policy.ValidateToken(token)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "")
			return
		}
		if !s.policy.AllowRequest(hotkey) {
			writeError(w, http.StatusTooManyRequests, "rate_limited", "")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Hotkey string `json:"hotkey"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body: "+err.Error(), "")
		return
	}
	nonce, err := s.policy.IssueChallenge(body.Hotkey)
	if err != nil {
		kind, _ := errkind.Of(err)
		_ = kind
		writeError(w, http.StatusForbidden, "ineligible", err.Error())
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"nonce": nonce})
}

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Hotkey    string `json:"hotkey"`
		Nonce     string `json:"nonce"`
		Signature string `json:"signature"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body: "+err.Error(), "")
		return
	}
	token, err := s.policy.RespondChallenge(body.Hotkey, body.Nonce, body.Signature)
	if err != nil {
		writeError(w, http.StatusForbidden, "auth_failed", err.Error())
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"token": token})
}

func (s *Server) handleLatestCheckpoint(w http.ResponseWriter, r *http.Request) {
	cp, err := s.store.GetLatestCheckpoint(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	if cp == nil {
		writeError(w, http.StatusNotFound, "no_checkpoint", "")
		return
	}
	json.NewEncoder(w).Encode(cp)
}

func (s *Server) handleListDeltas(w http.ResponseWriter, r *http.Request) {
	epochStr := r.URL.Query().Get("epoch")
	var epoch uint64
	if _, err := parseUint(epochStr, &epoch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_epoch", "")
		return
	}
	var since *string
	if s0 := r.URL.Query().Get("since"); s0 != "" {
		since = &s0
	}
	ids, err := s.store.ListDeltas(r.Context(), epoch, since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	json.NewEncoder(w).Encode(map[string]any{"deltas": ids, "epoch": epoch})
}

func (s *Server) handleGetDelta(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/ledger/deltas/")
	d, err := s.store.GetDelta(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body: "+err.Error(), "")
		return
	}
	if d == nil {
		writeError(w, http.StatusNotFound, "not_found", "")
		return
	}
	json.NewEncoder(w).Encode(d)
}

// handleRecompute is local-loopback-only.
func (s *Server) handleRecompute(w http.ResponseWriter, r *http.Request) {
	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	ip := net.ParseIP(host)
	if ip == nil || !ip.IsLoopback() {
		writeError(w, http.StatusForbidden, "forbidden", "")
		return
	}
	if s.exporter == nil {
		writeError(w, http.StatusForbidden, "exporter_not_configured", "")
		return
	}
	var body struct {
		ReasonCode       model.RecomputeReasonCode `json:"reason_code"`
		ReasonDetail     string                     `json:"reason_detail"`
		AffectedEventIDs []string                   `json:"affected_event_ids"`
		Severity         model.Severity             `json:"severity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body: "+err.Error(), "")
		return
	}
	cp, err := s.exporter.BumpEpoch(r.Context(), body.ReasonCode, body.ReasonDetail, body.AffectedEventIDs, body.Severity)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body: "+err.Error(), "")
		return
	}
	if s.notifier != nil {
		s.notifier.Broadcast("checkpoint")
	}
	json.NewEncoder(w).Encode(cp)
}

func parseUint(s string, out *uint64) (uint64, error) {
	var v uint64
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, errkind.New(errkind.Integrity, "not a uint")
		}
		v = v*10 + uint64(c-'0')
	}
	*out = v
	return v, nil
}
