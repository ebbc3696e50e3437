package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/tarunkv/recall/internal/completion"
	"github.com/tarunkv/recall/internal/config"
	"github.com/tarunkv/recall/internal/observability"
	"github.com/tarunkv/recall/internal/session"
)

type Server struct {
	cfg      config.Config
	sessions *session.Manager
	client   completion.Client
	metrics  *observability.Metrics
	latency  *observability.LatencyWindow
	upgrader websocket.Upgrader
	static   http.Handler
}

func New(cfg config.Config, sessions *session.Manager, client completion.Client, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		client:   client,
		metrics:  metrics,
		latency:  observability.NewLatencyWindow(256),
		static:   newStaticHandler(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from the
				// same origin, so other sites can't drive a user's chat
				// session if the server is ever exposed beyond localhost.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusTemporaryRedirect)
	})
	r.Get("/ui", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusTemporaryRedirect)
	})
	r.Handle("/ui/*", http.StripPrefix("/ui/", s.static))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Post("/v1/chat", s.handleChat)
	r.Get("/v1/chat/ws", s.handleChatWS)
	r.Post("/v1/memory/clear", s.handleClearMemory)
	r.Post("/v1/memory/window", s.handleSetWindow)
	r.Get("/v1/export", s.handleExport)
	r.Get("/v1/session", s.handleSessionInfo)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"active_sessions": s.sessions.ActiveCount(),
	})
}

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.latency.Snapshot())
}

type clearMemoryRequest struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleClearMemory(w http.ResponseWriter, r *http.Request) {
	var req clearMemoryRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "session_id is required")
		return
	}

	sess := s.sessions.GetOrCreate(req.SessionID)
	sess.Buffer.Clear()
	s.metrics.SessionEvents.WithLabelValues("memory_cleared").Inc()
	respondJSON(w, http.StatusOK, map[string]any{"ok": true, "session_id": req.SessionID})
}

type setWindowRequest struct {
	SessionID string `json:"session_id"`
	Exchanges int    `json:"exchanges"`
}

func (s *Server) handleSetWindow(w http.ResponseWriter, r *http.Request) {
	var req setWindowRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "session_id is required")
		return
	}

	sess := s.sessions.GetOrCreate(req.SessionID)
	if err := sess.Buffer.SetWindow(req.Exchanges); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_window", err.Error())
		return
	}
	s.metrics.SessionEvents.WithLabelValues("window_resized").Inc()
	respondJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"session_id": req.SessionID,
		"exchanges":  req.Exchanges,
	})
}

func (s *Server) handleSessionInfo(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if key == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	sess, err := s.sessions.Get(key)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id":       sess.ID,
		"session_key":      sess.Key,
		"status":           sess.Status,
		"started_at":       sess.StartedAt,
		"last_activity_at": sess.LastActivityAt,
		"turns":            sess.Buffer.Len(),
		"window":           sess.Buffer.Window(),
	})
}

// syncSessionGauge refreshes the active-session gauge after anything that
// can create or expire a session.
func (s *Server) syncSessionGauge() {
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
