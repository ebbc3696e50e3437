package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tarunkv/recall/internal/completion"
	"github.com/tarunkv/recall/internal/observability"
	"github.com/tarunkv/recall/internal/session"
)

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type deltaFrame struct {
	Delta string `json:"delta"`
}

type errorFrame struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// handleChat streams one assistant reply as server-sent events. Frames are
// data:{"delta":"..."} terminated by data:[DONE]; a mid-stream failure emits
// a data:{"error":...} frame before the terminator and commits nothing to
// memory.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.SessionID) == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "session_id is required")
		return
	}
	userText := strings.TrimSpace(req.Message)
	if userText == "" {
		respondError(w, http.StatusBadRequest, "empty_message", "message must not be empty")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer does not support flushing")
		return
	}

	sess := s.sessions.GetOrCreate(req.SessionID)
	s.syncSessionGauge()
	turnID := uuid.NewString()
	if err := s.sessions.BeginExchange(req.SessionID, turnID); err != nil {
		if errors.Is(err, session.ErrExchangeInFlight) {
			respondError(w, http.StatusConflict, "exchange_in_flight", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "session_error", err.Error())
		return
	}
	defer s.sessions.EndExchange(req.SessionID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	creq := completion.Request{
		SessionID: sess.ID,
		TurnID:    turnID,
		UserText:  userText,
		Context:   sess.Buffer.Context(),
	}

	start := time.Now()
	firstDelta := true
	reply, err := s.client.StreamReply(r.Context(), creq, func(delta string) error {
		if firstDelta {
			firstDelta = false
			s.metrics.ObserveFirstDeltaLatency(time.Since(start))
			s.latency.Observe(observability.StageFirstDelta, time.Since(start))
		}
		s.metrics.StreamChunks.Inc()
		return writeSSE(w, flusher, deltaFrame{Delta: delta})
	})
	if err != nil {
		kind := completion.KindOf(err)
		s.metrics.CompletionErrors.WithLabelValues(string(kind)).Inc()
		s.metrics.Exchanges.WithLabelValues("sse", "error").Inc()
		log.Printf("chat: session=%s turn=%s stream failed: %v", sess.ID, turnID, err)
		_ = writeSSE(w, flusher, errorFrame{Error: err.Error(), Code: string(kind)})
		writeSSEDone(w, flusher)
		return
	}

	sess.Buffer.AppendExchange(userText, reply.Text)
	s.latency.Observe(observability.StageExchangeTotal, time.Since(start))
	s.metrics.Exchanges.WithLabelValues("sse", "ok").Inc()
	writeSSEDone(w, flusher)
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data:%s\n\n", payload); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func writeSSEDone(w http.ResponseWriter, flusher http.Flusher) {
	_, _ = fmt.Fprint(w, "data:[DONE]\n\n")
	flusher.Flush()
}
