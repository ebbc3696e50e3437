package httpapi

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tarunkv/recall/internal/completion"
	"github.com/tarunkv/recall/internal/observability"
	"github.com/tarunkv/recall/internal/protocol"
	"github.com/tarunkv/recall/internal/session"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadTimeout  = 120 * time.Second
	wsReadLimit    = 2 << 20
)

// handleChatWS serves the live chat stream. All writes go through a single
// writer goroutine; the read loop parses client messages and runs one
// exchange at a time against the completion client.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	sessionKey := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionKey == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}

	sess := s.sessions.GetOrCreate(sessionKey)
	s.syncSessionGauge()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, 256)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	send := func(msg any) bool {
		select {
		case <-ctx.Done():
			return false
		case outbound <- msg:
			return true
		}
	}

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			send(protocol.ErrorEvent{
				Type:   protocol.TypeErrorEvent,
				Code:   "invalid_client_message",
				Detail: err.Error(),
			})
			continue
		}

		switch msg := parsed.(type) {
		case protocol.ClientControl:
			s.handleWSControl(sess, msg, send)
		case protocol.UserMessage:
			s.runWSExchange(ctx, sessionKey, sess, msg.Text, send)
		}
	}

	cancel()
	<-writerDone
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
}

func (s *Server) handleWSControl(sess *session.Session, msg protocol.ClientControl, send func(any) bool) {
	switch msg.Action {
	case protocol.ActionClearMemory:
		sess.Buffer.Clear()
		s.metrics.SessionEvents.WithLabelValues("memory_cleared").Inc()
		send(protocol.SystemEvent{Type: protocol.TypeSystemEvent, Code: "memory_cleared"})
	case protocol.ActionSetWindow:
		if err := sess.Buffer.SetWindow(msg.Window); err != nil {
			send(protocol.ErrorEvent{Type: protocol.TypeErrorEvent, Code: "invalid_window", Detail: err.Error()})
			return
		}
		s.metrics.SessionEvents.WithLabelValues("window_resized").Inc()
		send(protocol.SystemEvent{Type: protocol.TypeSystemEvent, Code: "window_resized"})
	}
}

// runWSExchange streams one reply over the connection. Deltas are coalesced
// into phrase-sized chunks before they hit the wire; the exchange commits to
// memory only when the stream finishes cleanly.
func (s *Server) runWSExchange(ctx context.Context, sessionKey string, sess *session.Session, userText string, send func(any) bool) {
	turnID := uuid.NewString()
	if err := s.sessions.BeginExchange(sessionKey, turnID); err != nil {
		code := "session_error"
		if errors.Is(err, session.ErrExchangeInFlight) {
			code = "exchange_in_flight"
		}
		send(protocol.ErrorEvent{Type: protocol.TypeErrorEvent, Code: code, Detail: err.Error()})
		return
	}
	defer s.sessions.EndExchange(sessionKey)

	req := completion.Request{
		SessionID: sess.ID,
		TurnID:    turnID,
		UserText:  strings.TrimSpace(userText),
		Context:   sess.Buffer.Context(),
	}

	collector := completion.NewDeltaCollector(s.cfg.StreamMinChars)
	start := time.Now()
	firstDelta := true
	emit := func(chunk string) error {
		if firstDelta {
			firstDelta = false
			s.metrics.ObserveFirstDeltaLatency(time.Since(start))
			s.latency.Observe(observability.StageFirstDelta, time.Since(start))
		}
		s.metrics.StreamChunks.Inc()
		if !send(protocol.AssistantTextDelta{
			Type:      protocol.TypeAssistantTextDelta,
			TurnID:    turnID,
			TextDelta: chunk,
		}) {
			return ctx.Err()
		}
		return nil
	}

	reply, err := s.client.StreamReply(ctx, req, func(delta string) error {
		for _, chunk := range collector.Consume(delta) {
			if err := emit(chunk); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		kind := completion.KindOf(err)
		s.metrics.CompletionErrors.WithLabelValues(string(kind)).Inc()
		s.metrics.Exchanges.WithLabelValues("ws", "error").Inc()
		log.Printf("chat ws: session=%s turn=%s stream failed: %v", sess.ID, turnID, err)
		send(protocol.ErrorEvent{Type: protocol.TypeErrorEvent, Code: string(kind), Detail: err.Error()})
		send(protocol.AssistantTurnEnd{Type: protocol.TypeAssistantTurnEnd, TurnID: turnID, Reason: "error"})
		return
	}

	for _, chunk := range collector.Finalize() {
		if err := emit(chunk); err != nil {
			return
		}
	}

	sess.Buffer.AppendExchange(req.UserText, reply.Text)
	s.latency.Observe(observability.StageExchangeTotal, time.Since(start))
	s.metrics.Exchanges.WithLabelValues("ws", "ok").Inc()
	send(protocol.AssistantTurnEnd{Type: protocol.TypeAssistantTurnEnd, TurnID: turnID, Reason: "complete"})
}
