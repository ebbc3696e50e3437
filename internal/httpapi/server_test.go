package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tarunkv/recall/internal/completion"
	"github.com/tarunkv/recall/internal/config"
	"github.com/tarunkv/recall/internal/observability"
	"github.com/tarunkv/recall/internal/session"
)

// failingClient aborts mid-stream after delivering one delta.
type failingClient struct{}

func (failingClient) StreamReply(_ context.Context, _ completion.Request, onDelta completion.DeltaHandler) (completion.Reply, error) {
	if onDelta != nil {
		_ = onDelta("partial ")
	}
	return completion.Reply{}, &completion.Error{Kind: completion.KindNetwork, Err: errors.New("connection reset")}
}

func newTestServer(t *testing.T, client completion.Client) (*Server, *session.Manager, *httptest.Server) {
	t.Helper()
	cfg := config.Config{
		SessionInactivityTimeout: 2 * time.Minute,
		MemoryWindow:             10,
		StreamMinChars:           4,
		AllowAnyOrigin:           true,
	}
	sessions := session.NewManager(cfg.MemoryWindow, cfg.SessionInactivityTimeout)
	metrics := observability.NewMetrics("test_httpapi_" + t.Name() + time.Now().Format("150405000000000"))
	srv := New(cfg, sessions, client, metrics)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return srv, sessions, ts
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	body, _ := json.Marshal(payload)
	res, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s error = %v", url, err)
	}
	return res
}

func TestChatStreamsAndCommitsExchange(t *testing.T) {
	_, sessions, ts := newTestServer(t, completion.NewMockClient())

	res := postJSON(t, ts.URL+"/v1/chat", map[string]string{
		"session_id": "sess-1",
		"message":    "My name is Tarun",
	})
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("chat status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if ct := res.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q, want text/event-stream", ct)
	}

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	body := string(raw)
	if !strings.HasSuffix(strings.TrimSpace(body), "data:[DONE]") {
		t.Fatalf("stream not terminated by [DONE]:\n%s", body)
	}

	var assembled strings.Builder
	for _, frame := range strings.Split(body, "\n\n") {
		if !strings.HasPrefix(frame, "data:") || frame == "data:[DONE]" {
			continue
		}
		var f deltaFrame
		if err := json.Unmarshal([]byte(strings.TrimPrefix(frame, "data:")), &f); err != nil {
			t.Fatalf("bad frame %q: %v", frame, err)
		}
		assembled.WriteString(f.Delta)
	}
	if !strings.Contains(assembled.String(), "You said: My name is Tarun") {
		t.Fatalf("assembled reply = %q", assembled.String())
	}

	sess, err := sessions.Get("sess-1")
	if err != nil {
		t.Fatalf("session after chat: %v", err)
	}
	if got := sess.Buffer.Len(); got != 2 {
		t.Fatalf("buffer len = %d, want 2", got)
	}
}

func TestChatRecallsEarlierTurns(t *testing.T) {
	_, _, ts := newTestServer(t, completion.NewMockClient())

	first := postJSON(t, ts.URL+"/v1/chat", map[string]string{"session_id": "s", "message": "My name is Tarun"})
	io.Copy(io.Discard, first.Body)
	first.Body.Close()

	second := postJSON(t, ts.URL+"/v1/chat", map[string]string{"session_id": "s", "message": "What is my name?"})
	raw, _ := io.ReadAll(second.Body)
	second.Body.Close()

	var assembled strings.Builder
	for _, frame := range strings.Split(string(raw), "\n\n") {
		if !strings.HasPrefix(frame, "data:") || frame == "data:[DONE]" {
			continue
		}
		var f deltaFrame
		if err := json.Unmarshal([]byte(strings.TrimPrefix(frame, "data:")), &f); err != nil {
			t.Fatalf("bad frame %q: %v", frame, err)
		}
		assembled.WriteString(f.Delta)
	}
	if !strings.Contains(assembled.String(), "Earlier you told me") {
		t.Fatalf("second reply did not use conversation context:\n%s", raw)
	}
}

func TestChatValidation(t *testing.T) {
	_, _, ts := newTestServer(t, completion.NewMockClient())

	cases := []struct {
		name    string
		payload map[string]string
	}{
		{"missing session", map[string]string{"message": "hi"}},
		{"empty message", map[string]string{"session_id": "s", "message": "   "}},
	}
	for _, tc := range cases {
		res := postJSON(t, ts.URL+"/v1/chat", tc.payload)
		res.Body.Close()
		if res.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: status = %d, want %d", tc.name, res.StatusCode, http.StatusBadRequest)
		}
	}
}

func TestChatFailureCommitsNothing(t *testing.T) {
	_, sessions, ts := newTestServer(t, failingClient{})

	res := postJSON(t, ts.URL+"/v1/chat", map[string]string{"session_id": "s", "message": "hello"})
	raw, _ := io.ReadAll(res.Body)
	res.Body.Close()

	if !strings.Contains(string(raw), `"error"`) {
		t.Fatalf("expected error frame in stream:\n%s", raw)
	}
	if !strings.Contains(string(raw), "data:[DONE]") {
		t.Fatalf("failed stream must still terminate:\n%s", raw)
	}

	sess, err := sessions.Get("s")
	if err != nil {
		t.Fatalf("session lookup: %v", err)
	}
	if got := sess.Buffer.Len(); got != 0 {
		t.Fatalf("buffer len after failed stream = %d, want 0", got)
	}
}

func TestMemoryControlsArePerSession(t *testing.T) {
	_, sessions, ts := newTestServer(t, completion.NewMockClient())

	for _, id := range []string{"a", "b"} {
		res := postJSON(t, ts.URL+"/v1/chat", map[string]string{"session_id": id, "message": "hi from " + id})
		io.Copy(io.Discard, res.Body)
		res.Body.Close()
	}

	res := postJSON(t, ts.URL+"/v1/memory/window", map[string]any{"session_id": "a", "exchanges": 3})
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("set window status = %d", res.StatusCode)
	}

	res = postJSON(t, ts.URL+"/v1/memory/clear", map[string]string{"session_id": "a"})
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("clear status = %d", res.StatusCode)
	}

	a, _ := sessions.Get("a")
	b, _ := sessions.Get("b")
	if a.Buffer.Len() != 0 {
		t.Fatalf("session a len = %d, want 0 after clear", a.Buffer.Len())
	}
	if a.Buffer.Window() != 3 {
		t.Fatalf("session a window = %d, want 3", a.Buffer.Window())
	}
	if b.Buffer.Len() != 2 || b.Buffer.Window() != 10 {
		t.Fatalf("session b was affected: len=%d window=%d", b.Buffer.Len(), b.Buffer.Window())
	}

	res = postJSON(t, ts.URL+"/v1/memory/window", map[string]any{"session_id": "a", "exchanges": -1})
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("negative window status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestExportFormats(t *testing.T) {
	_, _, ts := newTestServer(t, completion.NewMockClient())

	res := postJSON(t, ts.URL+"/v1/chat", map[string]string{"session_id": "e", "message": "hello"})
	io.Copy(io.Discard, res.Body)
	res.Body.Close()

	jsonRes, err := http.Get(ts.URL + "/v1/export?session_id=e&format=json")
	if err != nil {
		t.Fatalf("export json: %v", err)
	}
	defer jsonRes.Body.Close()
	if cd := jsonRes.Header.Get("Content-Disposition"); !strings.Contains(cd, "attachment") || !strings.Contains(cd, ".json") {
		t.Fatalf("json Content-Disposition = %q", cd)
	}
	var turns []map[string]string
	if err := json.NewDecoder(jsonRes.Body).Decode(&turns); err != nil {
		t.Fatalf("decode export: %v", err)
	}
	if len(turns) != 2 || turns[0]["role"] != "user" || turns[1]["role"] != "assistant" {
		t.Fatalf("exported turns = %+v", turns)
	}

	txtRes, err := http.Get(ts.URL + "/v1/export?session_id=e&format=txt")
	if err != nil {
		t.Fatalf("export txt: %v", err)
	}
	defer txtRes.Body.Close()
	raw, _ := io.ReadAll(txtRes.Body)
	if !strings.HasPrefix(string(raw), "USER: hello") {
		t.Fatalf("txt export = %q", raw)
	}

	badRes, _ := http.Get(ts.URL + "/v1/export?session_id=e&format=xml")
	badRes.Body.Close()
	if badRes.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad format status = %d", badRes.StatusCode)
	}
}

func TestUIAndHealthRoutes(t *testing.T) {
	_, _, ts := newTestServer(t, completion.NewMockClient())

	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	rootRes, err := client.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET / error = %v", err)
	}
	rootRes.Body.Close()
	if rootRes.StatusCode != http.StatusTemporaryRedirect {
		t.Fatalf("GET / status = %d, want %d", rootRes.StatusCode, http.StatusTemporaryRedirect)
	}
	if loc := rootRes.Header.Get("Location"); loc != "/ui/" {
		t.Fatalf("GET / location = %q, want /ui/", loc)
	}

	uiRes, err := http.Get(ts.URL + "/ui/")
	if err != nil {
		t.Fatalf("GET /ui/ error = %v", err)
	}
	body, _ := io.ReadAll(uiRes.Body)
	uiRes.Body.Close()
	if uiRes.StatusCode != http.StatusOK || !strings.Contains(string(body), "Recall Chat") {
		t.Fatalf("GET /ui/ status = %d, body starts %q", uiRes.StatusCode, firstN(string(body), 60))
	}

	healthRes, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	healthRes.Body.Close()
	if healthRes.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", healthRes.StatusCode)
	}
}

func TestWebSocketChat(t *testing.T) {
	_, sessions, ts := newTestServer(t, completion.NewMockClient())

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/chat/ws?session_id=ws-1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"type": "user_message", "text": "hello there"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	var assembled strings.Builder
	for {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v (assembled %q)", err, assembled.String())
		}
		switch msg["type"] {
		case "assistant_text_delta":
			assembled.WriteString(msg["text_delta"].(string))
		case "assistant_turn_end":
			if msg["reason"] != "complete" {
				t.Fatalf("turn end reason = %v", msg["reason"])
			}
			if !strings.Contains(assembled.String(), "You said: hello there") {
				t.Fatalf("assembled = %q", assembled.String())
			}
			sess, _ := sessions.Get("ws-1")
			if sess.Buffer.Len() != 2 {
				t.Fatalf("buffer len = %d, want 2", sess.Buffer.Len())
			}
			return
		case "error_event":
			t.Fatalf("unexpected error event: %+v", msg)
		}
	}
}

func TestWebSocketRejectsBlankMessage(t *testing.T) {
	_, sessions, ts := newTestServer(t, completion.NewMockClient())

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/chat/ws?session_id=ws-blank"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"type": "user_message", "text": "   "}); err != nil {
		t.Fatalf("write: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg map[string]any
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg["type"] != "error_event" || msg["code"] != "invalid_client_message" {
		t.Fatalf("blank message response = %+v, want invalid_client_message error", msg)
	}

	sess, err := sessions.Get("ws-blank")
	if err != nil {
		t.Fatalf("session lookup: %v", err)
	}
	if got := sess.Buffer.Len(); got != 0 {
		t.Fatalf("buffer len = %d, want 0 after rejected blank message", got)
	}
}

func TestWebSocketControlMessages(t *testing.T) {
	_, sessions, ts := newTestServer(t, completion.NewMockClient())

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/chat/ws?session_id=ws-ctl"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	read := func() map[string]any {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		return msg
	}

	if err := conn.WriteJSON(map[string]any{"type": "client_control", "action": "set_window", "window": 2}); err != nil {
		t.Fatalf("write control: %v", err)
	}
	if msg := read(); msg["type"] != "system_event" || msg["code"] != "window_resized" {
		t.Fatalf("set_window ack = %+v", msg)
	}

	if err := conn.WriteJSON(map[string]any{"type": "client_control", "action": "clear_memory"}); err != nil {
		t.Fatalf("write control: %v", err)
	}
	if msg := read(); msg["type"] != "system_event" || msg["code"] != "memory_cleared" {
		t.Fatalf("clear ack = %+v", msg)
	}

	if err := conn.WriteJSON(map[string]any{"type": "client_control", "action": "explode"}); err != nil {
		t.Fatalf("write control: %v", err)
	}
	if msg := read(); msg["type"] != "error_event" {
		t.Fatalf("invalid control ack = %+v", msg)
	}

	sess, _ := sessions.Get("ws-ctl")
	if sess.Buffer.Window() != 2 {
		t.Fatalf("window = %d, want 2", sess.Buffer.Window())
	}
}

func firstN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
