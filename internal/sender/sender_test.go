package sender

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/nicolaiprodromov/outlier-wormhole/internal/protocol"
)

func TestSend(t *testing.T) {
	got := make(chan protocol.SenderRequest, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = c.CloseNow() }()
		_, data, err := c.Read(r.Context())
		if err != nil {
			return
		}
		var req protocol.SenderRequest
		_ = json.Unmarshal(data, &req)
		got <- req
		out := `{"success":true,"result":{"response":"ok"},"request_id":` + string(req.RequestID) + `}`
		_ = c.Write(r.Context(), websocket.MessageText, []byte(out))
		_, _, _ = c.Read(r.Context())
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := Send(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), "createConversation", json.RawMessage(`{"prompt":"hi"}`))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	req := <-got
	if req.Type != protocol.TypeSender || req.Command != "createConversation" || string(req.Params) != `{"prompt":"hi"}` {
		t.Fatalf("unexpected request %+v", req)
	}
	if len(req.RequestID) < 3 || req.RequestID[0] != '"' {
		t.Fatalf("expected a string request id, got %s", req.RequestID)
	}
	if !resp.Success || string(resp.RequestID) != string(req.RequestID) || string(resp.Result) != `{"response":"ok"}` {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestSendDialError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := Send(ctx, "ws://127.0.0.1:1", "x", nil); err == nil {
		t.Fatalf("expected dial error")
	}
}
