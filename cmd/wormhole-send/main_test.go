package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/nicolaiprodromov/outlier-wormhole/internal/config"
)

func TestRunRejectsBadArgs(t *testing.T) {
	cfg := config.SendConfig{ControllerURL: "ws://127.0.0.1:1", Timeout: time.Second}
	if code := run(cfg, nil); code != 2 {
		t.Fatalf("expected usage error, got %d", code)
	}
	if code := run(cfg, []string{"createConversation", "{nope"}); code != 2 {
		t.Fatalf("expected params error, got %d", code)
	}
}

func TestRunReportsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = c.CloseNow() }()
		if _, _, err := c.Read(r.Context()); err != nil {
			return
		}
		_ = c.Write(context.Background(), websocket.MessageText, []byte(`{"success":false,"error":"No clients connected"}`))
		_, _, _ = c.Read(r.Context())
	}))
	defer srv.Close()
	cfg := config.SendConfig{ControllerURL: "ws" + strings.TrimPrefix(srv.URL, "http"), Timeout: 5 * time.Second}
	if code := run(cfg, []string{"createConversation", `{"prompt":"hi"}`}); code != 1 {
		t.Fatalf("expected failure exit code, got %d", code)
	}
}
