package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/nicolaiprodromov/outlier-wormhole/internal/bridge"
	"github.com/nicolaiprodromov/outlier-wormhole/internal/commands"
	"github.com/nicolaiprodromov/outlier-wormhole/internal/protocol"
)

func TestHealthzAndMetrics(t *testing.T) {
	srv := newServer(t, NewHub(time.Second), false)
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if string(body) != "ok" {
		t.Fatalf("unexpected healthz body %q", body)
	}
	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	body, _ = io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if !strings.Contains(string(body), "wormhole_controller_page_clients") {
		t.Fatalf("controller metrics missing")
	}
	resp, err = http.Post(srv.URL+"/mcp", "application/json", nil)
	if err != nil {
		t.Fatalf("mcp: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound && resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("mcp must be disabled by default, got %d", resp.StatusCode)
	}
}

func TestCommandAPIWithoutClients(t *testing.T) {
	srv := newServer(t, NewHub(time.Second), false)
	resp, err := http.Post(srv.URL+"/api/commands/createConversation", "application/json", strings.NewReader(`{"prompt":"x"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	var env protocol.ResponseEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Success || env.Error != NoClientsMessage {
		t.Fatalf("unexpected body %+v", env)
	}

	resp2, err := http.Post(srv.URL+"/api/commands/createConversation", "application/json", strings.NewReader(`{not json`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	_ = resp2.Body.Close()
	if resp2.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid JSON, got %d", resp2.StatusCode)
	}
}

type echoHandlers struct{}

func (echoHandlers) CreateConversation(_ context.Context, c commands.CreateConversation) (commands.ConversationResult, error) {
	return commands.ConversationResult{ConversationID: "new", Response: "re:" + c.Prompt}, nil
}

func (echoHandlers) SendMessage(_ context.Context, c commands.SendMessage) (commands.ConversationResult, error) {
	return commands.ConversationResult{ConversationID: c.ConversationID, Response: "re:" + c.Prompt}, nil
}

// startBridge runs a real bridge against srv and waits for it to register.
func startBridge(t *testing.T, hub *Hub, url string) {
	t.Helper()
	reg, err := commands.NewRegistry(echoHandlers{})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	m := bridge.New(url, reg, bridge.WithReconnectDelay(10*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = m.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	deadline := time.Now().Add(5 * time.Second)
	for len(hub.Clients()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("bridge did not register")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEndToEnd(t *testing.T) {
	hub := NewHub(5 * time.Second)
	srv := newServer(t, hub, true)
	startBridge(t, hub, wsURL(srv))

	resp, err := http.Post(srv.URL+"/api/commands/sendMessage", "application/json", strings.NewReader(`{"conversationId":7,"prompt":"hello"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	var env protocol.ResponseEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !env.Success || !strings.Contains(string(env.Result), `"conversationId":"7"`) || !strings.Contains(string(env.Result), "re:hello") {
		t.Fatalf("unexpected response %+v", env)
	}

	resp2, err := http.Post(srv.URL+"/api/commands/fly", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer func() { _ = resp2.Body.Close() }()
	var env2 protocol.ResponseEnvelope
	if err := json.NewDecoder(resp2.Body).Decode(&env2); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env2.Success || env2.Error != "Unknown command: fly" {
		t.Fatalf("unexpected response %+v", env2)
	}

	cresp, err := http.Get(srv.URL + "/api/clients")
	if err != nil {
		t.Fatalf("clients: %v", err)
	}
	defer func() { _ = cresp.Body.Close() }()
	var clients []ClientInfo
	if err := json.NewDecoder(cresp.Body).Decode(&clients); err != nil || len(clients) != 1 {
		t.Fatalf("unexpected clients %v, %v", clients, err)
	}
}

func mcpPost(t *testing.T, url, sid, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, _ := http.NewRequest(http.MethodPost, url, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	if sid != "" {
		req.Header.Set("Mcp-Session-Id", sid)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	var js map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&js); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp, js
}

func TestMCPTools(t *testing.T) {
	hub := NewHub(5 * time.Second)
	srv := newServer(t, hub, true)
	resp, _ := mcpPost(t, srv.URL+"/mcp", "", `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"test","version":"1"}}}`)
	sid := resp.Header.Get("Mcp-Session-Id")
	if sid == "" {
		t.Fatalf("missing session id")
	}

	_, js := mcpPost(t, srv.URL+"/mcp", sid, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	b, _ := json.Marshal(js["result"])
	if !strings.Contains(string(b), "create_conversation") || !strings.Contains(string(b), "send_message") {
		t.Fatalf("tools missing: %s", b)
	}

	_, js = mcpPost(t, srv.URL+"/mcp", sid, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"create_conversation","arguments":{"prompt":"hi"}}}`)
	b, _ = json.Marshal(js["result"])
	if !strings.Contains(string(b), NoClientsMessage) || !strings.Contains(string(b), `"isError":true`) {
		t.Fatalf("expected no clients error: %s", b)
	}

	startBridge(t, hub, wsURL(srv))
	_, js = mcpPost(t, srv.URL+"/mcp", sid, `{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"send_message","arguments":{"conversation_id":"c9","prompt":"yo"}}}`)
	b, _ = json.Marshal(js["result"])
	if !strings.Contains(string(b), `re:yo`) || strings.Contains(string(b), `"isError":true`) {
		t.Fatalf("unexpected tool result: %s", b)
	}
}
