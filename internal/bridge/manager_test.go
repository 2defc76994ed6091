package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/nicolaiprodromov/outlier-wormhole/internal/commands"
	"github.com/nicolaiprodromov/outlier-wormhole/internal/protocol"
)

// gatedHandlers blocks createConversation until release is closed.
type gatedHandlers struct {
	release chan struct{}
	started chan struct{}
	once    sync.Once
}

func newGated() *gatedHandlers {
	return &gatedHandlers{release: make(chan struct{}), started: make(chan struct{}, 8)}
}

func (g *gatedHandlers) CreateConversation(ctx context.Context, c commands.CreateConversation) (commands.ConversationResult, error) {
	g.started <- struct{}{}
	select {
	case <-g.release:
	case <-ctx.Done():
		return commands.ConversationResult{}, ctx.Err()
	}
	return commands.ConversationResult{ConversationID: "slow", Response: c.Prompt}, nil
}

func (g *gatedHandlers) SendMessage(_ context.Context, c commands.SendMessage) (commands.ConversationResult, error) {
	if c.Prompt == "fail" {
		return commands.ConversationResult{}, errors.New("Failed to send message: 500")
	}
	return commands.ConversationResult{ConversationID: c.ConversationID, Response: c.Prompt}, nil
}

func (g *gatedHandlers) open() { g.once.Do(func() { close(g.release) }) }

// controller is a fake controller that hands each accepted connection to the
// test through conns.
type controller struct {
	srv    *httptest.Server
	conns  chan *websocket.Conn
	active atomic.Int32
	peak   atomic.Int32
}

func newController(t *testing.T) *controller {
	t.Helper()
	c := &controller{conns: make(chan *websocket.Conn, 8)}
	c.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		n := c.active.Add(1)
		for {
			p := c.peak.Load()
			if n <= p || c.peak.CompareAndSwap(p, n) {
				break
			}
		}
		c.conns <- ws
	}))
	t.Cleanup(c.srv.Close)
	return c
}

func (c *controller) url() string {
	return "ws" + strings.TrimPrefix(c.srv.URL, "http")
}

func (c *controller) next(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case ws := <-c.conns:
		return ws
	case <-time.After(5 * time.Second):
		t.Fatalf("bridge did not connect")
		return nil
	}
}

func (c *controller) drop(ws *websocket.Conn) {
	c.active.Add(-1)
	_ = ws.Close(websocket.StatusGoingAway, "bye")
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting: %s", msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readJSON(t *testing.T, ws *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := ws.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
}

func writeText(t *testing.T, ws *websocket.Conn, s string) {
	t.Helper()
	if err := ws.Write(context.Background(), websocket.MessageText, []byte(s)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func expectHello(t *testing.T, ws *websocket.Conn) {
	t.Helper()
	var hello protocol.IdentifyMessage
	readJSON(t, ws, &hello)
	if hello.Type != protocol.TypePageClient {
		t.Fatalf("first frame must identify the page client, got %+v", hello)
	}
}

type instantAfter struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (a *instantAfter) after(d time.Duration) <-chan time.Time {
	a.mu.Lock()
	a.delays = append(a.delays, d)
	a.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func (a *instantAfter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.delays)
}

func startManager(t *testing.T, url string, h commands.Handlers, opts ...Option) (*Manager, *instantAfter) {
	t.Helper()
	reg, err := commands.NewRegistry(h)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	m := New(url, reg, opts...)
	a := &instantAfter{}
	m.after = a.after
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Errorf("manager did not stop")
		}
	})
	return m, a
}

func TestIdentifiesAndEchoesRequestID(t *testing.T) {
	c := newController(t)
	m, _ := startManager(t, c.url(), newGated())
	ws := c.next(t)
	expectHello(t, ws)

	writeText(t, ws, `{"command":"sendMessage","params":{"conversationId":"c1","prompt":"hi"},"request_id":{"seq":7}}`)
	var resp struct {
		Success   bool                        `json:"success"`
		Result    commands.ConversationResult `json:"result"`
		RequestID json.RawMessage             `json:"request_id"`
	}
	readJSON(t, ws, &resp)
	if !resp.Success || resp.Result.Response != "hi" || resp.Result.ConversationID != "c1" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if string(resp.RequestID) != `{"seq":7}` {
		t.Fatalf("request id not echoed verbatim: %s", resp.RequestID)
	}
	if m.Status() != "connected" {
		t.Fatalf("expected connected, got %s", m.Status())
	}
	if got := m.Commands(); len(got) != 2 {
		t.Fatalf("unexpected commands: %v", got)
	}
}

func TestNegativeResponses(t *testing.T) {
	c := newController(t)
	startManager(t, c.url(), newGated())
	ws := c.next(t)
	expectHello(t, ws)

	cases := []struct {
		frame string
		id    string
		err   string
	}{
		{frame: `{"command":"launchRockets","params":{},"request_id":"r1"}`, id: `"r1"`, err: "Unknown command: launchRockets"},
		{frame: `{"command":"sendMessage","params":{"conversationId":"c","prompt":"fail"},"request_id":2}`, id: `2`, err: "Failed to send message: 500"},
		{frame: `{"command":"sendMessage","params":"nope","request_id":3}`, id: `3`, err: "params must be an object"},
		{frame: `{"command":42,"request_id":"r4"}`, id: `"r4"`, err: "malformed"},
		{frame: `not json at all`, id: ``, err: "malformed"},
	}
	for _, tc := range cases {
		writeText(t, ws, tc.frame)
		var resp protocol.ResponseEnvelope
		readJSON(t, ws, &resp)
		if resp.Success || !strings.Contains(resp.Error, tc.err) {
			t.Fatalf("%s: unexpected response %+v", tc.frame, resp)
		}
		if string(resp.RequestID) != tc.id {
			t.Fatalf("%s: request id %q, want %q", tc.frame, resp.RequestID, tc.id)
		}
	}
}

func TestOutOfOrderCompletion(t *testing.T) {
	c := newController(t)
	h := newGated()
	startManager(t, c.url(), h)
	ws := c.next(t)
	expectHello(t, ws)

	writeText(t, ws, `{"command":"createConversation","params":{"prompt":"first"},"request_id":"a"}`)
	<-h.started
	writeText(t, ws, `{"command":"sendMessage","params":{"conversationId":"c","prompt":"second"},"request_id":"b"}`)

	var r1 protocol.ResponseEnvelope
	readJSON(t, ws, &r1)
	if string(r1.RequestID) != `"b"` || !strings.Contains(string(r1.Result), "second") {
		t.Fatalf("expected fast command first, got %+v", r1)
	}
	h.open()
	var r2 protocol.ResponseEnvelope
	readJSON(t, ws, &r2)
	if string(r2.RequestID) != `"a"` || !strings.Contains(string(r2.Result), "first") {
		t.Fatalf("expected slow command second, got %+v", r2)
	}
}

func TestReconnectsWithFixedDelay(t *testing.T) {
	c := newController(t)
	m, a := startManager(t, c.url(), newGated(), WithReconnectDelay(3*time.Second))
	for i := 0; i < 3; i++ {
		ws := c.next(t)
		expectHello(t, ws)
		c.drop(ws)
	}
	ws := c.next(t)
	expectHello(t, ws)

	if n := a.count(); n != 3 {
		t.Fatalf("expected one reconnect wait per close, got %d", n)
	}
	a.mu.Lock()
	for _, d := range a.delays {
		if d != 3*time.Second {
			t.Fatalf("delay must stay fixed, got %v", a.delays)
		}
	}
	a.mu.Unlock()
	if p := c.peak.Load(); p != 1 {
		t.Fatalf("expected at most one connection at a time, saw %d", p)
	}
	eventually(t, func() bool { return m.Snapshot().State == StateIdentified }, "identified state")
	if s := m.Snapshot(); s.Reconnects != 3 {
		t.Fatalf("unexpected snapshot: %+v", s)
	}
}

func TestReconnectsAfterFailedDial(t *testing.T) {
	c := newController(t)
	url := c.url()
	c.srv.Close()
	m, a := startManager(t, url, newGated())
	eventually(t, func() bool { return a.count() >= 3 }, "repeated dial attempts")
	if m.Status() != "disconnected" {
		t.Fatalf("expected disconnected, got %s", m.Status())
	}
	if m.Snapshot().LastError == "" {
		t.Fatalf("expected last error to be recorded")
	}
}

func TestLateResultIsDropped(t *testing.T) {
	c := newController(t)
	h := newGated()
	startManager(t, c.url(), h)
	ws := c.next(t)
	expectHello(t, ws)
	writeText(t, ws, `{"command":"createConversation","params":{"prompt":"late"},"request_id":"old"}`)
	<-h.started
	c.drop(ws)

	ws2 := c.next(t)
	expectHello(t, ws2)
	h.open()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if _, data, err := ws2.Read(ctx); err == nil {
		t.Fatalf("result of a previous connection was delivered: %s", data)
	}
}

func TestStatusFlips(t *testing.T) {
	c := newController(t)
	reg, _ := commands.NewRegistry(newGated())
	m := New(c.url(), reg)
	if m.Status() != "disconnected" || m.Snapshot().State != StateDisconnected {
		t.Fatalf("new manager must start disconnected")
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	ws := c.next(t)
	expectHello(t, ws)
	if m.Status() != "connected" {
		t.Fatalf("expected connected")
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("run returned %v", err)
	}
	if m.Status() != "disconnected" || m.Snapshot().State != StateDisconnected {
		t.Fatalf("expected disconnected after shutdown, got %+v", m.Snapshot())
	}
}
