// Package controller implements the hub page-side bridges connect to. Senders
// hand it one command each; the hub broadcasts the command to every connected
// page client and relays the first matching response back.
package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nicolaiprodromov/outlier-wormhole/internal/logx"
	"github.com/nicolaiprodromov/outlier-wormhole/internal/protocol"
)

// NoClientsMessage is the error text senders receive when no bridge is
// connected.
const NoClientsMessage = "No clients connected"

var (
	// ErrNoClients is returned when a command is issued with no page client
	// connected.
	ErrNoClients = errors.New(NoClientsMessage)
	// ErrTimeout is returned when no page client answers in time.
	ErrTimeout = errors.New("timed out waiting for a page client response")
	// ErrDuplicateRequest is returned when a request id is already pending.
	ErrDuplicateRequest = errors.New("request_id already pending")
)

// ClientInfo describes a connected page client.
type ClientInfo struct {
	ID          string    `json:"id"`
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`
}

type pageClient struct {
	info ClientInfo
	send chan []byte
}

// Hub tracks page clients and requests awaiting their response.
type Hub struct {
	timeout time.Duration

	mu      sync.Mutex
	pages   map[string]*pageClient
	pending map[string]chan []byte
}

// NewHub returns an empty hub. timeout bounds how long a request waits for a
// response; zero disables the bound.
func NewHub(timeout time.Duration) *Hub {
	return &Hub{
		timeout: timeout,
		pages:   map[string]*pageClient{},
		pending: map[string]chan []byte{},
	}
}

// Clients lists connected page clients, oldest first.
func (h *Hub) Clients() []ClientInfo {
	h.mu.Lock()
	out := make([]ClientInfo, 0, len(h.pages))
	for _, p := range h.pages {
		out = append(out, p.info)
	}
	h.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectedAt.Before(out[j].ConnectedAt) })
	return out
}

func (h *Hub) addPage(remote string) *pageClient {
	p := &pageClient{
		info: ClientInfo{ID: uuid.NewString(), RemoteAddr: remote, ConnectedAt: time.Now()},
		send: make(chan []byte, 32),
	}
	h.mu.Lock()
	h.pages[p.info.ID] = p
	n := len(h.pages)
	h.mu.Unlock()
	pageClientsGauge.Set(float64(n))
	logx.Log.Info().Str("client_id", p.info.ID).Str("remote_addr", remote).Int("clients", n).Msg("page client connected")
	return p
}

func (h *Hub) removePage(p *pageClient) {
	h.mu.Lock()
	delete(h.pages, p.info.ID)
	n := len(h.pages)
	h.mu.Unlock()
	pageClientsGauge.Set(float64(n))
	logx.Log.Info().Str("client_id", p.info.ID).Int("clients", n).Msg("page client disconnected")
}

// forward broadcasts the command to every page client and registers id as
// pending. The returned channel receives the first response carrying id;
// release must be called once the caller stops waiting.
func (h *Hub) forward(id json.RawMessage, command string, params json.RawMessage) (<-chan []byte, func(), error) {
	frame, err := json.Marshal(protocol.CommandEnvelope{Command: command, Params: params, RequestID: id})
	if err != nil {
		return nil, nil, fmt.Errorf("encode command: %w", err)
	}
	key := protocol.RequestIDKey(id)
	ch := make(chan []byte, 1)

	h.mu.Lock()
	if len(h.pages) == 0 {
		h.mu.Unlock()
		forwardedCounter.WithLabelValues("no_clients").Inc()
		return nil, nil, ErrNoClients
	}
	if _, dup := h.pending[key]; dup {
		h.mu.Unlock()
		return nil, nil, ErrDuplicateRequest
	}
	h.pending[key] = ch
	pendingGauge.Set(float64(len(h.pending)))
	for _, p := range h.pages {
		select {
		case p.send <- frame:
		default:
			logx.Log.Warn().Str("client_id", p.info.ID).Msg("page client send queue full; command not delivered")
		}
	}
	h.mu.Unlock()

	logx.Log.Info().Str("command", command).RawJSON("request_id", id).Msg("command forwarded")
	release := func() {
		h.mu.Lock()
		if h.pending[key] == ch {
			delete(h.pending, key)
		}
		pendingGauge.Set(float64(len(h.pending)))
		h.mu.Unlock()
	}
	return ch, release, nil
}

// resolve delivers a page client frame to the request it answers. It reports
// whether a pending request claimed it.
func (h *Hub) resolve(data []byte) bool {
	var env struct {
		RequestID json.RawMessage `json:"request_id"`
	}
	if err := json.Unmarshal(data, &env); err != nil || len(env.RequestID) == 0 {
		logx.Log.Debug().Bytes("frame", data).Msg("response from page")
		return false
	}
	key := protocol.RequestIDKey(env.RequestID)
	h.mu.Lock()
	ch, ok := h.pending[key]
	if ok {
		delete(h.pending, key)
		pendingGauge.Set(float64(len(h.pending)))
	}
	h.mu.Unlock()
	if !ok {
		unmatchedCounter.Inc()
		logx.Log.Debug().RawJSON("request_id", env.RequestID).Msg("response for unknown request")
		return false
	}
	ch <- data
	forwardedCounter.WithLabelValues("answered").Inc()
	return true
}

// Do issues command to the connected page clients and returns the first
// response verbatim.
func (h *Hub) Do(ctx context.Context, command string, params json.RawMessage) (json.RawMessage, error) {
	id, _ := json.Marshal(uuid.NewString())
	return h.roundTrip(ctx, id, command, params)
}

func (h *Hub) roundTrip(ctx context.Context, id json.RawMessage, command string, params json.RawMessage) (json.RawMessage, error) {
	ch, release, err := h.forward(id, command, params)
	if err != nil {
		return nil, err
	}
	defer release()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			forwardedCounter.WithLabelValues("timeout").Inc()
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	}
}
