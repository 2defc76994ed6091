package controller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/nicolaiprodromov/outlier-wormhole/internal/logx"
	"github.com/nicolaiprodromov/outlier-wormhole/internal/protocol"
)

const maxFrameSize = 16 << 20

// WSHandler accepts page clients and senders on the same endpoint. The first
// frame decides which one a connection is. originPatterns restricts browser
// origins; an empty list accepts any origin.
func (h *Hub) WSHandler(originPatterns []string) http.HandlerFunc {
	opts := &websocket.AcceptOptions{OriginPatterns: originPatterns}
	if len(originPatterns) == 0 {
		opts.InsecureSkipVerify = true
	}
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, opts)
		if err != nil {
			return
		}
		defer func() { _ = c.CloseNow() }()
		c.SetReadLimit(maxFrameSize)
		ctx := r.Context()

		_, first, err := c.Read(ctx)
		if err != nil {
			return
		}
		if protocol.PeekType(first) == protocol.TypeSender {
			h.serveSender(ctx, c, first)
			return
		}
		h.servePage(ctx, c, r.RemoteAddr, first)
	}
}

func (h *Hub) serveSender(ctx context.Context, c *websocket.Conn, first []byte) {
	var req protocol.SenderRequest
	if err := json.Unmarshal(first, &req); err != nil {
		writeFrame(ctx, c, protocol.Failure(nil, "malformed sender request: "+err.Error()))
		return
	}
	id := req.RequestID
	if len(id) == 0 || string(id) == "null" {
		id, _ = json.Marshal(uuid.NewString())
	}
	resp, err := h.roundTrip(ctx, id, req.Command, req.Params)
	switch {
	case errors.Is(err, ErrNoClients):
		writeFrame(ctx, c, protocol.Failure(nil, NoClientsMessage))
	case err != nil:
		if ctx.Err() != nil {
			return
		}
		writeFrame(ctx, c, protocol.Failure(id, err.Error()))
	default:
		if err := c.Write(ctx, websocket.MessageText, resp); err != nil {
			logx.Log.Warn().Err(err).RawJSON("request_id", id).Msg("sender went away before the response")
			return
		}
	}
	_ = c.Close(websocket.StatusNormalClosure, "")
}

func (h *Hub) servePage(ctx context.Context, c *websocket.Conn, remote string, first []byte) {
	p := h.addPage(remote)
	defer h.removePage(p)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-p.send:
				if err := c.Write(ctx, websocket.MessageText, msg); err != nil {
					return
				}
			}
		}
	}()

	// A page client that skips the hello may open with a response.
	if protocol.PeekType(first) != protocol.TypePageClient {
		h.resolve(first)
	}
	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			return
		}
		h.resolve(data)
	}
}

func writeFrame(ctx context.Context, c *websocket.Conn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = c.Write(ctx, websocket.MessageText, b)
}
