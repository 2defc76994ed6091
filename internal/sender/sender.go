// Package sender issues a single command through a controller.
package sender

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/nicolaiprodromov/outlier-wormhole/internal/protocol"
)

// Send dials the controller at url, submits command with params under a fresh
// request id, and returns the one response the controller relays back.
func Send(ctx context.Context, url, command string, params json.RawMessage) (protocol.ResponseEnvelope, error) {
	var resp protocol.ResponseEnvelope
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return resp, fmt.Errorf("dial controller: %w", err)
	}
	defer func() { _ = c.CloseNow() }()
	c.SetReadLimit(16 << 20)

	id, _ := json.Marshal(uuid.NewString())
	req, err := json.Marshal(protocol.SenderRequest{
		Type:      protocol.TypeSender,
		Command:   command,
		Params:    params,
		RequestID: id,
	})
	if err != nil {
		return resp, fmt.Errorf("encode request: %w", err)
	}
	if err := c.Write(ctx, websocket.MessageText, req); err != nil {
		return resp, fmt.Errorf("send request: %w", err)
	}
	_, data, err := c.Read(ctx)
	if err != nil {
		return resp, fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return resp, fmt.Errorf("decode response: %w", err)
	}
	_ = c.Close(websocket.StatusNormalClosure, "")
	return resp, nil
}
