package assistant

import (
	"context"
	"fmt"

	"github.com/nicolaiprodromov/outlier-wormhole/internal/commands"
	"github.com/nicolaiprodromov/outlier-wormhole/internal/logx"
	"github.com/nicolaiprodromov/outlier-wormhole/internal/session"
	"github.com/nicolaiprodromov/outlier-wormhole/internal/sse"
)

// Handlers implements commands.Handlers against a Client. Each command reads
// the session once and uses that snapshot for all of its requests.
type Handlers struct {
	Client  *Client
	Session session.Source
}

var _ commands.Handlers = (*Handlers)(nil)

// CreateConversation opens a conversation and returns the aggregated reply to
// its first turn.
func (h *Handlers) CreateConversation(ctx context.Context, c commands.CreateConversation) (commands.ConversationResult, error) {
	snap, err := h.snapshot(ctx)
	if err != nil {
		return commands.ConversationResult{}, err
	}
	id, err := h.Client.CreateConversation(ctx, snap, c.Prompt, c.Model)
	if err != nil {
		return commands.ConversationResult{}, err
	}
	logx.Log.Debug().Str("conversation_id", id).Msg("conversation created")
	text, err := h.turn(ctx, snap, id, Turn{Text: c.Prompt, Model: c.Model, SystemMessage: c.SystemMessage})
	if err != nil {
		return commands.ConversationResult{}, err
	}
	return commands.ConversationResult{ConversationID: id, Response: text}, nil
}

// SendMessage adds a turn to an existing conversation.
func (h *Handlers) SendMessage(ctx context.Context, c commands.SendMessage) (commands.ConversationResult, error) {
	snap, err := h.snapshot(ctx)
	if err != nil {
		return commands.ConversationResult{}, err
	}
	text, err := h.turn(ctx, snap, c.ConversationID, Turn{
		Text:          c.Prompt,
		Model:         c.Model,
		SystemMessage: c.SystemMessage,
		ParentIdx:     c.ParentIdx,
	})
	if err != nil {
		return commands.ConversationResult{}, err
	}
	return commands.ConversationResult{ConversationID: c.ConversationID, Response: text}, nil
}

func (h *Handlers) snapshot(ctx context.Context) (session.Snapshot, error) {
	snap, err := session.Load(ctx, h.Session)
	if err != nil {
		return session.Snapshot{}, fmt.Errorf("load session: %w", err)
	}
	return snap, nil
}

func (h *Handlers) turn(ctx context.Context, snap session.Snapshot, id string, t Turn) (string, error) {
	body, err := h.Client.TurnStreaming(ctx, snap, id, t)
	if err != nil {
		return "", err
	}
	defer body.Close()
	text, err := sse.Aggregate(ctx, body)
	if err != nil {
		return "", fmt.Errorf("read event stream: %w", err)
	}
	return text, nil
}
