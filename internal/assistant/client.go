// Package assistant talks to the downstream conversation API on behalf of a
// logged-in session.
package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/nicolaiprodromov/outlier-wormhole/internal/session"
)

// Operation labels used in StatusError messages.
const (
	OpCreateConversation = "Failed to create conversation"
	OpSendMessage        = "Failed to send message"
)

// ErrNoConversationID is returned when the create response carries no id.
var ErrNoConversationID = errors.New("conversation response has no id")

// StatusError reports a non-2xx response.
type StatusError struct {
	Op   string
	Code int
}

func (e *StatusError) Error() string { return fmt.Sprintf("%s: %d", e.Op, e.Code) }

// Client issues requests against one API base URL.
type Client struct {
	http *resty.Client
}

// NewClient returns a client for baseURL. A zero timeout leaves requests
// bounded only by their context.
func NewClient(baseURL string, timeout time.Duration) *Client {
	rc := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Content-Type", "application/json")
	if timeout > 0 {
		rc.SetTimeout(timeout)
	}
	return &Client{http: rc}
}

type promptBody struct {
	Text   string   `json:"text"`
	Images []string `json:"images"`
}

type createRequest struct {
	Prompt promptBody `json:"prompt"`
	Model  string     `json:"model"`
}

type turnPrompt struct {
	Model            string   `json:"model"`
	Text             string   `json:"text"`
	Images           []string `json:"images"`
	SystemMessage    string   `json:"systemMessage"`
	ModelWasSwitched bool     `json:"modelWasSwitched"`
}

type turnRequest struct {
	Prompt        turnPrompt `json:"prompt"`
	Model         string     `json:"model"`
	SystemMessage string     `json:"systemMessage"`
	ParentIdx     int        `json:"parentIdx"`
}

// Turn is one message sent into a conversation.
type Turn struct {
	Text          string
	Model         string
	SystemMessage string
	ParentIdx     int
}

func (c *Client) request(ctx context.Context, snap session.Snapshot) *resty.Request {
	r := c.http.R().
		SetContext(ctx).
		SetHeader("X-CSRF-Token", snap.CSRF)
	if len(snap.Cookies) > 0 {
		r.SetHeader("Cookie", session.Header(snap.Cookies))
	}
	return r
}

// CreateConversation opens a conversation seeded with prompt and returns its
// id. Numeric ids are returned in their decimal form.
func (c *Client) CreateConversation(ctx context.Context, snap session.Snapshot, prompt, model string) (string, error) {
	resp, err := c.request(ctx, snap).
		SetBody(createRequest{Prompt: promptBody{Text: prompt, Images: []string{}}, Model: model}).
		Post("/conversations")
	if err != nil {
		return "", fmt.Errorf("create conversation: %w", err)
	}
	if !resp.IsSuccess() {
		return "", &StatusError{Op: OpCreateConversation, Code: resp.StatusCode()}
	}
	var out struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", fmt.Errorf("decode conversation: %w", err)
	}
	return conversationID(out.ID)
}

func conversationID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", ErrNoConversationID
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("decode conversation id: %w", err)
		}
		if s == "" {
			return "", ErrNoConversationID
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("decode conversation id: %w", err)
	}
	return n.String(), nil
}

// TurnStreaming posts t to the conversation and returns the event stream body.
// The caller must close it.
func (c *Client) TurnStreaming(ctx context.Context, snap session.Snapshot, conversationID string, t Turn) (io.ReadCloser, error) {
	body := turnRequest{
		Prompt: turnPrompt{
			Model:         t.Model,
			Text:          t.Text,
			Images:        []string{},
			SystemMessage: t.SystemMessage,
		},
		Model:         t.Model,
		SystemMessage: t.SystemMessage,
		ParentIdx:     t.ParentIdx,
	}
	resp, err := c.request(ctx, snap).
		SetHeader("Accept", "text/event-stream").
		SetDoNotParseResponse(true).
		SetBody(body).
		Post("/conversations/" + url.PathEscape(conversationID) + "/turn-streaming")
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	if !resp.IsSuccess() {
		if rb := resp.RawBody(); rb != nil {
			_ = rb.Close()
		}
		return nil, &StatusError{Op: OpSendMessage, Code: resp.StatusCode()}
	}
	return resp.RawBody(), nil
}
