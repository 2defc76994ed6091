package controller

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	sdkserver "github.com/mark3labs/mcp-go/server"

	"github.com/nicolaiprodromov/outlier-wormhole/internal/protocol"
)

// NewMCPHandler exposes the conversation commands as MCP tools over
// Streamable HTTP. Each tool call is one hub round trip.
func NewMCPHandler(hub *Hub) http.Handler {
	srv := sdkserver.NewMCPServer(
		"wormhole",
		"dev",
		sdkserver.WithToolCapabilities(false),
	)
	srv.AddTool(mcp.NewTool("create_conversation",
		mcp.WithDescription("Open a new conversation through a connected bridge and return the first reply"),
		mcp.WithString("prompt", mcp.Required(), mcp.Description("First message")),
		mcp.WithString("model", mcp.Description("Model name; the bridge default applies when omitted")),
		mcp.WithString("system_message", mcp.Description("System message; the bridge default applies when omitted")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		prompt, err := req.RequireString("prompt")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		params := map[string]any{"prompt": prompt}
		optional(params, "model", req.GetString("model", ""))
		optional(params, "systemMessage", req.GetString("system_message", ""))
		return callTool(ctx, hub, "createConversation", params), nil
	})
	srv.AddTool(mcp.NewTool("send_message",
		mcp.WithDescription("Send a message to an existing conversation and return the reply"),
		mcp.WithString("conversation_id", mcp.Required(), mcp.Description("Conversation returned by create_conversation")),
		mcp.WithString("prompt", mcp.Required(), mcp.Description("Message text")),
		mcp.WithString("model", mcp.Description("Model name")),
		mcp.WithString("system_message", mcp.Description("System message")),
		mcp.WithNumber("parent_idx", mcp.Description("Index of the turn being answered")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("conversation_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		prompt, err := req.RequireString("prompt")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		params := map[string]any{
			"conversationId": id,
			"prompt":         prompt,
			"parentIdx":      req.GetInt("parent_idx", 0),
		}
		optional(params, "model", req.GetString("model", ""))
		optional(params, "systemMessage", req.GetString("system_message", ""))
		return callTool(ctx, hub, "sendMessage", params), nil
	})
	return sdkserver.NewStreamableHTTPServer(srv)
}

func optional(params map[string]any, k, v string) {
	if v != "" {
		params[k] = v
	}
}

func callTool(ctx context.Context, hub *Hub, command string, params map[string]any) *mcp.CallToolResult {
	raw, err := json.Marshal(params)
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	frame, err := hub.Do(ctx, command, raw)
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	var resp protocol.ResponseEnvelope
	if err := json.Unmarshal(frame, &resp); err != nil {
		return mcp.NewToolResultError("malformed bridge response: " + err.Error())
	}
	if !resp.Success {
		return mcp.NewToolResultError(resp.Error)
	}
	return mcp.NewToolResultText(string(resp.Result))
}
