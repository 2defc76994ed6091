// Package protocol defines the JSON frames exchanged between the controller,
// page-side bridges and senders.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Peer kinds announced in the first frame of a controller connection.
const (
	TypePageClient = "page_client"
	TypeSender     = "sender"
)

// IdentifyMessage is the first frame a bridge sends after connecting.
type IdentifyMessage struct {
	Type string `json:"type"`
}

// PageClientHello is the identity announcement of a page-side bridge.
var PageClientHello = IdentifyMessage{Type: TypePageClient}

// CommandEnvelope is a command issued by the controller. RequestID is opaque
// and echoed byte for byte; it is nil when the controller did not send one.
type CommandEnvelope struct {
	Command   string          `json:"command"`
	Params    json.RawMessage `json:"params,omitempty"`
	RequestID json.RawMessage `json:"request_id,omitempty"`
}

// ResponseEnvelope is the reply to one CommandEnvelope. Exactly one of Result
// and Error is set.
type ResponseEnvelope struct {
	Success   bool            `json:"success"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	RequestID json.RawMessage `json:"request_id,omitempty"`
}

// SenderRequest is the first and only frame of a sender connection.
type SenderRequest struct {
	Type      string          `json:"type"`
	Command   string          `json:"command"`
	Params    json.RawMessage `json:"params,omitempty"`
	RequestID json.RawMessage `json:"request_id,omitempty"`
}

// ErrMalformedEnvelope reports an inbound frame that is not a command envelope.
var ErrMalformedEnvelope = errors.New("malformed command envelope")

// ParseCommand decodes a command envelope. On failure the returned envelope
// still carries the request id when one could be recovered from the frame.
func ParseCommand(data []byte) (CommandEnvelope, error) {
	var env CommandEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return CommandEnvelope{RequestID: recoverRequestID(data)}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if !isObject(env.Params) {
		return CommandEnvelope{RequestID: env.RequestID}, fmt.Errorf("%w: params must be an object", ErrMalformedEnvelope)
	}
	return env, nil
}

// recoverRequestID digs request_id out of a frame whose other fields did not
// decode. It returns nil when the frame is not a JSON object at all.
func recoverRequestID(data []byte) json.RawMessage {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil
	}
	return fields["request_id"]
}

func isObject(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null")) || t[0] == '{'
}

// Success builds a positive response. A nil result is sent as JSON null.
func Success(requestID json.RawMessage, result any) (ResponseEnvelope, error) {
	b, err := json.Marshal(result)
	if err != nil {
		return ResponseEnvelope{}, fmt.Errorf("encode result: %w", err)
	}
	return ResponseEnvelope{Success: true, Result: b, RequestID: requestID}, nil
}

// Failure builds a negative response carrying msg.
func Failure(requestID json.RawMessage, msg string) ResponseEnvelope {
	if msg == "" {
		msg = "unknown error"
	}
	return ResponseEnvelope{Success: false, Error: msg, RequestID: requestID}
}

// PeekType returns the "type" field of a frame, or "" when absent or invalid.
func PeekType(data []byte) string {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return ""
	}
	return env.Type
}

// RequestIDKey returns a comparable key for a raw request id. JSON
// whitespace differences do not produce distinct keys.
func RequestIDKey(id json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, id); err != nil {
		return string(id)
	}
	return buf.String()
}
