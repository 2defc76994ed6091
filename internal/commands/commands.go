// Package commands holds the closed set of commands a bridge understands,
// their typed parameters, and the runtime that turns an inbound envelope into
// exactly one response.
package commands

import (
	"context"
	"errors"
)

// Kind is the wire name of a command.
type Kind string

const (
	KindCreateConversation Kind = "createConversation"
	KindSendMessage        Kind = "sendMessage"
	// KindEvaluate runs controller-supplied source. It is only available on
	// bridges started with an Evaluator.
	KindEvaluate Kind = "evaluate"
)

// Command is a decoded command. Implementations are limited to this package.
type Command interface {
	Kind() Kind
	sealed()
}

// CreateConversation opens a conversation and sends its first turn.
type CreateConversation struct {
	Prompt        string `mapstructure:"prompt"`
	Model         string `mapstructure:"model"`
	SystemMessage string `mapstructure:"systemMessage"`
}

// SendMessage sends one more turn to an existing conversation.
type SendMessage struct {
	ConversationID string `mapstructure:"conversationId"`
	Prompt         string `mapstructure:"prompt"`
	Model          string `mapstructure:"model"`
	SystemMessage  string `mapstructure:"systemMessage"`
	ParentIdx      int    `mapstructure:"parentIdx"`
}

// Evaluate carries raw source text.
type Evaluate struct {
	Source string `mapstructure:"code"`
}

func (CreateConversation) Kind() Kind { return KindCreateConversation }
func (SendMessage) Kind() Kind        { return KindSendMessage }
func (Evaluate) Kind() Kind           { return KindEvaluate }

func (CreateConversation) sealed() {}
func (SendMessage) sealed()        {}
func (Evaluate) sealed()           {}

// ConversationResult is what both conversation commands resolve to.
type ConversationResult struct {
	ConversationID string `json:"conversationId"`
	Response       string `json:"response"`
}

// Handlers performs the conversation commands.
type Handlers interface {
	CreateConversation(ctx context.Context, c CreateConversation) (ConversationResult, error)
	SendMessage(ctx context.Context, c SendMessage) (ConversationResult, error)
}

// Evaluator performs the evaluate command.
type Evaluator interface {
	Evaluate(ctx context.Context, c Evaluate) (any, error)
}

var (
	// ErrUnknownCommand matches every UnknownCommandError.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrInvalidParams wraps parameter validation and decoding failures.
	ErrInvalidParams = errors.New("invalid params")
)

// UnknownCommandError names a command absent from the registry.
type UnknownCommandError struct {
	Name string
}

func (e *UnknownCommandError) Error() string { return "Unknown command: " + e.Name }

func (e *UnknownCommandError) Is(target error) bool { return target == ErrUnknownCommand }

// PanicError is returned when a handler panics.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string { return "handler panic: " + panicText(e.Value) }
