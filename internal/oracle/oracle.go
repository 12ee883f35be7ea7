// Package oracle turns structured requests into structured JSON responses
// using language-model providers. The reasoning loop sees only the Oracle
// interface; provider choice, retries, caching and JSON repair live here.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrNoProvider is returned when every provider for a task failed or none is configured.
	ErrNoProvider = errors.New("no provider could serve the request")
	// ErrMalformedResponse marks a provider reply that did not contain a JSON object.
	ErrMalformedResponse = errors.New("malformed oracle response")
	// ErrUnknownTask is returned for a TaskKind with no registered prompt.
	ErrUnknownTask = errors.New("unknown task kind")
)

// Oracle answers one structured request for a task with a JSON object.
type Oracle interface {
	Invoke(ctx context.Context, task TaskKind, request any) (json.RawMessage, error)
}

// Message is one chat message sent to a provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Chat roles.
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// ChatRequest is a single provider call.
type ChatRequest struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
	JSON        bool // ask the provider for a JSON response format when supported
}

// Provider is a chat-completion backend.
type Provider interface {
	Name() string
	Chat(ctx context.Context, req ChatRequest) (string, error)
}

// Func adapts a plain function to the Oracle interface.
type Func func(ctx context.Context, task TaskKind, request any) (json.RawMessage, error)

func (f Func) Invoke(ctx context.Context, task TaskKind, request any) (json.RawMessage, error) {
	return f(ctx, task, request)
}
