// Package provider abstracts the language-model and embedding capabilities.
// The agent speaks a plain-JSON protocol over chat content, so providers
// only need chat completion and text embeddings, no native tool-call wiring.
package provider

import (
	"context"
	"errors"
)

// ErrUnavailable wraps transport-level failures of a capability backend.
// Callers treat it as retryable.
var ErrUnavailable = errors.New("provider unavailable")

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Response represents the output from the model.
type Response struct {
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Provider defines the interface for AI model interactions.
type Provider interface {
	// Chat sends a list of messages to the model and returns a response.
	// Implementations request JSON-constrained output where the backend
	// supports it.
	Chat(ctx context.Context, messages []Message) (*Response, error)

	// Embed generates a vector embedding for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Name returns the provider identifier (e.g., "ollama", "openai").
	Name() string
}
