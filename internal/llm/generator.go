// Package llm provides text generation against OpenAI-compatible
// chat-completions APIs, including token streaming.
package llm

import "context"

// ChatMessage is one turn of a chat-completions conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options tunes a single generation call. Zero values defer to the provider.
type Options struct {
	Temperature float64
	MaxTokens   int
}

// Generator produces text from a conversation.
type Generator interface {
	// Generate returns the full completion for the conversation.
	Generate(ctx context.Context, messages []ChatMessage, opts Options) (string, error)

	// GenerateStream delivers the completion incrementally, calling fn once
	// per content delta in order. A non-nil error from fn, or ctx
	// cancellation, stops the stream; partial output already delivered via
	// fn is not retracted.
	GenerateStream(ctx context.Context, messages []ChatMessage, opts Options, fn func(delta string) error) error

	// ModelName returns the configured model identifier.
	ModelName() string

	// Close releases resources.
	Close() error
}
