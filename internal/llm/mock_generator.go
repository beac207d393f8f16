package llm

import (
	"context"
	"strings"
	"sync"
)

// MockGenerator is a scripted Generator for tests and offline runs. Reply is
// consulted with the last user message; when nil or when it returns "", the
// Default response is used.
type MockGenerator struct {
	Reply   func(lastUserMessage string) (string, error)
	Default string
	Model   string

	mu    sync.Mutex
	calls [][]ChatMessage
}

var _ Generator = (*MockGenerator)(nil)

// Generate returns the scripted response and records the conversation.
func (m *MockGenerator) Generate(ctx context.Context, messages []ChatMessage, opts Options) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	m.calls = append(m.calls, messages)
	m.mu.Unlock()

	if m.Reply != nil {
		out, err := m.Reply(lastUserMessage(messages))
		if err != nil {
			return "", err
		}
		if out != "" {
			return out, nil
		}
	}
	if m.Default != "" {
		return m.Default, nil
	}
	return "ok", nil
}

// GenerateStream delivers the scripted response one word at a time.
func (m *MockGenerator) GenerateStream(ctx context.Context, messages []ChatMessage, opts Options, fn func(delta string) error) error {
	out, err := m.Generate(ctx, messages, opts)
	if err != nil {
		return err
	}
	words := strings.SplitAfter(out, " ")
	for _, w := range words {
		if err := ctx.Err(); err != nil {
			return err
		}
		if w == "" {
			continue
		}
		if err := fn(w); err != nil {
			return err
		}
	}
	return nil
}

// Calls returns a copy of every conversation passed to the generator.
func (m *MockGenerator) Calls() [][]ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]ChatMessage, len(m.calls))
	copy(out, m.calls)
	return out
}

// ModelName returns the configured model name.
func (m *MockGenerator) ModelName() string {
	if m.Model == "" {
		return "mock"
	}
	return m.Model
}

// Close is a no-op.
func (m *MockGenerator) Close() error { return nil }

func lastUserMessage(messages []ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}
