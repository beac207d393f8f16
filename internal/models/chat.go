package models

import "time"

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Session is per-conversation metadata. MessagesCount counts appends since
// creation; it is tracked separately from the message list and may exceed the
// number of messages still retained after the list's own TTL fires.
type Session struct {
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	MessagesCount int       `json:"messages_count"`
}

// Source is a citation attached to an assistant message.
type Source struct {
	Title string  `json:"title"`
	Link  string  `json:"link"`
	Score float64 `json:"score"`
}

// Message is a single conversation turn. Messages are appended, never mutated.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Sources   []Source  `json:"sources,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatRequest is the payload for the send-message operation.
type ChatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

// ChatResponse is the buffered (non-streaming) chat answer.
type ChatResponse struct {
	SessionID string    `json:"session_id"`
	Message   string    `json:"message"`
	Sources   []Source  `json:"sources"`
	Timestamp time.Time `json:"timestamp"`
}

// Stream event types emitted by the streaming chat endpoint, in order:
// metadata, sources, content (repeated), then complete or error.
const (
	EventMetadata = "metadata"
	EventSources  = "sources"
	EventContent  = "content"
	EventComplete = "complete"
	EventError    = "error"
)

// StreamEvent is one typed event in the streaming chat response.
// Content carries an increment for content events; Message carries the full
// concatenated answer for complete events and the description for error events.
type StreamEvent struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	Content   string    `json:"content,omitempty"`
	Sources   []Source  `json:"sources,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}
