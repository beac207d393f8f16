// Package history provides the per-session conversation store: bounded
// message lists and session metadata with independent expiry.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/hyperjump/kiji/internal/models"
)

// Default expiry. The session TTL is absolute from creation (refreshed only
// by explicit re-create); the message-list TTL is reset on every append.
const (
	DefaultSessionTTL = 24 * time.Hour
	DefaultMessageTTL = time.Hour
)

// ErrSessionNotFound is returned by operations on a missing or expired session.
var ErrSessionNotFound = errors.New("session not found")

// Store is the conversation store contract. All operations are scoped to a
// single session key; no cross-session guarantees are provided. Session
// metadata and the message list expire independently, so MessagesCount may
// exceed the retained message count after partial expiry — this divergence
// is accepted, not corrected.
type Store interface {
	// CreateSession creates session metadata. A second call on the same id
	// overwrites CreatedAt; callers must check existence first.
	CreateSession(ctx context.Context, id string) (*models.Session, error)

	// GetSession returns the session, or (nil, nil) when absent or expired.
	GetSession(ctx context.Context, id string) (*models.Session, error)

	// DeleteSession removes session metadata and its message list.
	DeleteSession(ctx context.Context, id string) error

	// AppendMessage pushes msg to the front of the session's message list,
	// increments MessagesCount, and resets the message list's expiry.
	AppendMessage(ctx context.Context, sessionID string, msg models.Message) error

	// GetMessages returns the most recent limit messages in chronological
	// (oldest-first) order.
	GetMessages(ctx context.Context, sessionID string, limit int) ([]models.Message, error)
}
