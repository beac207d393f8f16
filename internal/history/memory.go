package history

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kiji/internal/models"
)

type sessionEntry struct {
	session   models.Session
	expiresAt time.Time
}

type messageList struct {
	// Most recent first; reversed on read.
	messages  []models.Message
	expiresAt time.Time
}

// MemoryStore keeps sessions and message lists in two maps with independent
// expiry. Entries are dropped lazily on access, so an expired session costs
// nothing until someone asks for it.
type MemoryStore struct {
	mu         sync.RWMutex
	sessions   map[string]*sessionEntry
	messages   map[string]*messageList
	sessionTTL time.Duration
	messageTTL time.Duration
	logger     *zap.Logger

	now func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a store with the given TTLs. Zero TTLs fall back to
// the package defaults. logger may be nil.
func NewMemoryStore(sessionTTL, messageTTL time.Duration, logger *zap.Logger) *MemoryStore {
	if sessionTTL <= 0 {
		sessionTTL = DefaultSessionTTL
	}
	if messageTTL <= 0 {
		messageTTL = DefaultMessageTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		sessions:   make(map[string]*sessionEntry),
		messages:   make(map[string]*messageList),
		sessionTTL: sessionTTL,
		messageTTL: messageTTL,
		logger:     logger,
		now:        time.Now,
	}
}

// CreateSession creates the session metadata with an absolute TTL.
func (s *MemoryStore) CreateSession(ctx context.Context, id string) (*models.Session, error) {
	now := s.now()
	entry := &sessionEntry{
		session: models.Session{
			ID:        id,
			CreatedAt: now,
		},
		expiresAt: now.Add(s.sessionTTL),
	}
	s.mu.Lock()
	s.sessions[id] = entry
	s.mu.Unlock()

	s.logger.Debug("session created", zap.String("session_id", id))
	sess := entry.session
	return &sess, nil
}

// GetSession returns the session or (nil, nil) when absent or expired.
func (s *MemoryStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	if s.now().After(entry.expiresAt) {
		delete(s.sessions, id)
		delete(s.messages, id)
		return nil, nil
	}
	sess := entry.session
	return &sess, nil
}

// DeleteSession removes the session and its messages. Deleting a missing
// session is not an error.
func (s *MemoryStore) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.sessions, id)
	delete(s.messages, id)
	s.mu.Unlock()
	return nil
}

// AppendMessage pushes msg to the front of the session's list and resets the
// list's expiry. The session's absolute expiry is left untouched.
func (s *MemoryStore) AppendMessage(ctx context.Context, sessionID string, msg models.Message) error {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[sessionID]
	if !ok || now.After(entry.expiresAt) {
		delete(s.sessions, sessionID)
		delete(s.messages, sessionID)
		return ErrSessionNotFound
	}
	entry.session.MessagesCount++

	list, ok := s.messages[sessionID]
	if !ok || now.After(list.expiresAt) {
		list = &messageList{}
		s.messages[sessionID] = list
	}
	list.messages = append([]models.Message{msg}, list.messages...)
	list.expiresAt = now.Add(s.messageTTL)
	return nil
}

// GetMessages returns up to limit of the most recent messages in
// chronological order. An expired or absent list yields an empty slice; the
// session's MessagesCount is not reconciled with it.
func (s *MemoryStore) GetMessages(ctx context.Context, sessionID string, limit int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, ok := s.messages[sessionID]
	if !ok {
		return nil, nil
	}
	if s.now().After(list.expiresAt) {
		delete(s.messages, sessionID)
		return nil, nil
	}
	recent := list.messages
	if limit > 0 && limit < len(recent) {
		recent = recent[:limit]
	}
	out := make([]models.Message, len(recent))
	for i, m := range recent {
		out[len(recent)-1-i] = m
	}
	return out, nil
}
