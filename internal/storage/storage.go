// Package storage persists ingested articles and chat transcripts in SQLite.
package storage

import (
	"context"
	"time"

	"github.com/hyperjump/kiji/internal/models"
)

// Archive is the durable record of what has been ingested. The vector index
// is rebuildable from it; dedupe decisions are made against it.
type Archive interface {
	// SaveArticle records an article keyed by its link, overwriting any
	// previous row for the same link.
	SaveArticle(ctx context.Context, article *models.Article, source string, chunks int) error

	// HasArticle reports whether an article with this link was already saved.
	HasArticle(ctx context.Context, link string) (bool, error)

	// CountArticles returns the number of archived articles.
	CountArticles(ctx context.Context) (int64, error)

	// SaveTranscript appends one chat exchange for offline inspection.
	SaveTranscript(ctx context.Context, t *Transcript) error

	// RecentTranscripts returns up to limit transcripts for a session,
	// newest first.
	RecentTranscripts(ctx context.Context, sessionID string, limit int) ([]*Transcript, error)

	// Close closes the underlying store.
	Close() error
}

// Transcript is one recorded question/answer pair.
type Transcript struct {
	SessionID string    `json:"session_id"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Sources   int       `json:"sources"`
	CreatedAt time.Time `json:"created_at"`
}
