package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kiji/internal/models"
)

// SQLiteArchive implements Archive using SQLite.
type SQLiteArchive struct {
	db *sql.DB
}

var _ Archive = (*SQLiteArchive)(nil)

// NewSQLiteArchive opens or creates a SQLite database at dbPath and initializes
// the schema. Parent directories are created if they do not exist.
func NewSQLiteArchive(dbPath string) (*SQLiteArchive, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteArchive{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS articles (
		link TEXT PRIMARY KEY,
		title TEXT,
		content TEXT NOT NULL,
		source TEXT,
		chunks INTEGER NOT NULL DEFAULT 0,
		ingested_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_articles_ingested_at ON articles(ingested_at);

	CREATE TABLE IF NOT EXISTS transcripts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		question TEXT NOT NULL,
		answer TEXT NOT NULL,
		sources INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_transcripts_session ON transcripts(session_id, created_at);
	`
	_, err := db.Exec(schema)
	return err
}

// SaveArticle upserts an article row keyed by link.
func (s *SQLiteArchive) SaveArticle(ctx context.Context, article *models.Article, source string, chunks int) error {
	if article.Link == "" {
		return fmt.Errorf("article has no link")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO articles (link, title, content, source, chunks, ingested_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(link) DO UPDATE SET
		   title = excluded.title,
		   content = excluded.content,
		   source = excluded.source,
		   chunks = excluded.chunks,
		   ingested_at = excluded.ingested_at`,
		article.Link, article.Title, article.Content, source, chunks, time.Now(),
	)
	return err
}

// HasArticle reports whether an article with this link is archived.
func (s *SQLiteArchive) HasArticle(ctx context.Context, link string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM articles WHERE link = ?`, link,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CountArticles returns the total number of archived articles.
func (s *SQLiteArchive) CountArticles(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM articles`).Scan(&count)
	return count, err
}

// SaveTranscript appends one chat exchange.
func (s *SQLiteArchive) SaveTranscript(ctx context.Context, t *Transcript) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transcripts (session_id, question, answer, sources, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		t.SessionID, t.Question, t.Answer, t.Sources, t.CreatedAt,
	)
	return err
}

// RecentTranscripts returns up to limit transcripts for a session, newest first.
func (s *SQLiteArchive) RecentTranscripts(ctx context.Context, sessionID string, limit int) ([]*Transcript, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, question, answer, sources, created_at
		 FROM transcripts WHERE session_id = ? ORDER BY created_at DESC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Transcript
	for rows.Next() {
		var t Transcript
		if err := rows.Scan(&t.SessionID, &t.Question, &t.Answer, &t.Sources, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteArchive) Close() error {
	return s.db.Close()
}
