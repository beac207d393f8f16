package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kiji/internal/chunker"
	"github.com/hyperjump/kiji/internal/embedding"
	"github.com/hyperjump/kiji/internal/models"
	"github.com/hyperjump/kiji/internal/storage"
	"github.com/hyperjump/kiji/internal/vectorindex"
	"github.com/hyperjump/kiji/pkg/utils"
)

// DefaultPayloadMaxChars bounds the chunk text stored in point payloads.
// Full article text lives in the archive; the payload is context material.
const DefaultPayloadMaxChars = 1000

// payloadTitleMaxChars bounds the title stored in point payloads. Titles are
// display material, so an ellipsis marks the cut.
const payloadTitleMaxChars = 200

// Report summarizes one ingest pass.
type Report struct {
	Articles int // articles fully processed
	Skipped  int // empty content, duplicate link, or nothing chunkable
	Chunks   int // points upserted
	Failed   int // chunks or articles that could not be embedded or stored
}

// Ingester drives the article pipeline. Archive is optional; without it no
// dedupe is performed and nothing is persisted beyond the index.
type Ingester struct {
	embedder embedding.Embedder
	index    vectorindex.Index
	archive  storage.Archive
	ids      *IDGenerator
	logger   *zap.Logger

	payloadMaxChars int
}

// Config wires an Ingester.
type Config struct {
	Embedder        embedding.Embedder
	Index           vectorindex.Index
	Archive         storage.Archive
	Logger          *zap.Logger
	PayloadMaxChars int
}

// NewIngester creates the pipeline from its collaborators.
func NewIngester(cfg Config) (*Ingester, error) {
	if cfg.Embedder == nil || cfg.Index == nil {
		return nil, fmt.Errorf("ingest: embedder and index are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.PayloadMaxChars <= 0 {
		cfg.PayloadMaxChars = DefaultPayloadMaxChars
	}
	return &Ingester{
		embedder:        cfg.Embedder,
		index:           cfg.Index,
		archive:         cfg.Archive,
		ids:             NewIDGenerator(),
		logger:          cfg.Logger,
		payloadMaxChars: cfg.PayloadMaxChars,
	}, nil
}

// EnsureReady makes sure the index collection exists with the embedder's
// dimension. Call once at startup before ingesting.
func (ing *Ingester) EnsureReady(ctx context.Context) error {
	return ing.index.EnsureCollection(ctx, ing.embedder.Dimensions())
}

// IngestArticles runs the pipeline over a batch of articles. Per-article
// failures are counted and logged, not fatal; the pass stops early only on
// context cancellation.
func (ing *Ingester) IngestArticles(ctx context.Context, articles []models.Article, source string) (*Report, error) {
	report := &Report{}
	for _, article := range articles {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := ing.ingestOne(ctx, article, source, report); err != nil {
			if ctx.Err() != nil {
				return report, err
			}
			report.Failed++
			ing.logger.Warn("article ingest failed",
				zap.String("link", article.Link), zap.Error(err))
		}
	}
	ing.logger.Info("ingest pass finished",
		zap.String("source", source),
		zap.Int("articles", report.Articles),
		zap.Int("chunks", report.Chunks),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed))
	return report, nil
}

func (ing *Ingester) ingestOne(ctx context.Context, article models.Article, source string, report *Report) error {
	if strings.TrimSpace(article.Content) == "" {
		report.Skipped++
		return nil
	}
	if ing.archive != nil && article.Link != "" {
		seen, err := ing.archive.HasArticle(ctx, article.Link)
		if err != nil {
			return fmt.Errorf("dedupe lookup: %w", err)
		}
		if seen {
			report.Skipped++
			return nil
		}
	}

	chunks := chunker.Split(article.Content)
	if len(chunks) == 0 {
		report.Skipped++
		return nil
	}

	vectors, err := ing.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}

	now := time.Now()
	points := make([]vectorindex.Point, 0, len(chunks))
	for i, vec := range vectors {
		if vec == nil {
			report.Failed++
			continue
		}
		points = append(points, vectorindex.Point{
			ID:     ing.ids.Next(),
			Vector: vec,
			Payload: vectorindex.Payload{
				Title:     utils.Truncate(article.Title, payloadTitleMaxChars),
				Link:      article.Link,
				Content:   utils.TruncateBytes(chunks[i], ing.payloadMaxChars),
				Source:    source,
				Timestamp: now,
			},
		})
	}
	if len(points) == 0 {
		return fmt.Errorf("no chunk of %q could be embedded", article.Link)
	}
	if err := ing.index.Upsert(ctx, points); err != nil {
		return fmt.Errorf("upsert points: %w", err)
	}

	report.Articles++
	report.Chunks += len(points)

	if ing.archive != nil && article.Link != "" {
		if err := ing.archive.SaveArticle(ctx, &article, source, len(points)); err != nil {
			ing.logger.Warn("failed to archive article",
				zap.String("link", article.Link), zap.Error(err))
		}
	}
	return nil
}
