package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/kiji/internal/config"
	"github.com/hyperjump/kiji/internal/embedding"
	"github.com/hyperjump/kiji/internal/history"
	"github.com/hyperjump/kiji/internal/ingest"
	"github.com/hyperjump/kiji/internal/llm"
	"github.com/hyperjump/kiji/internal/models"
	"github.com/hyperjump/kiji/internal/rag"
	"github.com/hyperjump/kiji/internal/server"
	"github.com/hyperjump/kiji/internal/storage"
	"github.com/hyperjump/kiji/internal/vectorindex"
)

var mockProviders bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	serveCmd.Flags().BoolVar(&mockProviders, "mock", false, "Use in-process mock providers and index (no API keys needed)")
}

// deps bundles the wired collaborators shared by commands.
type deps struct {
	cfg      *config.Config
	logger   *zap.Logger
	embedder embedding.Embedder
	index    vectorindex.Index
	archive  storage.Archive
}

func buildDeps() (*deps, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	var embedder embedding.Embedder
	var index vectorindex.Index
	if mockProviders {
		embedder = embedding.NewMockEmbedder(cfg.Embedding.Dimensions)
		index = vectorindex.NewMemoryIndex()
		logger.Warn("running with mock providers, nothing persists beyond the archive")
	} else {
		embedder, err = embedding.NewClient(embedding.Config{
			BaseURL:    cfg.Embedding.BaseURL,
			APIKey:     cfg.Embedding.APIKey,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimensions,
			Timeout:    cfg.Embedding.Timeout.Std(),
			MaxRetries: cfg.Embedding.MaxRetries,
			BaseDelay:  cfg.Embedding.BaseDelay.Std(),
			BatchSize:  cfg.Embedding.BatchSize,
			BatchDelay: cfg.Embedding.BatchDelay.Std(),
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("create embedding client: %w", err)
		}
		index = vectorindex.NewQdrantIndex(vectorindex.QdrantConfig{
			URL:        cfg.Qdrant.URL,
			APIKey:     cfg.Qdrant.APIKey,
			Collection: cfg.Qdrant.Collection,
			Timeout:    cfg.Qdrant.Timeout.Std(),
		}, logger)
	}

	archive, err := storage.NewSQLiteArchive(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	return &deps{cfg: cfg, logger: logger, embedder: embedder, index: index, archive: archive}, nil
}

func (d *deps) close() {
	_ = d.archive.Close()
	_ = d.index.Close()
	_ = d.embedder.Close()
	_ = d.logger.Sync()
}

func runServe() error {
	d, err := buildDeps()
	if err != nil {
		return err
	}
	defer d.close()
	cfg, logger := d.cfg, d.logger

	var generator llm.Generator
	if mockProviders {
		generator = &llm.MockGenerator{Default: "Mock mode: no generative model is configured."}
	} else {
		generator, err = llm.NewClient(llm.Config{
			BaseURL: cfg.LLM.BaseURL,
			APIKey:  cfg.LLM.APIKey,
			Model:   cfg.LLM.Model,
			Timeout: cfg.LLM.Timeout.Std(),
		}, logger)
		if err != nil {
			return fmt.Errorf("create llm client: %w", err)
		}
	}
	defer generator.Close()

	store := history.NewMemoryStore(cfg.Chat.SessionTTL.Std(), cfg.Chat.MessageTTL.Std(), logger)

	engine, err := rag.NewEngine(rag.Config{
		Embedder:       d.embedder,
		Index:          d.index,
		History:        store,
		Generator:      generator,
		Archive:        d.archive,
		Logger:         logger,
		TopK:           cfg.Chat.TopK,
		ScoreThreshold: cfg.Chat.ScoreThreshold,
		HistoryLimit:   cfg.Chat.HistoryLimit,
		GenOptions: llm.Options{
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
		},
	})
	if err != nil {
		return err
	}

	ingester, err := ingest.NewIngester(ingest.Config{
		Embedder:        d.embedder,
		Index:           d.index,
		Archive:         d.archive,
		Logger:          logger,
		PayloadMaxChars: cfg.Ingest.PayloadMaxChars,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startupCtx, startupCancel := context.WithTimeout(ctx, 30*time.Second)
	err = ingester.EnsureReady(startupCtx)
	startupCancel()
	if err != nil {
		return fmt.Errorf("prepare collection: %w", err)
	}

	if cfg.Storage.SpoolDir != "" {
		watcher := ingest.NewSpoolWatcher(cfg.Storage.SpoolDir, func(ctx context.Context, articles []models.Article, source string) {
			if _, err := ingester.IngestArticles(ctx, articles, source); err != nil {
				logger.Error("spool ingest failed", zap.String("source", source), zap.Error(err))
			}
		}, logger)
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("start spool watcher: %w", err)
		}
		defer watcher.Stop()
	}

	srv := server.NewServer(engine, ingester, store, d.index, d.archive, &cfg.Server, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return srv.Stop(shutdownCtx)
	}
}
