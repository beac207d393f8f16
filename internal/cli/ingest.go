package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hyperjump/kiji/internal/ingest"
	"github.com/hyperjump/kiji/internal/models"
)

var (
	ingestFeeds []string
	ingestFiles []string
	ingestDir   string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Fetch and index articles from feeds or files",
	Long: `Fetch articles from RSS feeds or sitemaps, or read them from JSON files
(an array of {title, link, content} objects), and index them.
Without --feed, --file or --dir, the feeds from the config file are used.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngest()
	},
}

func init() {
	ingestCmd.Flags().StringArrayVar(&ingestFeeds, "feed", nil, "Feed or sitemap URL (repeatable)")
	ingestCmd.Flags().StringArrayVar(&ingestFiles, "file", nil, "JSON article file (repeatable)")
	ingestCmd.Flags().StringVar(&ingestDir, "dir", "", "Directory of JSON article files")
	ingestCmd.Flags().BoolVar(&mockProviders, "mock", false, "Use in-process mock providers and index")
}

func runIngest() error {
	d, err := buildDeps()
	if err != nil {
		return err
	}
	defer d.close()

	ingester, err := ingest.NewIngester(ingest.Config{
		Embedder:        d.embedder,
		Index:           d.index,
		Archive:         d.archive,
		Logger:          d.logger,
		PayloadMaxChars: d.cfg.Ingest.PayloadMaxChars,
	})
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := ingester.EnsureReady(ctx); err != nil {
		return fmt.Errorf("prepare collection: %w", err)
	}

	files := ingestFiles
	if ingestDir != "" {
		dirFiles, err := listArticleFiles(ingestDir)
		if err != nil {
			return err
		}
		files = append(files, dirFiles...)
	}

	feeds := ingestFeeds
	if len(feeds) == 0 && len(files) == 0 {
		feeds = d.cfg.Ingest.Feeds
	}
	if len(feeds) == 0 && len(files) == 0 {
		return fmt.Errorf("nothing to ingest: pass --feed, --file or --dir, or set ingest.feeds in the config")
	}

	total := ingest.Report{}
	fetcher := ingest.NewFetcher(0, d.cfg.Ingest.SitemapPageLimit, d.logger)

	for _, feedURL := range feeds {
		articles, err := fetcher.FetchFeed(ctx, feedURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
			continue
		}
		report, err := ingester.IngestArticles(ctx, articles, feedURL)
		if err != nil {
			return err
		}
		accumulate(&total, report)
	}

	for _, path := range files {
		articles, err := readArticleFile(path)
		if err != nil {
			return err
		}
		report, err := ingester.IngestArticles(ctx, articles, path)
		if err != nil {
			return err
		}
		accumulate(&total, report)
	}

	fmt.Printf("ingested %d articles (%d chunks), skipped %d, failed %d\n",
		total.Articles, total.Chunks, total.Skipped, total.Failed)
	return nil
}

func accumulate(total *ingest.Report, r *ingest.Report) {
	total.Articles += r.Articles
	total.Chunks += r.Chunks
	total.Skipped += r.Skipped
	total.Failed += r.Failed
}

func listArticleFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	return files, nil
}

func readArticleFile(path string) ([]models.Article, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var articles []models.Article
	if err := json.Unmarshal(data, &articles); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return articles, nil
}
