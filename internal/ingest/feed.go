package ingest

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kiji/internal/models"
)

// Fetcher defaults.
const (
	DefaultFetchTimeout     = 30 * time.Second
	DefaultSitemapPageLimit = 20

	fetcherUserAgent = "kiji/1.0 (+news indexer)"
	maxBodyBytes     = 4 << 20
)

// rssFeed is the subset of RSS 2.0 the fetcher reads.
type rssFeed struct {
	XMLName xml.Name `xml:"rss"`
	Channel struct {
		Title string    `xml:"title"`
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
}

// sitemapIndex is the subset of the sitemap protocol the fetcher reads.
type sitemapIndex struct {
	XMLName xml.Name `xml:"urlset"`
	URLs    []struct {
		Loc string `xml:"loc"`
	} `xml:"url"`
}

// Fetcher pulls articles from RSS feeds, falling back to sitemaps when the
// URL does not serve RSS.
type Fetcher struct {
	httpClient       *http.Client
	logger           *zap.Logger
	sitemapPageLimit int
}

// NewFetcher creates a feed fetcher. logger may be nil.
func NewFetcher(timeout time.Duration, sitemapPageLimit int, logger *zap.Logger) *Fetcher {
	if timeout == 0 {
		timeout = DefaultFetchTimeout
	}
	if sitemapPageLimit <= 0 {
		sitemapPageLimit = DefaultSitemapPageLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		httpClient:       &http.Client{Timeout: timeout},
		logger:           logger,
		sitemapPageLimit: sitemapPageLimit,
	}
}

// FetchFeed downloads a feed and resolves its entries to full articles by
// fetching each linked page. Pages that cannot be fetched fall back to the
// feed's own description, or are dropped when there is none.
func (f *Fetcher) FetchFeed(ctx context.Context, feedURL string) ([]models.Article, error) {
	body, err := f.get(ctx, feedURL)
	if err != nil {
		return nil, fmt.Errorf("fetch feed %s: %w", feedURL, err)
	}

	items, err := parseFeed(body)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", feedURL, err)
	}
	if len(items) > f.sitemapPageLimit {
		items = items[:f.sitemapPageLimit]
	}

	articles := make([]models.Article, 0, len(items))
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return articles, err
		}
		article, err := f.resolveItem(ctx, item)
		if err != nil {
			f.logger.Warn("skipping feed entry",
				zap.String("link", item.Link), zap.Error(err))
			continue
		}
		articles = append(articles, article)
	}
	f.logger.Info("feed fetched",
		zap.String("url", feedURL), zap.Int("articles", len(articles)))
	return articles, nil
}

// parseFeed accepts RSS 2.0 or a plain sitemap urlset.
func parseFeed(body []byte) ([]rssItem, error) {
	var rss rssFeed
	if err := xml.Unmarshal(body, &rss); err == nil && len(rss.Channel.Items) > 0 {
		return rss.Channel.Items, nil
	}

	var sm sitemapIndex
	if err := xml.Unmarshal(body, &sm); err == nil && len(sm.URLs) > 0 {
		items := make([]rssItem, 0, len(sm.URLs))
		for _, u := range sm.URLs {
			if loc := strings.TrimSpace(u.Loc); loc != "" {
				items = append(items, rssItem{Link: loc})
			}
		}
		return items, nil
	}
	return nil, fmt.Errorf("neither RSS nor sitemap content")
}

// resolveItem fetches the entry's page and extracts title and text.
func (f *Fetcher) resolveItem(ctx context.Context, item rssItem) (models.Article, error) {
	article := models.Article{
		Title: strings.TrimSpace(item.Title),
		Link:  strings.TrimSpace(item.Link),
	}
	if article.Link == "" {
		return article, fmt.Errorf("entry has no link")
	}

	page, err := f.get(ctx, article.Link)
	if err != nil {
		if desc := strings.TrimSpace(item.Description); desc != "" {
			article.Content = desc
			return article, nil
		}
		return article, err
	}

	text, err := ExtractText(bytes.NewReader(page))
	if err != nil {
		return article, err
	}
	article.Content = text

	if article.Title == "" {
		if title, err := ExtractTitle(bytes.NewReader(page)); err == nil {
			article.Title = title
		}
	}
	return article, nil
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", fetcherUserAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
}
