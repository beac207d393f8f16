package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// QdrantIndex is a minimal REST client to a Qdrant collection.
type QdrantIndex struct {
	url        string
	apiKey     string
	collection string
	httpClient *http.Client
	logger     *zap.Logger

	// Serializes collection-mutating operations so a delete+recreate cannot
	// interleave with another EnsureCollection. Upserts racing a recreate
	// fail with a connectivity error and are reported by the ingest pass.
	mu sync.Mutex
}

var _ Index = (*QdrantIndex)(nil)

// QdrantConfig configures the Qdrant client.
type QdrantConfig struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

// NewQdrantIndex creates a Qdrant REST client. logger may be nil.
func NewQdrantIndex(cfg QdrantConfig, logger *zap.Logger) *QdrantIndex {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QdrantIndex{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// EnsureCollection creates the collection with cosine distance when missing.
// When it exists with a different dimension the collection is deleted and
// recreated; the data is rebuildable from source articles, not authoritative.
func (q *QdrantIndex) EnsureCollection(ctx context.Context, dimensions int) error {
	if dimensions <= 0 {
		return fmt.Errorf("invalid dimensions %d", dimensions)
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	existing, err := q.collectionDimensions(ctx)
	if err != nil {
		return err
	}
	if existing == dimensions {
		return nil
	}
	if existing != 0 {
		q.logger.Warn("collection dimension mismatch, recreating",
			zap.String("collection", q.collection),
			zap.Int("existing", existing), zap.Int("wanted", dimensions))
		if err := q.do(ctx, http.MethodDelete, q.collectionURL(""), nil, nil); err != nil {
			return fmt.Errorf("delete collection: %w", err)
		}
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimensions,
			"distance": "Cosine",
		},
	}
	if err := q.do(ctx, http.MethodPut, q.collectionURL(""), body, nil); err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	q.logger.Info("collection ready",
		zap.String("collection", q.collection), zap.Int("dimensions", dimensions))
	return nil
}

// collectionDimensions returns the existing collection's vector size, or 0
// when the collection does not exist.
func (q *QdrantIndex) collectionDimensions(ctx context.Context) (int, error) {
	var resp struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors struct {
						Size int `json:"size"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	err := q.do(ctx, http.MethodGet, q.collectionURL(""), nil, &resp)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && se.code == http.StatusNotFound {
			return 0, nil
		}
		return 0, err
	}
	return resp.Result.Config.Params.Vectors.Size, nil
}

// Upsert writes points with wait=true so the write is acknowledged before return.
func (q *QdrantIndex) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	payload := make([]map[string]any, len(points))
	for i, p := range points {
		payload[i] = map[string]any{
			"id":     p.ID,
			"vector": p.Vector,
			"payload": map[string]any{
				"title":     p.Payload.Title,
				"link":      p.Payload.Link,
				"content":   p.Payload.Content,
				"source":    p.Payload.Source,
				"timestamp": p.Payload.Timestamp.Format(time.RFC3339),
			},
		}
	}
	body := map[string]any{"points": payload}
	if err := q.do(ctx, http.MethodPut, q.collectionURL("/points?wait=true"), body, nil); err != nil {
		return fmt.Errorf("upsert %d points: %w", len(points), err)
	}
	return nil
}

// Search returns the top-k points by cosine similarity with score >= threshold.
func (q *QdrantIndex) Search(ctx context.Context, vector []float32, k int, threshold float64) ([]Result, error) {
	if k <= 0 {
		k = 5
	}
	if threshold == 0 {
		threshold = DefaultScoreThreshold
	}
	req := map[string]any{
		"vector":          vector,
		"limit":           k,
		"score_threshold": threshold,
		"with_payload":    true,
	}
	var resp struct {
		Result []struct {
			ID      uint64         `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := q.do(ctx, http.MethodPost, q.collectionURL("/points/search"), req, &resp); err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	results := make([]Result, 0, len(resp.Result))
	for _, r := range resp.Result {
		results = append(results, Result{ID: r.ID, Score: r.Score, Payload: decodePayload(r.Payload)})
	}
	return results, nil
}

// Info returns the collection's point count and dimension.
func (q *QdrantIndex) Info(ctx context.Context) (*Info, error) {
	var resp struct {
		Result struct {
			PointsCount int `json:"points_count"`
			Config      struct {
				Params struct {
					Vectors struct {
						Size int `json:"size"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	if err := q.do(ctx, http.MethodGet, q.collectionURL(""), nil, &resp); err != nil {
		return nil, err
	}
	return &Info{
		PointsCount: resp.Result.PointsCount,
		Dimensions:  resp.Result.Config.Params.Vectors.Size,
	}, nil
}

// Close releases resources.
func (q *QdrantIndex) Close() error { return nil }

func (q *QdrantIndex) collectionURL(suffix string) string {
	return fmt.Sprintf("%s/collections/%s%s", q.url, q.collection, suffix)
}

func decodePayload(raw map[string]any) Payload {
	var p Payload
	if v, ok := raw["title"].(string); ok {
		p.Title = v
	}
	if v, ok := raw["link"].(string); ok {
		p.Link = v
	}
	if v, ok := raw["content"].(string); ok {
		p.Content = v
	}
	if v, ok := raw["source"].(string); ok {
		p.Source = v
	}
	if v, ok := raw["timestamp"].(string); ok {
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			p.Timestamp = ts
		}
	}
	return p
}

// statusError carries the HTTP status of a failed Qdrant call.
type statusError struct {
	code int
	body string
	url  string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("qdrant %s returned %d: %s", e.url, e.code, e.body)
}

// do performs one JSON request. out may be nil to discard the response body.
func (q *QdrantIndex) do(ctx context.Context, method, url string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}
	resp, err := q.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s %s: %w", method, url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &statusError{code: resp.StatusCode, body: string(payload), url: url}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
