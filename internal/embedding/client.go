package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kiji/internal/chunker"
	"github.com/hyperjump/kiji/internal/retry"
)

// MaxTextLen is the provider-safe bound on a single input text.
const MaxTextLen = 8192

// Default client tuning.
const (
	DefaultBaseURL     = "https://api.openai.com/v1"
	DefaultModel       = "text-embedding-3-small"
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultBaseDelay   = 500 * time.Millisecond
	DefaultBackoffStep = time.Second
	DefaultBatchSize   = 5
	DefaultBatchDelay  = 2 * time.Second
)

// Config configures the embedding client.
type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int
	Timeout    time.Duration

	// MaxRetries is the attempt cap for EmbedWithRetry.
	MaxRetries int
	// BaseDelay is the provider pacing delay paid before every attempt.
	BaseDelay time.Duration
	// BackoffStep is the exponential backoff unit added from the second
	// attempt on. Exposed so tests keep retries fast.
	BackoffStep time.Duration
	// BatchSize and BatchDelay control EmbedBatch partitioning.
	BatchSize  int
	BatchDelay time.Duration
}

// Client is an OpenAI-compatible embeddings client with retry, backoff, and
// sequential batching.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	model       string
	dimensions  int
	maxRetries  int
	baseDelay   time.Duration
	backoffStep time.Duration
	batchSize   int
	batchDelay  time.Duration
	logger      *zap.Logger
}

var _ Embedder = (*Client)(nil)

// NewClient creates an embedding client. logger may be nil.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("embedding: API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = 768
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.BackoffStep == 0 {
		cfg.BackoffStep = DefaultBackoffStep
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchDelay == 0 {
		cfg.BatchDelay = DefaultBatchDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		dimensions:  cfg.Dimensions,
		maxRetries:  cfg.MaxRetries,
		baseDelay:   cfg.BaseDelay,
		backoffStep: cfg.BackoffStep,
		batchSize:   cfg.BatchSize,
		batchDelay:  cfg.BatchDelay,
		logger:      logger,
	}, nil
}

// Dimensions returns the embedding vector size.
func (c *Client) Dimensions() int { return c.dimensions }

// Close releases resources.
func (c *Client) Close() error { return nil }

// validText cleans text and reports whether it is embeddable: non-empty
// after cleaning and within the provider length bound.
func validText(text string) (string, bool) {
	cleaned := chunker.Clean(text)
	if cleaned == "" || len(cleaned) > MaxTextLen {
		return cleaned, false
	}
	return cleaned, true
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// embed performs a single provider call with no retry. Invalid inputs are
// cleaned out beforehand and reported through a logged count mismatch; the
// result holds one vector per valid input, preserving order.
func (c *Client) embed(ctx context.Context, texts []string) ([][]float32, error) {
	valid := make([]string, 0, len(texts))
	for _, t := range texts {
		cleaned, ok := validText(t)
		if !ok {
			continue
		}
		valid = append(valid, cleaned)
	}
	if dropped := len(texts) - len(valid); dropped > 0 {
		c.logger.Warn("embedding input mismatch: invalid texts dropped",
			zap.Int("input", len(texts)), zap.Int("valid", len(valid)), zap.Int("dropped", dropped))
	}
	if len(valid) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(embeddingRequest{Model: c.model, Input: valid})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ProviderError{Kind: KindTransient, Message: err.Error()}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{Kind: KindTransient, Message: fmt.Sprintf("read response: %v", err)}
	}

	if resp.StatusCode != http.StatusOK {
		perr := &ProviderError{
			Kind:    kindForStatus(resp.StatusCode),
			Status:  resp.StatusCode,
			Message: resp.Status,
			Body:    string(payload),
		}
		var decoded embeddingResponse
		if json.Unmarshal(payload, &decoded) == nil && decoded.Error != nil {
			perr.Message = decoded.Error.Message
		}
		return nil, perr
	}

	var decoded embeddingResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, &ProviderError{Kind: KindTransient, Message: fmt.Sprintf("decode response: %v", err), Body: string(payload)}
	}
	if len(decoded.Data) != len(valid) {
		return nil, &ProviderError{
			Kind:    KindTransient,
			Message: fmt.Sprintf("provider returned %d embeddings for %d inputs", len(decoded.Data), len(valid)),
		}
	}

	vectors := make([][]float32, len(valid))
	for _, d := range decoded.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, &ProviderError{Kind: KindTransient, Message: fmt.Sprintf("embedding index %d out of range", d.Index)}
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

// EmbedWithRetry embeds texts with the retry policy: every attempt pays the
// base pacing delay, later attempts add exponential backoff, auth failures
// abort immediately, and a validation failure on the final attempt is
// surfaced with its full diagnostic payload.
func (c *Client) EmbedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	policy := retry.Policy{
		MaxAttempts: c.maxRetries,
		Delay:       retry.RateLimitedBackoff(c.baseDelay, c.backoffStep),
		Retryable:   IsRetryable,
	}
	var vectors [][]float32
	err := policy.Do(ctx, func(ctx context.Context, attempt int) error {
		var embedErr error
		vectors, embedErr = c.embed(ctx, texts)
		if embedErr != nil {
			c.logger.Debug("embedding attempt failed",
				zap.Int("attempt", attempt), zap.Int("max", c.maxRetries), zap.Error(embedErr))
		}
		return embedErr
	})
	if err != nil {
		var pe *ProviderError
		if errors.As(err, &pe) && pe.Kind == KindValidation {
			c.logger.Error("embedding validation failed on final attempt",
				zap.Int("status", pe.Status), zap.String("body", pe.Body))
		}
		return nil, err
	}
	return vectors, nil
}

// Embed embeds a single text (query path).
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedWithRetry(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, &ProviderError{Kind: KindValidation, Message: "text is empty or too long after cleaning"}
	}
	return vectors[0], nil
}

// EmbedBatch partitions texts into fixed-size batches, embedding each batch
// with retry and an inter-batch pacing delay. Batches run strictly
// sequentially to respect provider rate limits. A whole-batch failure
// degrades to per-item retry so one poison item cannot sink its batch. The
// result always has len(texts) entries; permanently failed or invalid items
// are nil.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))

	// Indexes of embeddable texts; invalid ones keep their nil placeholder.
	embeddable := make([]int, 0, len(texts))
	for i, t := range texts {
		if _, ok := validText(t); ok {
			embeddable = append(embeddable, i)
		}
	}
	if skipped := len(texts) - len(embeddable); skipped > 0 {
		c.logger.Warn("embed batch: invalid texts recorded as nil", zap.Int("skipped", skipped))
	}

	for start := 0; start < len(embeddable); start += c.batchSize {
		if start > 0 {
			select {
			case <-time.After(c.batchDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		end := start + c.batchSize
		if end > len(embeddable) {
			end = len(embeddable)
		}
		indexes := embeddable[start:end]
		batch := make([]string, len(indexes))
		for i, idx := range indexes {
			batch[i] = texts[idx]
		}

		vectors, err := c.EmbedWithRetry(ctx, batch)
		if err == nil {
			for i, idx := range indexes {
				out[idx] = vectors[i]
			}
			continue
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		// Whole batch failed: isolate the poison item with per-item retries.
		c.logger.Warn("embed batch failed, falling back to per-item retry",
			zap.Int("batch_start", start), zap.Int("batch_len", len(batch)), zap.Error(err))
		for i, idx := range indexes {
			single, itemErr := c.EmbedWithRetry(ctx, batch[i:i+1])
			if itemErr != nil || len(single) == 0 {
				c.logger.Warn("embed item permanently failed",
					zap.Int("index", idx), zap.Error(itemErr))
				continue
			}
			out[idx] = single[0]
		}
	}
	return out, nil
}
