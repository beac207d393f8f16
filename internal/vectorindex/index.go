// Package vectorindex provides vector point storage and similarity search
// over a remote collection, with an in-memory implementation for tests.
package vectorindex

import (
	"context"
	"time"
)

// DefaultScoreThreshold is the minimum cosine similarity for search hits.
const DefaultScoreThreshold = 0.7

// Payload is the metadata stored with each point. Content is bounded by the
// ingester before upsert.
type Payload struct {
	Title     string    `json:"title"`
	Link      string    `json:"link"`
	Content   string    `json:"content"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// Point is one embedded chunk in the collection. IDs are unique within the
// collection; points are immutable after upsert.
type Point struct {
	ID      uint64
	Vector  []float32
	Payload Payload
}

// Result is a single search hit annotated with its similarity score.
type Result struct {
	ID      uint64
	Score   float64
	Payload Payload
}

// Info describes the collection for status reporting.
type Info struct {
	PointsCount int
	Dimensions  int
}

// Index is the vector index contract over a single named collection.
// Operations perform no retries; failures surface as connectivity errors.
type Index interface {
	// EnsureCollection is idempotent: it creates the collection with cosine
	// distance when absent, and deletes and recreates it when it exists
	// with a different dimension.
	EnsureCollection(ctx context.Context, dimensions int) error

	// Upsert writes points by ID and waits for the write to be acknowledged,
	// so an immediately-following search sees them.
	Upsert(ctx context.Context, points []Point) error

	// Search returns up to k points with score >= threshold, ordered by
	// descending score. An empty result is not an error.
	Search(ctx context.Context, vector []float32, k int, threshold float64) ([]Result, error)

	// Info returns collection statistics.
	Info(ctx context.Context) (*Info, error)

	Close() error
}
