package vectorindex

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hyperjump/kiji/internal/embedding"
)

// MemoryIndex is an in-memory brute-force index. Suitable for tests and
// offline runs; mirrors the remote index contract including the score
// threshold and dimension-mismatch recreate.
type MemoryIndex struct {
	mu         sync.RWMutex
	dimensions int
	points     map[uint64]Point
}

var _ Index = (*MemoryIndex)(nil)

// NewMemoryIndex creates an empty in-memory index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{points: make(map[uint64]Point)}
}

// EnsureCollection sets the dimension; a mismatch with existing data drops
// all points, matching the remote delete+recreate semantics.
func (m *MemoryIndex) EnsureCollection(ctx context.Context, dimensions int) error {
	if dimensions <= 0 {
		return fmt.Errorf("invalid dimensions %d", dimensions)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dimensions != 0 && m.dimensions != dimensions {
		m.points = make(map[uint64]Point)
	}
	m.dimensions = dimensions
	return nil
}

// Upsert stores points by ID, overwriting on collision.
func (m *MemoryIndex) Upsert(ctx context.Context, points []Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dimensions == 0 {
		return fmt.Errorf("collection not initialized")
	}
	for _, p := range points {
		if len(p.Vector) != m.dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(p.Vector), m.dimensions)
		}
		vec := make([]float32, len(p.Vector))
		copy(vec, p.Vector)
		p.Vector = vec
		m.points[p.ID] = p
	}
	return nil
}

// Search scores every point by cosine similarity and returns up to k hits
// with score >= threshold, ordered by descending score.
func (m *MemoryIndex) Search(ctx context.Context, vector []float32, k int, threshold float64) ([]Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.dimensions == 0 {
		return nil, fmt.Errorf("collection not initialized")
	}
	if len(vector) != m.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(vector), m.dimensions)
	}
	if k <= 0 {
		k = 5
	}
	if threshold == 0 {
		threshold = DefaultScoreThreshold
	}
	results := make([]Result, 0, len(m.points))
	for _, p := range m.points {
		score, err := embedding.CosineSimilarity(vector, p.Vector)
		if err != nil {
			return nil, err
		}
		if score < threshold {
			continue
		}
		results = append(results, Result{ID: p.ID, Score: score, Payload: p.Payload})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Info returns point count and dimension.
func (m *MemoryIndex) Info(ctx context.Context) (*Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return &Info{PointsCount: len(m.points), Dimensions: m.dimensions}, nil
}

// Close is a no-op for MemoryIndex.
func (m *MemoryIndex) Close() error { return nil }
