package vectorindex

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryIndex_SearchThresholdAndOrder(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryIndex()
	require.NoError(t, m.EnsureCollection(ctx, 2))

	require.NoError(t, m.Upsert(ctx, []Point{
		{ID: 1, Vector: []float32{1, 0}, Payload: Payload{Title: "exact"}},
		{ID: 2, Vector: []float32{0.9, 0.1}, Payload: Payload{Title: "close"}},
		{ID: 3, Vector: []float32{0, 1}, Payload: Payload{Title: "orthogonal"}},
		{ID: 4, Vector: []float32{-1, 0}, Payload: Payload{Title: "opposite"}},
	}))

	results, err := m.Search(ctx, []float32{1, 0}, 10, 0.7)
	require.NoError(t, err)
	require.Len(t, results, 2, "orthogonal and opposite vectors fall below threshold")
	assert.Equal(t, uint64(1), results[0].ID)
	assert.Equal(t, uint64(2), results[1].ID)
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Score, 0.7)
	}
}

func TestMemoryIndex_SearchCapsAtK(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryIndex()
	require.NoError(t, m.EnsureCollection(ctx, 2))
	for i := uint64(1); i <= 10; i++ {
		require.NoError(t, m.Upsert(ctx, []Point{{ID: i, Vector: []float32{1, float32(i) * 0.01}}}))
	}
	results, err := m.Search(ctx, []float32{1, 0}, 3, 0.5)
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestMemoryIndex_EmptyResultIsNotAnError(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryIndex()
	require.NoError(t, m.EnsureCollection(ctx, 2))
	require.NoError(t, m.Upsert(ctx, []Point{{ID: 1, Vector: []float32{0, 1}}}))

	results, err := m.Search(ctx, []float32{1, 0}, 5, 0.7)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestMemoryIndex_DimensionMismatchRecreates(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryIndex()
	require.NoError(t, m.EnsureCollection(ctx, 2))
	require.NoError(t, m.Upsert(ctx, []Point{{ID: 1, Vector: []float32{1, 0}}}))

	// Same dimension: idempotent, data kept.
	require.NoError(t, m.EnsureCollection(ctx, 2))
	info, err := m.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, info.PointsCount)

	// Different dimension: collection recreated, data dropped.
	require.NoError(t, m.EnsureCollection(ctx, 3))
	info, err = m.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, info.PointsCount)
	assert.Equal(t, 3, info.Dimensions)
}

func TestMemoryIndex_UpsertOverwritesByID(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryIndex()
	require.NoError(t, m.EnsureCollection(ctx, 2))
	ts := time.Now()
	require.NoError(t, m.Upsert(ctx, []Point{{ID: 7, Vector: []float32{1, 0}, Payload: Payload{Title: "old", Timestamp: ts}}}))
	require.NoError(t, m.Upsert(ctx, []Point{{ID: 7, Vector: []float32{1, 0}, Payload: Payload{Title: "new", Timestamp: ts}}}))

	results, err := m.Search(ctx, []float32{1, 0}, 5, 0.5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "new", results[0].Payload.Title)
}

func TestMemoryIndex_QueryDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryIndex()
	require.NoError(t, m.EnsureCollection(ctx, 3))
	_, err := m.Search(ctx, []float32{1, 0}, 5, 0.5)
	assert.Error(t, err)
}
