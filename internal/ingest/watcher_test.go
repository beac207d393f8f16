package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kiji/internal/models"
)

type spoolRecorder struct {
	mu      sync.Mutex
	batches []struct {
		articles []models.Article
		source   string
	}
}

func (r *spoolRecorder) onBatch(ctx context.Context, articles []models.Article, source string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, struct {
		articles []models.Article
		source   string
	}{articles, source})
}

func (r *spoolRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func TestSpoolWatcher_ProcessesDroppedFile(t *testing.T) {
	dir := t.TempDir()
	rec := &spoolRecorder{}
	w := NewSpoolWatcher(dir, rec.onBatch, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	path := filepath.Join(dir, "batch.json")
	payload := `[{"title":"Budget approved","link":"https://example.org/a","content":"The budget was approved."}]`
	require.NoError(t, os.WriteFile(path, []byte(payload), 0644))

	require.Eventually(t, func() bool { return rec.count() == 1 }, 5*time.Second, 50*time.Millisecond)

	rec.mu.Lock()
	batch := rec.batches[0]
	rec.mu.Unlock()
	assert.Equal(t, "batch.json", batch.source)
	require.Len(t, batch.articles, 1)
	assert.Equal(t, "Budget approved", batch.articles[0].Title)

	// The spool file is renamed so it is not re-ingested on restart.
	require.Eventually(t, func() bool {
		_, err := os.Stat(path + ".done")
		return err == nil
	}, 5*time.Second, 50*time.Millisecond)
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestSpoolWatcher_ProcessesExistingFilesOnStart(t *testing.T) {
	dir := t.TempDir()
	payload := `[{"title":"Old drop","link":"https://example.org/old","content":"Already waiting."}]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "old.json"), []byte(payload), 0644))

	rec := &spoolRecorder{}
	w := NewSpoolWatcher(dir, rec.onBatch, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	require.Eventually(t, func() bool { return rec.count() == 1 }, 5*time.Second, 50*time.Millisecond)
}

func TestSpoolWatcher_IgnoresNonJSONAndMalformedFiles(t *testing.T) {
	dir := t.TempDir()
	rec := &spoolRecorder{}
	w := NewSpoolWatcher(dir, rec.onBatch, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore me"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not an array"), 0644))

	time.Sleep(2 * spoolDebounce)
	assert.Zero(t, rec.count())
}

func TestSpoolWatcher_StopDuringEventTraffic(t *testing.T) {
	dir := t.TempDir()
	rec := &spoolRecorder{}
	w := NewSpoolWatcher(dir, rec.onBatch, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	// Keep events flowing while Stop runs; a racing read of the closed
	// watcher used to panic here.
	done := make(chan struct{})
	go func() {
		defer close(done)
		payload := []byte(`[{"title":"t","link":"https://example.org/x","content":"c"}]`)
		for i := 0; i < 50; i++ {
			_ = os.WriteFile(filepath.Join(dir, fmt.Sprintf("f%d.json", i)), payload, 0644)
		}
	}()
	time.Sleep(5 * time.Millisecond)
	w.Stop()
	<-done
}

func TestSpoolWatcher_StopIsIdempotent(t *testing.T) {
	w := NewSpoolWatcher(t.TempDir(), func(context.Context, []models.Article, string) {}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	w.Stop()
	w.Stop()
}
