package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/kiji/internal/models"
)

const spoolDebounce = 400 * time.Millisecond

// SpoolWatcher watches a directory for dropped article files. Each *.json
// file holds an array of articles; once a file stops changing it is parsed,
// handed to the callback, and renamed with a .done suffix so a restart does
// not re-ingest it.
type SpoolWatcher struct {
	dir      string
	onBatch  func(ctx context.Context, articles []models.Article, source string)
	logger   *zap.Logger
	debounce time.Duration

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	timers   map[string]*time.Timer
	started  bool
	done     chan struct{}
	stopOnce sync.Once
}

// NewSpoolWatcher creates a watcher over dir. onBatch receives the parsed
// articles; the source argument is the spool file's base name.
func NewSpoolWatcher(dir string, onBatch func(ctx context.Context, articles []models.Article, source string), logger *zap.Logger) *SpoolWatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SpoolWatcher{
		dir:      dir,
		onBatch:  onBatch,
		logger:   logger,
		debounce: spoolDebounce,
		timers:   make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}
}

// Start begins watching. Files already present in the spool are processed
// first. Runs until ctx is cancelled or Stop is called.
func (w *SpoolWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		w.mu.Unlock()
		return fmt.Errorf("create spool dir: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	if err := watcher.Add(w.dir); err != nil {
		_ = watcher.Close()
		w.mu.Unlock()
		return fmt.Errorf("watch spool dir: %w", err)
	}
	w.watcher = watcher
	w.started = true
	w.mu.Unlock()

	w.logger.Info("spool watcher started", zap.String("dir", w.dir))
	w.syncExisting(ctx)
	go w.run(ctx, watcher)
	return nil
}

// run owns its own reference to the fsnotify watcher; Stop nils the shared
// field, so reading it here would race. Closing the watcher closes both
// channels, which ends the loop.
func (w *SpoolWatcher) run(ctx context.Context, watcher *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 && isSpoolFile(ev.Name) {
				w.scheduleProcess(ctx, ev.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.logger.Debug("spool watcher error", zap.Error(err))
			}
		}
	}
}

// scheduleProcess debounces per path so a file still being written is
// processed once, after the writes settle.
func (w *SpoolWatcher) scheduleProcess(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		w.process(ctx, path)
	})
}

func (w *SpoolWatcher) syncExisting(ctx context.Context) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn("failed to list spool dir", zap.Error(err))
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(w.dir, e.Name())
		if isSpoolFile(path) {
			w.process(ctx, path)
		}
	}
}

func (w *SpoolWatcher) process(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		w.logger.Warn("failed to read spool file", zap.String("path", path), zap.Error(err))
		return
	}
	var articles []models.Article
	if err := json.Unmarshal(data, &articles); err != nil {
		w.logger.Warn("spool file is not an article array", zap.String("path", path), zap.Error(err))
		return
	}
	source := filepath.Base(path)
	w.logger.Info("processing spool file",
		zap.String("path", path), zap.Int("articles", len(articles)))
	w.onBatch(ctx, articles, source)

	if err := os.Rename(path, path+".done"); err != nil {
		w.logger.Warn("failed to mark spool file done", zap.String("path", path), zap.Error(err))
	}
}

func isSpoolFile(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

// Stop stops the watcher and releases resources.
func (w *SpoolWatcher) Stop() {
	w.mu.Lock()
	if !w.started || w.watcher == nil {
		w.mu.Unlock()
		return
	}
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
