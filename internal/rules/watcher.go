package rules

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/miradorstack/mirador-remediate/internal/metrics"
)

// Watcher hot-reloads the rule pack when its file changes on disk. A pack
// that fails validation is rejected and the active pack stays in force.
type Watcher struct {
	path     string
	engine   *Engine
	logger   *slog.Logger
	debounce time.Duration
}

// NewWatcher creates a watcher that swaps valid packs into engine.
func NewWatcher(path string, engine *Engine, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:     path,
		engine:   engine,
		logger:   logger,
		debounce: time.Second,
	}
}

// Run blocks until ctx is cancelled, reloading the pack on writes. The
// parent directory is watched as well so atomic save-and-rename editors
// and configmap updates are caught.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create rule watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch rule directory: %w", err)
	}
	if err := watcher.Add(w.path); err != nil {
		w.logger.Warn("rule file not watchable yet", slog.String("path", w.path), slog.Any("error", err))
	}

	debounce := time.NewTimer(w.debounce)
	if !debounce.Stop() {
		<-debounce.C
	}
	pending := false

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				// Re-arm after an atomic replace.
				if err := watcher.Add(w.path); err != nil {
					w.logger.Warn("re-watch rule file failed", slog.String("path", w.path), slog.Any("error", err))
				}
			}
			if pending && !debounce.Stop() {
				<-debounce.C
			}
			debounce.Reset(w.debounce)
			pending = true

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("rule watcher error", slog.Any("error", err))

		case <-debounce.C:
			pending = false
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	pack, err := LoadPack(w.path)
	if err != nil {
		w.logger.Error("rule pack rejected, keeping active pack", slog.String("path", w.path), slog.Any("error", err))
		return
	}
	w.engine.Swap(pack)
	metrics.SetRulesLoaded(len(pack.Rules))
	w.logger.Info("rule pack reloaded",
		slog.String("path", w.path),
		slog.Int("rules", len(pack.Rules)),
		slog.String("checksum", pack.Checksum),
	)
}
