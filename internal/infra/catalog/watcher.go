package catalog

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultReloadDebounce = 200 * time.Millisecond

// Watcher reloads the config file when it changes on disk and hands the new
// snapshot to the apply callback. Editors often replace files via rename, so
// the watch covers the containing directory rather than the file itself.
type Watcher struct {
	logger     *zap.Logger
	loader     *Loader
	configPath string
	apply      func(Config)

	reloadMu sync.Mutex
}

func NewWatcher(loader *Loader, configPath string, logger *zap.Logger, apply func(Config)) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		logger:     logger.Named("catalog_watcher"),
		loader:     loader,
		configPath: configPath,
		apply:      apply,
	}
}

// Run watches until ctx is cancelled. Reload failures keep the previous
// snapshot in effect and are logged, never propagated.
func (w *Watcher) Run(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("config watcher failed", zap.Error(err))
		return
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(w.configPath)); err != nil {
		w.logger.Warn("config watcher add failed",
			zap.String("path", w.configPath), zap.Error(err))
		return
	}

	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-watcher.Errors:
			if err != nil {
				w.logger.Warn("config watcher error", zap.Error(err))
			}
		case event := <-watcher.Events:
			if !shouldReloadForPath(event.Name, w.configPath) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(defaultReloadDebounce)
				continue
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(defaultReloadDebounce)
		case <-timerChan(timer):
			timer = nil
			w.Reload(ctx)
		}
	}
}

// Reload forces a reload outside the watch loop, e.g. on SIGHUP.
func (w *Watcher) Reload(ctx context.Context) {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	cfg, err := w.loader.Load(ctx, w.configPath)
	if err != nil {
		w.logger.Warn("config reload failed, keeping previous config",
			zap.String("path", w.configPath), zap.Error(err))
		return
	}
	w.apply(cfg)
}

func shouldReloadForPath(path string, configPath string) bool {
	if path == "" || configPath == "" {
		return false
	}
	return filepath.Clean(path) == filepath.Clean(configPath)
}

func timerChan(timer *time.Timer) <-chan time.Time {
	if timer == nil {
		return nil
	}
	return timer.C
}
