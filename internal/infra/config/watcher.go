package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"catalogd/internal/domain"
)

const reloadDebounce = 200 * time.Millisecond

// Watcher reloads settings when the config file changes on disk and hands
// each successfully reloaded snapshot to the onChange callback. Editors that
// replace the file (rename + create) are handled by watching the directory.
type Watcher struct {
	logger   *zap.Logger
	loader   *Loader
	path     string
	onChange func(domain.Settings)
}

func NewWatcher(loader *Loader, path string, onChange func(domain.Settings), logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		logger:   logger.Named("config_watcher"),
		loader:   loader,
		path:     path,
		onChange: onChange,
	}
}

// Run watches until ctx is cancelled. It returns immediately when no config
// path was given, since there is nothing to watch.
func (w *Watcher) Run(ctx context.Context) {
	if w.path == "" {
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("config watcher failed", zap.Error(err))
		return
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		w.logger.Warn("config watcher add failed", zap.String("path", w.path), zap.Error(err))
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
			if !shouldReloadForPath(event.Name, w.path) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
				continue
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(reloadDebounce)
		case <-timerChan(timer):
			timer = nil
			settings, err := w.loader.Load(ctx, w.path)
			if err != nil {
				w.logger.Warn("config reload failed", zap.Error(err))
				continue
			}
			w.logger.Info("config reloaded", zap.String("path", w.path))
			if w.onChange != nil {
				w.onChange(settings)
			}
		}
	}
}

func shouldReloadForPath(path, configPath string) bool {
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
