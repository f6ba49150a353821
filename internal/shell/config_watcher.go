package shell

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/marlapps/marlapps/internal/config"
	"github.com/marlapps/marlapps/internal/logging"
)

// ConfigWatcher watches the data directory for edits to config.toml and
// reloads the config when the file changes. Rapid write events (editors
// often write + rename) coalesce through a short debounce.
type ConfigWatcher struct {
	configPath string
	watcher    *fsnotify.Watcher

	ctx    context.Context
	cancel context.CancelFunc

	// onReload receives the freshly loaded config after each change.
	onReload func(*config.Config)
}

// NewConfigWatcher creates a watcher over the directory containing the
// config file. Call Start in a goroutine.
func NewConfigWatcher(onReload func(*config.Config)) (*ConfigWatcher, error) {
	configPath, err := config.Path()
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &ConfigWatcher{
		configPath: configPath,
		watcher:    watcher,
		ctx:        ctx,
		cancel:     cancel,
		onReload:   onReload,
	}, nil
}

// Start begins watching. It returns when Stop is called or the watcher dies.
func (w *ConfigWatcher) Start() {
	log := logging.ForComponent(logging.CompShell)

	// Watch the directory, not the file: atomic saves replace the file by
	// rename, which would orphan a file-level watch.
	if err := w.watcher.Add(filepath.Dir(w.configPath)); err != nil {
		log.Warn("config watch failed", slog.String("error", err.Error()))
		return
	}

	var debounceTimer *time.Timer
	var debounceMu sync.Mutex

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.configPath {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}

			debounceMu.Lock()
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(100*time.Millisecond, w.reload)
			debounceMu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn("config watcher error", slog.String("error", err.Error()))
		}
	}
}

func (w *ConfigWatcher) reload() {
	log := logging.ForComponent(logging.CompShell)
	cfg, err := config.Reload()
	if err != nil {
		log.Warn("config reload failed", slog.String("error", err.Error()))
		return
	}
	log.Info("config reloaded", slog.String("path", w.configPath))
	if w.onReload != nil {
		w.onReload(cfg)
	}
}

// Stop shuts down the watcher.
func (w *ConfigWatcher) Stop() {
	w.cancel()
	_ = w.watcher.Close()
}
