package shell

import (
	"context"
	"log/slog"
	"sync"

	dark "github.com/thiagokokada/dark-mode-go"

	"github.com/marlapps/marlapps/internal/logging"
)

// OSThemeWatcher monitors OS dark mode changes so a "system" theme
// preference tracks the desktop setting live. Goroutine + buffered channel
// + Close(), same shape as the config watcher.
type OSThemeWatcher struct {
	changeCh  chan bool // true=dark, false=light (buffered, non-blocking send)
	closeCh   chan struct{}
	closeOnce sync.Once
}

// NewOSThemeWatcher creates and starts an OS theme watcher.
// Returns nil if WatchDarkMode fails (caller should fall back gracefully).
func NewOSThemeWatcher(parentCtx context.Context) *OSThemeWatcher {
	ctx, cancel := context.WithCancel(parentCtx)

	events, errs, err := dark.WatchDarkMode(ctx)
	if err != nil {
		cancel()
		logging.ForComponent(logging.CompShell).Warn("os theme watcher unavailable",
			slog.String("error", err.Error()))
		return nil
	}

	w := &OSThemeWatcher{
		changeCh: make(chan bool, 1),
		closeCh:  make(chan struct{}),
	}

	go w.watchLoop(ctx, cancel, events, errs)
	return w
}

func (w *OSThemeWatcher) watchLoop(ctx context.Context, cancel context.CancelFunc, events <-chan bool, errs <-chan error) {
	defer cancel()
	log := logging.ForComponent(logging.CompShell)
	for {
		select {
		case <-w.closeCh:
			return
		case isDark, ok := <-events:
			if !ok {
				return
			}
			// Non-blocking send (drop if consumer hasn't read yet)
			select {
			case w.changeCh <- isDark:
			default:
			}
		case err, ok := <-errs:
			if ok && err != nil {
				log.Warn("os theme watcher error", slog.String("error", err.Error()))
			}
		}
	}
}

// ChangeChannel returns the channel that receives dark mode changes.
func (w *OSThemeWatcher) ChangeChannel() <-chan bool {
	return w.changeCh
}

// Close stops the watcher goroutine. Safe to call multiple times.
func (w *OSThemeWatcher) Close() {
	w.closeOnce.Do(func() {
		close(w.closeCh)
	})
}
