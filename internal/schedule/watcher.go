package schedule

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadFunc is called with the watched path after it changed
type ReloadFunc func(path string)

// Watcher reloads the suites file when it changes on disk
type Watcher struct {
	watcher  *fsnotify.Watcher
	path     string
	callback ReloadFunc
	debounce time.Duration
	logger   *slog.Logger

	timer *time.Timer
	mu    sync.Mutex

	cancel context.CancelFunc
}

// NewWatcher watches path. The parent directory is watched so that editors
// that replace the file by renaming are noticed too.
func NewWatcher(path string, callback ReloadFunc, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	path = filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, err
	}

	return &Watcher{
		watcher:  watcher,
		path:     path,
		callback: callback,
		debounce: 500 * time.Millisecond,
		logger:   logger,
	}, nil
}

// Start begins watching for file changes
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				w.handleEvent(event)
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.logger.Warn("suites watcher error", "error", err)
			}
		}
	}()
}

// Stop stops watching for file changes
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	w.watcher.Close()
}

// SetDebounce sets how long changes are batched before the callback fires
func (w *Watcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.debounce = d
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

func (w *Watcher) flush() {
	if w.callback != nil {
		w.callback(w.path)
	}
}

// ReloadInto returns a ReloadFunc that reloads suites into s, keeping the
// current set when the file is invalid.
func ReloadInto(s *Scheduler, logger *slog.Logger) ReloadFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(path string) {
		suites, err := LoadSuites(path)
		if err == nil {
			err = s.Replace(suites)
		}
		if err != nil {
			logger.Error("reloading suites", "path", path, "error", err)
			return
		}
		logger.Info("reloaded suites", "path", path, "count", len(suites))
		s.LogPlan()
	}
}
