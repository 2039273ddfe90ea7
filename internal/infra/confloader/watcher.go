package confloader

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/codeaudit/cougaar-core-sub004/internal/config"
)

// DefaultDebounce is how long the Watcher waits after the last write
// before it reloads. Editors often write a file in several steps.
const DefaultDebounce = 100 * time.Millisecond

// Watcher reloads the agent configuration when its file changes and hands
// every valid result to a callback. Invalid edits are logged and dropped.
type Watcher struct {
	path      string
	overrides map[string]any
	onReload  func(*config.AgentConfig)
	debounce  time.Duration
	logger    *slog.Logger

	fsw      *fsnotify.Watcher
	mu       sync.Mutex
	timer    *time.Timer
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithWatcherLogger sets the logger for the watcher.
func WithWatcherLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// WithDebounce sets the quiet period before a reload.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// NewWatcher starts watching the file at path. Reloads apply the same
// overrides as LoadAgentConfig.
func NewWatcher(path string, overrides map[string]any, onReload func(*config.AgentConfig), opts ...WatcherOption) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		path:      abs,
		overrides: overrides,
		onReload:  onReload,
		debounce:  DefaultDebounce,
		logger:    slog.Default(),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// The directory is watched rather than the file so that editors
	// which replace the file by rename are still seen.
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, err
	}
	w.fsw = fsw

	w.wg.Add(1)
	go w.loop()
	w.logger.Debug("watching config file", "path", abs)
	return w, nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if abs, err := filepath.Abs(event.Name); err == nil && abs == w.path {
				w.schedule()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watcher error", "error", err)
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Reset(w.debounce)
		return
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	select {
	case <-w.done:
		return
	default:
	}
	cfg, err := LoadAgentConfig(w.path, w.overrides)
	if err != nil {
		w.logger.Warn("config reload rejected", "path", w.path, "error", err)
		return
	}
	w.onReload(cfg)
}

// Stop stops watching. It is safe to call more than once.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
		err = w.fsw.Close()
		w.wg.Wait()
	})
	return err
}
