package confloader

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/yndnr/querydeck-go/internal/telemetry/logger"
)

// DefaultDebounce collapses bursts of events from one save.
const DefaultDebounce = 100 * time.Millisecond

// Watcher watches configuration files for changes.
type Watcher struct {
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   logger.Logger
	done     chan struct{}
	stopOnce sync.Once

	mu        sync.RWMutex
	files     map[string]bool
	callbacks []func(string)
	pending   map[string]*time.Timer
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithWatcherLogger sets the logger for the watcher.
func WithWatcherLogger(l logger.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithDebounce sets how long to wait for further events before notifying.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// NewWatcher creates a new configuration file watcher.
func NewWatcher(opts ...WatcherOption) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher:  fw,
		debounce: DefaultDebounce,
		logger:   logger.Default(),
		done:     make(chan struct{}),
		files:    make(map[string]bool),
		pending:  make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("component", "config-watcher")
	return w, nil
}

// Watch starts reporting changes to path. The parent directory is watched
// so editors that replace the file by rename are still seen.
func (w *Watcher) Watch(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	if err := w.watcher.Add(dir); err != nil {
		w.logger.Error("failed to watch directory", "path", dir, "error", err)
		return err
	}

	w.mu.Lock()
	w.files[abs] = true
	w.mu.Unlock()

	w.logger.Debug("watching config file", "path", abs)
	return nil
}

// OnChange registers a callback that receives the changed file path.
func (w *Watcher) OnChange(callback func(string)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start processes events until Stop is called.
func (w *Watcher) Start() {
	w.logger.Info("configuration watcher started")
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if w.watched(event.Name) {
				w.schedule(event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("configuration watcher error", "error", err)
		case <-w.done:
			return
		}
	}
}

// StartAsync starts watching in a goroutine.
func (w *Watcher) StartAsync() {
	go w.Start()
}

// Stop stops the watcher. It is safe to call more than once.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		w.mu.Lock()
		for _, t := range w.pending {
			t.Stop()
		}
		w.mu.Unlock()
		err = w.watcher.Close()
		w.logger.Info("configuration watcher stopped")
	})
	return err
}

func (w *Watcher) watched(name string) bool {
	abs, err := filepath.Abs(name)
	if err != nil {
		return false
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.files[abs]
}

func (w *Watcher) schedule(name string) {
	abs, _ := filepath.Abs(name)
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[abs]; ok {
		t.Reset(w.debounce)
		return
	}
	w.pending[abs] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, abs)
		w.mu.Unlock()
		select {
		case <-w.done:
			return
		default:
		}
		w.logger.Debug("configuration file changed", "file", abs)
		w.notify(abs)
	})
}

func (w *Watcher) notify(path string) {
	w.mu.RLock()
	cbs := append([]func(string){}, w.callbacks...)
	w.mu.RUnlock()
	for _, cb := range cbs {
		cb(path)
	}
}

// ReloadLogLevel returns a callback that re-reads the log level at key from
// path and applies it when it changed.
func ReloadLogLevel(key string, log logger.Logger) func(string) {
	return func(path string) {
		l := NewLoader()
		if err := l.LoadFile(path); err != nil {
			log.Warn("config reload failed", "path", path, "error", err)
			return
		}
		level := l.GetString(key)
		if level == "" || level == logger.GetLevel() {
			return
		}
		if !logger.ValidLevel(level) {
			log.Warn("ignoring invalid log level on reload", "level", level)
			return
		}
		logger.SetLevel(level)
		log.Info("log level reloaded", "level", level)
	}
}
