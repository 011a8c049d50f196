// 配置文件变更监听与重载。
//
// FileWatcher 基于 fsnotify 监听文件所在目录（兼容编辑器的原子替换写法），
// 对事件做防抖后回调；Watcher 在其之上重新执行 Loader 并发布新配置。
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// --- 文件监听器类型定义 ---

// FileWatcher watches configuration files for changes
type FileWatcher struct {
	mu sync.RWMutex

	paths         []string
	debounceDelay time.Duration

	running  bool
	fs       *fsnotify.Watcher
	stopChan chan struct{}
	done     chan struct{}

	callbacks []func(event FileEvent)

	logger *zap.Logger
}

// FileEvent represents a file change event
type FileEvent struct {
	Path      string    `json:"path"`
	Op        FileOp    `json:"op"`
	Timestamp time.Time `json:"timestamp"`
}

// FileOp represents file operation types
type FileOp int

const (
	FileOpCreate FileOp = iota
	FileOpWrite
	FileOpRemove
	FileOpRename
)

// String returns the string representation of FileOp
func (op FileOp) String() string {
	switch op {
	case FileOpCreate:
		return "CREATE"
	case FileOpWrite:
		return "WRITE"
	case FileOpRemove:
		return "REMOVE"
	case FileOpRename:
		return "RENAME"
	default:
		return "UNKNOWN"
	}
}

func fileOpOf(op fsnotify.Op) (FileOp, bool) {
	switch {
	case op.Has(fsnotify.Create):
		return FileOpCreate, true
	case op.Has(fsnotify.Write):
		return FileOpWrite, true
	case op.Has(fsnotify.Remove):
		return FileOpRemove, true
	case op.Has(fsnotify.Rename):
		return FileOpRename, true
	default:
		return 0, false
	}
}

// --- 文件监听器选项 ---

// WatcherOption configures the FileWatcher
type WatcherOption func(*FileWatcher)

// WithDebounceDelay sets the debounce delay for file events
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		w.debounceDelay = d
	}
}

// WithWatcherLogger sets the logger for the watcher
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *FileWatcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// --- 文件监听器实现 ---

// NewFileWatcher creates a new file watcher. Missing files are allowed; their
// creation is reported once the watcher starts.
func NewFileWatcher(paths []string, opts ...WatcherOption) (*FileWatcher, error) {
	w := &FileWatcher{
		debounceDelay: 100 * time.Millisecond,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(zap.String("component", "config_watcher"))

	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve path %s: %w", path, err)
		}
		if _, err := os.Stat(abs); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to stat path %s: %w", abs, err)
			}
			w.logger.Warn("config file does not exist, will watch for creation", zap.String("path", abs))
		}
		w.paths = append(w.paths, abs)
	}

	return w, nil
}

// OnChange registers a callback for file change events
func (w *FileWatcher) OnChange(callback func(FileEvent)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start begins watching. The watcher stops when ctx is done or Stop is called.
func (w *FileWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("watcher already running")
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	dirs := make(map[string]struct{})
	for _, p := range w.paths {
		dirs[filepath.Dir(p)] = struct{}{}
	}
	for dir := range dirs {
		if err := fs.Add(dir); err != nil {
			fs.Close()
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	w.fs = fs
	w.stopChan = make(chan struct{})
	w.done = make(chan struct{})
	w.running = true
	go w.loop(ctx, fs, w.stopChan, w.done)

	w.logger.Info("file watcher started",
		zap.Strings("paths", w.paths),
		zap.Duration("debounce_delay", w.debounceDelay))
	return nil
}

// Stop stops the watcher and waits for the event loop to exit.
func (w *FileWatcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.stopChan)
	done, fs := w.done, w.fs
	w.mu.Unlock()

	<-done
	w.logger.Info("file watcher stopped")
	return fs.Close()
}

func (w *FileWatcher) watched(name string) bool {
	name = filepath.Clean(name)
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, p := range w.paths {
		if p == name {
			return true
		}
	}
	return false
}

// loop collects matching events and dispatches them after the debounce delay.
func (w *FileWatcher) loop(ctx context.Context, fs *fsnotify.Watcher, stop, done chan struct{}) {
	defer close(done)

	pending := make(map[string]FileEvent)
	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case ev, ok := <-fs.Events:
			if !ok {
				return
			}
			op, relevant := fileOpOf(ev.Op)
			if !relevant || !w.watched(ev.Name) {
				continue
			}
			name := filepath.Clean(ev.Name)
			pending[name] = FileEvent{Path: name, Op: op, Timestamp: time.Now()}
			if timer == nil {
				timer = time.NewTimer(w.debounceDelay)
			} else {
				timer.Reset(w.debounceDelay)
			}
			timerC = timer.C
		case err, ok := <-fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("fsnotify error", zap.Error(err))
		case <-timerC:
			timerC = nil
			w.dispatch(pending)
			pending = make(map[string]FileEvent)
		}
	}
}

func (w *FileWatcher) dispatch(events map[string]FileEvent) {
	w.mu.RLock()
	callbacks := make([]func(FileEvent), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.RUnlock()

	for _, evt := range events {
		w.logger.Debug("dispatching file event",
			zap.String("path", evt.Path),
			zap.String("op", evt.Op.String()))
		for _, cb := range callbacks {
			cb(evt)
		}
	}
}

// Paths returns the list of watched paths
func (w *FileWatcher) Paths() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	paths := make([]string, len(w.paths))
	copy(paths, w.paths)
	return paths
}

// IsRunning returns whether the watcher is running
func (w *FileWatcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// =============================================================================
// 🔄 配置重载
// =============================================================================

// ErrNoConfigPath is returned by NewWatcher when the loader has no file.
var ErrNoConfigPath = errors.New("config: loader has no config path")

// Watcher reloads the configuration whenever its file changes and hands the
// new value to registered callbacks. A reload that fails to load or validate
// is logged and the previous configuration stays current.
type Watcher struct {
	loader  *Loader
	files   *FileWatcher
	current atomic.Pointer[Config]
	logger  *zap.Logger

	mu        sync.Mutex
	callbacks []func(old, new *Config)
}

// NewWatcher creates a reloading watcher starting from initial.
func NewWatcher(loader *Loader, initial *Config, opts ...WatcherOption) (*Watcher, error) {
	if loader.ConfigPath() == "" {
		return nil, ErrNoConfigPath
	}
	files, err := NewFileWatcher([]string{loader.ConfigPath()}, opts...)
	if err != nil {
		return nil, err
	}
	w := &Watcher{loader: loader, files: files, logger: files.logger}
	w.current.Store(initial)
	files.OnChange(func(ev FileEvent) {
		if ev.Op == FileOpRemove || ev.Op == FileOpRename {
			return
		}
		w.Reload()
	})
	return w, nil
}

// OnReload registers a callback invoked after each successful reload.
func (w *Watcher) OnReload(fn func(old, new *Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, fn)
}

// Current returns the most recently loaded configuration.
func (w *Watcher) Current() *Config {
	return w.current.Load()
}

// Reload loads the file again and notifies callbacks on success.
func (w *Watcher) Reload() error {
	cfg, err := w.loader.Load()
	if err != nil {
		w.logger.Warn("config reload failed, keeping previous config", zap.Error(err))
		return err
	}
	old := w.current.Swap(cfg)

	w.mu.Lock()
	callbacks := make([]func(old, new *Config), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	for _, cb := range callbacks {
		cb(old, cfg)
	}
	w.logger.Info("config reloaded", zap.String("path", w.loader.ConfigPath()))
	return nil
}

// Start begins watching the config file.
func (w *Watcher) Start(ctx context.Context) error { return w.files.Start(ctx) }

// Stop stops watching.
func (w *Watcher) Stop() error { return w.files.Stop() }
