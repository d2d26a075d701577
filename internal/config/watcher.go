package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	defaultWatchInterval = 5 * time.Second
	defaultSettle        = 100 * time.Millisecond
)

// Watcher reloads a config file when it changes and reports each new valid
// configuration to a callback. File system notifications on the parent
// directory trigger a reload after a short settle delay, so editors that
// replace the file by rename are picked up. A polling ticker covers
// filesystems without notifications. Invalid edits are logged and skipped.
type Watcher struct {
	path      string
	interval  time.Duration
	settle    time.Duration
	onChange  func(old, new *Config)
	overrides []func(*Config)

	mu        sync.Mutex
	current   *Config
	lastMtime time.Time
	lastHash  [sha256.Size]byte

	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Default: 5s.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithSettle sets how long the watcher waits after a notification before
// reading the file. Default: 100ms.
func WithSettle(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d >= 0 {
			w.settle = d
		}
	}
}

// WithOverride applies fn to every loaded config before it is validated,
// e.g. to keep command line flags in force across reloads.
func WithOverride(fn func(*Config)) WatcherOption {
	return func(w *Watcher) { w.overrides = append(w.overrides, fn) }
}

// NewWatcher loads path and starts watching it.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     filepath.Clean(path),
		interval: defaultWatchInterval,
		settle:   defaultSettle,
		onChange: onChange,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, hash, mtime, err := w.load()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.lastHash, w.lastMtime = cfg, hash, mtime

	var events <-chan fsnotify.Event
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("config watcher: notifications unavailable, polling only", "err", err)
	} else if err := fw.Add(filepath.Dir(w.path)); err != nil {
		slog.Warn("config watcher: cannot watch config directory, polling only", "path", w.path, "err", err)
		fw.Close()
		fw = nil
	} else {
		events = fw.Events
	}

	go w.run(fw, events)
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends watching and waits for the watch goroutine to exit. A callback
// in progress finishes first, so Stop must not be called from the callback.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
	<-w.stopped
}

func (w *Watcher) run(fw *fsnotify.Watcher, events <-chan fsnotify.Event) {
	defer close(w.stopped)
	var errs <-chan error
	if fw != nil {
		defer fw.Close()
		errs = fw.Errors
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// settle is armed by notifications and drained by reloads.
	settle := time.NewTimer(time.Hour)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) != w.path || ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
				continue
			}
			settle.Reset(w.settle)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			slog.Warn("config watcher: notification error", "err", err)
		case <-settle.C:
			w.reload()
		case <-ticker.C:
			if w.modified() {
				w.reload()
			}
		}
	}
}

// modified reports whether the file's mtime moved since the last load.
func (w *Watcher) modified() bool {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return !info.ModTime().Equal(w.lastMtime)
}

func (w *Watcher) reload() {
	cfg, hash, mtime, err := w.load()
	if err != nil {
		slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	w.lastMtime = mtime
	if hash == w.lastHash {
		w.mu.Unlock()
		return
	}
	old := w.current
	w.current = cfg
	w.lastHash = hash
	w.mu.Unlock()

	slog.Info("config watcher: configuration reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}

// load parses and validates the file, returning it with its content hash and
// mtime.
func (w *Watcher) load() (*Config, [sha256.Size]byte, time.Time, error) {
	var zero [sha256.Size]byte

	info, err := os.Stat(w.path)
	if err != nil {
		return nil, zero, time.Time{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, zero, time.Time{}, err
	}

	cfg, err := decode(bytes.NewReader(data))
	if err != nil {
		return nil, zero, time.Time{}, err
	}
	for _, fn := range w.overrides {
		fn(cfg)
	}
	if err := Validate(cfg); err != nil {
		return nil, zero, time.Time{}, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return cfg, sha256.Sum256(data), info.ModTime(), nil
}
