package config

import (
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

type watchEntry struct {
	modTime  time.Time
	onChange func()
}

// Watcher polls configuration files and calls a callback when one changes
// on disk.
type Watcher struct {
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	entries map[string]*watchEntry

	stopChan chan struct{}
	stopOnce sync.Once
}

// NewWatcher creates a watcher that checks files every interval.
func NewWatcher(interval time.Duration, logger *zap.Logger) *Watcher {
	return &Watcher{
		interval: interval,
		logger:   logger,
		entries:  make(map[string]*watchEntry),
		stopChan: make(chan struct{}),
	}
}

// Add watches path. The current modification time is the baseline, so
// onChange only runs for later edits.
func (w *Watcher) Add(path string, onChange func()) {
	entry := &watchEntry{onChange: onChange}
	if info, err := os.Stat(path); err == nil {
		entry.modTime = info.ModTime()
	}

	w.mu.Lock()
	w.entries[path] = entry
	w.mu.Unlock()
}

// Remove stops watching path.
func (w *Watcher) Remove(path string) {
	w.mu.Lock()
	delete(w.entries, path)
	w.mu.Unlock()
}

// Check compares every watched file against its last seen modification
// time and runs the callbacks of those that changed.
func (w *Watcher) Check() {
	var changed []func()

	w.mu.Lock()
	for path, entry := range w.entries {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.ModTime().After(entry.modTime) {
			entry.modTime = info.ModTime()
			w.logger.Info("Config file changed", zap.String("path", path))
			changed = append(changed, entry.onChange)
		}
	}
	w.mu.Unlock()

	for _, fn := range changed {
		fn()
	}
}

// Start begins polling in the background.
func (w *Watcher) Start() {
	w.logger.Info("Starting config watcher", zap.Duration("interval", w.interval))

	go func() {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				w.Check()
			case <-w.stopChan:
				w.logger.Info("Stopping config watcher")
				return
			}
		}
	}()
}

// Stop stops polling. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
	})
}
