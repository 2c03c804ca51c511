// Package metrics implements the log watcher (C9), the conversation
// log parser (C10), and the in-memory metrics cache (C11) that sit
// between raw JSONL conversation logs and the persisted daily rollups
// (pkg/store).
package metrics

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceWindow = 1 * time.Second

// Watcher recursively monitors a directory for new or modified .jsonl
// files and forwards their paths over a bounded channel, debounced to
// at most one emission per path per second.
type Watcher struct {
	root    string
	paths   chan string
	logger  *slog.Logger
	mu      sync.Mutex
	lastSeen map[string]time.Time
	fsw     *fsnotify.Watcher
}

// NewWatcher creates a Watcher rooted at dir, auto-creating it if
// missing. The returned channel has capacity 100 per spec.
func NewWatcher(dir string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		root:     dir,
		paths:    make(chan string, 100),
		logger:   logger,
		lastSeen: make(map[string]time.Time),
		fsw:      fsw,
	}
	if err := w.addRecursive(dir); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

// Paths returns the channel of debounced .jsonl file paths.
func (w *Watcher) Paths() <-chan string { return w.paths }

// Close stops the underlying filesystem watch and closes the paths
// channel.
func (w *Watcher) Close() error {
	err := w.fsw.Close()
	close(w.paths)
	return err
}

// Run processes filesystem events until the watcher is closed or
// stop is signalled.
func (w *Watcher) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("metrics: watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}

	info, err := os.Stat(event.Name)
	if err != nil || info.IsDir() {
		if err == nil && info.IsDir() && event.Op&fsnotify.Create != 0 {
			w.addRecursive(event.Name)
		}
		return
	}

	if !isWatchableJSONL(event.Name) {
		return
	}

	w.emit(event.Name)
}

func isWatchableJSONL(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	if !strings.HasSuffix(base, ".jsonl") {
		return false
	}
	if strings.HasSuffix(base, ".tmp") || strings.HasSuffix(base, ".swp") {
		return false
	}
	return true
}

func (w *Watcher) emit(path string) {
	w.mu.Lock()
	last, seen := w.lastSeen[path]
	now := time.Now()
	if seen && now.Sub(last) < debounceWindow {
		w.mu.Unlock()
		return
	}
	w.lastSeen[path] = now
	w.mu.Unlock()

	select {
	case w.paths <- path:
	default:
		w.logger.Warn("metrics: watcher backpressure, path channel full", "path", path)
	}
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.fsw.Add(path)
		}
		return nil
	})
}
