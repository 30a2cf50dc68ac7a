// Package signal watches the project's signal directory so a running
// pipeline can be stopped from outside the process.
package signal

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const stopFile = "stop"

// Watcher observes the .stagecraft/signals directory. Creating a file
// named "stop" there requests cancellation; the orchestrator checks
// ShouldStop between stages.
type Watcher struct {
	signalsDir string

	mu      sync.RWMutex
	stopped bool

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher creates a watcher rooted at the project path. The signals
// directory is created if missing. When the fsnotify watcher cannot be
// started, ShouldStop falls back to stat-ing the stop file.
func NewWatcher(projectPath string) (*Watcher, error) {
	signalsDir := filepath.Join(projectPath, ".stagecraft", "signals")
	if err := os.MkdirAll(signalsDir, 0o755); err != nil {
		return nil, err
	}

	w := &Watcher{
		signalsDir: signalsDir,
		done:       make(chan struct{}),
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return w, nil
	}
	if err := fw.Add(signalsDir); err != nil {
		fw.Close()
		return w, nil
	}
	w.watcher = fw
	go w.watch()

	return w, nil
}

func (w *Watcher) watch() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) == stopFile && event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.mu.Lock()
				w.stopped = true
				w.mu.Unlock()
			}
		case <-w.watcher.Errors:
			// Keep watching; ShouldStop still stats the file directly.
		}
	}
}

// ShouldStop reports whether a stop signal has been received. The stop
// file is stat-ed as well in case the watcher missed the event.
func (w *Watcher) ShouldStop() bool {
	if _, err := os.Stat(filepath.Join(w.signalsDir, stopFile)); err == nil {
		w.mu.Lock()
		w.stopped = true
		w.mu.Unlock()
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stopped
}

// SendStop creates the stop signal file.
func (w *Watcher) SendStop() error {
	path := filepath.Join(w.signalsDir, stopFile)
	return os.WriteFile(path, []byte(time.Now().Format(time.RFC3339)), 0o644)
}

// Clear removes the stop file and resets the watcher state so the
// project can run again.
func (w *Watcher) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = false
	os.Remove(filepath.Join(w.signalsDir, stopFile))
}

// Close shuts the watcher down.
func (w *Watcher) Close() {
	close(w.done)
	if w.watcher != nil {
		w.watcher.Close()
	}
}
