package config

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"agentcore/pkg/logger"
)

const watchDebounce = 200 * time.Millisecond

// Watcher debounces fsnotify events on a single config file into a
// single onChange callback, grounded on the teacher's
// internal/gateway.Watcher (one fsnotify.Watcher, per-path debounce
// timers) but narrowed to one path and one callback since config
// hot-reload only ever watches its own file.
type Watcher struct {
	w        *fsnotify.Watcher
	path     string
	onChange func()
	stopCh   chan struct{}
	timer    *time.Timer
	mu       sync.Mutex
}

// NewWatcher watches path (typically the loaded config file) and calls
// onChange, debounced, whenever it is written. Used to reload
// internal/identity's owner set when OWNER_EMAILS/OWNER_NOSTR_PUBKEYS/
// SYSTEM_AI_GMAIL change without a process restart.
func NewWatcher(path string, onChange func()) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, err
	}
	return &Watcher{w: fw, path: path, onChange: onChange, stopCh: make(chan struct{})}, nil
}

// Start runs the watch loop in a new goroutine.
func (w *Watcher) Start() {
	go w.run()
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.w.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.debounced()
			}
		case err, ok := <-w.w.Errors:
			if !ok {
				return
			}
			logger.Warn().Err(err).Str("path", w.path).Msg("config: watcher error")
		}
	}
}

func (w *Watcher) debounced() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(watchDebounce, w.onChange)
}

// Stop stops the watcher.
func (w *Watcher) Stop() {
	close(w.stopCh)
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	w.w.Close()
}
