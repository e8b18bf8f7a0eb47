package orchestrator

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// instructionPollInterval is the stat-based fallback cadence, also used to
// sweep up events fsnotify missed.
const instructionPollInterval = 2 * time.Second

// InstructionWatcher watches a plain-text file and injects its content into
// a running orchestrator whenever the file changes. Operators append to the
// file mid-run; each distinct content becomes one injected instruction.
type InstructionWatcher struct {
	path    string
	inject  func(string) error
	watcher *fsnotify.Watcher // nil means polling only

	mu   sync.Mutex
	last string

	done      chan struct{}
	closeOnce sync.Once
}

// WatchInstructions starts watching the file at path. The file does not
// need to exist yet; content present when the watcher starts is treated as
// already seen, so only subsequent edits inject. Falls back to polling when
// the platform watcher is unavailable.
func WatchInstructions(path string, inject func(string) error) (*InstructionWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving instruction file path: %w", err)
	}

	w := &InstructionWatcher{
		path:   abs,
		inject: inject,
		done:   make(chan struct{}),
	}
	if data, err := os.ReadFile(abs); err == nil {
		w.last = strings.TrimSpace(string(data))
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("[orchestrator] file watcher unavailable, polling %s: %v", abs, err)
	} else if err := watcher.Add(filepath.Dir(abs)); err != nil {
		log.Printf("[orchestrator] cannot watch %s, polling instead: %v", filepath.Dir(abs), err)
		watcher.Close()
		watcher = nil
	}
	w.watcher = watcher

	go w.loop()
	return w, nil
}

func (w *InstructionWatcher) loop() {
	ticker := time.NewTicker(instructionPollInterval)
	defer ticker.Stop()

	var events <-chan fsnotify.Event
	var errs <-chan error
	if w.watcher != nil {
		events = w.watcher.Events
		errs = w.watcher.Errors
	}

	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Base(ev.Name) != filepath.Base(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			w.check()
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.Printf("[orchestrator] instruction watcher error: %v", err)
		case <-ticker.C:
			w.check()
		}
	}
}

// check reads the file and injects its content if it changed since the
// last read.
func (w *InstructionWatcher) check() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return
	}
	content := strings.TrimSpace(string(data))

	w.mu.Lock()
	changed := content != "" && content != w.last
	if changed {
		w.last = content
	}
	w.mu.Unlock()

	if !changed {
		return
	}
	if err := w.inject(content); err != nil {
		log.Printf("[orchestrator] instruction from %s not accepted: %v", w.path, err)
	}
}

// Close stops watching. Safe to call more than once.
func (w *InstructionWatcher) Close() {
	w.closeOnce.Do(func() {
		close(w.done)
		if w.watcher != nil {
			w.watcher.Close()
		}
	})
}
