package reader

import (
	"fmt"

	"github.com/fsnotify/fsnotify"
)

// Watcher is an optional helper (SPEC_FULL.md §4.11) that watches every
// file path the reader touched and signals Changed whenever any of them
// is modified, so a long-running caller can decide when to re-run Setup.
// It is never invoked by Setup itself; Setup stays a one-shot synchronous
// call per spec §2's control flow.
type Watcher struct {
	fsw     *fsnotify.Watcher
	Changed chan struct{}
	done    chan struct{}
}

// NewWatcher creates a Watcher over the given file paths.
func NewWatcher(paths []string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	for _, p := range paths {
		if err := fsw.Add(p); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("watching %s: %w", p, err)
		}
	}

	w := &Watcher{fsw: fsw, Changed: make(chan struct{}, 1), done: make(chan struct{})}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case _, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			select {
			case w.Changed <- struct{}{}:
			default:
			}
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		case <-w.done:
			return
		}
	}
}

// Close stops watching and releases the underlying fsnotify handle.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}
