//go:build !linux

package main

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const pollInterval = 500 * time.Millisecond

// programWatcher polls modification times where inotify is unavailable
type programWatcher struct {
	mu    sync.Mutex
	mtime map[string]time.Time
	d     *debouncer
}

func newProgramWatcher(changed func(string)) (*programWatcher, error) {
	return &programWatcher{mtime: make(map[string]time.Time), d: newDebouncer(settleDelay, changed)}, nil
}

func (w *programWatcher) add(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.mtime[abs] = info.ModTime()
	w.mu.Unlock()
	return nil
}

func (w *programWatcher) run(ctx context.Context) error {
	t := time.NewTicker(pollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		w.mu.Lock()
		for path, last := range w.mtime {
			info, err := os.Stat(path)
			if err != nil || !info.ModTime().After(last) {
				continue
			}
			w.mtime[path] = info.ModTime()
			w.d.trigger(path)
		}
		w.mu.Unlock()
	}
}

func (w *programWatcher) close() error {
	w.d.stop()
	return nil
}
