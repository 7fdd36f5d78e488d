//go:build linux

package main

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Directories are watched rather than the files, so saves that replace a
// file through a rename keep being seen
const watchMask = unix.IN_MODIFY | unix.IN_CLOSE_WRITE | unix.IN_MOVED_TO | unix.IN_CREATE

// programWatcher reports writes to program files through inotify
type programWatcher struct {
	fd    int
	mu    sync.Mutex
	dirs  map[int]string
	files map[string]bool
	d     *debouncer
}

func newProgramWatcher(changed func(string)) (*programWatcher, error) {
	fd, err := unix.InotifyInit1(unix.IN_NONBLOCK | unix.IN_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("inotify_init failed: %w", err)
	}
	return &programWatcher{
		fd:    fd,
		dirs:  make(map[int]string),
		files: make(map[string]bool),
		d:     newDebouncer(settleDelay, changed),
	}, nil
}

func (w *programWatcher) add(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	wd, err := unix.InotifyAddWatch(w.fd, dir, watchMask)
	if err != nil {
		return fmt.Errorf("cannot watch %s: %w", dir, err)
	}
	w.mu.Lock()
	w.dirs[wd] = dir
	w.files[abs] = true
	w.mu.Unlock()
	return nil
}

// run delivers change events until ctx is done
func (w *programWatcher) run(ctx context.Context) error {
	buf := make([]byte, (unix.SizeofInotifyEvent+unix.NAME_MAX+1)*8)
	fds := []unix.PollFd{{Fd: int32(w.fd), Events: unix.POLLIN}}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := unix.Poll(fds, 200)
		if err == unix.EINTR || n == 0 {
			continue
		}
		if err != nil {
			return fmt.Errorf("poll: %w", err)
		}
		n, err = unix.Read(w.fd, buf)
		if err == unix.EAGAIN || err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("reading inotify events: %w", err)
		}
		for off := 0; off+unix.SizeofInotifyEvent <= n; {
			ev := (*unix.InotifyEvent)(unsafe.Pointer(&buf[off]))
			name := buf[off+unix.SizeofInotifyEvent : off+unix.SizeofInotifyEvent+int(ev.Len)]
			off += unix.SizeofInotifyEvent + int(ev.Len)
			if ev.Mask&watchMask == 0 || ev.Len == 0 {
				continue
			}
			w.mu.Lock()
			path := filepath.Join(w.dirs[int(ev.Wd)], string(bytes.TrimRight(name, "\x00")))
			watched := w.files[path]
			w.mu.Unlock()
			if watched {
				w.d.trigger(path)
			}
		}
	}
}

func (w *programWatcher) close() error {
	w.d.stop()
	return unix.Close(w.fd)
}
