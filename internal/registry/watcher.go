package registry

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher bridges fsnotify's channel-based notifications into the event
// loop's fd-readiness model via the classic self-pipe trick: a forwarding
// goroutine blocks on fsnotify's channel (it only forwards wakeups and
// touches no registry state) and writes a single byte to a pipe
// whenever the spool directory changes. The event loop registers the pipe's
// read end as an ordinary read source and runs Registry.Scan on its own
// goroutine when it fires, preserving the single-mutator invariant
// (spec.md §5) despite fsnotify's own internal goroutine.
type Watcher struct {
	fsw  *fsnotify.Watcher
	r, w *os.File
}

// NewWatcher starts watching dir for create/remove/rename events.
func NewWatcher(dir string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("registry: fsnotify: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("registry: watch %s: %w", dir, err)
	}

	r, w, err := os.Pipe()
	if err != nil {
		fsw.Close()
		return nil, fmt.Errorf("registry: pipe: %w", err)
	}

	watcher := &Watcher{fsw: fsw, r: r, w: w}
	go watcher.forward()
	return watcher, nil
}

func (w *Watcher) forward() {
	for {
		select {
		case _, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if _, err := w.w.Write([]byte{0}); err != nil {
				return
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Error("spool directory watch error", "err", err)
		}
	}
}

// ReadFD is the pipe read-end fd the event loop should register.
func (w *Watcher) ReadFD() int {
	// Fd() would switch the pipe to blocking mode and disable the read
	// deadline Drain relies on; SyscallConn exposes the fd without that.
	fd := -1
	if rc, err := w.r.SyscallConn(); err == nil {
		_ = rc.Control(func(u uintptr) { fd = int(u) })
	}
	return fd
}

// Drain discards any buffered wake bytes after a Scan, so a burst of
// filesystem events collapses into a single rescan rather than one per
// event. It never blocks: a short read deadline turns "no more bytes
// buffered yet" into a timeout instead of a wait.
func (w *Watcher) Drain() {
	buf := make([]byte, 64)
	for {
		_ = w.r.SetReadDeadline(time.Now().Add(time.Millisecond))
		n, err := w.r.Read(buf)
		if err != nil || n < len(buf) {
			_ = w.r.SetReadDeadline(time.Time{})
			return
		}
	}
}

// Close stops the watch and releases the pipe.
func (w *Watcher) Close() error {
	err := w.fsw.Close()
	_ = w.w.Close()
	_ = w.r.Close()
	return err
}
