// Package eventloop implements jobd's single-threaded dispatch loop
// (spec.md §5): one goroutine waits on readiness of a small set of file
// descriptors (the signal source, the RPC server's wake pipe and the spool
// directory watch's wake pipe) plus a soonest-wake timer driven by the
// supervisor's restart/schedule queue, and invokes the handler of every
// source that one wait reports ready. The RPC listener and its connections
// are not registered with the loop: the RPC server accepts and reads them on
// its own goroutines and hands each request to the loop through its wake
// pipe. No other goroutine mutates daemon state. Grounded on
// _examples/original_source/event_loop.c's create_event_queue /
// register_signal_handlers / dispatch_event, translated from its epoll/
// kqueue #ifdef split into the poller interface implemented per-platform in
// eventloop_linux.go and eventloop_bsd.go.
package eventloop

import (
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sys/unix"
)

// Handler is invoked when its registered source becomes ready.
type Handler func()

// SignalHandler is invoked when its registered signal is caught.
type SignalHandler func(sig unix.Signal)

// readyEvent describes one readiness notification from the platform poller.
type readyEvent struct {
	fd       int
	signal   unix.Signal
	isSignal bool
}

// poller is the platform-specific half (epoll on Linux, kqueue on
// BSD/Darwin), mirroring event_loop.c's #ifdef __linux__ split.
type poller interface {
	open() error
	addRead(fd int) error
	addSignals(sigs []unix.Signal) error
	wait(timeout time.Duration) ([]readyEvent, error)
	close() error
}

// WakeSource supplies the soonest absolute instant the loop should wake for
// even if nothing becomes ready before then (internal/supervisor.Supervisor
// satisfies this via NextWake).
type WakeSource interface {
	NextWake() (time.Time, bool)
}

// Loop is jobd's single dispatch loop.
type Loop struct {
	p poller

	readHandlers   map[int]Handler
	signalHandlers map[unix.Signal]SignalHandler

	wake WakeSource
	// onTimeout fires whenever wait() returns because the wake deadline
	// elapsed rather than because a fd or signal became ready.
	onTimeout func(now time.Time)

	stop chan struct{}
}

// New constructs a Loop using the platform poller.
func New() (*Loop, error) {
	p := newPoller()
	if err := p.open(); err != nil {
		return nil, fmt.Errorf("eventloop: %w", err)
	}
	return &Loop{
		p:              p,
		readHandlers:   map[int]Handler{},
		signalHandlers: map[unix.Signal]SignalHandler{},
		stop:           make(chan struct{}),
	}, nil
}

// RegisterRead arms fd for readability and dispatches handler when it fires.
// Used for the read ends of the RPC server's and the spool watcher's wake
// pipes.
func (l *Loop) RegisterRead(fd int, h Handler) error {
	if err := l.p.addRead(fd); err != nil {
		return fmt.Errorf("eventloop: register fd %d: %w", fd, err)
	}
	l.readHandlers[fd] = h
	return nil
}

// RegisterSignal arms sig for delivery through the event loop (rather than
// Go's default asynchronous signal.Notify channel), so signal handling
// happens on the same single goroutine as every other state mutation.
func (l *Loop) RegisterSignal(sig unix.Signal, h SignalHandler) error {
	l.signalHandlers[sig] = h
	return l.p.addSignals(signalKeys(l.signalHandlers))
}

func signalKeys(m map[unix.Signal]SignalHandler) []unix.Signal {
	sigs := make([]unix.Signal, 0, len(m))
	for s := range m {
		sigs = append(sigs, s)
	}
	return sigs
}

// SetWakeSource installs the supervisor's restart/schedule queue as the
// loop's timeout source.
func (l *Loop) SetWakeSource(w WakeSource, onTimeout func(now time.Time)) {
	l.wake = w
	l.onTimeout = onTimeout
}

// Stop causes Run to return after its current wait completes.
func (l *Loop) Stop() {
	close(l.stop)
}

// Close releases the underlying poller fd.
func (l *Loop) Close() error {
	return l.p.close()
}

// Run dispatches events until Stop is called. It is the Go analogue of
// event_loop.c's dispatch_event: each wait may report several ready
// sources, and every one of them is dispatched before the next wait.
func (l *Loop) Run() error {
	for {
		select {
		case <-l.stop:
			return nil
		default:
		}

		timeout := l.currentTimeout()

		events, err := l.p.wait(timeout)
		if err != nil {
			if err == errInterrupted {
				continue
			}
			return fmt.Errorf("eventloop: wait: %w", err)
		}

		if len(events) == 0 {
			if l.onTimeout != nil {
				l.onTimeout(time.Now())
			}
			continue
		}

		for _, ev := range events {
			l.dispatch(ev)
		}
	}
}

func (l *Loop) dispatch(ev readyEvent) {
	if ev.isSignal {
		h, ok := l.signalHandlers[ev.signal]
		if !ok {
			slog.Warn("caught unhandled signal", "signal", ev.signal)
			return
		}
		slog.Debug("caught signal", "signal", ev.signal)
		h(ev.signal)
		return
	}

	h, ok := l.readHandlers[ev.fd]
	if !ok {
		slog.Warn("ready fd has no registered handler", "fd", ev.fd)
		return
	}
	h()
}

// currentTimeout returns how long wait() should block: forever if nothing
// is scheduled, or the time remaining until the wake source's soonest
// deadline (zero or negative meaning "due now").
func (l *Loop) currentTimeout() time.Duration {
	if l.wake == nil {
		return -1
	}
	at, ok := l.wake.NextWake()
	if !ok {
		return -1
	}
	d := time.Until(at)
	if d < 0 {
		return 0
	}
	return d
}
