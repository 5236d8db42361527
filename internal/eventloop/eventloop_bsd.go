//go:build darwin || freebsd || netbsd || openbsd

package eventloop

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

var errInterrupted = errors.New("eventloop: interrupted")

func newPoller() poller {
	return &kqueuePoller{kqfd: -1}
}

// kqueuePoller implements poller on BSD/Darwin via kqueue(2), mirroring
// _examples/original_source/event_loop.c's non-Linux branch: EVFILT_SIGNAL
// for signals, EVFILT_READ for everything else, both registered on the same
// queue.
type kqueuePoller struct {
	kqfd int
}

func (p *kqueuePoller) open() error {
	fd, err := unix.Kqueue()
	if err != nil {
		return fmt.Errorf("kqueue: %w", err)
	}
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFD, unix.FD_CLOEXEC); err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("fcntl(FD_CLOEXEC): %w", err)
	}
	p.kqfd = fd
	return nil
}

func (p *kqueuePoller) addRead(fd int) error {
	kev := unix.Kevent_t{
		Ident:  uint64(fd),
		Filter: unix.EVFILT_READ,
		Flags:  unix.EV_ADD,
	}
	if _, err := unix.Kevent(p.kqfd, []unix.Kevent_t{kev}, nil, nil); err != nil {
		return fmt.Errorf("kevent(EVFILT_READ): %w", err)
	}
	return nil
}

func (p *kqueuePoller) addSignals(sigs []unix.Signal) error {
	changes := make([]unix.Kevent_t, 0, len(sigs))
	for _, sig := range sigs {
		s := syscall.Signal(sig)
		if s == syscall.SIGCHLD {
			// SIGCHLD must keep its default disposition or the kernel
			// never reaps zombie children (event_loop.c's
			// register_signal_handlers special-cases it the same way).
			signal.Reset(s)
		} else {
			signal.Ignore(s)
		}
		changes = append(changes, unix.Kevent_t{
			Ident:  uint64(sig),
			Filter: unix.EVFILT_SIGNAL,
			Flags:  unix.EV_ADD,
		})
	}
	if _, err := unix.Kevent(p.kqfd, changes, nil, nil); err != nil {
		return fmt.Errorf("kevent(EVFILT_SIGNAL): %w", err)
	}
	return nil
}

func (p *kqueuePoller) wait(timeout time.Duration) ([]readyEvent, error) {
	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(timeout.Nanoseconds())
		ts = &t
	}

	var raw [8]unix.Kevent_t
	n, err := unix.Kevent(p.kqfd, nil, raw[:], ts)
	if err != nil {
		if err == unix.EINTR {
			return nil, errInterrupted
		}
		return nil, err
	}

	events := make([]readyEvent, 0, n)
	for i := 0; i < n; i++ {
		kev := raw[i]
		if kev.Filter == unix.EVFILT_SIGNAL {
			events = append(events, readyEvent{isSignal: true, signal: unix.Signal(kev.Ident)})
			continue
		}
		events = append(events, readyEvent{fd: int(kev.Ident)})
	}
	return events, nil
}

func (p *kqueuePoller) close() error {
	return unix.Close(p.kqfd)
}
