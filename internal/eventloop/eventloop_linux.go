//go:build linux

package eventloop

import (
	"errors"
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

var errInterrupted = errors.New("eventloop: interrupted")

func newPoller() poller {
	return &epollPoller{signalfd: -1}
}

// epollPoller implements poller on Linux via epoll(7) + signalfd(2), the
// same pairing as event_loop.c's eventfds struct and create_event_queue.
type epollPoller struct {
	epfd     int
	signalfd int
	sigmask  unix.Sigset_t
}

func (p *epollPoller) open() error {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return fmt.Errorf("epoll_create1: %w", err)
	}
	p.epfd = fd
	return nil
}

func (p *epollPoller) addRead(fd int) error {
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll_ctl: %w", err)
	}
	return nil
}

// addSig sets signum's bit in mask, mirroring sigaddset(3).
func addSig(mask *unix.Sigset_t, signum unix.Signal) {
	n := uint(signum) - 1
	mask.Val[n/64] |= 1 << (n % 64)
}

func (p *epollPoller) addSignals(sigs []unix.Signal) error {
	var mask unix.Sigset_t
	for _, s := range sigs {
		addSig(&mask, s)
	}
	p.sigmask = mask

	// Block these signals from asynchronous delivery; they are read
	// instead through the signalfd below, so every signal is handled on
	// the single event loop goroutine (_examples/original_source's
	// register_signal_handlers).
	if err := unix.PthreadSigmask(unix.SIG_BLOCK, &mask, nil); err != nil {
		return fmt.Errorf("pthread_sigmask: %w", err)
	}

	fd, err := unix.Signalfd(p.signalfd, &mask, unix.SFD_CLOEXEC)
	if err != nil {
		return fmt.Errorf("signalfd: %w", err)
	}
	firstTime := p.signalfd < 0
	p.signalfd = fd

	if firstTime {
		ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
		if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
			return fmt.Errorf("epoll_ctl(signalfd): %w", err)
		}
	}
	return nil
}

func (p *epollPoller) wait(timeout time.Duration) ([]readyEvent, error) {
	ms := -1
	if timeout >= 0 {
		ms = int(timeout / time.Millisecond)
	}

	var raw [8]unix.EpollEvent
	n, err := unix.EpollWait(p.epfd, raw[:], ms)
	if err != nil {
		if err == unix.EINTR {
			return nil, errInterrupted
		}
		return nil, err
	}

	events := make([]readyEvent, 0, n)
	for i := 0; i < n; i++ {
		fd := int(raw[i].Fd)
		if fd == p.signalfd {
			sig, err := p.readSignal()
			if err != nil {
				continue
			}
			events = append(events, readyEvent{isSignal: true, signal: sig})
			continue
		}
		events = append(events, readyEvent{fd: fd})
	}
	return events, nil
}

func (p *epollPoller) readSignal() (unix.Signal, error) {
	var info unix.SignalfdSiginfo
	buf := unsafe.Slice((*byte)(unsafe.Pointer(&info)), int(unsafe.Sizeof(info)))
	n, err := unix.Read(p.signalfd, buf)
	if err != nil || n != len(buf) {
		return 0, fmt.Errorf("eventloop: short signalfd read")
	}
	return unix.Signal(info.Signo), nil
}

func (p *epollPoller) close() error {
	if p.signalfd >= 0 {
		_ = unix.Close(p.signalfd)
	}
	return unix.Close(p.epfd)
}
