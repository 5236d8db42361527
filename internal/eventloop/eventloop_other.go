//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd

package eventloop

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

var errInterrupted = errors.New("eventloop: interrupted")

// newPoller has no implementation on non-POSIX platforms; jobd is a POSIX
// service manager (spec.md §1 scope).
func newPoller() poller {
	return &unsupportedPoller{}
}

type unsupportedPoller struct{}

func (unsupportedPoller) open() error                              { return errors.New("eventloop: unsupported platform") }
func (unsupportedPoller) addRead(fd int) error                     { return errors.New("eventloop: unsupported platform") }
func (unsupportedPoller) addSignals(sigs []unix.Signal) error      { return errors.New("eventloop: unsupported platform") }
func (unsupportedPoller) wait(time.Duration) ([]readyEvent, error) { return nil, errors.New("eventloop: unsupported platform") }
func (unsupportedPoller) close() error                             { return nil }
