package supervisor

import (
	"errors"

	"golang.org/x/sys/unix"
)

// ErrNotRunning is returned by Stop/Kill when the job has no active pid.
var ErrNotRunning = errors.New("supervisor: job is not running")

// ErrExclusiveConflict is returned by Start when j is marked exclusive and
// another exclusive job is already Running (job.h's `exclusive` flag).
var ErrExclusiveConflict = errors.New("supervisor: another exclusive job is running")

const (
	sigTerm = unix.SIGTERM
	sigKill = unix.SIGKILL
)

// sendSignal delivers sig to pid, grounded on the teacher's direct
// golang.org/x/sys/unix syscalls rather than os.FindProcess+Signal, since
// the latter requires a live *os.Process the supervisor doesn't keep
// around (it tracks pids, not os.Process handles).
func sendSignal(pid int, sig unix.Signal) error {
	return unix.Kill(pid, sig)
}
