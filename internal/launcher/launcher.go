// Package launcher implements the process launcher (spec.md §4.3): it
// re-execs the current jobd binary as a detached child, which then performs
// the credential/filesystem setup sequence and execve's into the job's
// target command. The re-exec/child-spec pattern mirrors the teacher's
// ReexecCommand design (internal/worker/jobworker.ReexecCommand) and
// tjper-teleport's internal/jobworker/reexec package.
package launcher

import (
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/jobd/jobd/internal/job"
)

// ErrPreconditionFailed is returned when Launch is called on a job that is
// not in StateLoaded/StateStopped/StateExited/StateWaiting.
var ErrPreconditionFailed = errors.New("launcher: precondition failed")

// SyscallError wraps a failed syscall together with the step that failed,
// so callers (and logs) can distinguish "fork failed" from "exec failed".
type SyscallError struct {
	Kind string
	Err  error
}

func (e *SyscallError) Error() string {
	return fmt.Sprintf("launcher: %s: %v", e.Kind, e.Err)
}

func (e *SyscallError) Unwrap() error { return e.Err }

// ChildExecName is the hidden cobra subcommand that cmd/jobd registers to
// receive control after the re-exec. See cmd/jobd/child.go.
const ChildExecName = "exec-child"

// Launcher launches jobs by re-executing the current binary.
type Launcher struct {
	exePath string
}

// New resolves the path to the running executable, which is re-exec'd for
// every launch.
func New() (*Launcher, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("launcher: %w", err)
	}
	return &Launcher{exePath: exe}, nil
}

var launchableStates = map[job.State]bool{
	job.StateLoaded:  true,
	job.StateStopped: true,
	job.StateExited:  true,
	job.StateWaiting: true,
}

// Launch forks (via re-exec) and begins executing j's command. On success it
// returns the child's pid; the caller (the supervisor) is responsible for
// transitioning the job to StateStarting/StateRunning and recording the pid.
// Launch never waits for the child to reach execve; that happens
// concurrently in the re-exec'd process and any failure there causes that
// process to exit(124), observed later by the reaper.
func (l *Launcher) Launch(j *job.Job) (int, error) {
	if !launchableStates[j.State()] {
		return 0, ErrPreconditionFailed
	}

	argv, err := j.Manifest.Argument()
	if err != nil {
		return 0, err
	}

	spec := ChildSpec{
		Argv:             argv,
		Env:              j.Manifest.Environment,
		WorkingDirectory: j.Manifest.WorkingDirectory,
		RootDirectory:    j.Manifest.RootDirectory,
		UserName:         j.Manifest.UserName,
		GroupName:        j.Manifest.GroupName,
		InitGroups:       j.Manifest.InitGroups,
		Umask:            j.Manifest.Umask,
		StdinPath:        j.Manifest.StdinPath,
		StdoutPath:       j.Manifest.StdoutPath,
		StderrPath:       j.Manifest.StderrPath,
	}

	encoded, err := encodeSpec(&spec)
	if err != nil {
		return 0, fmt.Errorf("launcher: encoding child spec: %w", err)
	}

	cmd := exec.Command(l.exePath, ChildExecName) //nolint:gosec
	cmd.Env = append(os.Environ(), childSpecEnv+"="+encoded)

	// The child is its own session leader from the moment it starts (step 1
	// of the setup sequence in RunChild calls setsid only if the child is
	// not a session leader already), so a parent crash before the child's
	// setup runs still leaves it detached from our controlling terminal.
	applySysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return 0, &SyscallError{Kind: "fork", Err: err}
	}

	// Deliberately do not call cmd.Wait(): the supervisor's reaper owns
	// waitpid for every child pid via the event loop's SIGCHLD source, so
	// that a single code path observes every exit (spec.md §4.4).
	return cmd.Process.Pid, nil
}
