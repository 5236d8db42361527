// Package supervisor implements the reaper and restart/KeepAlive policy
// (spec.md §4.4). It runs exclusively on the event loop's goroutine: every
// method here assumes single-threaded, cooperative invocation and performs
// no internal locking, per spec.md §5.
package supervisor

import (
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sys/unix"

	"github.com/jobd/jobd/internal/job"
)

// Launcher is the subset of internal/launcher.Launcher the supervisor needs.
type Launcher interface {
	Launch(j *job.Job) (int, error)
}

// StatusWriter persists a job's transient runtime status (spec.md §4.7's
// Status document: pid/last_exit_status/term_signal). Start and Reap call
// it on every change so the on-disk document stays current without every
// caller remembering to do so.
type StatusWriter interface {
	SaveStatus(j *job.Job) error
}

// Supervisor reaps exited children, records exit disposition, and decides
// each job's next state, maintaining the single soonest-wake timer the
// event loop arms (grounded on _examples/original_source/src/keepalive.c's
// watchdog list and update_wake_interval).
type Supervisor struct {
	launcher Launcher
	now      func() time.Time

	// pidIndex is the inverted index mapping a waitpid result back to the
	// Job that owns it (spec.md §3 Ownership).
	pidIndex map[int]*job.Job

	// restarts holds jobs with a pending KeepAlive-throttled restart, keyed
	// by label so re-scheduling the same job replaces any prior entry.
	restarts map[string]time.Time

	// scheduled holds jobs with a pending periodic (start_interval) or
	// calendar relaunch.
	scheduled map[string]*job.Job

	// methodPidIndex maps a pid launched via RunMethod back to its owning
	// label, so Reap can recognize and clean up a method invocation without
	// running it through the main restart/fault machinery (the supplemented
	// `runMethod` RPC launches a named sub-command independent of the job's
	// primary supervised process, grounded on job_get_method() in jobcfg.c).
	methodPidIndex map[int]string

	shuttingDown bool

	// kill delivers a signal to a live pid. It defaults to sendSignal (a real
	// unix.Kill); tests that use a fakeLauncher's made-up pids replace it so
	// Stop/Kill never signal an unrelated real process that happens to share
	// one of those small sequential pid values.
	kill func(pid int, sig unix.Signal) error

	// statusWriter persists Start/Reap transitions, if wired. nil in tests
	// that don't care about on-disk status.
	statusWriter StatusWriter
}

// SetStatusWriter wires w so every Start/Reap persists the job's transient
// status document (spec.md §4.7).
func (s *Supervisor) SetStatusWriter(w StatusWriter) {
	s.statusWriter = w
}

func (s *Supervisor) saveStatus(j *job.Job) {
	if s.statusWriter == nil {
		return
	}
	if err := s.statusWriter.SaveStatus(j); err != nil {
		slog.Error("failed to save status document", "label", j.Label, "err", err)
	}
}

// New constructs a Supervisor. clock is injectable for tests; pass nil to
// use time.Now.
func New(l Launcher, clock func() time.Time) *Supervisor {
	if clock == nil {
		clock = time.Now
	}
	return &Supervisor{
		launcher:       l,
		now:            clock,
		pidIndex:       map[int]*job.Job{},
		restarts:       map[string]time.Time{},
		scheduled:      map[string]*job.Job{},
		methodPidIndex: map[int]string{},
		kill:           sendSignal,
	}
}

// Start launches j and records it in the pid index. It also arms the
// periodic/calendar schedule for j's next relaunch, per spec.md §4.4:
// "start_interval > 0 schedules a relaunch ... every time the job is
// launched." A job marked exclusive refuses to launch while another
// exclusive job is already Running (job.h's `exclusive` flag, SPEC_FULL.md's
// launch precondition).
func (s *Supervisor) Start(j *job.Job) error {
	if j.Exclusive() {
		if other, ok := s.runningExclusiveJob(); ok && other.Label != j.Label {
			return fmt.Errorf("%w: %q is running", ErrExclusiveConflict, other.Label)
		}
	}

	pid, err := s.launcher.Launch(j)
	if err != nil {
		return err
	}

	j.SetState(job.StateRunning)
	j.SetPid(pid)
	s.pidIndex[pid] = j

	delete(s.restarts, j.Label)
	s.armNextSchedule(j)
	s.saveStatus(j)

	slog.Info("job started", "label", j.Label, "pid", pid)
	return nil
}

// runningExclusiveJob returns an exclusive job currently in the pid index
// with state Running, if any.
func (s *Supervisor) runningExclusiveJob() (*job.Job, bool) {
	for _, other := range s.pidIndex {
		if other.Exclusive() && other.State() == job.StateRunning {
			return other, true
		}
	}
	return nil, false
}

// armNextSchedule computes and records j's next periodic or calendar
// relaunch time, if either is configured.
func (s *Supervisor) armNextSchedule(j *job.Job) {
	switch {
	case j.Manifest.CalendarInterval != nil:
		next := NextCalendarOccurrence(j.Manifest.CalendarInterval, s.now())
		j.SetNextScheduledStart(next)
		s.scheduled[j.Label] = j
	case j.Manifest.StartInterval > 0:
		next := s.now().Add(time.Duration(j.Manifest.StartInterval) * time.Second)
		j.SetNextScheduledStart(next)
		s.scheduled[j.Label] = j
	default:
		delete(s.scheduled, j.Label)
	}
}

// ArmInitialSchedule computes a job's first calendar/periodic wake time
// without launching it; called once per job by the daemon's boot sequence
// after the initial spool scan.
func (s *Supervisor) ArmInitialSchedule(j *job.Job) {
	s.armNextSchedule(j)
}

// SetSignaler overrides how Stop/Kill deliver a signal. It exists for tests
// that drive a Supervisor with a Launcher handing out made-up pids
// (fakeLauncher), which must never reach the real unix.Kill.
func (s *Supervisor) SetSignaler(kill func(pid int, sig unix.Signal) error) {
	s.kill = kill
}

// Stop requests that j terminate: it transitions to StateStopping and sends
// SIGTERM. Reap() performs the subsequent state transition once the child
// actually exits.
func (s *Supervisor) Stop(j *job.Job) error {
	pid := j.Pid()
	if pid == 0 {
		return ErrNotRunning
	}
	j.SetState(job.StateStopping)
	return s.kill(pid, sigTerm)
}

// Kill escalates to SIGKILL, used by the shutdown sequence after its
// timeout elapses (spec.md §4.5 Cancellation).
func (s *Supervisor) Kill(j *job.Job) error {
	pid := j.Pid()
	if pid == 0 {
		return ErrNotRunning
	}
	j.SetState(job.StateKilled)
	return s.kill(pid, sigKill)
}

// BeginShutdown suppresses KeepAlive restart scheduling for the remainder of
// the process lifetime (spec.md §4.5: the shutdown sequence stops every
// Running job and the daemon exits; restarting them would be observable
// after the daemon has already begun tearing down).
func (s *Supervisor) BeginShutdown() {
	s.shuttingDown = true
}

// expectsForever reports whether policy expected j to run until explicitly
// stopped. Per the Open Question decision recorded in DESIGN.md, only
// KeepAlive jobs count; on-demand/periodic jobs returning to Loaded/Waiting
// on exit never fault.
func expectsForever(j *job.Job) bool {
	return j.Manifest.KeepAlive
}

// RunMethod launches one of j's named `methods` sub-commands independently
// of j's primary supervised process (a supplemented feature: present in
// spec.md's data model as "a named set of methods" but unused by any
// spec.md operation; grounded on job_get_method() in jobcfg.c). The
// returned pid is tracked only so Reap can recognize and discard its exit;
// it never affects j.State, j.Pid, or KeepAlive/fault accounting.
func (s *Supervisor) RunMethod(j *job.Job, method string) (int, error) {
	argv, ok := j.Manifest.Methods[method]
	if !ok {
		return 0, fmt.Errorf("supervisor: job %q has no method %q", j.Label, method)
	}

	methodManifest := *j.Manifest
	methodManifest.Argv = argv
	methodManifest.Command = ""
	methodJob := job.New(j.Label+":"+method, &methodManifest)

	pid, err := s.launcher.Launch(methodJob)
	if err != nil {
		return 0, err
	}
	s.methodPidIndex[pid] = j.Label
	slog.Info("method started", "label", j.Label, "method", method, "pid", pid)
	return pid, nil
}

// Reap processes one child-exit notification. exitStatus is the process's
// exit code when it exited normally; termSignal is the signal number when
// it was killed by a signal (signaled=true). This is the sole place a Job's
// pid is cleared and its next state decided (spec.md §4.4). It returns the
// label of the job it reaped, so the daemon can finalize a pending Unload;
// ok is false for an unknown pid or a RunMethod invocation, neither of
// which owns a registry entry worth finalizing.
func (s *Supervisor) Reap(pid int, exitStatus int, termSignal int, signaled bool) (label string, ok bool) {
	if label, ok := s.methodPidIndex[pid]; ok {
		delete(s.methodPidIndex, pid)
		slog.Info("method reaped", "label", label, "pid", pid, "exit_status", exitStatus, "signaled", signaled)
		return "", false
	}

	j, ok := s.pidIndex[pid]
	if !ok {
		slog.Warn("reaped unknown pid", "pid", pid)
		return "", false
	}
	delete(s.pidIndex, pid)

	prev := j.State()
	j.ClearPid()
	if signaled {
		j.RecordExit(-1, termSignal)
	} else {
		j.RecordExit(exitStatus, 0)
	}

	explicitShutdown := prev == job.StateStopping || prev == job.StateKilled

	restartScheduled := false
	if j.Manifest.KeepAlive && j.Enabled() && !s.shuttingDown {
		s.scheduleRestart(j)
		restartScheduled = true
	}

	switch {
	case explicitShutdown:
		j.SetState(job.StateStopped)
		if !restartScheduled && expectsForever(j) {
			j.SetFault(job.FaultOffline, "job stopped unexpectedly")
		}
	case prev == job.StateRunning && j.Manifest.StartInterval > 0:
		j.SetState(job.StateWaiting)
	default:
		j.SetState(job.StateExited)
		if !restartScheduled && expectsForever(j) {
			j.SetFault(job.FaultOffline, "job exited unexpectedly")
		}
	}

	s.saveStatus(j)
	slog.Info("job reaped", "label", j.Label, "state", j.State(), "exit_status", exitStatus, "signaled", signaled)
	return j.Label, true
}

// scheduleRestart arms a KeepAlive-throttled restart at now + throttle
// interval, grounded on keepalive.c's watchdog_new/update_wake_interval.
func (s *Supervisor) scheduleRestart(j *job.Job) {
	throttle := time.Duration(j.Manifest.ThrottleInterval) * time.Second
	at := s.now().Add(throttle)
	j.SetRestartAfter(at)
	s.restarts[j.Label] = at
}

// NextWake returns the soonest absolute instant the supervisor needs to be
// woken (for a KeepAlive restart or a periodic/calendar relaunch), and
// whether any wake is currently armed.
func (s *Supervisor) NextWake() (time.Time, bool) {
	var (
		next time.Time
		ok   bool
	)

	for _, at := range s.restarts {
		if !ok || at.Before(next) {
			next, ok = at, true
		}
	}
	for _, j := range s.scheduled {
		at := j.NextScheduledStart()
		if at.IsZero() {
			continue
		}
		if !ok || at.Before(next) {
			next, ok = at, true
		}
	}

	return next, ok
}

// Tick relaunches every periodic/calendar job whose schedule has come due
// as of now. KeepAlive restarts are handled separately via DueRestarts,
// since the supervisor does not keep a label->Job lookup of its own
// (spec.md §3: the registry exclusively owns every Job) and must not guess
// at one for jobs outside the periodic/calendar schedule.
func (s *Supervisor) Tick(now time.Time) {
	for label, j := range s.scheduled {
		at := j.NextScheduledStart()
		if at.IsZero() || at.After(now) {
			continue
		}
		delete(s.scheduled, label)
		if j.State() == job.StateWaiting || j.State() == job.StateExited || j.State() == job.StateLoaded {
			if err := s.Start(j); err != nil {
				slog.Error("periodic relaunch failed", "label", j.Label, "err", err)
			}
		}
	}
}

// DueRestarts returns the labels whose KeepAlive restart is due as of now,
// removing them from the pending set. The caller (daemon) resolves each
// label to a *job.Job via the registry and calls Start.
func (s *Supervisor) DueRestarts(now time.Time) []string {
	var due []string
	for label, at := range s.restarts {
		if at.After(now) {
			continue
		}
		due = append(due, label)
		delete(s.restarts, label)
	}
	return due
}
