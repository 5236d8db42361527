// Package job defines the in-memory job model: its manifest-derived
// configuration, its runtime state, and the persistent properties that
// survive a daemon restart.
package job

import (
	"fmt"
	"sync"
	"time"

	"github.com/jobd/jobd/internal/manifest"
)

//go:generate stringer -type=State -trimprefix=State

// State is the runtime state of a job (spec.md §3).
type State int

const (
	StateUnknown State = iota
	StateDefined
	StateLoaded
	StateWaiting
	StateStarting
	StateRunning
	StateStopping
	StateStopped
	StateKilled
	StateExited
	StateError
)

func (s State) String() string {
	switch s {
	case StateDefined:
		return "Defined"
	case StateLoaded:
		return "Loaded"
	case StateWaiting:
		return "Waiting"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateStopped:
		return "Stopped"
	case StateKilled:
		return "Killed"
	case StateExited:
		return "Exited"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}

//go:generate stringer -type=FaultState -trimprefix=Fault

// FaultState is a persistent health classification, independent of the
// instantaneous runtime State.
type FaultState int

const (
	FaultNone FaultState = iota
	FaultDegraded
	FaultOffline
)

func (f FaultState) String() string {
	switch f {
	case FaultDegraded:
		return "Degraded"
	case FaultOffline:
		return "Offline"
	default:
		return "None"
	}
}

// ParseFaultState is the inverse of String, used to restore a persisted
// fault classification from a store.Property document at boot.
func ParseFaultState(s string) FaultState {
	switch s {
	case "Degraded":
		return FaultDegraded
	case "Offline":
		return FaultOffline
	default:
		return FaultNone
	}
}

// Job is the process-wide record of a single loaded manifest. It carries the
// declared manifest fields, the transient runtime fields, and the persistent
// enable/fault properties. The registry exclusively owns every Job; every
// other component (event loop, supervisor, RPC server) holds only a
// non-owning reference keyed by Label (SPEC_FULL.md §3 Ownership).
type Job struct {
	mu sync.Mutex

	Label    string
	Manifest *manifest.Manifest

	state State
	pid   int

	lastExitStatus int
	termSignal     int

	nextScheduledStart time.Time
	restartAfter       time.Time

	enabled      bool
	faultState   FaultState
	faultMessage string

	// exclusive mirrors manifest.Manifest.Exclusive; a job marked exclusive
	// refuses to start while another exclusive job is Running (supplemented
	// feature, grounded on original_source/job.h's `exclusive` field, see
	// DESIGN.md).
	exclusive bool
}

// New creates a Job in StateDefined from a parsed manifest. It does not
// acquire any resources; that happens when the registry moves the job to
// StateLoaded.
func New(label string, m *manifest.Manifest) *Job {
	return &Job{
		Label:     label,
		Manifest:  m,
		state:     StateDefined,
		enabled:   m.Enable,
		exclusive: m.Exclusive,
	}
}

// State returns the job's current runtime state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// SetState transitions the job to st. Invariant 2 (pid != 0 iff state is one
// of Starting/Running/Stopping/Killed) is enforced by callers that pair
// SetState with SetPid/ClearPid; SetState alone never mutates pid.
func (j *Job) SetState(st State) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.state = st
}

// Pid returns the job's current pid, or 0 if none.
func (j *Job) Pid() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.pid
}

// SetPid records the pid of a freshly launched child.
func (j *Job) SetPid(pid int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.pid = pid
}

// ClearPid zeroes the pid after a reap.
func (j *Job) ClearPid() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.pid = 0
}

// RecordExit stores the exit disposition observed by the reaper.
func (j *Job) RecordExit(exitStatus, termSignal int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.lastExitStatus = exitStatus
	j.termSignal = termSignal
}

func (j *Job) LastExitStatus() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastExitStatus
}

func (j *Job) TermSignal() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.termSignal
}

// NextScheduledStart returns the monotonic instant a periodic or calendar
// job should next be launched. The zero Time means "not scheduled".
func (j *Job) NextScheduledStart() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.nextScheduledStart
}

func (j *Job) SetNextScheduledStart(t time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.nextScheduledStart = t
}

// RestartAfter returns the instant at which a KeepAlive restart may occur.
func (j *Job) RestartAfter() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.restartAfter
}

func (j *Job) SetRestartAfter(t time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.restartAfter = t
}

func (j *Job) Enabled() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.enabled
}

func (j *Job) SetEnabled(v bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.enabled = v
}

func (j *Job) Exclusive() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.exclusive
}

func (j *Job) FaultState() FaultState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.faultState
}

func (j *Job) FaultMessage() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.faultMessage
}

// SetFault sets the persistent fault classification and an optional message.
func (j *Job) SetFault(fs FaultState, msg string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.faultState = fs
	j.faultMessage = msg
}

// ClearFault resets the fault state to None, as performed by the `clear` RPC.
func (j *Job) ClearFault() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.faultState = FaultNone
	j.faultMessage = ""
}

// Runnable reports whether the job is eligible for scheduling: enabled and
// not faulted offline (invariant 3).
func (j *Job) Runnable() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.enabled && j.faultState != FaultOffline
}

// Snapshot is a point-in-time, lock-free copy of the fields exposed over the
// `list` RPC method.
type Snapshot struct {
	Label      string
	Pid        int
	State      State
	Enabled    bool
	FaultState FaultState
}

// Snapshot returns a consistent copy of the fields the RPC server exposes.
func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return Snapshot{
		Label:      j.Label,
		Pid:        j.pid,
		State:      j.state,
		Enabled:    j.enabled,
		FaultState: j.faultState,
	}
}

func (j *Job) String() string {
	return fmt.Sprintf("job(label=%s state=%s pid=%d)", j.Label, j.State(), j.Pid())
}
