package daemon

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/jobd/jobd/internal/eventloop"
	"github.com/jobd/jobd/internal/job"
	"github.com/jobd/jobd/internal/manifest"
	"github.com/jobd/jobd/internal/registry"
	"github.com/jobd/jobd/internal/store"
	"github.com/jobd/jobd/internal/supervisor"
)

type fakeLauncher struct{ nextPid int }

func (f *fakeLauncher) Launch(j *job.Job) (int, error) {
	f.nextPid++
	return f.nextPid, nil
}

func newTestDaemon(t *testing.T) *Daemon {
	t.Helper()
	reg := registry.New(nil)
	sv := supervisor.New(&fakeLauncher{}, nil)
	// fakeLauncher hands out small sequential pids; never let Stop/Kill carry
	// those through to a real unix.Kill.
	sv.SetSignaler(func(pid int, sig unix.Signal) error { return nil })
	reg.SetStopper(sv)
	st := store.New(t.TempDir(), t.TempDir())

	loop, err := eventloop.New()
	require.NoError(t, err)
	t.Cleanup(func() { loop.Close() })

	return &Daemon{reg: reg, sv: sv, st: st, loop: loop, cfg: &Config{ShutdownTimeout: time.Second}}
}

func loadRunningJob(t *testing.T, d *Daemon, label string) *job.Job {
	t.Helper()
	_, err := d.reg.Load(label, &manifest.Manifest{Label: label, Command: "/bin/sleep"})
	require.NoError(t, err)
	j, _ := d.reg.Lookup(label)
	j.SetEnabled(true)
	require.NoError(t, d.sv.Start(j))
	return j
}

// TestApplyBootPropertiesStartsEnabledRunnableJob mirrors the `enable` RPC
// method's own side effect (DESIGN.md's boot-time Open Question
// decision): a job whose manifest sets enable=true and that nothing has
// persisted before comes out of boot Running.
func TestApplyBootPropertiesStartsEnabledRunnableJob(t *testing.T) {
	d := newTestDaemon(t)
	_, err := d.reg.Load("a", &manifest.Manifest{Label: "a", Command: "/bin/true", Enable: true})
	require.NoError(t, err)

	j, _ := d.reg.Lookup("a")
	d.applyBootProperties([]*job.Job{j})

	assert.True(t, j.Enabled())
	assert.Equal(t, job.StateRunning, j.State())
	assert.NotZero(t, j.Pid())
}

// TestApplyBootPropertiesLeavesDisabledJobLoaded covers the common case: a
// manifest with no enable default stays Loaded, exactly as a freshly loaded
// job does over the control socket.
func TestApplyBootPropertiesLeavesDisabledJobLoaded(t *testing.T) {
	d := newTestDaemon(t)
	_, err := d.reg.Load("a", &manifest.Manifest{Label: "a", Command: "/bin/true"})
	require.NoError(t, err)

	j, _ := d.reg.Lookup("a")
	d.applyBootProperties([]*job.Job{j})

	assert.False(t, j.Enabled())
	assert.Equal(t, job.StateLoaded, j.State())
	assert.Zero(t, j.Pid())
}

// TestApplyBootPropertiesRestoresPersistedState covers spec.md §7: faults
// and the enabled property survive a daemon restart because they are
// reloaded from the durable property document rather than the manifest
// default.
func TestApplyBootPropertiesRestoresPersistedState(t *testing.T) {
	d := newTestDaemon(t)
	_, err := d.reg.Load("a", &manifest.Manifest{Label: "a", Command: "/bin/true"})
	require.NoError(t, err)
	j, _ := d.reg.Lookup("a")

	j.SetEnabled(true)
	j.SetFault(job.FaultOffline, "crashed before restart")
	require.NoError(t, d.st.SaveProperty(j))

	// Simulate a fresh daemon process: a brand-new Job for the same label,
	// never touched since Load.
	reg2 := registry.New(nil)
	_, err = reg2.Load("a", &manifest.Manifest{Label: "a", Command: "/bin/true"})
	require.NoError(t, err)
	fresh, _ := reg2.Lookup("a")

	d.applyBootProperties([]*job.Job{fresh})

	assert.True(t, fresh.Enabled())
	assert.Equal(t, job.FaultOffline, fresh.FaultState())
	assert.Equal(t, "crashed before restart", fresh.FaultMessage())
	// Runnable() is false while Offline, so no start is attempted despite
	// enabled=true.
	assert.Equal(t, job.StateLoaded, fresh.State())
	assert.Zero(t, fresh.Pid())
}

// TestApplyBootPropertiesRestoresPersistedStatus covers spec.md §4.7's
// transient Status document surviving a daemon restart that didn't also
// reboot the host (the runtime directory outlives the process): a job's
// last exit disposition is visible via `list` again even before the job is
// next started or reaped.
func TestApplyBootPropertiesRestoresPersistedStatus(t *testing.T) {
	d := newTestDaemon(t)
	_, err := d.reg.Load("a", &manifest.Manifest{Label: "a", Command: "/bin/true"})
	require.NoError(t, err)
	j, _ := d.reg.Lookup("a")
	j.RecordExit(17, 0)
	require.NoError(t, d.st.SaveStatus(j))

	reg2 := registry.New(nil)
	_, err = reg2.Load("a", &manifest.Manifest{Label: "a", Command: "/bin/true"})
	require.NoError(t, err)
	fresh, _ := reg2.Lookup("a")

	d.applyBootProperties([]*job.Job{fresh})

	assert.Equal(t, 17, fresh.LastExitStatus())
	assert.Zero(t, fresh.Pid(), "a stale pid must never be restored as if the job were still running")
}

func TestNextWakeFoldsInShutdownDeadline(t *testing.T) {
	d := newTestDaemon(t)

	_, ok := d.NextWake()
	assert.False(t, ok, "no wake armed yet")

	d.shuttingDown = true
	d.shutdownDeadline = time.Now().Add(time.Second)
	at, ok := d.NextWake()
	require.True(t, ok)
	assert.WithinDuration(t, d.shutdownDeadline, at, time.Millisecond)
}

func TestAcquirePidfileRefusesSecondInstance(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobd.pid")

	f, err := acquirePidfile(path)
	require.NoError(t, err)
	defer releasePidfile(f, path)

	_, err = acquirePidfile(path)
	assert.Error(t, err)
}

// TestHandleShutdownSignalStopsRunningJobsAndArmsDeadline covers S5's first
// half: SIGTERM moves every Running job to Stopping and arms a deadline
// instead of exiting immediately, since the job has not been reaped yet.
func TestHandleShutdownSignalStopsRunningJobsAndArmsDeadline(t *testing.T) {
	d := newTestDaemon(t)
	j := loadRunningJob(t, d, "a")

	d.handleShutdownSignal(unix.SIGTERM)

	assert.True(t, d.shuttingDown)
	assert.Equal(t, job.StateStopping, j.State())
	assert.False(t, d.shutdownDeadline.IsZero())
	assert.Equal(t, 0, d.exitCode)
}

// TestHandleShutdownSignalSigintSetsNonzeroExitCode mirrors spec.md §6:
// SIGINT (interactive interruption) exits 1 where SIGTERM exits 0.
func TestHandleShutdownSignalSigintSetsNonzeroExitCode(t *testing.T) {
	d := newTestDaemon(t)
	loadRunningJob(t, d, "a")

	d.handleShutdownSignal(unix.SIGINT)

	assert.Equal(t, 1, d.exitCode)
}

// TestHandleShutdownSignalIsIdempotent covers a repeated SIGTERM (or SIGTERM
// followed by SIGINT) arriving before shutdown completes: it must not rearm
// the deadline or re-signal already-Stopping jobs.
func TestHandleShutdownSignalIsIdempotent(t *testing.T) {
	d := newTestDaemon(t)
	loadRunningJob(t, d, "a")

	d.handleShutdownSignal(unix.SIGTERM)
	first := d.shutdownDeadline

	d.handleShutdownSignal(unix.SIGINT)

	assert.Equal(t, first, d.shutdownDeadline)
	assert.Equal(t, 0, d.exitCode, "the second signal must be ignored once shutdown is underway")
}

// TestHandleShutdownSignalWithNoRunningJobsFinishesImmediately: a daemon with
// nothing Running has no reaper event to wait for, so shutdown completes
// synchronously inside the signal handler itself.
func TestHandleShutdownSignalWithNoRunningJobsFinishesImmediately(t *testing.T) {
	d := newTestDaemon(t)
	_, err := d.reg.Load("a", &manifest.Manifest{Label: "a", Command: "/bin/true"})
	require.NoError(t, err)

	d.handleShutdownSignal(unix.SIGTERM)

	assert.True(t, d.shuttingDown)
	assert.NoError(t, d.loop.Run(), "finishShutdown must have already called loop.Stop")
}

// TestHandleTimeoutEscalatesToKillAfterDeadline covers S5's second half:
// once the shutdown deadline elapses, handleTimeout must SIGKILL whatever is
// still Running or Stopping, but must NOT stop the event loop yet — the
// killed child has not been reaped, and exiting now would leave it a
// zombie (spec.md S5: "sends SIGKILL, waits for reap, then exits").
func TestHandleTimeoutEscalatesToKillAfterDeadline(t *testing.T) {
	d := newTestDaemon(t)
	j := loadRunningJob(t, d, "a")

	d.handleShutdownSignal(unix.SIGTERM)
	require.Equal(t, job.StateStopping, j.State())

	d.handleTimeout(d.shutdownDeadline.Add(time.Millisecond))

	assert.Equal(t, job.StateKilled, j.State())
	assert.False(t, d.finished, "must wait for the reap before stopping the loop")

	_, ok := d.sv.Reap(j.Pid(), 0, int(unix.SIGKILL), true)
	require.True(t, ok)
	d.maybeFinishShutdown()
	assert.True(t, d.finished, "loop must stop once the SIGKILLed child is reaped")
}

// TestHandleTimeoutDoesNotReKillOrBusyLoopAfterFirstEscalation covers the
// case where the event loop wakes again (e.g. an unrelated fd event) before
// the kill is reaped: a second handleTimeout at or after the deadline must
// not re-signal the job or touch d.finished a second time.
func TestHandleTimeoutDoesNotReKillOrBusyLoopAfterFirstEscalation(t *testing.T) {
	d := newTestDaemon(t)
	j := loadRunningJob(t, d, "a")

	d.handleShutdownSignal(unix.SIGTERM)
	d.handleTimeout(d.shutdownDeadline.Add(time.Millisecond))
	require.Equal(t, job.StateKilled, j.State())
	require.True(t, d.killSent)

	d.handleTimeout(d.shutdownDeadline.Add(time.Second))

	assert.Equal(t, job.StateKilled, j.State())
	assert.False(t, d.finished)

	_, ok := d.NextWake()
	assert.False(t, ok, "once killSent, NextWake must block on the reaper rather than spin")
}

// TestHandleTimeoutDoesNotEscalateBeforeDeadline guards against a premature
// SIGKILL: a timeout tick before the deadline must leave a Stopping job
// alone so it still has its full grace period to exit on SIGTERM.
func TestHandleTimeoutDoesNotEscalateBeforeDeadline(t *testing.T) {
	d := newTestDaemon(t)
	j := loadRunningJob(t, d, "a")

	d.handleShutdownSignal(unix.SIGTERM)
	require.Equal(t, job.StateStopping, j.State())

	d.handleTimeout(d.shutdownDeadline.Add(-time.Millisecond))

	assert.Equal(t, job.StateStopping, j.State(), "must not kill before the deadline elapses")
}
