package job

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobd/jobd/internal/manifest"
)

func newTestJob(t *testing.T, label string) *Job {
	t.Helper()
	m := &manifest.Manifest{Label: label, Command: "/bin/true", Enable: true}
	require.NoError(t, m.Validate())
	return New(label, m)
}

func TestJobLifecycleInvariant(t *testing.T) {
	j := newTestJob(t, "a")
	assert.Equal(t, StateDefined, j.State())
	assert.Equal(t, 0, j.Pid())

	j.SetState(StateLoaded)
	assert.True(t, j.Runnable())

	j.SetState(StateStarting)
	j.SetPid(1234)
	assert.Equal(t, 1234, j.Pid())
	assert.Equal(t, StateStarting, j.State())

	j.SetState(StateRunning)
	j.ClearPid()
	j.RecordExit(0, 0)
	assert.Equal(t, 0, j.Pid())
}

func TestJobFaultClearsOnDemand(t *testing.T) {
	j := newTestJob(t, "b")
	j.SetFault(FaultOffline, "died unexpectedly")
	assert.False(t, j.Runnable())
	assert.Equal(t, FaultOffline, j.FaultState())

	j.ClearFault()
	assert.Equal(t, FaultNone, j.FaultState())
	assert.True(t, j.Runnable())
}

func TestJobEnabledIdempotence(t *testing.T) {
	j := newTestJob(t, "c")
	j.SetEnabled(true)
	assert.True(t, j.Enabled())
	j.SetEnabled(true)
	assert.True(t, j.Enabled())
}

func TestJobSnapshot(t *testing.T) {
	j := newTestJob(t, "d")
	j.SetState(StateRunning)
	j.SetPid(42)

	snap := j.Snapshot()
	assert.Equal(t, "d", snap.Label)
	assert.Equal(t, 42, snap.Pid)
	assert.Equal(t, StateRunning, snap.State)
	assert.True(t, snap.Enabled)
	assert.Equal(t, FaultNone, snap.FaultState)
}
