package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobd/jobd/internal/job"
	"github.com/jobd/jobd/internal/manifest"
)

func TestSaveAndLoadProperty(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "data"), filepath.Join(dir, "run"))

	m := &manifest.Manifest{Label: "a", Command: "/bin/true"}
	j := job.New("a", m)
	j.SetEnabled(true)
	j.SetFault(job.FaultDegraded, "flapping")

	require.NoError(t, s.SaveProperty(j))

	p, err := s.LoadProperty("a")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.True(t, p.Enabled)
	assert.Equal(t, "Degraded", p.FaultState)
	assert.Equal(t, "flapping", p.FaultMessage)
}

func TestLoadPropertyMissingReturnsNilNoError(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "data"), filepath.Join(dir, "run"))

	p, err := s.LoadProperty("nonexistent")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestSaveAndLoadStatus(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "data"), filepath.Join(dir, "run"))

	m := &manifest.Manifest{Label: "a", Command: "/bin/true"}
	j := job.New("a", m)
	j.SetPid(4242)
	j.RecordExit(1, 0)

	require.NoError(t, s.SaveStatus(j))

	st, err := s.LoadStatus("a")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, 4242, st.Pid)
	assert.Equal(t, 1, st.LastExitStatus)
}

func TestSaveOverwritesPreviousWrite(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "data"), filepath.Join(dir, "run"))

	m := &manifest.Manifest{Label: "a", Command: "/bin/true"}
	j := job.New("a", m)
	j.SetEnabled(true)
	require.NoError(t, s.SaveProperty(j))

	j.SetEnabled(false)
	require.NoError(t, s.SaveProperty(j))

	p, err := s.LoadProperty("a")
	require.NoError(t, err)
	assert.False(t, p.Enabled)
}

func TestRemoveStatusMissingIsNotError(t *testing.T) {
	dir := t.TempDir()
	s := New(filepath.Join(dir, "data"), filepath.Join(dir, "run"))
	assert.NoError(t, s.RemoveStatus("never-existed"))
}
