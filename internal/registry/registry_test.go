package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobd/jobd/internal/job"
	"github.com/jobd/jobd/internal/manifest"
	"github.com/jobd/jobd/internal/manifest/jsonreader"
)

func newTestRegistry() *Registry {
	return New(map[string]manifest.Reader{".json": jsonreader.New()})
}

func writeManifest(t *testing.T, dir, name, label string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	content := `{"label":"` + label + `","command":"/bin/true"}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDuplicateLabel(t *testing.T) {
	r := newTestRegistry()
	m := &manifest.Manifest{Label: "a", Command: "/bin/true"}

	result, err := r.Load("a", m)
	require.NoError(t, err)
	assert.Equal(t, LoadOk, result)

	result, err = r.Load("a", m)
	assert.Error(t, err)
	assert.Equal(t, LoadDuplicateLabel, result)
}

func TestUnloadNotFound(t *testing.T) {
	r := newTestRegistry()
	result, err := r.Unload("missing")
	require.NoError(t, err)
	assert.Equal(t, UnloadNotFound, result)
}

func TestUnloadLoadedJobRemovesImmediately(t *testing.T) {
	r := newTestRegistry()
	m := &manifest.Manifest{Label: "a", Command: "/bin/true"}
	_, err := r.Load("a", m)
	require.NoError(t, err)

	result, err := r.Unload("a")
	require.NoError(t, err)
	assert.Equal(t, UnloadOk, result)

	_, ok := r.Lookup("a")
	assert.False(t, ok)
}

type fakeStopper struct{ stopped []string }

func (f *fakeStopper) Stop(j *job.Job) error {
	f.stopped = append(f.stopped, j.Label)
	return nil
}

func TestUnloadRunningJobDefersRemoval(t *testing.T) {
	r := newTestRegistry()
	stopper := &fakeStopper{}
	r.SetStopper(stopper)

	m := &manifest.Manifest{Label: "a", Command: "/bin/true"}
	_, err := r.Load("a", m)
	require.NoError(t, err)

	j, _ := r.Lookup("a")
	j.SetState(job.StateRunning)
	j.SetPid(123)

	result, err := r.Unload("a")
	require.NoError(t, err)
	assert.Equal(t, UnloadOk, result)
	assert.Equal(t, []string{"a"}, stopper.stopped)

	_, ok := r.Lookup("a")
	assert.True(t, ok, "job must remain registered until reaped")
	assert.Equal(t, job.StateKilled, j.State())

	r.FinalizeReap("a")
	_, ok = r.Lookup("a")
	assert.False(t, ok)
}

func TestScanLoadsNewAndUnloadsVanished(t *testing.T) {
	dir := t.TempDir()
	r := newTestRegistry()

	writeManifest(t, dir, "a.json", "a")
	require.NoError(t, r.Scan(dir))

	_, ok := r.Lookup("a")
	assert.True(t, ok)

	require.NoError(t, os.Remove(filepath.Join(dir, "a.json")))
	writeManifest(t, dir, "b.json", "b")
	require.NoError(t, r.Scan(dir))

	_, ok = r.Lookup("a")
	assert.False(t, ok, "job whose file vanished must be unloaded")
	_, ok = r.Lookup("b")
	assert.True(t, ok)
}

func TestScanSkipsUnparseableFileWithoutAborting(t *testing.T) {
	dir := t.TempDir()
	r := newTestRegistry()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0o644))
	writeManifest(t, dir, "good.json", "good")

	require.NoError(t, r.Scan(dir))

	_, ok := r.Lookup("good")
	assert.True(t, ok, "a parse failure in one file must not abort the rest of the scan")
}

func TestScanIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	r := newTestRegistry()
	writeManifest(t, dir, "a.json", "a")

	require.NoError(t, r.Scan(dir))
	require.NoError(t, r.Scan(dir))

	assert.Len(t, r.List(), 1)
}

// TestResolveOrderTopologicalOrdering covers S1: a job never appears before
// anything it depends on via After, however Load registered them.
func TestResolveOrderTopologicalOrdering(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Load("c", &manifest.Manifest{Label: "c", Command: "/bin/true", After: []string{"a", "b"}})
	require.NoError(t, err)
	_, err = r.Load("a", &manifest.Manifest{Label: "a", Command: "/bin/true"})
	require.NoError(t, err)
	_, err = r.Load("b", &manifest.Manifest{Label: "b", Command: "/bin/true", After: []string{"a"}})
	require.NoError(t, err)

	ordered, cyclic := r.ResolveOrder()
	require.Empty(t, cyclic)
	require.Len(t, ordered, 3)

	pos := map[string]int{}
	for i, j := range ordered {
		pos[j.Label] = i
	}
	assert.Less(t, pos["a"], pos["b"], "a must precede b, which declares After: [a]")
	assert.Less(t, pos["b"], pos["c"], "b must precede c, which declares After: [a, b]")
}

func TestResolveOrderMarksCycleAsError(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Load("a", &manifest.Manifest{Label: "a", Command: "/bin/true", After: []string{"b"}})
	require.NoError(t, err)
	_, err = r.Load("b", &manifest.Manifest{Label: "b", Command: "/bin/true", After: []string{"a"}})
	require.NoError(t, err)

	_, cyclic := r.ResolveOrder()
	require.Len(t, cyclic, 2)
	for _, j := range cyclic {
		assert.Equal(t, job.StateError, j.State())
	}
}
