// Package registry implements the job registry (spec.md §4.1): the sole
// owner of every job.Job. Every other component holds only a label-keyed
// non-owning reference. Grounded on
// _examples/original_source/manager.c's poll_watchdir/update_jobs, adapted
// from a LIST_HEAD of job_manifest_t into a map keyed by label, and from a
// two-pass load-then-run pump into the idempotent scan-diff contract
// spec.md §4.1 requires.
package registry

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jobd/jobd/internal/job"
	"github.com/jobd/jobd/internal/manifest"
	"github.com/jobd/jobd/internal/resolver"
)

// LoadResult is the outcome of Load, matching spec.md §4.1's contract.
type LoadResult int

const (
	LoadOk LoadResult = iota
	LoadDuplicateLabel
	LoadInvalidManifest
)

// UnloadResult is the outcome of Unload.
type UnloadResult int

const (
	UnloadOk UnloadResult = iota
	UnloadNotFound
)

// Stopper is the subset of internal/supervisor.Supervisor the registry
// needs to send SIGTERM to a Running job being unloaded.
type Stopper interface {
	Stop(j *job.Job) error
}

// Registry owns every Job by label.
type Registry struct {
	jobs    map[string]*job.Job
	readers map[string]manifest.Reader // keyed by file extension, e.g. ".json"

	// knownFiles maps the spool path last seen holding a given label, so a
	// later Scan can detect "this file disappeared" even though Scan never
	// keeps the OS directory listing around between calls.
	knownFiles map[string]string

	// pendingRemoval holds labels whose manifest file vanished (or whose
	// unload was requested) while the job was still Running; the registry
	// finalizes the removal once the supervisor reaps it.
	pendingRemoval map[string]bool

	stopper Stopper
}

// New constructs an empty Registry. readers maps a manifest file extension
// (including the leading dot) to the Reader that parses it.
func New(readers map[string]manifest.Reader) *Registry {
	return &Registry{
		jobs:           map[string]*job.Job{},
		readers:        readers,
		knownFiles:     map[string]string{},
		pendingRemoval: map[string]bool{},
	}
}

// SetStopper wires the supervisor so Unload can signal a Running job.
func (r *Registry) SetStopper(s Stopper) {
	r.stopper = s
}

// Load installs a Defined→Loaded job from an already-parsed manifest.
func (r *Registry) Load(label string, m *manifest.Manifest) (LoadResult, error) {
	if err := m.Validate(); err != nil {
		return LoadInvalidManifest, err
	}
	if _, exists := r.jobs[label]; exists {
		return LoadDuplicateLabel, fmt.Errorf("registry: duplicate label %q", label)
	}

	j := job.New(label, m)
	j.SetState(job.StateLoaded)
	r.jobs[label] = j
	return LoadOk, nil
}

// Unload removes label. A Running job is sent SIGTERM and marked Killed;
// the registry entry is only deleted once the supervisor reaps it (see
// FinalizeReap), per spec.md §4.1.
func (r *Registry) Unload(label string) (UnloadResult, error) {
	j, ok := r.jobs[label]
	if !ok {
		return UnloadNotFound, nil
	}

	if j.State() == job.StateRunning || j.State() == job.StateStopping {
		r.pendingRemoval[label] = true
		j.SetState(job.StateKilled)
		if r.stopper != nil {
			if err := r.stopper.Stop(j); err != nil {
				return UnloadOk, err
			}
		}
		return UnloadOk, nil
	}

	delete(r.jobs, label)
	return UnloadOk, nil
}

// FinalizeReap is called by the daemon after the supervisor reaps a pid
// whose job had a pending removal, completing the deferred Unload.
func (r *Registry) FinalizeReap(label string) {
	if r.pendingRemoval[label] {
		delete(r.pendingRemoval, label)
		delete(r.jobs, label)
	}
}

// Lookup returns the job for label, if loaded.
func (r *Registry) Lookup(label string) (*job.Job, bool) {
	j, ok := r.jobs[label]
	return j, ok
}

// List returns every loaded job, in unspecified order.
func (r *Registry) List() []*job.Job {
	out := make([]*job.Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j)
	}
	return out
}

// readerFor picks the Reader registered for path's extension, or nil.
func (r *Registry) readerFor(path string) manifest.Reader {
	return r.readers[filepath.Ext(path)]
}

// ErrUnsupportedManifestExtension is returned by LoadFile when path's
// extension has no registered Reader.
var ErrUnsupportedManifestExtension = fmt.Errorf("registry: unsupported manifest extension")

// LoadFile parses and loads a single manifest file, used by the RPC `load`
// method (spec.md §4.6) as well as internally by Scan.
func (r *Registry) LoadFile(path string) (LoadResult, error) {
	reader := r.readerFor(path)
	if reader == nil {
		return LoadInvalidManifest, ErrUnsupportedManifestExtension
	}
	m, err := reader.Read(path)
	if err != nil {
		return LoadInvalidManifest, err
	}
	return r.Load(m.Label, m)
}

// Scan idempotently reads every manifest file in dir: newly seen files are
// loaded, and labels whose backing file disappeared since the previous scan
// are unloaded. A parse failure is logged and that file is skipped; it
// never aborts the rest of the scan (spec.md §4.1).
func (r *Registry) Scan(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("registry: scan %s: %w", dir, err)
	}

	seen := make(map[string]string, len(entries)) // path -> label

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		reader := r.readerFor(path)
		if reader == nil {
			continue
		}

		m, err := reader.Read(path)
		if err != nil {
			slog.Error("skipping unparseable manifest", "path", path, "err", err)
			continue
		}

		seen[path] = m.Label

		if _, exists := r.jobs[m.Label]; exists {
			continue
		}
		if result, err := r.Load(m.Label, m); err != nil {
			slog.Error("failed to load scanned manifest", "path", path, "label", m.Label, "result", result, "err", err)
		}
	}

	for path, label := range r.knownFiles {
		if _, stillPresent := seen[path]; stillPresent {
			continue
		}
		if _, err := r.Unload(label); err != nil {
			slog.Error("failed to unload vanished job", "label", label, "err", err)
		}
	}

	r.knownFiles = seen
	return nil
}

// jobNode adapts *job.Job to resolver.Node.
type jobNode struct{ j *job.Job }

func (n jobNode) Label() string    { return n.j.Label }
func (n jobNode) Before() []string { return n.j.Manifest.Before }
func (n jobNode) After() []string  { return n.j.Manifest.After }

// ResolveOrder runs the dependency resolver over every loaded job, marking
// any job caught in a cycle as StateError per spec.md §4.2 step 3.
func (r *Registry) ResolveOrder() (ordered []*job.Job, cyclic []*job.Job) {
	nodes := make([]resolver.Node, 0, len(r.jobs))
	for _, j := range r.jobs {
		nodes = append(nodes, jobNode{j})
	}

	orderedNodes, cyclicNodes := resolver.Sort(nodes)

	ordered = make([]*job.Job, len(orderedNodes))
	for i, n := range orderedNodes {
		ordered[i] = n.(jobNode).j
	}
	cyclic = make([]*job.Job, len(cyclicNodes))
	for i, n := range cyclicNodes {
		j := n.(jobNode).j
		j.SetState(job.StateError)
		cyclic[i] = j
	}
	return ordered, cyclic
}
