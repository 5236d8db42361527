// Package store implements the two persistent per-job documents spec.md
// §4.7 describes: the durable Property document and the transient Status
// document. Both are last-writer-wins JSON files, truncated and rewritten
// on each change; no locking is required because only the supervisor (the
// single event-loop goroutine) ever writes them.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jobd/jobd/internal/job"
)

// Property is the durable-across-reboot document for one job.
type Property struct {
	Enabled      bool              `json:"enabled"`
	FaultState   string            `json:"fault_state"`
	FaultMessage string            `json:"fault_message,omitempty"`
	Custom       map[string]string `json:"custom,omitempty"`
}

// Status is the transient, runtime-directory-only document for one job.
type Status struct {
	Pid            int `json:"pid"`
	LastExitStatus int `json:"last_exit_status"`
	TermSignal     int `json:"term_signal"`
}

// Store persists Property documents under <dataDir>/property/<label>.json
// and Status documents under <runtimeDir>/status/<label>.json.
type Store struct {
	dataDir    string
	runtimeDir string
}

// New returns a Store rooted at dataDir (durable) and runtimeDir (volatile,
// typically tmpfs-backed).
func New(dataDir, runtimeDir string) *Store {
	return &Store{dataDir: dataDir, runtimeDir: runtimeDir}
}

func (s *Store) propertyPath(label string) string {
	return filepath.Join(s.dataDir, "property", label+".json")
}

func (s *Store) statusPath(label string) string {
	return filepath.Join(s.runtimeDir, "status", label+".json")
}

// writeJSON truncates and rewrites path with v's JSON encoding, creating
// any missing parent directory first.
func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("store: mkdir %s: %w", filepath.Dir(path), err)
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal %s: %w", path, err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("store: write %s: %w", path, err)
	}
	return nil
}

func readJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// SaveProperty writes j's durable property document.
func (s *Store) SaveProperty(j *job.Job) error {
	p := Property{
		Enabled:      j.Enabled(),
		FaultState:   j.FaultState().String(),
		FaultMessage: j.FaultMessage(),
	}
	return writeJSON(s.propertyPath(j.Label), &p)
}

// LoadProperty reads label's durable property document, if one exists. A
// missing file is not an error: it means the job has never been persisted
// (fresh defaults apply).
func (s *Store) LoadProperty(label string) (*Property, error) {
	var p Property
	if err := readJSON(s.propertyPath(label), &p); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: load property %s: %w", label, err)
	}
	return &p, nil
}

// SaveStatus writes j's transient runtime-directory status document.
func (s *Store) SaveStatus(j *job.Job) error {
	st := Status{
		Pid:            j.Pid(),
		LastExitStatus: j.LastExitStatus(),
		TermSignal:     j.TermSignal(),
	}
	return writeJSON(s.statusPath(j.Label), &st)
}

// LoadStatus reads label's transient status document, if one exists.
func (s *Store) LoadStatus(label string) (*Status, error) {
	var st Status
	if err := readJSON(s.statusPath(label), &st); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: load status %s: %w", label, err)
	}
	return &st, nil
}

// RemoveStatus deletes label's status document, called once a job is fully
// unloaded so a stale pid never survives a reap.
func (s *Store) RemoveStatus(label string) error {
	err := os.Remove(s.statusPath(label))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("store: remove status %s: %w", label, err)
	}
	return nil
}
