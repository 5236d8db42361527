// Package jsonreader implements manifest.Reader for JSON-encoded manifest
// files under the spool directory.
package jsonreader

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jobd/jobd/internal/manifest"
)

// Reader reads JSON manifest documents.
type Reader struct{}

// New returns a JSON manifest reader.
func New() *Reader { return &Reader{} }

var _ manifest.Reader = (*Reader)(nil)

// Read parses the manifest at path. If the document omits "label", the file
// name (minus extension) becomes the label, per spec.md §6.
func (r *Reader) Read(path string) (*manifest.Manifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("jsonreader: %w", err)
	}

	var m manifest.Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("jsonreader: %s: %w", path, err)
	}

	base := filepath.Base(path)
	fallback := strings.TrimSuffix(base, filepath.Ext(base))
	m.Label = m.EffectiveLabel(fallback)

	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("jsonreader: %s: %w", path, err)
	}

	return &m, nil
}
