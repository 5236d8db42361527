// Package manifest defines the single canonical in-memory manifest shape
// shared by every reader adapter (internal/manifest/jsonreader,
// internal/manifest/tomlreader). Parsing itself is an external contract per
// SPEC_FULL.md §1: this package fixes only the resulting struct.
package manifest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// CalendarField is one field of a five-field calendar interval. Wildcard
// fields match any value; non-wildcard fields require exact equality with
// the current local-time field (spec.md §4.4).
type CalendarField struct {
	Value    int
	Wildcard bool
}

// Wild returns the wildcard sentinel field.
func Wild() CalendarField { return CalendarField{Wildcard: true} }

// Fixed returns a field pinned to v.
func Fixed(v int) CalendarField { return CalendarField{Value: v} }

// ParseCalendarField parses "*" as a wildcard or a base-10 integer as a
// fixed value. Both JSON and TOML manifests spell calendar fields this way.
func ParseCalendarField(s string) (CalendarField, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return Wild(), nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return CalendarField{}, fmt.Errorf("invalid calendar field %q: %w", s, err)
	}
	return Fixed(v), nil
}

func (f CalendarField) String() string {
	if f.Wildcard {
		return "*"
	}
	return strconv.Itoa(f.Value)
}

// MarshalJSON renders the field as "*" or a JSON number.
func (f CalendarField) MarshalJSON() ([]byte, error) {
	if f.Wildcard {
		return json.Marshal("*")
	}
	return json.Marshal(f.Value)
}

// UnmarshalJSON accepts either the string "*" or a JSON number.
func (f *CalendarField) UnmarshalJSON(b []byte) error {
	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		*f = Fixed(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("calendar field: %w", err)
	}
	parsed, err := ParseCalendarField(s)
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// CalendarInterval is a cron-like five-field match against local time.
// Sunday normalizes to weekday 0.
type CalendarInterval struct {
	Minute  CalendarField `json:"minute"`
	Hour    CalendarField `json:"hour"`
	Day     CalendarField `json:"day"`
	Weekday CalendarField `json:"weekday"`
	Month   CalendarField `json:"month"`
}

// Manifest is the canonical in-memory description of a job, independent of
// the on-disk format (JSON or TOML) it was read from.
type Manifest struct {
	SchemaVersion string `json:"schema_version,omitempty"`

	Label       string   `json:"label"`
	Description string   `json:"description,omitempty"`
	Title       string   `json:"title,omitempty"`
	Command     string   `json:"command,omitempty"`
	Argv        []string `json:"argv,omitempty"`

	Environment []string `json:"environment,omitempty"`

	WorkingDirectory string `json:"working_directory,omitempty"`
	RootDirectory    string `json:"root_directory,omitempty"`

	UserName  string `json:"user_name,omitempty"`
	GroupName string `json:"group_name,omitempty"`
	InitGroups bool  `json:"init_groups,omitempty"`
	Umask     string `json:"umask,omitempty"`

	StdinPath  string `json:"stdin_path,omitempty"`
	StdoutPath string `json:"stdout_path,omitempty"`
	StderrPath string `json:"stderr_path,omitempty"`

	KeepAlive        bool `json:"keep_alive,omitempty"`
	ThrottleInterval int  `json:"throttle_interval,omitempty"`
	StartInterval    int  `json:"start_interval,omitempty"`

	CalendarInterval *CalendarInterval `json:"calendar_interval,omitempty"`

	Enable    bool `json:"enable,omitempty"`
	Exclusive bool `json:"exclusive,omitempty"`

	Before []string `json:"before,omitempty"`
	After  []string `json:"after,omitempty"`

	Methods map[string][]string `json:"methods,omitempty"`
}

// EffectiveLabel returns m.Label if set, otherwise the fallback (typically
// the manifest file name minus extension), per spec.md §6.
func (m *Manifest) EffectiveLabel(fallback string) string {
	if m.Label != "" {
		return m.Label
	}
	return fallback
}

// Argument returns the argv vector to execute: Argv if present, otherwise a
// single-element vector built from Command.
func (m *Manifest) Argument() ([]string, error) {
	if len(m.Argv) > 0 {
		return m.Argv, nil
	}
	if m.Command != "" {
		return []string{m.Command}, nil
	}
	return nil, fmt.Errorf("manifest %q: neither command nor argv is set", m.Label)
}

// Validate checks required fields and printable-label constraints
// (spec.md §3: label is printable, no whitespace, <= 255 bytes).
func (m *Manifest) Validate() error {
	if len(m.Label) == 0 {
		return fmt.Errorf("label is required")
	}
	if len(m.Label) > 255 {
		return fmt.Errorf("label %q exceeds 255 bytes", m.Label)
	}
	for _, r := range m.Label {
		if r <= ' ' || r == 0x7f {
			return fmt.Errorf("label %q contains whitespace or control characters", m.Label)
		}
	}
	if m.Command == "" && len(m.Argv) == 0 {
		return fmt.Errorf("job %q: must set command or argv", m.Label)
	}
	if m.SchemaVersion != "" {
		if _, err := semver.NewVersion(m.SchemaVersion); err != nil {
			return fmt.Errorf("job %q: invalid schema_version %q: %w", m.Label, m.SchemaVersion, err)
		}
		if !SupportedSchemaVersions.Check(mustVersion(m.SchemaVersion)) {
			return fmt.Errorf("job %q: schema_version %q is not supported by constraint %q", m.Label, m.SchemaVersion, SupportedSchemaVersions.String())
		}
	}
	return nil
}

// SupportedSchemaVersions is the semver constraint manifests must satisfy.
var SupportedSchemaVersions = mustConstraint("^1.0.0")

func mustVersion(s string) *semver.Version {
	v, _ := semver.NewVersion(s)
	return v
}

func mustConstraint(s string) *semver.Constraints {
	c, err := semver.NewConstraint(s)
	if err != nil {
		panic(err)
	}
	return c
}

// Reader parses a manifest document into the canonical Manifest shape.
// Pluggable per SPEC_FULL.md DOMAIN STACK: internal/manifest/jsonreader and
// internal/manifest/tomlreader both implement this.
type Reader interface {
	Read(path string) (*Manifest, error)
}
