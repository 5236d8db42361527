// Package tomlreader implements manifest.Reader for TOML-encoded manifest
// files, one of the historical manifest generations noted in spec.md §9.
package tomlreader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/jobd/jobd/internal/manifest"
)

// wireCalendar mirrors manifest.CalendarInterval but with string fields,
// since TOML documents spell wildcards as the bare string "*" and the
// BurntSushi decoder does not invoke manifest.CalendarField's JSON
// unmarshaler.
type wireCalendar struct {
	Minute  string `toml:"minute"`
	Hour    string `toml:"hour"`
	Day     string `toml:"day"`
	Weekday string `toml:"weekday"`
	Month   string `toml:"month"`
}

type wireManifest struct {
	SchemaVersion string   `toml:"schema_version"`
	Label         string   `toml:"label"`
	Description   string   `toml:"description"`
	Title         string   `toml:"title"`
	Command       string   `toml:"command"`
	Argv          []string `toml:"argv"`

	Environment []string `toml:"environment"`

	WorkingDirectory string `toml:"working_directory"`
	RootDirectory    string `toml:"root_directory"`

	UserName   string `toml:"user_name"`
	GroupName  string `toml:"group_name"`
	InitGroups bool   `toml:"init_groups"`
	Umask      string `toml:"umask"`

	StdinPath  string `toml:"stdin_path"`
	StdoutPath string `toml:"stdout_path"`
	StderrPath string `toml:"stderr_path"`

	KeepAlive        bool `toml:"keep_alive"`
	ThrottleInterval int  `toml:"throttle_interval"`
	StartInterval    int  `toml:"start_interval"`

	CalendarInterval *wireCalendar `toml:"calendar_interval"`

	Enable    bool `toml:"enable"`
	Exclusive bool `toml:"exclusive"`

	Before []string `toml:"before"`
	After  []string `toml:"after"`

	Methods map[string][]string `toml:"methods"`
}

// Reader reads TOML manifest documents.
type Reader struct{}

// New returns a TOML manifest reader.
func New() *Reader { return &Reader{} }

var _ manifest.Reader = (*Reader)(nil)

func (r *Reader) Read(path string) (*manifest.Manifest, error) {
	var w wireManifest
	if _, err := toml.DecodeFile(path, &w); err != nil {
		return nil, fmt.Errorf("tomlreader: %s: %w", path, err)
	}

	m := manifest.Manifest{
		SchemaVersion:    w.SchemaVersion,
		Label:            w.Label,
		Description:      w.Description,
		Title:            w.Title,
		Command:          w.Command,
		Argv:             w.Argv,
		Environment:      w.Environment,
		WorkingDirectory: w.WorkingDirectory,
		RootDirectory:    w.RootDirectory,
		UserName:         w.UserName,
		GroupName:        w.GroupName,
		InitGroups:       w.InitGroups,
		Umask:            w.Umask,
		StdinPath:        w.StdinPath,
		StdoutPath:       w.StdoutPath,
		StderrPath:       w.StderrPath,
		KeepAlive:        w.KeepAlive,
		ThrottleInterval: w.ThrottleInterval,
		StartInterval:    w.StartInterval,
		Enable:           w.Enable,
		Exclusive:        w.Exclusive,
		Before:           w.Before,
		After:            w.After,
		Methods:          w.Methods,
	}

	if w.CalendarInterval != nil {
		ci, err := parseWireCalendar(w.CalendarInterval)
		if err != nil {
			return nil, fmt.Errorf("tomlreader: %s: %w", path, err)
		}
		m.CalendarInterval = ci
	}

	base := filepath.Base(path)
	fallback := strings.TrimSuffix(base, filepath.Ext(base))
	m.Label = m.EffectiveLabel(fallback)

	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("tomlreader: %s: %w", path, err)
	}

	return &m, nil
}

func parseWireCalendar(w *wireCalendar) (*manifest.CalendarInterval, error) {
	var ci manifest.CalendarInterval
	var err error

	if ci.Minute, err = manifest.ParseCalendarField(w.Minute); err != nil {
		return nil, err
	}
	if ci.Hour, err = manifest.ParseCalendarField(w.Hour); err != nil {
		return nil, err
	}
	if ci.Day, err = manifest.ParseCalendarField(w.Day); err != nil {
		return nil, err
	}
	if ci.Weekday, err = manifest.ParseCalendarField(w.Weekday); err != nil {
		return nil, err
	}
	if ci.Month, err = manifest.ParseCalendarField(w.Month); err != nil {
		return nil, err
	}

	return &ci, nil
}
