// Package manifest handles ember.toml runtime configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/chazu/ember/vm"
)

// FileName is the name of the manifest file.
const FileName = "ember.toml"

// Manifest represents an ember.toml configuration.
type Manifest struct {
	Project   Project         `toml:"project"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Log       LogConfig       `toml:"log"`
	Journal   JournalConfig   `toml:"journal"`
	Debug     DebugConfig     `toml:"debug"`

	// Dir is the directory containing the ember.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// SchedulerConfig sizes the worker pool and the process table.
type SchedulerConfig struct {
	Workers      int `toml:"workers"`
	Reductions   int `toml:"reductions"`
	MaxProcesses int `toml:"max-processes"`
}

// LogConfig configures commonlog.
type LogConfig struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// JournalConfig configures the exit journal. An empty path disables it.
type JournalConfig struct {
	Path   string `toml:"path"`
	Buffer int    `toml:"buffer"`
}

// DebugConfig holds development switches.
type DebugConfig struct {
	LockChecking bool `toml:"lock-checking"`
}

// Default returns the manifest used when no ember.toml is found.
func Default() *Manifest {
	cfg := vm.DefaultConfig()
	return &Manifest{
		Scheduler: SchedulerConfig{
			Workers:      cfg.Workers,
			Reductions:   cfg.Reductions,
			MaxProcesses: cfg.MaxProcesses,
		},
		Log:     LogConfig{Verbosity: 1},
		Journal: JournalConfig{Buffer: 256},
	}
}

// Load parses an ember.toml file from the given directory. Missing keys keep
// their Default values.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m := Default()
	if err := toml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// FindAndLoad walks up from startDir to find an ember.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

func (m *Manifest) validate() error {
	switch {
	case m.Scheduler.Workers < 0:
		return fmt.Errorf("scheduler.workers must not be negative, got %d", m.Scheduler.Workers)
	case m.Scheduler.Reductions < 0:
		return fmt.Errorf("scheduler.reductions must not be negative, got %d", m.Scheduler.Reductions)
	case m.Scheduler.MaxProcesses < 0:
		return fmt.Errorf("scheduler.max-processes must not be negative, got %d", m.Scheduler.MaxProcesses)
	case m.Journal.Buffer < 0:
		return fmt.Errorf("journal.buffer must not be negative, got %d", m.Journal.Buffer)
	}
	return nil
}

// RuntimeConfig converts the scheduler and debug sections into a vm.Config.
func (m *Manifest) RuntimeConfig() vm.Config {
	return vm.Config{
		Workers:      m.Scheduler.Workers,
		Reductions:   m.Scheduler.Reductions,
		MaxProcesses: m.Scheduler.MaxProcesses,
		LockChecking: m.Debug.LockChecking,
	}
}

// LogPath returns the log file path resolved against the manifest
// directory, or nil to log to stderr.
func (m *Manifest) LogPath() *string {
	if m.Log.File == "" {
		return nil
	}
	p := m.Log.File
	if !filepath.IsAbs(p) && m.Dir != "" {
		p = filepath.Join(m.Dir, p)
	}
	return &p
}

// JournalPath returns the journal database path resolved against the
// manifest directory, or "" when the journal is disabled.
func (m *Manifest) JournalPath() string {
	p := m.Journal.Path
	if p == "" || p == ":memory:" || filepath.IsAbs(p) || m.Dir == "" {
		return p
	}
	return filepath.Join(m.Dir, p)
}
