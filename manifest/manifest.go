// Package manifest handles metal0.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/xyproto/env/v2"

	"github.com/chazu/metal0/codegen"
)

// FileName is the project file looked up by Load and FindAndLoad.
const FileName = "metal0.toml"

// Manifest represents a metal0.toml project configuration.
type Manifest struct {
	Project Project       `toml:"project"`
	Build   Build         `toml:"build"`
	Codegen CodegenConfig `toml:"codegen"`

	// Dir is the directory containing the metal0.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// Build configures where and how output is written.
type Build struct {
	Mode          string `toml:"mode"` // "script" or "module"
	Output        string `toml:"output"`
	RuntimeImport string `toml:"runtime-import"`
	Report        bool   `toml:"report"`
	Cache         *bool  `toml:"cache"` // nil means enabled
}

// CodegenConfig tunes the generator.
type CodegenConfig struct {
	DefaultInt    string   `toml:"default-int"`
	InlineModules []string `toml:"inline-modules"`
}

// Default returns the configuration used when no metal0.toml exists.
func Default(dir string) *Manifest {
	m := &Manifest{Dir: dir}
	m.applyDefaults()
	return m
}

// Load parses a metal0.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.applyDefaults()
	return &m, nil
}

// FindAndLoad walks up from startDir to find a metal0.toml file,
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

func (m *Manifest) applyDefaults() {
	if m.Build.Mode == "" {
		m.Build.Mode = "script"
	}
	if m.Build.Output == "" {
		m.Build.Output = "zig-out/gen"
	}
	if m.Build.RuntimeImport == "" {
		m.Build.RuntimeImport = "runtime"
	}
	if m.Codegen.DefaultInt == "" {
		m.Codegen.DefaultInt = "i64"
	}
}

// ApplyEnv overrides settings from METAL0_MODE, METAL0_OUTPUT and
// METAL0_NO_CACHE.
func (m *Manifest) ApplyEnv() error {
	env.Load()
	if mode := env.Str("METAL0_MODE"); mode != "" {
		m.Build.Mode = mode
	}
	if out := env.Str("METAL0_OUTPUT"); out != "" {
		m.Build.Output = out
	}
	if env.Bool("METAL0_NO_CACHE") {
		off := false
		m.Build.Cache = &off
	}
	return m.validate()
}

// LogPath returns the log file named by METAL0_LOG, or "" for stderr.
func LogPath() string {
	env.Load()
	return env.Str("METAL0_LOG")
}

// CacheEnabled reports whether the build cache is in use.
func (m *Manifest) CacheEnabled() bool {
	return m.Build.Cache == nil || *m.Build.Cache
}

// OutputDir returns the absolute output directory.
func (m *Manifest) OutputDir() string {
	if filepath.IsAbs(m.Build.Output) {
		return m.Build.Output
	}
	return filepath.Join(m.Dir, m.Build.Output)
}

// CachePath returns the path to .metal0/cache.db.
func (m *Manifest) CachePath() string {
	return filepath.Join(m.Dir, ".metal0", "cache.db")
}

// CodegenOptions converts the manifest to generator options.
func (m *Manifest) CodegenOptions() codegen.Options {
	opts := codegen.DefaultOptions()
	opts.ModuleMode = m.Build.Mode == "module"
	opts.DefaultInt = m.Codegen.DefaultInt
	opts.RuntimeImport = m.Build.RuntimeImport
	if m.Codegen.InlineModules != nil {
		opts.InlineModules = append([]string(nil), m.Codegen.InlineModules...)
	}
	return opts
}
