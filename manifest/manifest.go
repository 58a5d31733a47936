// Package manifest handles shroud.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// FileName is the name of the configuration file.
const FileName = "shroud.toml"

// DefaultOutput is the artifact path used when none is configured.
const DefaultOutput = "vm.js"

// Manifest represents a shroud.toml project configuration.
type Manifest struct {
	Project Project `toml:"project"`
	Build   Build   `toml:"build"`
	Log     Log     `toml:"log"`

	// Dir is the directory containing the shroud.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name string `toml:"name"`
}

// Build configures artifact generation. Pointer fields distinguish
// "unset" from an explicit false.
type Build struct {
	Key            string `toml:"key"`
	Output         string `toml:"output"`
	Bundle         string `toml:"bundle"`
	Minify         *bool  `toml:"minify"`
	MinifyArtifact *bool  `toml:"minify-artifact"`
	KeepVarNames   bool   `toml:"keep-var-names"`
}

// Log configures commonlog.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Default returns the configuration used when no shroud.toml exists.
func Default() *Manifest {
	m := &Manifest{}
	m.applyDefaults()
	return m
}

// Load parses a shroud.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	m.applyDefaults()
	return &m, nil
}

// FindAndLoad walks up from startDir to find a shroud.toml file,
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
	if m.Build.Output == "" {
		m.Build.Output = DefaultOutput
	}
	if m.Build.Minify == nil {
		m.Build.Minify = boolPtr(true)
	}
	if m.Build.MinifyArtifact == nil {
		m.Build.MinifyArtifact = boolPtr(true)
	}
}

// Resolve returns path relative to the manifest directory. Absolute paths
// and manifests without a directory return path unchanged.
func (m *Manifest) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || m.Dir == "" {
		return path
	}
	return filepath.Join(m.Dir, path)
}

// OutputPath returns the artifact path.
func (m *Manifest) OutputPath() string {
	return m.Resolve(m.Build.Output)
}

// BundlePath returns the bundle path, or "" when no bundle is configured.
func (m *Manifest) BundlePath() string {
	return m.Resolve(m.Build.Bundle)
}

// LogFilePath returns the log file path, or nil to log to stderr.
func (m *Manifest) LogFilePath() *string {
	if m.Log.File == "" {
		return nil
	}
	path := m.Resolve(m.Log.File)
	return &path
}

func boolPtr(b bool) *bool {
	return &b
}
