// Package manifest handles karst.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Manifest represents a karst.toml project configuration.
type Manifest struct {
	Project  Project  `toml:"project"`
	Optimize Optimize `toml:"optimize"`
	Unit     Unit     `toml:"unit"`

	// Dir is the directory containing the karst.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// Optimize configures the back-end optimizer passes.
type Optimize struct {
	Jump        bool   `toml:"jump"`
	CleanLabels bool   `toml:"clean-labels"`
	Cache       string `toml:"cache"`
}

// Unit configures unit file locations.
type Unit struct {
	Input  string `toml:"input"`
	Output string `toml:"output"`
}

// Load parses a karst.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, "karst.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m := defaults()
	if err := toml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return m, nil
}

// FindAndLoad walks up from startDir to find a karst.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", startDir, err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "karst.toml")); err == nil {
			return Load(dir)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// CachePath resolves the cache path relative to the manifest directory.
// Empty means caching is off.
func (m *Manifest) CachePath() string {
	if m.Optimize.Cache == "" {
		return ""
	}
	if filepath.IsAbs(m.Optimize.Cache) {
		return m.Optimize.Cache
	}
	return filepath.Join(m.Dir, m.Optimize.Cache)
}

func defaults() *Manifest {
	return &Manifest{
		Optimize: Optimize{
			Jump:        true,
			CleanLabels: true,
		},
	}
}
