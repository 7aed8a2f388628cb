// Package manifest reads the workspace file that tells the CLI where each
// unit lives and what to resolve.
//
//	root:
//	  unit: app
//	  paths: ["", "client::Client"]
//	scripts: macros
//	units:
//	  - name: app
//	    version: 1.0.0
//	    dir: ./app
//	    features: [std]
//	    deps:
//	      core_types: core_types@2.0.0
//	  - name: core_types
//	    version: 2.0.0
//	    dir: ./core_types
//
// A dependency value names a unit either by name alone, when the workspace
// holds one version of it, or as name@version.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jward/surface/internal/locate"
	"github.com/jward/surface/internal/model"
)

var ErrInvalid = errors.New("invalid manifest")

type Manifest struct {
	Root Root `yaml:"root"`
	// Scripts is the directory of Risor macro scripts, if any.
	Scripts string `yaml:"scripts,omitempty"`
	Units   []Unit `yaml:"units"`

	// dir is the directory relative paths are resolved against.
	dir string
}

type Root struct {
	Unit  string   `yaml:"unit"`
	Paths []string `yaml:"paths,omitempty"`
}

type Unit struct {
	Name     string            `yaml:"name"`
	Version  string            `yaml:"version"`
	Dir      string            `yaml:"dir"`
	Entry    string            `yaml:"entry,omitempty"`
	Features []string          `yaml:"features,omitempty"`
	Cfg      []string          `yaml:"cfg,omitempty"`
	Deps     map[string]string `yaml:"deps,omitempty"`
}

// Load reads and validates the manifest at path. Relative directories are
// taken relative to the manifest's own directory.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	abs, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("manifest dir: %w", err)
	}
	return Parse(data, abs)
}

// Parse decodes and validates a manifest whose relative paths are based at
// dir.
func Parse(data []byte, dir string) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	m.dir = dir
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks that units are unique and complete, that every
// dependency names a unit in the workspace, and that the root unit exists.
func (m *Manifest) Validate() error {
	var errs []error
	seen := make(map[string]bool)
	for i, u := range m.Units {
		if u.Name == "" || u.Version == "" || u.Dir == "" {
			errs = append(errs, fmt.Errorf("unit %d: name, version and dir are required", i))
			continue
		}
		key := u.Name + "@" + u.Version
		if seen[key] {
			errs = append(errs, fmt.Errorf("unit %s: declared twice", key))
		}
		seen[key] = true
	}
	for _, u := range m.Units {
		for _, extern := range sortedKeys(u.Deps) {
			if _, err := m.lookup(u.Deps[extern]); err != nil {
				errs = append(errs, fmt.Errorf("unit %s: dep %s: %w", u.Name, extern, err))
			}
		}
	}
	if m.Root.Unit == "" {
		errs = append(errs, errors.New("root.unit is required"))
	} else if _, err := m.lookup(m.Root.Unit); err != nil {
		errs = append(errs, fmt.Errorf("root: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %d error(s): %w", ErrInvalid, len(errs), errors.Join(errs...))
	}
	return nil
}

// lookup finds the unit a reference names: "name" or "name@version".
func (m *Manifest) lookup(ref string) (*Unit, error) {
	name, version, versioned := strings.Cut(ref, "@")
	var found []*Unit
	for i := range m.Units {
		u := &m.Units[i]
		if u.Name == name && (!versioned || u.Version == version) {
			found = append(found, u)
		}
	}
	switch len(found) {
	case 0:
		return nil, fmt.Errorf("no unit %q", ref)
	case 1:
		return found[0], nil
	default:
		return nil, fmt.Errorf("unit %q is ambiguous, use name@version", ref)
	}
}

// ID returns the unit identity, fingerprinted by its configuration.
func (u *Unit) ID() model.UnitID {
	return model.UnitID{
		Name:        u.Name,
		Version:     u.Version,
		Fingerprint: model.Fingerprint(u.Features, u.Cfg),
	}
}

// RootUnit returns the identity of the root unit.
func (m *Manifest) RootUnit() (model.UnitID, error) {
	u, err := m.lookup(m.Root.Unit)
	if err != nil {
		return model.UnitID{}, err
	}
	return u.ID(), nil
}

// RootPaths returns the root paths, defaulting to the unit root module.
func (m *Manifest) RootPaths() []string {
	if len(m.Root.Paths) == 0 {
		return []string{""}
	}
	return m.Root.Paths
}

// ScriptsDir returns the absolute macro script directory, or "".
func (m *Manifest) ScriptsDir() string {
	if m.Scripts == "" {
		return ""
	}
	return m.abs(m.Scripts)
}

// UnitDirs converts the units for a locate.DirLocator.
func (m *Manifest) UnitDirs() ([]locate.UnitDir, error) {
	out := make([]locate.UnitDir, 0, len(m.Units))
	for i := range m.Units {
		u := &m.Units[i]
		deps := make(map[string]model.UnitID, len(u.Deps))
		for extern, ref := range u.Deps {
			d, err := m.lookup(ref)
			if err != nil {
				return nil, fmt.Errorf("unit %s: dep %s: %w", u.Name, extern, err)
			}
			deps[extern] = d.ID()
		}
		out = append(out, locate.UnitDir{
			ID:       u.ID(),
			Dir:      m.abs(u.Dir),
			Entry:    u.Entry,
			Deps:     deps,
			Features: u.Features,
			Cfg:      u.Cfg,
		})
	}
	return out, nil
}

func (m *Manifest) abs(p string) string {
	if filepath.IsAbs(p) || m.dir == "" {
		return p
	}
	return filepath.Join(m.dir, p)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
