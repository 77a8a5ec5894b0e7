// Package manifest reads, validates and writes plugin metadata files.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/multierr"
	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

// FileName is the name of the metadata file at the root of a plugin.
const FileName = "maubot.yaml"

// Parse and validation errors.
var (
	ErrSyntax           = errors.New("manifest: not valid YAML")
	ErrMissingID        = errors.New("manifest: id is required")
	ErrInvalidID        = errors.New("manifest: id must be a reverse-domain identifier")
	ErrMissingVersion   = errors.New("manifest: version is required")
	ErrInvalidVersion   = errors.New("manifest: version must be valid semver")
	ErrMissingModules   = errors.New("manifest: at least one module is required")
	ErrMissingMainClass = errors.New("manifest: main_class is required")
	ErrInvalidHostReq   = errors.New("manifest: maubot must be valid semver")
	ErrUnsafePath       = errors.New("manifest: path must be relative and stay inside the plugin")
)

// idPattern matches reverse-domain identifiers such as xyz.maubot.echo.
var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*(\.[a-z0-9][a-z0-9_-]*)+$`)

// Meta is the plugin metadata.
type Meta struct {
	// MinHostVersion is the minimum host version the plugin supports.
	MinHostVersion string `yaml:"maubot,omitempty"`

	ID      string `yaml:"id"`
	Version string `yaml:"version"`
	License string `yaml:"license,omitempty"`

	// Modules are the source modules shipped in the archive.
	Modules []string `yaml:"modules"`

	// MainClass names the plugin type to instantiate, optionally prefixed
	// with the module it lives in ("module/Type").
	MainClass string `yaml:"main_class"`

	ExtraFiles       []string `yaml:"extra_files,omitempty"`
	Dependencies     []string `yaml:"dependencies,omitempty"`
	SoftDependencies []string `yaml:"soft_dependencies,omitempty"`

	// Feature flags.
	Database bool `yaml:"database,omitempty"`
	Config   bool `yaml:"config,omitempty"`
	WebApp   bool `yaml:"webapp,omitempty"`
}

// Parse decodes and validates metadata from r.
func Parse(r io.Reader) (*Meta, error) {
	var m Meta
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Load reads and validates the metadata file at path.
func Load(path string) (*Meta, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	defer f.Close()

	return Parse(f)
}

// LoadDir reads the metadata file at the root of a plugin directory.
func LoadDir(dir string) (*Meta, error) {
	return Load(filepath.Join(dir, FileName))
}

// Validate checks the metadata and returns every problem found.
func (m *Meta) Validate() error {
	var err error

	switch {
	case m.ID == "":
		err = multierr.Append(err, ErrMissingID)
	case !idPattern.MatchString(m.ID):
		err = multierr.Append(err, fmt.Errorf("%w: %q", ErrInvalidID, m.ID))
	}

	switch {
	case m.Version == "":
		err = multierr.Append(err, ErrMissingVersion)
	case !validSemver(m.Version):
		err = multierr.Append(err, fmt.Errorf("%w: %q", ErrInvalidVersion, m.Version))
	}

	if m.MinHostVersion != "" && !validSemver(m.MinHostVersion) {
		err = multierr.Append(err, fmt.Errorf("%w: %q", ErrInvalidHostReq, m.MinHostVersion))
	}

	if len(m.Modules) == 0 {
		err = multierr.Append(err, ErrMissingModules)
	}

	if m.MainClass == "" {
		err = multierr.Append(err, ErrMissingMainClass)
	}

	for _, name := range append(append([]string(nil), m.Modules...), m.ExtraFiles...) {
		if !LocalPath(name) {
			err = multierr.Append(err, fmt.Errorf("%w: %q", ErrUnsafePath, name))
		}
	}

	return err
}

// LocalPath reports whether a slash-separated module or extra file name
// stays inside the plugin directory: not absolute, not empty, no "..".
func LocalPath(name string) bool {
	return filepath.IsLocal(filepath.FromSlash(name))
}

// Serialize encodes the metadata as YAML.
func (m *Meta) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	return buf.Bytes(), nil
}

// ArchiveName returns the file name of the built plugin archive.
func (m *Meta) ArchiveName() string {
	return fmt.Sprintf("%s-v%s.mbp", m.ID, m.Version)
}

// TypeName returns the plugin type part of MainClass.
func (m *Meta) TypeName() string {
	if i := strings.LastIndex(m.MainClass, "/"); i >= 0 {
		return m.MainClass[i+1:]
	}
	return m.MainClass
}

// SupportsHost reports whether a host at version satisfies MinHostVersion.
func (m *Meta) SupportsHost(version string) bool {
	if m.MinHostVersion == "" {
		return true
	}
	return semver.Compare(canonical(version), canonical(m.MinHostVersion)) >= 0
}

func canonical(v string) string {
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

func validSemver(v string) bool {
	return semver.IsValid(canonical(v))
}
