// Package loader gives plugin instances read access to the files shipped
// with their plugin type. Code is compiled into the host; only metadata and
// resources such as base-config.yaml are read from disk.
package loader

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"chatbot/internal/manifest"
)

// ErrInvalidPath is returned for file names that escape the plugin root.
var ErrInvalidPath = errors.New("invalid plugin file path")

// DirLoader serves plugin files from a directory or any other file system.
type DirLoader struct {
	dir  string
	fsys fs.FS
	meta *manifest.Meta
}

// NewDirLoader reads the manifest in dir and returns a loader for it.
func NewDirLoader(dir string) (*DirLoader, error) {
	meta, err := manifest.LoadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load plugin at %s: %w", dir, err)
	}

	return &DirLoader{
		dir:  dir,
		fsys: os.DirFS(dir),
		meta: meta,
	}, nil
}

// NewFSLoader reads the manifest at the root of fsys and returns a loader
// for it. source names fsys in logs.
func NewFSLoader(source string, fsys fs.FS) (*DirLoader, error) {
	f, err := fsys.Open(manifest.FileName)
	if err != nil {
		return nil, fmt.Errorf("failed to load plugin from %s: %w", source, err)
	}
	defer f.Close()

	meta, err := manifest.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to load plugin from %s: %w", source, err)
	}

	return &DirLoader{
		dir:  source,
		fsys: fsys,
		meta: meta,
	}, nil
}

// Source returns the plugin directory.
func (l *DirLoader) Source() string { return l.dir }

// Meta returns the plugin metadata.
func (l *DirLoader) Meta() *manifest.Meta { return l.meta }

// ReadFile reads a file relative to the plugin directory.
func (l *DirLoader) ReadFile(name string) ([]byte, error) {
	name = path.Clean(name)
	if !fs.ValidPath(name) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPath, name)
	}
	return fs.ReadFile(l.fsys, name)
}

// Discover returns a loader for every subdirectory of root that contains a
// manifest, keyed by plugin ID. Directories with an invalid manifest are
// reported in the returned error and skipped.
func Discover(root string) (map[string]*DirLoader, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read plugin dir: %w", err)
	}

	loaders := make(map[string]*DirLoader)
	var errs []error
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		if _, err := os.Stat(filepath.Join(dir, manifest.FileName)); err != nil {
			continue
		}

		l, err := NewDirLoader(dir)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := loaders[l.meta.ID]; dup {
			errs = append(errs, fmt.Errorf("duplicate plugin id %s in %s", l.meta.ID, dir))
			continue
		}
		loaders[l.meta.ID] = l
	}

	return loaders, errors.Join(errs...)
}
