// Package packager builds plugin archives (.mbp files) from a plugin source
// tree: the serialized metadata, the listed modules and any extra files.
package packager

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"chatbot/internal/manifest"

	"go.uber.org/zap"
)

// Packaging errors.
var (
	ErrMetaNotFound = errors.New("metadata file not found")
	ErrMetaNotYAML  = errors.New("metadata file is not YAML")
	ErrMetaInvalid  = errors.New("metadata file is not valid")
	ErrOutputExists = errors.New("output file exists")
)

// ConfirmFunc asks whether an existing output file may be replaced.
type ConfirmFunc func(path string) bool

// ReadMeta reads and validates the metadata file in dir.
func ReadMeta(dir string) (*manifest.Meta, error) {
	f, err := os.Open(filepath.Join(dir, manifest.FileName))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrMetaNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to open metadata: %w", err)
	}
	defer f.Close()

	meta, err := manifest.Parse(f)
	if errors.Is(err, manifest.ErrSyntax) {
		return nil, fmt.Errorf("%w: %w", ErrMetaNotYAML, err)
	} else if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMetaInvalid, err)
	}
	return meta, nil
}

// OutputPath resolves where the archive is written. An empty output means
// the archive name in the working directory; a directory means the archive
// name inside it. An existing file is only replaced if confirm agrees, in
// which case it is removed.
func OutputPath(output string, meta *manifest.Meta, confirm ConfirmFunc) (string, error) {
	if output == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get working directory: %w", err)
		}
		output = filepath.Join(wd, meta.ArchiveName())
	} else if info, err := os.Stat(output); err == nil && info.IsDir() {
		output = filepath.Join(output, meta.ArchiveName())
	}

	if _, err := os.Stat(output); err == nil {
		if confirm == nil || !confirm(output) {
			return "", fmt.Errorf("%w: %s", ErrOutputExists, output)
		}
		if err := os.Remove(output); err != nil {
			return "", fmt.Errorf("failed to remove existing output: %w", err)
		}
	}

	return filepath.Abs(output)
}

// Builder writes plugin archives.
type Builder struct {
	logger *zap.Logger
}

// NewBuilder creates a builder.
func NewBuilder(logger *zap.Logger) *Builder {
	return &Builder{logger: logger}
}

// Write creates the archive at output from the plugin source in srcDir.
// Each module is taken from <module>.go or, failing that, the <module>
// directory; missing modules are skipped with a warning. Extra files must
// exist.
func (b *Builder) Write(meta *manifest.Meta, srcDir, output string) (err error) {
	f, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close archive: %w", cerr)
		}
		if err != nil {
			os.Remove(output)
		}
	}()

	zw := zip.NewWriter(f)

	metaData, err := meta.Serialize()
	if err != nil {
		return err
	}
	w, err := zw.Create(manifest.FileName)
	if err != nil {
		return fmt.Errorf("failed to add metadata: %w", err)
	}
	if _, err := w.Write(metaData); err != nil {
		return fmt.Errorf("failed to add metadata: %w", err)
	}

	for _, module := range meta.Modules {
		if !manifest.LocalPath(module) {
			return fmt.Errorf("module %s: %w", module, manifest.ErrUnsafePath)
		}
		file := module + ".go"
		if info, statErr := os.Stat(filepath.Join(srcDir, file)); statErr == nil && !info.IsDir() {
			if err := addFile(zw, srcDir, file); err != nil {
				return err
			}
			continue
		}
		if info, statErr := os.Stat(filepath.Join(srcDir, module)); statErr == nil && info.IsDir() {
			if err := addDir(zw, srcDir, module); err != nil {
				return err
			}
			continue
		}
		b.logger.Warn("Module not found, skipping", zap.String("module", module))
	}

	for _, file := range meta.ExtraFiles {
		if err := addFile(zw, srcDir, file); err != nil {
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish archive: %w", err)
	}

	b.logger.Info("Plugin built",
		zap.String("id", meta.ID),
		zap.String("version", meta.Version),
		zap.String("output", output))
	return nil
}

// Build reads the metadata in srcDir, resolves the output path and writes
// the archive. It returns the path written.
func (b *Builder) Build(srcDir, output string, confirm ConfirmFunc) (string, error) {
	meta, err := ReadMeta(srcDir)
	if err != nil {
		return "", fmt.Errorf("failed to build plugin: %w", err)
	}

	path, err := OutputPath(output, meta, confirm)
	if err != nil {
		return "", err
	}

	if err := b.Write(meta, srcDir, path); err != nil {
		return "", err
	}
	return path, nil
}

func addDir(zw *zip.Writer, root, dir string) error {
	return filepath.WalkDir(filepath.Join(root, dir), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		return addFile(zw, root, rel)
	})
}

func addFile(zw *zip.Writer, root, name string) error {
	if !manifest.LocalPath(filepath.ToSlash(name)) {
		return fmt.Errorf("failed to add %s: %w", name, manifest.ErrUnsafePath)
	}
	src, err := os.Open(filepath.Join(root, name))
	if err != nil {
		return fmt.Errorf("failed to add %s: %w", name, err)
	}
	defer src.Close()

	w, err := zw.Create(filepath.ToSlash(name))
	if err != nil {
		return fmt.Errorf("failed to add %s: %w", name, err)
	}
	if _, err := io.Copy(w, src); err != nil {
		return fmt.Errorf("failed to add %s: %w", name, err)
	}
	return nil
}
