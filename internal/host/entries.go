package host

import (
	"errors"
	"fmt"
	"os"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// ErrInvalidEntry is returned for instance entries that cannot be created.
var ErrInvalidEntry = errors.New("invalid instance entry")

// Entry configures one plugin instance.
type Entry struct {
	ID      string `yaml:"id"`
	Type    string `yaml:"type"`
	Enabled bool   `yaml:"enabled"`
}

type entriesFile struct {
	Instances []Entry `yaml:"instances"`
}

// LoadEntries reads the instance list from a YAML file.
func LoadEntries(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read instances file: %w", err)
	}

	var file entriesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse instances file: %w", err)
	}

	if err := validateEntries(file.Instances); err != nil {
		return nil, err
	}
	return file.Instances, nil
}

func validateEntries(entries []Entry) error {
	var err error
	seen := make(map[string]bool, len(entries))
	for i, e := range entries {
		switch {
		case e.ID == "":
			err = multierr.Append(err, fmt.Errorf("%w: entry %d has no id", ErrInvalidEntry, i))
			continue
		case e.Type == "":
			err = multierr.Append(err, fmt.Errorf("%w: %s has no type", ErrInvalidEntry, e.ID))
		}
		if seen[e.ID] {
			err = multierr.Append(err, fmt.Errorf("%w: duplicate id %s", ErrInvalidEntry, e.ID))
		}
		seen[e.ID] = true
	}
	return err
}
