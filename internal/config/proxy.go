// Package config provides instance configuration proxies, the host
// configuration read from the environment and a watcher that reports
// external edits to configuration files.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when a configuration fails validation.
var ErrInvalidConfig = errors.New("invalid config")

// Validator checks a merged configuration before it becomes active.
type Validator func(values map[string]any) error

// Proxy holds an instance configuration: the plugin's base config overlaid
// with the instance's own YAML file. The held values only change when a load
// succeeds end to end.
type Proxy struct {
	path     string
	base     map[string]any
	validate Validator
	logger   *zap.Logger

	mu     sync.RWMutex
	values map[string]any
}

// NewProxy creates a proxy for the instance file at path using baseYAML as
// defaults, and performs the initial load. A missing instance file is not an
// error: the base values are used and written out on Save.
func NewProxy(path string, baseYAML []byte, validate Validator, logger *zap.Logger) (*Proxy, error) {
	base := make(map[string]any)
	if len(baseYAML) > 0 {
		if err := yaml.Unmarshal(baseYAML, &base); err != nil {
			return nil, fmt.Errorf("failed to parse base config: %w", err)
		}
	}

	p := &Proxy{
		path:     path,
		base:     base,
		validate: validate,
		logger:   logger,
	}

	if err := p.LoadAndUpdate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Path returns the instance config file path.
func (p *Proxy) Path() string { return p.path }

// LoadAndUpdate re-reads the instance file, merges it onto the base config
// and validates the result. On any failure the current values are kept.
func (p *Proxy) LoadAndUpdate() error {
	instance := make(map[string]any)

	data, err := os.ReadFile(p.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		p.logger.Debug("Instance config not found, using base config", zap.String("path", p.path))
	case err != nil:
		return fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &instance); err != nil {
			return fmt.Errorf("%w: failed to parse %s: %v", ErrInvalidConfig, p.path, err)
		}
	}

	merged := merge(p.base, instance)

	if p.validate != nil {
		if err := p.validate(merged); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}

	p.mu.Lock()
	p.values = merged
	p.mu.Unlock()

	p.logger.Debug("Config loaded", zap.String("path", p.path), zap.Int("keys", len(merged)))
	return nil
}

// Values returns a deep copy of the current configuration.
func (p *Proxy) Values() map[string]any {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return merge(nil, p.values)
}

// Decode copies the current configuration into out, which should be a
// pointer to a struct with yaml tags.
func (p *Proxy) Decode(out any) error {
	p.mu.RLock()
	data, err := yaml.Marshal(p.values)
	p.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	return nil
}

// Save writes the current configuration to the instance file.
func (p *Proxy) Save() error {
	p.mu.RLock()
	data, err := yaml.Marshal(p.values)
	p.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	if err := os.WriteFile(p.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// merge returns a new map with override applied on top of base. Nested maps
// are merged recursively; every other value in override replaces base.
func merge(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		if m, ok := v.(map[string]any); ok {
			result[k] = merge(nil, m)
			continue
		}
		result[k] = v
	}
	for k, v := range override {
		om, ok := v.(map[string]any)
		if !ok {
			result[k] = v
			continue
		}
		if bm, ok := result[k].(map[string]any); ok {
			result[k] = merge(bm, om)
		} else {
			result[k] = merge(nil, om)
		}
	}
	return result
}
