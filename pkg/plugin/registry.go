package plugin

import (
	"fmt"
	"io/fs"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Priority constants for plugin type registration.
// Higher priority values override lower priority types with the same ID.
const (
	// PriorityDefault is the default priority for plugin types.
	PriorityDefault = 0

	// PriorityOverride is used by private builds to replace a bundled
	// plugin type with their own implementation.
	PriorityOverride = 100
)

// TypeInfo describes a registered plugin type.
type TypeInfo struct {
	// ID is the plugin type identifier, matching the manifest id.
	ID string

	// Description is a human-readable description of the plugin type.
	Description string

	// Priority determines which registration wins when several use the
	// same ID. Higher priority wins.
	Priority int

	// Factory creates new, unbound plugin values.
	Factory Factory

	// Order specifies start order for instances of this type. Lower values
	// start first. Default is 50.
	Order int

	// Files holds the metadata and resources bundled with the type. A plugin
	// directory with the same ID takes precedence.
	Files fs.FS
}

// Registry holds the plugin types available to the host.
// Registration happens from init() functions, before the application logger
// exists, so Register does not log. Call LogTypes once a logger is set up.
type Registry struct {
	mu    sync.RWMutex
	types map[string]TypeInfo
	order []string

	// shadowed counts the registrations per ID that lost to another one
	shadowed map[string]int
}

// NewRegistry creates a new plugin type registry.
func NewRegistry() *Registry {
	return &Registry{
		types:    make(map[string]TypeInfo),
		order:    make([]string, 0),
		shadowed: make(map[string]int),
	}
}

// Register adds a plugin type to the registry.
// If a type with the same ID already exists, the one with higher
// priority wins. If priorities are equal, the later registration wins.
func (r *Registry) Register(info TypeInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if info.ID == "" {
		return fmt.Errorf("plugin type id cannot be empty")
	}

	if info.Factory == nil {
		return fmt.Errorf("plugin type %s: factory cannot be nil", info.ID)
	}

	if info.Order == 0 {
		info.Order = 50
	}

	existing, exists := r.types[info.ID]
	if exists {
		r.shadowed[info.ID]++
		if info.Priority < existing.Priority {
			return nil
		}
	}

	r.types[info.ID] = info

	if !exists {
		r.order = append(r.order, info.ID)
	}
	return nil
}

// LogTypes logs every registered type in start order, including how many
// registrations with the same ID it replaced or skipped.
func (r *Registry) LogTypes(logger *zap.Logger) {
	types := r.List()

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, info := range types {
		fields := []zap.Field{
			zap.String("id", info.ID),
			zap.Int("priority", info.Priority),
			zap.Int("order", info.Order),
			zap.String("description", info.Description),
		}
		if n := r.shadowed[info.ID]; n > 0 {
			fields = append(fields, zap.Int("shadowed", n))
		}
		logger.Info("Plugin type registered", fields...)
	}
	logger.Info("Plugin types available", zap.Int("count", len(types)))
}

// Get returns the type info for a given ID, or nil if not found.
func (r *Registry) Get(id string) *TypeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, ok := r.types[id]
	if !ok {
		return nil
	}
	return &info
}

// New creates an unbound plugin value of the given type.
func (r *Registry) New(id string) (Plugin, error) {
	info := r.Get(id)
	if info == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, id)
	}

	p := info.Factory()
	if p == nil {
		return nil, fmt.Errorf("plugin type %s: factory returned nil", id)
	}
	return p, nil
}

// List returns all registered types sorted by their start order.
func (r *Registry) List() []TypeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]TypeInfo, 0, len(r.types))
	for _, id := range r.order {
		result = append(result, r.types[id])
	}

	// Sort by order (lower first), then by ID for stability
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].Order != result[j].Order {
			return result[i].Order < result[j].Order
		}
		return result[i].ID < result[j].ID
	})

	return result
}

// IDs returns the IDs of all registered types in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]string, len(r.order))
	copy(result, r.order)
	return result
}

// Clear removes all registered types. Useful for testing.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.types = make(map[string]TypeInfo)
	r.order = make([]string, 0)
	r.shadowed = make(map[string]int)
}

// Global registry instance
var globalRegistry = NewRegistry()

// Register adds a plugin type to the global registry.
// This is typically called from init() functions in plugin packages.
func Register(info TypeInfo) error {
	return globalRegistry.Register(info)
}

// Get returns type info from the global registry.
func Get(id string) *TypeInfo {
	return globalRegistry.Get(id)
}

// List returns all types from the global registry.
func List() []TypeInfo {
	return globalRegistry.List()
}

// IDs returns all type IDs from the global registry.
func IDs() []string {
	return globalRegistry.IDs()
}

// Global returns the global registry.
func Global() *Registry {
	return globalRegistry
}

// ClearGlobal clears the global registry. Useful for testing.
func ClearGlobal() {
	globalRegistry.Clear()
}
