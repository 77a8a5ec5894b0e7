// Package plugin provides the plugin lifecycle runtime: the Plugin contract,
// the Instance state machine that starts and stops a plugin, handler
// discovery that wires declared handlers into the chat client and the web
// mount, and a registry of plugin types that the host instantiates from.
package plugin

import (
	"context"
	"net/http"

	"chatbot/pkg/event"
)

// Plugin is the contract every plugin type implements. Embed Base in a struct
// used by pointer to get no-op hooks and access to the owning Instance; only
// the hooks a plugin cares about need to be overridden.
type Plugin interface {
	// PreStart runs before any handler is registered.
	PreStart(ctx context.Context) error

	// Start is the plugin's entry point. Handlers are already live.
	Start(ctx context.Context) error

	// PreStop runs before handlers are removed.
	PreStop(ctx context.Context) error

	// Stop runs after handlers are removed and the web mount is cleared.
	Stop(ctx context.Context) error

	// DeclareHandlers lists the plugin's methods together with their
	// handler descriptors. It is called once per start.
	DeclareHandlers() []*Method

	base() *Base
}

// EventBus is the chat client's handler table.
type EventBus = event.Bus

// WebMount is the attachment point for a plugin's HTTP routes. A mount is
// owned by exactly one instance; Clear removes every route added through it.
type WebMount interface {
	AddRoute(method, path string, handler http.Handler, opts RouteOptions)
	Clear()
}

// ConfigProxy holds an instance's configuration.
type ConfigProxy interface {
	// LoadAndUpdate re-reads and validates the configuration. On failure the
	// previously loaded value stays active.
	LoadAndUpdate() error

	// Decode copies the current configuration into out.
	Decode(out any) error
}

// ConfigValidator is implemented by plugins that check their configuration
// before it becomes active. A rejected configuration is never applied.
type ConfigValidator interface {
	ValidateConfig(values map[string]any) error
}

// Loader gives an instance access to the files shipped with its plugin type.
type Loader interface {
	// Source describes where the plugin was loaded from.
	Source() string

	// ReadFile reads a file relative to the plugin root.
	ReadFile(name string) ([]byte, error)
}

// Factory creates a new, unbound plugin value.
type Factory func() Plugin
