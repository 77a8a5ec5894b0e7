package plugin

import (
	"context"
	"database/sql"
	"net/http"
	"net/url"

	"go.uber.org/zap"
)

// Base implements the optional parts of Plugin. Hooks are no-ops and a plugin
// declares no handlers unless it overrides DeclareHandlers.
type Base struct {
	inst *Instance
}

func (b *Base) base() *Base { return b }

// PreStart does nothing.
func (b *Base) PreStart(ctx context.Context) error { return nil }

// Start does nothing.
func (b *Base) Start(ctx context.Context) error { return nil }

// PreStop does nothing.
func (b *Base) PreStop(ctx context.Context) error { return nil }

// Stop does nothing.
func (b *Base) Stop(ctx context.Context) error { return nil }

// DeclareHandlers declares no handlers.
func (b *Base) DeclareHandlers() []*Method { return nil }

// Instance returns the instance this plugin is bound to, or nil before
// NewInstance has been called.
func (b *Base) Instance() *Instance { return b.inst }

// ID returns the instance ID.
func (b *Base) ID() string { return b.inst.ID() }

// Log returns the instance logger.
func (b *Base) Log() *zap.Logger { return b.inst.Log() }

// Client returns the chat client's event bus.
func (b *Base) Client() EventBus { return b.inst.Client() }

// HTTP returns the shared HTTP session.
func (b *Base) HTTP() *http.Client { return b.inst.HTTP() }

// Config returns the config proxy, or nil if the plugin has no config.
func (b *Base) Config() ConfigProxy { return b.inst.Config() }

// Database returns the database handle, or nil.
func (b *Base) Database() *sql.DB { return b.inst.Database() }

// WebApp returns the web mount, or nil.
func (b *Base) WebApp() WebMount { return b.inst.WebApp() }

// WebAppURL returns the public base URL of the web mount, or nil.
func (b *Base) WebAppURL() *url.URL { return b.inst.WebAppURL() }

// Loader returns the loader the plugin type came from.
func (b *Base) Loader() Loader { return b.inst.Loader() }
