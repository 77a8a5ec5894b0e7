package plugin

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"chatbot/pkg/event"

	"go.uber.org/zap"
)

// Binding is an event handler registered on the client while the instance
// is started.
type Binding struct {
	EventType event.Type
	Handler   *event.Handler
}

// Instance runs one plugin through its lifecycle. Start and Stop are
// serialized per instance; bindings are only touched while lifecycleMu is
// held, so hooks may safely read State and Bindings.
type Instance struct {
	lifecycleMu sync.Mutex

	mu       sync.RWMutex
	state    State
	bindings []Binding

	plugin    Plugin
	id        string
	client    EventBus
	http      *http.Client
	log       *zap.Logger
	loader    Loader
	config    ConfigProxy
	database  *sql.DB
	webapp    WebMount
	webappURL *url.URL
}

// NewInstance binds p to the given collaborators. The plugin value must not
// be shared between instances.
func NewInstance(p Plugin, deps Deps) (*Instance, error) {
	if p == nil {
		return nil, ErrNilPlugin
	}
	b := p.base()
	if b == nil {
		return nil, ErrNilPlugin
	}
	if b.inst != nil {
		return nil, ErrAlreadyBound
	}

	switch {
	case deps.ID == "":
		return nil, fmt.Errorf("%w: id", ErrMissingDependency)
	case deps.Client == nil:
		return nil, fmt.Errorf("%w: client", ErrMissingDependency)
	case deps.HTTP == nil:
		return nil, fmt.Errorf("%w: http session", ErrMissingDependency)
	case deps.Logger == nil:
		return nil, fmt.Errorf("%w: logger", ErrMissingDependency)
	case deps.Loader == nil:
		return nil, fmt.Errorf("%w: loader", ErrMissingDependency)
	}

	inst := &Instance{
		state:    StateUninitialized,
		plugin:   p,
		id:       deps.ID,
		client:   deps.Client,
		http:     deps.HTTP,
		log:      deps.Logger,
		loader:   deps.Loader,
		config:   deps.Config,
		database: deps.Database,
		webapp:   deps.WebApp,
	}

	if deps.WebApp != nil && deps.WebAppURL != "" {
		u, err := url.Parse(deps.WebAppURL)
		if err != nil {
			return nil, fmt.Errorf("%w %q: %v", ErrInvalidWebAppURL, deps.WebAppURL, err)
		}
		inst.webappURL = u
	}

	b.inst = inst
	return inst, nil
}

// ID returns the instance identifier.
func (i *Instance) ID() string { return i.id }

// Plugin returns the plugin value run by this instance.
func (i *Instance) Plugin() Plugin { return i.plugin }

// Log returns the instance logger.
func (i *Instance) Log() *zap.Logger { return i.log }

// Client returns the chat client's event bus.
func (i *Instance) Client() EventBus { return i.client }

// HTTP returns the shared HTTP session.
func (i *Instance) HTTP() *http.Client { return i.http }

// Loader returns the plugin type's loader.
func (i *Instance) Loader() Loader { return i.loader }

// Config returns the config proxy, or nil.
func (i *Instance) Config() ConfigProxy { return i.config }

// Database returns the database handle, or nil.
func (i *Instance) Database() *sql.DB { return i.database }

// WebApp returns the web mount, or nil.
func (i *Instance) WebApp() WebMount { return i.webapp }

// WebAppURL returns the parsed base URL of the web mount, or nil when no
// mount is bound or no URL was configured.
func (i *Instance) WebAppURL() *url.URL { return i.webappURL }

// State returns the current lifecycle state.
func (i *Instance) State() State {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.state
}

// Bindings returns a copy of the active handler bindings.
func (i *Instance) Bindings() []Binding {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return append([]Binding(nil), i.bindings...)
}

// Start runs PreStart, registers the plugin's declared handlers and then runs
// the Start hook. Hook errors are returned as is.
//
// If PreStart fails nothing is registered. If Start fails the handlers stay
// registered and the instance is left started; the caller decides whether to
// Stop it.
func (i *Instance) Start(ctx context.Context) error {
	i.lifecycleMu.Lock()
	defer i.lifecycleMu.Unlock()

	if i.State() == StateStarted {
		return ErrAlreadyStarted
	}

	if err := i.plugin.PreStart(ctx); err != nil {
		return err
	}

	bindings := registerHandlers(i.plugin, i.client, i.webapp, i.log)

	i.mu.Lock()
	i.bindings = bindings
	i.state = StateStarted
	i.mu.Unlock()

	i.log.Debug("Instance handlers registered", zap.Int("bindings", len(bindings)))

	return i.plugin.Start(ctx)
}

// Stop runs PreStop, removes every binding recorded at start, clears the web
// mount and then runs the Stop hook. Teardown happens even when PreStop
// fails; in that case the Stop hook is skipped and the PreStop error is
// returned.
func (i *Instance) Stop(ctx context.Context) error {
	i.lifecycleMu.Lock()
	defer i.lifecycleMu.Unlock()

	if i.State() != StateStarted {
		return ErrNotStarted
	}

	preStopErr := i.plugin.PreStop(ctx)

	i.mu.Lock()
	bindings := i.bindings
	i.bindings = nil
	i.state = StateStopped
	i.mu.Unlock()

	for _, b := range bindings {
		i.client.RemoveEventHandler(b.EventType, b.Handler)
	}
	if i.webapp != nil {
		i.webapp.Clear()
	}

	i.log.Debug("Instance handlers removed", zap.Int("bindings", len(bindings)))

	if preStopErr != nil {
		return preStopErr
	}
	return i.plugin.Stop(ctx)
}

// OnExternalConfigUpdate reloads the instance configuration after it was
// changed outside the plugin. Without a config proxy it does nothing. A
// failed reload keeps the previous configuration and is logged and returned.
func (i *Instance) OnExternalConfigUpdate() error {
	if i.config == nil {
		return nil
	}

	if err := i.config.LoadAndUpdate(); err != nil {
		i.log.Error("Failed to reload config", zap.Error(err))
		return err
	}

	i.log.Info("Config reloaded")
	return nil
}
