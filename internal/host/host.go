// Package host owns the plugin instances of a running bot: it resolves each
// instance's collaborators from the plugin manifest, keeps the instance
// table, and drives starts, stops, restarts and config reloads.
package host

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"

	"chatbot/internal/config"
	"chatbot/internal/loader"
	"chatbot/internal/manifest"
	"chatbot/internal/webapp"
	"chatbot/pkg/plugin"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Version is the host version checked against manifest requirements.
const Version = "0.5.0"

// BaseConfigFile is the plugin file holding default instance config.
const BaseConfigFile = "base-config.yaml"

// Host errors.
var (
	ErrInstanceExists    = errors.New("instance already exists")
	ErrInstanceNotFound  = errors.New("instance not found")
	ErrNoPluginFiles     = errors.New("plugin type has no metadata")
	ErrNoDatabase        = errors.New("no database configured")
	ErrUnsupportedHost   = errors.New("plugin requires a newer host")
	ErrMainClassMismatch = errors.New("main_class does not match the registered plugin type")
	ErrNoConfig          = errors.New("instance has no config")
)

// Options are the shared collaborators handed to every instance.
type Options struct {
	// Bus is the chat client's event bus. Required.
	Bus plugin.EventBus

	// HTTP is the shared HTTP session. Defaults to http.DefaultClient.
	HTTP *http.Client

	Logger   *zap.Logger
	Registry *plugin.Registry

	// Loaders are plugin directories found on disk, keyed by plugin ID.
	// Types without one fall back to the files bundled at registration.
	Loaders map[string]*loader.DirLoader

	// Mounts hands out web mounts. Nil disables the webapp feature.
	Mounts *webapp.Table

	// Watcher reports external edits to instance config files. Optional.
	Watcher *config.Watcher

	ConfigDir string
	PublicURL string

	// OpenDB opens the database of an instance. Nil disables the database
	// feature.
	OpenDB func(id string) (*sql.DB, error)

	// Pool runs StartAll and StopAll work. Nil runs it sequentially.
	Pool *ants.Pool

	// Metrics are updated on lifecycle changes. Optional.
	Metrics *Metrics
}

// Managed is an instance together with the resources the host opened for it.
type Managed struct {
	Entry    Entry
	Meta     *manifest.Meta
	Order    int
	Instance *plugin.Instance

	proxy *config.Proxy
	db    *sql.DB
}

// Status describes an instance for the admin API.
type Status struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Version   string `json:"version"`
	Enabled   bool   `json:"enabled"`
	State     string `json:"state"`
	Bindings  int    `json:"bindings"`
	WebAppURL string `json:"webapp_url,omitempty"`
	Source    string `json:"source"`
}

// Host manages plugin instances
type Host struct {
	opts      Options
	logger    *zap.Logger
	instances cmap.ConcurrentMap[string, *Managed]
}

// New creates a host
func New(opts Options) *Host {
	if opts.HTTP == nil {
		opts.HTTP = http.DefaultClient
	}
	if opts.Registry == nil {
		opts.Registry = plugin.Global()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Host{
		opts:      opts,
		logger:    opts.Logger.Named("host"),
		instances: cmap.New[*Managed](),
	}
}

// Create builds an instance for entry without starting it.
func (h *Host) Create(entry Entry) (_ *Managed, err error) {
	if err := validateEntries([]Entry{entry}); err != nil {
		return nil, err
	}
	if h.instances.Has(entry.ID) {
		return nil, fmt.Errorf("%w: %s", ErrInstanceExists, entry.ID)
	}

	info := h.opts.Registry.Get(entry.Type)
	if info == nil {
		return nil, fmt.Errorf("%w: %s", plugin.ErrUnknownType, entry.Type)
	}

	ldr, err := h.loaderFor(info)
	if err != nil {
		return nil, err
	}
	meta := ldr.Meta()
	if !meta.SupportsHost(Version) {
		return nil, fmt.Errorf("%w: %s needs %s, running %s", ErrUnsupportedHost, meta.ID, meta.MinHostVersion, Version)
	}

	p, err := h.opts.Registry.New(entry.Type)
	if err != nil {
		return nil, err
	}
	if name := typeName(p); meta.TypeName() != name {
		return nil, fmt.Errorf("%w: %s declares %q, registered type is %q",
			ErrMainClassMismatch, meta.ID, meta.TypeName(), name)
	}

	log := h.opts.Logger.Named("instance").With(zap.String("id", entry.ID))
	m := &Managed{Entry: entry, Meta: meta, Order: info.Order}
	deps := plugin.Deps{
		ID:     entry.ID,
		Client: h.opts.Bus,
		HTTP:   h.opts.HTTP,
		Logger: log,
		Loader: ldr,
	}

	var mountClaimed bool
	defer func() {
		if err == nil {
			return
		}
		if mountClaimed {
			h.opts.Mounts.Release(entry.ID)
		}
		if m.db != nil {
			m.db.Close()
		}
	}()

	if meta.Config {
		if m.proxy, err = h.newProxy(entry.ID, p, ldr, log); err != nil {
			return nil, err
		}
		deps.Config = m.proxy
	}

	if meta.Database {
		if h.opts.OpenDB == nil {
			return nil, fmt.Errorf("%w: %s uses a database", ErrNoDatabase, entry.ID)
		}
		if m.db, err = h.opts.OpenDB(entry.ID); err != nil {
			return nil, fmt.Errorf("failed to open database for %s: %w", entry.ID, err)
		}
		deps.Database = m.db
	}

	if meta.WebApp {
		if h.opts.Mounts == nil {
			log.Warn("Plugin uses a webapp but the web server is disabled")
		} else {
			mount, err := h.opts.Mounts.Claim(entry.ID)
			if err != nil {
				return nil, err
			}
			mountClaimed = true
			deps.WebApp = mount
			deps.WebAppURL = strings.TrimSuffix(h.opts.PublicURL, "/") + webapp.BasePath + entry.ID + "/"
		}
	}

	if m.Instance, err = plugin.NewInstance(p, deps); err != nil {
		return nil, err
	}

	if !h.instances.SetIfAbsent(entry.ID, m) {
		err = fmt.Errorf("%w: %s", ErrInstanceExists, entry.ID)
		return nil, err
	}

	if m.proxy != nil && h.opts.Watcher != nil {
		id := entry.ID
		h.opts.Watcher.Add(m.proxy.Path(), func() {
			h.logger.Info("Config file changed", zap.String("id", id))
			h.ReloadConfig(id)
		})
	}

	h.logger.Info("Instance created",
		zap.String("id", entry.ID),
		zap.String("type", entry.Type),
		zap.String("source", ldr.Source()),
		zap.Bool("config", meta.Config),
		zap.Bool("database", meta.Database),
		zap.Bool("webapp", meta.WebApp))
	h.updateGauges()
	return m, nil
}

// typeName is the name of the struct behind a plugin value, the part a
// manifest main_class names after the module.
func typeName(p plugin.Plugin) string {
	t := reflect.TypeOf(p)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}

func (h *Host) loaderFor(info *plugin.TypeInfo) (*loader.DirLoader, error) {
	if l, ok := h.opts.Loaders[info.ID]; ok {
		return l, nil
	}
	if info.Files == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoPluginFiles, info.ID)
	}
	return loader.NewFSLoader("builtin:"+info.ID, info.Files)
}

func (h *Host) newProxy(id string, p plugin.Plugin, ldr *loader.DirLoader, log *zap.Logger) (*config.Proxy, error) {
	base, err := ldr.ReadFile(BaseConfigFile)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read base config: %w", err)
	}

	var validate config.Validator
	if v, ok := p.(plugin.ConfigValidator); ok {
		validate = v.ValidateConfig
	}

	path := filepath.Join(h.opts.ConfigDir, id+".yaml")
	_, statErr := os.Stat(path)

	proxy, err := config.NewProxy(path, base, validate, log.Named("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config for %s: %w", id, err)
	}

	// A new instance gets its base config written out so it can be edited
	if errors.Is(statErr, fs.ErrNotExist) {
		if err := proxy.Save(); err != nil {
			log.Warn("Failed to write initial config", zap.String("path", path), zap.Error(err))
		} else {
			log.Info("Wrote initial config", zap.String("path", path))
		}
	}
	return proxy, nil
}

// LoadAll creates an instance for every entry. Entries that fail are
// reported in the returned error and skipped.
func (h *Host) LoadAll(entries []Entry) error {
	var errs error
	for _, entry := range entries {
		if _, err := h.Create(entry); err != nil {
			h.logger.Error("Failed to create instance", zap.String("id", entry.ID), zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", entry.ID, err))
		}
	}
	return errs
}

// Get returns the managed instance with the given ID.
func (h *Host) Get(id string) (*Managed, bool) {
	return h.instances.Get(id)
}

func (h *Host) get(id string) (*Managed, error) {
	m, ok := h.instances.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
	}
	return m, nil
}

// Instances returns the status of every instance sorted by ID.
func (h *Host) Instances() []Status {
	items := h.instances.Items()
	result := make([]Status, 0, len(items))
	for _, m := range items {
		s := Status{
			ID:       m.Entry.ID,
			Type:     m.Entry.Type,
			Version:  m.Meta.Version,
			Enabled:  m.Entry.Enabled,
			State:    m.Instance.State().String(),
			Bindings: len(m.Instance.Bindings()),
			Source:   m.Instance.Loader().Source(),
		}
		if u := m.Instance.WebAppURL(); u != nil {
			s.WebAppURL = u.String()
		}
		result = append(result, s)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Start starts the instance with the given ID.
func (h *Host) Start(ctx context.Context, id string) error {
	m, err := h.get(id)
	if err != nil {
		return err
	}

	err = m.Instance.Start(ctx)
	h.record("start", id, err)
	return err
}

// Stop stops the instance with the given ID.
func (h *Host) Stop(ctx context.Context, id string) error {
	m, err := h.get(id)
	if err != nil {
		return err
	}

	err = m.Instance.Stop(ctx)
	h.record("stop", id, err)
	return err
}

// Restart stops the instance if it is started and starts it again.
func (h *Host) Restart(ctx context.Context, id string) error {
	m, err := h.get(id)
	if err != nil {
		return err
	}

	if m.Instance.State() == plugin.StateStarted {
		if err := h.Stop(ctx, id); err != nil {
			h.logger.Warn("Error stopping instance for restart", zap.String("id", id), zap.Error(err))
		}
	}
	return h.Start(ctx, id)
}

// ReloadConfig reloads the configuration of the instance with the given ID.
// Instances without config are left alone.
func (h *Host) ReloadConfig(id string) error {
	m, err := h.get(id)
	if err != nil {
		return err
	}

	if err := m.Instance.OnExternalConfigUpdate(); err != nil {
		if h.opts.Metrics != nil {
			h.opts.Metrics.ReloadFailures.Inc()
		}
		return err
	}
	return nil
}

// Config returns a copy of the active configuration of the instance.
func (h *Host) Config(id string) (map[string]any, error) {
	m, err := h.get(id)
	if err != nil {
		return nil, err
	}
	if m.proxy == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoConfig, id)
	}
	return m.proxy.Values(), nil
}

// ReloadAllConfigs reloads every instance's configuration.
func (h *Host) ReloadAllConfigs() error {
	var errs error
	for _, id := range h.ids() {
		if err := h.ReloadConfig(id); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", id, err))
		}
	}
	return errs
}

// Delete stops the instance, releases its mount and database and forgets it.
func (h *Host) Delete(ctx context.Context, id string) error {
	m, err := h.get(id)
	if err != nil {
		return err
	}

	var errs error
	if m.Instance.State() == plugin.StateStarted {
		errs = multierr.Append(errs, h.Stop(ctx, id))
	}

	h.instances.Remove(id)
	errs = multierr.Append(errs, h.release(m))

	h.logger.Info("Instance deleted", zap.String("id", id))
	h.updateGauges()
	return errs
}

func (h *Host) release(m *Managed) error {
	if m.proxy != nil && h.opts.Watcher != nil {
		h.opts.Watcher.Remove(m.proxy.Path())
	}
	if m.Instance.WebApp() != nil && h.opts.Mounts != nil {
		h.opts.Mounts.Release(m.Entry.ID)
	}
	if m.db != nil {
		if err := m.db.Close(); err != nil {
			return fmt.Errorf("failed to close database for %s: %w", m.Entry.ID, err)
		}
	}
	return nil
}

// StartAll starts every enabled instance that is not running. Instances
// start in groups by their type's order; a group runs concurrently on the
// pool and must finish before the next one begins.
func (h *Host) StartAll(ctx context.Context) error {
	groups := make(map[int][]string)
	for _, m := range h.instances.Items() {
		if m.Entry.Enabled && m.Instance.State() != plugin.StateStarted {
			groups[m.Order] = append(groups[m.Order], m.Entry.ID)
		}
	}

	orders := make([]int, 0, len(groups))
	for order := range groups {
		orders = append(orders, order)
	}
	sort.Ints(orders)

	var errs error
	for _, order := range orders {
		ids := groups[order]
		sort.Strings(ids)
		errs = multierr.Append(errs, h.runAll(ctx, ids, h.Start))
	}
	return errs
}

// StopAll stops every started instance concurrently.
func (h *Host) StopAll(ctx context.Context) error {
	var ids []string
	for _, m := range h.instances.Items() {
		if m.Instance.State() == plugin.StateStarted {
			ids = append(ids, m.Entry.ID)
		}
	}
	sort.Strings(ids)
	return h.runAll(ctx, ids, h.Stop)
}

// Close stops every instance and releases what the host opened for them.
func (h *Host) Close(ctx context.Context) error {
	errs := h.StopAll(ctx)
	for _, m := range h.instances.Items() {
		errs = multierr.Append(errs, h.release(m))
	}
	h.instances.Clear()
	h.updateGauges()
	return errs
}

func (h *Host) runAll(ctx context.Context, ids []string, op func(context.Context, string) error) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs error
	)

	for _, id := range ids {
		task := func() {
			defer wg.Done()
			if err := op(ctx, id); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", id, err))
				mu.Unlock()
			}
		}

		wg.Add(1)
		if h.opts.Pool == nil {
			task()
			continue
		}
		if err := h.opts.Pool.Submit(task); err != nil {
			h.logger.Warn("Worker pool rejected task, running inline", zap.String("id", id), zap.Error(err))
			task()
		}
	}

	wg.Wait()
	return errs
}

func (h *Host) ids() []string {
	ids := h.instances.Keys()
	sort.Strings(ids)
	return ids
}

// record logs the outcome of a lifecycle operation and updates metrics
func (h *Host) record(op, id string, err error) {
	if err != nil {
		h.logger.Error("Instance lifecycle operation failed",
			zap.String("op", op),
			zap.String("id", id),
			zap.Error(err))
	} else {
		h.logger.Info("Instance lifecycle operation completed",
			zap.String("op", op),
			zap.String("id", id))
	}

	if m := h.opts.Metrics; m != nil {
		switch {
		case err != nil:
			m.Failures.WithLabelValues(op).Inc()
		case op == "start":
			m.Starts.Inc()
		case op == "stop":
			m.Stops.Inc()
		}
	}
	h.updateGauges()
}

func (h *Host) updateGauges() {
	m := h.opts.Metrics
	if m == nil {
		return
	}

	bindings := 0
	states := map[string]int{}
	for _, s := range []plugin.State{plugin.StateUninitialized, plugin.StateStarted, plugin.StateStopped} {
		states[s.String()] = 0
	}
	for _, managed := range h.instances.Items() {
		bindings += len(managed.Instance.Bindings())
		states[managed.Instance.State().String()]++
	}

	m.ActiveBindings.Set(float64(bindings))
	for state, n := range states {
		m.Instances.WithLabelValues(state).Set(float64(n))
	}
}
