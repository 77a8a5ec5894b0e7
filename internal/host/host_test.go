package host

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"chatbot/internal/chat"
	"chatbot/internal/config"
	"chatbot/internal/webapp"
	"chatbot/pkg/event"
	"chatbot/pkg/plugin"

	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	sqlmock "gopkg.in/DATA-DOG/go-sqlmock.v1"
)

const (
	basicType = "xyz.test.basic"
	fullType  = "xyz.test.full"
)

func metaFS(id, mainClass, extra string, files ...string) fstest.MapFS {
	fsys := fstest.MapFS{
		"maubot.yaml": {Data: []byte(fmt.Sprintf("id: %s\nversion: 1.0.0\nmodules: [plugin]\nmain_class: %s\n%s", id, mainClass, extra))},
	}
	for i := 0; i+1 < len(files); i += 2 {
		fsys[files[i]] = &fstest.MapFile{Data: []byte(files[i+1])}
	}
	return fsys
}

// basicPlugin handles messages and can be told to fail its Start hook
type basicPlugin struct {
	plugin.Base
	startErr error
}

func (p *basicPlugin) Start(ctx context.Context) error { return p.startErr }

func (p *basicPlugin) DeclareHandlers() []*plugin.Method {
	return []*plugin.Method{
		plugin.EventHandler("onMessage", event.TypeMessage, func(ctx context.Context, evt *event.Event) error {
			return nil
		}),
	}
}

type fullConfig struct {
	Greeting string `yaml:"greeting"`
}

// fullPlugin uses config, database and webapp
type fullPlugin struct {
	plugin.Base
}

func (p *fullPlugin) ValidateConfig(values map[string]any) error {
	if _, ok := values["greeting"].(string); !ok {
		return errors.New("greeting must be a string")
	}
	return nil
}

func (p *fullPlugin) Start(ctx context.Context) error {
	_, err := p.Database().ExecContext(ctx, "CREATE TABLE IF NOT EXISTS greetings (room TEXT)")
	return err
}

func (p *fullPlugin) greeting() string {
	var cfg fullConfig
	if err := p.Config().Decode(&cfg); err != nil {
		return ""
	}
	return cfg.Greeting
}

func (p *fullPlugin) DeclareHandlers() []*plugin.Method {
	return []*plugin.Method{
		plugin.WebHandler("greet", http.MethodGet, "/greet", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, p.greeting())
		}),
	}
}

type fixture struct {
	host      *Host
	bus       *chat.MockClient
	mounts    *webapp.Table
	metrics   *Metrics
	registry  *plugin.Registry
	configDir string
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()

	f := &fixture{
		bus:       chat.NewMockClient(),
		mounts:    webapp.NewTable(zap.NewNop()),
		metrics:   NewMetrics(prometheus.NewRegistry()),
		registry:  plugin.NewRegistry(),
		configDir: t.TempDir(),
	}

	require.NoError(t, f.registry.Register(plugin.TypeInfo{
		ID:      basicType,
		Factory: func() plugin.Plugin { return &basicPlugin{} },
		Files:   metaFS(basicType, "plugin/basicPlugin", ""),
	}))
	require.NoError(t, f.registry.Register(plugin.TypeInfo{
		ID:      fullType,
		Factory: func() plugin.Plugin { return &fullPlugin{} },
		Files:   metaFS(fullType, "plugin/fullPlugin", "config: true\ndatabase: true\nwebapp: true\n", BaseConfigFile, "greeting: hello\n"),
		Order:   10,
	}))

	opts := Options{
		Bus:       f.bus,
		Logger:    zap.NewNop(),
		Registry:  f.registry,
		Mounts:    f.mounts,
		ConfigDir: f.configDir,
		PublicURL: "https://bot.example.com/",
		Metrics:   f.metrics,
	}
	if mutate != nil {
		mutate(&opts)
	}
	f.host = New(opts)
	return f
}

func TestHost_CreateStartStop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	m, err := f.host.Create(Entry{ID: "basic1", Type: basicType, Enabled: true})
	require.NoError(t, err)
	assert.Equal(t, plugin.StateUninitialized, m.Instance.State())
	assert.Nil(t, m.Instance.Config())
	assert.Nil(t, m.Instance.WebApp())
	assert.Equal(t, "builtin:"+basicType, m.Instance.Loader().Source())

	require.NoError(t, f.host.Start(ctx, "basic1"))
	assert.Equal(t, 1, f.bus.Count())
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Starts))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.ActiveBindings))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Instances.WithLabelValues("started")))

	statuses := f.host.Instances()
	require.Len(t, statuses, 1)
	assert.Equal(t, Status{
		ID:       "basic1",
		Type:     basicType,
		Version:  "1.0.0",
		Enabled:  true,
		State:    "started",
		Bindings: 1,
		Source:   "builtin:" + basicType,
	}, statuses[0])

	assert.ErrorIs(t, f.host.Start(ctx, "basic1"), plugin.ErrAlreadyStarted)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Failures.WithLabelValues("start")))

	require.NoError(t, f.host.Stop(ctx, "basic1"))
	assert.Equal(t, 0, f.bus.Count())
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Stops))
	assert.Equal(t, float64(0), testutil.ToFloat64(f.metrics.ActiveBindings))

	assert.ErrorIs(t, f.host.Stop(ctx, "basic1"), plugin.ErrNotStarted)
	assert.ErrorIs(t, f.host.Start(ctx, "missing"), ErrInstanceNotFound)
}

func TestHost_CreateErrors(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.registry.Register(plugin.TypeInfo{
		ID:      "xyz.test.nofiles",
		Factory: func() plugin.Plugin { return &basicPlugin{} },
	}))
	require.NoError(t, f.registry.Register(plugin.TypeInfo{
		ID:      "xyz.test.future",
		Factory: func() plugin.Plugin { return &basicPlugin{} },
		Files:   metaFS("xyz.test.future", "basicPlugin", "maubot: 99.0.0\n"),
	}))
	require.NoError(t, f.registry.Register(plugin.TypeInfo{
		ID:      "xyz.test.wrongclass",
		Factory: func() plugin.Plugin { return &basicPlugin{} },
		Files:   metaFS("xyz.test.wrongclass", "plugin/fullPlugin", ""),
	}))

	_, err := f.host.Create(Entry{ID: "basic1", Type: basicType})
	require.NoError(t, err)

	tests := []struct {
		name  string
		entry Entry
		want  error
	}{
		{"missing id", Entry{Type: basicType}, ErrInvalidEntry},
		{"missing type", Entry{ID: "x"}, ErrInvalidEntry},
		{"duplicate", Entry{ID: "basic1", Type: basicType}, ErrInstanceExists},
		{"unknown type", Entry{ID: "x", Type: "xyz.test.unknown"}, plugin.ErrUnknownType},
		{"no files", Entry{ID: "x", Type: "xyz.test.nofiles"}, ErrNoPluginFiles},
		{"unsupported host", Entry{ID: "x", Type: "xyz.test.future"}, ErrUnsupportedHost},
		{"main class mismatch", Entry{ID: "x", Type: "xyz.test.wrongclass"}, ErrMainClassMismatch},
		{"no database", Entry{ID: "x", Type: fullType}, ErrNoDatabase},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.host.Create(tt.entry)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.Len(t, f.host.Instances(), 1)
	assert.Nil(t, f.mounts.Get("x"), "failed creation does not hold a mount")
}

func TestHost_CreateReleasesOnMountConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.ExpectClose()

	f := newFixture(t, func(o *Options) {
		o.OpenDB = func(id string) (*sql.DB, error) { return db, nil }
	})

	_, err = f.mounts.Claim("full1")
	require.NoError(t, err)

	_, err = f.host.Create(Entry{ID: "full1", Type: fullType})
	assert.ErrorIs(t, err, webapp.ErrMountInUse)
	assert.NoError(t, mock.ExpectationsWereMet(), "database is closed when creation fails")
}

func TestHost_FullFeatures(t *testing.T) {
	ctx := context.Background()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS greetings").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectClose()

	var opened []string
	f := newFixture(t, func(o *Options) {
		o.OpenDB = func(id string) (*sql.DB, error) {
			opened = append(opened, id)
			return db, nil
		}
	})

	m, err := f.host.Create(Entry{ID: "full1", Type: fullType, Enabled: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"full1"}, opened)
	require.NotNil(t, m.Instance.WebAppURL())
	assert.Equal(t, "https://bot.example.com/_chatbot/plugin/full1/", m.Instance.WebAppURL().String())
	assert.Same(t, f.mounts.Get("full1"), m.Instance.WebApp())

	configPath := filepath.Join(f.configDir, "full1.yaml")
	data, err := os.ReadFile(configPath)
	require.NoError(t, err, "base config is written out on first create")
	assert.Equal(t, "greeting: hello\n", string(data))

	values, err := f.host.Config("full1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"greeting": "hello"}, values)

	require.NoError(t, f.host.Start(ctx, "full1"))

	get := func() string {
		rec := httptest.NewRecorder()
		f.mounts.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, webapp.BasePath+"full1/greet", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		return rec.Body.String()
	}
	assert.Equal(t, "hello", get())

	require.NoError(t, os.WriteFile(configPath, []byte("greeting: hi\n"), 0644))
	require.NoError(t, f.host.ReloadConfig("full1"))
	assert.Equal(t, "hi", get())

	require.NoError(t, os.WriteFile(configPath, []byte("greeting: [1, 2]\n"), 0644))
	assert.ErrorIs(t, f.host.ReloadConfig("full1"), config.ErrInvalidConfig)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.ReloadFailures))
	assert.Equal(t, "hi", get(), "rejected config is not applied")

	require.NoError(t, f.host.Delete(ctx, "full1"))
	assert.Nil(t, f.mounts.Get("full1"))
	assert.Empty(t, f.host.Instances())
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Stops))
	assert.NoError(t, mock.ExpectationsWereMet())

	assert.ErrorIs(t, f.host.Delete(ctx, "full1"), ErrInstanceNotFound)
}

func TestHost_WatcherReloadsConfig(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	watcher := config.NewWatcher(time.Hour, zap.NewNop())
	f := newFixture(t, func(o *Options) {
		o.Watcher = watcher
		o.OpenDB = func(string) (*sql.DB, error) { return db, nil }
	})

	configPath := filepath.Join(f.configDir, "full1.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("greeting: hi\n"), 0644))

	m, err := f.host.Create(Entry{ID: "full1", Type: fullType})
	require.NoError(t, err)
	p := m.Instance.Plugin().(*fullPlugin)
	assert.Equal(t, "hi", p.greeting())

	data, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Equal(t, "greeting: hi\n", string(data), "an existing config file is not rewritten")

	require.NoError(t, os.WriteFile(configPath, []byte("greeting: hey\n"), 0644))
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(configPath, future, future))

	watcher.Check()
	assert.Equal(t, "hey", p.greeting())
}

func TestHost_Config(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.host.Create(Entry{ID: "basic1", Type: basicType})
	require.NoError(t, err)

	_, err = f.host.Config("basic1")
	assert.ErrorIs(t, err, ErrNoConfig)
	_, err = f.host.Config("missing")
	assert.ErrorIs(t, err, ErrInstanceNotFound)

	assert.NoFileExists(t, filepath.Join(f.configDir, "basic1.yaml"))
}

func TestHost_StartAllStopAll(t *testing.T) {
	ctx := context.Background()

	pool, err := ants.NewPool(2)
	require.NoError(t, err)
	defer pool.Release()

	f := newFixture(t, func(o *Options) { o.Pool = pool })

	for _, e := range []Entry{
		{ID: "a", Type: basicType, Enabled: true},
		{ID: "b", Type: basicType, Enabled: true},
		{ID: "c", Type: basicType, Enabled: true},
		{ID: "off", Type: basicType, Enabled: false},
	} {
		_, err := f.host.Create(e)
		require.NoError(t, err)
	}

	broken, _ := f.host.Get("c")
	broken.Instance.Plugin().(*basicPlugin).startErr = errors.New("boom")

	err = f.host.StartAll(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "c: boom")

	states := map[string]string{}
	for _, s := range f.host.Instances() {
		states[s.ID] = s.State
	}
	assert.Equal(t, map[string]string{
		"a":   "started",
		"b":   "started",
		"c":   "started",
		"off": "uninitialized",
	}, states)
	assert.Equal(t, 3, f.bus.Count())
	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.Starts))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Failures.WithLabelValues("start")))

	require.NoError(t, f.host.StartAll(ctx), "started instances are skipped")

	require.NoError(t, f.host.StopAll(ctx))
	assert.Equal(t, 0, f.bus.Count())
	assert.Equal(t, float64(3), testutil.ToFloat64(f.metrics.Stops))
}

func TestHost_StartAllOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	var order []string
	for _, tc := range []struct {
		id    string
		order int
	}{
		{"xyz.test.late", 90},
		{"xyz.test.early", 5},
	} {
		id := tc.id
		require.NoError(t, f.registry.Register(plugin.TypeInfo{
			ID:    id,
			Order: tc.order,
			Files: metaFS(id, "orderPlugin", ""),
			Factory: func() plugin.Plugin {
				return &orderPlugin{record: func() { order = append(order, id) }}
			},
		}))
	}

	require.NoError(t, f.host.LoadAll([]Entry{
		{ID: "late", Type: "xyz.test.late", Enabled: true},
		{ID: "early", Type: "xyz.test.early", Enabled: true},
	}))
	require.NoError(t, f.host.StartAll(ctx))
	assert.Equal(t, []string{"xyz.test.early", "xyz.test.late"}, order)
}

type orderPlugin struct {
	plugin.Base
	record func()
}

func (p *orderPlugin) Start(ctx context.Context) error {
	p.record()
	return nil
}

func TestHost_Restart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	_, err := f.host.Create(Entry{ID: "basic1", Type: basicType})
	require.NoError(t, err)

	require.NoError(t, f.host.Restart(ctx, "basic1"), "restart starts a stopped instance")
	require.NoError(t, f.host.Restart(ctx, "basic1"))
	assert.Equal(t, 1, f.bus.Count())
	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.Starts))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Stops))
}

func TestHost_LoadAllAndClose(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	err := f.host.LoadAll([]Entry{
		{ID: "a", Type: basicType, Enabled: true},
		{ID: "b", Type: "xyz.test.unknown", Enabled: true},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, plugin.ErrUnknownType)
	assert.Len(t, f.host.Instances(), 1)

	require.NoError(t, f.host.StartAll(ctx))
	require.NoError(t, f.host.ReloadAllConfigs())
	require.NoError(t, f.host.Close(ctx))
	assert.Empty(t, f.host.Instances())
	assert.Equal(t, 0, f.bus.Count())
}

func TestLoadEntries(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "instances.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`instances:
  - id: echobot
    type: xyz.maubot.echo
    enabled: true
  - id: spare
    type: xyz.maubot.echo
`), 0644))

	entries, err := LoadEntries(path)
	require.NoError(t, err)
	assert.Equal(t, []Entry{
		{ID: "echobot", Type: "xyz.maubot.echo", Enabled: true},
		{ID: "spare", Type: "xyz.maubot.echo"},
	}, entries)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte(`instances:
  - id: dup
    type: t
  - id: dup
    type: t
  - type: t
`), 0644))
	_, err = LoadEntries(bad)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidEntry)
	assert.Contains(t, err.Error(), "duplicate id dup")
	assert.Contains(t, err.Error(), "entry 2 has no id")

	_, err = LoadEntries(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
