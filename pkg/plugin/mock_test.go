package plugin

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"chatbot/pkg/event"
)

// route records a call to mockMount.AddRoute
type route struct {
	Method  string
	Path    string
	Handler http.Handler
	Options RouteOptions
}

// mockMount implements WebMount for testing
type mockMount struct {
	mu     sync.Mutex
	routes []route
	clears int
}

func (m *mockMount) AddRoute(method, path string, handler http.Handler, opts RouteOptions) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes = append(m.routes, route{Method: method, Path: path, Handler: handler, Options: opts})
}

func (m *mockMount) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes = nil
	m.clears++
}

func (m *mockMount) Routes() []route {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]route(nil), m.routes...)
}

// countingBus wraps a Dispatcher and counts add/remove calls
type countingBus struct {
	*event.Dispatcher
	adds    int
	removes int
}

func newCountingBus() *countingBus {
	return &countingBus{Dispatcher: event.NewDispatcher()}
}

func (b *countingBus) AddEventHandler(t event.Type, h *event.Handler) {
	b.adds++
	b.Dispatcher.AddEventHandler(t, h)
}

func (b *countingBus) RemoveEventHandler(t event.Type, h *event.Handler) {
	b.removes++
	b.Dispatcher.RemoveEventHandler(t, h)
}

// fakeLoader implements Loader over an in-memory file map
type fakeLoader map[string][]byte

func (l fakeLoader) Source() string { return "memory" }

func (l fakeLoader) ReadFile(name string) ([]byte, error) {
	data, ok := l[name]
	if !ok {
		return nil, errors.New("file not found: " + name)
	}
	return data, nil
}

// fakeConfig implements ConfigProxy with a pending next value
type fakeConfig struct {
	value   string
	next    string
	nextErr error
}

func (c *fakeConfig) LoadAndUpdate() error {
	if c.nextErr != nil {
		return c.nextErr
	}
	c.value = c.next
	return nil
}

func (c *fakeConfig) Decode(out any) error {
	*(out.(*string)) = c.value
	return nil
}

// hookPlugin records hook invocations and can be told to fail
type hookPlugin struct {
	Base
	methods []*Method

	calls []string

	preStartErr error
	startErr    error
	preStopErr  error
	stopErr     error

	bindingsAtStart int
	busCountAtStop  int
	routesAtStop    int
	bus             *countingBus
	mount           *mockMount
}

func (p *hookPlugin) PreStart(ctx context.Context) error {
	p.calls = append(p.calls, "pre_start")
	return p.preStartErr
}

func (p *hookPlugin) Start(ctx context.Context) error {
	p.calls = append(p.calls, "start")
	p.bindingsAtStart = len(p.Instance().Bindings())
	return p.startErr
}

func (p *hookPlugin) PreStop(ctx context.Context) error {
	p.calls = append(p.calls, "pre_stop")
	return p.preStopErr
}

func (p *hookPlugin) Stop(ctx context.Context) error {
	p.calls = append(p.calls, "stop")
	if p.bus != nil {
		p.busCountAtStop = p.bus.Count()
	}
	if p.mount != nil {
		p.routesAtStop = len(p.mount.Routes())
	}
	return p.stopErr
}

func (p *hookPlugin) DeclareHandlers() []*Method {
	p.calls = append(p.calls, "declare")
	return p.methods
}
