// Package webapp provides per-instance web mounts. Each mount is an
// http.Handler owned by a single plugin instance; the API server routes
// requests under /_chatbot/plugin/<instance>/ to it.
package webapp

import (
	"fmt"
	"net/http"
	"strings"
	"sync"

	"chatbot/pkg/plugin"

	"go.uber.org/zap"
)

// Route is a route added to a mount.
type Route struct {
	Method  string              `json:"method"`
	Path    string              `json:"path"`
	Name    string              `json:"name,omitempty"`
	Options plugin.RouteOptions `json:"-"`
}

// Mount is a plugin instance's web attachment point. Routes use
// net/http pattern syntax, so paths may contain {name} wildcards.
type Mount struct {
	id     string
	prefix string
	logger *zap.Logger

	mu       sync.RWMutex
	mux      *http.ServeMux
	routes   []Route
	patterns map[string]struct{}
}

// NewMount creates an empty mount serving under prefix.
func NewMount(id, prefix string, logger *zap.Logger) *Mount {
	return &Mount{
		id:       id,
		prefix:   strings.TrimSuffix(prefix, "/"),
		logger:   logger,
		mux:      http.NewServeMux(),
		patterns: make(map[string]struct{}),
	}
}

// ID returns the owning instance ID.
func (m *Mount) ID() string { return m.id }

// Prefix returns the URL path prefix of the mount.
func (m *Mount) Prefix() string { return m.prefix }

// AddRoute registers handler for method and path. Registering the same
// method and path twice keeps the first handler.
func (m *Mount) AddRoute(method, path string, handler http.Handler, opts plugin.RouteOptions) {
	method = strings.ToUpper(method)
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	pattern := path
	if method != "" && method != "*" {
		pattern = method + " " + path
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.patterns[pattern]; exists {
		m.logger.Warn("Duplicate route ignored", zap.String("pattern", pattern))
		return
	}

	if method == http.MethodGet && !opts.AllowHead {
		handler = rejectHead(handler)
	}

	if err := handle(m.mux, pattern, handler); err != nil {
		m.logger.Error("Failed to add route", zap.String("pattern", pattern), zap.Error(err))
		return
	}
	m.patterns[pattern] = struct{}{}
	m.routes = append(m.routes, Route{Method: method, Path: path, Name: opts.Name, Options: opts})

	m.logger.Debug("Route added",
		zap.String("method", method),
		zap.String("path", path),
		zap.String("name", opts.Name))
}

// Clear removes every route added through the mount.
func (m *Mount) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.mux = http.NewServeMux()
	m.routes = nil
	m.patterns = make(map[string]struct{})

	m.logger.Debug("Routes cleared")
}

// Routes returns a copy of the registered routes.
func (m *Mount) Routes() []Route {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Route(nil), m.routes...)
}

// ServeHTTP strips the mount prefix and dispatches to the matching route.
func (m *Mount) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	mux := m.mux
	m.mu.RUnlock()

	http.StripPrefix(m.prefix, mux).ServeHTTP(w, r)
}

// handle registers pattern on mux, turning ServeMux's panics on invalid or
// conflicting patterns into errors.
func handle(mux *http.ServeMux, pattern string, handler http.Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	mux.Handle(pattern, handler)
	return nil
}

// rejectHead answers HEAD requests on a GET route with 405. ServeMux lets
// GET patterns match HEAD, which routes only get when they opt in.
func rejectHead(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next.ServeHTTP(w, r)
	})
}
