package webapp

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// BasePath is the URL path under which plugin mounts are served.
const BasePath = "/_chatbot/plugin/"

// ErrMountInUse is returned when an instance ID already owns a mount.
var ErrMountInUse = errors.New("web mount is already owned")

// Table owns every mount and routes requests to them by instance ID. A mount
// is handed to exactly one owner by Claim and only becomes available again
// after Release.
type Table struct {
	logger *zap.Logger

	mu     sync.RWMutex
	mounts map[string]*Mount
}

// NewTable creates an empty mount table.
func NewTable(logger *zap.Logger) *Table {
	return &Table{
		logger: logger,
		mounts: make(map[string]*Mount),
	}
}

// Claim creates the mount for instance id. It fails with ErrMountInUse if
// the ID already owns one.
func (t *Table) Claim(id string) (*Mount, error) {
	if id == "" || strings.Contains(id, "/") {
		return nil, fmt.Errorf("invalid mount id %q", id)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.mounts[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrMountInUse, id)
	}

	m := NewMount(id, BasePath+id, t.logger.Named("webapp").With(zap.String("id", id)))
	t.mounts[id] = m
	return m, nil
}

// Release clears and drops the mount owned by id.
func (t *Table) Release(id string) {
	t.mu.Lock()
	m, ok := t.mounts[id]
	delete(t.mounts, id)
	t.mu.Unlock()

	if ok {
		m.Clear()
	}
}

// Get returns the mount for id, or nil.
func (t *Table) Get(id string) *Mount {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.mounts[id]
}

// ServeHTTP dispatches /_chatbot/plugin/<id>/... to the mount owned by id.
func (t *Table) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, BasePath)
	if rest == r.URL.Path {
		http.NotFound(w, r)
		return
	}

	id, _, _ := strings.Cut(rest, "/")
	m := t.Get(id)
	if m == nil {
		http.NotFound(w, r)
		return
	}

	m.ServeHTTP(w, r)
}
