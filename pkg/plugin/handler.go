package plugin

import (
	"net/http"
	"strings"

	"chatbot/pkg/event"
)

// EventHandlerDescriptor marks a method as a handler for one event type.
type EventHandlerDescriptor struct {
	EventType event.Type
}

// RouteOptions are extra options passed to the web mount with a route.
type RouteOptions struct {
	// Name is an optional route name, used for logging and the route table.
	Name string

	// AllowHead also serves HEAD requests for a GET route.
	AllowHead bool
}

// RouteOption configures RouteOptions.
type RouteOption func(*RouteOptions)

// WithRouteName names the route.
func WithRouteName(name string) RouteOption {
	return func(o *RouteOptions) {
		o.Name = name
	}
}

// WithAllowHead serves HEAD requests for a GET route.
func WithAllowHead() RouteOption {
	return func(o *RouteOptions) {
		o.AllowHead = true
	}
}

// WebHandlerDescriptor marks a method as an HTTP handler for one route.
type WebHandlerDescriptor struct {
	Method  string
	Path    string
	Options RouteOptions
}

// Method is a plugin method as seen by handler discovery: a name, the
// callbacks, and the descriptors attached to it. A Method without
// descriptors is a plain method and is ignored by discovery.
type Method struct {
	Name string

	// Event is invoked for events when an event descriptor is attached.
	Event event.HandlerFunc

	// HTTP serves requests for every attached web descriptor.
	HTTP http.HandlerFunc

	eventDesc *EventHandlerDescriptor
	webDescs  []WebHandlerDescriptor
}

// NewMethod creates a method with no descriptors.
func NewMethod(name string) *Method {
	return &Method{Name: name}
}

// EventHandler declares a method that handles events of eventType.
func EventHandler(name string, eventType event.Type, fn event.HandlerFunc) *Method {
	return NewMethod(name).OnEvent(eventType, fn)
}

// WebHandler declares a method that serves method+path on the web mount.
func WebHandler(name, method, path string, fn http.HandlerFunc, opts ...RouteOption) *Method {
	return NewMethod(name).OnRoute(method, path, fn, opts...)
}

// OnEvent attaches an event descriptor. A method handles at most one event
// type; a second call replaces the first.
func (m *Method) OnEvent(eventType event.Type, fn event.HandlerFunc) *Method {
	m.Event = fn
	m.eventDesc = &EventHandlerDescriptor{EventType: eventType}
	return m
}

// OnRoute attaches a web descriptor. fn may be nil on later calls to reuse
// the handler set by an earlier one.
func (m *Method) OnRoute(method, path string, fn http.HandlerFunc, opts ...RouteOption) *Method {
	if fn != nil {
		m.HTTP = fn
	}

	var options RouteOptions
	for _, opt := range opts {
		opt(&options)
	}

	m.webDescs = append(m.webDescs, WebHandlerDescriptor{
		Method:  strings.ToUpper(method),
		Path:    path,
		Options: options,
	})
	return m
}

// EventDescriptor returns the event descriptor, if any.
func (m *Method) EventDescriptor() (EventHandlerDescriptor, bool) {
	if m.eventDesc == nil {
		return EventHandlerDescriptor{}, false
	}
	return *m.eventDesc, true
}

// WebDescriptors returns a copy of the attached web descriptors.
func (m *Method) WebDescriptors() []WebHandlerDescriptor {
	return append([]WebHandlerDescriptor(nil), m.webDescs...)
}

// reserved reports whether a method name is internal and must not be
// considered by discovery.
func reserved(name string) bool {
	return name == "" || strings.HasPrefix(name, "_")
}
