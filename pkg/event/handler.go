package event

import (
	"context"
	"sync"

	"go.uber.org/multierr"
)

// HandlerFunc processes a single event.
type HandlerFunc func(ctx context.Context, evt *Event) error

// Handler is a named event callback. Buses compare handlers by pointer, so
// the same *Handler must be passed to AddEventHandler and RemoveEventHandler.
type Handler struct {
	Name string
	Fn   HandlerFunc
}

// NewHandler creates a handler with the given name.
func NewHandler(name string, fn HandlerFunc) *Handler {
	return &Handler{Name: name, Fn: fn}
}

// Handle invokes the handler function.
func (h *Handler) Handle(ctx context.Context, evt *Event) error {
	if h.Fn == nil {
		return nil
	}
	return h.Fn(ctx, evt)
}

// Bus is the contract between plugins and the chat client's event dispatch.
// Each binding is added and removed exactly once.
type Bus interface {
	AddEventHandler(eventType Type, handler *Handler)
	RemoveEventHandler(eventType Type, handler *Handler)
}

// Dispatcher is an in-memory Bus that fans events out to registered handlers.
// It is embedded by the chat client and its mock.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[Type][]*Handler
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers: make(map[Type][]*Handler),
	}
}

// AddEventHandler registers handler for eventType. Adding the same handler
// twice for one type is a no-op.
func (d *Dispatcher) AddEventHandler(eventType Type, handler *Handler) {
	if handler == nil {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, existing := range d.handlers[eventType] {
		if existing == handler {
			return
		}
	}
	d.handlers[eventType] = append(d.handlers[eventType], handler)
}

// RemoveEventHandler unregisters handler for eventType. Removing a handler
// that is not registered is a no-op.
func (d *Dispatcher) RemoveEventHandler(eventType Type, handler *Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()

	handlers, ok := d.handlers[eventType]
	if !ok {
		return
	}

	for i, existing := range handlers {
		if existing == handler {
			d.handlers[eventType] = append(handlers[:i:i], handlers[i+1:]...)
			if len(d.handlers[eventType]) == 0 {
				delete(d.handlers, eventType)
			}
			return
		}
	}
}

// Handlers returns a copy of the handlers registered for eventType.
func (d *Dispatcher) Handlers(eventType Type) []*Handler {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return append([]*Handler(nil), d.handlers[eventType]...)
}

// Count returns the total number of registered bindings.
func (d *Dispatcher) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	total := 0
	for _, handlers := range d.handlers {
		total += len(handlers)
	}
	return total
}

// Dispatch delivers evt to the handlers for its type and then to TypeAny
// handlers. Every handler runs; their errors are combined.
func (d *Dispatcher) Dispatch(ctx context.Context, evt *Event) error {
	d.mu.RLock()
	handlers := append([]*Handler(nil), d.handlers[evt.Type]...)
	if evt.Type != TypeAny {
		handlers = append(handlers, d.handlers[TypeAny]...)
	}
	d.mu.RUnlock()

	var err error
	for _, h := range handlers {
		err = multierr.Append(err, h.Handle(ctx, evt))
	}
	return err
}
