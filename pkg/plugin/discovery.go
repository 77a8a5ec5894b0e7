package plugin

import (
	"fmt"

	"chatbot/pkg/event"

	"go.uber.org/zap"
)

type bindingKey struct {
	method    string
	eventType event.Type
}

// registerHandlers wires every handler p declares. Event handlers are added
// to bus and returned as bindings so they can be removed later. Web handlers
// are added to mount; if mount is nil they are all skipped with a single
// warning.
func registerHandlers(p Plugin, bus EventBus, mount WebMount, log *zap.Logger) []Binding {
	var bindings []Binding
	seen := make(map[bindingKey]struct{})
	warnedWebApp := false

	for _, m := range p.DeclareHandlers() {
		if m == nil || reserved(m.Name) {
			continue
		}

		if desc, ok := m.EventDescriptor(); ok {
			key := bindingKey{method: m.Name, eventType: desc.EventType}
			if _, dup := seen[key]; !dup {
				seen[key] = struct{}{}
				h := event.NewHandler(m.Name, m.Event)
				bindings = append(bindings, Binding{EventType: desc.EventType, Handler: h})
				bus.AddEventHandler(desc.EventType, h)
			}
		}

		routes := m.WebDescriptors()
		if len(routes) == 0 {
			continue
		}

		if mount == nil {
			if !warnedWebApp {
				log.Warn(fmt.Sprintf("%T has web handlers, but the webapp feature isn't enabled in the plugin's manifest", p))
			}
			warnedWebApp = true
			continue
		}

		if m.HTTP == nil {
			log.Warn("Web handler has no HTTP function, skipping", zap.String("method", m.Name))
			continue
		}

		for _, route := range routes {
			mount.AddRoute(route.Method, route.Path, m.HTTP, route.Options)
		}
	}

	return bindings
}
