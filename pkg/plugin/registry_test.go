package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// namedPlugin is a minimal plugin used by registry tests
type namedPlugin struct {
	Base
	name string
}

func TestRegistry_Register(t *testing.T) {
	tests := []struct {
		name        string
		info        TypeInfo
		wantErr     bool
		errContains string
	}{
		{
			name: "valid registration",
			info: TypeInfo{
				ID:          "xyz.maubot.echo",
				Description: "A test plugin",
				Priority:    PriorityDefault,
				Factory:     func() Plugin { return &namedPlugin{name: "test"} },
			},
			wantErr: false,
		},
		{
			name: "empty id",
			info: TypeInfo{
				ID:      "",
				Factory: func() Plugin { return nil },
			},
			wantErr:     true,
			errContains: "id cannot be empty",
		},
		{
			name: "nil factory",
			info: TypeInfo{
				ID:      "xyz.maubot.echo",
				Factory: nil,
			},
			wantErr:     true,
			errContains: "factory cannot be nil",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := NewRegistry()
			err := registry.Register(tt.info)

			if tt.wantErr {
				assert.Error(t, err)
				if tt.errContains != "" {
					assert.Contains(t, err.Error(), tt.errContains)
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRegistry_PriorityOverride(t *testing.T) {
	registry := NewRegistry()

	err := registry.Register(TypeInfo{
		ID:          "xyz.maubot.echo",
		Description: "Bundled echo plugin",
		Priority:    PriorityDefault,
		Factory:     func() Plugin { return &namedPlugin{name: "default"} },
	})
	require.NoError(t, err)

	info := registry.Get("xyz.maubot.echo")
	require.NotNil(t, info)
	assert.Equal(t, PriorityDefault, info.Priority)

	err = registry.Register(TypeInfo{
		ID:          "xyz.maubot.echo",
		Description: "Private echo plugin",
		Priority:    PriorityOverride,
		Factory:     func() Plugin { return &namedPlugin{name: "override"} },
	})
	require.NoError(t, err)

	info = registry.Get("xyz.maubot.echo")
	require.NotNil(t, info)
	assert.Equal(t, PriorityOverride, info.Priority)
	assert.Equal(t, "Private echo plugin", info.Description)

	p, err := registry.New("xyz.maubot.echo")
	require.NoError(t, err)
	assert.Equal(t, "override", p.(*namedPlugin).name)
}

func TestRegistry_LowerPrioritySkipped(t *testing.T) {
	registry := NewRegistry()

	err := registry.Register(TypeInfo{
		ID:          "xyz.maubot.echo",
		Description: "High priority",
		Priority:    PriorityOverride,
		Factory:     func() Plugin { return &namedPlugin{name: "high"} },
	})
	require.NoError(t, err)

	err = registry.Register(TypeInfo{
		ID:          "xyz.maubot.echo",
		Description: "Low priority",
		Priority:    PriorityDefault,
		Factory:     func() Plugin { return &namedPlugin{name: "low"} },
	})
	require.NoError(t, err) // No error, just skipped

	info := registry.Get("xyz.maubot.echo")
	require.NotNil(t, info)
	assert.Equal(t, "High priority", info.Description)
}

func TestRegistry_LogTypes(t *testing.T) {
	registry := NewRegistry()
	factory := func() Plugin { return &namedPlugin{} }

	// Registering before any logger exists must not lose anything
	require.NoError(t, registry.Register(TypeInfo{ID: "xyz.maubot.echo", Description: "Bundled echo", Factory: factory}))
	require.NoError(t, registry.Register(TypeInfo{ID: "xyz.maubot.echo", Description: "Private echo", Priority: PriorityOverride, Factory: factory}))
	require.NoError(t, registry.Register(TypeInfo{ID: "xyz.maubot.echo", Description: "Stale echo", Factory: factory}))
	require.NoError(t, registry.Register(TypeInfo{ID: "xyz.maubot.sun", Description: "Sun", Order: 40, Factory: factory}))

	core, logs := observer.New(zap.InfoLevel)
	registry.LogTypes(zap.New(core))

	registered := logs.FilterMessage("Plugin type registered").All()
	require.Len(t, registered, 2)

	sun := registered[0].ContextMap()
	assert.Equal(t, "xyz.maubot.sun", sun["id"])
	assert.Equal(t, int64(40), sun["order"])
	assert.NotContains(t, sun, "shadowed")

	echo := registered[1].ContextMap()
	assert.Equal(t, "xyz.maubot.echo", echo["id"])
	assert.Equal(t, "Private echo", echo["description"])
	assert.Equal(t, int64(PriorityOverride), echo["priority"])
	assert.Equal(t, int64(2), echo["shadowed"])

	summary := logs.FilterMessage("Plugin types available").All()
	require.Len(t, summary, 1)
	assert.Equal(t, int64(2), summary[0].ContextMap()["count"])
}

func TestRegistry_List(t *testing.T) {
	registry := NewRegistry()
	factory := func() Plugin { return &namedPlugin{} }

	require.NoError(t, registry.Register(TypeInfo{ID: "late", Order: 90, Factory: factory}))
	require.NoError(t, registry.Register(TypeInfo{ID: "early", Order: 10, Factory: factory}))
	require.NoError(t, registry.Register(TypeInfo{ID: "middle.b", Order: 50, Factory: factory}))
	require.NoError(t, registry.Register(TypeInfo{ID: "middle.a", Order: 50, Factory: factory}))

	list := registry.List()
	require.Len(t, list, 4)

	assert.Equal(t, "early", list[0].ID)
	assert.Equal(t, "middle.a", list[1].ID)
	assert.Equal(t, "middle.b", list[2].ID)
	assert.Equal(t, "late", list[3].ID)
}

func TestRegistry_New(t *testing.T) {
	registry := NewRegistry()

	_, err := registry.New("missing")
	assert.ErrorIs(t, err, ErrUnknownType)

	require.NoError(t, registry.Register(TypeInfo{
		ID:      "nil.factory.result",
		Factory: func() Plugin { return nil },
	}))
	_, err = registry.New("nil.factory.result")
	assert.Error(t, err)

	// Each call yields a fresh value
	require.NoError(t, registry.Register(TypeInfo{
		ID:      "fresh",
		Factory: func() Plugin { return &namedPlugin{} },
	}))
	a, err := registry.New("fresh")
	require.NoError(t, err)
	b, err := registry.New("fresh")
	require.NoError(t, err)
	assert.NotSame(t, a, b)
}

func TestRegistry_DefaultOrder(t *testing.T) {
	registry := NewRegistry()

	err := registry.Register(TypeInfo{
		ID:      "test",
		Factory: func() Plugin { return &namedPlugin{} },
	})
	require.NoError(t, err)

	info := registry.Get("test")
	require.NotNil(t, info)
	assert.Equal(t, 50, info.Order, "default order should be 50")
}

func TestRegistry_Clear(t *testing.T) {
	registry := NewRegistry()

	require.NoError(t, registry.Register(TypeInfo{
		ID:      "test",
		Factory: func() Plugin { return &namedPlugin{} },
	}))
	assert.Len(t, registry.IDs(), 1)

	registry.Clear()

	assert.Len(t, registry.IDs(), 0)
	assert.Nil(t, registry.Get("test"))
}

func TestGlobalRegistry(t *testing.T) {
	ClearGlobal()
	defer ClearGlobal()

	err := Register(TypeInfo{
		ID:          "global.test",
		Description: "Testing global registry",
		Factory:     func() Plugin { return &namedPlugin{name: "global"} },
	})
	require.NoError(t, err)

	info := Get("global.test")
	require.NotNil(t, info)
	assert.Equal(t, "Testing global registry", info.Description)

	assert.Len(t, List(), 1)
	assert.Contains(t, IDs(), "global.test")

	p, err := Global().New("global.test")
	require.NoError(t, err)
	assert.Equal(t, "global", p.(*namedPlugin).name)
}
