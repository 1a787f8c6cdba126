package plugin

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Initialize(t *testing.T) {
	t.Run("auto-activates themes and validators only", func(t *testing.T) {
		r := newTestRegistry(t, []manifestSpec{
			{Name: "dark-theme", Type: TypeTheme},
			{Name: "conf-lint", Type: TypeValidator},
			{Name: "json-export", Type: TypeExporter},
		})

		require.NoError(t, r.Initialize(context.Background()))

		assert.True(t, r.IsActive("dark-theme"))
		assert.True(t, r.IsActive("conf-lint"))
		assert.False(t, r.IsActive("json-export"))
	})

	t.Run("idempotent", func(t *testing.T) {
		r := newTestRegistry(t, []manifestSpec{{Name: "dark-theme", Type: TypeTheme}})

		require.NoError(t, r.Initialize(context.Background()))
		require.NoError(t, r.Initialize(context.Background()))

		assert.Equal(t, 1, r.cores["dark-theme"].initCalls)
	})

	t.Run("continues past individual activation failures", func(t *testing.T) {
		r := newTestRegistry(t, []manifestSpec{
			{Name: "bad-theme", Type: TypeTheme},
			{Name: "good-theme", Type: TypeTheme},
		})
		r.cores["bad-theme"].initErr = errors.New("boom")

		require.NoError(t, r.Initialize(context.Background()))

		assert.False(t, r.IsActive("bad-theme"))
		assert.True(t, r.IsActive("good-theme"))
	})
}

func TestRegistry_ActivatePlugin(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown plugin", func(t *testing.T) {
		r := newTestRegistry(t, nil)
		require.NoError(t, r.Initialize(ctx))

		err := r.ActivatePlugin(ctx, "ghost")
		var notFound *NotFoundError
		require.ErrorAs(t, err, &notFound)
		assert.Equal(t, "ghost", notFound.Name)
	})

	t.Run("activating twice is a no-op", func(t *testing.T) {
		r := newTestRegistry(t, []manifestSpec{{Name: "json-export", Type: TypeExporter}})
		r.cores["json-export"].hooks = map[string]HookHandler{
			"export:config": {Priority: 1, Fn: noopHook},
		}
		require.NoError(t, r.Initialize(ctx))

		require.NoError(t, r.ActivatePlugin(ctx, "json-export"))
		require.NoError(t, r.ActivatePlugin(ctx, "json-export"))

		assert.Equal(t, 1, r.cores["json-export"].initCalls)
		assert.Equal(t, 1, r.GetStats().HookHandlers["export:config"])
	})

	t.Run("dependencies are activated first", func(t *testing.T) {
		var order []string
		r := newTestRegistry(t, []manifestSpec{
			{Name: "app-export", Type: TypeExporter, Dependencies: []Dependency{{Name: "base-export"}}},
			{Name: "base-export", Type: TypeExporter},
		})
		r.cores["app-export"].onInit = func(*RuntimeContext) error {
			order = append(order, "app-export")
			return nil
		}
		r.cores["base-export"].onInit = func(*RuntimeContext) error {
			order = append(order, "base-export")
			return nil
		}
		require.NoError(t, r.Initialize(ctx))

		require.NoError(t, r.ActivatePlugin(ctx, "app-export"))

		assert.Equal(t, []string{"base-export", "app-export"}, order)
		assert.True(t, r.IsActive("base-export"))
	})

	t.Run("missing dependency", func(t *testing.T) {
		r := newTestRegistry(t, []manifestSpec{
			{Name: "app-export", Type: TypeExporter, Dependencies: []Dependency{{Name: "ghost"}}},
		})
		require.NoError(t, r.Initialize(ctx))

		err := r.ActivatePlugin(ctx, "app-export")
		var missing *MissingDependencyError
		require.ErrorAs(t, err, &missing)
		assert.Equal(t, "ghost", missing.Dependency)
	})

	t.Run("dependency cycle fails fast", func(t *testing.T) {
		r := newTestRegistry(t, []manifestSpec{
			{Name: "ping", Type: TypeExporter, Dependencies: []Dependency{{Name: "pong"}}},
			{Name: "pong", Type: TypeExporter, Dependencies: []Dependency{{Name: "ping"}}},
		})
		require.NoError(t, r.Initialize(ctx))

		err := r.ActivatePlugin(ctx, "ping")
		var cycle *CyclicDependencyError
		require.ErrorAs(t, err, &cycle)
	})

	t.Run("version constraint violation", func(t *testing.T) {
		r := newTestRegistry(t, []manifestSpec{
			{Name: "app-export", Type: TypeExporter,
				Dependencies: []Dependency{{Name: "base-export", Version: "^2.0.0"}}},
			{Name: "base-export", Type: TypeExporter, Version: "1.0.0"},
		})
		require.NoError(t, r.Initialize(ctx))

		err := r.ActivatePlugin(ctx, "app-export")
		var activationErr *ActivationError
		require.ErrorAs(t, err, &activationErr)
	})

	t.Run("interface mismatch", func(t *testing.T) {
		r := newTestRegistry(t, []manifestSpec{{Name: "liar", Type: TypeExporter}})
		r.loader.impls["liar"] = struct{}{} // not an Exporter
		require.NoError(t, r.Initialize(ctx))

		err := r.ActivatePlugin(ctx, "liar")
		var activationErr *ActivationError
		require.ErrorAs(t, err, &activationErr)
		var mismatch *InterfaceMismatchError
		require.ErrorAs(t, err, &mismatch)
		assert.False(t, r.IsActive("liar"))
	})

	t.Run("failed initialize publishes nothing", func(t *testing.T) {
		r := newTestRegistry(t, []manifestSpec{{Name: "flaky", Type: TypeExporter}})
		core := r.cores["flaky"]
		core.hooks = map[string]HookHandler{"export:config": {Fn: noopHook}}
		core.initErr = errors.New("init exploded")
		core.onInit = func(rc *RuntimeContext) error {
			return rc.RegisterHook("app:init", 5, noopHook)
		}
		require.NoError(t, r.Initialize(ctx))

		err := r.ActivatePlugin(ctx, "flaky")
		var activationErr *ActivationError
		require.ErrorAs(t, err, &activationErr)
		assert.Equal(t, "flaky", activationErr.Plugin)

		assert.False(t, r.IsActive("flaky"))
		stats := r.GetStats()
		assert.Zero(t, stats.HookHandlers["export:config"])
		assert.Zero(t, stats.HookHandlers["app:init"])
	})

	t.Run("hooks registered during initialize are committed", func(t *testing.T) {
		r := newTestRegistry(t, []manifestSpec{{Name: "dynamic", Type: TypeExporter}})
		r.cores["dynamic"].onInit = func(rc *RuntimeContext) error {
			return rc.RegisterHook("config:save", 3, noopHook)
		}
		require.NoError(t, r.Initialize(ctx))

		require.NoError(t, r.ActivatePlugin(ctx, "dynamic"))
		assert.Equal(t, 1, r.GetStats().HookHandlers["config:save"])
	})

	t.Run("load failure", func(t *testing.T) {
		r := newTestRegistry(t, []manifestSpec{{Name: "broken", Type: TypeExporter}})
		r.loader.loadErrs["broken"] = errors.New("file vanished")
		require.NoError(t, r.Initialize(ctx))

		err := r.ActivatePlugin(ctx, "broken")
		var activationErr *ActivationError
		require.ErrorAs(t, err, &activationErr)
	})
}

func TestRegistry_DeactivatePlugin(t *testing.T) {
	ctx := context.Background()

	t.Run("removes hooks and record, calls cleanup", func(t *testing.T) {
		r := newTestRegistry(t, []manifestSpec{{Name: "json-export", Type: TypeExporter}})
		r.cores["json-export"].hooks = map[string]HookHandler{
			"export:config": {Priority: 1, Fn: noopHook},
		}
		require.NoError(t, r.Initialize(ctx))
		require.NoError(t, r.ActivatePlugin(ctx, "json-export"))

		require.NoError(t, r.DeactivatePlugin(ctx, "json-export"))

		assert.False(t, r.IsActive("json-export"))
		assert.Equal(t, 1, r.cores["json-export"].cleanupCalls)
		assert.Zero(t, r.GetStats().HookHandlers["export:config"])
	})

	t.Run("inactive plugin is a no-op", func(t *testing.T) {
		r := newTestRegistry(t, []manifestSpec{{Name: "json-export", Type: TypeExporter}})
		require.NoError(t, r.Initialize(ctx))

		require.NoError(t, r.DeactivatePlugin(ctx, "json-export"))
		require.NoError(t, r.DeactivatePlugin(ctx, "never-existed"))
	})

	t.Run("cleanup failure still removes the plugin", func(t *testing.T) {
		r := newTestRegistry(t, []manifestSpec{{Name: "stubborn", Type: TypeExporter}})
		r.cores["stubborn"].cleanupErr = errors.New("refuses to die")
		require.NoError(t, r.Initialize(ctx))
		require.NoError(t, r.ActivatePlugin(ctx, "stubborn"))

		err := r.DeactivatePlugin(ctx, "stubborn")
		var deactivationErr *DeactivationError
		require.ErrorAs(t, err, &deactivationErr)
		assert.False(t, r.IsActive("stubborn"))
	})
}

func TestRegistry_ExecuteHooks(t *testing.T) {
	ctx := context.Background()

	t.Run("runs handlers in descending priority and threads data", func(t *testing.T) {
		var calls []int
		hook := func(priority int) HookFunc {
			return func(ctx context.Context, rc *RuntimeContext, data map[string]any) (map[string]any, error) {
				calls = append(calls, priority)
				data["last"] = priority
				return data, nil
			}
		}

		r := newTestRegistry(t, []manifestSpec{{Name: "multi", Type: TypeExporter}})
		r.cores["multi"].hooks = map[string]HookHandler{}
		r.cores["multi"].onInit = func(rc *RuntimeContext) error {
			for _, p := range []int{1, 5, 3} {
				if err := rc.RegisterHook("ui:render", p, hook(p)); err != nil {
					return err
				}
			}
			return nil
		}
		require.NoError(t, r.Initialize(ctx))
		require.NoError(t, r.ActivatePlugin(ctx, "multi"))

		result := r.ExecuteHooks(ctx, "ui:render", map[string]any{})
		assert.Equal(t, []int{5, 3, 1}, calls)
		assert.Equal(t, 1, result["last"])
	})

	t.Run("handler faults are isolated", func(t *testing.T) {
		r := newTestRegistry(t, []manifestSpec{{Name: "mixed", Type: TypeExporter}})
		r.cores["mixed"].hooks = map[string]HookHandler{}
		r.cores["mixed"].onInit = func(rc *RuntimeContext) error {
			if err := rc.RegisterHook("config:load", 30, func(ctx context.Context, rc *RuntimeContext, data map[string]any) (map[string]any, error) {
				return map[string]any{"stage": "first"}, nil
			}); err != nil {
				return err
			}
			if err := rc.RegisterHook("config:load", 20, func(ctx context.Context, rc *RuntimeContext, data map[string]any) (map[string]any, error) {
				panic("handler bug")
			}); err != nil {
				return err
			}
			if err := rc.RegisterHook("config:load", 15, func(ctx context.Context, rc *RuntimeContext, data map[string]any) (map[string]any, error) {
				return nil, fmt.Errorf("transient failure")
			}); err != nil {
				return err
			}
			return rc.RegisterHook("config:load", 10, func(ctx context.Context, rc *RuntimeContext, data map[string]any) (map[string]any, error) {
				data["stage"] = data["stage"].(string) + "+last"
				return data, nil
			})
		}
		require.NoError(t, r.Initialize(ctx))
		require.NoError(t, r.ActivatePlugin(ctx, "mixed"))

		result := r.ExecuteHooks(ctx, "config:load", map[string]any{"stage": "initial"})
		assert.Equal(t, "first+last", result["stage"])
	})

	t.Run("nil handler result keeps previous data", func(t *testing.T) {
		r := newTestRegistry(t, []manifestSpec{{Name: "passive", Type: TypeExporter}})
		r.cores["passive"].hooks = map[string]HookHandler{
			"app:init": {Fn: noopHook},
		}
		require.NoError(t, r.Initialize(ctx))
		require.NoError(t, r.ActivatePlugin(ctx, "passive"))

		data := map[string]any{"keep": true}
		result := r.ExecuteHooks(ctx, "app:init", data)
		assert.Equal(t, data, result)
	})

	t.Run("unknown hook returns data unchanged", func(t *testing.T) {
		r := newTestRegistry(t, nil)
		require.NoError(t, r.Initialize(ctx))

		data := map[string]any{"v": 1}
		assert.Equal(t, data, r.ExecuteHooks(ctx, "made:up", data))
	})
}

func TestRegistry_Reload(t *testing.T) {
	ctx := context.Background()

	r := newTestRegistry(t, []manifestSpec{
		{Name: "dark-theme", Type: TypeTheme},
		{Name: "json-export", Type: TypeExporter},
	})
	require.NoError(t, r.Initialize(ctx))
	require.NoError(t, r.ActivatePlugin(ctx, "json-export"))
	require.True(t, r.IsActive("json-export"))

	require.NoError(t, r.Reload(ctx))

	// Auto-activate subset comes back, manual activations do not.
	assert.True(t, r.IsActive("dark-theme"))
	assert.False(t, r.IsActive("json-export"))
	assert.Equal(t, 2, r.GetStats().TotalPlugins)
	assert.Equal(t, 1, r.cores["dark-theme"].cleanupCalls)
	assert.Equal(t, 2, r.cores["dark-theme"].initCalls)
}

func TestRegistry_Queries(t *testing.T) {
	ctx := context.Background()

	r := newTestRegistry(t, []manifestSpec{
		{Name: "dark-theme", Type: TypeTheme},
		{Name: "light-theme", Type: TypeTheme},
		{Name: "json-export", Type: TypeExporter},
	})
	require.NoError(t, r.Initialize(ctx))

	t.Run("GetAllPlugins is sorted and complete", func(t *testing.T) {
		all := r.GetAllPlugins()
		require.Len(t, all, 3)
		assert.Equal(t, "dark-theme", all[0].Name)
		assert.Equal(t, "json-export", all[1].Name)
		assert.Equal(t, "light-theme", all[2].Name)
	})

	t.Run("GetPluginsByType filters", func(t *testing.T) {
		themes := r.GetPluginsByType(TypeTheme)
		require.Len(t, themes, 2)
		assert.Empty(t, r.GetPluginsByType(TypeConfigParser))
	})

	t.Run("GetActivePlugins snapshots active set", func(t *testing.T) {
		active := r.GetActivePlugins()
		require.Len(t, active, 2)
		for _, info := range active {
			assert.NotEmpty(t, info.ID)
			assert.False(t, info.ActivatedAt.IsZero())
		}
		assert.Len(t, r.GetActivePluginsByType(TypeTheme), 2)
		assert.Empty(t, r.GetActivePluginsByType(TypeExporter))
	})

	t.Run("query results are copies", func(t *testing.T) {
		manifest, ok := r.GetManifest("dark-theme")
		require.True(t, ok)
		manifest.Name = "mutated"
		manifest.Config = map[string]any{"injected": true}

		again, ok := r.GetManifest("dark-theme")
		require.True(t, ok)
		assert.Equal(t, "dark-theme", again.Name)
		assert.NotContains(t, again.Config, "injected")
	})

	t.Run("GetStats counts", func(t *testing.T) {
		stats := r.GetStats()
		assert.Equal(t, 3, stats.TotalPlugins)
		assert.Equal(t, 2, stats.ActivePlugins)
		assert.Equal(t, 2, stats.ByType[TypeTheme])
		assert.Equal(t, 2, stats.ActiveByType[TypeTheme])
		assert.Equal(t, 1, stats.ByType[TypeExporter])
		assert.Zero(t, stats.ActiveByType[TypeExporter])
	})
}

func TestRegistry_CallTimeout(t *testing.T) {
	ctx := context.Background()

	r := newTestRegistry(t, []manifestSpec{{Name: "stuck", Type: TypeExporter}},
		WithCallTimeout(50*time.Millisecond))
	r.cores["stuck"].onInit = func(*RuntimeContext) error {
		time.Sleep(2 * time.Second)
		return nil
	}
	require.NoError(t, r.Initialize(ctx))

	start := time.Now()
	err := r.ActivatePlugin(ctx, "stuck")
	var activationErr *ActivationError
	require.ErrorAs(t, err, &activationErr)
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, r.IsActive("stuck"))
}
