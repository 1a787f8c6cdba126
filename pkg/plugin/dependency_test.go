package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func manifestSet(manifests ...*Manifest) map[string]*Manifest {
	set := make(map[string]*Manifest, len(manifests))
	for _, m := range manifests {
		set[m.Name] = m
	}
	return set
}

func depManifest(name string, deps ...Dependency) *Manifest {
	return &Manifest{
		Name:         name,
		Version:      "1.0.0",
		Type:         TypeValidator,
		Main:         "init.lua",
		Dependencies: deps,
	}
}

func TestDependencyResolver_ActivationOrder(t *testing.T) {
	resolver := NewDependencyResolver(testLogger())

	t.Run("dependencies come before dependents", func(t *testing.T) {
		manifests := manifestSet(
			depManifest("app", Dependency{Name: "lib"}, Dependency{Name: "util"}),
			depManifest("lib", Dependency{Name: "util"}),
			depManifest("util"),
		)

		order, err := resolver.ActivationOrder("app", manifests)
		require.NoError(t, err)
		require.Equal(t, 3, len(order))
		assert.Equal(t, "app", order[len(order)-1])

		pos := make(map[string]int)
		for i, name := range order {
			pos[name] = i
		}
		assert.Less(t, pos["util"], pos["lib"])
		assert.Less(t, pos["lib"], pos["app"])
	})

	t.Run("plugin with no dependencies", func(t *testing.T) {
		manifests := manifestSet(depManifest("solo"))
		order, err := resolver.ActivationOrder("solo", manifests)
		require.NoError(t, err)
		assert.Equal(t, []string{"solo"}, order)
	})

	t.Run("only the transitive closure is included", func(t *testing.T) {
		manifests := manifestSet(
			depManifest("a", Dependency{Name: "b"}),
			depManifest("b"),
			depManifest("unrelated"),
		)
		order, err := resolver.ActivationOrder("a", manifests)
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "a"}, order)
	})

	t.Run("missing dependency", func(t *testing.T) {
		manifests := manifestSet(depManifest("a", Dependency{Name: "ghost"}))

		_, err := resolver.ActivationOrder("a", manifests)
		var missingErr *MissingDependencyError
		require.ErrorAs(t, err, &missingErr)
		assert.Equal(t, "a", missingErr.Plugin)
		assert.Equal(t, "ghost", missingErr.Dependency)
	})

	t.Run("cycle is detected, not recursed", func(t *testing.T) {
		manifests := manifestSet(
			depManifest("a", Dependency{Name: "b"}),
			depManifest("b", Dependency{Name: "c"}),
			depManifest("c", Dependency{Name: "a"}),
		)

		_, err := resolver.ActivationOrder("a", manifests)
		var cycleErr *CyclicDependencyError
		require.ErrorAs(t, err, &cycleErr)
		assert.Equal(t, []string{"a", "b", "c", "a"}, cycleErr.Cycle)
	})

	t.Run("self cycle", func(t *testing.T) {
		manifests := manifestSet(depManifest("a", Dependency{Name: "a"}))

		_, err := resolver.ActivationOrder("a", manifests)
		var cycleErr *CyclicDependencyError
		require.ErrorAs(t, err, &cycleErr)
	})

	t.Run("satisfied version constraint", func(t *testing.T) {
		lib := depManifest("lib")
		lib.Version = "1.4.2"
		manifests := manifestSet(
			depManifest("app", Dependency{Name: "lib", Version: "^1.2.0"}),
			lib,
		)

		_, err := resolver.ActivationOrder("app", manifests)
		require.NoError(t, err)
	})

	t.Run("violated version constraint", func(t *testing.T) {
		lib := depManifest("lib")
		lib.Version = "2.0.0"
		manifests := manifestSet(
			depManifest("app", Dependency{Name: "lib", Version: "^1.2.0"}),
			lib,
		)

		_, err := resolver.ActivationOrder("app", manifests)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "does not satisfy")
	})
}
