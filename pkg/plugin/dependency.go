package plugin

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"
)

// DependencyResolver computes activation order over the plugin dependency
// graph. Cycles are detected up front and reported as *CyclicDependencyError
// instead of recursing without bound.
type DependencyResolver struct {
	logger zerolog.Logger
}

// NewDependencyResolver creates a dependency resolver.
func NewDependencyResolver(logger zerolog.Logger) *DependencyResolver {
	return &DependencyResolver{
		logger: logger.With().Str("component", "dependency-resolver").Logger(),
	}
}

// ActivationOrder returns the transitive dependency closure of name as a
// topological order: dependencies first, name itself last. It fails with
// *MissingDependencyError when a declared dependency has no manifest, with
// *CyclicDependencyError on a dependency cycle, and with a constraint error
// when an installed dependency version does not satisfy its declared range.
func (r *DependencyResolver) ActivationOrder(name string, manifests map[string]*Manifest) ([]string, error) {
	var order []string
	visited := make(map[string]bool)
	inStack := make(map[string]bool)
	var stack []string

	var visit func(current string) error
	visit = func(current string) error {
		if visited[current] {
			return nil
		}
		if inStack[current] {
			return &CyclicDependencyError{Cycle: cycleFrom(stack, current)}
		}

		manifest, ok := manifests[current]
		if !ok {
			// The entry plugin's own absence is the caller's NotFound case;
			// by the time we recurse, a missing name is a missing dependency.
			parent := name
			if len(stack) > 0 {
				parent = stack[len(stack)-1]
			}
			return &MissingDependencyError{Plugin: parent, Dependency: current}
		}

		inStack[current] = true
		stack = append(stack, current)

		for _, dep := range manifest.Dependencies {
			if depManifest, ok := manifests[dep.Name]; ok {
				if err := checkConstraint(dep, depManifest); err != nil {
					return fmt.Errorf("plugin %q: %w", current, err)
				}
			}
			if err := visit(dep.Name); err != nil {
				return err
			}
		}

		stack = stack[:len(stack)-1]
		inStack[current] = false
		visited[current] = true
		order = append(order, current)
		return nil
	}

	if err := visit(name); err != nil {
		return nil, err
	}

	r.logger.Debug().Str("plugin", name).Strs("order", order).Msg("Computed activation order")
	return order, nil
}

// cycleFrom extracts the cycle portion of the DFS stack, closing it with the
// revisited node.
func cycleFrom(stack []string, repeated string) []string {
	start := 0
	for i, id := range stack {
		if id == repeated {
			start = i
			break
		}
	}
	cycle := append([]string(nil), stack[start:]...)
	return append(cycle, repeated)
}

// checkConstraint verifies that an installed dependency satisfies the
// declared semver range, when one is declared.
func checkConstraint(dep Dependency, installed *Manifest) error {
	if dep.Version == "" {
		return nil
	}

	constraint, err := semver.NewConstraint(dep.Version)
	if err != nil {
		return fmt.Errorf("invalid version constraint %q for dependency %q: %w", dep.Version, dep.Name, err)
	}

	version, err := semver.NewVersion(installed.Version)
	if err != nil {
		return fmt.Errorf("dependency %q has unparseable version %q: %w", dep.Name, installed.Version, err)
	}

	if !constraint.Check(version) {
		return fmt.Errorf("dependency %q version %s does not satisfy constraint %q",
			dep.Name, installed.Version, dep.Version)
	}
	return nil
}
