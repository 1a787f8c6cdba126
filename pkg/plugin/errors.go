package plugin

import (
	"fmt"
	"strings"
)

// ParseError reports a manifest file that could not be read or parsed. It is
// fatal to that one manifest only; batch loading continues past it.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse manifest %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// NotFoundError reports an operation that referenced an unknown plugin name.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("plugin %q not found", e.Name)
}

// MissingDependencyError reports a declared dependency with no corresponding
// manifest.
type MissingDependencyError struct {
	Plugin     string
	Dependency string
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("plugin %q requires %q, which is not installed", e.Plugin, e.Dependency)
}

// CyclicDependencyError reports a cycle in the dependency graph. Cycle lists
// the plugin names along the cycle in discovery order.
type CyclicDependencyError struct {
	Cycle []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Cycle, " -> "))
}

// InterfaceMismatchError reports an instantiated plugin that does not satisfy
// the role contract its manifest declares.
type InterfaceMismatchError struct {
	Plugin  string
	Type    PluginType
	Missing []string
}

func (e *InterfaceMismatchError) Error() string {
	if len(e.Missing) == 0 {
		return fmt.Sprintf("plugin %q does not implement the %s contract", e.Plugin, e.Type)
	}
	return fmt.Sprintf("plugin %q does not implement the %s contract: missing %s",
		e.Plugin, e.Type, strings.Join(e.Missing, ", "))
}

// ActivationError wraps any failure during plugin activation.
type ActivationError struct {
	Plugin string
	Err    error
}

func (e *ActivationError) Error() string {
	return fmt.Sprintf("failed to activate plugin %q: %v", e.Plugin, e.Err)
}

func (e *ActivationError) Unwrap() error { return e.Err }

// DeactivationError wraps a failure during plugin deactivation. The plugin is
// still removed from the active set when this is returned.
type DeactivationError struct {
	Plugin string
	Err    error
}

func (e *DeactivationError) Error() string {
	return fmt.Sprintf("failed to deactivate plugin %q: %v", e.Plugin, e.Err)
}

func (e *DeactivationError) Unwrap() error { return e.Err }
