package plugin

import (
	"encoding/json"
	"fmt"
	"time"
)

// PluginType classifies what role a plugin fills in the editor.
type PluginType string

const (
	TypeTheme        PluginType = "theme"
	TypeConfigParser PluginType = "config-parser"
	TypeUIComponent  PluginType = "ui-component"
	TypeValidator    PluginType = "validator"
	TypeExporter     PluginType = "exporter"
)

// ValidTypes is the closed set of plugin types.
var ValidTypes = map[PluginType]bool{
	TypeTheme:        true,
	TypeConfigParser: true,
	TypeUIComponent:  true,
	TypeValidator:    true,
	TypeExporter:     true,
}

// AutoActivateTypes are activated automatically during registry initialization.
var AutoActivateTypes = map[PluginType]bool{
	TypeTheme:     true,
	TypeValidator: true,
}

// Permission represents a capability a plugin can request in its manifest.
type Permission string

const (
	PermissionFSRead       Permission = "fs-read"
	PermissionFSWrite      Permission = "fs-write"
	PermissionNetwork      Permission = "network"
	PermissionUIModify     Permission = "ui-modify"
	PermissionConfigModify Permission = "config-modify"
	PermissionSystemInfo   Permission = "system-info"
)

// ValidPermissions is the fixed allow-list of permission tokens.
var ValidPermissions = map[Permission]bool{
	PermissionFSRead:       true,
	PermissionFSWrite:      true,
	PermissionNetwork:      true,
	PermissionUIModify:     true,
	PermissionConfigModify: true,
	PermissionSystemInfo:   true,
}

// DangerousPermissions trigger an advisory warning when requested.
var DangerousPermissions = map[Permission]bool{
	PermissionFSWrite:    true,
	PermissionNetwork:    true,
	PermissionSystemInfo: true,
}

// Dependency declares a requirement on another plugin, optionally constrained
// to a semver range.
type Dependency struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// UnmarshalJSON accepts either a bare plugin name ("other-plugin") or an
// object ({"name": "other-plugin", "version": "^1.0.0"}).
func (d *Dependency) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		d.Name = name
		d.Version = ""
		return nil
	}

	type depAlias Dependency
	var alias depAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return fmt.Errorf("dependency must be a string or an object: %w", err)
	}
	*d = Dependency(alias)
	return nil
}

// Manifest describes a plugin: its identity, role, entry point and declared
// needs. Instances handed out by the registry are clones; mutating them does
// not affect registry state.
type Manifest struct {
	Name         string         `json:"name"`
	Version      string         `json:"version"`
	Type         PluginType     `json:"type"`
	Main         string         `json:"main"`
	Description  string         `json:"description,omitempty"`
	Author       string         `json:"author,omitempty"`
	Dependencies []Dependency   `json:"dependencies,omitempty"`
	Config       map[string]any `json:"config,omitempty"`
	Permissions  []Permission   `json:"permissions,omitempty"`

	// Attached by the loader, not part of the manifest file.
	Path     string    `json:"-"`
	Dir      string    `json:"-"`
	LoadedAt time.Time `json:"-"`

	// Top-level keys present in the file but not part of the schema,
	// captured at parse time for the schema validator's advisory checks.
	unknownFields []string
}

// UnknownFields returns the top-level manifest keys that are not part of the
// schema, in sorted order.
func (m *Manifest) UnknownFields() []string {
	return append([]string(nil), m.unknownFields...)
}

// DependencyNames returns the names of all declared dependencies.
func (m *Manifest) DependencyNames() []string {
	names := make([]string, 0, len(m.Dependencies))
	for _, dep := range m.Dependencies {
		names = append(names, dep.Name)
	}
	return names
}

// Clone returns a deep copy of the manifest.
func (m *Manifest) Clone() *Manifest {
	if m == nil {
		return nil
	}
	clone := *m
	clone.Dependencies = append([]Dependency(nil), m.Dependencies...)
	clone.Permissions = append([]Permission(nil), m.Permissions...)
	clone.Config = cloneMap(m.Config)
	clone.unknownFields = append([]string(nil), m.unknownFields...)
	return &clone
}

// cloneMap deep-copies a config mapping. Values are limited to what JSON
// produces: scalars, []any and map[string]any.
func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// ValidationResult collects the outcome of validating one manifest. A
// manifest with zero errors is usable regardless of how many warnings it
// carries.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

func (r *ValidationResult) addError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.Valid = false
}

func (r *ValidationResult) addWarning(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// BatchResult aggregates validation results for a set of manifests.
type BatchResult struct {
	Results    map[string]ValidationResult `json:"results"`
	Duplicates []string                    `json:"duplicates,omitempty"`
	ErrorCount int                         `json:"errorCount"`
}

// Valid reports whether every manifest in the batch validated cleanly and no
// duplicate names were seen.
func (b *BatchResult) Valid() bool {
	return b.ErrorCount == 0 && len(b.Duplicates) == 0
}

// ActivePlugin is the registry's record of one activated plugin.
type ActivePlugin struct {
	ID          string
	Manifest    *Manifest
	Instance    Plugin
	ActivatedAt time.Time

	// module owns the plugin's script state when the implementation is a
	// script; nil for native instances.
	module *ScriptModule
}

// Stats is a read-only snapshot of registry state for display purposes.
type Stats struct {
	TotalPlugins  int                `json:"totalPlugins"`
	ActivePlugins int                `json:"activePlugins"`
	ByType        map[PluginType]int `json:"byType"`
	ActiveByType  map[PluginType]int `json:"activeByType"`
	HookHandlers  map[string]int     `json:"hookHandlers"`
}
