package plugin

import (
	"context"
)

// HookFunc is the signature of a hook handler. It receives the accumulated
// event data; a non-nil return value replaces the data for the next handler
// in the chain.
type HookFunc func(ctx context.Context, rc *RuntimeContext, data map[string]any) (map[string]any, error)

// HookHandler pairs a handler with its execution priority. Higher priorities
// run first.
type HookHandler struct {
	Priority int
	Fn       HookFunc
}

// Plugin is the base contract every plugin satisfies regardless of type.
type Plugin interface {
	// Initialize is invoked once at activation with the plugin's runtime
	// context.
	Initialize(ctx context.Context, rc *RuntimeContext) error

	// Cleanup is invoked once at deactivation.
	Cleanup(ctx context.Context) error

	// Hooks returns the handlers this instance contributes, keyed by hook
	// name.
	Hooks() map[string]HookHandler
}

// Base provides no-op defaults for the Plugin contract. Native plugins embed
// it and override what they need.
type Base struct{}

func (Base) Initialize(context.Context, *RuntimeContext) error { return nil }
func (Base) Cleanup(context.Context) error                     { return nil }
func (Base) Hooks() map[string]HookHandler                     { return nil }

// ThemeTarget is the presentation surface a theme mutates. The terminal
// rendering layer implements it; the engine only passes it through.
type ThemeTarget interface {
	SetStyle(element string, style map[string]any) error
}

// Theme supplies a color and style scheme for the editor. Theme plugins
// conventionally contribute the ui:theme and ui:render hooks.
type Theme interface {
	Plugin
	GetTheme(ctx context.Context) (map[string]any, error)
	ApplyTheme(ctx context.Context, target ThemeTarget) error
}

// ConfigParser reads and writes a boot-manager configuration dialect.
// Contributes config:parse and config:serialize.
type ConfigParser interface {
	Plugin
	Parse(ctx context.Context, content []byte, sourcePath string) (map[string]any, error)
	Serialize(ctx context.Context, config map[string]any) ([]byte, error)
	SupportedExtensions() []string
}

// UIComponent contributes interactive widgets to the editor. Contributes
// ui:component:create.
type UIComponent interface {
	Plugin
	CreateComponent(ctx context.Context, parent string, options map[string]any) (map[string]any, error)
	ComponentType() string
}

// Validator checks a loaded configuration against its rule set. Contributes
// validation:config.
type Validator interface {
	Plugin
	ValidateConfig(ctx context.Context, config map[string]any) (ValidationResult, error)
	Rules() []string
}

// Exporter renders a configuration into an external format. Contributes
// export:config.
type Exporter interface {
	Plugin
	Export(ctx context.Context, config map[string]any, format string) ([]byte, error)
	SupportedFormats() []string
}

// Instantiate constructs the role-conformant instance for a manifest.
//
// Native implementations are checked at compile time: an impl that already
// satisfies the declared role interface is accepted as-is. Script modules are
// checked structurally for the role's required functions, tolerating loosely
// typed implementations. Anything else is an *InterfaceMismatchError.
func Instantiate(manifest *Manifest, impl any, rc *RuntimeContext) (Plugin, error) {
	if mod, ok := impl.(*ScriptModule); ok {
		return newScriptPlugin(manifest, mod, rc)
	}

	switch manifest.Type {
	case TypeTheme:
		if p, ok := impl.(Theme); ok {
			return p, nil
		}
	case TypeConfigParser:
		if p, ok := impl.(ConfigParser); ok {
			return p, nil
		}
	case TypeUIComponent:
		if p, ok := impl.(UIComponent); ok {
			return p, nil
		}
	case TypeValidator:
		if p, ok := impl.(Validator); ok {
			return p, nil
		}
	case TypeExporter:
		if p, ok := impl.(Exporter); ok {
			return p, nil
		}
	}

	return nil, &InterfaceMismatchError{Plugin: manifest.Name, Type: manifest.Type}
}
