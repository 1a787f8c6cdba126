package plugin

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// RuntimeContext is the per-activation surface handed to a plugin instance.
// It exposes the plugin's manifest, a logger scoped to the plugin, a copy of
// the plugin's config, its permission set and the hook interaction surface.
type RuntimeContext struct {
	manifest *Manifest
	logger   zerolog.Logger
	config   map[string]any
	perms    *PermissionSet

	execute func(ctx context.Context, hook string, data map[string]any) map[string]any

	mu       sync.Mutex
	register func(hook string, priority int, fn HookFunc) error
}

// Manifest returns the owning plugin's manifest.
func (rc *RuntimeContext) Manifest() *Manifest {
	return rc.manifest
}

// Logger returns a logger tagged with the plugin name.
func (rc *RuntimeContext) Logger() zerolog.Logger {
	return rc.logger
}

// Log writes an info-level message to the plugin's log sink.
func (rc *RuntimeContext) Log(format string, args ...any) {
	rc.logger.Info().Msg(fmt.Sprintf(format, args...))
}

// Error writes an error-level message to the plugin's log sink.
func (rc *RuntimeContext) Error(format string, args ...any) {
	rc.logger.Error().Msg(fmt.Sprintf(format, args...))
}

// Config returns a copy of the plugin's configuration.
func (rc *RuntimeContext) Config() map[string]any {
	return cloneMap(rc.config)
}

// Permissions returns the permission set granted by the plugin's manifest.
func (rc *RuntimeContext) Permissions() *PermissionSet {
	return rc.perms
}

// ExecuteHooks runs the handlers registered for a hook, threading data
// through them, and returns the final value.
func (rc *RuntimeContext) ExecuteHooks(ctx context.Context, hook string, data map[string]any) map[string]any {
	return rc.execute(ctx, hook, data)
}

// RegisterHook registers an additional handler owned by this plugin.
// Handlers registered before the activation commits are staged with the
// activation and discarded if it fails; afterwards they go live immediately.
// All of them are removed when the plugin deactivates.
func (rc *RuntimeContext) RegisterHook(hook string, priority int, fn HookFunc) error {
	if hook == "" {
		return fmt.Errorf("hook name is required")
	}
	if fn == nil {
		return fmt.Errorf("hook handler is required")
	}
	rc.mu.Lock()
	register := rc.register
	rc.mu.Unlock()
	return register(hook, priority, fn)
}

// setRegistrar swaps the destination for dynamic hook registrations. The
// registry points it at the staging buffer during activation and at the live
// hook table after commit.
func (rc *RuntimeContext) setRegistrar(register func(hook string, priority int, fn HookFunc) error) {
	rc.mu.Lock()
	rc.register = register
	rc.mu.Unlock()
}
