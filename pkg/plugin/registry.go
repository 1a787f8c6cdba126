package plugin

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Registry owns the manifest mapping, the active-plugin mapping and the hook
// table for its lifetime. It is constructed explicitly and passed around;
// there is no package-level instance.
type Registry struct {
	logger    zerolog.Logger
	loader    *ManifestLoader
	validator *SchemaValidator
	resolver  *DependencyResolver
	impl      ImplementationLoader

	// callTimeout bounds plugin-authored initialize/cleanup calls when
	// positive. Zero means wait indefinitely, matching the original
	// contract.
	callTimeout time.Duration

	mu          sync.RWMutex
	manifests   map[string]*Manifest
	active      map[string]*ActivePlugin
	hooks       *hookTable
	initialized bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithImplementationLoader overrides how plugin implementations are loaded.
func WithImplementationLoader(impl ImplementationLoader) Option {
	return func(r *Registry) {
		r.impl = impl
	}
}

// WithCallTimeout bounds each plugin-authored initialize and cleanup call.
// A stalled plugin call then fails the lifecycle operation instead of
// wedging the registry.
func WithCallTimeout(d time.Duration) Option {
	return func(r *Registry) {
		r.callTimeout = d
	}
}

// New creates a registry searching the given plugin roots.
func New(roots []string, logger zerolog.Logger, opts ...Option) *Registry {
	registryLogger := logger.With().Str("component", "plugin-registry").Logger()

	r := &Registry{
		logger:    registryLogger,
		loader:    NewManifestLoader(NewDiscovery(roots, logger), logger),
		validator: NewSchemaValidator(),
		resolver:  NewDependencyResolver(logger),
		impl:      NewScriptEngine(logger),
		manifests: make(map[string]*Manifest),
		active:    make(map[string]*ActivePlugin),
		hooks:     newHookTable(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Initialize loads all manifests, seeds the well-known hooks and activates
// every plugin whose type is in the auto-activate set, best effort.
// Idempotent: a second call on an initialized registry is a no-op.
func (r *Registry) Initialize(ctx context.Context) error {
	r.mu.Lock()
	if r.initialized {
		r.mu.Unlock()
		return nil
	}

	manifests, err := r.loader.LoadAll()
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("manifest loading failed: %w", err)
	}

	for name, manifest := range manifests {
		result := r.validator.Validate(manifest)
		for _, warning := range result.Warnings {
			r.logger.Warn().Str("plugin", name).Msg(warning)
		}
		if !result.Valid {
			r.logger.Warn().
				Str("plugin", name).
				Strs("errors", result.Errors).
				Msg("Manifest failed validation, skipping")
			delete(manifests, name)
		}
	}

	r.manifests = manifests
	r.hooks.seed()
	r.initialized = true
	r.mu.Unlock()

	for _, name := range r.autoActivateNames() {
		if err := r.ActivatePlugin(ctx, name); err != nil {
			r.logger.Warn().Err(err).Str("plugin", name).Msg("Auto-activation failed")
		}
	}

	r.logger.Info().Int("plugins", len(manifests)).Msg("Plugin registry initialized")
	return nil
}

// autoActivateNames returns the sorted names of plugins whose type is
// auto-activated at startup.
func (r *Registry) autoActivateNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	for name, manifest := range r.manifests {
		if AutoActivateTypes[manifest.Type] {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// ActivatePlugin activates a plugin and, first, every dependency in its
// transitive closure, dependencies before dependents. Activating an already
// active plugin is a no-op. Returns *NotFoundError for an unknown name,
// *MissingDependencyError or *CyclicDependencyError from dependency
// resolution, and *ActivationError for any per-plugin failure.
func (r *Registry) ActivatePlugin(ctx context.Context, name string) error {
	r.mu.RLock()
	if _, ok := r.manifests[name]; !ok {
		r.mu.RUnlock()
		return &NotFoundError{Name: name}
	}
	if _, ok := r.active[name]; ok {
		r.mu.RUnlock()
		return nil
	}
	manifests := make(map[string]*Manifest, len(r.manifests))
	for k, v := range r.manifests {
		manifests[k] = v
	}
	r.mu.RUnlock()

	order, err := r.resolver.ActivationOrder(name, manifests)
	if err != nil {
		switch err.(type) {
		case *MissingDependencyError, *CyclicDependencyError:
			return err
		default:
			return &ActivationError{Plugin: name, Err: err}
		}
	}

	for _, dep := range order {
		if r.IsActive(dep) {
			continue
		}
		if err := r.activateOne(ctx, manifests[dep]); err != nil {
			return err
		}
	}
	return nil
}

// stagedHook is a dynamic registration captured before the activation
// commits.
type stagedHook struct {
	hook     string
	priority int
	fn       HookFunc
}

// activateOne runs one plugin through the staged activation pipeline: load
// implementation, instantiate via the capability factory, initialize, then
// commit instance and hooks together. Nothing is published if any stage
// fails.
func (r *Registry) activateOne(ctx context.Context, manifest *Manifest) error {
	name := manifest.Name

	impl, err := r.impl.Load(manifest)
	if err != nil {
		return &ActivationError{Plugin: name, Err: err}
	}
	mod, _ := impl.(*ScriptModule)

	rc := r.newRuntimeContext(manifest)

	// Hook registrations made during initialize are staged with the
	// activation and discarded if it fails.
	var stagedMu sync.Mutex
	var staged []stagedHook
	rc.setRegistrar(func(hook string, priority int, fn HookFunc) error {
		stagedMu.Lock()
		defer stagedMu.Unlock()
		staged = append(staged, stagedHook{hook: hook, priority: priority, fn: fn})
		return nil
	})

	instance, err := Instantiate(manifest, impl, rc)
	if err != nil {
		releaseModule(mod)
		return &ActivationError{Plugin: name, Err: err}
	}

	if err := r.callPlugin(ctx, func(cctx context.Context) error {
		return instance.Initialize(cctx, rc)
	}); err != nil {
		releaseModule(mod)
		return &ActivationError{Plugin: name, Err: fmt.Errorf("initialize: %w", err)}
	}

	contributed := instance.Hooks()
	hookNames := make([]string, 0, len(contributed))
	for hook := range contributed {
		hookNames = append(hookNames, hook)
	}
	sort.Strings(hookNames)

	r.mu.Lock()
	if _, exists := r.active[name]; exists {
		r.mu.Unlock()
		releaseModule(mod)
		return nil
	}
	for _, hook := range hookNames {
		handler := contributed[hook]
		r.hooks.register(hook, name, handler.Priority, handler.Fn)
	}
	for _, reg := range staged {
		r.hooks.register(reg.hook, name, reg.priority, reg.fn)
	}
	rc.setRegistrar(r.liveRegistrar(name))
	r.active[name] = &ActivePlugin{
		ID:          uuid.NewString(),
		Manifest:    manifest,
		Instance:    instance,
		ActivatedAt: time.Now(),
		module:      mod,
	}
	r.mu.Unlock()

	r.logger.Info().
		Str("plugin", name).
		Str("version", manifest.Version).
		Str("type", string(manifest.Type)).
		Msg("Plugin activated")
	return nil
}

// liveRegistrar registers dynamic hooks straight into the hook table, owned
// by the named plugin.
func (r *Registry) liveRegistrar(name string) func(hook string, priority int, fn HookFunc) error {
	return func(hook string, priority int, fn HookFunc) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		if _, ok := r.active[name]; !ok {
			return fmt.Errorf("plugin %q is not active", name)
		}
		r.hooks.register(hook, name, priority, fn)
		return nil
	}
}

// newRuntimeContext builds the per-activation context for a plugin.
func (r *Registry) newRuntimeContext(manifest *Manifest) *RuntimeContext {
	name := manifest.Name
	return &RuntimeContext{
		manifest: manifest,
		logger:   r.logger.With().Str("plugin", name).Logger(),
		config:   cloneMap(manifest.Config),
		perms:    NewPermissionSet(manifest.Permissions),
		execute:  r.ExecuteHooks,
		register: func(hook string, priority int, fn HookFunc) error {
			return r.liveRegistrar(name)(hook, priority, fn)
		},
	}
}

// DeactivatePlugin deactivates an active plugin: cleanup first, then all of
// its hook-table entries and its active record are removed. Deactivating an
// inactive plugin is a no-op. A cleanup failure is reported as
// *DeactivationError but the plugin is removed regardless.
func (r *Registry) DeactivatePlugin(ctx context.Context, name string) error {
	r.mu.RLock()
	entry, ok := r.active[name]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	cleanupErr := r.callPlugin(ctx, entry.Instance.Cleanup)

	r.mu.Lock()
	r.hooks.removePlugin(name)
	delete(r.active, name)
	r.mu.Unlock()

	releaseModule(entry.module)

	if cleanupErr != nil {
		r.logger.Warn().Err(cleanupErr).Str("plugin", name).Msg("Cleanup failed during deactivation")
		return &DeactivationError{Plugin: name, Err: cleanupErr}
	}

	r.logger.Info().Str("plugin", name).Msg("Plugin deactivated")
	return nil
}

// ExecuteHooks runs every handler registered for a hook in descending
// priority order, threading data through: a non-nil handler result replaces
// the data for the next handler. Handler errors and panics are logged and
// skipped; they never abort the chain. An unknown hook returns data
// unchanged.
func (r *Registry) ExecuteHooks(ctx context.Context, hook string, data map[string]any) map[string]any {
	r.mu.RLock()
	entries := r.hooks.snapshot(hook)
	contexts := make([]*RuntimeContext, len(entries))
	for i, entry := range entries {
		if active, ok := r.active[entry.plugin]; ok {
			contexts[i] = r.newRuntimeContext(active.Manifest)
		}
	}
	r.mu.RUnlock()

	for i, entry := range entries {
		rc := contexts[i]
		if rc == nil {
			continue
		}
		result, err := r.invokeHook(ctx, entry, rc, data)
		if err != nil {
			r.logger.Warn().
				Err(err).
				Str("hook", hook).
				Str("plugin", entry.plugin).
				Msg("Hook handler failed")
			continue
		}
		if result != nil {
			data = result
		}
	}
	return data
}

// invokeHook runs one handler with panic recovery.
func (r *Registry) invokeHook(ctx context.Context, entry hookEntry, rc *RuntimeContext, data map[string]any) (result map[string]any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("hook handler panic: %v", rec)
		}
	}()
	return entry.fn(ctx, rc, data)
}

// Reload deactivates every active plugin best effort, clears all registry
// state and re-runs initialization from disk.
func (r *Registry) Reload(ctx context.Context) error {
	r.mu.RLock()
	names := make([]string, 0, len(r.active))
	for name := range r.active {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)

	for _, name := range names {
		if err := r.DeactivatePlugin(ctx, name); err != nil {
			r.logger.Warn().Err(err).Str("plugin", name).Msg("Deactivation failed during reload")
		}
	}

	r.mu.Lock()
	r.manifests = make(map[string]*Manifest)
	r.active = make(map[string]*ActivePlugin)
	r.hooks.reset()
	r.initialized = false
	r.mu.Unlock()

	r.logger.Info().Msg("Reloading plugin registry")
	return r.Initialize(ctx)
}

// callPlugin invokes plugin-authored code, bounded by the configured call
// timeout when one is set. The abandoned goroutine of a timed-out call may
// outlive the operation; the script state is released only once it returns.
func (r *Registry) callPlugin(ctx context.Context, fn func(context.Context) error) error {
	if r.callTimeout <= 0 {
		return fn(ctx)
	}

	cctx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(cctx)
	}()

	select {
	case err := <-done:
		return err
	case <-cctx.Done():
		return fmt.Errorf("plugin call did not complete within %s", r.callTimeout)
	}
}

// releaseModule closes a script module in the background so a stalled plugin
// call holding the script mutex cannot wedge the registry.
func releaseModule(mod *ScriptModule) {
	if mod != nil {
		go mod.Close()
	}
}

// ActiveInfo is a display snapshot of one active plugin.
type ActiveInfo struct {
	ID          string
	Name        string
	Version     string
	Type        PluginType
	ActivatedAt time.Time
}

// IsActive reports whether the named plugin is currently active.
func (r *Registry) IsActive(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.active[name]
	return ok
}

// GetManifest returns a copy of the named plugin's manifest.
func (r *Registry) GetManifest(name string) (*Manifest, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	manifest, ok := r.manifests[name]
	return manifest.Clone(), ok
}

// GetAllPlugins returns copies of every loaded manifest, sorted by name.
func (r *Registry) GetAllPlugins() []*Manifest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collectManifests(func(*Manifest) bool { return true })
}

// GetPluginsByType returns copies of the loaded manifests of one type.
func (r *Registry) GetPluginsByType(t PluginType) []*Manifest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collectManifests(func(m *Manifest) bool { return m.Type == t })
}

func (r *Registry) collectManifests(keep func(*Manifest) bool) []*Manifest {
	manifests := make([]*Manifest, 0, len(r.manifests))
	for _, manifest := range r.manifests {
		if keep(manifest) {
			manifests = append(manifests, manifest.Clone())
		}
	}
	sort.Slice(manifests, func(i, j int) bool { return manifests[i].Name < manifests[j].Name })
	return manifests
}

// GetActivePlugins returns snapshots of every active plugin, sorted by name.
func (r *Registry) GetActivePlugins() []ActiveInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collectActive(func(*ActivePlugin) bool { return true })
}

// GetActivePluginsByType returns snapshots of the active plugins of one type.
func (r *Registry) GetActivePluginsByType(t PluginType) []ActiveInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collectActive(func(a *ActivePlugin) bool { return a.Manifest.Type == t })
}

func (r *Registry) collectActive(keep func(*ActivePlugin) bool) []ActiveInfo {
	infos := make([]ActiveInfo, 0, len(r.active))
	for _, entry := range r.active {
		if keep(entry) {
			infos = append(infos, ActiveInfo{
				ID:          entry.ID,
				Name:        entry.Manifest.Name,
				Version:     entry.Manifest.Version,
				Type:        entry.Manifest.Type,
				ActivatedAt: entry.ActivatedAt,
			})
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// GetStats returns a snapshot of registry counters for display.
func (r *Registry) GetStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{
		TotalPlugins:  len(r.manifests),
		ActivePlugins: len(r.active),
		ByType:        make(map[PluginType]int),
		ActiveByType:  make(map[PluginType]int),
		HookHandlers:  r.hooks.counts(),
	}
	for _, manifest := range r.manifests {
		stats.ByType[manifest.Type]++
	}
	for _, entry := range r.active {
		stats.ActiveByType[entry.Manifest.Type]++
	}
	return stats
}
