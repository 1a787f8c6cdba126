package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeCore implements the base contract with call counting, for lifecycle
// tests that do not need a script runtime.
type fakeCore struct {
	initCalls    int
	cleanupCalls int
	initErr      error
	cleanupErr   error
	hooks        map[string]HookHandler
	onInit       func(rc *RuntimeContext) error
	rc           *RuntimeContext
}

func (f *fakeCore) Initialize(ctx context.Context, rc *RuntimeContext) error {
	f.initCalls++
	f.rc = rc
	if f.onInit != nil {
		if err := f.onInit(rc); err != nil {
			return err
		}
	}
	return f.initErr
}

func (f *fakeCore) Cleanup(ctx context.Context) error {
	f.cleanupCalls++
	return f.cleanupErr
}

func (f *fakeCore) Hooks() map[string]HookHandler {
	return f.hooks
}

type fakeTheme struct{ *fakeCore }

func (f *fakeTheme) GetTheme(ctx context.Context) (map[string]any, error) {
	return map[string]any{"primary_color": "#222222"}, nil
}

func (f *fakeTheme) ApplyTheme(ctx context.Context, target ThemeTarget) error {
	return target.SetStyle("menu", map[string]any{"fg": "#222222"})
}

type fakeValidator struct{ *fakeCore }

func (f *fakeValidator) ValidateConfig(ctx context.Context, config map[string]any) (ValidationResult, error) {
	return ValidationResult{Valid: true}, nil
}

func (f *fakeValidator) Rules() []string { return []string{"no-empty-values"} }

type fakeUIComponent struct{ *fakeCore }

func (f *fakeUIComponent) CreateComponent(ctx context.Context, parent string, options map[string]any) (map[string]any, error) {
	return map[string]any{"parent": parent}, nil
}

func (f *fakeUIComponent) ComponentType() string { return "menu" }

type fakeExporter struct{ *fakeCore }

func (f *fakeExporter) Export(ctx context.Context, config map[string]any, format string) ([]byte, error) {
	data, err := json.Marshal(config)
	return data, err
}

func (f *fakeExporter) SupportedFormats() []string { return []string{"json"} }

// fakeLoader serves pre-built implementations instead of loading scripts.
type fakeLoader struct {
	impls    map[string]any
	loadErrs map[string]error
	loads    map[string]int
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{
		impls:    make(map[string]any),
		loadErrs: make(map[string]error),
		loads:    make(map[string]int),
	}
}

func (l *fakeLoader) Load(m *Manifest) (any, error) {
	l.loads[m.Name]++
	if err, ok := l.loadErrs[m.Name]; ok {
		return nil, err
	}
	impl, ok := l.impls[m.Name]
	if !ok {
		return nil, fmt.Errorf("no implementation registered for %s", m.Name)
	}
	return impl, nil
}

// wrapRole wraps a fakeCore in the role matching a plugin type.
func wrapRole(t *testing.T, pluginType PluginType, core *fakeCore) any {
	t.Helper()
	switch pluginType {
	case TypeTheme:
		return &fakeTheme{core}
	case TypeUIComponent:
		return &fakeUIComponent{core}
	case TypeValidator:
		return &fakeValidator{core}
	case TypeExporter:
		return &fakeExporter{core}
	default:
		t.Fatalf("wrapRole: unsupported type %s", pluginType)
		return nil
	}
}

// manifestSpec describes a manifest file written for a test.
type manifestSpec struct {
	Name         string       `json:"name"`
	Version      string       `json:"version"`
	Type         PluginType   `json:"type"`
	Main         string       `json:"main"`
	Dependencies []Dependency `json:"dependencies,omitempty"`
}

func writeManifestFile(t *testing.T, dir string, spec manifestSpec) {
	t.Helper()
	if spec.Version == "" {
		spec.Version = "1.0.0"
	}
	if spec.Main == "" {
		spec.Main = "init.lua"
	}
	data, err := json.Marshal(spec)
	require.NoError(t, err)
	path := filepath.Join(dir, spec.Name+ManifestSuffix)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

// testRegistry bundles a registry with its fake loader and plugin cores.
type testRegistry struct {
	*Registry
	loader *fakeLoader
	cores  map[string]*fakeCore
}

// newTestRegistry writes the manifests into a temp root and builds a
// registry whose implementations are fakes, one core per manifest.
func newTestRegistry(t *testing.T, specs []manifestSpec, opts ...Option) *testRegistry {
	t.Helper()
	dir := t.TempDir()
	loader := newFakeLoader()
	cores := make(map[string]*fakeCore)

	for _, spec := range specs {
		writeManifestFile(t, dir, spec)
		core := &fakeCore{}
		cores[spec.Name] = core
		loader.impls[spec.Name] = wrapRole(t, spec.Type, core)
	}

	opts = append([]Option{WithImplementationLoader(loader)}, opts...)
	registry := New([]string{dir}, testLogger(), opts...)
	return &testRegistry{Registry: registry, loader: loader, cores: cores}
}
