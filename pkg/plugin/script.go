package plugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"
)

// ImplementationLoader loads a plugin's implementation artifact from its
// manifest. The default implementation is the Lua ScriptEngine; tests and
// embedders can substitute native instances.
type ImplementationLoader interface {
	Load(manifest *Manifest) (any, error)
}

// ScriptEngine loads Lua plugin implementations, one sandboxed state per
// plugin.
type ScriptEngine struct {
	logger zerolog.Logger
}

// NewScriptEngine creates a script engine.
func NewScriptEngine(logger zerolog.Logger) *ScriptEngine {
	return &ScriptEngine{
		logger: logger.With().Str("component", "script-engine").Logger(),
	}
}

// Load executes the manifest's entry point in a fresh sandboxed Lua state
// and returns the module. The plugin table is either the chunk's return
// value or a global named "plugin".
func (e *ScriptEngine) Load(manifest *Manifest) (any, error) {
	path := filepath.Join(manifest.Dir, manifest.Main)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("implementation not found at %s: %w", path, err)
	}

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	openSafeLibraries(L)

	mod := &ScriptModule{L: L}
	if err := mod.run(path); err != nil {
		L.Close()
		return nil, err
	}

	e.logger.Debug().Str("plugin", manifest.Name).Str("path", path).Msg("Loaded implementation")
	return mod, nil
}

// openSafeLibraries opens only side-effect-free Lua standard libraries.
// io, os, debug and package stay closed; scripts interact with the host
// exclusively through the injected api table.
func openSafeLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
}

// ScriptModule wraps one plugin's Lua state and its exported plugin table.
// gopher-lua states are not goroutine safe; the mutex serializes all entry
// from Go. Nested entry from the call chain that already holds the mutex is
// legal: a script handler may dispatch hooks back into its own module.
type ScriptModule struct {
	L     *lua.LState
	table *lua.LTable

	mu     sync.Mutex
	closed bool

	// activeCtx is the context of the call currently executing on L. Only
	// touched while the mutex is held, or from host callbacks running
	// inside that call.
	activeCtx context.Context
}

// heldModulesKey carries the script modules locked by the current call chain,
// so nested dispatch into an already-held module skips relocking.
type heldModulesKey struct{}

func withHeldModule(ctx context.Context, m *ScriptModule) context.Context {
	held, _ := ctx.Value(heldModulesKey{}).([]*ScriptModule)
	next := make([]*ScriptModule, len(held), len(held)+1)
	copy(next, held)
	return context.WithValue(ctx, heldModulesKey{}, append(next, m))
}

func moduleHeld(ctx context.Context, m *ScriptModule) bool {
	held, _ := ctx.Value(heldModulesKey{}).([]*ScriptModule)
	for _, h := range held {
		if h == m {
			return true
		}
	}
	return false
}

// run executes the entry chunk and captures the plugin table.
func (m *ScriptModule) run(path string) error {
	var execErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				execErr = fmt.Errorf("script panic: %v", r)
			}
		}()

		fn, err := m.L.LoadFile(path)
		if err != nil {
			execErr = err
			return
		}
		m.L.Push(fn)
		execErr = m.L.PCall(0, 1, nil)
	}()
	if execErr != nil {
		return execErr
	}

	ret := m.L.Get(-1)
	m.L.Pop(1)

	if table, ok := ret.(*lua.LTable); ok {
		m.table = table
	} else if table, ok := m.L.GetGlobal("plugin").(*lua.LTable); ok {
		m.table = table
	} else {
		return fmt.Errorf("script must return a plugin table or define a global named plugin")
	}
	return nil
}

// fn looks up a function field on the plugin table.
func (m *ScriptModule) fn(name string) (*lua.LFunction, bool) {
	if m.table == nil {
		return nil, false
	}
	fn, ok := m.L.GetField(m.table, name).(*lua.LFunction)
	return fn, ok
}

// missing returns which of the named functions the plugin table lacks.
func (m *ScriptModule) missing(names ...string) []string {
	var missing []string
	for _, name := range names {
		if _, ok := m.fn(name); !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// call invokes a plugin function with panic recovery, returning its first
// result. When the context shows this module is already held by the current
// call chain, the mutex is not re-acquired: the call runs directly on the
// held state.
func (m *ScriptModule) call(ctx context.Context, fn *lua.LFunction, args ...lua.LValue) (lua.LValue, error) {
	if moduleHeld(ctx, m) {
		return m.invoke(ctx, fn, args...)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return lua.LNil, fmt.Errorf("script state is closed")
	}
	return m.invoke(withHeldModule(ctx, m), fn, args...)
}

// invoke runs a function on the state. The caller's chain holds the mutex.
func (m *ScriptModule) invoke(ctx context.Context, fn *lua.LFunction, args ...lua.LValue) (result lua.LValue, err error) {
	prev := m.activeCtx
	m.activeCtx = ctx
	defer func() {
		m.activeCtx = prev
		if r := recover(); r != nil {
			err = fmt.Errorf("script panic: %v", r)
		}
	}()

	if err := m.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, args...); err != nil {
		return lua.LNil, err
	}
	result = m.L.Get(-1)
	m.L.Pop(1)
	return result, nil
}

// heldContext returns the context of the call currently executing on the
// state. Valid only from host callbacks invoked by that call.
func (m *ScriptModule) heldContext() context.Context {
	if m.activeCtx != nil {
		return m.activeCtx
	}
	return context.Background()
}

// setGlobal installs a value as a script global.
func (m *ScriptModule) setGlobal(name string, value lua.LValue) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.L.SetGlobal(name, value)
	}
}

// Close releases the Lua state. Safe to call more than once.
func (m *ScriptModule) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		m.L.Close()
	}
}

// luaToGo converts a Lua value to its Go equivalent: bool, int64, float64,
// string, []any or map[string]any. Functions and userdata convert to nil.
func luaToGo(lv lua.LValue) any {
	return luaToGoVisited(lv, make(map[*lua.LTable]bool))
}

func luaToGoVisited(lv lua.LValue, visited map[*lua.LTable]bool) any {
	switch v := lv.(type) {
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		f := float64(v)
		if f == float64(int64(f)) {
			return int64(f)
		}
		return f
	case lua.LString:
		return string(v)
	case *lua.LTable:
		if visited[v] {
			return nil
		}
		visited[v] = true
		return luaTableToGo(v, visited)
	default:
		return nil
	}
}

// luaTableToGo converts a table to a slice when its keys are a contiguous
// 1..n sequence, a string-keyed map otherwise.
func luaTableToGo(t *lua.LTable, visited map[*lua.LTable]bool) any {
	maxN := 0
	count := 0
	isArray := true
	t.ForEach(func(k, _ lua.LValue) {
		count++
		if kn, ok := k.(lua.LNumber); ok {
			n := int(kn)
			if float64(n) == float64(kn) && n > 0 {
				if n > maxN {
					maxN = n
				}
				return
			}
		}
		isArray = false
	})

	if isArray && maxN > 0 && count == maxN {
		arr := make([]any, maxN)
		for i := 1; i <= maxN; i++ {
			arr[i-1] = luaToGoVisited(t.RawGetInt(i), visited)
		}
		return arr
	}

	m := make(map[string]any, count)
	t.ForEach(func(k, v lua.LValue) {
		m[k.String()] = luaToGoVisited(v, visited)
	})
	return m
}

// luaToGoMap converts a Lua value to a string-keyed map, reporting whether
// the conversion made sense.
func luaToGoMap(lv lua.LValue) (map[string]any, bool) {
	if lv == lua.LNil {
		return nil, false
	}
	m, ok := luaToGo(lv).(map[string]any)
	return m, ok
}

// goToLua converts a Go value to a Lua value.
func goToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []byte:
		return lua.LString(val)
	case []any:
		t := L.NewTable()
		for i, item := range val {
			t.RawSetInt(i+1, goToLua(L, item))
		}
		return t
	case []string:
		t := L.NewTable()
		for i, item := range val {
			t.RawSetInt(i+1, lua.LString(item))
		}
		return t
	case map[string]any:
		return goMapToLua(L, val)
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}

func goMapToLua(L *lua.LState, m map[string]any) *lua.LTable {
	t := L.NewTable()
	for k, v := range m {
		t.RawSetString(k, goToLua(L, v))
	}
	return t
}
