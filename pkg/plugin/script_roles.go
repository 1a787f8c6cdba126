package plugin

import (
	"context"
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// requiredScriptFunctions lists the functions a script plugin table must
// expose for each role, mirroring the role interface method sets.
var requiredScriptFunctions = map[PluginType][]string{
	TypeTheme:        {"get_theme", "apply_theme"},
	TypeConfigParser: {"parse", "serialize", "supported_extensions"},
	TypeUIComponent:  {"create_component", "component_type"},
	TypeValidator:    {"validate", "rules"},
	TypeExporter:     {"export", "supported_formats"},
}

// newScriptPlugin wraps a loaded script module in the role adapter matching
// the manifest's declared type, after checking the required functions are
// present.
func newScriptPlugin(manifest *Manifest, mod *ScriptModule, rc *RuntimeContext) (Plugin, error) {
	required, ok := requiredScriptFunctions[manifest.Type]
	if !ok {
		return nil, &InterfaceMismatchError{Plugin: manifest.Name, Type: manifest.Type}
	}
	if missing := mod.missing(required...); len(missing) > 0 {
		return nil, &InterfaceMismatchError{Plugin: manifest.Name, Type: manifest.Type, Missing: missing}
	}

	base := &scriptPlugin{manifest: manifest, mod: mod, rc: rc}
	switch manifest.Type {
	case TypeTheme:
		return &scriptTheme{base}, nil
	case TypeConfigParser:
		return &scriptConfigParser{base}, nil
	case TypeUIComponent:
		return &scriptUIComponent{base}, nil
	case TypeValidator:
		return &scriptValidator{base}, nil
	default:
		return &scriptExporter{base}, nil
	}
}

// scriptPlugin implements the base Plugin contract over a Lua module.
type scriptPlugin struct {
	manifest *Manifest
	mod      *ScriptModule
	rc       *RuntimeContext
}

// Initialize installs the host api global and invokes the script's optional
// initialize(config) function.
func (p *scriptPlugin) Initialize(ctx context.Context, rc *RuntimeContext) error {
	p.rc = rc
	p.installHostAPI()

	fn, ok := p.mod.fn("initialize")
	if !ok {
		return nil
	}
	_, err := p.mod.call(ctx, fn, goMapToLua(p.mod.L, rc.Config()))
	return err
}

// Cleanup invokes the script's optional cleanup function.
func (p *scriptPlugin) Cleanup(ctx context.Context) error {
	fn, ok := p.mod.fn("cleanup")
	if !ok {
		return nil
	}
	_, err := p.mod.call(ctx, fn)
	return err
}

// Hooks reads the script's hooks table. Each entry is either a bare function
// (priority 0) or a table of the form {priority = N, handler = fn}.
func (p *scriptPlugin) Hooks() map[string]HookHandler {
	if p.mod.table == nil {
		return nil
	}
	hooksTable, ok := p.mod.L.GetField(p.mod.table, "hooks").(*lua.LTable)
	if !ok {
		return nil
	}

	handlers := make(map[string]HookHandler)
	hooksTable.ForEach(func(k, v lua.LValue) {
		name := k.String()
		switch entry := v.(type) {
		case *lua.LFunction:
			handlers[name] = HookHandler{Fn: p.wrapHook(entry)}
		case *lua.LTable:
			fn, ok := p.mod.L.GetField(entry, "handler").(*lua.LFunction)
			if !ok {
				return
			}
			priority := 0
			if n, ok := p.mod.L.GetField(entry, "priority").(lua.LNumber); ok {
				priority = int(n)
			}
			handlers[name] = HookHandler{Priority: priority, Fn: p.wrapHook(fn)}
		}
	})
	return handlers
}

// wrapHook adapts a Lua function to the HookFunc contract: the handler gets
// the accumulated data table and may return a replacement table.
func (p *scriptPlugin) wrapHook(fn *lua.LFunction) HookFunc {
	return func(ctx context.Context, rc *RuntimeContext, data map[string]any) (map[string]any, error) {
		ret, err := p.mod.call(ctx, fn, goMapToLua(p.mod.L, data))
		if err != nil {
			return nil, err
		}
		result, ok := luaToGoMap(ret)
		if !ok {
			return nil, nil
		}
		return result, nil
	}
}

// installHostAPI exposes the runtime context to the script as a global
// table named api: logging, config access, permission checks and the hook
// interaction surface.
func (p *scriptPlugin) installHostAPI() {
	rc := p.rc
	L := p.mod.L
	api := L.NewTable()

	L.SetField(api, "log", L.NewFunction(func(ls *lua.LState) int {
		rc.Log("%s", ls.CheckString(1))
		return 0
	}))
	L.SetField(api, "error", L.NewFunction(func(ls *lua.LState) int {
		rc.Error("%s", ls.CheckString(1))
		return 0
	}))
	L.SetField(api, "config", goMapToLua(L, rc.Config()))
	L.SetField(api, "has_permission", L.NewFunction(func(ls *lua.LState) int {
		ls.Push(lua.LBool(rc.Permissions().Has(Permission(ls.CheckString(1)))))
		return 1
	}))
	L.SetField(api, "execute_hooks", L.NewFunction(func(ls *lua.LState) int {
		name := ls.CheckString(1)
		data, _ := luaToGoMap(ls.Get(2))
		// The dispatching call's context carries this module as held, so
		// handlers owned by the same plugin run on the held state instead
		// of re-entering the mutex.
		result := rc.ExecuteHooks(p.mod.heldContext(), name, data)
		ls.Push(goMapToLua(ls, result))
		return 1
	}))
	L.SetField(api, "register_hook", L.NewFunction(func(ls *lua.LState) int {
		name := ls.CheckString(1)
		priority := ls.CheckInt(2)
		fn := ls.CheckFunction(3)
		if err := rc.RegisterHook(name, priority, p.wrapHook(fn)); err != nil {
			ls.RaiseError("register_hook: %v", err)
		}
		return 0
	}))

	p.mod.setGlobal("api", api)
}

type scriptTheme struct{ *scriptPlugin }

func (t *scriptTheme) GetTheme(ctx context.Context) (map[string]any, error) {
	fn, _ := t.mod.fn("get_theme")
	ret, err := t.mod.call(ctx, fn)
	if err != nil {
		return nil, err
	}
	theme, ok := luaToGoMap(ret)
	if !ok {
		return nil, fmt.Errorf("get_theme must return a table")
	}
	return theme, nil
}

func (t *scriptTheme) ApplyTheme(ctx context.Context, target ThemeTarget) error {
	fn, _ := t.mod.fn("apply_theme")

	// The target surface crosses into the script as a table with a single
	// set_style function.
	L := t.mod.L
	surface := L.NewTable()
	var applyErr error
	L.SetField(surface, "set_style", L.NewFunction(func(ls *lua.LState) int {
		element := ls.CheckString(1)
		style, _ := luaToGoMap(ls.Get(2))
		if err := target.SetStyle(element, style); err != nil {
			applyErr = err
		}
		return 0
	}))

	if _, err := t.mod.call(ctx, fn, surface); err != nil {
		return err
	}
	return applyErr
}

type scriptConfigParser struct{ *scriptPlugin }

func (c *scriptConfigParser) Parse(ctx context.Context, content []byte, sourcePath string) (map[string]any, error) {
	fn, _ := c.mod.fn("parse")
	ret, err := c.mod.call(ctx, fn, lua.LString(content), lua.LString(sourcePath))
	if err != nil {
		return nil, err
	}
	parsed, ok := luaToGoMap(ret)
	if !ok {
		return nil, fmt.Errorf("parse must return a table")
	}
	return parsed, nil
}

func (c *scriptConfigParser) Serialize(ctx context.Context, config map[string]any) ([]byte, error) {
	fn, _ := c.mod.fn("serialize")
	ret, err := c.mod.call(ctx, fn, goMapToLua(c.mod.L, config))
	if err != nil {
		return nil, err
	}
	content, ok := ret.(lua.LString)
	if !ok {
		return nil, fmt.Errorf("serialize must return a string")
	}
	return []byte(content), nil
}

func (c *scriptConfigParser) SupportedExtensions() []string {
	fn, _ := c.mod.fn("supported_extensions")
	ret, err := c.mod.call(context.Background(), fn)
	if err != nil {
		return nil
	}
	return toStringSlice(ret)
}

type scriptUIComponent struct{ *scriptPlugin }

func (u *scriptUIComponent) CreateComponent(ctx context.Context, parent string, options map[string]any) (map[string]any, error) {
	fn, _ := u.mod.fn("create_component")
	ret, err := u.mod.call(ctx, fn, lua.LString(parent), goMapToLua(u.mod.L, options))
	if err != nil {
		return nil, err
	}
	handle, ok := luaToGoMap(ret)
	if !ok {
		return nil, fmt.Errorf("create_component must return a table")
	}
	return handle, nil
}

func (u *scriptUIComponent) ComponentType() string {
	fn, _ := u.mod.fn("component_type")
	ret, err := u.mod.call(context.Background(), fn)
	if err != nil {
		return ""
	}
	return ret.String()
}

type scriptValidator struct{ *scriptPlugin }

func (v *scriptValidator) ValidateConfig(ctx context.Context, config map[string]any) (ValidationResult, error) {
	fn, _ := v.mod.fn("validate")
	ret, err := v.mod.call(ctx, fn, goMapToLua(v.mod.L, config))
	if err != nil {
		return ValidationResult{}, err
	}
	raw, ok := luaToGoMap(ret)
	if !ok {
		return ValidationResult{}, fmt.Errorf("validate must return a table")
	}

	result := ValidationResult{Valid: true}
	if valid, ok := raw["valid"].(bool); ok {
		result.Valid = valid
	}
	result.Errors = anySliceToStrings(raw["errors"])
	result.Warnings = anySliceToStrings(raw["warnings"])
	if len(result.Errors) > 0 {
		result.Valid = false
	}
	return result, nil
}

func (v *scriptValidator) Rules() []string {
	fn, _ := v.mod.fn("rules")
	ret, err := v.mod.call(context.Background(), fn)
	if err != nil {
		return nil
	}
	return toStringSlice(ret)
}

type scriptExporter struct{ *scriptPlugin }

func (e *scriptExporter) Export(ctx context.Context, config map[string]any, format string) ([]byte, error) {
	fn, _ := e.mod.fn("export")
	ret, err := e.mod.call(ctx, fn, goMapToLua(e.mod.L, config), lua.LString(format))
	if err != nil {
		return nil, err
	}
	content, ok := ret.(lua.LString)
	if !ok {
		return nil, fmt.Errorf("export must return a string")
	}
	return []byte(content), nil
}

func (e *scriptExporter) SupportedFormats() []string {
	fn, _ := e.mod.fn("supported_formats")
	ret, err := e.mod.call(context.Background(), fn)
	if err != nil {
		return nil
	}
	return toStringSlice(ret)
}

// toStringSlice converts a Lua array value to a string slice.
func toStringSlice(lv lua.LValue) []string {
	arr, ok := luaToGo(lv).([]any)
	if !ok {
		return nil
	}
	return anySliceToStrings(arr)
}

func anySliceToStrings(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
