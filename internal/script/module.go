package script

import (
	"github.com/tidwall/gjson"
	lua "github.com/yuin/gopher-lua"

	"github.com/Psigio/LldbSosExts/internal/sos/ext"
)

// ModuleName is the name scripts require the operations under.
const ModuleName = "sos"

// Module exposes the extension operations to Lua. Every function returns
// its result as Lua data; nothing is printed. Failures raise Lua errors.
type Module struct {
	ext *ext.Ext
}

// NewModule creates a Module over e. The module works on a silent copy.
func NewModule(e *ext.Ext) *Module {
	return &Module{ext: e.Silent()}
}

// Loader is the lua.LGFunction registered for require("sos").
func (m *Module) Loader(L *lua.LState) int {
	mod := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"exec":      m.exec,
		"stack":     m.stack,
		"field":     m.field,
		"keyvalues": m.keyValues,
		"dko":       m.dko,
		"etec":      m.etec,
		"eoh":       m.eoh,
		"dhbg":      m.dhbg,
		"json_get":  m.jsonGet,
	})
	L.Push(mod)
	return 1
}

// exec(command) -> lines
func (m *Module) exec(L *lua.LState) int {
	lines, err := m.ext.ExecuteTrackedCommand(L.CheckString(1))
	if err != nil {
		L.RaiseError("exec: %v", err)
		return 0
	}
	L.Push(NewBridge(L).Lines(lines))
	return 1
}

// stack([label]) -> lines of the matching object dump
func (m *Module) stack(L *lua.LState) int {
	lines, err := m.ext.GetFromStack(L.OptString(1, ""), false)
	if err != nil {
		L.RaiseError("stack: %v", err)
		return 0
	}
	L.Push(NewBridge(L).Lines(lines))
	return 1
}

// field(address, name) -> raw field value
func (m *Module) field(L *lua.LState) int {
	v, err := m.ext.FieldOf(L.CheckString(1), L.CheckString(2))
	if err != nil {
		L.RaiseError("field: %v", err)
		return 0
	}
	L.Push(lua.LString(v))
	return 1
}

// keyvalues(address) -> {{key=, value=}, ...}
func (m *Module) keyValues(L *lua.LState) int {
	kv, err := m.ext.KeyValues(L.CheckString(1))
	if err != nil {
		L.RaiseError("keyvalues: %v", err)
		return 0
	}
	L.Push(NewBridge(L).Pairs(kv))
	return 1
}

// dko(address) -> value
func (m *Module) dko(L *lua.LState) int {
	v, err := m.ext.DecodeKnownObject(L.CheckString(1))
	if err != nil {
		L.RaiseError("dko: %v", err)
		return 0
	}
	L.Push(NewBridge(L).Value(v))
	return 1
}

// etec() -> {value, ...}
func (m *Module) etec(L *lua.LState) int {
	vs, err := m.ext.ExpandThreadLocalValues()
	if err != nil {
		L.RaiseError("etec: %v", err)
		return 0
	}
	L.Push(NewBridge(L).Values(vs))
	return 1
}

// eoh(type, action) -> {{address=, output=, value=, err=}, ...}
func (m *Module) eoh(L *lua.LState) int {
	results, err := m.ext.ScanHeapAndApply(L.CheckString(1), L.CheckString(2))
	if err != nil {
		L.RaiseError("eoh: %v", err)
		return 0
	}
	L.Push(NewBridge(L).Results(results))
	return 1
}

// dhbg(type, generation) -> {address, ...}
func (m *Module) dhbg(L *lua.LState) int {
	addrs, err := m.ext.ScanHeapByGeneration(L.CheckString(1), L.CheckString(2))
	if err != nil {
		L.RaiseError("dhbg: %v", err)
		return 0
	}
	L.Push(NewBridge(L).Lines(addrs))
	return 1
}

// json_get(json, path) -> value at path, or nil
func (m *Module) jsonGet(L *lua.LState) int {
	doc, path := L.CheckString(1), L.CheckString(2)
	if !gjson.Valid(doc) {
		L.ArgError(1, "invalid JSON")
		return 0
	}
	r := gjson.Get(doc, path)
	if !r.Exists() {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(NewBridge(L).ToLua(r.Value()))
	return 1
}
