package script

import (
	"sort"

	lua "github.com/yuin/gopher-lua"

	"github.com/Psigio/LldbSosExts/internal/sos/assoc"
	"github.com/Psigio/LldbSosExts/internal/sos/heap"
	"github.com/Psigio/LldbSosExts/internal/sos/value"
)

// Bridge converts decoded values and command output to Lua tables.
type Bridge struct {
	L *lua.LState
}

// NewBridge creates a Bridge for L.
func NewBridge(L *lua.LState) *Bridge {
	return &Bridge{L: L}
}

// Value converts a decoded value. Every table carries kind, type, address
// and summary; the remaining fields depend on the kind:
//
//	bool        value (boolean)
//	string      value (string)
//	duration    ms, ticks
//	timestamp   value (formatted) or sentinel
//	dictionary  entries ({key = ..., value = ...} in container order), json
func (b *Bridge) Value(v value.Value) *lua.LTable {
	t := b.L.NewTable()
	t.RawSetString("kind", lua.LString(v.Kind.String()))
	t.RawSetString("type", lua.LString(v.TypeName))
	t.RawSetString("address", lua.LString(v.Address))
	t.RawSetString("summary", lua.LString(v.String()))
	if v.Label != "" {
		t.RawSetString("label", lua.LString(v.Label))
	}

	switch v.Kind {
	case value.KindBool:
		t.RawSetString("value", lua.LBool(v.Bool))
	case value.KindString:
		t.RawSetString("value", lua.LString(v.Str))
	case value.KindDuration:
		t.RawSetString("ms", lua.LNumber(v.Milliseconds()))
		t.RawSetString("ticks", lua.LNumber(v.Ticks))
	case value.KindTimestamp:
		if v.Sentinel != value.SentinelNone {
			t.RawSetString("sentinel", lua.LString(v.Sentinel.String()))
		} else {
			t.RawSetString("value", lua.LString(v.Time.Format(value.DateLayout)))
		}
	case value.KindDictionary:
		entries := b.L.CreateTable(len(v.Entries), 0)
		for _, e := range v.Entries {
			slot := b.L.CreateTable(0, 2)
			slot.RawSetString("key", b.Value(e.Key))
			slot.RawSetString("value", b.Value(e.Value))
			entries.Append(slot)
		}
		t.RawSetString("entries", entries)
		t.RawSetString("json", lua.LString(v.CompactJSON()))
	}
	return t
}

// Values converts a slice of decoded values to an array.
func (b *Bridge) Values(vs []value.Value) *lua.LTable {
	t := b.L.CreateTable(len(vs), 0)
	for _, v := range vs {
		t.Append(b.Value(v))
	}
	return t
}

// Lines converts command output to an array of strings.
func (b *Bridge) Lines(lines []string) *lua.LTable {
	t := b.L.CreateTable(len(lines), 0)
	for _, line := range lines {
		t.Append(lua.LString(line))
	}
	return t
}

// Pairs converts raw dictionary slots to an array of {key, value} tables.
func (b *Bridge) Pairs(m assoc.KeyValueMap) *lua.LTable {
	pairs := m.Pairs()
	t := b.L.CreateTable(len(pairs), 0)
	for _, p := range pairs {
		slot := b.L.CreateTable(0, 2)
		slot.RawSetString("key", lua.LString(p.Key))
		slot.RawSetString("value", lua.LString(p.Value))
		t.Append(slot)
	}
	return t
}

// Results converts heap scan results. A result whose object was decoded
// carries it under value; a degraded result carries err.
func (b *Bridge) Results(results []heap.Result) *lua.LTable {
	t := b.L.CreateTable(len(results), 0)
	for _, r := range results {
		row := b.L.CreateTable(0, 4)
		row.RawSetString("address", lua.LString(r.Address))
		row.RawSetString("output", lua.LString(r.Output))
		if r.Value != nil {
			row.RawSetString("value", b.Value(*r.Value))
		}
		if r.Err != nil {
			row.RawSetString("err", lua.LString(r.Err.Error()))
		}
		t.Append(row)
	}
	return t
}

// ToLua converts a generic Go value as produced by JSON decoding. Map keys
// are visited in sorted order so table construction is deterministic.
func (b *Bridge) ToLua(v any) lua.LValue {
	switch x := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(x)
	case string:
		return lua.LString(x)
	case float64:
		return lua.LNumber(x)
	case int:
		return lua.LNumber(x)
	case int64:
		return lua.LNumber(x)
	case []string:
		return b.Lines(x)
	case []any:
		t := b.L.CreateTable(len(x), 0)
		for _, item := range x {
			t.Append(b.ToLua(item))
		}
		return t
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		t := b.L.CreateTable(0, len(x))
		for _, k := range keys {
			t.RawSetString(k, b.ToLua(x[k]))
		}
		return t
	default:
		return lua.LNil
	}
}
