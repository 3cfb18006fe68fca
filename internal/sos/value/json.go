package value

import (
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
	"github.com/tidwall/sjson"
)

// JSON renders the value as indented JSON. A dictionary becomes an object
// keyed by each key's summary, holding either the value's summary or a
// nested object for nested dictionaries. Any other value becomes a JSON
// string of its summary.
func (v Value) JSON() string {
	return strings.TrimRight(string(pretty.Pretty([]byte(v.rawJSON()))), "\n")
}

// CompactJSON renders the value as single-line JSON.
func (v Value) CompactJSON() string {
	return v.rawJSON()
}

func (v Value) rawJSON() string {
	if v.Kind != KindDictionary {
		doc, _ := sjson.Set(`{}`, "s", v.String())
		return gjson.Get(doc, "s").Raw
	}

	out := "{}"
	seen := make(map[string]int, len(v.Entries))
	for _, e := range v.Entries {
		key := e.Key.summaryKey()
		seen[key]++
		if n := seen[key]; n > 1 {
			// Distinct objects can share a summary; keep every slot.
			key += " (" + strconv.Itoa(n) + ")"
		}

		var (
			updated string
			err     error
		)
		path := escapePath(key)
		if e.Value.Kind == KindDictionary {
			updated, err = sjson.SetRaw(out, path, e.Value.rawJSON())
		} else {
			updated, err = sjson.Set(out, path, e.Value.String())
		}
		if err == nil {
			out = updated
		}
	}
	return out
}

// summaryKey is the object key used for a dictionary key. Nested
// dictionaries used as keys collapse to their compact JSON.
func (v Value) summaryKey() string {
	if v.Kind == KindDictionary {
		return "dictionary " + v.rawJSON()
	}
	return v.String()
}

// escapePath escapes the characters sjson treats as path syntax so that a
// key is always set as a single literal member name.
func escapePath(key string) string {
	var sb strings.Builder
	sb.Grow(len(key) + 8)
	for i := 0; i < len(key); i++ {
		switch c := key[i]; c {
		case '.', '\\', '|', '#', '@', '*', '?', '!', '=', '<', '>', '%', '(', ')', '[', ']', '{', '}', ',', ':':
			sb.WriteByte('\\')
			sb.WriteByte(c)
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}
