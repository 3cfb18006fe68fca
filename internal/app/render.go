package app

import (
	"strings"

	"github.com/tidwall/pretty"

	"github.com/Psigio/LldbSosExts/internal/sos/ext"
	"github.com/Psigio/LldbSosExts/internal/sos/value"
)

// NewRenderer returns how decoded values are printed. The plain form is
// value.Value.String; asJSON prints the JSON form of every value. color
// highlights JSON with terminal escapes.
func NewRenderer(asJSON, color bool) ext.Renderer {
	return func(v value.Value) string {
		if asJSON {
			return colorize(v.JSON(), color)
		}
		if v.Kind == value.KindDictionary && color {
			return "dictionary\n" + colorize(v.JSON(), true)
		}
		return v.String()
	}
}

func colorize(js string, color bool) string {
	if !color {
		return strings.TrimRight(js, "\n")
	}
	return strings.TrimRight(string(pretty.Color([]byte(js), nil)), "\n")
}
