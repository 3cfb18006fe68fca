package decode

import (
	"errors"

	"github.com/Psigio/LldbSosExts/internal/sos/assoc"
	"github.com/Psigio/LldbSosExts/internal/sos/pattern"
	"github.com/Psigio/LldbSosExts/internal/sos/value"
)

// Managed type names with built-in decoders.
const (
	TypeBoolean      = "System.Boolean"
	TypeString       = "System.String"
	TypeTimeSpan     = "System.TimeSpan"
	TypeDateTime     = "System.DateTime"
	TypeTimeoutTimer = "Microsoft.Data.ProviderBase.TimeoutTimer"

	// PrefixDictionary matches every closed Dictionary<TKey,TValue>.
	PrefixDictionary = "System.Collections.Generic.Dictionary`2["
)

// Field names read by the built-in decoders.
const (
	FieldBoolValue   = "m_value"
	FieldTicks       = "_ticks"
	FieldDateData    = "_dateData"
	FieldTimerExpire = "_timerExpire"
	FieldEntries     = "_entries"
)

// TimeoutTimerLabel prefixes a decoded TimeoutTimer expiry.
const TimeoutTimerLabel = "TimeoutTimer expires:"

// RegisterBuiltins adds the built-in decoders to r.
func RegisterBuiltins(r *Registry) {
	r.Register(TypeBoolean, decodeBoolean)
	r.Register(TypeString, decodeString)
	r.Register(TypeTimeSpan, decodeTimeSpan)
	r.Register(TypeDateTime, decodeDateTime)
	r.Register(TypeTimeoutTimer, decodeTimeoutTimer)
	r.RegisterPrefix(PrefixDictionary, decodeDictionary)
}

func decodeBoolean(ctx *Context, _ string, lines []string) (value.Value, error) {
	raw, ok := pattern.ExtractField(lines, FieldBoolValue)
	if !ok {
		ctx.warn("boolean at %s has no %s field", ctxAddress(ctx), FieldBoolValue)
	}
	n, _ := ParseHex(raw)
	return value.Bool(n == 1), nil
}

func decodeString(ctx *Context, _ string, lines []string) (value.Value, error) {
	body, ok := pattern.StringBody(lines)
	if !ok {
		ctx.warn("string at %s has no body", ctxAddress(ctx))
	}
	return value.String(body), nil
}

func decodeTimeSpan(_ *Context, _ string, lines []string) (value.Value, error) {
	var ticks int64
	if raw, ok := pattern.ExtractField(lines, FieldTicks); ok {
		if n, ok := ParseHex(raw); ok {
			ticks = int64(n)
		}
	}
	return value.Duration(ticks), nil
}

func decodeDateTime(ctx *Context, typeName string, lines []string) (value.Value, error) {
	raw, ok := pattern.ExtractField(lines, FieldDateData)
	if !ok {
		return value.TimestampSentinel(typeName, value.SentinelUnknown), nil
	}
	n, ok := ParseHex(raw)
	if !ok {
		return value.TimestampSentinel(typeName, value.SentinelUnknown), nil
	}
	t, sentinel := TicksToTime(n)
	if sentinel != value.SentinelNone {
		return value.TimestampSentinel(typeName, sentinel), nil
	}
	return value.Timestamp(typeName, t.In(ctx.location())), nil
}

func decodeTimeoutTimer(ctx *Context, typeName string, lines []string) (value.Value, error) {
	v := value.TimestampSentinel(typeName, value.SentinelUnknown)
	v.Label = TimeoutTimerLabel

	raw, ok := pattern.ExtractField(lines, FieldTimerExpire)
	if !ok {
		return v, nil
	}
	n, ok := ParseHex(raw)
	if !ok {
		return v, nil
	}
	v.Sentinel = value.SentinelNone
	v.Time = FileTimeToTime(n).In(ctx.location())
	return v, nil
}

// decodeDictionary reads the backing entry array and expands every key and
// value through the context source, keys before values in slot order.
func decodeDictionary(ctx *Context, typeName string, lines []string) (value.Value, error) {
	if ctx == nil || ctx.Source == nil {
		return value.Unknown(typeName), nil
	}

	raw, ok := pattern.ExtractField(lines, FieldEntries)
	if !ok {
		ctx.warn("dictionary at %s has no %s field", ctx.Address, FieldEntries)
		return value.Dictionary(typeName, nil), nil
	}
	if n, ok := ParseHex(raw); !ok || n == 0 {
		return value.Dictionary(typeName, nil), nil
	}

	listing, err := ctx.Source.Execute("dumparray -details " + raw)
	if err != nil {
		return value.Value{}, err
	}
	m, err := assoc.ReadMap(listing)
	if err != nil {
		ctx.warn("dictionary %s entries %s: %v", ctx.Address, raw, err)
		return value.Unknown(typeName), nil
	}

	entries := make([]value.Entry, 0, m.Len())
	for _, p := range m.Pairs() {
		k, err := expandSlot(ctx, p.Key)
		if err != nil {
			return value.Value{}, err
		}
		v, err := expandSlot(ctx, p.Value)
		if err != nil {
			return value.Value{}, err
		}
		entries = append(entries, value.Entry{Key: k, Value: v})
	}
	return value.Dictionary(typeName, entries), nil
}

// expandSlot expands one key or value. A malformed nested listing becomes
// an unknown slot; any other error ends the expansion.
func expandSlot(ctx *Context, addr string) (value.Value, error) {
	v, err := ctx.Source.Expand(addr)
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, assoc.ErrMalformedListing) {
		return value.Value{}, err
	}
	ctx.warn("dictionary %s slot %s: %v", ctx.Address, addr, err)
	u := value.Unknown("")
	u.Address = addr
	return u, nil
}

func ctxAddress(ctx *Context) string {
	if ctx == nil {
		return ""
	}
	return ctx.Address
}
