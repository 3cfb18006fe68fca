// Package value defines the decoded form of managed objects read out of a
// paused process: a tagged value that is either a scalar (bool, string,
// duration, timestamp), a dictionary of further values, or an unknown type
// carrying its raw type name.
package value

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// Kind tags a decoded value.
type Kind int

const (
	// KindUnknown is a type with no registered decoder. TypeName holds the raw name.
	KindUnknown Kind = iota
	// KindBool is a System.Boolean.
	KindBool
	// KindString is a System.String.
	KindString
	// KindDuration is a tick count rendered in milliseconds.
	KindDuration
	// KindTimestamp is an absolute point in time, or one of the sentinels.
	KindTimestamp
	// KindDictionary is an ordered key/value container.
	KindDictionary
)

// String returns the tag name of the kind.
func (k Kind) String() string {
	switch k {
	case KindUnknown:
		return "unknown-typename"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindDuration:
		return "duration"
	case KindTimestamp:
		return "timestamp"
	case KindDictionary:
		return "dictionary"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Sentinel marks a timestamp that could not be rendered as a date.
type Sentinel int

const (
	// SentinelNone means Time holds the decoded instant.
	SentinelNone Sentinel = iota
	// SentinelMin is a timestamp at or before the Unix epoch offset.
	SentinelMin
	// SentinelMax is a timestamp beyond what the calendar renderer supports.
	SentinelMax
	// SentinelUnknown is a timestamp whose backing field was absent.
	SentinelUnknown
)

// String returns the sentinel as printed in summaries.
func (s Sentinel) String() string {
	switch s {
	case SentinelMin:
		return "min"
	case SentinelMax:
		return "max"
	case SentinelUnknown:
		return "unknown"
	default:
		return ""
	}
}

// DateLayout is the calendar rendering used for timestamps.
const DateLayout = "2006-01-02 15:04:05.000000"

// Value is one decoded managed object.
type Value struct {
	Kind Kind

	// TypeName is the managed type the value was decoded from. Empty when
	// the object dump carried no type header.
	TypeName string

	// Address is the object address the value was read from, if known.
	Address string

	Bool bool
	Str  string

	// Ticks is the 100ns tick count of a duration.
	Ticks int64

	Time     time.Time
	Sentinel Sentinel

	// Label replaces the kind tag in summaries, e.g. "TimeoutTimer expires:".
	Label string

	// Entries holds dictionary slots in container order.
	Entries []Entry
}

// Entry is one key/value slot of a dictionary value.
type Entry struct {
	Key   Value
	Value Value
}

// Bool returns a decoded boolean.
func Bool(b bool) Value {
	return Value{Kind: KindBool, TypeName: "System.Boolean", Bool: b}
}

// String returns a decoded string.
func String(s string) Value {
	return Value{Kind: KindString, TypeName: "System.String", Str: s}
}

// Duration returns a decoded time span of the given tick count.
func Duration(ticks int64) Value {
	return Value{Kind: KindDuration, TypeName: "System.TimeSpan", Ticks: ticks}
}

// Timestamp returns a decoded instant.
func Timestamp(typeName string, t time.Time) Value {
	return Value{Kind: KindTimestamp, TypeName: typeName, Time: t}
}

// TimestampSentinel returns a timestamp that renders as a sentinel.
func TimestampSentinel(typeName string, s Sentinel) Value {
	return Value{Kind: KindTimestamp, TypeName: typeName, Sentinel: s}
}

// Dictionary returns a decoded dictionary.
func Dictionary(typeName string, entries []Entry) Value {
	return Value{Kind: KindDictionary, TypeName: typeName, Entries: entries}
}

// Unknown returns a value for a type with no decoder.
func Unknown(typeName string) Value {
	return Value{Kind: KindUnknown, TypeName: typeName}
}

// Scalar renders the value without its tag.
func (v Value) Scalar() string {
	switch v.Kind {
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindString:
		return `"` + v.Str + `"`
	case KindDuration:
		return strconv.FormatInt(v.Milliseconds(), 10) + " ms"
	case KindTimestamp:
		if v.Sentinel != SentinelNone {
			return v.Sentinel.String()
		}
		return v.Time.Format(DateLayout)
	case KindDictionary:
		return fmt.Sprintf("%d entries", len(v.Entries))
	default:
		if v.TypeName == "" {
			return "Unknown"
		}
		return v.TypeName
	}
}

// String renders the one-line operator summary of the value. Dictionaries
// render their tag followed by the JSON form on the next line.
func (v Value) String() string {
	switch v.Kind {
	case KindUnknown:
		return v.Scalar()
	case KindDictionary:
		return "dictionary\n" + v.JSON()
	}
	tag := v.Label
	if tag == "" {
		tag = v.Kind.String()
	}
	return tag + " " + v.Scalar()
}

// TicksPerMillisecond is the number of 100ns ticks in a millisecond.
const TicksPerMillisecond = 10_000

// Milliseconds returns a duration's tick count in whole milliseconds,
// truncated toward zero.
func (v Value) Milliseconds() int64 {
	return v.Ticks / TicksPerMillisecond
}

// AsDuration converts a duration's ticks to a time.Duration, saturating at
// the limits of time.Duration.
func (v Value) AsDuration() time.Duration {
	const maxTicks = math.MaxInt64 / 100
	switch {
	case v.Ticks > maxTicks:
		return time.Duration(math.MaxInt64)
	case v.Ticks < -maxTicks:
		return time.Duration(math.MinInt64)
	}
	return time.Duration(v.Ticks * 100)
}

// LeafCount returns the number of terminal (non-dictionary) keys and values
// reachable from v. A scalar counts as one leaf.
func (v Value) LeafCount() int {
	if v.Kind != KindDictionary {
		return 1
	}
	n := 0
	for _, e := range v.Entries {
		n += e.Key.LeafCount() + e.Value.LeafCount()
	}
	return n
}

// Depth returns the dictionary nesting depth of v. Scalars have depth 0.
func (v Value) Depth() int {
	if v.Kind != KindDictionary {
		return 0
	}
	deepest := 0
	for _, e := range v.Entries {
		if d := e.Key.Depth(); d > deepest {
			deepest = d
		}
		if d := e.Value.Depth(); d > deepest {
			deepest = d
		}
	}
	return deepest + 1
}
