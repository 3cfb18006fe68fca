package value

import (
	"strings"
	"testing"
	"time"

	"github.com/tidwall/gjson"
)

func TestValue_String(t *testing.T) {
	ts := time.Date(2021, 3, 4, 5, 6, 7, 890000000, time.UTC)

	tests := []struct {
		name  string
		value Value
		want  string
	}{
		{"bool true", Bool(true), "bool true"},
		{"bool false", Bool(false), "bool false"},
		{"string", String("hello"), `string "hello"`},
		{"duration", Duration(10000), "duration 1 ms"},
		{"duration truncates", Duration(19999), "duration 1 ms"},
		{"zero duration", Duration(0), "duration 0 ms"},
		{"timestamp", Timestamp("System.DateTime", ts), "timestamp 2021-03-04 05:06:07.890000"},
		{"min", TimestampSentinel("System.DateTime", SentinelMin), "timestamp min"},
		{"max", TimestampSentinel("System.DateTime", SentinelMax), "timestamp max"},
		{"unknown timestamp", TimestampSentinel("System.DateTime", SentinelUnknown), "timestamp unknown"},
		{"labeled", Value{Kind: KindTimestamp, Label: "TimeoutTimer expires:", Time: ts}, "TimeoutTimer expires: 2021-03-04 05:06:07.890000"},
		{"unknown type", Unknown("System.Object"), "System.Object"},
		{"no header", Unknown(""), "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.value.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestKind_String(t *testing.T) {
	if KindUnknown.String() != "unknown-typename" {
		t.Errorf("KindUnknown.String() = %q", KindUnknown.String())
	}
	if KindDictionary.String() != "dictionary" {
		t.Errorf("KindDictionary.String() = %q", KindDictionary.String())
	}
}

func TestValue_AsDuration(t *testing.T) {
	if got := Duration(10000).AsDuration(); got != time.Millisecond {
		t.Errorf("AsDuration() = %v, want 1ms", got)
	}
	if got := Duration(1 << 62).AsDuration(); got <= 0 {
		t.Errorf("AsDuration() overflowed to %v", got)
	}
}

func nested() Value {
	inner := Dictionary("System.Collections.Generic.Dictionary`2[[System.String],[System.Boolean]]", []Entry{
		{Key: String("x"), Value: Bool(true)},
		{Key: String("y"), Value: Bool(false)},
	})
	return Dictionary("System.Collections.Generic.Dictionary`2[[System.String],[System.Object]]", []Entry{
		{Key: String("alpha"), Value: Duration(20000)},
		{Key: String("inner"), Value: inner},
		{Key: String("a.b"), Value: Unknown("System.Object")},
	})
}

func TestValue_JSON(t *testing.T) {
	doc := nested().CompactJSON()
	if !gjson.Valid(doc) {
		t.Fatalf("invalid JSON: %s", doc)
	}

	if got := gjson.Get(doc, `string "alpha"`).String(); got != "duration 2 ms" {
		t.Errorf(`alpha = %q, want "duration 2 ms"`, got)
	}
	if got := gjson.Get(doc, `string "inner".string "x"`).String(); got != "bool true" {
		t.Errorf(`inner.x = %q, want "bool true"`, got)
	}
	if got := gjson.Get(doc, `string "a\.b"`).String(); got != "System.Object" {
		t.Errorf(`a.b = %q, want "System.Object"`, got)
	}
}

func TestValue_JSON_DuplicateSummaries(t *testing.T) {
	v := Dictionary("D", []Entry{
		{Key: Unknown("Foo"), Value: Bool(true)},
		{Key: Unknown("Foo"), Value: Bool(false)},
	})
	doc := v.CompactJSON()
	if got := gjson.Get(doc, "Foo").String(); got != "bool true" {
		t.Errorf("Foo = %q", got)
	}
	if got := gjson.Get(doc, `Foo \(2\)`).String(); got != "bool false" {
		t.Errorf("Foo (2) = %q", got)
	}
}

func TestValue_DictionaryString(t *testing.T) {
	s := nested().String()
	if !strings.HasPrefix(s, "dictionary\n{") {
		t.Errorf("String() = %q, want dictionary header then JSON", s)
	}
}

func TestValue_LeafCountAndDepth(t *testing.T) {
	v := nested()
	// alpha key+value, inner key, x/y keys+values, a.b key+value
	if got := v.LeafCount(); got != 9 {
		t.Errorf("LeafCount() = %d, want 9", got)
	}
	if got := v.Depth(); got != 2 {
		t.Errorf("Depth() = %d, want 2", got)
	}
	if got := Bool(true).LeafCount(); got != 1 {
		t.Errorf("scalar LeafCount() = %d, want 1", got)
	}
}
