package pattern

import (
	"reflect"
	"testing"
)

var timeSpanDump = []string{
	"Name:        System.TimeSpan",
	"MethodTable: 00007ff9a1b2c3d0",
	"EEClass:     00007ff9a1a00000",
	"Size:        24(0x18) bytes",
	"Fields:",
	"              MT    Field   Offset                 Type VT     Attr            Value Name",
	"00007ff9a1b0e000  400021b        8         System.Int64  1 instance 000002710 _ticks",
}

func TestExtractField(t *testing.T) {
	tests := []struct {
		name   string
		lines  []string
		field  string
		want   string
		wantOK bool
	}{
		{"ticks", timeSpanDump, "_ticks", "000002710", true},
		{"case insensitive", timeSpanDump, "_TICKS", "000002710", true},
		{"missing", timeSpanDump, "_dateData", "", false},
		{"empty field", timeSpanDump, "", "", false},
		{"no lines", nil, "_ticks", "", false},
		{"crlf", []string{"... 000001 m_value\r\n"}, "m_value", "000001", true},
		{"suffix only", []string{"... 000001 xm_value"}, "m_value", "", false},
		{"first wins", []string{"a 01 f", "b 02 f"}, "f", "01", true},
		{"metacharacters quoted", []string{"x 0a m_value"}, "m.value", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractField(tt.lines, tt.field)
			if ok != tt.wantOK {
				t.Fatalf("ExtractField() ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("ExtractField() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractField_Idempotent(t *testing.T) {
	first, _ := ExtractField(timeSpanDump, "_ticks")
	second, _ := ExtractField(timeSpanDump, "_ticks")
	if first != second {
		t.Errorf("repeated extraction differs: %q vs %q", first, second)
	}
}

var dsoListing = []string{
	"OS Thread Id: 0x1a2b (1)",
	"RSP/REG          Object           Name",
	"00007ffe1000 00007f0000a0 System.Threading.Thread",
	"00007ffe1008 00007f0000b0 System.String",
	"00007ffe1010 00007f0000c0 System.Threading.Thread",
	"00007ffe1018 00007f0000d0 System.Object[]",
}

func TestLastStackFrame(t *testing.T) {
	tests := []struct {
		name   string
		lines  []string
		label  string
		want   string
		wantOK bool
	}{
		{"last line", dsoListing, "", "00007f0000d0", true},
		{"closest thread", dsoListing, "System.Threading.Thread", "00007f0000c0", true},
		{"case folded", dsoListing, "system.string", "00007f0000b0", true},
		{"not on stack", dsoListing, "System.DateTime", "", false},
		{"empty listing", nil, "", "", false},
		{"last line not a row", []string{"RSP/REG Object Name"}, "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := LastStackFrame(tt.lines, tt.label)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("LastStackFrame() = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestTypeName(t *testing.T) {
	name, ok := TypeName(timeSpanDump)
	if !ok || name != "System.TimeSpan" {
		t.Errorf("TypeName() = (%q, %v)", name, ok)
	}

	if _, ok := TypeName([]string{"Free Object"}); ok {
		t.Error("expected no type name for a header-less dump")
	}
	if _, ok := TypeName(nil); ok {
		t.Error("expected no type name for empty output")
	}
}

func TestStringBody(t *testing.T) {
	lines := []string{
		"Name:        System.String",
		"String:      hello world",
	}
	body, ok := StringBody(lines)
	if !ok || body != "hello world" {
		t.Errorf("StringBody() = (%q, %v)", body, ok)
	}
	if _, ok := StringBody(timeSpanDump); ok {
		t.Error("expected no string body")
	}
}

func TestMethodTable(t *testing.T) {
	mt, ok := MethodTable(timeSpanDump)
	if !ok || mt != "00007ff9a1b2c3d0" {
		t.Errorf("MethodTable() = (%q, %v)", mt, ok)
	}

	name2ee := []string{
		"Module:      00007ff9a1000000",
		"Assembly:    System.Private.CoreLib.dll",
		"Token:       0000000002000123",
		"MethodTable: 00007ff9a1b2c3d0",
	}
	mt, ok = MethodTable(name2ee)
	if !ok || mt != "00007ff9a1b2c3d0" {
		t.Errorf("MethodTable(name2ee) = (%q, %v)", mt, ok)
	}
}

func TestColumns(t *testing.T) {
	got := Columns("00007f0000a0   2      0   00007f0000000000\n")
	want := []string{"00007f0000a0", "2", "0", "00007f0000000000"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Columns() = %v, want %v", got, want)
	}
	if Columns("   ") != nil {
		t.Error("expected nil columns for blank line")
	}
}

func TestIsHexAddress(t *testing.T) {
	tests := map[string]bool{
		"00007ff9a1b2c3d0": true,
		"0x7FF9":           true,
		"":                 false,
		"0x":               false,
		"System.String":    false,
	}
	for in, want := range tests {
		if got := IsHexAddress(in); got != want {
			t.Errorf("IsHexAddress(%q) = %v, want %v", in, got, want)
		}
	}
}
