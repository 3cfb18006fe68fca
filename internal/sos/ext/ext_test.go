package ext

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/Psigio/LldbSosExts/internal/sos/channel"
	"github.com/Psigio/LldbSosExts/internal/sos/expand"
	"github.com/Psigio/LldbSosExts/internal/sos/session"
	"github.com/Psigio/LldbSosExts/internal/sos/value"
)

func fields(typeName string, rows ...string) []string {
	lines := []string{
		"Name:        " + typeName,
		"MethodTable: 00007ff9a1b2c3d0",
		"Fields:",
		"              MT    Field   Offset                 Type VT     Attr            Value Name",
	}
	for _, r := range rows {
		lines = append(lines, "00007ff9a1b0e000  4000001        8        System.Object  0 instance "+r)
	}
	return lines
}

func threadTranscript() *session.Transcript {
	return &session.Transcript{Commands: []session.Exchange{
		{Command: "dso", Output: []string{
			"OS Thread Id: 0x1a2b (1)",
			"RSP/REG          Object           Name",
			"00007ffe1000 00007f0000a0 System.Threading.Thread",
			"00007ffe1008 00007f0000b0 System.String",
			"00007ffe1010 00007f0000c0 System.Threading.Thread",
			"00007ffe1018 00007f0000d0 System.Object[]",
		}},
		{Command: "dumpobj 00007f0000c0", Output: fields(ThreadType, "00007f00e100 _executionContext")},
		{Command: "dumpobj 00007f0000a0", Output: fields(ThreadType, "0000000000000000 _executionContext")},
		{Command: "dumpobj 00007f0000d0", Output: fields("System.Object[]")},
		{Command: "dumpobj 00007f00e100", Output: fields("System.Threading.ExecutionContext", "00007f00e200 m_localValues")},
		{Command: "dumpobj 00007f00e200", Output: fields("System.Threading.AsyncLocalValueMap+MultiElementAsyncLocalValueMap", "00007f00e300 _keyValues")},
		{Command: "dumparray -details 00007f00e300", Output: []string{
			"Name:        System.Collections.Generic.KeyValuePair`2[[System.Threading.IAsyncLocal],[System.Object]][]",
			"[0] 00007f00e310",
			"    00007ff9a1b00000  4000001        0 System.Threading.IAsyncLocal  0 instance 00007f00a001 key",
			"    00007ff9a1b00000  4000002        8        System.Object  0 instance 00007f00b001 value",
			"[1] 00007f00e320",
			"    00007ff9a1b00000  4000001        0 System.Threading.IAsyncLocal  0 instance 00007f00a002 key",
			"    00007ff9a1b00000  4000002        8        System.Object  0 instance 00007f00b002 value",
		}},
		{Command: "dumpobj 00007f00b001", Output: []string{"Name:        System.String", "String:      corr-42"}},
		{Command: "dumpobj 00007f00b002", Output: fields("System.TimeSpan", "000002710 _ticks")},
	}}
}

type harness struct {
	ext  *Ext
	out  *bytes.Buffer
	echo *bytes.Buffer
}

func newHarness(t *testing.T, tr *session.Transcript) harness {
	t.Helper()
	var out, echo bytes.Buffer
	ch := channel.New(session.NewReplay(tr), channel.WithStagingDir(t.TempDir()), channel.WithEcho(&echo))
	t.Cleanup(func() { _ = ch.Close() })
	exp := expand.New(ch, nil)
	return harness{ext: New(ch, exp, nil, WithOutput(&out)), out: &out, echo: &echo}
}

func TestExt_ExecuteTrackedCommand(t *testing.T) {
	h := newHarness(t, threadTranscript())

	lines, err := h.ext.ExecuteTrackedCommand("dso")
	if err != nil {
		t.Fatalf("ExecuteTrackedCommand() error = %v", err)
	}
	if len(lines) != 6 {
		t.Errorf("got %d lines, want 6", len(lines))
	}
	if !strings.Contains(h.echo.String(), "00007f0000d0 System.Object[]") {
		t.Errorf("command output not echoed: %q", h.echo.String())
	}

	h.echo.Reset()
	if _, err := h.ext.Silent().ExecuteTrackedCommand("dso"); err != nil {
		t.Fatal(err)
	}
	if h.echo.Len() != 0 {
		t.Error("silent Ext echoed")
	}
}

func TestExt_GetFromStack(t *testing.T) {
	h := newHarness(t, threadTranscript())

	tests := []struct {
		label    string
		wantName string
	}{
		{"", "System.Object[]"},
		{"System.Threading.Thread", ThreadType},
		{"SYSTEM.THREADING.THREAD", ThreadType},
	}
	for _, tt := range tests {
		lines, err := h.ext.GetFromStack(tt.label, false)
		if err != nil {
			t.Fatalf("GetFromStack(%q) error = %v", tt.label, err)
		}
		if lines[0] != "Name:        "+tt.wantName {
			t.Errorf("GetFromStack(%q) dumped %q", tt.label, lines[0])
		}
	}
	if h.echo.Len() != 0 {
		t.Errorf("echo without echo flag: %q", h.echo.String())
	}

	// The nearest Thread is the last one listed.
	lines, _ := h.ext.GetFromStack("System.Threading.Thread", true)
	if !strings.Contains(strings.Join(lines, "\n"), "00007f00e100 _executionContext") {
		t.Errorf("did not pick the closest thread: %q", lines)
	}
	if h.echo.Len() == 0 {
		t.Error("echo flag ignored")
	}

	if _, err := h.ext.GetFromStack("System.DateTime", false); !errors.Is(err, ErrFrameNotFound) {
		t.Errorf("GetFromStack(missing) error = %v, want ErrFrameNotFound", err)
	}
}

func TestExt_FieldOfAndKeyValues(t *testing.T) {
	h := newHarness(t, threadTranscript())

	v, err := h.ext.FieldOf("00007f0000c0", FieldExecutionContext)
	if err != nil || v != "00007f00e100" {
		t.Errorf("FieldOf() = (%q, %v)", v, err)
	}
	if _, err := h.ext.FieldOf("00007f0000c0", "_name"); !errors.Is(err, ErrFieldNotFound) {
		t.Errorf("FieldOf(_name) error = %v", err)
	}
	if h.out.String() != "00007f00e100\n" {
		t.Errorf("printed %q", h.out.String())
	}
}

func TestExt_DecodeKnownObject(t *testing.T) {
	h := newHarness(t, threadTranscript())

	v, err := h.ext.DecodeKnownObject("00007f00b002")
	if err != nil {
		t.Fatalf("DecodeKnownObject() error = %v", err)
	}
	if v.Kind != value.KindDuration || v.Milliseconds() != 1 {
		t.Errorf("DecodeKnownObject() = %+v", v)
	}
	if h.out.String() != "duration 1 ms\n" {
		t.Errorf("printed %q", h.out.String())
	}

	if _, err := h.ext.DecodeKnownObject("00007f00dead"); !errors.Is(err, channel.ErrChannelUnavailable) {
		t.Errorf("DecodeKnownObject(unrecorded) error = %v, want ErrChannelUnavailable", err)
	}
}

func TestExt_Renderer(t *testing.T) {
	var out bytes.Buffer
	ch := channel.New(session.NewReplay(threadTranscript()), channel.WithStagingDir(t.TempDir()))
	defer ch.Close()
	e := New(ch, expand.New(ch, nil), nil, WithOutput(&out), WithRenderer(func(v value.Value) string {
		return "<" + v.Scalar() + ">"
	}))

	if _, err := e.DecodeKnownObject("00007f00b001"); err != nil {
		t.Fatal(err)
	}
	if out.String() != "<\"corr-42\">\n" {
		t.Errorf("printed %q", out.String())
	}
}

func TestExt_ExpandThreadLocalValues(t *testing.T) {
	h := newHarness(t, threadTranscript())

	values, err := h.ext.ExpandThreadLocalValues()
	if err != nil {
		t.Fatalf("ExpandThreadLocalValues() error = %v", err)
	}
	if len(values) != 2 {
		t.Fatalf("got %d values, want 2", len(values))
	}
	want := "string \"corr-42\"\nduration 1 ms\n"
	if h.out.String() != want {
		t.Errorf("printed %q, want %q", h.out.String(), want)
	}
}

const localDictType = "System.Collections.Generic.Dictionary`2[[System.String],[System.Object]]"

// replaceExchange swaps the recorded output of command and appends any
// extra exchanges.
func replaceExchange(tr *session.Transcript, command string, output []string, extra ...session.Exchange) {
	for i := range tr.Commands {
		if tr.Commands[i].Command == command {
			tr.Commands[i].Output = output
		}
	}
	tr.Commands = append(tr.Commands, extra...)
}

func TestExt_ExpandThreadLocalValues_BadValue(t *testing.T) {
	tests := []struct {
		name  string
		setup func(tr *session.Transcript)
	}{
		{
			name: "malformed dictionary listing",
			setup: func(tr *session.Transcript) {
				replaceExchange(tr, "dumpobj 00007f00b001", fields(localDictType, "00007f00f000 _entries"),
					session.Exchange{Command: "dumparray -details 00007f00f000", Output: []string{
						"[0] 00007f00f010",
						"    00007ff9a1b00000  4000002        8        System.Object  0 instance 00007f00c001 value",
					}})
			},
		},
		{
			name: "dictionary containing itself",
			setup: func(tr *session.Transcript) {
				replaceExchange(tr, "dumpobj 00007f00b001", fields(localDictType, "00007f00f000 _entries"),
					session.Exchange{Command: "dumparray -details 00007f00f000", Output: []string{
						"[0] 00007f00f010",
						"    00007ff9a1b00000  4000001        0 System.String  0 instance 00007f00b001 key",
						"    00007ff9a1b00000  4000002        8 System.Object  0 instance 00007f00c001 value",
					}})
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := threadTranscript()
			tt.setup(tr)
			h := newHarness(t, tr)

			values, err := h.ext.ExpandThreadLocalValues()
			if err != nil {
				t.Fatalf("ExpandThreadLocalValues() error = %v", err)
			}
			if len(values) != 2 {
				t.Fatalf("got %d values, want 2", len(values))
			}
			if values[0].Kind != value.KindUnknown || values[0].TypeName != localDictType {
				t.Errorf("values[0] = %+v, want unknown %s", values[0], localDictType)
			}
			if values[1].Kind != value.KindDuration {
				t.Errorf("values[1] = %+v, want the sibling duration", values[1])
			}
			want := localDictType + "\nduration 1 ms\n"
			if h.out.String() != want {
				t.Errorf("printed %q, want %q", h.out.String(), want)
			}
		})
	}
}

func TestExt_ExpandThreadLocalValues_ChannelFailure(t *testing.T) {
	tr := threadTranscript()
	var kept []session.Exchange
	for _, ex := range tr.Commands {
		if ex.Command != "dumpobj 00007f00b001" {
			kept = append(kept, ex)
		}
	}
	tr.Commands = kept

	h := newHarness(t, tr)
	values, err := h.ext.ExpandThreadLocalValues()
	if !errors.Is(err, channel.ErrChannelUnavailable) {
		t.Fatalf("ExpandThreadLocalValues() error = %v, want ErrChannelUnavailable", err)
	}
	if len(values) != 0 || h.out.Len() != 0 {
		t.Errorf("values = %v, printed %q; want nothing after the failure", values, h.out.String())
	}
}

func TestExt_ExpandThreadLocalValues_NullContext(t *testing.T) {
	tr := threadTranscript()
	// Drop the nearer thread so the one with no execution context is found.
	tr.Commands[0].Output = tr.Commands[0].Output[:4]

	h := newHarness(t, tr)
	if _, err := h.ext.ExpandThreadLocalValues(); !errors.Is(err, ErrNullField) {
		t.Errorf("ExpandThreadLocalValues() error = %v, want ErrNullField", err)
	}
}

func TestExt_HeapOperations(t *testing.T) {
	tr := &session.Transcript{Commands: []session.Exchange{
		{Command: "dumpheap -short -mt 00007ff9a1b2c3d0", Output: []string{"00007f00b002"}},
		{Command: "dumpobj 00007f00b002", Output: fields("System.TimeSpan", "000002710 _ticks")},
		{Command: "sos GCWhere 00007f00b002", Output: []string{
			"Address            Gen   Heap   segment            begin              allocated          size",
			"00007f00b002       1      0     00007f0000000000   00007f0000001000   00007f0000100000   0x18(24)",
		}},
	}}
	h := newHarness(t, tr)

	results, err := h.ext.ScanHeapAndApply("00007ff9a1b2c3d0", "dko")
	if err != nil || len(results) != 1 {
		t.Fatalf("ScanHeapAndApply() = (%v, %v)", results, err)
	}
	if h.out.String() != "        00007f00b002 duration 1 ms\n" {
		t.Errorf("printed %q", h.out.String())
	}

	h.out.Reset()
	addrs, err := h.ext.ScanHeapByGeneration("00007ff9a1b2c3d0", "1")
	if err != nil || len(addrs) != 1 {
		t.Fatalf("ScanHeapByGeneration() = (%v, %v)", addrs, err)
	}
	if h.out.String() != "00007f00b002\nDone 1\n" {
		t.Errorf("printed %q", h.out.String())
	}

	if _, err := h.ext.ScanHeapByGeneration("00007ff9a1b2c3d0", "gen9"); err == nil {
		t.Error("expected error for bad generation")
	}
}
