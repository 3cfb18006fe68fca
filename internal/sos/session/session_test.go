package session

import (
	"bytes"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/Psigio/LldbSosExts/internal/integration/process"
)

const transcriptYAML = `
commands:
  - command: dso
    output:
      - "OS Thread Id: 0x1a2b (1)"
      - "00007ffe1000 00007f0000a0 System.Threading.Thread"
  - command: dumpobj 00007f0000a0
    output:
      - "Name:        System.Threading.Thread"
  - command: dumpobj 00007f0000a0
    output:
      - "Name:        System.Threading.Thread (second)"
`

func TestReplay(t *testing.T) {
	tr, err := ParseTranscript([]byte(transcriptYAML))
	if err != nil {
		t.Fatalf("ParseTranscript() error = %v", err)
	}
	r := NewReplay(tr)

	var buf bytes.Buffer
	if err := r.HandleCommand("  dso ", &buf); err != nil {
		t.Fatalf("HandleCommand(dso) error = %v", err)
	}
	want := "OS Thread Id: 0x1a2b (1)\n00007ffe1000 00007f0000a0 System.Threading.Thread\n"
	if buf.String() != want {
		t.Errorf("output = %q, want %q", buf.String(), want)
	}

	answers := []string{
		"Name:        System.Threading.Thread\n",
		"Name:        System.Threading.Thread (second)\n",
		"Name:        System.Threading.Thread (second)\n",
	}
	for i, want := range answers {
		buf.Reset()
		if err := r.HandleCommand("dumpobj 00007f0000a0", &buf); err != nil {
			t.Fatal(err)
		}
		if buf.String() != want {
			t.Errorf("answer %d = %q, want %q", i, buf.String(), want)
		}
	}

	if err := r.HandleCommand("clrstack", &buf); !errors.Is(err, ErrNoRecording) {
		t.Errorf("HandleCommand(clrstack) = %v, want ErrNoRecording", err)
	}
}

func TestRecorder_SaveAndReplay(t *testing.T) {
	src := NewReplay(&Transcript{Commands: []Exchange{
		{Command: "dso", Output: []string{"a", "b"}},
		{Command: "empty", Output: nil},
	}})
	rec := NewRecorder(src)

	var out bytes.Buffer
	if err := rec.HandleCommand("dso", &out); err != nil {
		t.Fatal(err)
	}
	if err := rec.HandleCommand("empty", &out); err != nil {
		t.Fatal(err)
	}
	if err := rec.HandleCommand("missing", &out); err == nil {
		t.Fatal("expected error for unrecorded command")
	}
	if out.String() != "a\nb\n" {
		t.Errorf("pass-through output = %q", out.String())
	}

	got := rec.Transcript().Commands
	want := []Exchange{
		{Command: "dso", Output: []string{"a", "b"}},
		{Command: "empty", Output: []string{}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Transcript() = %#v, want %#v", got, want)
	}

	path := filepath.Join(t.TempDir(), "session.yaml")
	if err := rec.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	loaded, err := LoadTranscript(path)
	if err != nil {
		t.Fatalf("LoadTranscript() error = %v", err)
	}
	if len(loaded.Commands) != 2 || loaded.Commands[0].Output[1] != "b" {
		t.Errorf("loaded transcript = %#v", loaded)
	}
}

func TestLLDBConfig_SetupCommands(t *testing.T) {
	tests := []struct {
		name string
		cfg  LLDBConfig
		want []string
	}{
		{"empty", LLDBConfig{}, nil},
		{
			"core",
			LLDBConfig{Plugin: "/opt/sos/libsosplugin.so", Target: "/usr/bin/dotnet", Core: "/tmp/core.1"},
			[]string{"plugin load /opt/sos/libsosplugin.so", `target create "/usr/bin/dotnet" --core "/tmp/core.1"`},
		},
		{
			"attach",
			LLDBConfig{PID: 4242, InitCommands: []string{"setsymbolserver -ms"}},
			[]string{"process attach --pid 4242", "setsymbolserver -ms"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.SetupCommands(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SetupCommands() = %q, want %q", got, tt.want)
			}
		})
	}
}

// shellSession drives sh as a stand-in debugger: it runs each line as a
// command and "echo <token>" serves as the marker.
func shellSession(t *testing.T, init ...string) *LLDB {
	t.Helper()
	sup := process.NewSupervisor(process.WithGracePeriod(200 * time.Millisecond))
	t.Cleanup(sup.Shutdown)

	l, err := NewLLDB(sup, LLDBConfig{
		Path:          "sh",
		MarkerCommand: "echo %s",
		InitCommands:  init,
		StopTimeout:   200 * time.Millisecond,
	}, nil)
	if err != nil {
		t.Fatalf("NewLLDB() error = %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestLLDB_HandleCommand(t *testing.T) {
	l := shellSession(t, "cd /")

	var buf bytes.Buffer
	if err := l.HandleCommand("echo first; echo second", &buf); err != nil {
		t.Fatalf("HandleCommand() error = %v", err)
	}
	if buf.String() != "first\nsecond\n" {
		t.Errorf("output = %q", buf.String())
	}

	buf.Reset()
	if err := l.HandleCommand("pwd", &buf); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(buf.String()) != "/" {
		t.Errorf("init command did not run, pwd = %q", buf.String())
	}

	buf.Reset()
	if err := l.HandleCommand("true", &buf); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 0 {
		t.Errorf("silent command produced %q", buf.String())
	}
}

func TestLLDB_ChildExit(t *testing.T) {
	l := shellSession(t)

	if err := l.HandleCommand("exit 0", &bytes.Buffer{}); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("HandleCommand(exit) = %v, want ErrSessionClosed", err)
	}
	if err := l.HandleCommand("echo again", &bytes.Buffer{}); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("HandleCommand after exit = %v, want ErrSessionClosed", err)
	}
}

func TestNewLLDB_BadMarker(t *testing.T) {
	sup := process.NewSupervisor()
	defer sup.Shutdown()
	if _, err := NewLLDB(sup, LLDBConfig{Path: "sh", MarkerCommand: "echo"}, nil); err == nil {
		t.Error("expected error for marker command without a verb")
	}
}

func TestIsPromptEcho(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"(lldb) dso", true},
		{"(lldb) ", true},
		{`(lldb) script print("tok")`, true},
		{"(lldb) dumpobj 1", false},
		{"dso", false},
	}
	for _, tt := range tests {
		if got := isPromptEcho(tt.line, "dso", `script print("tok")`); got != tt.want {
			t.Errorf("isPromptEcho(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}
