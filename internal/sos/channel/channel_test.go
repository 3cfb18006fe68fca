package channel

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type sessionFunc func(command string, out io.Writer) error

func (f sessionFunc) HandleCommand(command string, out io.Writer) error {
	return f(command, out)
}

func printing(text string) sessionFunc {
	return func(_ string, out io.Writer) error {
		_, err := io.WriteString(out, text)
		return err
	}
}

func TestChannel_Execute(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"lines", "Name: System.String\nString: hi\n", []string{"Name: System.String", "String: hi"}},
		{"crlf", "a\r\nb\r\n", []string{"a", "b"}},
		{"no trailing newline", "a\nb", []string{"a", "b"}},
		{"blank lines kept", "header\n\nfooter\n", []string{"header", "", "footer"}},
		{"no output", "", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(printing(tt.text), WithStagingDir(t.TempDir()))
			defer c.Close()

			got, err := c.Execute("dumpobj 1", false)
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Execute() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestChannel_ExecuteOverwritesStaging(t *testing.T) {
	outputs := []string{"first\nsecond\nthird\n", "only\n"}
	i := 0
	sess := sessionFunc(func(_ string, out io.Writer) error {
		_, err := io.WriteString(out, outputs[i])
		i++
		return err
	})
	c := New(sess, WithStagingDir(t.TempDir()))
	defer c.Close()

	if _, err := c.Execute("one", false); err != nil {
		t.Fatal(err)
	}
	got, err := c.Execute("two", false)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []string{"only"}) {
		t.Errorf("second Execute() = %q, want only its own output", got)
	}
}

func TestChannel_Echo(t *testing.T) {
	var echo bytes.Buffer
	c := New(printing("a\nb\n"), WithStagingDir(t.TempDir()), WithEcho(&echo))
	defer c.Close()

	quiet, err := c.Execute("dso", false)
	if err != nil {
		t.Fatal(err)
	}
	if echo.Len() != 0 {
		t.Errorf("echo written without echo flag: %q", echo.String())
	}

	loud, err := c.Execute("dso", true)
	if err != nil {
		t.Fatal(err)
	}
	if echo.String() != "a\nb\n" {
		t.Errorf("echo = %q", echo.String())
	}
	if !reflect.DeepEqual(quiet, loud) {
		t.Errorf("echo changed the result: %q vs %q", quiet, loud)
	}
}

func TestChannel_SessionFailure(t *testing.T) {
	down := errors.New("process exited")
	c := New(sessionFunc(func(string, io.Writer) error { return down }), WithStagingDir(t.TempDir()))
	defer c.Close()

	_, err := c.Execute("dso", false)
	if !errors.Is(err, ErrChannelUnavailable) {
		t.Errorf("Execute() error = %v, want ErrChannelUnavailable", err)
	}
	if !errors.Is(err, down) {
		t.Errorf("Execute() error = %v, want it to wrap the session error", err)
	}
}

func TestChannel_StagingUnavailable(t *testing.T) {
	c := New(printing("x\n"), WithStagingDir(filepath.Join(t.TempDir(), "missing")))
	if _, err := c.Execute("dso", false); !errors.Is(err, ErrChannelUnavailable) {
		t.Errorf("Execute() error = %v, want ErrChannelUnavailable", err)
	}
}

func TestChannel_EmptyCommand(t *testing.T) {
	called := false
	c := New(sessionFunc(func(string, io.Writer) error { called = true; return nil }), WithStagingDir(t.TempDir()))
	defer c.Close()

	if _, err := c.Execute("   ", false); !errors.Is(err, ErrEmptyCommand) {
		t.Errorf("Execute() error = %v, want ErrEmptyCommand", err)
	}
	if called {
		t.Error("session called for an empty command")
	}
}

func TestChannel_Serialized(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	sess := sessionFunc(func(command string, out io.Writer) error {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		_, err := io.WriteString(out, command+"\n")
		return err
	})
	c := New(sess, WithStagingDir(t.TempDir()))
	defer c.Close()

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cmd := "dumpobj " + strings.Repeat("a", i+1)
			lines, err := c.Execute(cmd, false)
			if err != nil {
				errs <- err
				return
			}
			if len(lines) != 1 || lines[0] != cmd {
				errs <- errors.New("got another command's output: " + strings.Join(lines, ","))
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	if maxInFlight.Load() != 1 {
		t.Errorf("max in flight = %d, want 1", maxInFlight.Load())
	}
}

func TestChannel_Close(t *testing.T) {
	c := New(printing("x\n"), WithStagingDir(t.TempDir()))
	if _, err := c.Execute("dso", false); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(c.StagingPath()); err != nil {
		t.Fatalf("staging file missing: %v", err)
	}
	if !strings.HasPrefix(filepath.Base(c.StagingPath()), "sosext-") {
		t.Errorf("staging file name = %q", c.StagingPath())
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := os.Stat(c.StagingPath()); !os.IsNotExist(err) {
		t.Errorf("staging file still present after Close: %v", err)
	}
	if _, err := c.Execute("dso", false); !errors.Is(err, ErrClosed) {
		t.Errorf("Execute() after Close = %v, want ErrClosed", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
}
