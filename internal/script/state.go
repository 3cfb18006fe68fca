package script

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// DefaultTimeout bounds one script run.
const DefaultTimeout = 5 * time.Minute

// State is a sandboxed Lua interpreter.
//
// gopher-lua states are not goroutine-safe; State serializes every use with
// its mutex.
type State struct {
	L *lua.LState

	mu      sync.Mutex
	timeout time.Duration
	out     io.Writer
	closed  bool
}

// StateOption configures a State.
type StateOption func(*State)

// WithTimeout bounds each run. Zero or negative disables the bound.
func WithTimeout(d time.Duration) StateOption {
	return func(s *State) {
		s.timeout = d
	}
}

// WithPrintOutput redirects Lua print. Defaults to os.Stdout.
func WithPrintOutput(w io.Writer) StateOption {
	return func(s *State) {
		if w != nil {
			s.out = w
		}
	}
}

// NewState creates a State with only the safe standard libraries open.
func NewState(opts ...StateOption) *State {
	s := &State{
		timeout: DefaultTimeout,
		out:     os.Stdout,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.L = lua.NewState(lua.Options{SkipOpenLibs: true})
	openSafeLibraries(s.L)
	installSandbox(s.L, s.out)
	return s
}

// openSafeLibraries opens base, package, table, string and math. io, os
// and debug stay closed.
func openSafeLibraries(L *lua.LState) {
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.LoadLibName, lua.OpenPackage},
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
}

// Preload makes a module available to require under name and also sets it
// as a global.
func (s *State) Preload(name string, loader lua.LGFunction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.L.PreloadModule(name, loader)
	s.L.Push(s.L.NewFunction(loader))
	s.L.Call(0, 1)
	s.L.SetGlobal(name, s.L.Get(-1))
	s.L.Pop(1)
}

// DoFile runs the script at path.
func (s *State) DoFile(ctx context.Context, path string) error {
	return s.run(ctx, func() error { return s.L.DoFile(path) })
}

// DoString runs code.
func (s *State) DoString(ctx context.Context, code string) error {
	return s.run(ctx, func() error { return s.L.DoString(code) })
}

func (s *State) run(ctx context.Context, fn func() error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStateClosed
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	s.L.SetContext(ctx)
	defer s.L.RemoveContext()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()

	if err := fn(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %v", ErrInterrupted, ctxErr)
		}
		return err
	}
	return nil
}

// Close releases the interpreter.
func (s *State) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.L.Close()
		s.closed = true
	}
}

// installSandbox removes the loaders that can reach the file system or
// compile arbitrary chunks, routes print to out and restricts require to
// preloaded modules and the safe standard libraries.
func installSandbox(L *lua.LState, out io.Writer) {
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		L.SetGlobal(name, lua.LNil)
	}

	L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
		n := L.GetTop()
		parts := make([]string, n)
		for i := 1; i <= n; i++ {
			parts[i-1] = L.ToStringMeta(L.Get(i)).String()
		}
		fmt.Fprintln(out, strings.Join(parts, "\t"))
		return 0
	}))

	if pkg, ok := L.GetGlobal("package").(*lua.LTable); ok {
		L.SetField(pkg, "path", lua.LString(""))
		L.SetField(pkg, "cpath", lua.LString(""))
	}

	safe := map[string]bool{"string": true, "table": true, "math": true}
	original := L.GetGlobal("require")
	L.SetGlobal("require", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		if !safe[name] && !isPreloaded(L, name) {
			L.RaiseError("module %q is not available", name)
			return 0
		}
		L.Push(original)
		L.Push(lua.LString(name))
		L.Call(1, 1)
		return 1
	}))
}

func isPreloaded(L *lua.LState, name string) bool {
	pkg, ok := L.GetGlobal("package").(*lua.LTable)
	if !ok {
		return false
	}
	preload, ok := L.GetField(pkg, "preload").(*lua.LTable)
	if !ok {
		return false
	}
	return preload.RawGetString(name) != lua.LNil
}
