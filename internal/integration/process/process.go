package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// State is the lifecycle state of a child process.
type State int

const (
	// StateCreated means the process has not been started.
	StateCreated State = iota
	// StateRunning means the process is alive.
	StateRunning
	// StateExited means the process exited on its own.
	StateExited
	// StateKilled means the process was ended by a signal.
	StateKilled
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateKilled:
		return "killed"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// Process is a supervised child with piped standard streams, in practice
// the lldb instance behind a session.
//
// It is safe for concurrent use.
type Process struct {
	// ID is the supervisor-assigned identifier, a random UUID unless the
	// caller chose one.
	ID string

	// Name labels the process in logs and errors, e.g. "debugger".
	Name string

	// Cmd is the underlying command. Do not call Start or Wait on it
	// directly; the supervisor owns both.
	Cmd *exec.Cmd

	// Stdin carries debugger commands. Nil if the caller set Cmd.Stdin
	// before start.
	Stdin io.WriteCloser

	// Stdout carries command output up to each marker line. Nil if the
	// caller set Cmd.Stdout before start.
	Stdout io.ReadCloser

	// Stderr carries diagnostics, drained separately from Stdout. Nil if
	// the caller set Cmd.Stderr before start.
	Stderr io.ReadCloser

	// Started is when the process was launched.
	Started time.Time

	// done is closed once Cmd.Wait has returned.
	done chan struct{}

	// state holds a State; exitCode is -1 until exit.
	state    atomic.Int32
	exitCode atomic.Int32

	// mu guards exitErr.
	mu      sync.RWMutex
	exitErr error

	waitOnce sync.Once
}

// NewProcess wraps an unstarted command.
func NewProcess(id, name string, cmd *exec.Cmd) *Process {
	p := &Process{
		ID:   id,
		Name: name,
		Cmd:  cmd,
		done: make(chan struct{}),
	}
	p.state.Store(int32(StateCreated))
	p.exitCode.Store(-1)
	return p
}

// State returns the current lifecycle state.
func (p *Process) State() State {
	return State(p.state.Load())
}

// ExitCode returns the exit code, or -1 while the process runs.
func (p *Process) ExitCode() int {
	return int(p.exitCode.Load())
}

// ExitError returns the error reported by Wait, if any.
func (p *Process) ExitError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.exitErr
}

// Done is closed once the process has exited.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// IsRunning reports whether the process is alive.
func (p *Process) IsRunning() bool {
	return p.State() == StateRunning
}

// HasExited reports whether the process has ended for any reason.
func (p *Process) HasExited() bool {
	s := p.State()
	return s == StateExited || s == StateKilled
}

// PID returns the OS process id, or -1 before start.
func (p *Process) PID() int {
	if p.Cmd.Process == nil {
		return -1
	}
	return p.Cmd.Process.Pid
}

// Signal delivers sig to a running process.
func (p *Process) Signal(sig os.Signal) error {
	if !p.IsRunning() || p.Cmd.Process == nil {
		return ErrProcessNotStarted
	}
	return p.Cmd.Process.Signal(sig)
}

// Kill sends SIGKILL.
func (p *Process) Kill() error {
	return p.Signal(syscall.SIGKILL)
}

// Terminate sends SIGTERM.
func (p *Process) Terminate() error {
	return p.Signal(syscall.SIGTERM)
}

// Wait blocks until the process exits or ctx is done.
func (p *Process) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.ExitError()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop closes stdin, giving the child a chance to exit on end of input,
// then escalates to SIGTERM and finally SIGKILL, waiting up to grace at
// each step.
func (p *Process) Stop(grace time.Duration) {
	if !p.IsRunning() {
		return
	}
	if p.Stdin != nil {
		_ = p.Stdin.Close()
	}
	for _, step := range []func() error{nil, p.Terminate, p.Kill} {
		if step != nil {
			_ = step()
		}
		select {
		case <-p.done:
			return
		case <-time.After(grace):
		}
	}
	<-p.done
}

func (p *Process) start() error {
	if p.State() != StateCreated {
		return ErrProcessAlreadyStarted
	}
	if err := p.Cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", p.Name, err)
	}
	p.Started = time.Now()
	p.state.Store(int32(StateRunning))
	go p.waitLoop()
	return nil
}

func (p *Process) waitLoop() {
	p.waitOnce.Do(func() {
		err := p.Cmd.Wait()

		p.mu.Lock()
		p.exitErr = err
		p.mu.Unlock()

		code, state := 0, StateExited
		var exitErr *exec.ExitError
		switch {
		case errors.As(err, &exitErr):
			code = exitErr.ExitCode()
			if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
				state = StateKilled
			}
		case err != nil:
			code = -1
		}

		p.exitCode.Store(int32(code))
		p.state.Store(int32(state))
		close(p.done)
	})
}

// Close closes the piped streams without signalling the process.
func (p *Process) Close() error {
	var errs []error
	for _, c := range []io.Closer{p.Stdin, p.Stdout, p.Stderr} {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Sentinel errors.
var (
	ErrProcessNotStarted     = errors.New("process: not started")
	ErrProcessAlreadyStarted = errors.New("process: already started")
	ErrProcessNotFound       = errors.New("process: not found")
	ErrSupervisorShutdown    = errors.New("process: supervisor is shutting down")
)
