package process

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Spec describes a child to launch.
type Spec struct {
	// Name labels the process. Defaults to Path.
	Name string

	// Path is the executable, looked up in PATH when it has no separator.
	Path string

	// Args follow the executable on the command line.
	Args []string

	// Env is appended to the current environment.
	Env []string

	// Dir is the working directory. Empty inherits ours.
	Dir string
}

// Command builds the exec.Cmd that s describes.
func (s Spec) Command() *exec.Cmd {
	cmd := exec.Command(s.Path, s.Args...)
	cmd.Dir = s.Dir
	if len(s.Env) > 0 {
		cmd.Env = append(os.Environ(), s.Env...)
	}
	return cmd
}

// Supervisor starts child processes, tracks them until they exit and
// stops whatever is left on Shutdown.
//
// Supervisor is safe for concurrent use.
type Supervisor struct {
	mu        sync.RWMutex
	processes map[string]*Process
	closed    atomic.Bool

	grace  time.Duration
	onExit func(p *Process)
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithGracePeriod sets how long Shutdown waits between stop escalations.
func WithGracePeriod(d time.Duration) SupervisorOption {
	return func(s *Supervisor) {
		s.grace = d
	}
}

// WithExitCallback sets a function called after each tracked process exits.
func WithExitCallback(fn func(p *Process)) SupervisorOption {
	return func(s *Supervisor) {
		s.onExit = fn
	}
}

// NewSupervisor creates a supervisor.
func NewSupervisor(opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		processes: make(map[string]*Process),
		grace:     2 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Launch starts the process described by spec under a fresh id.
func (s *Supervisor) Launch(spec Spec) (*Process, error) {
	name := spec.Name
	if name == "" {
		name = spec.Path
	}
	return s.Start(name, spec.Command())
}

// Start starts cmd under a fresh id. Standard streams that are not already
// set are piped.
func (s *Supervisor) Start(name string, cmd *exec.Cmd) (*Process, error) {
	return s.StartWithID(uuid.NewString(), name, cmd)
}

// StartWithID starts cmd under the given id.
func (s *Supervisor) StartWithID(id, name string, cmd *exec.Cmd) (*Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return nil, ErrSupervisorShutdown
	}
	if _, exists := s.processes[id]; exists {
		return nil, fmt.Errorf("process id %s already in use", id)
	}

	proc := NewProcess(id, name, cmd)
	if err := pipe(proc); err != nil {
		_ = proc.Close()
		return nil, err
	}
	if err := proc.start(); err != nil {
		_ = proc.Close()
		return nil, err
	}

	s.processes[id] = proc
	go s.monitor(proc)
	return proc, nil
}

func pipe(proc *Process) error {
	cmd := proc.Cmd
	var err error
	if cmd.Stdin == nil {
		if proc.Stdin, err = cmd.StdinPipe(); err != nil {
			return fmt.Errorf("stdin pipe: %w", err)
		}
	}
	if cmd.Stdout == nil {
		if proc.Stdout, err = cmd.StdoutPipe(); err != nil {
			return fmt.Errorf("stdout pipe: %w", err)
		}
	}
	if cmd.Stderr == nil {
		if proc.Stderr, err = cmd.StderrPipe(); err != nil {
			return fmt.Errorf("stderr pipe: %w", err)
		}
	}
	return nil
}

func (s *Supervisor) monitor(proc *Process) {
	<-proc.Done()

	if s.onExit != nil {
		func() {
			defer func() { _ = recover() }()
			s.onExit(proc)
		}()
	}

	s.mu.Lock()
	delete(s.processes, proc.ID)
	s.mu.Unlock()
}

// Get returns a tracked process, or nil.
func (s *Supervisor) Get(id string) *Process {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.processes[id]
}

// Count returns the number of tracked processes.
func (s *Supervisor) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.processes)
}

// Stop stops a tracked process, escalating as Process.Stop does.
func (s *Supervisor) Stop(id string) error {
	proc := s.Get(id)
	if proc == nil {
		return ErrProcessNotFound
	}
	proc.Stop(s.grace)
	return nil
}

// Shutdown refuses new processes and stops every tracked one. It returns
// once all of them have exited and been untracked.
func (s *Supervisor) Shutdown() {
	if s.closed.Swap(true) {
		return
	}

	s.mu.RLock()
	procs := make([]*Process, 0, len(s.processes))
	for _, p := range s.processes {
		procs = append(procs, p)
	}
	s.mu.RUnlock()

	var wg sync.WaitGroup
	for _, p := range procs {
		wg.Add(1)
		go func(p *Process) {
			defer wg.Done()
			p.Stop(s.grace)
		}(p)
	}
	wg.Wait()

	for s.Count() > 0 {
		time.Sleep(time.Millisecond)
	}
}

// IsShuttingDown reports whether Shutdown has been called.
func (s *Supervisor) IsShuttingDown() bool {
	return s.closed.Load()
}
