package session

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Psigio/LldbSosExts/internal/integration/process"
)

// DefaultMarkerCommand prints its argument verbatim on a line of its own.
const DefaultMarkerCommand = `script print("%s")`

const maxLineBytes = 4 << 20

// LLDBConfig describes how to start and prime the debugger.
type LLDBConfig struct {
	// Path is the debugger binary. Defaults to "lldb".
	Path string

	// Args are passed to the debugger before any setup command runs.
	Args []string

	// Plugin is the SOS plugin library loaded with "plugin load".
	Plugin string

	// Target and Core load a dump with "target create". PID attaches to a
	// live process instead. At most one of Core and PID should be set.
	Target string
	Core   string
	PID    int

	// InitCommands run after the plugin and target are set up.
	InitCommands []string

	// MarkerCommand is a format with one %s verb. The debugger must print
	// the argument alone on a line.
	MarkerCommand string

	// StopTimeout bounds each escalation step when closing.
	StopTimeout time.Duration
}

// SetupCommands returns the commands run when the session starts.
func (c LLDBConfig) SetupCommands() []string {
	var cmds []string
	if c.Plugin != "" {
		cmds = append(cmds, "plugin load "+c.Plugin)
	}
	switch {
	case c.Core != "":
		create := "target create"
		if c.Target != "" {
			create += " " + strconv.Quote(c.Target)
		}
		cmds = append(cmds, create+" --core "+strconv.Quote(c.Core))
	case c.PID > 0:
		cmds = append(cmds, "process attach --pid "+strconv.Itoa(c.PID))
	}
	return append(cmds, c.InitCommands...)
}

// LLDB is a Session backed by a debugger child process.
//
// Every command is followed by a marker command printing a fresh token; the
// output of the command is everything read before the token.
type LLDB struct {
	mu     sync.Mutex
	proc   *process.Process
	lines  chan string
	marker string
	stop   time.Duration
	logger Logger
}

// NewLLDB launches the debugger under sup and runs the setup commands.
func NewLLDB(sup *process.Supervisor, cfg LLDBConfig, logger Logger) (*LLDB, error) {
	if logger == nil {
		logger = nopLogger{}
	}
	if cfg.Path == "" {
		cfg.Path = "lldb"
	}
	if cfg.MarkerCommand == "" {
		cfg.MarkerCommand = DefaultMarkerCommand
	}
	if !strings.Contains(cfg.MarkerCommand, "%s") {
		return nil, fmt.Errorf("marker command %q has no %%s verb", cfg.MarkerCommand)
	}

	proc, err := sup.Launch(process.Spec{Name: "debugger", Path: cfg.Path, Args: cfg.Args})
	if err != nil {
		return nil, fmt.Errorf("launch debugger: %w", err)
	}

	l := &LLDB{
		proc:   proc,
		lines:  make(chan string, 256),
		marker: cfg.MarkerCommand,
		stop:   cfg.StopTimeout,
		logger: logger,
	}
	if l.stop <= 0 {
		l.stop = 2 * time.Second
	}
	go l.pumpStdout(proc.Stdout)
	if proc.Stderr != nil {
		go l.pumpStderr(proc.Stderr)
	}

	for _, cmd := range cfg.SetupCommands() {
		logger.Debug("setup: %s", cmd)
		if err := l.HandleCommand(cmd, io.Discard); err != nil {
			_ = l.Close()
			return nil, fmt.Errorf("setup %q: %w", cmd, err)
		}
	}
	return l, nil
}

func (l *LLDB) pumpStdout(r io.Reader) {
	defer close(l.lines)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		l.lines <- sc.Text()
	}
	if err := sc.Err(); err != nil {
		l.logger.Warn("debugger stdout: %v", err)
	}
}

func (l *LLDB) pumpStderr(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		l.logger.Warn("debugger: %s", sc.Text())
	}
}

// HandleCommand sends command and copies its output to out.
func (l *LLDB) HandleCommand(command string, out io.Writer) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.proc.HasExited() {
		return ErrSessionClosed
	}

	token := uuid.NewString()
	markerCmd := fmt.Sprintf(l.marker, token)
	if _, err := io.WriteString(l.proc.Stdin, command+"\n"+markerCmd+"\n"); err != nil {
		return fmt.Errorf("%w: %v", ErrSessionClosed, err)
	}

	for {
		line, ok := <-l.lines
		if !ok {
			return ErrSessionClosed
		}
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == token {
			return nil
		}
		if isPromptEcho(line, command, markerCmd) {
			continue
		}
		if _, err := io.WriteString(out, line+"\n"); err != nil {
			// Keep reading so the next command starts after this marker.
			l.drainUntil(token)
			return err
		}
	}
}

func (l *LLDB) drainUntil(token string) {
	for line := range l.lines {
		if strings.TrimSpace(line) == token {
			return
		}
	}
}

// isPromptEcho reports whether line is the debugger echoing one of the
// commands just sent behind its prompt.
func isPromptEcho(line, command, markerCmd string) bool {
	rest, ok := strings.CutPrefix(line, "(lldb) ")
	if !ok {
		return false
	}
	rest = strings.TrimSpace(rest)
	return rest == "" || rest == command || rest == markerCmd
}

// Close asks the debugger to quit and stops the child process.
func (l *LLDB) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.proc.IsRunning() {
		_, _ = io.WriteString(l.proc.Stdin, "quit\n")
	}
	l.proc.Stop(l.stop)
	return nil
}
