// Package channel runs debugger commands and returns their output as lines.
//
// The session's output for each command is redirected into a staging file
// owned by the Channel, which is read back and split once the command
// finishes. Only one command is in flight per Channel.
package channel

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/Psigio/LldbSosExts/internal/sos/session"
)

// Channel errors.
var (
	// ErrChannelUnavailable wraps any failure of the session or the staging
	// file. Commands are never retried.
	ErrChannelUnavailable = errors.New("channel: debugger unavailable")

	ErrEmptyCommand = errors.New("channel: empty command")
	ErrClosed       = errors.New("channel: closed")
)

// Logger is the logging surface the channel uses.
type Logger interface {
	Debug(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}

// Channel is a command/response channel over a Session.
type Channel struct {
	mu      sync.Mutex
	sess    session.Session
	dir     string
	staging string
	echo    io.Writer
	logger  Logger
	closed  bool
}

// Option configures a Channel.
type Option func(*Channel)

// WithStagingDir places the staging file in dir instead of the system
// temporary directory.
func WithStagingDir(dir string) Option {
	return func(c *Channel) {
		if dir != "" {
			c.dir = dir
		}
	}
}

// WithEcho sets where echoed lines are written. Defaults to os.Stdout.
func WithEcho(w io.Writer) Option {
	return func(c *Channel) {
		if w != nil {
			c.echo = w
		}
	}
}

// WithLogger sets the channel logger.
func WithLogger(l Logger) Option {
	return func(c *Channel) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Channel over sess.
func New(sess session.Session, opts ...Option) *Channel {
	c := &Channel{
		sess:   sess,
		dir:    os.TempDir(),
		echo:   os.Stdout,
		logger: nopLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.staging = filepath.Join(c.dir, "sosext-"+uuid.NewString()+".txt")
	return c
}

// StagingPath returns the path of the channel's staging file.
func (c *Channel) StagingPath() string {
	return c.staging
}

// Execute runs command and returns every line it printed, in order, with
// line terminators removed. With echo set each line is also written to the
// echo writer.
func (c *Channel) Execute(command string, echo bool) ([]string, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, ErrEmptyCommand
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}

	c.logger.Debug("exec: %s", command)
	if err := c.capture(command); err != nil {
		return nil, err
	}

	lines, err := readLines(c.staging)
	if err != nil {
		return nil, fmt.Errorf("%w: read staging file: %v", ErrChannelUnavailable, err)
	}

	if echo {
		for _, line := range lines {
			if _, err := fmt.Fprintln(c.echo, line); err != nil {
				break
			}
		}
	}
	return lines, nil
}

// capture runs command with the session writing into the truncated staging
// file. The file is closed on every path before returning.
func (c *Channel) capture(command string) (err error) {
	f, err := os.OpenFile(c.staging, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("%w: open staging file: %v", ErrChannelUnavailable, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%w: close staging file: %v", ErrChannelUnavailable, cerr)
		}
	}()

	if err := c.sess.HandleCommand(command, f); err != nil {
		return fmt.Errorf("%w: %q: %w", ErrChannelUnavailable, command, err)
	}
	return nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	lines := []string{}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
	for sc.Scan() {
		lines = append(lines, strings.TrimRight(sc.Text(), "\r"))
	}
	return lines, sc.Err()
}

// Close removes the staging file. Further commands fail with ErrClosed.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if err := os.Remove(c.staging); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
