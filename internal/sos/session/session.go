// Package session provides handles to a debugger that accepts textual
// commands and writes their output.
//
// A Session is the only way the rest of the module reaches the debugger.
// LLDB drives a live lldb child process with the SOS plugin loaded, Replay
// answers from a recorded transcript, and Recorder captures a transcript
// from any other session.
package session

import (
	"errors"
	"io"
)

// Session runs debugger commands.
type Session interface {
	// HandleCommand runs command and writes everything it prints to out.
	HandleCommand(command string, out io.Writer) error
}

// Logger is the logging surface sessions use.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}

// Session errors.
var (
	// ErrSessionClosed is returned once the debugger has gone away.
	ErrSessionClosed = errors.New("session: closed")

	// ErrNoRecording is returned by Replay for a command it has no answer for.
	ErrNoRecording = errors.New("session: no recorded output for command")
)
