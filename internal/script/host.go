// Package script runs Lua scripts against a debugging session. Scripts
// reach the extension operations through the "sos" module; the interpreter
// is sandboxed and every run gets a fresh state.
package script

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/Psigio/LldbSosExts/internal/sos/ext"
)

// Logger is the logging surface of the host.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}

// Host runs scripts over one Ext.
type Host struct {
	module  *Module
	out     io.Writer
	timeout time.Duration
	logger  Logger
}

// HostOption configures a Host.
type HostOption func(*Host)

// WithOutput sets where script print output goes. Defaults to os.Stdout.
func WithOutput(w io.Writer) HostOption {
	return func(h *Host) {
		if w != nil {
			h.out = w
		}
	}
}

// WithRunTimeout bounds each run.
func WithRunTimeout(d time.Duration) HostOption {
	return func(h *Host) {
		h.timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(l Logger) HostOption {
	return func(h *Host) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewHost creates a Host.
func NewHost(e *ext.Ext, opts ...HostOption) *Host {
	h := &Host{
		module:  NewModule(e),
		out:     os.Stdout,
		timeout: DefaultTimeout,
		logger:  nopLogger{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RunFile runs the script at path.
func (h *Host) RunFile(ctx context.Context, path string) error {
	h.logger.Debug("running script %s", path)
	s := h.newState()
	defer s.Close()
	return s.DoFile(ctx, path)
}

// RunString runs code.
func (h *Host) RunString(ctx context.Context, code string) error {
	s := h.newState()
	defer s.Close()
	return s.DoString(ctx, code)
}

func (h *Host) newState() *State {
	s := NewState(WithTimeout(h.timeout), WithPrintOutput(h.out))
	s.Preload(ModuleName, h.module.Loader)
	return s
}
