// Package app wires the configured debugger session, command channel,
// decoders and operations into one Application.
package app

import (
	"errors"
	"io"
	"os"
	"sync"

	"github.com/Psigio/LldbSosExts/internal/config"
	"github.com/Psigio/LldbSosExts/internal/integration/process"
	"github.com/Psigio/LldbSosExts/internal/script"
	"github.com/Psigio/LldbSosExts/internal/sos/channel"
	"github.com/Psigio/LldbSosExts/internal/sos/expand"
	"github.com/Psigio/LldbSosExts/internal/sos/ext"
	"github.com/Psigio/LldbSosExts/internal/sos/heap"
	"github.com/Psigio/LldbSosExts/internal/sos/session"
)

// Options configures the application. Non-empty fields override the
// loaded configuration.
type Options struct {
	// ConfigPath is the config file. Empty uses the default location.
	ConfigPath string

	// Config skips loading when set.
	Config *config.Config

	LogLevel string
	LLDBPath string
	Plugin   string

	// Target, Core and PID select what the debugger opens.
	Target string
	Core   string
	PID    int

	// ReplayPath answers commands from a recorded transcript instead of
	// starting the debugger.
	ReplayPath string

	// RecordPath saves every exchange to a transcript on Shutdown.
	RecordPath string

	// JSON renders every decoded value as JSON.
	JSON bool

	// Color highlights JSON output.
	Color bool

	// Output receives operation results. Defaults to os.Stdout.
	Output io.Writer

	// LogOutput receives log lines. Defaults to os.Stderr.
	LogOutput io.Writer

	// Session replaces the debugger session entirely.
	Session session.Session
}

// overrides returns the config layer set by the options.
func (o Options) overrides() map[string]any {
	m := map[string]any{}
	if o.LogLevel != "" {
		m["logging.level"] = o.LogLevel
	}
	if o.LLDBPath != "" {
		m["debugger.path"] = o.LLDBPath
	}
	if o.Plugin != "" {
		m["debugger.plugin"] = o.Plugin
	}
	return m
}

// Application owns every component of one debugging session.
type Application struct {
	cfg    *config.Config
	logger *Logger
	out    io.Writer

	supervisor *process.Supervisor
	lldb       *session.LLDB
	recorder   *session.Recorder
	session    session.Session
	channel    *channel.Channel

	expander *expand.Expander
	scanner  *heap.Scanner
	ext      *ext.Ext
	scripts  *script.Host

	recordPath string

	shutdownOnce sync.Once
	shutdownErr  error
}

// New builds the application. On error every component already started
// is shut down again.
func New(opts Options) (*Application, error) {
	a := &Application{out: opts.Output, recordPath: opts.RecordPath}
	if a.out == nil {
		a.out = os.Stdout
	}
	if err := a.bootstrap(opts); err != nil {
		_ = a.Shutdown()
		return nil, err
	}
	return a, nil
}

// bootstrap starts the components in dependency order.
func (a *Application) bootstrap(opts Options) error {
	// 1. Configuration
	cfg := opts.Config
	if cfg == nil {
		var err error
		cfg, err = config.Load(config.LoadOptions{Path: opts.ConfigPath, Overrides: opts.overrides()})
		if err != nil {
			return NewComponentError("config", "load", err)
		}
	}
	a.cfg = cfg

	// 2. Logging
	a.logger = NewLogger(LoggerConfig{
		Level:  ParseLogLevel(cfg.Logging.Level),
		Output: opts.LogOutput,
		Prefix: "sosext",
	})
	a.logger.Debug("configuration from %v", cfg.Sources)

	loc, err := cfg.Decode.Location()
	if err != nil {
		return NewComponentError("config", "timezone", err)
	}

	// 3. Session
	if err := a.openSession(opts); err != nil {
		return err
	}
	if opts.RecordPath != "" {
		a.recorder = session.NewRecorder(a.session)
		a.session = a.recorder
	}

	// 4. Channel
	a.channel = channel.New(a.session,
		channel.WithStagingDir(cfg.Capture.StagingDir),
		channel.WithEcho(a.out),
		channel.WithLogger(a.logger.WithComponent("channel")),
	)

	// 5. Decoding and operations
	a.expander = expand.New(a.channel, nil,
		expand.WithMaxDepth(cfg.Expand.MaxDepth),
		expand.WithLocation(loc),
		expand.WithLogger(a.logger.WithComponent("expand")),
	)
	a.scanner = heap.NewScanner(a.channel, a.expander,
		heap.WithModule(cfg.Heap.Module),
		heap.WithLogger(a.logger.WithComponent("heap")),
	)
	a.ext = ext.New(a.channel, a.expander, a.scanner,
		ext.WithOutput(a.out),
		ext.WithEcho(cfg.Capture.Echo),
		ext.WithRenderer(NewRenderer(opts.JSON, opts.Color)),
		ext.WithLogger(a.logger.WithComponent("ext")),
	)

	// 6. Scripting
	a.scripts = script.NewHost(a.ext,
		script.WithOutput(a.out),
		script.WithRunTimeout(cfg.Scripts.Timeout),
		script.WithLogger(a.logger.WithComponent("script")),
	)
	return nil
}

func (a *Application) openSession(opts Options) error {
	switch {
	case opts.Session != nil:
		a.session = opts.Session

	case opts.ReplayPath != "":
		t, err := session.LoadTranscript(opts.ReplayPath)
		if err != nil {
			return NewComponentError("session", "load transcript", err)
		}
		a.logger.Debug("replaying %d exchanges from %s", len(t.Commands), opts.ReplayPath)
		a.session = session.NewReplay(t)

	case opts.Core != "" || opts.PID > 0:
		if opts.Core != "" && opts.PID > 0 {
			return NewComponentError("session", "start", errors.New("--core and --pid are exclusive"))
		}
		a.supervisor = process.NewSupervisor(process.WithGracePeriod(a.cfg.Debugger.StopTimeout))
		l, err := session.NewLLDB(a.supervisor, session.LLDBConfig{
			Path:          a.cfg.Debugger.Path,
			Args:          a.cfg.Debugger.Args,
			Plugin:        a.cfg.Debugger.Plugin,
			Target:        opts.Target,
			Core:          opts.Core,
			PID:           opts.PID,
			InitCommands:  a.cfg.Debugger.InitCommands,
			MarkerCommand: a.cfg.Debugger.MarkerCommand,
			StopTimeout:   a.cfg.Debugger.StopTimeout,
		}, a.logger.WithComponent("lldb").WithField("path", a.cfg.Debugger.Path))
		if err != nil {
			return NewComponentError("session", "start", err)
		}
		a.lldb = l
		a.session = l

	default:
		return NewComponentError("session", "", ErrNoTarget)
	}
	return nil
}

// Config returns the resolved configuration.
func (a *Application) Config() *config.Config { return a.cfg }

// Logger returns the application logger.
func (a *Application) Logger() *Logger { return a.logger }

// Ext returns the operations.
func (a *Application) Ext() *ext.Ext { return a.ext }

// Scripts returns the Lua host.
func (a *Application) Scripts() *script.Host { return a.scripts }

// Shutdown closes the channel, saves the recording, stops the debugger and
// waits for every child process. It is safe to call more than once.
func (a *Application) Shutdown() error {
	a.shutdownOnce.Do(func() {
		var errs []error
		if a.channel != nil {
			if err := a.channel.Close(); err != nil {
				errs = append(errs, NewComponentError("channel", "close", err))
			}
		}
		if a.recorder != nil {
			if err := a.recorder.Save(a.recordPath); err != nil {
				errs = append(errs, NewComponentError("session", "save recording", err))
			} else if a.logger != nil {
				a.logger.Info("recorded %d exchanges to %s", len(a.recorder.Transcript().Commands), a.recordPath)
			}
		}
		if a.lldb != nil {
			if err := a.lldb.Close(); err != nil {
				errs = append(errs, NewComponentError("session", "close", err))
			}
		}
		if a.supervisor != nil {
			a.supervisor.Shutdown()
		}
		a.shutdownErr = errors.Join(errs...)
	})
	return a.shutdownErr
}
