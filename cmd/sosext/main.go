// Command sosext decodes managed objects in a .NET process or dump through
// LLDB and the SOS plugin.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Psigio/LldbSosExts/internal/app"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// globalFlags are the persistent flags shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
	lldb       string
	plugin     string
	target     string
	core       string
	pid        int
	replay     string
	record     string
	json       bool
	color      string
}

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var g globalFlags

	root := &cobra.Command{
		Use:   "sosext",
		Short: "Decode .NET managed objects through LLDB and SOS",
		Long: `sosext drives LLDB with the SOS plugin loaded and turns its text output
into decoded values: booleans, strings, time spans, dates, timeout timers
and dictionaries, expanded recursively.

Open a dump with --core, attach with --pid, or answer from a recorded
transcript with --replay.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if g.logLevel != "" && !app.ValidLogLevel(g.logLevel) {
				return fmt.Errorf("invalid log level %q (must be debug, info, warn, or error)", g.logLevel)
			}
			switch g.color {
			case "auto", "always", "never":
			default:
				return fmt.Errorf("invalid --color %q (must be auto, always, or never)", g.color)
			}
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&g.configPath, "config", "c", "", "Path to configuration file (TOML or YAML)")
	pf.StringVar(&g.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.StringVar(&g.lldb, "lldb", "", "Path to the lldb executable")
	pf.StringVar(&g.plugin, "plugin", "", "Path to the SOS plugin library")
	pf.StringVar(&g.target, "target", "", "Executable matching the dump")
	pf.StringVar(&g.core, "core", "", "Core dump to open")
	pf.IntVar(&g.pid, "pid", 0, "Process to attach to")
	pf.StringVar(&g.replay, "replay", "", "Answer commands from a recorded transcript")
	pf.StringVar(&g.record, "record", "", "Record every exchange to a transcript")
	pf.BoolVar(&g.json, "json", false, "Print decoded values as JSON")
	pf.StringVar(&g.color, "color", "auto", "Colour JSON output: auto, always, never")

	root.AddCommand(
		newRSCCmd(&g),
		newGFSCmd(&g),
		newGFDCmd(&g),
		newGKVDCmd(&g),
		newDKOCmd(&g),
		newETECCmd(&g),
		newEOHCmd(&g),
		newDHBGCmd(&g),
		newScriptCmd(&g),
		newWatchCmd(&g),
		newVersionCmd(),
	)
	return root
}

func (g *globalFlags) options(cmd *cobra.Command) app.Options {
	return app.Options{
		Output:     cmd.OutOrStdout(),
		LogOutput:  cmd.ErrOrStderr(),
		ConfigPath: g.configPath,
		LogLevel:   g.logLevel,
		LLDBPath:   g.lldb,
		Plugin:     g.plugin,
		Target:     g.target,
		Core:       g.core,
		PID:        g.pid,
		ReplayPath: g.replay,
		RecordPath: g.record,
		JSON:       g.json,
		Color:      g.useColor(),
	}
}

func (g *globalFlags) useColor() bool {
	switch g.color {
	case "always":
		return true
	case "never":
		return false
	}
	return term.IsTerminal(int(os.Stdout.Fd())) && os.Getenv("NO_COLOR") == ""
}

// withApp builds the application, runs fn and shuts down. A shutdown
// failure is reported only when fn succeeded.
func withApp(cmd *cobra.Command, g *globalFlags, fn func(a *app.Application) error) (err error) {
	a, err := app.New(g.options(cmd))
	if err != nil {
		return err
	}
	defer func() {
		if serr := a.Shutdown(); serr != nil && err == nil {
			err = serr
		}
	}()
	return fn(a)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "sosext %s\n", version)
			fmt.Fprintf(out, "Commit: %s\n", commit)
			fmt.Fprintf(out, "Built: %s\n", date)
			return nil
		},
	}
}
