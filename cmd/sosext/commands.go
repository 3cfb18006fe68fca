package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Psigio/LldbSosExts/internal/app"
	"github.com/Psigio/LldbSosExts/internal/script"
)

func newRSCCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "rsc <command...>",
		Short: "Run a debugger command and echo its output",
		Example: `  sosext --core core.1234 rsc clrthreads
  sosext --core core.1234 rsc dumpheap -stat`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			command := strings.Join(args, " ")
			return withApp(cmd, g, func(a *app.Application) error {
				if _, err := a.Ext().ExecuteTrackedCommand(command); err != nil {
					return app.NewOperationError("rsc", command, err)
				}
				return nil
			})
		},
	}
}

func newGFSCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "gfs [label]",
		Short: "Dump the last stack object matching label",
		Long: `gfs lists the objects on the current thread's stack and dumps the last
one whose type matches label. With no label the last stack object is
dumped.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			label := ""
			if len(args) == 1 {
				label = args[0]
			}
			return withApp(cmd, g, func(a *app.Application) error {
				if _, err := a.Ext().GetFromStack(label, true); err != nil {
					return app.NewOperationError("gfs", label, err)
				}
				return nil
			})
		},
	}
}

func newGFDCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "gfd <address> <field>",
		Short: "Print the raw value of a field",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, g, func(a *app.Application) error {
				if _, err := a.Ext().FieldOf(args[0], args[1]); err != nil {
					return app.NewOperationError("gfd", args[0], err)
				}
				return nil
			})
		},
	}
}

func newGKVDCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "gkvd <address>",
		Short: "Print the key/value slots of a dictionary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, g, func(a *app.Application) error {
				if _, err := a.Ext().KeyValues(args[0]); err != nil {
					return app.NewOperationError("gkvd", args[0], err)
				}
				return nil
			})
		},
	}
}

func newDKOCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "dko <address>",
		Short: "Decode a known object",
		Long: `dko decodes Boolean, String, TimeSpan, DateTime, SqlClient TimeoutTimer
(Microsoft.Data.ProviderBase.TimeoutTimer) and Dictionary objects,
expanding nested references. Anything else is printed as unknown with
its type name.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, g, func(a *app.Application) error {
				if _, err := a.Ext().DecodeKnownObject(args[0]); err != nil {
					return app.NewOperationError("dko", args[0], err)
				}
				return nil
			})
		},
	}
}

func newETECCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "etec",
		Short: "Decode the async-local values of the current thread",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, g, func(a *app.Application) error {
				if _, err := a.Ext().ExpandThreadLocalValues(); err != nil {
					return app.NewOperationError("etec", "", err)
				}
				return nil
			})
		},
	}
}

func newEOHCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "eoh <type> <action>",
		Short: "Apply an action to every heap object of a type",
		Long: `eoh resolves the method table of type and applies action to every
instance on the heap. The action "dko" decodes each object; any other
action is run as a debugger command with the object address appended.`,
		Example: `  sosext --core core.1234 eoh Microsoft.Data.ProviderBase.TimeoutTimer dko
  sosext --core core.1234 eoh MyApp.Order dumpobj`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, g, func(a *app.Application) error {
				if _, err := a.Ext().ScanHeapAndApply(args[0], args[1]); err != nil {
					return app.NewOperationError("eoh", args[0], err)
				}
				return nil
			})
		},
	}
}

func newDHBGCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "dhbg <type> <generation>",
		Short: "List heap objects of a type in one GC generation",
		Long: `dhbg lists instances of type living in generation 0, 1 or 2, the large
object heap (3 or loh) or the pinned object heap (4 or poh).`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, g, func(a *app.Application) error {
				if _, err := a.Ext().ScanHeapByGeneration(args[0], args[1]); err != nil {
					return app.NewOperationError("dhbg", args[0], err)
				}
				return nil
			})
		},
	}
}

func newScriptCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "script <file.lua>",
		Short: "Run a Lua script against the target",
		Long: `script runs a Lua file with the "sos" module available, either as the
global sos or through require("sos").`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, g, func(a *app.Application) error {
				if err := a.Scripts().RunFile(cmd.Context(), args[0]); err != nil {
					return app.NewOperationError("script", args[0], err)
				}
				return nil
			})
		},
	}
}

func newWatchCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <file.lua>",
		Short: "Re-run a Lua script every time it is saved",
		Long: `watch runs the script once, then again after each change to the file,
until interrupted. Script errors are logged and do not stop the watch.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			return withApp(cmd, g, func(a *app.Application) error {
				run := func(ctx context.Context) error {
					return a.Scripts().RunFile(ctx, path)
				}
				err := script.Watch(cmd.Context(), path, run,
					script.WithDebounce(a.Config().Scripts.WatchDebounce),
					script.WithWatchLogger(a.Logger().WithComponent("watch")),
				)
				if err != nil {
					return app.NewOperationError("watch", path, err)
				}
				return nil
			})
		},
	}
}
