package main

import (
	"fmt"
	"os"

	"snapkey/internal/control"
	"snapkey/internal/daemon"
	"snapkey/internal/logging"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		logging.Fallback().Errorf("%v", err)
		os.Exit(1)
	}
}

func run() error {
	var cfgPath *string
	root := &cobra.Command{
		Use:   "snapkey",
		Short: "snapkey — screenshot hotkeys in the tray",
		Long: `snapkey stays in the tray, captures the display under the pointer when you press
the screenshot key (default F10) and opens the screenshots folder on F9.

Launching it again while it runs opens the settings of the running instance.

Key commands:
  run [--no-tray]           Run in the foreground (default with no command)
  start|stop|restart        Background lifecycle
  settings|capture|open-folder|quit  Send a request to the running instance
  bind <action> <key>       Change a hotkey
  status [--json]           Instance state and bindings
  doctor|config|tail-log    Diagnostics

Notable env:
  SNAPKEY_CONFIG, SNAPKEY_LOG_LEVEL/FORMAT, SNAPKEY_IPC_PORT, SNAPKEY_METRICS_ADDR`,
		Example: `  snapkey
  snapkey bind capture ctrl+shift+s
  snapkey capture
  snapkey run --no-tray --metrics-addr 127.0.0.1:9318`,
		DisableFlagsInUseLine: true,
		SilenceUsage:          true,
		SilenceErrors:         true,
		Args:                  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			noTray, _ := cmd.Flags().GetBool("no-tray")
			return daemon.Run(cmd, *cfgPath, noTray)
		},
	}

	root.Version = version
	root.SetVersionTemplate("snapkey v{{.Version}}\n")

	cfgPath = root.PersistentFlags().StringP("config", "c", "", "Path to config file (TOML). Defaults to $SNAPKEY_CONFIG or ~/.config/snapkey/config.toml")
	daemon.AddRunFlags(root)
	root.CompletionOptions.DisableDefaultCmd = true

	root.AddCommand(daemon.NewRunCmd(cfgPath))
	root.AddCommand(daemon.NewStartCmd(cfgPath))
	root.AddCommand(daemon.NewStopCmd(cfgPath))
	root.AddCommand(daemon.NewRestartCmd(cfgPath))
	root.AddCommand(control.ActionCmds(cfgPath)...)
	root.AddCommand(control.NewBindCmd(cfgPath))
	root.AddCommand(control.NewStatusCmd(cfgPath))
	root.AddCommand(control.NewTailLogCmd(cfgPath))
	root.AddCommand(control.NewDoctorCmd(cfgPath))
	root.AddCommand(control.NewConfigCmd(cfgPath))

	applyColorHelp(root)

	return root.Execute()
}

func applyColorHelp(root *cobra.Command) {
	const (
		boldBlue = "\033[1;34m"
		green    = "\033[32m"
		bold     = "\033[1m"
		dim      = "\033[2m"
		reset    = "\033[0m"
	)
	root.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		if cmd != root {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), cmd.UsageString())
			return
		}
		out := cmd.OutOrStdout()
		write := func(format string, args ...any) { _, _ = fmt.Fprintf(out, format, args...) }
		writeln := func(line string) { _, _ = fmt.Fprintln(out, line) }

		write("%ssnapkey%s — screenshot hotkeys in the tray %s(v%s)%s\n", boldBlue, reset, dim, version, reset)
		write("%sOne resident instance owns the hotkeys; later launches hand off to it.%s\n\n", dim, reset)

		write("%sUsage%s\n", bold, reset)
		write("  snapkey [command] [flags]\n\n")

		write("%sNotable flags & env%s\n", bold, reset)
		writeln("  --no-tray               run without a tray icon")
		writeln("  --metrics-addr <addr>   enable /metrics")
		writeln("  -c, --config <path>     config file (default ~/.config/snapkey/config.toml)")
		writeln("  Env: SNAPKEY_CONFIG=path, SNAPKEY_LOG_LEVEL=debug, SNAPKEY_LOG_FORMAT=json,")
		writeln("       SNAPKEY_IPC_PORT=48321, SNAPKEY_METRICS_ADDR=host:port")
		writeln("")

		write("%sExamples%s\n", bold, reset)
		writeln("  snapkey")
		writeln("  snapkey bind capture ctrl+shift+s")
		writeln("  snapkey bind open-folder f9")
		writeln("  snapkey capture")
		writeln("  snapkey status --json")
		writeln("")

		write("%sCommands%s\n", bold, reset)
		for _, c := range cmd.Commands() {
			if c.Hidden {
				continue
			}
			write("  %s%-15s%s %s\n", green, c.Name(), reset, c.Short)
		}
	})
}
