package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"snapkey/internal/app"
	"snapkey/internal/config"
	"snapkey/internal/instance"
	"snapkey/internal/ipc"
	"snapkey/internal/logging"
	"snapkey/internal/tray"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// NewRunCmd runs snapkey in the foreground. It is also what the bare
// `snapkey` invocation does.
func NewRunCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run snapkey (or hand off to the running instance)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			noTray, _ := cmd.Flags().GetBool("no-tray")
			return Run(cmd, *cfgPath, noTray)
		},
	}
	AddRunFlags(cmd)
	return cmd
}

// AddRunFlags registers the flags Run reads.
func AddRunFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("no-tray", false, "run without a tray icon; quit with Ctrl+C or `snapkey quit`")
	cmd.Flags().String("metrics-addr", "", "enable metrics at address (e.g., 127.0.0.1:9318) for this run")
}

// Run loads the config and starts the app.
func Run(cmd *cobra.Command, cfgPath string, noTray bool) error {
	if f := cmd.Flags().Lookup("metrics-addr"); f != nil && f.Value.String() != "" {
		if err := os.Setenv("SNAPKEY_METRICS_ADDR", f.Value.String()); err != nil {
			return fmt.Errorf("set SNAPKEY_METRICS_ADDR: %w", err)
		}
	}
	cfg, loadErr := config.Load(config.ResolvePath(cfgPath))
	if cfg == nil {
		return loadErr
	}
	boot := logging.Fallback()
	if loadErr != nil {
		boot.Warnf("config: %v; continuing with defaults", loadErr)
	}
	opts := app.Options{
		NoTray: noTray,
		RunLogger: func() (*logrus.Logger, error) {
			l, err := logging.Configure(cfg)
			if err == nil && loadErr != nil {
				l.Warnf("config: %v; continuing with defaults", loadErr)
			}
			return l, err
		},
	}
	if !noTray {
		opts.Tray = func(ctx context.Context, a *app.App, ready func()) error {
			return tray.Run(ctx, a, ready, a.Logger())
		}
	}
	return app.Run(cmd.Context(), cfg, boot, opts)
}

// NewStartCmd starts snapkey in the background.
func NewStartCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start snapkey in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.ResolvePath(*cfgPath))
			if cfg == nil {
				return err
			}
			if err := ensureNotRunning(cfg); err != nil {
				return err
			}
			self, err := os.Executable()
			if err != nil {
				return err
			}
			childArgs := []string{"run", "--config", cfg.Paths.ConfigPath}
			if noTray, _ := cmd.Flags().GetBool("no-tray"); noTray {
				childArgs = append(childArgs, "--no-tray")
			}
			if addr := cmd.Flag("metrics-addr").Value.String(); addr != "" {
				childArgs = append(childArgs, "--metrics-addr", addr)
			}
			child := exec.Command(self, childArgs...)
			child.Stdout = os.Stdout
			child.Stderr = os.Stderr
			if err := child.Start(); err != nil {
				return err
			}
			// Wait a moment and confirm the pid file appears.
			for waited := 0; waited < 20; waited++ {
				if instance.Held(cfg.PIDPath()) {
					break
				}
				time.Sleep(100 * time.Millisecond)
			}
			fmt.Printf("snapkey started (pid %d)\n", child.Process.Pid)
			return child.Process.Release()
		},
	}
	AddRunFlags(cmd)
	return cmd
}

// NewStopCmd asks the running instance to quit.
func NewStopCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.ResolvePath(*cfgPath))
			if cfg == nil {
				return err
			}
			if err := stop(cmd, cfg); err != nil {
				return err
			}
			fmt.Println("stop requested")
			return nil
		},
	}
}

// stop prefers the QUIT request and falls back to signalling the pid.
func stop(cmd *cobra.Command, cfg *config.Config) error {
	err := ipc.Send(cmd.Context(), cfg.IPCAddr(), ipc.ActionQuit)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ipc.ErrNotListening) {
		return err
	}
	pid, perr := instance.ReadPID(cfg.PIDPath())
	if perr != nil {
		return fmt.Errorf("snapkey is not running: %w", err)
	}
	proc, perr := os.FindProcess(pid)
	if perr != nil {
		return perr
	}
	return terminate(proc)
}

// NewRestartCmd stops then starts.
func NewRestartCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart snapkey in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			stopCmd := NewStopCmd(cfgPath)
			stopCmd.SetContext(cmd.Context())
			_ = stopCmd.RunE(stopCmd, args) // ignore error if not running

			cfg, err := config.Load(config.ResolvePath(*cfgPath))
			if cfg == nil {
				return err
			}
			if err := waitForShutdown(cfg, 5*time.Second); err != nil {
				return err
			}

			startCmd := NewStartCmd(cfgPath)
			startCmd.SetContext(cmd.Context())
			for _, name := range []string{"no-tray", "metrics-addr"} {
				if f := cmd.Flag(name); f != nil && f.Changed {
					_ = startCmd.Flags().Set(name, f.Value.String())
				}
			}
			return startCmd.RunE(startCmd, args)
		},
	}
	AddRunFlags(cmd)
	return cmd
}

func ensureNotRunning(cfg *config.Config) error {
	if !instance.Held(cfg.PIDPath()) {
		return nil
	}
	if pid, err := instance.ReadPID(cfg.PIDPath()); err == nil {
		return fmt.Errorf("already running with pid %d", pid)
	}
	return errors.New("already running")
}

// waitForShutdown polls until the pid lock is released.
func waitForShutdown(cfg *config.Config, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !instance.Held(cfg.PIDPath()) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("restart: snapkey did not stop within %s", timeout)
}
