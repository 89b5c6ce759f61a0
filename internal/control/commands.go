package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"snapkey/internal/config"
	"snapkey/internal/doctor"
	"snapkey/internal/hotkey"
	"snapkey/internal/instance"
	"snapkey/internal/ipc"
	"snapkey/internal/logging"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

// loadConfig resolves and loads the config for read-only commands. A
// malformed file is reported but the defaults are still usable.
func loadConfig(cmd *cobra.Command, cfgPath string) (*config.Config, error) {
	cfg, err := config.Load(config.ResolvePath(cfgPath))
	if cfg == nil {
		return nil, err
	}
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
	}
	return cfg, nil
}

// NewStatusCmd reports whether an instance is running.
func NewStatusCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show instance status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, *cfgPath)
			if err != nil {
				return err
			}
			status := Status{
				Running:   instance.Held(cfg.PIDPath()),
				Listening: ipc.Probe(cmd.Context(), cfg.IPCAddr()),
				Addr:      cfg.IPCAddr(),
				Config:    cfg.Paths.ConfigPath,
				LogFile:   filepath.Join(config.ExpandPath(cfg.LogsPath), logging.LatestName),
				Bindings:  map[string]string{},
			}
			if status.Running {
				status.PID, _ = instance.ReadPID(cfg.PIDPath())
			}
			for _, a := range hotkey.Actions() {
				status.Bindings[string(a)] = hotkey.KeyFor(cfg, a)
			}
			out := cmd.OutOrStdout()
			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				return json.NewEncoder(out).Encode(status)
			}
			fmt.Fprintf(out, "running: %v", status.Running)
			if status.PID != 0 {
				fmt.Fprintf(out, " (pid %d)", status.PID)
			}
			fmt.Fprintf(out, "\nipc: %s listening=%v\nconfig: %s\nlog: %s\n", status.Addr, status.Listening, status.Config, status.LogFile)
			for _, a := range hotkey.Actions() {
				fmt.Fprintf(out, "%-12s %s\n", a, status.Bindings[string(a)])
			}
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "output JSON")
	return cmd
}

// NewTailLogCmd prints the end of the current run's log.
func NewTailLogCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail-log",
		Short: "Show the last log lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, *cfgPath)
			if err != nil {
				return err
			}
			n, _ := cmd.Flags().GetInt("lines")
			return tailFile(cmd.OutOrStdout(), filepath.Join(config.ExpandPath(cfg.LogsPath), logging.LatestName), n)
		},
	}
	cmd.Flags().IntP("lines", "n", 50, "number of lines")
	return cmd
}

func tailFile(w io.Writer, path string, n int) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	lines := strings.Split(string(data), "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			fmt.Fprintln(w, l)
		}
	}
	return nil
}

// NewDoctorCmd runs environment checks.
func NewDoctorCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check config, displays and the IPC port",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.ResolvePath(*cfgPath))
			if cfg == nil {
				return err
			}
			results := doctor.Run(cmd.Context(), cfg, err)
			failed := false
			for _, r := range results {
				status := "ok"
				if !r.Pass {
					status = "fail"
					failed = true
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-16s %-4s %s\n", r.Name, status, r.Detail)
			}
			if failed {
				return fmt.Errorf("doctor found issues")
			}
			return nil
		},
	}
}

// NewConfigCmd prints the merged config.
func NewConfigCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, *cfgPath)
			if err != nil {
				return err
			}
			if pathOnly, _ := cmd.Flags().GetBool("path"); pathOnly {
				fmt.Fprintln(cmd.OutOrStdout(), cfg.Paths.ConfigPath)
				return nil
			}
			out, err := toml.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	cmd.Flags().Bool("path", false, "print only the config file path")
	return cmd
}

// NewBindCmd changes a hotkey in the config file. A running instance picks
// the change up through its file watcher.
func NewBindCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "bind <capture|open-folder> <key>",
		Short: "Change a hotkey (e.g. bind capture ctrl+shift+s)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			action, err := hotkey.ParseAction(args[0])
			if err != nil {
				return err
			}
			key, err := hotkey.ParseKey(args[1])
			if err != nil {
				return err
			}
			cfg, err := config.Load(config.ResolvePath(*cfgPath))
			if err != nil {
				if errors.Is(err, config.ErrMalformed) {
					return fmt.Errorf("refusing to overwrite: %w", err)
				}
				if cfg == nil {
					return err
				}
			}
			store := config.NewStore(cfg)
			if _, err := store.Update(func(c *config.Config) { hotkey.SetKey(c, action, key.String()) }); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s bound to %s in %s\n", action, key, store.Path())
			if ipc.Probe(cmd.Context(), cfg.IPCAddr()) {
				fmt.Fprintln(cmd.OutOrStdout(), "the running instance will re-register its hotkeys")
			}
			return nil
		},
	}
}
